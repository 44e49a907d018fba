/*
Copyright 2025 The goARRG Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package inflight

/*
Device is the part of the graphics binding layer the caches drive. Create calls may block,
Destroy calls are made exactly once per handle and never while a dependent pipeline is cached.
*/
type Device interface {
	CreateShaderModule(label string, stage ShaderStage, entryPoint string, spirv []uint32) (ShaderModule, error)
	DestroyShaderModule(m ShaderModule)
	CreatePipeline(desc *PipelineDesc) (Pipeline, error)
	DestroyPipeline(p Pipeline)
}

// ShaderModule is an opaque handle owned by the Device.
type ShaderModule uint64

// Pipeline is an opaque handle owned by the Device.
type Pipeline uint64
