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

import (
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/gogpu/gputypes"
	"goarrg.com/debug"
)

/*
PipelineState is the full fixed function and shader state of a pipeline, it is the cache key.
A compute pipeline sets only Compute, a graphics pipeline sets Vertex and optionally Fragment.
*/
type PipelineState struct {
	Label string

	Vertex   ShaderKey
	Fragment ShaderKey
	Compute  ShaderKey

	Topology  gputypes.PrimitiveTopology
	FrontFace gputypes.FrontFace
	CullMode  gputypes.CullMode

	ColorFormat gputypes.TextureFormat
	DepthFormat gputypes.TextureFormat

	DepthTest    bool
	DepthWrite   bool
	DepthCompare gputypes.CompareFunction

	// 0 is treated as 1
	SampleCount uint32
	LineWidth   float32
	BlendEnable bool
}

func (s PipelineState) IsCompute() bool {
	return !s.Compute.empty()
}

func (s PipelineState) id() string {
	return genID(s.Label, toHex(hashString(fmt.Sprintf("%#v", s))))
}

func (s PipelineState) validate() error {
	if s.IsCompute() {
		if !s.Vertex.empty() || !s.Fragment.empty() {
			return debug.Errorf("Compute pipeline %q has graphics shaders", s.Label)
		}
		if s.Compute.Stage != ShaderStageCompute {
			return debug.Errorf("Compute pipeline %q given a %s shader", s.Label, s.Compute.Stage)
		}
		return nil
	}

	if s.Vertex.empty() {
		return debug.Errorf("Graphics pipeline %q has no vertex shader", s.Label)
	}
	if s.Vertex.Stage != ShaderStageVertex {
		return debug.Errorf("Graphics pipeline %q given a %s shader as vertex shader", s.Label, s.Vertex.Stage)
	}
	if !s.Fragment.empty() && s.Fragment.Stage != ShaderStageFragment {
		return debug.Errorf("Graphics pipeline %q given a %s shader as fragment shader", s.Label, s.Fragment.Stage)
	}
	if s.SampleCount > 64 || bits.OnesCount32(s.SampleCount) > 1 {
		return debug.Errorf("Graphics pipeline %q has invalid sample count: %d", s.Label, s.SampleCount)
	}
	if s.LineWidth < 0 || math.IsNaN(float64(s.LineWidth)) || math.IsInf(float64(s.LineWidth), 0) {
		return debug.Errorf("Graphics pipeline %q has invalid line width: %f", s.Label, s.LineWidth)
	}
	if (s.DepthTest || s.DepthWrite) && s.DepthFormat == gputypes.TextureFormatUndefined {
		return debug.Errorf("Graphics pipeline %q tests or writes depth without a depth format", s.Label)
	}
	return nil
}

// PipelineDesc is what the Device receives to create a pipeline, unused stages are 0.
type PipelineDesc struct {
	State    PipelineState
	Vertex   ShaderModule
	Fragment ShaderModule
	Compute  ShaderModule
}

/*
PipelineCache builds pipelines from PipelineStates. Shaders are acquired through its
ShaderCache as dependencies, so they stay resident for as long as the pipeline does.
*/
type PipelineCache struct {
	device  Device
	shaders *ShaderCache
	cache   *ObjectCache[PipelineState, Pipeline]
}

func NewPipelineCache(device Device, shaders *ShaderCache, opts ...CacheOption) (*PipelineCache, error) {
	if device == nil {
		return nil, debug.Errorf("Nil Device")
	}
	if shaders == nil {
		return nil, debug.Errorf("Nil ShaderCache")
	}
	p := &PipelineCache{device: device, shaders: shaders}
	opts = append([]CacheOption{WithKeyID(func(key any) string {
		state := key.(PipelineState)
		return state.id()
	})}, opts...)
	cache, err := NewObjectCache("pipelines", p.build, opts...)
	if err != nil {
		return nil, err
	}
	p.cache = cache
	return p, nil
}

func (p *PipelineCache) build(state PipelineState, deps *Dependencies) (Pipeline, Destroyer, error) {
	if err := state.validate(); err != nil {
		return 0, nil, err
	}

	desc := PipelineDesc{State: state}
	stages := []struct {
		key    ShaderKey
		module *ShaderModule
	}{
		{state.Vertex, &desc.Vertex},
		{state.Fragment, &desc.Fragment},
		{state.Compute, &desc.Compute},
	}
	for _, stage := range stages {
		if stage.key.empty() {
			continue
		}
		m, err := p.shaders.AcquireFor(deps, stage.key)
		if err != nil {
			return 0, nil, debug.ErrorWrapf(err, "Failed to acquire %s shader for pipeline %q", stage.key.Stage, state.Label)
		}
		*stage.module = m
	}

	pipeline, err := p.device.CreatePipeline(&desc)
	if err != nil {
		return 0, nil, debug.ErrorWrapf(err, "Failed to create pipeline %q", state.Label)
	}
	instance.logger.VPrintf("Created pipeline %q: %s", state.Label, toHex(pipeline))
	return pipeline, DestroyFunc(func() { p.device.DestroyPipeline(pipeline) }), nil
}

func (p *PipelineCache) Acquire(state PipelineState) (Pipeline, error) {
	return p.cache.Acquire(state)
}

func (p *PipelineCache) Flush(now time.Time) int {
	return p.cache.Flush(now)
}

func (p *PipelineCache) Clear() int {
	return p.cache.Clear()
}

func (p *PipelineCache) Cache() *ObjectCache[PipelineState, Pipeline] {
	return p.cache
}

func (p *PipelineCache) MarshalJSON() ([]byte, error) {
	return p.cache.MarshalJSON()
}
