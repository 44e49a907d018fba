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
	"bytes"
	"fmt"
	"time"
)

// Caches owns a ShaderCache and the PipelineCache built on it.
type Caches struct {
	Shaders   *ShaderCache
	Pipelines *PipelineCache
}

func NewCaches(device Device, compiler ShaderCompiler, opts ...CacheOption) (*Caches, error) {
	shaders, err := NewShaderCache(device, compiler, opts...)
	if err != nil {
		return nil, err
	}
	pipelines, err := NewPipelineCache(device, shaders, opts...)
	if err != nil {
		return nil, err
	}
	return &Caches{Shaders: shaders, Pipelines: pipelines}, nil
}

/*
Flush flushes pipelines before shaders, so a shader kept alive only by a pipeline evicted
in this pass is evicted too.
*/
func (c *Caches) Flush(now time.Time) (pipelines, shaders int) {
	pipelines = c.Pipelines.Flush(now)
	shaders = c.Shaders.Flush(now)
	return pipelines, shaders
}

func (c *Caches) Clear() {
	c.Pipelines.Clear()
	c.Shaders.Clear()
}

func (c *Caches) SetTimeout(d time.Duration) {
	c.Pipelines.Cache().SetTimeout(d)
	c.Shaders.Cache().SetTimeout(d)
}

func (c *Caches) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")
	{
		buff.WriteString(fmt.Sprintf("%q: %s,", "pipelines", jsonString(c.Pipelines)))
		buff.WriteString(fmt.Sprintf("%q: %s", "shaders", jsonString(c.Shaders)))
	}
	buff.WriteString("}")
	return buff.Bytes(), nil
}
