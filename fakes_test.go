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
	"errors"
	"sync"
	"time"
)

type fakeClock struct {
	mtx sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.now
}

func (c *fakeClock) Set(d time.Duration) time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.now = time.Unix(0, 0).Add(d)
	return c.now
}

type fakeFence struct {
	waits int
}

func (f *fakeFence) Wait()      { f.waits++ }
func (f *fakeFence) Poll() bool { return f.waits > 0 }

type fakeCommandBuffer struct {
	recording bool
	begins    int
	submits   int
	lastSync  *SyncGroup
	beginErr  error
	submitErr error
}

func (b *fakeCommandBuffer) ResetAndBegin() error {
	if b.beginErr != nil {
		return b.beginErr
	}
	b.begins++
	b.recording = true
	return nil
}

func (b *fakeCommandBuffer) EndAndSubmit(sync *SyncGroup) error {
	b.recording = false
	if b.submitErr != nil {
		return b.submitErr
	}
	b.submits++
	b.lastSync = sync
	return nil
}

func (b *fakeCommandBuffer) Recording() bool {
	return b.recording
}

var errFakeDevice = errors.New("fake device failure")

type fakeDevice struct {
	mtx sync.Mutex

	next      uint64
	shaders   map[ShaderModule]ShaderStage
	pipelines map[Pipeline]PipelineDesc

	shaderCreates    int
	shaderDestroys   int
	pipelineCreates  int
	pipelineDestroys int
	destroyLog       []string

	failShaders   bool
	failPipelines bool
	slowCreate    time.Duration
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		shaders:   make(map[ShaderModule]ShaderStage),
		pipelines: make(map[Pipeline]PipelineDesc),
	}
}

func (d *fakeDevice) CreateShaderModule(label string, stage ShaderStage, entryPoint string, spirv []uint32) (ShaderModule, error) {
	if d.slowCreate > 0 {
		time.Sleep(d.slowCreate)
	}
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.failShaders {
		return 0, errFakeDevice
	}
	d.next++
	m := ShaderModule(d.next)
	d.shaders[m] = stage
	d.shaderCreates++
	return m, nil
}

func (d *fakeDevice) DestroyShaderModule(m ShaderModule) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if _, ok := d.shaders[m]; !ok {
		panic("double destroy of shader module")
	}
	delete(d.shaders, m)
	d.shaderDestroys++
	d.destroyLog = append(d.destroyLog, "shader")
}

func (d *fakeDevice) CreatePipeline(desc *PipelineDesc) (Pipeline, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.failPipelines {
		return 0, errFakeDevice
	}
	for _, m := range []ShaderModule{desc.Vertex, desc.Fragment, desc.Compute} {
		if _, ok := d.shaders[m]; m != 0 && !ok {
			panic("pipeline created from a dead shader module")
		}
	}
	d.next++
	p := Pipeline(d.next)
	d.pipelines[p] = *desc
	d.pipelineCreates++
	return p, nil
}

func (d *fakeDevice) DestroyPipeline(p Pipeline) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if _, ok := d.pipelines[p]; !ok {
		panic("double destroy of pipeline")
	}
	delete(d.pipelines, p)
	d.pipelineDestroys++
	d.destroyLog = append(d.destroyLog, "pipeline")
}

func (d *fakeDevice) live() (shaders, pipelines int) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return len(d.shaders), len(d.pipelines)
}

// fakeCompiler returns a minimal SPIR-V header, it never looks at the source.
var fakeCompiler = ShaderCompilerFunc(func(key ShaderKey) ([]uint32, error) {
	if key.Code == "broken" {
		return nil, errors.New("syntax error")
	}
	return []uint32{spirvMagic, 0x00010000, 0, 1, 0}, nil
})
