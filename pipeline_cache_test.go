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
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opaqueState(label string) PipelineState {
	return PipelineState{
		Label:        label,
		Vertex:       vertexKey("mesh.vert"),
		Fragment:     fragmentKey("mesh.frag"),
		Topology:     gputypes.PrimitiveTopologyTriangleList,
		FrontFace:    gputypes.FrontFaceCCW,
		CullMode:     gputypes.CullModeBack,
		ColorFormat:  gputypes.TextureFormatBGRA8Unorm,
		DepthFormat:  gputypes.TextureFormatDepth32Float,
		DepthTest:    true,
		DepthWrite:   true,
		DepthCompare: gputypes.CompareFunctionLess,
		SampleCount:  4,
	}
}

func newTestCaches(t *testing.T, dev *fakeDevice, clock *fakeClock) *Caches {
	t.Helper()
	c, err := NewCaches(dev, fakeCompiler, WithClock(clock.Now))
	require.NoError(t, err)
	return c
}

func TestPipelineCacheBuildsShadersAsDependencies(t *testing.T) {
	dev := newFakeDevice()
	clock := newFakeClock()
	c := newTestCaches(t, dev, clock)

	p, err := c.Pipelines.Acquire(opaqueState("opaque"))
	require.NoError(t, err)
	again, err := c.Pipelines.Acquire(opaqueState("opaque"))
	require.NoError(t, err)
	assert.Equal(t, p, again)
	assert.Equal(t, 1, dev.pipelineCreates)
	assert.Equal(t, 2, dev.shaderCreates)

	desc := dev.pipelines[p]
	assert.NotZero(t, desc.Vertex)
	assert.NotZero(t, desc.Fragment)
	assert.Zero(t, desc.Compute)
	assert.Equal(t, opaqueState("opaque"), desc.State)

	blended := opaqueState("blended")
	blended.BlendEnable = true
	blended.DepthWrite = false
	q, err := c.Pipelines.Acquire(blended)
	require.NoError(t, err)
	assert.NotEqual(t, p, q)
	assert.Equal(t, 2, dev.shaderCreates, "shaders are shared between pipelines")
	assert.Equal(t, 2, c.Pipelines.Cache().Len())
}

func TestPipelineCacheShadersOutliveTheirPipelines(t *testing.T) {
	dev := newFakeDevice()
	clock := newFakeClock()
	c := newTestCaches(t, dev, clock)

	_, err := c.Pipelines.Acquire(opaqueState("opaque"))
	require.NoError(t, err)

	now := clock.Set(5 * time.Second)
	assert.Equal(t, 0, c.Shaders.Flush(now), "shaders are held by a resident pipeline")
	shaders, pipelines := dev.live()
	assert.Equal(t, 2, shaders)
	assert.Equal(t, 1, pipelines)

	evictedPipelines, evictedShaders := c.Flush(now)
	assert.Equal(t, 1, evictedPipelines)
	assert.Equal(t, 2, evictedShaders)
	assert.Equal(t, []string{"pipeline", "shader", "shader"}, dev.destroyLog)
}

func TestPipelineCacheKeepsSharedShaderForSurvivors(t *testing.T) {
	dev := newFakeDevice()
	clock := newFakeClock()
	c := newTestCaches(t, dev, clock)

	_, err := c.Pipelines.Acquire(opaqueState("old"))
	require.NoError(t, err)
	clock.Set(1500 * time.Millisecond)
	young := opaqueState("young")
	young.Fragment = fragmentKey("other.frag")
	_, err = c.Pipelines.Acquire(young)
	require.NoError(t, err)

	// the vertex shader was touched by young and the old fragment shader is only held by old
	pipelines, shaders := c.Flush(clock.Set(2500 * time.Millisecond))
	assert.Equal(t, 1, pipelines)
	assert.Equal(t, 1, shaders)
	assert.True(t, c.Shaders.Cache().Contains(vertexKey("mesh.vert")))
	assert.False(t, c.Shaders.Cache().Contains(fragmentKey("mesh.frag")))
}

func TestPipelineCacheCompute(t *testing.T) {
	dev := newFakeDevice()
	c := newTestCaches(t, dev, newFakeClock())

	state := PipelineState{Label: "cull", Compute: computeKey("cull.comp")}
	require.True(t, state.IsCompute())
	p, err := c.Pipelines.Acquire(state)
	require.NoError(t, err)
	desc := dev.pipelines[p]
	assert.NotZero(t, desc.Compute)
	assert.Zero(t, desc.Vertex)
	assert.False(t, opaqueState("x").IsCompute())
}

func TestPipelineStateValidate(t *testing.T) {
	for name, mutate := range map[string]func(s *PipelineState){
		"compute with vertex": func(s *PipelineState) { s.Compute = computeKey("c") },
		"compute wrong stage": func(s *PipelineState) {
			*s = PipelineState{Compute: vertexKey("v")}
		},
		"no vertex":            func(s *PipelineState) { s.Vertex = ShaderKey{} },
		"vertex stage":         func(s *PipelineState) { s.Vertex = fragmentKey("f") },
		"fragment stage":       func(s *PipelineState) { s.Fragment = vertexKey("v") },
		"sample count 3":       func(s *PipelineState) { s.SampleCount = 3 },
		"sample count 128":     func(s *PipelineState) { s.SampleCount = 128 },
		"negative line width":  func(s *PipelineState) { s.LineWidth = -1 },
		"NaN line width":       func(s *PipelineState) { s.LineWidth = float32(math.NaN()) },
		"infinite line width":  func(s *PipelineState) { s.LineWidth = float32(math.Inf(1)) },
		"depth without format": func(s *PipelineState) { s.DepthFormat = gputypes.TextureFormatUndefined },
	} {
		s := opaqueState(name)
		mutate(&s)
		assert.Error(t, s.validate(), name)
	}

	for name, mutate := range map[string]func(s *PipelineState){
		"defaults":          func(*PipelineState) {},
		"no fragment":       func(s *PipelineState) { s.Fragment = ShaderKey{} },
		"sample count 0":    func(s *PipelineState) { s.SampleCount = 0 },
		"sample count 64":   func(s *PipelineState) { s.SampleCount = 64 },
		"no depth":          func(s *PipelineState) { s.DepthTest, s.DepthWrite, s.DepthFormat = false, false, gputypes.TextureFormatUndefined },
		"depth stencil":     func(s *PipelineState) { s.DepthFormat = gputypes.TextureFormatDepth24PlusStencil8 },
		"clockwise no cull": func(s *PipelineState) { s.FrontFace, s.CullMode = gputypes.FrontFaceCW, gputypes.CullModeNone },
	} {
		s := opaqueState(name)
		mutate(&s)
		assert.NoError(t, s.validate(), name)
	}
}

func TestPipelineCacheFailures(t *testing.T) {
	dev := newFakeDevice()
	clock := newFakeClock()
	c := newTestCaches(t, dev, clock)

	invalid := opaqueState("invalid")
	invalid.SampleCount = 3
	_, err := c.Pipelines.Acquire(invalid)
	require.Error(t, err)
	assert.Equal(t, 0, dev.shaderCreates, "validation happens before any shader is built")

	broken := opaqueState("broken")
	broken.Fragment.Code = "broken"
	_, err = c.Pipelines.Acquire(broken)
	require.Error(t, err)
	assert.Equal(t, 0, dev.pipelineCreates)
	assert.Equal(t, 0, c.Pipelines.Cache().Len())

	dev.failPipelines = true
	_, err = c.Pipelines.Acquire(opaqueState("opaque"))
	require.ErrorIs(t, err, errFakeDevice)
	assert.Equal(t, 0, c.Pipelines.Cache().Len())

	// the shaders built for the failed pipelines are not pinned by anything
	pipelines, shaders := c.Flush(clock.Set(5 * time.Second))
	assert.Equal(t, 0, pipelines)
	assert.Equal(t, 2, shaders)
	live, _ := dev.live()
	assert.Equal(t, 0, live)

	dev.failPipelines = false
	nan := opaqueState("nan")
	nan.LineWidth = float32(math.NaN())
	_, err = c.Pipelines.Acquire(nan)
	require.Error(t, err)
	assert.Equal(t, 0, dev.pipelineCreates)
	assert.Equal(t, 0, c.Pipelines.Cache().Len())

	_, err = NewPipelineCache(dev, nil)
	assert.Error(t, err)
	_, err = NewPipelineCache(nil, c.Shaders)
	assert.Error(t, err)
}

func TestCachesClearAndDump(t *testing.T) {
	dev := newFakeDevice()
	c := newTestCaches(t, dev, newFakeClock())

	_, err := c.Pipelines.Acquire(opaqueState("opaque"))
	require.NoError(t, err)

	j, err := json.Marshal(c)
	require.NoError(t, err)
	dump := struct {
		Pipelines struct {
			Entries map[string]any `json:"entries"`
		} `json:"pipelines"`
		Shaders struct {
			Entries map[string]any `json:"entries"`
		} `json:"shaders"`
	}{}
	require.NoError(t, json.Unmarshal(j, &dump), string(j))
	assert.Len(t, dump.Pipelines.Entries, 1)
	assert.Len(t, dump.Shaders.Entries, 2)

	c.SetTimeout(time.Minute)
	assert.Equal(t, time.Minute, c.Shaders.Cache().Timeout())
	assert.Equal(t, time.Minute, c.Pipelines.Cache().Timeout())

	c.Clear()
	shaders, pipelines := dev.live()
	assert.Equal(t, 0, shaders)
	assert.Equal(t, 0, pipelines)
	assert.Equal(t, []string{"pipeline", "shader", "shader"}, dev.destroyLog)
}
