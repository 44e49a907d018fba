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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncGroupIsImmutable(t *testing.T) {
	waits := []SemaphoreWaitInfo{{Semaphore: 1, Value: 1, Stage: PipelineStageFragmentShader}}
	signals := []SemaphoreSignalInfo{{Semaphore: 2}}
	g := NewSyncGroup(waits, signals, nil)

	waits[0].Value = 99
	assert.Equal(t, uint64(1), g.Waits()[0].Value)

	got := g.Signals()
	got[0].Semaphore = 7
	assert.Equal(t, Semaphore(2), g.Signals()[0].Semaphore)
	assert.Nil(t, g.Fence())
	assert.False(t, g.Consumed())

	g.consume()
	assert.True(t, g.Consumed())
	require.Panics(t, func() { g.consume() })
}

func TestPipelineStageString(t *testing.T) {
	assert.Equal(t, "None", PipelineStageNone.String())
	assert.Equal(t, "Compute", PipelineStageCompute.String())
	assert.Equal(t, "VertexShader|Transfer", (PipelineStageVertexShader | PipelineStageTransfer).String())
	assert.Contains(t, PipelineStageRenderAttachmentWrite.String(), "RenderAttachmentWrite")
}
