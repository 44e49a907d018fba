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
	"slices"
	"strings"

	"goarrg.com/rhi/inflight/internal/util"
)

type PipelineStage uint64

const (
	PipelineStageNone           PipelineStage = 0
	PipelineStageIndirect       PipelineStage = 1 << 1
	PipelineStageVertexInput    PipelineStage = 1 << 2
	PipelineStageVertexShader   PipelineStage = 1 << 3
	PipelineStageFragmentShader PipelineStage = 1 << 7
	PipelineStageFragmentTests  PipelineStage = 1<<8 | 1<<9
	// includes late fragment tests so it applies to any attachment write
	PipelineStageRenderAttachmentWrite PipelineStage = 1<<10 | 1<<9
	PipelineStageCompute               PipelineStage = 1 << 11
	PipelineStageTransfer              PipelineStage = 1 << 12
	PipelineStageGraphics              PipelineStage = 1 << 15
	PipelineStageAll                   PipelineStage = 1 << 16
)

func (s PipelineStage) String() string {
	if s == PipelineStageNone {
		return "None"
	}
	str := ""
	names := []struct {
		stage PipelineStage
		name  string
	}{
		{PipelineStageIndirect, "Indirect"},
		{PipelineStageVertexInput, "VertexInput"},
		{PipelineStageVertexShader, "VertexShader"},
		{PipelineStageFragmentShader, "FragmentShader"},
		{PipelineStageFragmentTests, "FragmentTests"},
		{PipelineStageRenderAttachmentWrite, "RenderAttachmentWrite"},
		{PipelineStageCompute, "Compute"},
		{PipelineStageTransfer, "Transfer"},
		{PipelineStageGraphics, "Graphics"},
		{PipelineStageAll, "All"},
	}
	for _, n := range names {
		if hasBits(s, n.stage) {
			str += n.name + "|"
		}
	}
	return strings.TrimSuffix(str, "|")
}

// Semaphore is an opaque handle owned by the graphics binding layer.
type Semaphore uint64

type SemaphoreWaitInfo struct {
	Semaphore Semaphore
	// Value is the timeline value to wait for, binary semaphores leave it at 0.
	Value uint64
	Stage PipelineStage
}

type SemaphoreSignalInfo struct {
	Semaphore Semaphore
	Value     uint64
	Stage     PipelineStage
}

/*
Fence is the CPU side view of a submission, Poll must not block.
FrameScheduler waits on it before a frame slot is reused.
*/
type Fence interface {
	Wait()
	Poll() bool
}

/*
SyncGroup bundles what one submission waits on and signals. It is immutable once built
and is consumed by the first submission that uses it, a consumed group cannot be resubmitted.
*/
type SyncGroup struct {
	noCopy   util.NoCopy
	waits    []SemaphoreWaitInfo
	signals  []SemaphoreSignalInfo
	fence    Fence
	consumed bool
}

func NewSyncGroup(waits []SemaphoreWaitInfo, signals []SemaphoreSignalInfo, fence Fence) *SyncGroup {
	g := SyncGroup{
		waits:   slices.Clone(waits),
		signals: slices.Clone(signals),
		fence:   fence,
	}
	g.noCopy.Init()
	return &g
}

func (g *SyncGroup) Waits() []SemaphoreWaitInfo {
	g.noCopy.Check()
	return slices.Clone(g.waits)
}

func (g *SyncGroup) Signals() []SemaphoreSignalInfo {
	g.noCopy.Check()
	return slices.Clone(g.signals)
}

// Fence may be nil.
func (g *SyncGroup) Fence() Fence {
	g.noCopy.Check()
	return g.fence
}

func (g *SyncGroup) Consumed() bool {
	g.noCopy.Check()
	return g.consumed
}

func (g *SyncGroup) consume() {
	g.noCopy.Check()
	if g.consumed {
		abort("SyncGroup submitted twice, build a new SyncGroup for every submission")
	}
	g.consumed = true
}
