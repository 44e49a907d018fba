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
	"goarrg.com/debug"
	"goarrg.com/rhi/inflight/internal/container"
	"goarrg.com/rhi/inflight/internal/util"
)

/*
CommandRunner runs one command against one frame, opening and submitting a command buffer
only when the command asks for one. A runner must not be used from two frames at once.
*/
type CommandRunner struct {
	noCopy util.NoCopy

	pool     *RunnerPool
	slot     int
	acquired bool
	running  bool

	frame int
	cb    CommandBuffer
	cmd   Command
	sync  *SyncGroup
}

func NewCommandRunner() *CommandRunner {
	r := &CommandRunner{}
	r.noCopy.Init()
	return r
}

func (r *CommandRunner) checkOwned(op string) {
	r.noCopy.Check()
	if r.pool != nil && !r.acquired {
		abort("%s on a pooled CommandRunner that is not acquired", op)
	}
	if r.running {
		abort("%s on a CommandRunner that is running", op)
	}
}

func (r *CommandRunner) SetFrame(frame int) *CommandRunner {
	r.checkOwned("SetFrame")
	r.frame = frame
	return r
}

func (r *CommandRunner) SetCommandBuffer(cb CommandBuffer) *CommandRunner {
	r.checkOwned("SetCommandBuffer")
	r.cb = cb
	return r
}

func (r *CommandRunner) SetCommand(cmd Command) *CommandRunner {
	r.checkOwned("SetCommand")
	r.cmd = cmd
	return r
}

// SetSyncGroup sets the group consumed by the next submission, nil submits without synchronization.
func (r *CommandRunner) SetSyncGroup(sync *SyncGroup) *CommandRunner {
	r.checkOwned("SetSyncGroup")
	r.sync = sync
	return r
}

func (r *CommandRunner) Frame() int {
	r.noCopy.Check()
	return r.frame
}

/*
Run asks the command whether it needs a buffer for the target frame. If it does the buffer
is reset and begun, the command records into it and it is ended and submitted with the sync
group. Otherwise the command runs with a nil buffer and nothing is submitted. The bool reports
whether the command did any work.
*/
func (r *CommandRunner) Run() (bool, error) {
	r.checkOwned("Run")
	if r.cmd == nil {
		abort("CommandRunner has no command to run")
	}

	r.running = true
	defer func() { r.running = false }()

	if !r.cmd.RequiresCommandBuffer(r.frame) {
		return r.cmd.Run(nil, r.frame), nil
	}

	if r.cb == nil {
		abort("Command requires a command buffer on frame %d but none is set", r.frame)
	}
	if r.cb.Recording() {
		abort("Command buffer for frame %d is still recording", r.frame)
	}
	if r.sync != nil && r.sync.Consumed() {
		abort("SyncGroup for frame %d was already submitted", r.frame)
	}

	if err := r.cb.ResetAndBegin(); err != nil {
		return false, debug.ErrorWrapf(err, "Failed to begin command buffer for frame %d", r.frame)
	}
	did := r.cmd.Run(r.cb, r.frame)
	if r.sync != nil {
		r.sync.consume()
	}
	if err := r.cb.EndAndSubmit(r.sync); err != nil {
		return did, debug.ErrorWrapf(err, "Failed to submit command buffer for frame %d", r.frame)
	}
	return did, nil
}

/*
RunnerPool hands out a fixed number of runners per frame slot. Acquire transfers exclusive
ownership until Release, an empty slot is an error rather than an allocation.
It is confined to the update goroutine.
*/
type RunnerPool struct {
	noCopy  util.NoCopy
	runners []CommandRunner
	free    []container.Stack[*CommandRunner]
}

func NewRunnerPool(frames, perFrame int) (*RunnerPool, error) {
	if frames <= 0 {
		return nil, debug.ErrorWrapf(ErrorOutOfRange{}, "Frame count must be >= 1, got %d", frames)
	}
	if perFrame <= 0 {
		return nil, debug.ErrorWrapf(ErrorOutOfRange{}, "Runners per frame must be >= 1, got %d", perFrame)
	}

	p := &RunnerPool{
		runners: make([]CommandRunner, frames*perFrame),
		free:    make([]container.Stack[*CommandRunner], frames),
	}
	for i := range p.free {
		p.free[i].Reserve(perFrame)
	}
	for i := range p.runners {
		r := &p.runners[i]
		r.noCopy.Init()
		r.pool = p
		r.slot = i / perFrame
		p.free[r.slot].Push(r)
	}
	p.noCopy.Init()
	return p, nil
}

// Acquire returns a runner targeting frame with no buffer, command or sync group set.
func (p *RunnerPool) Acquire(frame int) (*CommandRunner, error) {
	p.noCopy.Check()
	if err := checkFrameIndex(frame, len(p.free)); err != nil {
		return nil, err
	}
	if p.free[frame].Empty() {
		return nil, debug.ErrorWrapf(ErrorPoolExhausted{}, "No free CommandRunner for frame %d", frame)
	}
	r := p.free[frame].Pop()
	r.acquired = true
	r.frame = frame
	return r, nil
}

func (p *RunnerPool) Release(r *CommandRunner) {
	p.noCopy.Check()
	r.noCopy.Check()
	if r.pool != p {
		abort("CommandRunner released to a pool that does not own it")
	}
	if !r.acquired {
		abort("CommandRunner released twice")
	}
	if r.running {
		abort("CommandRunner released while running")
	}
	r.acquired = false
	r.cb = nil
	r.cmd = nil
	r.sync = nil
	p.free[r.slot].Push(r)
}

func (p *RunnerPool) Available(frame int) (int, error) {
	p.noCopy.Check()
	if err := checkFrameIndex(frame, len(p.free)); err != nil {
		return 0, err
	}
	return p.free[frame].Len(), nil
}
