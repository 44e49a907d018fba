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
	"sync"
	"time"

	"goarrg.com/debug"
	"goarrg.com/rhi/inflight/internal/util"
)

// FrameSlot is the per frame update hook, it is invoked once per tick for the current slot.
type FrameSlot interface {
	Update(s *FrameScheduler, dt time.Duration)
}

type FrameSlotFunc func(s *FrameScheduler, dt time.Duration)

func (f FrameSlotFunc) Update(s *FrameScheduler, dt time.Duration) {
	f(s, dt)
}

// FrameIndexer is the read only view of a scheduler that per frame resources index with.
type FrameIndexer interface {
	CurrentFrame() int
	TotalFrames() int
}

type frame struct {
	name       string
	slot       FrameSlot
	fence      Fence
	destroyers []Destroyer
}

func (f *frame) retire() {
	if f.fence != nil {
		f.fence.Wait()
		f.fence = nil
	}
	for i, d := range f.destroyers {
		safeDestroy(f.name, d)
		f.destroyers[i] = nil
	}
	f.destroyers = f.destroyers[:0]
}

/*
FrameScheduler owns a ring of frame slots and advances the current index once per Update.
It is driven from a single goroutine, only QueueDestroy may be called from others.
*/
type FrameScheduler struct {
	noCopy   util.NoCopy
	frames   []frame
	current  int
	tick     uint64
	updating bool

	mtx     sync.Mutex
	pending []Destroyer
}

var (
	_ FrameIndexer = (*FrameScheduler)(nil)
	_ DestroyQueue = (*FrameScheduler)(nil)
)

func NewFrameScheduler(n int, factory func(i int) FrameSlot) (*FrameScheduler, error) {
	if n <= 0 {
		return nil, debug.ErrorWrapf(ErrorOutOfRange{}, "Frame count must be >= 1, got %d", n)
	}
	if factory == nil {
		return nil, debug.Errorf("Nil frame slot factory")
	}
	s := &FrameScheduler{frames: make([]frame, n)}
	for i := range s.frames {
		slot := factory(i)
		if slot == nil {
			return nil, debug.Errorf("Frame slot factory returned nil for slot %d", i)
		}
		s.frames[i] = frame{name: fmt.Sprintf("frame_%d", i), slot: slot}
	}
	s.noCopy.Init()
	instance.logger.IPrintf("Created frame scheduler with %d frames in flight", n)
	return s, nil
}

/*
Update retires the current slot, waiting on its fence and running its queued destroyers,
then invokes the slot's hook and advances the current frame. Calling Update from inside a
hook aborts.
*/
func (s *FrameScheduler) Update(dt time.Duration) {
	s.noCopy.Check()
	if s.updating {
		abort("Update called from inside a frame slot's update hook")
	}
	s.updating = true
	defer func() { s.updating = false }()

	f := &s.frames[s.current]
	f.retire()
	f.slot.Update(s, dt)

	s.mtx.Lock()
	f.destroyers = append(f.destroyers, s.pending...)
	clear(s.pending)
	s.pending = s.pending[:0]
	s.mtx.Unlock()

	s.current = (s.current + 1) % len(s.frames)
	s.tick++
}

// CurrentFrame is stable until the next call to Update returns.
func (s *FrameScheduler) CurrentFrame() int {
	s.noCopy.Check()
	return s.current
}

func (s *FrameScheduler) TotalFrames() int {
	s.noCopy.Check()
	return len(s.frames)
}

// Tick returns the number of completed Update calls.
func (s *FrameScheduler) Tick() uint64 {
	s.noCopy.Check()
	return s.tick
}

// Updating reports whether a slot's update hook is currently running.
func (s *FrameScheduler) Updating() bool {
	s.noCopy.Check()
	return s.updating
}

/*
SetFence makes the current slot wait on fence before it is reused, N ticks from now.
It must be called from inside the slot's update hook.
*/
func (s *FrameScheduler) SetFence(fence Fence) {
	s.noCopy.Check()
	if !s.updating {
		abort("SetFence called outside of a frame slot's update hook")
	}
	s.frames[s.current].fence = fence
}

/*
QueueDestroy defers destroyers until the slot of the tick they were queued in is retired,
queued outside of Update they land in the next tick's slot. It is safe to call from any goroutine.
*/
func (s *FrameScheduler) QueueDestroy(destroyers ...Destroyer) {
	s.mtx.Lock()
	s.pending = append(s.pending, destroyers...)
	s.mtx.Unlock()
}

// Destroy waits on every slot and runs every queued destroyer, the scheduler is dead afterwards.
func (s *FrameScheduler) Destroy() {
	s.noCopy.Check()
	if s.updating {
		abort("Destroy called from inside a frame slot's update hook")
	}
	for i := range s.frames {
		s.frames[(s.current+i)%len(s.frames)].retire()
	}
	s.mtx.Lock()
	pending := s.pending
	s.pending = nil
	s.mtx.Unlock()
	for _, d := range pending {
		safeDestroy("pending", d)
	}
	s.noCopy.Close()
}
