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
	"goarrg.com/rhi/inflight/internal/util"
)

/*
Versioned is a logical resource with one physical copy per frame in flight.
Writing version i while the GPU may still read it is the caller's problem, see FrameScheduler.SetFence.
*/
type Versioned[T any] interface {
	Current() T
	Version(i int) (T, error)
	NumVersions() int
}

// Single shares one value across every frame index.
type Single[T any] struct {
	frames FrameIndexer
	value  T
}

var (
	_ Versioned[int] = (*Single[int])(nil)
	_ Versioned[int] = (*PerFrame[int])(nil)
)

func NewSingle[T any](frames FrameIndexer, value T) *Single[T] {
	if frames == nil {
		abort("Nil FrameIndexer")
	}
	return &Single[T]{frames: frames, value: value}
}

func (s *Single[T]) Current() T {
	return s.value
}

// Version returns the shared value for every valid frame index.
func (s *Single[T]) Version(i int) (T, error) {
	if err := checkFrameIndex(i, s.frames.TotalFrames()); err != nil {
		var zero T
		return zero, err
	}
	return s.value, nil
}

func (s *Single[T]) NumVersions() int {
	return 1
}

// PerFrame holds one eagerly built value per frame slot.
type PerFrame[T any] struct {
	noCopy   util.NoCopy
	frames   FrameIndexer
	versions []T
}

/*
NewPerFrame calls factory exactly once for every slot. If a call fails the values already
built are destroyed in reverse order, when they implement Destroyer, and the error is returned.
*/
func NewPerFrame[T any](frames FrameIndexer, factory func(i int) (T, error)) (*PerFrame[T], error) {
	if frames == nil {
		return nil, debug.Errorf("Nil FrameIndexer")
	}
	if factory == nil {
		return nil, debug.Errorf("Nil factory")
	}
	n := frames.TotalFrames()
	if n <= 0 {
		return nil, debug.ErrorWrapf(ErrorOutOfRange{}, "Frame count must be >= 1, got %d", n)
	}

	p := &PerFrame[T]{frames: frames, versions: make([]T, 0, n)}
	for i := range n {
		v, err := factory(i)
		if err != nil {
			for j := len(p.versions) - 1; j >= 0; j-- {
				if d, ok := any(p.versions[j]).(Destroyer); ok {
					safeDestroy("versioned", d)
				}
			}
			return nil, debug.ErrorWrapf(err, "Failed to build version %d of %d", i, n)
		}
		p.versions = append(p.versions, v)
	}
	p.noCopy.Init()
	return p, nil
}

// Current is Version(frames.CurrentFrame()), the index is always in range.
func (p *PerFrame[T]) Current() T {
	p.noCopy.Check()
	i := p.frames.CurrentFrame()
	if !util.InRange(i, len(p.versions)) {
		abort("FrameIndexer returned frame %d but only %d versions exist", i, len(p.versions))
	}
	return p.versions[i]
}

func (p *PerFrame[T]) Version(i int) (T, error) {
	p.noCopy.Check()
	if err := checkFrameIndex(i, len(p.versions)); err != nil {
		var zero T
		return zero, err
	}
	return p.versions[i], nil
}

func (p *PerFrame[T]) NumVersions() int {
	p.noCopy.Check()
	return len(p.versions)
}

// Destroy destroys every version that implements Destroyer, in slot order.
func (p *PerFrame[T]) Destroy() {
	p.noCopy.Check()
	for _, v := range p.versions {
		if d, ok := any(v).(Destroyer); ok {
			safeDestroy("versioned", d)
		}
	}
	clear(p.versions)
	p.noCopy.Close()
}
