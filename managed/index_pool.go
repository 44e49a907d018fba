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

package managed

import (
	"goarrg.com/debug"
	"goarrg.com/rhi/inflight"
	"goarrg.com/rhi/inflight/internal/container"
	"goarrg.com/rhi/inflight/internal/util"
)

/*
IndexPool hands out stable indices into a fixed size array, e.g. bindless descriptor slots.
A popped index is only reused after the destroy queue runs the release, so frames still in
flight keep seeing the old binding. It is the user's responsibility to handle sync.
*/
type IndexPool[K comparable] struct {
	noCopy    util.NoCopy
	queue     inflight.DestroyQueue
	capacity  int
	next      int
	releasing int
	freeStack container.Stack[int]
	indices   map[K]int
}

func NewIndexPool[K comparable](queue inflight.DestroyQueue, capacity int) (*IndexPool[K], error) {
	if queue == nil {
		return nil, debug.Errorf("Nil DestroyQueue")
	}
	if capacity <= 0 {
		return nil, debug.ErrorWrapf(inflight.ErrorOutOfRange{}, "IndexPool capacity must be >= 1, got %d", capacity)
	}
	p := &IndexPool[K]{
		queue:    queue,
		capacity: capacity,
		indices:  make(map[K]int),
	}
	p.noCopy.Init()
	return p, nil
}

// Push returns the index of key, assigning one if key is not in the pool.
func (p *IndexPool[K]) Push(key K) (int, error) {
	p.noCopy.Check()
	if i, found := p.indices[key]; found {
		return i, nil
	}
	var i int
	if p.freeStack.Empty() {
		if p.next >= p.capacity {
			return -1, debug.ErrorWrapf(inflight.ErrorPoolExhausted{}, "IndexPool is full, %d indices waiting on release", p.releasing)
		}
		i = p.next
		p.next++
	} else {
		i = p.freeStack.Pop()
	}
	p.indices[key] = i
	return i, nil
}

/*
Pop removes key from the pool at once, its index becomes available for reuse once the
destroy queue runs. Pushing key again before then assigns a different index.
*/
func (p *IndexPool[K]) Pop(key K) bool {
	p.noCopy.Check()
	i, found := p.indices[key]
	if !found {
		return false
	}
	delete(p.indices, key)
	p.releasing++
	p.queue.QueueDestroy(inflight.DestroyFunc(func() {
		if !p.noCopy.Alive() {
			return
		}
		p.releasing--
		p.freeStack.Push(i)
		instance.logger.VPrintf("Released index %d", i)
	}))
	return true
}

func (p *IndexPool[K]) Index(key K) (int, bool) {
	p.noCopy.Check()
	i, found := p.indices[key]
	return i, found
}

// Len returns the number of keys holding an index.
func (p *IndexPool[K]) Len() int {
	p.noCopy.Check()
	return len(p.indices)
}

// Available returns how many pushes of new keys succeed right now.
func (p *IndexPool[K]) Available() int {
	p.noCopy.Check()
	return p.capacity - p.next + p.freeStack.Len()
}

func (p *IndexPool[K]) Capacity() int {
	p.noCopy.Check()
	return p.capacity
}

// Destroy invalidates the pool, releases still queued afterwards are dropped.
func (p *IndexPool[K]) Destroy() {
	p.noCopy.Check()
	if p.releasing > 0 {
		instance.logger.WPrintf("IndexPool destroyed with %d releases pending", p.releasing)
	}
	clear(p.indices)
	p.noCopy.Close()
}
