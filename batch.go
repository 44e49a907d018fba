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
	"weak"
)

/*
Batch is a Command aggregating weakly held commands. A batch never keeps a command alive,
once the command's owners drop it the garbage collector may reclaim it and the next Run forgets it.
Batches are confined to the goroutine that runs them.
*/
type Batch interface {
	Command
	Remove(c Command) bool
	Len() int
	add(e batchEntry)
}

type batchEntry struct {
	get     func() Command
	removed bool
}

func makeBatchEntry[T any, PT interface {
	*T
	Command
}](c PT) batchEntry {
	w := weak.Make((*T)(c))
	return batchEntry{get: func() Command {
		if p := w.Value(); p != nil {
			return PT(p)
		}
		return nil
	}}
}

/*
Add registers c with b and returns c for chaining. The batch holds c weakly, so c must
be a pointer and something else has to keep it reachable for as long as it should run.
*/
func Add[T any, PT interface {
	*T
	Command
}](b Batch, c PT) PT {
	if b == nil {
		abort("Nil batch")
	}
	if c == nil {
		abort("Nil command")
	}
	b.add(makeBatchEntry(c))
	return c
}

// AddToFrame is Add targeting the list of frame i instead of the current frame.
func AddToFrame[T any, PT interface {
	*T
	Command
}](b *PerFrameBatch, i int, c PT) (PT, error) {
	if c == nil {
		abort("Nil command")
	}
	if err := checkFrameIndex(i, len(b.batches)); err != nil {
		var zero PT
		return zero, err
	}
	b.batches[i].add(makeBatchEntry(c))
	return c, nil
}

// CommandBatch is a flat list of weakly held commands, collected entries are compacted during Run.
type CommandBatch struct {
	entries []batchEntry
	running bool
}

var (
	_ Batch = (*CommandBatch)(nil)
	_ Batch = (*PerFrameBatch)(nil)
)

func NewCommandBatch() *CommandBatch {
	return &CommandBatch{}
}

func (b *CommandBatch) add(e batchEntry) {
	b.entries = append(b.entries, e)
}

/*
Remove drops every entry matching c, see CommandRemover. Removing from inside Run
is allowed, the entry is skipped for the rest of the run.
*/
func (b *CommandBatch) Remove(c Command) bool {
	removed := false
	for i := range b.entries {
		e := &b.entries[i]
		if e.removed {
			continue
		}
		if live := e.get(); live != nil && matchesCommand(live, c) {
			e.removed = true
			removed = true
		}
	}
	if removed && !b.running {
		b.compact()
	}
	return removed
}

// Len counts the commands that are still alive, it does not compact.
func (b *CommandBatch) Len() int {
	n := 0
	for _, e := range b.entries {
		if !e.removed && e.get() != nil {
			n++
		}
	}
	return n
}

func (b *CommandBatch) compact() {
	b.entries = slices.DeleteFunc(b.entries, func(e batchEntry) bool {
		return e.removed || e.get() == nil
	})
}

func (b *CommandBatch) RequiresCommandBuffer(frame int) bool {
	for _, e := range b.entries {
		if e.removed {
			continue
		}
		if c := e.get(); c != nil && c.RequiresCommandBuffer(frame) {
			return true
		}
	}
	return false
}

/*
Run runs every live command once in insertion order and reports whether any of them did work.
Commands added during the run are first run next time.
*/
func (b *CommandBatch) Run(cb CommandBuffer, frame int) bool {
	if b.running {
		abort("CommandBatch run from inside one of its own commands")
	}
	b.running = true
	defer func() {
		b.running = false
		b.compact()
	}()

	did := false
	n := len(b.entries)
	for i := 0; i < n; i++ {
		if b.entries[i].removed {
			continue
		}
		c := b.entries[i].get()
		if c == nil {
			b.entries[i].removed = true
			continue
		}
		if c.Run(cb, frame) {
			did = true
		}
	}
	return did
}

/*
PerFrameBatch keeps one CommandBatch per frame slot. Run and RequiresCommandBuffer act on
the scheduler's current frame and ignore the frame argument, so the batch must be driven by
the same scheduler it was built with.
*/
type PerFrameBatch struct {
	frames  FrameIndexer
	batches []CommandBatch
}

func NewPerFrameBatch(frames FrameIndexer) *PerFrameBatch {
	if frames == nil {
		abort("Nil FrameIndexer")
	}
	return &PerFrameBatch{frames: frames, batches: make([]CommandBatch, frames.TotalFrames())}
}

func (b *PerFrameBatch) current() *CommandBatch {
	i := b.frames.CurrentFrame()
	if err := checkFrameIndex(i, len(b.batches)); err != nil {
		abort("%s", err)
	}
	return &b.batches[i]
}

func (b *PerFrameBatch) add(e batchEntry) {
	b.current().add(e)
}

// Remove removes c from every frame's list.
func (b *PerFrameBatch) Remove(c Command) bool {
	removed := false
	for i := range b.batches {
		if b.batches[i].Remove(c) {
			removed = true
		}
	}
	return removed
}

// Len counts live commands across every frame's list.
func (b *PerFrameBatch) Len() int {
	n := 0
	for i := range b.batches {
		n += b.batches[i].Len()
	}
	return n
}

func (b *PerFrameBatch) FrameLen(i int) (int, error) {
	if err := checkFrameIndex(i, len(b.batches)); err != nil {
		return 0, err
	}
	return b.batches[i].Len(), nil
}

func (b *PerFrameBatch) RequiresCommandBuffer(int) bool {
	return b.current().RequiresCommandBuffer(b.frames.CurrentFrame())
}

func (b *PerFrameBatch) Run(cb CommandBuffer, _ int) bool {
	return b.current().Run(cb, b.frames.CurrentFrame())
}
