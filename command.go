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

// CommandBuffer is the recording target supplied by the graphics binding layer.
type CommandBuffer interface {
	ResetAndBegin() error
	EndAndSubmit(sync *SyncGroup) error
	Recording() bool
}

/*
Command is a unit of deferred work. Run may only receive a nil buffer if RequiresCommandBuffer
returned false for the same frame, it returns whether it did any work.
*/
type Command interface {
	RequiresCommandBuffer(frame int) bool
	Run(cb CommandBuffer, frame int) bool
}

/*
CommandRemover lets wrappers answer for the command they wrap, so removing the inner
command from a batch also removes the wrapper.
*/
type CommandRemover interface {
	RemoveByCommand(other Command) bool
}

func matchesCommand(c, other Command) bool {
	if r, ok := c.(CommandRemover); ok {
		return r.RemoveByCommand(other)
	}
	return c == other
}

// FuncCommand is a leaf command around a function, it must be used by pointer.
type FuncCommand struct {
	needsBuffer bool
	fn          func(cb CommandBuffer, frame int) bool
}

func NewCommand(needsBuffer bool, fn func(cb CommandBuffer, frame int) bool) *FuncCommand {
	if fn == nil {
		abort("Nil command function")
	}
	return &FuncCommand{needsBuffer: needsBuffer, fn: fn}
}

func (c *FuncCommand) RequiresCommandBuffer(int) bool {
	return c.needsBuffer
}

func (c *FuncCommand) Run(cb CommandBuffer, frame int) bool {
	return c.fn(cb, frame)
}

// FrameLocalCommand runs its delegate only on one frame index.
type FrameLocalCommand struct {
	frame    int
	delegate Command
}

func NewFrameLocalCommand(frame int, delegate Command) *FrameLocalCommand {
	if delegate == nil {
		abort("Nil delegate command")
	}
	return &FrameLocalCommand{frame: frame, delegate: delegate}
}

func (c *FrameLocalCommand) Frame() int {
	return c.frame
}

func (c *FrameLocalCommand) RequiresCommandBuffer(frame int) bool {
	return frame == c.frame && c.delegate.RequiresCommandBuffer(frame)
}

func (c *FrameLocalCommand) Run(cb CommandBuffer, frame int) bool {
	if frame != c.frame {
		return false
	}
	return c.delegate.Run(cb, frame)
}

func (c *FrameLocalCommand) RemoveByCommand(other Command) bool {
	return Command(c) == other || matchesCommand(c.delegate, other)
}
