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

import "goarrg.com/debug"

// Destroyer releases a native object, it is called exactly once.
type Destroyer interface {
	Destroy()
}

type DestroyFunc func()

func (f DestroyFunc) Destroy() {
	f()
}

/*
DestroyQueue defers destroyers until the GPU can no longer be using what they release,
FrameScheduler implements it by running them when the current frame slot is next retired.
*/
type DestroyQueue interface {
	QueueDestroy(destroyers ...Destroyer)
}

type immediateDestroyQueue struct{}

func (immediateDestroyQueue) QueueDestroy(destroyers ...Destroyer) {
	for _, d := range destroyers {
		safeDestroy("immediate", d)
	}
}

// safeDestroy runs d, a panicking destroyer is logged and swallowed so the caller can keep going.
func safeDestroy(name string, d Destroyer) (ok bool) {
	if d == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			instance.logger.EPrintf("Destroyer for %s panicked: %v\n%s", name, r, debug.StackTrace(0))
			ok = false
		}
	}()
	d.Destroy()
	return true
}
