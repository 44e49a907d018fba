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

// ErrorOutOfRange is returned for bad frame counts and frame indices, it is never clamped.
type ErrorOutOfRange struct{}

func (ErrorOutOfRange) Is(target error) bool {
	_, ok := target.(ErrorOutOfRange)
	return ok
}

func (ErrorOutOfRange) Error() string {
	return "Out Of Range"
}

// ErrorPoolExhausted is returned when a fixed size pool has nothing left to hand out.
type ErrorPoolExhausted struct{}

func (ErrorPoolExhausted) Is(target error) bool {
	_, ok := target.(ErrorPoolExhausted)
	return ok
}

func (ErrorPoolExhausted) Error() string {
	return "Pool Exhausted"
}

func checkFrameIndex(i, n int) error {
	if !util.InRange(i, n) {
		return debug.ErrorWrapf(ErrorOutOfRange{}, "Frame index %d is outside of [0, %d)", i, n)
	}
	return nil
}
