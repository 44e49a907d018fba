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
	"bytes"
	"fmt"
	"time"

	"goarrg.com/debug"
	"goarrg.com/rhi/inflight/internal/util"
)

/*
System wires a FrameScheduler, the shader and pipeline caches and a RunnerPool together.
Evicted cache entries are destroyed through the scheduler, once the slot that evicted them
comes around again.
*/
type System struct {
	noCopy    util.NoCopy
	config    Config
	clock     func() time.Time
	Scheduler *FrameScheduler
	Caches    *Caches
	Runners   *RunnerPool
}

/*
New validates cfg and builds a System. factory supplies the per frame hooks, opts are
applied to both caches after the timeout and destroy queue derived from cfg.
*/
func New(cfg Config, device Device, compiler ShaderCompiler, factory func(i int) FrameSlot, opts ...CacheOption) (*System, error) {
	if err := cfg.validate(); err != nil {
		return nil, debug.ErrorWrapf(err, "Invalid config")
	}

	scheduler, err := NewFrameScheduler(int(cfg.FramesInFlight), factory)
	if err != nil {
		return nil, err
	}

	cacheOpts := append([]CacheOption{
		WithTimeout(cfg.cacheTimeout()),
		WithDestroyQueue(scheduler),
	}, opts...)
	cc := cacheConfig{clock: time.Now}
	for _, o := range cacheOpts {
		o(&cc)
	}
	if cc.clock == nil {
		return nil, debug.Errorf("Nil clock")
	}

	caches, err := NewCaches(device, compiler, cacheOpts...)
	if err != nil {
		return nil, err
	}
	runners, err := NewRunnerPool(int(cfg.FramesInFlight), int(cfg.RunnersPerFrame))
	if err != nil {
		return nil, err
	}

	s := &System{
		config:    cfg,
		clock:     cc.clock,
		Scheduler: scheduler,
		Caches:    caches,
		Runners:   runners,
	}
	s.noCopy.Init()
	instance.logger.IPrintf("Config: %s", prettyString(&s.config))
	return s, nil
}

func (s *System) Config() Config {
	s.noCopy.Check()
	return s.config
}

// Update ticks the scheduler, then flushes the caches at the current time.
func (s *System) Update(dt time.Duration) {
	s.noCopy.Check()
	s.Scheduler.Update(dt)
	pipelines, shaders := s.Caches.Flush(s.clock())
	if pipelines+shaders > 0 {
		instance.logger.VPrintf("Tick %d evicted %d pipelines and %d shaders", s.Scheduler.Tick(), pipelines, shaders)
	}
}

// Destroy waits on every frame, runs every queued destroyer and then clears the caches.
func (s *System) Destroy() {
	s.noCopy.Check()
	s.Scheduler.Destroy()
	s.Caches.Clear()
	s.noCopy.Close()
	instance.logger.IPrintf("Destroyed")
}

func (s *System) MarshalJSON() ([]byte, error) {
	s.noCopy.Check()
	buff := bytes.Buffer{}
	buff.WriteString("{")
	buff.WriteString(fmt.Sprintf("%q: %s,", "config", jsonString(&s.config)))
	buff.WriteString(fmt.Sprintf("%q: %d,", "tick", s.Scheduler.Tick()))
	buff.WriteString(fmt.Sprintf("%q: %s", "caches", jsonString(s.Caches)))
	buff.WriteString("}")
	return buff.Bytes(), nil
}
