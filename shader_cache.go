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
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/gogpu/naga"
	"goarrg.com/debug"
)

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "Vertex"
	case ShaderStageFragment:
		return "Fragment"
	case ShaderStageCompute:
		return "Compute"
	}
	return fmt.Sprintf("ShaderStage(%d)", uint32(s))
}

type ShaderLanguage uint32

const (
	ShaderLanguageWGSL ShaderLanguage = iota
	// ShaderLanguageSPIRV keys carry little endian SPIR-V words in Code.
	ShaderLanguageSPIRV
)

func (l ShaderLanguage) String() string {
	switch l {
	case ShaderLanguageWGSL:
		return "WGSL"
	case ShaderLanguageSPIRV:
		return "SPIR-V"
	}
	return fmt.Sprintf("ShaderLanguage(%d)", uint32(l))
}

// ShaderKey identifies one shader stage by its source, the zero value means no shader.
type ShaderKey struct {
	Name       string
	Stage      ShaderStage
	Language   ShaderLanguage
	EntryPoint string
	Code       string
}

func (k ShaderKey) empty() bool {
	return k == ShaderKey{}
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func (k ShaderKey) id() string {
	return genID(k.Name, k.Stage, k.Language, k.EntryPoint, toHex(hashString(k.Code)))
}

type ShaderCompiler interface {
	Compile(key ShaderKey) ([]uint32, error)
}

// ShaderCompilerFunc adapts a function to ShaderCompiler.
type ShaderCompilerFunc func(key ShaderKey) ([]uint32, error)

func (f ShaderCompilerFunc) Compile(key ShaderKey) ([]uint32, error) {
	return f(key)
}

const spirvMagic = 0x07230203

/*
NagaCompiler compiles WGSL to SPIR-V with naga and passes SPIR-V through after checking
its header.
*/
type NagaCompiler struct{}

func (NagaCompiler) Compile(key ShaderKey) ([]uint32, error) {
	switch key.Language {
	case ShaderLanguageWGSL:
		spirv, err := naga.Compile(key.Code)
		if err != nil {
			return nil, debug.ErrorWrapf(err, "Failed to compile %s shader %q", key.Stage, key.Name)
		}
		return spirvWords([]byte(spirv))
	case ShaderLanguageSPIRV:
		return spirvWords([]byte(key.Code))
	}
	return nil, debug.Errorf("Unknown shader language: %s", key.Language)
}

func spirvWords(b []byte) ([]uint32, error) {
	if len(b) < 4 || len(b)%4 != 0 {
		return nil, debug.Errorf("SPIR-V size %d is not a non zero multiple of 4", len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, debug.Errorf("Bad SPIR-V magic: %s", toHex(words[0]))
	}
	return words, nil
}

// ShaderCache builds shader modules on the Device from ShaderKeys.
type ShaderCache struct {
	device   Device
	compiler ShaderCompiler
	cache    *ObjectCache[ShaderKey, ShaderModule]
}

func NewShaderCache(device Device, compiler ShaderCompiler, opts ...CacheOption) (*ShaderCache, error) {
	if device == nil {
		return nil, debug.Errorf("Nil Device")
	}
	if compiler == nil {
		compiler = NagaCompiler{}
	}
	s := &ShaderCache{device: device, compiler: compiler}
	opts = append([]CacheOption{WithKeyID(func(key any) string { return key.(ShaderKey).id() })}, opts...)
	cache, err := NewObjectCache("shaders", s.build, opts...)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

func (s *ShaderCache) build(key ShaderKey, _ *Dependencies) (ShaderModule, Destroyer, error) {
	if key.empty() {
		return 0, nil, debug.Errorf("Empty shader key")
	}
	switch key.Stage {
	case ShaderStageVertex, ShaderStageFragment, ShaderStageCompute:
	default:
		return 0, nil, debug.Errorf("Shader %q has invalid stage: %s", key.Name, key.Stage)
	}
	if key.EntryPoint == "" {
		return 0, nil, debug.Errorf("Shader %q has no entry point", key.Name)
	}

	spirv, err := s.compiler.Compile(key)
	if err != nil {
		return 0, nil, err
	}
	m, err := s.device.CreateShaderModule(key.Name, key.Stage, key.EntryPoint, spirv)
	if err != nil {
		return 0, nil, debug.ErrorWrapf(err, "Failed to create shader module %q", key.Name)
	}
	instance.logger.VPrintf("Created %s shader module %q: %s", key.Stage, key.Name, toHex(m))
	return m, DestroyFunc(func() { s.device.DestroyShaderModule(m) }), nil
}

func (s *ShaderCache) Acquire(key ShaderKey) (ShaderModule, error) {
	return s.cache.Acquire(key)
}

// AcquireFor acquires key as a dependency of the entry whose build received deps.
func (s *ShaderCache) AcquireFor(deps *Dependencies, key ShaderKey) (ShaderModule, error) {
	return s.cache.AcquireFor(deps, key)
}

func (s *ShaderCache) Flush(now time.Time) int {
	return s.cache.Flush(now)
}

func (s *ShaderCache) Clear() int {
	return s.cache.Clear()
}

// Cache exposes the underlying ObjectCache for timeouts, stats and dumps.
func (s *ShaderCache) Cache() *ObjectCache[ShaderKey, ShaderModule] {
	return s.cache
}

func (s *ShaderCache) MarshalJSON() ([]byte, error) {
	return s.cache.MarshalJSON()
}
