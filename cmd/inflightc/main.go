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

package main

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"goarrg.com/debug"
	"goarrg.com/rhi/inflight"

	"golang.org/x/tools/go/packages"
)

type stage inflight.ShaderStage

func (s *stage) UnmarshalText(data []byte) error {
	switch string(data) {
	case "vert", "vertex":
		*s = stage(inflight.ShaderStageVertex)
	case "frag", "fragment":
		*s = stage(inflight.ShaderStageFragment)
	case "comp", "compute":
		*s = stage(inflight.ShaderStageCompute)
	default:
		return debug.Errorf("Invalid stage: %q", data)
	}
	return nil
}

func (s stage) MarshalText() (text []byte, err error) {
	switch inflight.ShaderStage(s) {
	case inflight.ShaderStageVertex:
		return ([]byte)("vert"), nil
	case inflight.ShaderStageFragment:
		return ([]byte)("frag"), nil
	case inflight.ShaderStageCompute:
		return ([]byte)("comp"), nil
	default:
		return nil, debug.Errorf("Invalid value: %d", s)
	}
}

type generator uint32

const (
	generatorJSON generator = iota
	generatorGO
)

func (g *generator) UnmarshalText(data []byte) error {
	switch string(data) {
	case "json":
		*g = generatorJSON
	case "go":
		*g = generatorGO
	default:
		return debug.Errorf("Invalid value: %q", data)
	}
	return nil
}

func (g generator) MarshalText() (text []byte, err error) {
	switch g {
	case generatorJSON:
		return ([]byte)("json"), nil
	case generatorGO:
		return ([]byte)("go"), nil
	default:
		return nil, debug.Errorf("Invalid value: %d", g)
	}
}

var errUsage = errors.New("usage")

type options struct {
	dir         string
	outDir      string
	stage       stage
	entryPoint  string
	generator   generator
	separateSPV bool
	args        []string
}

func parseFlags(flags *flag.FlagSet, args []string) (*options, error) {
	o := options{}
	v := flags.Bool("v", false, "Verbose - Print high level tasks")
	vv := flags.Bool("vv", false, "Very Verbose - Print everything")

	flags.StringVar(&o.dir, "dir", ".", "Sets the directory <file> is resolved against.")
	flags.StringVar(&o.outDir, "out-dir", ".", "Sets the output directory.")
	flags.TextVar(&o.stage, "stage", stage(inflight.ShaderStageVertex), "Sets the shader stage.\n"+
		"Valid values are \"vert\", \"frag\" and \"comp\".")
	flags.StringVar(&o.entryPoint, "entry", "main", "Sets the entry point recorded in the shader key.")
	flags.TextVar(&o.generator, "generator", generatorJSON, "Sets the generator to use when outputting the shader key.\n"+
		"Valid values are \"json\" and \"go\".")
	flags.BoolVar(&o.separateSPV, "separate-spirv", false, "Output spirv as a separate .spv file.")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if *v {
		debug.SetLevel(debug.LogLevelInfo)
	} else if *vv {
		debug.SetLevel(debug.LogLevelVerbose)
	}

	o.args = flags.Args()
	if len(o.args) == 0 {
		return nil, debug.ErrorWrapf(errUsage, "No input file provided")
	} else if len(o.args) > 1 {
		return nil, debug.ErrorWrapf(errUsage, "inflightc can only compile one file at a time")
	}
	return &o, nil
}

func main() {
	debug.SetLevel(debug.LogLevelWarn)

	flags := flag.NewFlagSet(filepath.Base(os.Args[0]), flag.ExitOnError)
	flags.Usage = func() { help(flags, os.Stderr) }

	o, err := parseFlags(flags, os.Args[1:])
	if err != nil {
		debug.EPrintf("%s", err)
		help(flags, os.Stderr)
		os.Exit(2)
	}
	if err := compile(o); err != nil {
		debug.EPrintf("%s", err)
		os.Exit(1)
	}
}

func help(flags *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, "inflightc compiles a shader ahead of time into a SPIR-V inflight.ShaderKey,\n"+
		"so the shader cache does not have to run the WGSL compiler while frames are in flight.\n"+
		"\nFiles ending in .spv are validated and passed through, everything else is compiled as WGSL.\n"+
		"\n")
	args := ""
	flags.VisitAll(func(f *flag.Flag) {
		n, u := flag.UnquoteUsage(f)
		if f.DefValue != "" {
			u += "\n\nDefaults to \"" + f.DefValue + "\"."
		}
		args += "\t-" + f.Name + " " + n + "\n\t\t" + strings.ReplaceAll(strings.TrimSpace(u), "\n", "\n\t\t") + "\n"
	})
	fmt.Fprintf(w, "Usage:\n\t%s [arguments] <file>\n\nArguments:\n%s", flags.Name(), args)
}

func spirvBytes(words []uint32) []byte {
	b := make([]byte, 0, len(words)*4)
	for _, w := range words {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return b
}

func compile(o *options) error {
	name := o.args[0]
	src, err := os.ReadFile(filepath.Join(o.dir, name))
	if err != nil {
		return debug.ErrorWrapf(err, "Failed to read shader")
	}

	key := inflight.ShaderKey{
		Name:       filepath.ToSlash(name),
		Stage:      inflight.ShaderStage(o.stage),
		Language:   inflight.ShaderLanguageWGSL,
		EntryPoint: o.entryPoint,
		Code:       string(src),
	}
	if strings.EqualFold(filepath.Ext(name), ".spv") {
		key.Language = inflight.ShaderLanguageSPIRV
	}

	debug.IPrintf("Compiling shader")
	words, err := inflight.NagaCompiler{}.Compile(key)
	if err != nil {
		return err
	}
	key.Language = inflight.ShaderLanguageSPIRV
	key.Code = string(spirvBytes(words))

	outName := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return debug.ErrorWrapf(err, "Failed to create output directory")
	}

	if o.separateSPV {
		spvFile := filepath.Join(o.outDir, outName+".spv")
		debug.IPrintf("Writing SPIRV to: %q", spvFile)
		if err := os.WriteFile(spvFile, []byte(key.Code), 0o644); err != nil {
			return debug.ErrorWrapf(err, "Failed to write SPIRV")
		}
	}

	switch o.generator {
	case generatorJSON:
		return genJSON(o.outDir, outName, o.separateSPV, key, words)
	case generatorGO:
		return genGo(o.outDir, outName, o.separateSPV, key)
	}
	return debug.Errorf("Invalid generator: %d", o.generator)
}

type shaderJSON struct {
	Name       string   `json:"name"`
	Stage      string   `json:"stage"`
	EntryPoint string   `json:"entryPoint"`
	SPIRV      []uint32 `json:"spirv,omitempty"`
}

func genJSON(dir, name string, separateSPV bool, key inflight.ShaderKey, words []uint32) error {
	out := shaderJSON{
		Name:       key.Name,
		Stage:      key.Stage.String(),
		EntryPoint: key.EntryPoint,
	}
	if !separateSPV {
		out.SPIRV = words
	}

	j, err := json.Marshal(out)
	if err != nil {
		return debug.ErrorWrapf(err, "Failed to marshal shader")
	}

	jsonFile := filepath.Join(dir, name+".json")
	debug.IPrintf("Writing shader key to: %q", jsonFile)
	if err := os.WriteFile(jsonFile, j, 0o644); err != nil {
		return debug.ErrorWrapf(err, "Failed to write shader key")
	}
	return nil
}

func loaderName(id string) string {
	sb := strings.Builder{}
	sb.Grow(len(id))
	for _, r := range id {
		if unicode.IsDigit(r) || unicode.IsLetter(r) {
			sb.WriteRune(r)
		}
		if r == '/' || r == '.' {
			sb.WriteRune('_')
		}
	}
	return "inflightcLoad_" + sb.String()
}

func genGo(dir, name string, separateSPV bool, key inflight.ShaderKey) error {
	filename := filepath.Join(dir, "zinflightc_"+name+".go")
	debug.IPrintf("Writing shader key to: %q", filename)
	fOut, err := os.Create(filename)
	if err != nil {
		return debug.ErrorWrapf(err, "Failed to create %q", filename)
	}
	defer fOut.Close()

	{
		fmt.Fprintf(fOut, "// go run goarrg.com/rhi/inflight/cmd/inflightc %s\n", strings.Join(os.Args[1:], " "))
		fmt.Fprintf(fOut, "// Code generated by the command above; DO NOT EDIT.\n\n")
	}

	{
		p, err := packages.Load(&packages.Config{Mode: packages.NeedName, Dir: dir}, ".")
		if err != nil {
			return debug.ErrorWrapf(err, "Failed to load package at %q", dir)
		}
		if len(p) == 0 {
			fmt.Fprintf(fOut, "package %s\n\n", filepath.Base(dir))
		} else if p[0].Name != "" {
			fmt.Fprintf(fOut, "package %s\n\n", filepath.Base(p[0].Name))
		} else {
			fmt.Fprintf(fOut, "package %s\n\n", filepath.Base(p[0].PkgPath))
		}

		fmt.Fprintf(fOut, "import(\n")
		fmt.Fprintf(fOut, "\t\"goarrg.com/rhi/inflight\"\n")
		fmt.Fprintf(fOut, ")\n\n")
	}

	// with separate spirv the caller fills Code from the .spv file
	if separateSPV {
		key.Code = ""
	}
	fmt.Fprintf(fOut, "func %s() inflight.ShaderKey {\n", loaderName(key.Name))
	fmt.Fprintf(fOut, "\treturn %#v\n", key)
	fmt.Fprintf(fOut, "}\n")
	return nil
}
