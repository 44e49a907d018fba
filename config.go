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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"goarrg.com/debug"
	"goarrg.com/gmath"
	"gopkg.in/yaml.v3"
)

const (
	MaxFramesInFlight  = 16
	MaxRunnersPerFrame = 1024
)

/*
Config sizes the System. Zero CacheTimeoutMillis and RunnersPerFrame select the defaults,
a zero FramesInFlight is an error.
*/
type Config struct {
	FramesInFlight     int32 `toml:"frames_in_flight" yaml:"frames_in_flight" json:"frames_in_flight"`
	CacheTimeoutMillis int64 `toml:"cache_timeout_ms" yaml:"cache_timeout_ms" json:"cache_timeout_ms"`
	RunnersPerFrame    int32 `toml:"runners_per_frame" yaml:"runners_per_frame" json:"runners_per_frame"`
}

func (c *Config) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"frames_in_flight\": %d,", c.FramesInFlight))
	buff.WriteString(fmt.Sprintf("\"cache_timeout_ms\": %d,", c.CacheTimeoutMillis))
	buff.WriteString(fmt.Sprintf("\"runners_per_frame\": %d", c.RunnersPerFrame))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (c *Config) validate() error {
	if !gmath.InRange(c.FramesInFlight, 1, MaxFramesInFlight) {
		return debug.ErrorWrapf(ErrorOutOfRange{}, "Config.FramesInFlight must be in [1, %d], got %d", MaxFramesInFlight, c.FramesInFlight)
	}
	if c.CacheTimeoutMillis == 0 {
		c.CacheTimeoutMillis = DefaultCacheTimeout.Milliseconds()
	} else if c.CacheTimeoutMillis < 0 {
		return debug.ErrorWrapf(ErrorOutOfRange{}, "Config.CacheTimeoutMillis must be >= 0, got %d", c.CacheTimeoutMillis)
	}
	if c.RunnersPerFrame == 0 {
		c.RunnersPerFrame = 4
	} else if !gmath.InRange(c.RunnersPerFrame, 1, MaxRunnersPerFrame) {
		return debug.ErrorWrapf(ErrorOutOfRange{}, "Config.RunnersPerFrame must be in [1, %d], got %d", MaxRunnersPerFrame, c.RunnersPerFrame)
	}
	return nil
}

func (c *Config) cacheTimeout() time.Duration {
	return time.Duration(c.CacheTimeoutMillis) * time.Millisecond
}

/*
ParseConfig decodes data as TOML, YAML or JSON depending on format, which is a file
extension with or without the dot. Unknown fields are errors.
*/
func ParseConfig(data []byte, format string) (Config, error) {
	c := Config{}
	var err error

	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "toml":
		err = toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&c)
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&c)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&c)
	default:
		return Config{}, debug.Errorf("Unknown config format: %q", format)
	}

	if err != nil {
		return Config{}, debug.ErrorWrapf(err, "Failed to decode %s config", format)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, debug.ErrorWrapf(err, "Failed to read config")
	}
	c, err := ParseConfig(data, filepath.Ext(path))
	if err != nil {
		return Config{}, debug.ErrorWrapf(err, "Failed to load config %q", path)
	}
	return c, nil
}
