// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cfg binds the replayer and recorder's flags with pflag, layers an
// optional YAML config file through viper, and decodes the result with
// mapstructure. The original gcsfuse cfg/config.go for this is generated
// from a param spec; our flag set is small enough to hand-write directly
// instead of carrying the generator.
package cfg

import (
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ReplayConfig is the bound shape of the replayer's flags (spec.md §6).
// TargetPath is a positional argument, not a flag; callers set it on the
// struct returned by LoadReplayConfig.
type ReplayConfig struct {
	TargetPath string

	SectorSize int    `mapstructure:"sector-size"`
	Skip       int    `mapstructure:"skip"`
	Take       int    `mapstructure:"take"`
	Writeback  string `mapstructure:"writeback"`
	StartTouch string `mapstructure:"start-touch"`
	StopTouch  string `mapstructure:"stop-touch"`

	Logging LoggingConfig `mapstructure:",squash"`
}

// RecordConfig is the bound shape of the recorder's flags (spec.md §6). The
// mount point, underlying directory and log path are positional arguments,
// not flags, so they aren't part of this struct.
type RecordConfig struct {
	Echo bool `mapstructure:"echo"`

	Logging LoggingConfig `mapstructure:",squash"`
}

// BindReplayFlags registers the replayer's flags on fs.
func BindReplayFlags(fs *pflag.FlagSet) {
	fs.Int("sector-size", DefaultSectorSize, "sector size in bytes for the regular-file writeback cache")
	fs.Int("skip", 0, "drop this many leading records before applying any")
	fs.Int("take", 0, "stop after applying this many records (0 means unbounded)")
	fs.String("writeback", DefaultWriteback, "writeback policy: all, none, odd, even, or random")
	fs.String("start-touch", "", "don't apply records until a CREATE of this recorded path is seen")
	fs.String("stop-touch", "", "stop (after losing power) when a CREATE of this recorded path is seen")
	fs.String("log-file", "", "path to write the replayer's own diagnostic log to (stderr if empty)")
	fs.String("log-format", "text", "diagnostic log format: text or json")
	fs.String("log-severity", INFO, "diagnostic log severity floor")
}

// BindRecordFlags registers the recorder's flags on fs.
func BindRecordFlags(fs *pflag.FlagSet) {
	fs.Bool("echo", false, "also write a debug line to the diagnostic log for every recorded operation")
	fs.String("log-file", "", "path to write the recorder's own diagnostic log to (stderr if empty)")
	fs.String("log-format", "text", "diagnostic log format: text or json")
	fs.String("log-severity", INFO, "diagnostic log severity floor")
}

// decodeHook composes TextUnmarshallerHookFunc with the string-to-duration
// hook, so ResolvedPath (the encoding.TextUnmarshaler type bound here)
// decodes the same way gcsfuse's generated cfg/decode_hook.go drives its own
// custom types.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// decode runs mapstructure over viper's merged flag/config-file view.
func decode(v *viper.Viper, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: decodeHook(),
		Result:     out,
		TagName:    "mapstructure",
		Squash:     true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(v.AllSettings())
}

func bindAndLayer(v *viper.Viper, fs *pflag.FlagSet, configFile string) error {
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	if configFile == "" {
		return nil
	}
	v.SetConfigFile(configFile)
	return v.ReadInConfig()
}

// LoadReplayConfig binds fs into v, optionally layering configFile beneath
// the flags, and decodes the result into a ReplayConfig.
func LoadReplayConfig(v *viper.Viper, fs *pflag.FlagSet, configFile string) (*ReplayConfig, error) {
	if err := bindAndLayer(v, fs, configFile); err != nil {
		return nil, err
	}
	out := &ReplayConfig{}
	if err := decode(v, out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadRecordConfig binds fs into v, optionally layering configFile beneath
// the flags, and decodes the result into a RecordConfig.
func LoadRecordConfig(v *viper.Viper, fs *pflag.FlagSet, configFile string) (*RecordConfig, error) {
	if err := bindAndLayer(v, fs, configFile); err != nil {
		return nil, err
	}
	out := &RecordConfig{}
	if err := decode(v, out); err != nil {
		return nil, err
	}
	return out, nil
}
