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

package cfg

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReplayConfigDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("dsfsreplay", pflag.ContinueOnError)
	BindReplayFlags(fs)
	require.NoError(t, fs.Parse(nil))

	c, err := LoadReplayConfig(viper.New(), fs, "")
	require.NoError(t, err)

	assert.Equal(t, DefaultSectorSize, c.SectorSize)
	assert.Equal(t, DefaultWriteback, c.Writeback)
	assert.Equal(t, 0, c.Skip)
	assert.Equal(t, 0, c.Take)
	assert.Equal(t, "", c.StartTouch)
	assert.Equal(t, "", c.StopTouch)
	assert.Equal(t, INFO, c.Logging.Severity)
}

func TestLoadReplayConfigOverridesFromFlags(t *testing.T) {
	fs := pflag.NewFlagSet("dsfsreplay", pflag.ContinueOnError)
	BindReplayFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--sector-size=4096",
		"--writeback=random",
		"--skip=3",
		"--take=10",
		"--start-touch=/start",
		"--stop-touch=/stop",
	}))

	c, err := LoadReplayConfig(viper.New(), fs, "")
	require.NoError(t, err)

	assert.Equal(t, 4096, c.SectorSize)
	assert.Equal(t, "random", c.Writeback)
	assert.Equal(t, 3, c.Skip)
	assert.Equal(t, 10, c.Take)
	assert.Equal(t, "/start", c.StartTouch)
	assert.Equal(t, "/stop", c.StopTouch)
}

func TestLoadRecordConfigDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("dsfsrecord", pflag.ContinueOnError)
	BindRecordFlags(fs)
	require.NoError(t, fs.Parse(nil))

	c, err := LoadRecordConfig(viper.New(), fs, "")
	require.NoError(t, err)

	assert.False(t, c.Echo)
	assert.Equal(t, "text", c.Logging.Format)
}

func TestLoadRecordConfigEcho(t *testing.T) {
	fs := pflag.NewFlagSet("dsfsrecord", pflag.ContinueOnError)
	BindRecordFlags(fs)
	require.NoError(t, fs.Parse([]string{"--echo", "--log-format=json"}))

	c, err := LoadRecordConfig(viper.New(), fs, "")
	require.NoError(t, err)

	assert.True(t, c.Echo)
	assert.Equal(t, "json", c.Logging.Format)
}
