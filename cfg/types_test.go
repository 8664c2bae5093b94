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
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSeverityUnmarshalling(t *testing.T) {
	t.Parallel()
	tests := []struct {
		str      string
		expected LogSeverity
		wantErr  bool
	}{
		{str: "TRACE", expected: "TRACE"},
		{str: "info", expected: "INFO"},
		{str: "debUG", expected: "DEBUG"},
		{str: "waRniNg", expected: "WARNING"},
		{str: "OFF", expected: "OFF"},
		{str: "ERROR", expected: "ERROR"},
		{str: "EMPEROR", wantErr: true},
	}

	for idx, tc := range tests {
		tc := tc
		t.Run(fmt.Sprintf("log-severity-unmarshalling: %d", idx), func(t *testing.T) {
			t.Parallel()
			var l LogSeverity

			err := (&l).UnmarshalText([]byte(tc.str))

			if tc.wantErr {
				assert.Error(t, err)
			} else if assert.NoError(t, err) {
				assert.Equal(t, tc.expected, l)
			}
		})
	}
}

func TestLogSeverityRank(t *testing.T) {
	t.Parallel()
	assert.True(t, TraceLogSeverity.Rank() < DebugLogSeverity.Rank())
	assert.True(t, DebugLogSeverity.Rank() < InfoLogSeverity.Rank())
	assert.True(t, InfoLogSeverity.Rank() < WarningLogSeverity.Rank())
	assert.True(t, WarningLogSeverity.Rank() < ErrorLogSeverity.Rank())
	assert.True(t, ErrorLogSeverity.Rank() < OffLogSeverity.Rank())
	assert.Equal(t, -1, LogSeverity("bogus").Rank())
}

func TestResolvedPathUnmarshalling(t *testing.T) {
	t.Parallel()

	t.Run("empty text leaves the path empty", func(t *testing.T) {
		t.Parallel()
		var p ResolvedPath
		require.NoError(t, (&p).UnmarshalText(nil))
		assert.Equal(t, ResolvedPath(""), p)
	})

	t.Run("relative path is resolved to absolute", func(t *testing.T) {
		t.Parallel()
		var p ResolvedPath
		require.NoError(t, (&p).UnmarshalText([]byte("a/test.txt")))
		assert.True(t, filepath.IsAbs(string(p)))
	})

	t.Run("already-absolute path is preserved", func(t *testing.T) {
		t.Parallel()
		var p ResolvedPath
		require.NoError(t, (&p).UnmarshalText([]byte("/a/test.txt")))
		assert.Equal(t, ResolvedPath("/a/test.txt"), p)
	})
}
