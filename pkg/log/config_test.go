// Copyright The NRI Plugins Authors. All Rights Reserved.
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

package log

import (
	"testing"

	"github.com/stretchr/testify/require"

	cfgapi "github.com/containers/vram-quota/pkg/apis/config/v1alpha1/log"
)

func TestSrcmapParse(t *testing.T) {
	type testCase struct {
		name    string
		value   string
		result  srcmap
		invalid bool
	}

	for _, tc := range []*testCase{
		{
			name:   "empty",
			value:  "",
			result: srcmap{},
		},
		{
			name:   "implicit on",
			value:  "quota",
			result: srcmap{"quota": true},
		},
		{
			name:   "state carries over",
			value:  "on:quota,quota-details,off:shim,config",
			result: srcmap{"quota": true, "quota-details": true, "shim": false, "config": false},
		},
		{
			name:   "all",
			value:  "on:all,off:metrics",
			result: srcmap{"*": true, "metrics": false},
		},
		{
			name:    "bad state",
			value:   "maybe:quota",
			invalid: true,
		},
		{
			name:    "bad entry",
			value:   "on:quota:shim",
			invalid: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := srcmap{}
			err := m.parse(tc.value)
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.result, m)
		})
	}
}

func TestSrcmapEnabled(t *testing.T) {
	m := srcmap{"*": true, "metrics": false}
	require.True(t, m.enabled("quota"))
	require.False(t, m.enabled("metrics"))

	m = srcmap{"quota": true}
	require.True(t, m.enabled("quota"))
	require.False(t, m.enabled("shim"))
}

func TestSrcmapString(t *testing.T) {
	m := srcmap{}
	require.Equal(t, "", m.String())

	require.NoError(t, m.parse("on:shim,quota,off:metrics"))
	require.Equal(t, "on:quota,shim,off:metrics", m.String())

	parsed := srcmap{}
	require.NoError(t, parsed.parse(m.String()))
	require.Equal(t, m, parsed)
}

func TestParseLevel(t *testing.T) {
	type testCase struct {
		name    string
		level   Level
		invalid bool
	}

	for _, tc := range []*testCase{
		{name: "", level: LevelInfo},
		{name: "debug", level: LevelDebug},
		{name: "Info", level: LevelInfo},
		{name: "warning", level: LevelWarn},
		{name: "error", level: LevelError},
		{name: "loud", level: LevelInfo, invalid: true},
	} {
		t.Run("level "+tc.name, func(t *testing.T) {
			level, err := ParseLevel(tc.name)
			if tc.invalid {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.level, level)
		})
	}

	require.Equal(t, "warn", LevelWarn.String())
}

func TestConfigureLevel(t *testing.T) {
	t.Cleanup(func() {
		require.NoError(t, Configure(&cfgapi.Config{}))
	})

	require.NoError(t, Configure(&cfgapi.Config{Level: "error"}))
	log.RLock()
	require.Equal(t, LevelError, log.level)
	log.RUnlock()

	require.Error(t, Configure(&cfgapi.Config{Level: "chatty"}))

	require.NoError(t, Configure(&cfgapi.Config{}))
	log.RLock()
	require.Equal(t, DefaultLevel, log.level)
	log.RUnlock()
}

func TestConfigureDebug(t *testing.T) {
	a := Get("test-a")
	b := Get("test-b")

	require.NoError(t, Configure(&cfgapi.Config{
		Debug: []string{"on:test-a,test-d", "off:test-b"},
	}))
	require.True(t, a.DebugEnabled())
	require.False(t, b.DebugEnabled())
	require.True(t, DebugEnabled("test-a"))

	// loggers created later pick up the configuration
	require.True(t, Get("test-d").DebugEnabled())
	require.False(t, Get("test-c").DebugEnabled())

	old := b.EnableDebug(true)
	require.False(t, old)
	require.True(t, b.DebugEnabled())

	require.Error(t, Configure(&cfgapi.Config{Debug: []string{"sometimes:test-a"}}))

	require.NoError(t, Configure(&cfgapi.Config{}))
	require.False(t, a.DebugEnabled())
	require.False(t, b.DebugEnabled())
}
