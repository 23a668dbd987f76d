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

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/containers/vram-quota/pkg/config"
	"github.com/containers/vram-quota/pkg/quota"
)

func lookup(env map[string]string) config.Lookup {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vram-quota.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseLimit(t *testing.T) {
	type testCase struct {
		name   string
		value  string
		limit  uint64
		failed bool
	}

	for _, tc := range []*testCase{
		{name: "bytes", value: "1073741824", limit: 1 << 30},
		{name: "bytes with spaces", value: " 4096 ", limit: 4096},
		{name: "binary quantity", value: "3Gi", limit: 3 << 30},
		{name: "decimal quantity", value: "2M", limit: 2000000},
		{name: "zero", value: "0", failed: true},
		{name: "zero quantity", value: "0Gi", failed: true},
		{name: "negative", value: "-1", failed: true},
		{name: "garbage", value: "plenty", failed: true},
		{name: "empty", value: "", failed: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			limit, err := config.ParseLimit(tc.value)
			if tc.failed {
				require.ErrorIs(t, err, config.ErrInvalidLimit)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.limit, limit)
		})
	}
}

func TestLoad(t *testing.T) {
	type testCase struct {
		name      string
		env       map[string]string
		file      string
		config    quota.Config
		deviceSet bool
		failed    error
	}

	for _, tc := range []*testCase{
		{
			name:   "defaults",
			config: quota.DefaultConfig(),
		},
		{
			name: "presence flags with empty values",
			env: map[string]string{
				config.EnvDisable:  "",
				config.EnvPrefetch: "",
			},
			config: quota.Config{
				Limit:    quota.DefaultLimit,
				Prefetch: true,
				Disabled: true,
			},
		},
		{
			name: "presence flags with false values",
			env: map[string]string{
				config.EnvDisable:  "0",
				config.EnvPrefetch: "false",
			},
			config: quota.Config{
				Limit:    quota.DefaultLimit,
				Prefetch: true,
				Disabled: true,
			},
		},
		{
			name: "limit and device",
			env: map[string]string{
				config.EnvLimit:  "1000",
				config.EnvDevice: "3",
			},
			config: quota.Config{
				Limit:  1000,
				Device: 3,
			},
			deviceSet: true,
		},
		{
			name: "empty limit is ignored",
			env: map[string]string{
				config.EnvLimit: "",
			},
			config: quota.DefaultConfig(),
		},
		{
			name: "invalid limit",
			env: map[string]string{
				config.EnvLimit: "0",
			},
			config: quota.DefaultConfig(),
			failed: config.ErrInvalidLimit,
		},
		{
			name: "negative device",
			env: map[string]string{
				config.EnvLimit:  "2048",
				config.EnvDevice: "-1",
			},
			config: quota.Config{
				Limit: 2048,
			},
			failed: config.ErrInvalidDevice,
		},
		{
			name: "file only",
			file: `
apiVersion: config.vram-quota.io/v1alpha1
kind: VRAMQuota
spec:
  limit: 1Gi
  prefetch: true
  device: 1
`,
			config: quota.Config{
				Limit:    1 << 30,
				Prefetch: true,
				Device:   1,
			},
			deviceSet: true,
		},
		{
			name: "environment overrides file",
			file: `
spec:
  limit: 1Gi
  device: 1
  disabled: false
`,
			env: map[string]string{
				config.EnvLimit:   "512Mi",
				config.EnvDevice:  "2",
				config.EnvDisable: "",
			},
			config: quota.Config{
				Limit:    512 << 20,
				Device:   2,
				Disabled: true,
			},
			deviceSet: true,
		},
		{
			name: "invalid file value",
			file: `
spec:
  limit: "0"
  prefetch: true
`,
			config: quota.Config{
				Limit:    quota.DefaultLimit,
				Prefetch: true,
			},
			failed: config.ErrInvalidLimit,
		},
		{
			name: "unknown file field",
			file: `
spec:
  limmit: 1Gi
`,
			config: quota.DefaultConfig(),
			failed: config.ErrInvalidFile,
		},
		{
			name: "wrong kind",
			file: `
kind: Pod
spec:
  limit: 1Gi
`,
			config: quota.DefaultConfig(),
			failed: config.ErrInvalidFile,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := map[string]string{}
			for k, v := range tc.env {
				env[k] = v
			}
			if tc.file != "" {
				env[config.EnvConfigFile] = writeFile(t, tc.file)
			}

			s, err := config.Load(lookup(env))
			require.NotNil(t, s)
			if tc.failed != nil {
				require.ErrorIs(t, err, tc.failed)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.config, s.Quota)
			require.Equal(t, tc.deviceSet, s.DeviceSet)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	s, err := config.Load(lookup(map[string]string{
		config.EnvConfigFile: path,
		config.EnvLimit:      "100",
	}))
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Equal(t, uint64(100), s.Quota.Limit)
	require.Empty(t, s.File)
}

func TestLoadFileSections(t *testing.T) {
	path := writeFile(t, `
spec:
  limit: 1Gi
  log:
    debug:
      - quota
  instrumentation:
    httpEndpoint: ":8891"
`)

	s, err := config.Load(lookup(map[string]string{config.EnvConfigFile: path}))
	require.NoError(t, err)
	require.Equal(t, path, s.File)
	require.NotNil(t, s.Log)
	require.Equal(t, []string{"quota"}, s.Log.Debug)
	require.NotNil(t, s.Instrumentation)
	require.Equal(t, ":8891", s.Instrumentation.HTTPEndpoint)

	path = writeFile(t, "spec:\n  limit: 1Gi\n")
	s, err = config.Load(lookup(map[string]string{config.EnvConfigFile: path}))
	require.NoError(t, err)
	require.Nil(t, s.Log)
	require.Nil(t, s.Instrumentation)
}
