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

package shim_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/containers/vram-quota/pkg/config"
	"github.com/containers/vram-quota/pkg/healthz"
	"github.com/containers/vram-quota/pkg/metrics"
	"github.com/containers/vram-quota/pkg/native"
	"github.com/containers/vram-quota/pkg/native/fake"
	"github.com/containers/vram-quota/pkg/quota"
	"github.com/containers/vram-quota/pkg/shim"
)

func envLookup(env map[string]string) config.Lookup {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func attach(t *testing.T, rt native.Runtime, drv native.Driver, env map[string]string) (*shim.Shim, *healthz.Registry, *metrics.Registry, error) {
	t.Helper()
	health := healthz.NewRegistry()
	mr := metrics.NewRegistry()
	s, err := shim.Attach(rt, drv, envLookup(env),
		shim.WithHealthRegistry(health),
		shim.WithMetricsRegistry(mr),
	)
	require.NotNil(t, s)
	return s, health, mr, err
}

func TestAttach(t *testing.T) {
	type testCase struct {
		name    string
		env     map[string]string
		file    string
		config  quota.Config
		invalid bool
	}

	for _, tc := range []*testCase{
		{
			name: "defaults",
			config: quota.Config{
				Limit:  quota.DefaultLimit,
				Device: 2,
			},
		},
		{
			name: "limit, prefetch, device",
			env: map[string]string{
				config.EnvLimit:    "1048576",
				config.EnvPrefetch: "",
				config.EnvDevice:   "1",
			},
			config: quota.Config{
				Limit:    1 << 20,
				Prefetch: true,
				Device:   1,
			},
		},
		{
			name: "quantity limit",
			env: map[string]string{
				config.EnvLimit: "512Mi",
			},
			config: quota.Config{
				Limit:  512 << 20,
				Device: 2,
			},
		},
		{
			name: "zero limit keeps default",
			env: map[string]string{
				config.EnvLimit: "0",
			},
			config: quota.Config{
				Limit:  quota.DefaultLimit,
				Device: 2,
			},
			invalid: true,
		},
		{
			name: "garbage limit keeps default",
			env: map[string]string{
				config.EnvLimit: "lots",
			},
			config: quota.Config{
				Limit:  quota.DefaultLimit,
				Device: 2,
			},
			invalid: true,
		},
		{
			name: "disabled by presence",
			env: map[string]string{
				config.EnvDisable: "",
			},
			config: quota.Config{
				Limit:    quota.DefaultLimit,
				Disabled: true,
			},
		},
		{
			name: "file with env override",
			file: `
apiVersion: config.vram-quota.io/v1alpha1
kind: VRAMQuota
spec:
  limit: 2Gi
  prefetch: true
  device: 5
`,
			env: map[string]string{
				config.EnvLimit: "1024",
			},
			config: quota.Config{
				Limit:    1024,
				Prefetch: true,
				Device:   5,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := map[string]string{}
			for k, v := range tc.env {
				env[k] = v
			}
			if tc.file != "" {
				path := filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tc.file), 0o644))
				env[config.EnvConfigFile] = path
			}

			dev := fake.NewDevice(deviceCapacity, fake.WithDevice(2))
			s, _, _, err := attach(t, dev, dev, env)
			if tc.invalid {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.config, s.Config())
			require.Equal(t, tc.config.Limit, s.AllocationInfo().Limit)
		})
	}
}

func TestAttachDeviceQueryFailure(t *testing.T) {
	dev := fake.NewDevice(deviceCapacity, fake.WithDevice(4))
	dev.Fail(fake.OpGetDevice, native.ErrorInitializationError)

	s, _, _, err := attach(t, dev, dev, nil)
	require.NoError(t, err)
	require.Equal(t, 0, s.Config().Device)
}

func TestAttachRegistersHealthChecker(t *testing.T) {
	dev := fake.NewDevice(deviceCapacity)
	_, health, _, err := attach(t, dev, dev, nil)
	require.NoError(t, err)

	status, details := health.Check()
	require.Equal(t, healthz.Healthy, status)
	require.Empty(t, details)

	funcs := native.RuntimeFuncsFrom(dev)
	funcs.MallocAsync = nil
	_, health, _, err = attach(t, native.NewRuntimeTable(funcs), dev, nil)
	require.NoError(t, err)
	status, details = health.Check()
	require.Equal(t, healthz.Degraded, status)
	require.Contains(t, details[shim.HealthCheckerName].Error(), "cudaMallocAsync")

	_, health, _, err = attach(t, nil, nil, nil)
	require.NoError(t, err)
	status, _ = health.Check()
	require.Equal(t, healthz.NonFunctional, status)
}

func TestAttachRegistersMetrics(t *testing.T) {
	dev := fake.NewDevice(deviceCapacity)
	s, _, mr, err := attach(t, dev, dev, map[string]string{config.EnvLimit: "100"})
	require.NoError(t, err)

	var ptr native.DevicePtr
	require.NoError(t, s.Malloc(&ptr, 60))
	require.Error(t, s.Malloc(&ptr, 60))

	g, err := mr.NewGatherer(
		metrics.WithNamespace("test"),
		metrics.WithMetrics([]string{quota.MetricsGroup}, nil),
	)
	require.NoError(t, err)
	defer g.Stop()

	families, err := g.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[f.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[f.GetName()] = m.GetCounter().GetValue()
			}
		}
	}

	require.Equal(t, 60.0, values["test_vram_allocated_bytes"])
	require.Equal(t, 100.0, values["test_vram_limit_bytes"])
	require.Equal(t, 1.0, values["test_vram_allocations"])
	require.Equal(t, 1.0, values["test_vram_violations_total"])
	require.Equal(t, 60.0, values["test_vram_rejected_bytes_total"])
}

func TestAttachDisabledSkipsMetrics(t *testing.T) {
	dev := fake.NewDevice(deviceCapacity)
	_, _, mr, err := attach(t, dev, dev, map[string]string{config.EnvDisable: "1"})
	require.NoError(t, err)

	g, err := mr.NewGatherer(metrics.WithNamespace("test"))
	require.NoError(t, err)
	defer g.Stop()

	families, err := g.Gather()
	require.NoError(t, err)
	require.Empty(t, families)
}
