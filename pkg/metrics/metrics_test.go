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


package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	model "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/containers/vram-quota/pkg/metrics"
)

func TestMetricNames(t *testing.T) {
	type testCase struct {
		name      string
		namespace string
		options   []metrics.RegisterOption
		metric    string
	}

	for _, tc := range []*testCase{
		{
			name:   "default group prefix",
			metric: "default_allocated",
		},
		{
			name:    "group prefix",
			options: []metrics.RegisterOption{metrics.WithGroup("vram")},
			metric:  "vram_allocated",
		},
		{
			name:      "namespace and group prefix",
			namespace: "hypercore",
			options:   []metrics.RegisterOption{metrics.WithGroup("vram")},
			metric:    "hypercore_vram_allocated",
		},
		{
			name:      "no group prefix",
			namespace: "hypercore",
			options: []metrics.RegisterOption{
				metrics.WithGroup("vram"),
				metrics.WithCollectorOptions(metrics.WithoutSubsystem()),
			},
			metric: "hypercore_allocated",
		},
		{
			name:      "no prefixes",
			namespace: "hypercore",
			options: []metrics.RegisterOption{
				metrics.WithGroup("vram"),
				metrics.WithCollectorOptions(
					metrics.WithoutNamespace(),
					metrics.WithoutSubsystem(),
				),
			},
			metric: "allocated",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := metrics.NewRegistry()
			newTestGauge(t, r, "allocated", tc.options...).Set(42)

			g, err := r.NewGatherer(
				metrics.WithNamespace(tc.namespace),
				metrics.WithMetrics([]string{"*"}, nil),
			)
			require.NoError(t, err)
			defer g.Stop()

			require.Equal(t, map[string]float64{tc.metric: 42}, gather(t, g))
		})
	}
}

func TestMetricSelection(t *testing.T) {
	type testCase struct {
		name    string
		enabled []string
		result  []string
		invalid bool
	}

	for _, tc := range []*testCase{
		{
			name:    "nothing",
			enabled: nil,
			result:  []string{},
		},
		{
			name:    "everything",
			enabled: []string{"*"},
			result:  []string{"vram_allocated", "vram_limit", "host_pinned", "host_pageable"},
		},
		{
			name:    "by group",
			enabled: []string{"vram"},
			result:  []string{"vram_allocated", "vram_limit"},
		},
		{
			name:    "by name",
			enabled: []string{"limit", "pinned"},
			result:  []string{"vram_limit", "host_pinned"},
		},
		{
			name:    "by qualified glob",
			enabled: []string{"host/p*"},
			result:  []string{"host_pinned", "host_pageable"},
		},
		{
			name:    "unmatched",
			enabled: []string{"vram", "gpu"},
			invalid: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := metrics.NewRegistry()
			newTestGauge(t, r, "allocated", metrics.WithGroup("vram"))
			newTestGauge(t, r, "limit", metrics.WithGroup("vram"))
			newTestGauge(t, r, "pinned", metrics.WithGroup("host"))
			newTestGauge(t, r, "pageable", metrics.WithGroup("host"))

			g, err := r.NewGatherer(metrics.WithMetrics(tc.enabled, nil))
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer g.Stop()

			var names []string
			for name := range gather(t, g) {
				names = append(names, name)
			}
			require.ElementsMatch(t, tc.result, names)
		})
	}
}

func TestUpdatedValues(t *testing.T) {
	r := metrics.NewRegistry()
	allocated := newTestGauge(t, r, "allocated", metrics.WithGroup("vram"))
	limit := newTestGauge(t, r, "limit", metrics.WithGroup("vram"))

	g, err := r.NewGatherer(metrics.WithMetrics([]string{"vram"}, nil))
	require.NoError(t, err)
	defer g.Stop()

	require.Equal(t, map[string]float64{"vram_allocated": 0, "vram_limit": 0}, gather(t, g))

	allocated.Add(1024)
	limit.Set(4096)
	require.Equal(t, map[string]float64{"vram_allocated": 1024, "vram_limit": 4096}, gather(t, g))

	allocated.Sub(512)
	require.Equal(t, map[string]float64{"vram_allocated": 512, "vram_limit": 4096}, gather(t, g))
}

func TestPolledCollection(t *testing.T) {
	r := metrics.NewRegistry()
	live := newTestPolled(t, r, "live", metrics.WithGroup("vram"))
	direct := newTestGauge(t, r, "limit", metrics.WithGroup("vram"))

	// no poll interval, polling only happens when asked for
	g, err := r.NewGatherer(
		metrics.WithMetrics([]string{"limit"}, []string{"live"}),
		metrics.WithPollInterval(0),
	)
	require.NoError(t, err)
	defer g.Stop()
	require.True(t, r.State().IsPolled())

	live.Store(3)
	direct.Set(100)
	require.Equal(t, map[string]float64{"vram_limit": 100}, gather(t, g),
		"nothing polled yet")

	g.Poll()
	require.Equal(t, map[string]float64{"vram_live": 3, "vram_limit": 100}, gather(t, g))

	live.Store(5)
	direct.Set(200)
	require.Equal(t, map[string]float64{"vram_live": 3, "vram_limit": 200}, gather(t, g),
		"polled value is cached")

	g.Poll()
	require.Equal(t, map[string]float64{"vram_live": 5, "vram_limit": 200}, gather(t, g))
}

func TestPolledByRegistration(t *testing.T) {
	r := metrics.NewRegistry()
	live := newTestPolled(t, r, "live", metrics.WithGroup("vram"),
		metrics.WithCollectorOptions(metrics.WithPolled()))

	g, err := r.NewGatherer(
		metrics.WithMetrics([]string{"vram"}, nil),
		metrics.WithPollInterval(0),
	)
	require.NoError(t, err)
	defer g.Stop()

	live.Store(7)
	require.Empty(t, gather(t, g))
	g.Poll()
	require.Equal(t, map[string]float64{"vram_live": 7}, gather(t, g))
}

func TestRegisterConflict(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "allocated", metrics.WithGroup("vram"))
	err := r.Register("allocated", prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "allocated",
		Help: "Duplicate gauge",
	}), metrics.WithGroup("vram"))
	require.Error(t, err)

	newTestGauge(t, r, "allocated", metrics.WithGroup("host"))
}

func TestUnmatchedConfiguration(t *testing.T) {
	r := metrics.NewRegistry()
	newTestGauge(t, r, "allocated", metrics.WithGroup("vram"))

	state, err := r.Configure([]string{"vram", "gpu"}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "gpu")
	require.True(t, state.IsEnabled())
	require.False(t, state.IsPolled())

	state, err = r.Configure(nil, []string{"vram/*"})
	require.NoError(t, err)
	require.True(t, state.IsEnabled())
	require.True(t, state.IsPolled())
	require.Equal(t, state, r.State())
}

func TestHTTPExposition(t *testing.T) {
	r := metrics.NewRegistry()
	newTestGauge(t, r, "allocated", metrics.WithGroup("vram")).Set(2048)

	g, err := r.NewGatherer(
		metrics.WithNamespace("hypercore"),
		metrics.WithMetrics([]string{"*"}, nil),
	)
	require.NoError(t, err)
	defer g.Stop()

	srv := httptest.NewServer(promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorHandling: promhttp.PanicOnError,
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "# TYPE hypercore_vram_allocated gauge")
	require.Contains(t, string(body), "hypercore_vram_allocated 2048")
}

func newTestGauge(t *testing.T, r *metrics.Registry, name string, options ...metrics.RegisterOption) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: "Test gauge " + name,
	})
	require.NoError(t, r.Register(name, g, options...))
	return g
}

// testPolled reports the value it was last set to when collected.
type testPolled struct {
	desc *prometheus.Desc
	atomic.Int64
}

func newTestPolled(t *testing.T, r *metrics.Registry, name string, options ...metrics.RegisterOption) *testPolled {
	p := &testPolled{
		desc: prometheus.NewDesc(name, "Test polled gauge "+name, nil, nil),
	}
	require.NoError(t, r.Register(name, p, options...))
	return p
}

func (p *testPolled) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.desc
}

func (p *testPolled) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(p.desc, prometheus.GaugeValue, float64(p.Load()))
}

// gather returns the gauge values gathered, by metric name.
func gather(t *testing.T, g prometheus.Gatherer) map[string]float64 {
	families, err := g.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		require.Equal(t, model.MetricType_GAUGE, f.GetType())
		for _, m := range f.GetMetric() {
			values[f.GetName()] = m.GetGauge().GetValue()
		}
	}
	return values
}
