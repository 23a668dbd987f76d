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

package quota

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/containers/vram-quota/pkg/metrics"
)

const (
	// MetricsGroup is the metrics group quota collectors are registered in.
	MetricsGroup = "vram"
)

// Collector exports quota usage as prometheus metrics.
type Collector struct {
	e           *Enforcer
	allocated   *prometheus.Desc
	limit       *prometheus.Desc
	allocations *prometheus.Desc
	violations  *prometheus.Desc
	rejected    *prometheus.Desc
}

var _ prometheus.Collector = &Collector{}

// NewCollector creates a collector for the given enforcer.
func NewCollector(e *Enforcer) *Collector {
	return &Collector{
		e: e,
		allocated: prometheus.NewDesc("allocated_bytes",
			"Bytes of device memory in tracked allocations.", nil, nil),
		limit: prometheus.NewDesc("limit_bytes",
			"Configured device memory quota in bytes.", nil, nil),
		allocations: prometheus.NewDesc("allocations",
			"Number of tracked device memory allocations.", nil, nil),
		violations: prometheus.NewDesc("violations_total",
			"Number of allocation requests rejected for exceeding the quota.", nil, nil),
		rejected: prometheus.NewDesc("rejected_bytes_total",
			"Total bytes requested by rejected allocation requests.", nil, nil),
	}
}

// RegisterMetrics registers a collector for the enforcer with the given registry.
func (e *Enforcer) RegisterMetrics(r *metrics.Registry) error {
	return r.Register("usage", NewCollector(e), metrics.WithGroup(MetricsGroup))
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.allocated
	ch <- c.limit
	ch <- c.allocations
	ch <- c.violations
	ch <- c.rejected
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.e.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.allocated, prometheus.GaugeValue, float64(s.Allocated))
	ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(s.Limit))
	ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.GaugeValue, float64(s.Allocations))
	ch <- prometheus.MustNewConstMetric(c.violations, prometheus.CounterValue, float64(s.Violations))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(c.e.RejectedBytes()))
}
