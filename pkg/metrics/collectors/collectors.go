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

// Package collectors provides the standard collectors exported alongside
// the quota metrics: build and version info, and Go runtime and process
// statistics of the host process.
package collectors

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/containers/vram-quota/pkg/metrics"
	"github.com/containers/vram-quota/pkg/version"
)

const (
	// GroupName is the group the standard collectors are registered in.
	GroupName = "standard"
)

// NewVersionInfoCollector returns a constant gauge labeled with build info.
func NewVersionInfoCollector(v, b string) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "version_info",
			Help: "A metric with constant '1' value labeled by version and build info.",
			ConstLabels: prometheus.Labels{
				"version": v,
				"build":   b,
			},
		},
		func() float64 { return 1 },
	)
}

// Register registers the standard collectors with the given registry.
func Register(r *metrics.Registry) error {
	var (
		standard = []struct {
			name      string
			collector prometheus.Collector
		}{
			{"buildinfo", collectors.NewBuildInfoCollector()},
			{"golang", collectors.NewGoCollector()},
			{"process", collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})},
			{"versioninfo", NewVersionInfoCollector(version.Version, version.Build)},
		}
		options = []metrics.RegisterOption{
			metrics.WithGroup(GroupName),
			metrics.WithCollectorOptions(
				metrics.WithoutNamespace(),
				metrics.WithoutSubsystem(),
			),
		}
	)

	for _, s := range standard {
		if err := r.Register(s.name, s.collector, options...); err != nil {
			return fmt.Errorf("failed to register %s collector: %w", s.name, err)
		}
	}

	return nil
}
