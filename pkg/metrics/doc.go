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

// Package metrics provides a thin layer over prometheus for registering,
// grouping, and selectively enabling collectors. Collectors are registered
// by name into groups. A Gatherer enables the collectors matching a set of
// globs, prefixes metric names with a namespace and the group name, and
// periodically polls collectors which are too expensive to collect on every
// scrape.
//
// Simple usage:
//
//	metrics.MustRegister("usage", collector, metrics.WithGroup("vram"))
//
//	g, err := metrics.NewGatherer(
//	    metrics.WithNamespace("hypercore"),
//	    metrics.WithMetrics([]string{"vram", "standard"}, nil),
//	)
//	if err != nil {
//	    return err
//	}
//
//	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
package metrics
