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

package shim

import (
	"fmt"
	"strings"

	instcfg "github.com/containers/vram-quota/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/containers/vram-quota/pkg/config"
	"github.com/containers/vram-quota/pkg/healthz"
	logger "github.com/containers/vram-quota/pkg/log"
	"github.com/containers/vram-quota/pkg/metrics"
	"github.com/containers/vram-quota/pkg/native"
)

const (
	// HealthCheckerName is the name of the health checker of the shim.
	HealthCheckerName = "native-capability"
)

// AttachOption is an opaque option for Attach.
type AttachOption func(*attachOptions)

type attachOptions struct {
	metrics  *metrics.Registry
	health   *healthz.Registry
	shimOpts []Option
}

// WithMetricsRegistry sets the registry to register quota metrics with.
// By default the metrics.Default() registry is used.
func WithMetricsRegistry(r *metrics.Registry) AttachOption {
	return func(o *attachOptions) {
		o.metrics = r
	}
}

// WithHealthRegistry sets the registry to register the health checker with.
// By default the healthz.Default() registry is used.
func WithHealthRegistry(r *healthz.Registry) AttachOption {
	return func(o *attachOptions) {
		o.health = r
	}
}

// WithShimOptions passes the given options to New.
func WithShimOptions(options ...Option) AttachOption {
	return func(o *attachOptions) {
		o.shimOpts = append(o.shimOpts, options...)
	}
}

// Attach sets up the shim for a process. It loads the configuration using
// lookup, resolves the device to use for prefetch hints, and registers the
// health checker and quota metrics of the shim. Configuration errors do not
// prevent attaching: invalid settings are ignored and reported in the
// returned error along with a usable Shim.
func Attach(rt native.Runtime, drv native.Driver, lookup config.Lookup, options ...AttachOption) (*Shim, error) {
	o := &attachOptions{
		metrics: metrics.Default(),
		health:  healthz.Default(),
	}
	for _, opt := range options {
		opt(o)
	}

	settings, cfgErr := config.Load(lookup)
	if settings.Log != nil {
		if err := logger.Configure(settings.Log); err != nil {
			log.Warn("failed to configure logging: %v", err)
		}
	}

	if rt == nil {
		rt = native.NewRuntimeTable(native.RuntimeFuncs{})
	}

	cfg := settings.Quota
	if !cfg.Disabled && !settings.DeviceSet {
		id, err := rt.GetDevice()
		if err != nil {
			log.Debug("failed to query current device, using %d: %v", cfg.Device, err)
		} else {
			cfg.Device = id
		}
	}

	s := New(cfg, rt, drv, o.shimOpts...)
	s.inst = settings.Instrumentation

	if cfg.Disabled {
		log.Info("CUDA shim disabled, passing all calls through")
	} else {
		log.Info("CUDA shim initialized: limit=%d bytes, prefetch=%v, device=%d",
			cfg.Limit, cfg.Prefetch, cfg.Device)
	}

	if o.health != nil {
		if err := o.health.Register(HealthCheckerName, s.CheckHealth); err != nil {
			log.Warn("failed to register health checker: %v", err)
		}
	}
	if o.metrics != nil && !cfg.Disabled {
		if err := s.enforcer.RegisterMetrics(o.metrics); err != nil {
			log.Warn("failed to register metrics: %v", err)
		}
	}

	return s, cfgErr
}

// Instrumentation returns a copy of the instrumentation configuration the
// shim was attached with, or nil if none was given.
func (s *Shim) Instrumentation() *instcfg.Config {
	if s.inst == nil {
		return nil
	}
	cfg := *s.inst
	return &cfg
}

// missingEntries is implemented by function tables with unresolved entries.
type missingEntries interface {
	Missing() []string
}

// CheckHealth checks that the real entry points needed by the shim have
// been resolved. Missing allocation or free entry points render the shim
// non-functional, others degrade it.
func (s *Shim) CheckHealth() (healthz.Status, error) {
	var missing []string

	if t, ok := s.rt.(missingEntries); ok {
		missing = append(missing, t.Missing()...)
	}
	if t, ok := s.drv.(missingEntries); ok {
		missing = append(missing, t.Missing()...)
	}

	if len(missing) == 0 {
		return healthz.Healthy, nil
	}

	status := healthz.Degraded
	for _, name := range missing {
		if s.isEssential(name) {
			status = healthz.NonFunctional
			break
		}
	}

	return status, fmt.Errorf("unresolved entry points: %s", strings.Join(missing, ", "))
}

// isEssential returns true if the named entry point is used by every call
// of its kind in the current mode.
func (s *Shim) isEssential(name string) bool {
	if s.cfg.Disabled {
		return name == "cudaMalloc" || name == "cudaFree"
	}
	return name == "cudaMallocManaged" || name == "cudaFree"
}
