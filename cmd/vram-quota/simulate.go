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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	instcfg "github.com/containers/vram-quota/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/containers/vram-quota/pkg/config"
	"github.com/containers/vram-quota/pkg/healthz"
	"github.com/containers/vram-quota/pkg/instrumentation"
	"github.com/containers/vram-quota/pkg/metrics"
	"github.com/containers/vram-quota/pkg/metrics/collectors"
	"github.com/containers/vram-quota/pkg/native"
	"github.com/containers/vram-quota/pkg/native/fake"
	"github.com/containers/vram-quota/pkg/quota"
	"github.com/containers/vram-quota/pkg/shim"
)

// simOptions are the parameters of a simulated workload.
type simOptions struct {
	capacity string
	limit    string
	maxSize  string
	workers  int
	requests int
	rate     float64
	latency  time.Duration
	endpoint string
	linger   time.Duration
	seed     int64
	keep     bool
	dump     bool
}

func init() {
	rootCmd.AddCommand(newSimulateCmd())
}

func newSimulateCmd() *cobra.Command {
	o := &simOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated workload through the shim",
		Long: `The simulate command attaches the shim, configured from the environment,
to a simulated device and runs concurrent workers allocating and freeing
device memory through it. It reports how many requests the quota admitted
and rejected. Quota metrics and health checks can be served over HTTP while
the simulation runs.

Example:
  vram-quota simulate --limit 1Gi --workers 8 --requests 500
  HYPERCORE_PREFETCH=1 vram-quota simulate --endpoint :8891 --linger 1m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
			defer cancel()

			report, err := runSimulation(ctx, o, os.LookupEnv)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), report)
		},
	}

	o.addFlags(cmd.Flags())

	return cmd
}

// addFlags adds the workload parameters to the given flag set.
func (o *simOptions) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.capacity, "capacity", "16Gi", "Memory capacity of the simulated device")
	flags.StringVar(&o.limit, "limit", "", "Quota, overriding the environment")
	flags.StringVar(&o.maxSize, "max-size", "64Mi", "Largest allocation requested")
	flags.IntVar(&o.workers, "workers", 4, "Number of concurrent workers")
	flags.IntVar(&o.requests, "requests", 1000, "Number of allocation requests per worker")
	flags.Float64Var(&o.rate, "rate", 0, "Allocation requests per second across all workers, 0 for no limit")
	flags.DurationVar(&o.latency, "latency", 0, "Latency of simulated device calls")
	flags.StringVar(&o.endpoint, "endpoint", "", "HTTP endpoint for serving metrics and health checks, overriding the configuration file")
	flags.DurationVar(&o.linger, "linger", 0, "Time to keep serving after the simulation is done")
	flags.Int64Var(&o.seed, "seed", 1, "Random seed of the simulated workload")
	flags.BoolVar(&o.keep, "keep", false, "Do not free live allocations at the end")
	flags.BoolVar(&o.dump, "dump-metrics", false, "Include the final quota metrics in the report")
}

// simReport is the outcome of a simulated workload.
type simReport struct {
	Requests uint64         `json:"requests"`
	Admitted uint64         `json:"admitted"`
	Rejected uint64         `json:"rejected"`
	Failed   uint64         `json:"failed"`
	Elapsed  string         `json:"elapsed"`
	Usage    quota.Snapshot `json:"usage"`
	Device   deviceUsage    `json:"device"`
	Metrics  string         `json:"metrics,omitempty"`
}

type deviceUsage struct {
	Used        uint64 `json:"used"`
	Allocations int    `json:"allocations"`
	Prefetches  int    `json:"prefetches"`
}

// WriteText writes the report in human-readable form.
func (r *simReport) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"requests:  %d in %s\nadmitted:  %d\nrejected:  %d\nfailed:    %d\nusage:     %s\ndevice:    %s in %d allocations, %d prefetches\n",
		r.Requests, r.Elapsed, r.Admitted, r.Rejected, r.Failed, r.Usage,
		quota.HumanReadableSize(r.Device.Used), r.Device.Allocations, r.Device.Prefetches)
	if err != nil || r.Metrics == "" {
		return err
	}
	_, err = fmt.Fprintf(w, "metrics:\n%s", r.Metrics)
	return err
}

// liveAlloc is an allocation held by a simulated worker.
type liveAlloc struct {
	ptr    native.DevicePtr
	driver bool
}

type simulation struct {
	o        *simOptions
	s        *shim.Shim
	limiter  *rate.Limiter
	maxSize  uint64
	admitted *atomic.Uint64
	rejected *atomic.Uint64
	failed   *atomic.Uint64
}

func runSimulation(ctx context.Context, o *simOptions, lookup config.Lookup) (*simReport, error) {
	if o.workers < 1 || o.requests < 0 {
		return nil, fmt.Errorf("invalid workload: %d workers, %d requests", o.workers, o.requests)
	}

	capacity, err := config.ParseLimit(o.capacity)
	if err != nil {
		return nil, fmt.Errorf("invalid device capacity: %w", err)
	}
	maxSize, err := config.ParseLimit(o.maxSize)
	if err != nil {
		return nil, fmt.Errorf("invalid maximum allocation size: %w", err)
	}
	if maxSize > math.MaxInt64 {
		return nil, fmt.Errorf("invalid maximum allocation size: %d, must not exceed %d",
			maxSize, int64(math.MaxInt64))
	}
	if o.limit != "" {
		if _, err := config.ParseLimit(o.limit); err != nil {
			return nil, err
		}
		lookup = overrideLookup(lookup, map[string]string{config.EnvLimit: o.limit})
	}

	var (
		dev = fake.NewDevice(capacity, fake.WithLatency(o.latency))
		mr  = metrics.NewRegistry()
		hr  = healthz.NewRegistry()
	)

	// configuration problems are logged when loading, and do not stop us
	s, _ := shim.Attach(dev, dev, lookup,
		shim.WithMetricsRegistry(mr),
		shim.WithHealthRegistry(hr),
	)

	srv, err := startInstrumentation(s, o.endpoint, mr, hr)
	if err != nil {
		return nil, err
	}
	if srv != nil {
		defer srv.Stop()
	}

	limiter := rate.NewLimiter(rate.Inf, o.workers)
	if o.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.rate), o.workers)
	}

	sim := &simulation{
		o:        o,
		s:        s,
		limiter:  limiter,
		maxSize:  maxSize,
		admitted: atomic.NewUint64(0),
		rejected: atomic.NewUint64(0),
		failed:   atomic.NewUint64(0),
	}

	start := time.Now()
	wg := sync.WaitGroup{}
	for id := 0; id < o.workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			sim.worker(ctx, id)
		}(id)
	}
	wg.Wait()
	elapsed := time.Since(start)

	s.Enforcer().DumpState("simulation done: ")

	report := &simReport{
		Admitted: sim.admitted.Load(),
		Rejected: sim.rejected.Load(),
		Failed:   sim.failed.Load(),
		Elapsed:  elapsed.Round(time.Millisecond).String(),
		Usage:    s.AllocationInfo(),
		Device: deviceUsage{
			Used:        dev.Used(),
			Allocations: dev.Live(),
			Prefetches:  len(dev.Prefetches()),
		},
	}
	report.Requests = report.Admitted + report.Rejected + report.Failed

	if o.dump && !s.Disabled() {
		if report.Metrics, err = dumpMetrics(mr); err != nil {
			return nil, err
		}
	}

	if srv != nil && o.linger > 0 {
		log.Info("simulation done, serving on %s for %s", srv.Address(), o.linger)
		select {
		case <-ctx.Done():
		case <-time.After(o.linger):
		}
	}

	return report, nil
}

func (sim *simulation) worker(ctx context.Context, id int) {
	var (
		rnd  = rand.New(rand.NewSource(sim.o.seed + int64(id)))
		live []liveAlloc
	)

	for i := 0; i < sim.o.requests; i++ {
		if err := sim.limiter.Wait(ctx); err != nil {
			break
		}

		var (
			size   = 1 + uint64(rnd.Int63n(int64(sim.maxSize)))
			driver = rnd.Intn(5) == 0
			ptr    native.DevicePtr
			err    error
		)

		if driver {
			err = sim.s.Driver().MemAlloc(&ptr, size)
		} else {
			err = sim.s.Malloc(&ptr, size)
		}

		switch {
		case err == nil:
			sim.admitted.Inc()
			live = append(live, liveAlloc{ptr: ptr, driver: driver})
		case errors.Is(err, native.ErrorMemoryAllocation), errors.Is(err, native.ResultOutOfMemory):
			sim.rejected.Inc()
			// release the older half to make room
			live = sim.release(live, len(live)/2+1)
		default:
			sim.failed.Inc()
			log.Error("worker #%d: allocation of %d bytes failed: %v", id, size, err)
		}

		if len(live) > 0 && rnd.Intn(4) == 0 {
			j := rnd.Intn(len(live))
			sim.free(live[j])
			live = append(live[:j], live[j+1:]...)
		}
	}

	if !sim.o.keep {
		sim.release(live, len(live))
	}
}

// release frees the n oldest allocations, returning the remaining ones.
func (sim *simulation) release(live []liveAlloc, n int) []liveAlloc {
	if n > len(live) {
		n = len(live)
	}
	for _, a := range live[:n] {
		sim.free(a)
	}
	return live[n:]
}

func (sim *simulation) free(a liveAlloc) {
	var err error
	if a.driver {
		err = sim.s.Driver().MemFree(a.ptr)
	} else {
		err = sim.s.Free(a.ptr)
	}
	if err != nil {
		log.Error("failed to free %#x: %v", uintptr(a.ptr), err)
	}
}

// startInstrumentation starts serving metrics and health checks if an HTTP
// endpoint is configured. The configuration the shim was attached with is
// used, with endpoint, if given, overriding its HTTP endpoint.
func startInstrumentation(s *shim.Shim, endpoint string, mr *metrics.Registry, hr *healthz.Registry) (*instrumentation.Server, error) {
	cfg := s.Instrumentation()
	if cfg == nil {
		cfg = &instcfg.Config{}
	}
	if endpoint != "" {
		cfg.HTTPEndpoint = endpoint
	}
	if cfg.HTTPEndpoint == "" {
		return nil, nil
	}

	if err := collectors.Register(mr); err != nil {
		return nil, err
	}

	srv := instrumentation.NewServer(
		instrumentation.WithMetricsRegistry(mr),
		instrumentation.WithHealthRegistry(hr),
	)
	if err := srv.Start(cfg); err != nil {
		return nil, err
	}

	return srv, nil
}

// dumpMetrics returns the current metrics of the registry in the Prometheus
// text exposition format.
func dumpMetrics(mr *metrics.Registry) (string, error) {
	g, err := mr.NewGatherer(
		metrics.WithNamespace(instrumentation.ServiceName),
		metrics.WithMetrics(instrumentation.DefaultMetrics, nil),
		metrics.WithPollInterval(0),
	)
	if err != nil {
		return "", fmt.Errorf("failed to set up metrics: %w", err)
	}
	defer g.Stop()

	families, err := g.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}

	buf := &strings.Builder{}
	enc := expfmt.NewEncoder(buf, expfmt.FmtText)
	for _, f := range families {
		if err := enc.Encode(f); err != nil {
			return "", fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	return buf.String(), nil
}

// overrideLookup returns a lookup preferring the given values.
func overrideLookup(lookup config.Lookup, values map[string]string) config.Lookup {
	return func(name string) (string, bool) {
		if v, ok := values[name]; ok {
			return v, true
		}
		return lookup(name)
	}
}
