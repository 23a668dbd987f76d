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

package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	cfgapi "github.com/containers/vram-quota/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/containers/vram-quota/pkg/healthz"
	logger "github.com/containers/vram-quota/pkg/log"
	"github.com/containers/vram-quota/pkg/metrics"
)

const (
	// ServiceName is our service name, used as the namespace of our metrics.
	ServiceName = "hypercore"

	shutdownTimeout = 5 * time.Second
)

var (
	// DefaultMetrics are the collectors enabled if the configuration
	// does not select any.
	DefaultMetrics = []string{"*"}

	// Our logger instance.
	log = logger.NewLogger("instrumentation")
)

// Server serves metrics and health checks over HTTP.
type Server struct {
	lock     sync.Mutex
	cfg      *cfgapi.Config
	metrics  *metrics.Registry
	health   *healthz.Registry
	server   *http.Server
	listener net.Listener
	gatherer *metrics.Gatherer
	done     chan struct{}
}

// Option is an option for a Server.
type Option func(*Server)

// WithMetricsRegistry sets the registry of the collectors to serve.
func WithMetricsRegistry(r *metrics.Registry) Option {
	return func(s *Server) {
		s.metrics = r
	}
}

// WithHealthRegistry sets the registry of the health checkers to serve.
func WithHealthRegistry(r *healthz.Registry) Option {
	return func(s *Server) {
		s.health = r
	}
}

// NewServer creates a new, unstarted instrumentation server.
func NewServer(options ...Option) *Server {
	s := &Server{
		cfg:     &cfgapi.Config{},
		metrics: metrics.Default(),
		health:  healthz.Default(),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Start starts serving with the given configuration. Nothing is served if
// the configuration has no HTTP endpoint.
func (s *Server) Start(cfg *cfgapi.Config) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if cfg != nil {
		s.cfg = cfg
	}

	return s.start()
}

// Stop stops serving.
func (s *Server) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.stop()
}

// Reconfigure restarts serving with the given configuration.
func (s *Server) Reconfigure(cfg *cfgapi.Config) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.stop()
	if cfg != nil {
		s.cfg = cfg
	}

	err := s.start()
	if err != nil {
		log.Error("failed to restart instrumentation: %v", err)
	}

	return err
}

// Address returns the address the server is listening on, or an empty
// string if it is not running.
func (s *Server) Address() string {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) start() error {
	if s.server != nil {
		return nil
	}

	if s.cfg.HTTPEndpoint == "" {
		log.Info("instrumentation disabled, no HTTP endpoint")
		return nil
	}

	enabled, polled := DefaultMetrics, []string(nil)
	if m := s.cfg.Metrics; m != nil {
		enabled, polled = m.Enabled, m.Polled
	}

	opts := []metrics.GathererOption{
		metrics.WithNamespace(ServiceName),
		metrics.WithMetrics(enabled, polled),
	}
	if period := s.cfg.ReportPeriod.Duration; period > 0 {
		opts = append(opts, metrics.WithPollInterval(period))
	}

	g, err := s.metrics.NewGatherer(opts...)
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}

	ln, err := net.Listen("tcp", s.cfg.HTTPEndpoint)
	if err != nil {
		g.Stop()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog: promLogger{},
	}))
	s.health.Setup(mux)

	s.gatherer = g
	s.listener = ln
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})

	go func(server *http.Server, ln net.Listener, done chan struct{}) {
		defer close(done)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", err)
		}
	}(s.server, ln, s.done)

	log.Info("serving metrics and health checks on %s", ln.Addr())

	return nil
}

func (s *Server) stop() {
	if s.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Warn("failed to shut down HTTP server: %v", err)
		_ = s.server.Close()
	}
	<-s.done

	s.gatherer.Stop()

	s.server = nil
	s.listener = nil
	s.gatherer = nil
	s.done = nil
}

// promLogger passes promhttp errors to our logger.
type promLogger struct{}

func (promLogger) Println(v ...interface{}) {
	log.Error("%s", fmt.Sprint(v...))
}
