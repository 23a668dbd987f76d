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

package healthz

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	logger "github.com/containers/vram-quota/pkg/log"
)

var (
	// ErrConflict is returned when registering a checker with a taken name.
	ErrConflict = errors.New("healthz: checker already registered")

	// our logger instance
	log = logger.NewLogger("health-check")

	defaultRegistry = NewRegistry()
)

// CheckFn checks the health of a single component.
type CheckFn func() (status Status, details error)

// Status describes the health of a component or the whole.
type Status int

const (
	Healthy Status = iota
	Degraded
	NonFunctional
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case NonFunctional:
		return "non-functional"
	}
	return fmt.Sprintf("<unknown health status %d>", int(s))
}

// Registry is a set of named health checkers.
type Registry struct {
	lock     sync.Mutex
	checkers map[string]CheckFn
	sorted   []string
}

// NewRegistry creates an empty health checker registry.
func NewRegistry() *Registry {
	return &Registry{
		checkers: map[string]CheckFn{},
	}
}

// Default returns the default health checker registry.
func Default() *Registry {
	return defaultRegistry
}

// Setup prepares the given HTTP request multiplexer for serving healthz
// from the default registry.
func Setup(mux *http.ServeMux) {
	defaultRegistry.Setup(mux)
}

// RegisterHealthChecker registers the given health checker function in the
// default registry. It panics if the name is already taken.
func RegisterHealthChecker(name string, fn CheckFn) {
	if err := defaultRegistry.Register(name, fn); err != nil {
		panic(err)
	}
}

// Setup prepares the given HTTP request multiplexer for serving healthz.
func (r *Registry) Setup(mux *http.ServeMux) {
	mux.Handle("/healthz", r)
}

// Register registers the given health checker function.
func (r *Registry) Register(name string, fn CheckFn) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, conflict := r.checkers[name]; conflict {
		return fmt.Errorf("%w: %q", ErrConflict, name)
	}

	r.checkers[name] = fn
	r.sorted = append(r.sorted, name)
	sort.Strings(r.sorted)

	return nil
}

// Unregister removes the named health checker.
func (r *Registry) Unregister(name string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.checkers[name]; !ok {
		return
	}

	delete(r.checkers, name)
	for i, n := range r.sorted {
		if n == name {
			r.sorted = append(r.sorted[:i], r.sorted[i+1:]...)
			break
		}
	}
}

// Check runs all registered checkers. It returns the worst reported status
// and the details reported by unhealthy components.
func (r *Registry) Check() (Status, map[string]error) {
	status := Healthy
	details := map[string]error{}

	r.lock.Lock()
	defer r.lock.Unlock()

	for _, name := range r.sorted {
		if s, err := r.checkers[name](); s != Healthy {
			if s > status {
				status = s
			}
			if err != nil {
				details[name] = err
				log.Errorf("component %s reported %s: %v", name, s, err)
			}
		}
	}

	return status, details
}

// ServeHTTP serves a single HTTP health check request.
func (r *Registry) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status, details := r.Check()
	if status == Healthy {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Errorf("failed to write response: %v", err)
		}
		return
	}

	names := make([]string, 0, len(details))
	for name := range details {
		names = append(names, name)
	}
	sort.Strings(names)

	msg := &strings.Builder{}
	fmt.Fprintf(msg, "%s\n", status)
	for _, name := range names {
		fmt.Fprintf(msg, "%s: %v\n", name, details[name])
	}

	w.WriteHeader(http.StatusInternalServerError)
	if _, err := w.Write([]byte(msg.String())); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}
