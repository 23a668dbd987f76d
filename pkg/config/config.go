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

// Package config sets up the configuration of the quota shim when it is
// attached to a process. Settings come from built-in defaults, an optional
// configuration file, and the environment, in increasing order of
// precedence. The resulting configuration is immutable.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	pkgerrors "github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"sigs.k8s.io/yaml"

	cfgapi "github.com/containers/vram-quota/pkg/apis/config/v1alpha1"
	instcfg "github.com/containers/vram-quota/pkg/apis/config/v1alpha1/instrumentation"
	logcfg "github.com/containers/vram-quota/pkg/apis/config/v1alpha1/log"
	quotacfg "github.com/containers/vram-quota/pkg/apis/config/v1alpha1/quota"
	logger "github.com/containers/vram-quota/pkg/log"
	"github.com/containers/vram-quota/pkg/quota"
)

const (
	// EnvDisable disables the shim if present, regardless of its value.
	EnvDisable = "HYPERCORE_DISABLE_SHIM"
	// EnvLimit sets the quota, in bytes or as a quantity like 3Gi.
	EnvLimit = "HYPERCORE_VRAM_LIMIT_BYTES"
	// EnvPrefetch enables prefetch hints if present, regardless of its value.
	EnvPrefetch = "HYPERCORE_PREFETCH"
	// EnvDevice sets the device id used for prefetch hints.
	EnvDevice = "HYPERCORE_DEVICE"
	// EnvConfigFile is the path of an optional configuration file.
	EnvConfigFile = "HYPERCORE_CONFIG"
)

var (
	ErrInvalidLimit  = errors.New("config: invalid quota limit")
	ErrInvalidDevice = errors.New("config: invalid device id")
	ErrInvalidFile   = errors.New("config: invalid configuration file")
)

var (
	log = logger.Get("config")
)

// Lookup looks up a named setting, like os.LookupEnv.
type Lookup func(name string) (string, bool)

// Settings is the outcome of loading the configuration.
type Settings struct {
	// Quota is the effective quota configuration.
	Quota quota.Config
	// DeviceSet is true if the device id was explicitly configured.
	DeviceSet bool
	// Log is the logger configuration from the configuration file, if set.
	Log *logcfg.Config
	// Instrumentation is the instrumentation configuration from the
	// configuration file, if set.
	Instrumentation *instcfg.Config
	// File is the path of the configuration file used, if any.
	File string
}

// FromEnv loads the configuration using the process environment.
func FromEnv() (*Settings, error) {
	return Load(os.LookupEnv)
}

// Load loads the configuration using the given lookup function. Invalid
// settings are skipped, leaving the previous value in effect, and reported
// together in the returned error. The returned Settings are always usable.
func Load(lookup Lookup) (*Settings, error) {
	var (
		s = &Settings{
			Quota: quota.DefaultConfig(),
		}
		errs *multierror.Error
	)

	if path, ok := lookup(EnvConfigFile); ok && path != "" {
		file, err := ReadFile(path)
		if err != nil {
			errs = multierror.Append(errs, err)
		} else {
			s.File = path
			if !reflect.ValueOf(file.Spec.Log).IsZero() {
				s.Log = &file.Spec.Log
			}
			if !reflect.ValueOf(file.Spec.Instrumentation).IsZero() {
				s.Instrumentation = &file.Spec.Instrumentation
			}
			if err := s.apply(&file.Spec.Config); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", path, err))
			}
		}
	}

	if _, ok := lookup(EnvDisable); ok {
		s.Quota.Disabled = true
	}

	if value, ok := lookup(EnvLimit); ok && value != "" {
		limit, err := ParseLimit(value)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("$%s: %w", EnvLimit, err))
		} else {
			s.Quota.Limit = limit
		}
	}

	if _, ok := lookup(EnvPrefetch); ok {
		s.Quota.Prefetch = true
	}

	if value, ok := lookup(EnvDevice); ok && value != "" {
		id, err := parseDevice(value)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("$%s: %w", EnvDevice, err))
		} else {
			s.Quota.Device = id
			s.DeviceSet = true
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		log.Warn("configuration problems, ignoring invalid settings: %v", err)
		return s, err
	}

	return s, nil
}

// ParseLimit parses a quota limit, given either as a plain number of bytes
// or as a quantity like 3Gi or 2048Mi. The limit must be positive.
func ParseLimit(value string) (uint64, error) {
	value = strings.TrimSpace(value)

	if v, err := strconv.ParseUint(value, 10, 64); err == nil {
		if v == 0 {
			return 0, fmt.Errorf("%w: %q, must be positive", ErrInvalidLimit, value)
		}
		return v, nil
	}

	q, err := resource.ParseQuantity(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidLimit, value, err)
	}

	return quantityLimit(&q)
}

func quantityLimit(q *resource.Quantity) (uint64, error) {
	v, ok := q.AsInt64()
	if !ok {
		v = q.Value()
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: %s, must be positive", ErrInvalidLimit, q.String())
	}
	return uint64(v), nil
}

func parseDevice(value string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDevice, value, err)
	}
	return checkDevice(id)
}

func checkDevice(id int) (int, error) {
	if id < 0 {
		return 0, fmt.Errorf("%w: %d, must not be negative", ErrInvalidDevice, id)
	}
	return id, nil
}

// apply applies the settings present in a configuration file.
func (s *Settings) apply(cfg *quotacfg.Config) error {
	var errs *multierror.Error

	if cfg.Limit != nil {
		limit, err := quantityLimit(cfg.Limit)
		if err != nil {
			errs = multierror.Append(errs, err)
		} else {
			s.Quota.Limit = limit
		}
	}
	if cfg.Prefetch != nil {
		s.Quota.Prefetch = *cfg.Prefetch
	}
	if cfg.Device != nil {
		id, err := checkDevice(*cfg.Device)
		if err != nil {
			errs = multierror.Append(errs, err)
		} else {
			s.Quota.Device = id
			s.DeviceSet = true
		}
	}
	if cfg.Disabled != nil {
		s.Quota.Disabled = *cfg.Disabled
	}

	return errs.ErrorOrNil()
}

// ReadFile reads a configuration file.
func ReadFile(path string) (*cfgapi.VRAMQuota, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read configuration file %s", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to load configuration file %s", path)
	}

	return cfg, nil
}

// Parse parses configuration file data.
func Parse(data []byte) (*cfgapi.VRAMQuota, error) {
	cfg := &cfgapi.VRAMQuota{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	if v := cfg.APIVersion; v != "" && v != cfgapi.APIVersion {
		return nil, fmt.Errorf("%w: unsupported apiVersion %q", ErrInvalidFile, v)
	}
	if k := cfg.Kind; k != "" && k != cfgapi.Kind {
		return nil, fmt.Errorf("%w: unsupported kind %q", ErrInvalidFile, k)
	}

	return cfg, nil
}
