// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package klogcontrol

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"k8s.io/klog/v2"

	cfgapi "github.com/containers/vram-quota/pkg/apis/config/v1alpha1/log/klogcontrol"
)

const (
	// envPrefix prefixes the environment variables seeding klog flags,
	// for instance HYPERCORE_LOG_V=4.
	envPrefix = "HYPERCORE_LOG_"
)

// Control implements runtime control for klog.
type Control struct {
	*flag.FlagSet
}

// Our singleton klog Control instance.
var ctl = &Control{FlagSet: flag.NewFlagSet("klog flags", flag.ContinueOnError)}

// Get returns our singleton klog Control instance.
func Get() *Control {
	return ctl
}

// Configure klog according to the given configuration. Flags missing from
// the configuration are left alone.
func (c *Control) Configure(cfg *cfgapi.Config) error {
	var errs *multierror.Error
	c.VisitAll(func(f *flag.Flag) {
		value, ok := cfg.GetByFlag(f.Name)
		if !ok {
			return
		}
		if err := c.Set(f.Name, value); err != nil {
			errs = multierror.Append(errs, klogError("failed to set klog flag %s to %q: %w",
				f.Name, value, err))
		}
	})
	return errs.ErrorOrNil()
}

// Overrides returns the klog flags which differ from their defaults.
func (c *Control) Overrides() []string {
	var set []string
	c.VisitAll(func(f *flag.Flag) {
		if value := f.Value.String(); value != f.DefValue {
			set = append(set, f.Name+"="+value)
		}
	})
	sort.Strings(set)
	return set
}

// envForFlag returns the environment variable name and value for a flag.
func envForFlag(flagName string) (string, string, bool) {
	name := envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
	value, ok := os.LookupEnv(name)
	return name, value, ok
}

// seedFromEnv sets klog flags from the environment. The shim shares stderr
// with its host process, so headers are dropped for journald streams.
func (c *Control) seedFromEnv() {
	c.VisitAll(func(f *flag.Flag) {
		name, value, ok := envForFlag(f.Name)
		if !ok {
			if f.Name == "skip_headers" && os.Getenv("JOURNAL_STREAM") != "" {
				_ = c.Set(f.Name, "true")
			}
			return
		}
		if err := c.Set(f.Name, value); err != nil {
			klog.Errorf("klog flag %q: invalid environment default %s=%q: %v",
				f.Name, name, value, err)
		}
	})
}

func klogError(format string, args ...interface{}) error {
	return fmt.Errorf("klogcontrol: "+format, args...)
}

func init() {
	ctl.SetOutput(io.Discard)
	klog.InitFlags(ctl.FlagSet)
	ctl.seedFromEnv()
}
