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
	"fmt"
)

const (
	// DefaultLimit is the default quota, 3 GiB.
	DefaultLimit uint64 = 3 << 30
)

// Config is the effective configuration of the shim. It is set up once,
// when the shim is attached to a process, and never changes afterwards.
type Config struct {
	// Limit is the quota in bytes.
	Limit uint64
	// Prefetch enables migration hints for new allocations.
	Prefetch bool
	// Device is the device id used for migration hints.
	Device int
	// Disabled turns the shim into a pass-through.
	Disabled bool
}

// DefaultConfig returns the built-in default configuration.
func DefaultConfig() Config {
	return Config{
		Limit: DefaultLimit,
	}
}

// String returns a string representation of the configuration.
func (c Config) String() string {
	if c.Disabled {
		return "disabled"
	}
	return fmt.Sprintf("limit=%d bytes (%s), prefetch=%v, device=%d",
		c.Limit, prettySize(c.Limit), c.Prefetch, c.Device)
}
