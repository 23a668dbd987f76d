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
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/containers/vram-quota/pkg/config"
	"github.com/containers/vram-quota/pkg/log/klogcontrol"
	"github.com/containers/vram-quota/pkg/quota"
	"github.com/containers/vram-quota/pkg/version"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the effective shim configuration",
		Long: `The info command loads the shim configuration from the environment
and the optional configuration file, the same way the shim does when it is
attached to a process, and shows the result along with any problems found.

Example:
  HYPERCORE_VRAM_LIMIT_BYTES=2Gi vram-quota info
  HYPERCORE_CONFIG=/etc/vram-quota.yaml vram-quota info -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printValue(cmd.OutOrStdout(), loadInfo(config.FromEnv()))
		},
	}
}

// info is the effective configuration of the shim.
type info struct {
	Version  string   `json:"version"`
	Build    string   `json:"build"`
	File     string   `json:"file,omitempty"`
	Disabled bool     `json:"disabled"`
	Limit    uint64   `json:"limit"`
	Prefetch bool     `json:"prefetch"`
	Device   *int     `json:"device,omitempty"`
	Problems []string `json:"problems,omitempty"`
	Endpoint string   `json:"httpEndpoint,omitempty"`
	LogDebug []string `json:"debug,omitempty"`
	Klog     []string `json:"klog,omitempty"`
}

func loadInfo(s *config.Settings, err error) *info {
	i := &info{
		Version:  version.Version,
		Build:    version.Build,
		File:     s.File,
		Disabled: s.Quota.Disabled,
		Limit:    s.Quota.Limit,
		Prefetch: s.Quota.Prefetch,
	}
	if s.DeviceSet {
		id := s.Quota.Device
		i.Device = &id
	}
	if s.Instrumentation != nil {
		i.Endpoint = s.Instrumentation.HTTPEndpoint
	}
	if s.Log != nil {
		i.LogDebug = s.Log.Debug
	}
	i.Klog = klogcontrol.Get().Overrides()

	if err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			for _, e := range merr.Errors {
				i.Problems = append(i.Problems, e.Error())
			}
		} else {
			i.Problems = append(i.Problems, err.Error())
		}
	}

	return i
}

// WriteText writes the configuration in human-readable form.
func (i *info) WriteText(w io.Writer) error {
	device := "current device"
	if i.Device != nil {
		device = fmt.Sprintf("%d", *i.Device)
	}
	file := i.File
	if file == "" {
		file = "none"
	}

	lines := []string{
		fmt.Sprintf("version:     %s (build %s)", i.Version, i.Build),
		fmt.Sprintf("config file: %s", file),
	}
	if i.Disabled {
		lines = append(lines, "shim:        disabled, all calls passed through")
	} else {
		lines = append(lines,
			fmt.Sprintf("limit:       %d bytes (%s)", i.Limit, quota.HumanReadableSize(i.Limit)),
			fmt.Sprintf("prefetch:    %v", i.Prefetch),
			fmt.Sprintf("device:      %s", device),
		)
	}
	if i.Endpoint != "" {
		lines = append(lines, fmt.Sprintf("endpoint:    %s", i.Endpoint))
	}
	if len(i.LogDebug) > 0 {
		lines = append(lines, fmt.Sprintf("debug:       %s", strings.Join(i.LogDebug, ",")))
	}
	if len(i.Klog) > 0 {
		lines = append(lines, fmt.Sprintf("klog:        %s", strings.Join(i.Klog, " ")))
	}
	for _, p := range i.Problems {
		lines = append(lines, fmt.Sprintf("problem:     %s", p))
	}

	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
