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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	logger "github.com/containers/vram-quota/pkg/log"
	"github.com/containers/vram-quota/pkg/version"
)

var (
	log = logger.Default()

	// global flags
	debug  []string
	output string
)

var rootCmd = &cobra.Command{
	Use:   "vram-quota",
	Short: "Inspect and exercise the device memory quota shim",
	Long: `vram-quota shows the configuration the device memory quota shim would
use in the current environment, and runs simulated workloads through the shim
on top of a simulated device.

The shim is configured with these environment variables:
  HYPERCORE_VRAM_LIMIT_BYTES  quota, in bytes or as a quantity (3Gi)
  HYPERCORE_DISABLE_SHIM      pass all calls through, if set
  HYPERCORE_PREFETCH          issue prefetch hints for new allocations, if set
  HYPERCORE_DEVICE            device to prefetch to
  HYPERCORE_CONFIG            configuration file
  HYPERCORE_DEBUG             debug logging sources, for instance on:quota`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		for _, src := range debug {
			logger.EnableDebug(src, true)
		}
		switch output {
		case "text", "yaml", "json":
			return nil
		}
		return fmt.Errorf("invalid output format %q", output)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&debug, "debug", nil,
		"Enable debug logging for the given logger sources")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text",
		"Output format: text, yaml or json")
	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} %s (build %s)\n", version.Version, version.Build))
}

func main() {
	logger.SetupDebugToggleSignal(unix.SIGUSR1)
	logger.SetSlogLogger("slog")

	if err := rootCmd.Execute(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}
