// Copyright 2025 UMH Systems GmbH
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

	"github.com/united-manufacturing-hub/task-launcher/pkg/config"
	"github.com/united-manufacturing-hub/task-launcher/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "task-launcher",
		Short:         "Deploy and undeploy cloud applications through the launch state machine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.GetAppVersion(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", config.Path(), "path to the YAML config file (env: CONFIG_FILE)")

	root.AddCommand(newVersionCmd())

	return root
}
