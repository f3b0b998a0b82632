// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/lens/pkg/config"
	"github.com/teradata-labs/lens/pkg/telemetry"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check collector connectivity",
	Long: heredoc.Doc(`
		Probe the collector health endpoint with the configured endpoint,
		project, and API key. Exits non-zero when the collector is
		unreachable.

		Examples:
		  lens check
		  lens check --endpoint http://collector.internal:5388
	`),
	Run: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Duration("timeout", 5*time.Second, "probe timeout")
}

func runCheck(cmd *cobra.Command, args []string) {
	var opts []config.Option
	if endpoint := viper.GetString("endpoint"); endpoint != "" {
		opts = append(opts, config.WithEndpoint(endpoint))
	}
	if key := viper.GetString("api_key"); key != "" {
		opts = append(opts, config.WithAPIKey(key))
	}
	if project := viper.GetString("project"); project != "" {
		opts = append(opts, config.WithProject(project))
	}

	cfg, err := config.New(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	client, err := telemetry.NewClient(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build telemetry client: %v\n", err)
		os.Exit(1)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	ok := client.ValidateConnection(ctx)
	_ = client.Shutdown(context.Background())

	if !ok {
		fmt.Fprintf(os.Stderr, "✗ collector unreachable at %s\n", cfg.HealthURL())
		os.Exit(1)
	}
	fmt.Printf("✓ collector healthy at %s (project %s)\n", cfg.Endpoint, cfg.ProjectID)
}
