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
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/lens/internal/version"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lens",
	Short: "Lens - AI observability toolkit",
	Long: heredoc.Doc(`
		Lens instruments AI client calls and exports them as OpenTelemetry
		spans. This CLI inspects exported traces and checks collector
		connectivity; the SDK itself is used from Go code.
	`),
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("endpoint", "", "collector base URL (default: LENS_ENDPOINT or http://127.0.0.1:5388)")
	rootCmd.PersistentFlags().String("api-key", "", "collector API key (or use LENS_API_KEY)")
	rootCmd.PersistentFlags().String("project", "", "collector project ID (or use LENS_PROJECT)")

	_ = viper.BindPFlag("endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	_ = viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))

	viper.SetEnvPrefix("LENS")
	viper.AutomaticEnv()
}
