// Copyright 2023-2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/observability/opentelemetry"
	"github.com/fundfolio/ff-api/portfolio"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var fundID string

var otelShutdown func(context.Context) error

func init() {
	// Logging configuration
	viper.BindEnv("log.level", "FF_LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-level", "warning", "Logging level")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.BindEnv("log.report_caller", "FF_LOG_REPORT_CALLER")
	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	viper.BindPFlag("log.report_caller", rootCmd.PersistentFlags().Lookup("log-report-caller"))

	viper.BindEnv("log.output", "FF_LOG_OUTPUT")
	rootCmd.PersistentFlags().String("log-output", "stderr", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	viper.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output"))

	viper.BindEnv("log.pretty", "FF_LOG_PRETTY")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "Print logs in human readable format")
	viper.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))

	// Fund registry
	viper.BindEnv("journal.funds_file", "FF_FUNDS_FILE")
	rootCmd.PersistentFlags().String("funds-file", "funds.toml", "Path to the fund registry")
	viper.BindPFlag("journal.funds_file", rootCmd.PersistentFlags().Lookup("funds-file"))

	rootCmd.PersistentFlags().StringVar(&fundID, "fund", "", "Fund to operate on (optional when one fund is configured)")

	// Tracing
	viper.BindEnv("otlp.endpoint", "OTLP_ENDPOINT")

	// Cache
	viper.BindEnv("cache.directory", "FF_CACHE_DIR")
	rootCmd.PersistentFlags().String("cache-dir", "", "Directory for persistent price and fundamentals caches")
	viper.BindPFlag("cache.directory", rootCmd.PersistentFlags().Lookup("cache-dir"))
}

var rootCmd = &cobra.Command{
	Use:           "ffapi",
	Version:       common.CurrentVersion.String(),
	Short:         "ffapi is a multi-fund trading journal",
	Long:          `Record trades, maintain per-day portfolio snapshots, and compute FIFO profit and loss across one or more funds.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		common.SetupLogging()
		common.SetupCache()

		if viper.GetString("otlp.endpoint") != "" {
			shutdown, err := opentelemetry.Setup()
			if err != nil {
				log.Warn().Err(err).Msg("could not set up tracing; continuing without it")
			} else {
				otelShutdown = shutdown
			}
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		if otelShutdown != nil {
			if err := otelShutdown(cmd.Context()); err != nil {
				log.Warn().Err(err).Msg("trace exporter shutdown failed")
			}
		}
	},
}

// exitCode maps the error taxonomy onto process exit codes: 0 success,
// 1 generic, 2 validation, 3 corruption.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, portfolio.ErrCorrupt):
		return 3
	case errors.Is(err, portfolio.ErrValidation),
		errors.Is(err, portfolio.ErrInvalidTrade),
		errors.Is(err, portfolio.ErrInsufficientShares),
		errors.Is(err, portfolio.ErrNotFound):
		return 2
	default:
		return 1
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
