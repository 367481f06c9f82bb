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
	"fmt"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/fundfolio/ff-api/portfolio"
	"github.com/spf13/cobra"
)

var rebuildFrom string

func init() {
	rebuildCmd.Flags().StringVar(&rebuildFrom, "from", "", "First day to rebuild (YYYY-MM-DD)")
	rebuildCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(backfillCmd)
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Regenerate market-close snapshots from a date forward",
	Long:  `Replays the trade log for every trading day from --from through today, valuing each day at its historical close, and replaces the stored snapshots.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		from, err := time.ParseInLocation("2006-01-02", rebuildFrom, common.GetTimezone())
		if err != nil {
			return fmt.Errorf("%w: could not parse --from %q", portfolio.ErrValidation, rebuildFrom)
		}

		eng, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		if err := eng.rebuilder.RebuildFrom(cmd.Context(), from); err != nil {
			return err
		}
		fmt.Printf("rebuilt snapshots for %s from %s\n", eng.cfg.ID, rebuildFrom)
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Create snapshots for trading days missing from the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		eng, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}

		created, err := eng.rebuilder.BackfillMissingTradingDays(cmd.Context())
		if err != nil {
			return err
		}
		if len(created) == 0 {
			fmt.Println("no trading days missing")
			return nil
		}
		for _, day := range created {
			fmt.Printf("backfilled %s\n", day.Format("2006-01-02"))
		}
		return nil
	},
}
