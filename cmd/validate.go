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

	"github.com/fundfolio/ff-api/portfolio"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the fund's stored data for corruption",
	Long:  `Verifies the one-snapshot-per-date rule, position arithmetic, trade log replayability, and (for dual backends) that both sides agree.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		eng, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}

		issues, err := eng.repo.ValidateDataIntegrity(cmd.Context())
		if err != nil {
			return err
		}
		if len(issues) == 0 {
			fmt.Printf("fund %s is consistent\n", eng.cfg.ID)
			return nil
		}

		for _, issue := range issues {
			fmt.Println(issue)
		}
		return fmt.Errorf("%w: %d issue(s) found", portfolio.ErrCorrupt, len(issues))
	},
}
