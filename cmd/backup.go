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

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}

var backupCmd = &cobra.Command{
	Use:   "backup <path>",
	Short: "Write a compressed archive of the fund's data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		if err := eng.repo.BackupData(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("backup of %s written to %s\n", eng.cfg.ID, args[0])
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <path>",
	Short: "Restore the fund's data from an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		if err := eng.repo.RestoreFromBackup(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("restored %s from %s\n", eng.cfg.ID, args[0])
		return nil
	},
}
