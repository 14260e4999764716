/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"storyboarder/internal/config"
)

// NewSecretCommand creates the secret command group.
func NewSecretCommand(_ *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the channel secret stored in the OS keychain",
	}

	set := &cobra.Command{
		Use:   "set [value]",
		Short: "Store the secret; reads one line from stdin when no value is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v string
			if len(args) == 1 {
				v = args[0]
			} else {
				sc := bufio.NewScanner(cmd.InOrStdin())
				if sc.Scan() {
					v = sc.Text()
				}
			}
			if err := config.SetSecret(strings.TrimSpace(v)); err != nil {
				return WrapExitError(ExitCommandError, "store secret", err)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "secret stored")
			return err
		},
	}

	var reveal bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored secret, masked unless --reveal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Secret()
			if err != nil || s == "" {
				return WrapExitError(ExitCommandError, "no secret stored", err)
			}
			if !reveal {
				s = mask(s)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), s)
			return err
		},
	}
	show.Flags().BoolVar(&reveal, "reveal", false, "print the secret in clear")

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DeleteSecret(); err != nil {
				return WrapExitError(ExitCommandError, "delete secret", err)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "secret deleted")
			return err
		},
	}

	cmd.AddCommand(set, show, del)
	return cmd
}

func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
