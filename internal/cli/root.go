/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package cli implements the storyboarder command line: headless Primary and
// Secondary windows driven by newline-delimited JSON records on stdin.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storyboarder/internal/config"
	applog "storyboarder/internal/log"
	"storyboarder/internal/telemetry"
	"storyboarder/internal/version"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a demo scenario failed
	ExitCommandError = 2 // bad flags, unreachable peer, config errors
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// WrapExitError wraps err with an exit code and message.
func WrapExitError(code int, msg string, err error) *ExitError {
	return &ExitError{Code: code, Message: msg, Err: err}
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitCommandError
}

// RootOptions holds global flags and what PersistentPreRunE loaded.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	Config    config.AppConfig
	Secret    string
	Telemetry *telemetry.Client
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "storyboarder",
		Short:         "Synchronized storyboard windows",
		Long:          "Runs one window of a Primary/Secondary pair whose stores stay in sync over a cross-window channel.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()
			opts.Telemetry.Flush(ctx)
			opts.Telemetry.Close()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: user config dir)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewPrimaryCommand(opts))
	cmd.AddCommand(NewSecondaryCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewSecretCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))
	return cmd
}

func (o *RootOptions) load() error {
	var err error
	if strings.TrimSpace(o.ConfigPath) != "" {
		o.Config, o.Secret, err = config.LoadFrom(o.ConfigPath)
	} else {
		o.Config, o.Secret, err = config.Load()
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}

	lo := applog.Options{
		Level:  o.Config.Logging.Level,
		Format: o.Config.Logging.Format,
		Source: o.Config.Logging.Source,
		File:   o.Config.Logging.File,
	}
	if o.Verbose {
		lo.Level = "debug"
	}
	applog.Init(lo)

	tc := telemetry.FromEnv()
	tc.OptIn = tc.OptIn || o.Config.General.TelemetryOptIn
	o.Telemetry = telemetry.New(tc)
	telemetry.SetDefault(o.Telemetry)
	return nil
}

// NewVersionCommand prints the build version.
func NewVersionCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "storyboarder", version.String())
			return err
		},
	}
}
