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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"storyboarder/internal/channel"
	"storyboarder/internal/crash"
	applog "storyboarder/internal/log"
	"storyboarder/internal/window"
)

// SecondaryOptions holds flags for the secondary command.
type SecondaryOptions struct {
	*RootOptions
	Peer      string
	Transport string
	Reconnect time.Duration
}

// NewSecondaryCommand creates the secondary command.
func NewSecondaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SecondaryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "secondary",
		Short: "Run the Secondary window",
		Long: `Run the Secondary window headless, connected to a Primary.

Example:
  storyboarder secondary --peer ws://127.0.0.1:7420/ws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecondary(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Peer, "peer", "", "Primary websocket URL (default from config)")
	cmd.Flags().StringVar(&opts.Transport, "transport", "", "websocket|redis (default from config)")
	cmd.Flags().DurationVar(&opts.Reconnect, "reconnect", 2*time.Second, "delay between reconnect attempts, 0 to disable")
	return cmd
}

func runSecondary(cmd *cobra.Command, opts *SecondaryOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := opts.Config
	if opts.Peer != "" {
		cfg.Sync.PeerURL = opts.Peer
	}
	if opts.Transport != "" {
		cfg.Sync.Transport = opts.Transport
	}

	jw, err := openJournal(ctx, cfg.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	wo := windowOptions(cfg, window.Secondary)
	wo.Journal, wo.Telemetry = jw, opts.Telemetry
	out := cmd.OutOrStdout()
	var sess *session
	wo.OnShow = func(uid string) { sess.printf("show %s\n", uid) }
	w := window.New(wo)
	sess = newSession(w, jw, out)
	sess.telemetry = opts.Telemetry
	defer crash.Recover(w)
	defer func() {
		_ = w.Close()
		if jw != nil {
			_ = jw.Close()
		}
	}()

	switch cfg.Sync.Transport {
	case "websocket":
		dial := func() (*channel.Conn, error) {
			dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return channel.Dial(dctx, cfg.Sync.PeerURL, channel.DialOptions{
				WindowID: w.ID(),
				Secret:   []byte(opts.Secret),
				TokenTTL: cfg.Sync.TokenTTL(),
			})
		}
		conn, err := dial()
		if err != nil {
			return WrapExitError(ExitCommandError, "connect to primary", err)
		}
		w.Attach(conn)
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "secondary %s connected to %s\n", w.ID(), cfg.Sync.PeerURL)
		if opts.Reconnect > 0 {
			go keepConnected(ctx, w, conn, dial, opts.Reconnect)
		}
		defer func() { _ = conn.Close() }()
	case "redis":
		bus, closeRedis, err := dialBus(ctx, cfg.Sync.RedisAddr, channel.BusOptions{
			Prefix: cfg.Sync.RedisPrefix, Self: string(window.Secondary), Peer: string(window.Primary),
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "connect redis", err)
		}
		defer closeRedis()
		w.Attach(bus)
	default:
		return WrapExitError(ExitCommandError, fmt.Sprintf("transport %q is not available for a standalone window", cfg.Sync.Transport), nil)
	}

	return sess.run(ctx, cmd.InOrStdin())
}

// keepConnected redials after the connection drops. Records dispatched while
// disconnected stay local; nothing is replayed.
func keepConnected(ctx context.Context, w *window.Window, conn *channel.Conn, dial func() (*channel.Conn, error), every time.Duration) {
	l := applog.WithWindow(applog.WithComponent("cli"), w.ID(), string(w.Role()))
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-conn.Done():
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(every):
			}
			next, err := dial()
			if err == nil {
				conn = next
				w.Attach(conn)
				l.Info("reconnected")
				break
			}
			if errors.Is(err, channel.ErrUnauthorized) {
				l.Error("reconnect refused, giving up", slog.Any("err", err))
				return
			}
			l.Debug("reconnect failed", slog.Any("err", err))
		}
	}
}
