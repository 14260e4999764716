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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"storyboarder/internal/channel"
	"storyboarder/internal/crash"
	applog "storyboarder/internal/log"
	"storyboarder/internal/window"
)

// PrimaryOptions holds flags for the primary command.
type PrimaryOptions struct {
	*RootOptions
	Listen          string
	Transport       string
	ResyncOnConnect bool
}

// NewPrimaryCommand creates the primary command.
func NewPrimaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PrimaryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "primary",
		Short: "Run the Primary window",
		Long: `Run the Primary window headless. Records are read from stdin, one JSON
object per line, and every state change is printed as a "state" line.

Example:
  storyboarder primary --listen 127.0.0.1:7420
  echo '{"type":"SET_ASPECT_RATIO","payload":1.78}' | storyboarder primary`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrimary(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "websocket listen address (default from config)")
	cmd.Flags().StringVar(&opts.Transport, "transport", "", "websocket|redis (default from config)")
	cmd.Flags().BoolVar(&opts.ResyncOnConnect, "resync-on-connect", true, "send a snapshot when a Secondary attaches")
	return cmd
}

func runPrimary(cmd *cobra.Command, opts *PrimaryOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := opts.Config
	if opts.Listen != "" {
		cfg.Sync.Listen = opts.Listen
	}
	if opts.Transport != "" {
		cfg.Sync.Transport = opts.Transport
	}

	jw, err := openJournal(ctx, cfg.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	wo := windowOptions(cfg, window.Primary)
	wo.Journal, wo.Telemetry = jw, opts.Telemetry
	w := window.New(wo)
	defer crash.Recover(w)
	defer func() {
		_ = w.Close()
		if jw != nil {
			_ = jw.Close()
		}
	}()
	l := applog.WithWindow(applog.WithComponent("cli"), w.ID(), string(w.Role()))
	sess := newSession(w, jw, cmd.OutOrStdout())
	sess.telemetry = opts.Telemetry

	switch cfg.Sync.Transport {
	case "websocket":
		srv := channel.NewServer(channel.ServerOptions{
			Secret: []byte(opts.Secret),
			OnPeer: func(peerID string, attached bool) {
				l.Info("secondary", slog.String("peer", peerID), slog.Bool("attached", attached))
				if attached && opts.ResyncOnConnect {
					if err := w.Resync(); err != nil {
						l.Warn("resync failed", slog.Any("err", err))
					}
				}
			},
		})
		if err := srv.Listen(cfg.Sync.Listen); err != nil {
			return WrapExitError(ExitCommandError, "listen", err)
		}
		defer srv.Close()
		w.Attach(srv)
		sess.connected = srv.Connected
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "primary %s listening on ws://%s/ws\n", w.ID(), srv.Addr())
	case "redis":
		bus, closeRedis, err := dialBus(ctx, cfg.Sync.RedisAddr, channel.BusOptions{
			Prefix: cfg.Sync.RedisPrefix, Self: string(window.Primary), Peer: string(window.Secondary),
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "connect redis", err)
		}
		defer closeRedis()
		w.Attach(bus)
		if opts.ResyncOnConnect {
			_ = w.Resync()
		}
	default:
		return WrapExitError(ExitCommandError, fmt.Sprintf("transport %q is not available for a standalone window", cfg.Sync.Transport), nil)
	}

	return sess.run(ctx, cmd.InOrStdin())
}

// dialBus connects a redis-backed channel. The returned func closes the bus and the client.
func dialBus(ctx context.Context, addr string, opts channel.BusOptions) (*channel.Bus, func(), error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	bus, err := channel.NewBus(ctx, rdb, opts)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return bus, func() {
		_ = bus.Close()
		_ = rdb.Close()
	}, nil
}
