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
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"storyboarder/internal/channel"
	"storyboarder/internal/domain"
	"storyboarder/internal/window"
)

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a Primary and a Secondary in-process and check they stay in sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := RunDemo(cmd.Context(), cmd.OutOrStdout(), windowOptions(rootOpts.Config, ""))
			if failed > 0 {
				return WrapExitError(ExitFailure, fmt.Sprintf("%d demo scenario(s) failed", failed), nil)
			}
			return nil
		},
	}
}

type scenario struct {
	name string
	run  func(ctx context.Context, p, s *window.Window, pEnd *channel.PipeEnd) error
}

var scenarios = []scenario{
	{"aspect ratio replicates without echo", func(ctx context.Context, p, s *window.Window, _ *channel.PipeEnd) error {
		if err := p.Dispatch(domain.NewRecord(domain.SetAspectRatio, 1.78)); err != nil {
			return err
		}
		if err := waitFor(ctx, func() bool { return s.State().AspectRatio == 1.78 }); err != nil {
			return fmt.Errorf("secondary aspect ratio = %v", s.State().AspectRatio)
		}
		if err := s.Flush(); err != nil {
			return err
		}
		if n := s.Stats().Forwarded; n != 0 {
			return fmt.Errorf("secondary forwarded %d record(s)", n)
		}
		return nil
	}},
	{"undo replicates", func(ctx context.Context, p, s *window.Window, _ *channel.PipeEnd) error {
		if err := s.Dispatch(domain.NewRecord(domain.SetBoard, domain.Board{UID: "b1", Number: 1})); err != nil {
			return err
		}
		if err := waitFor(ctx, func() bool { return p.State().Board.UID == "b1" }); err != nil {
			return fmt.Errorf("primary never saw board b1")
		}
		if err := p.Undo(); err != nil {
			return err
		}
		if err := waitFor(ctx, func() bool { return s.State().Board.UID == "" }); err != nil {
			return fmt.Errorf("secondary board after undo = %q", s.State().Board.UID)
		}
		return nil
	}},
	{"skeleton survives flattening", func(ctx context.Context, p, s *window.Window, _ *channel.PipeEnd) error {
		blob := make([]byte, 1<<16)
		for i := range blob {
			blob[i] = byte(i * 31)
		}
		if err := p.Dispatch(domain.NewRecord(domain.CreateObject, domain.SceneObject{ID: "hero", Type: domain.ObjectCharacter})); err != nil {
			return err
		}
		if err := p.Dispatch(domain.NewRecord(domain.UpdateCharacterSkeleton, domain.SkeletonUpdate{ID: "hero", Skeleton: blob})); err != nil {
			return err
		}
		if err := waitFor(ctx, func() bool { return bytes.Equal(s.State().Scene.Objects["hero"].Skeleton, blob) }); err != nil {
			return fmt.Errorf("secondary skeleton differs")
		}
		return nil
	}},
	{"secondary keeps working with the primary gone", func(ctx context.Context, p, s *window.Window, pEnd *channel.PipeEnd) error {
		if err := p.Close(); err != nil {
			return err
		}
		_ = pEnd.Close()
		if err := s.Dispatch(domain.NewRecord(domain.SetCurrentLanguage, "fr")); err != nil {
			return err
		}
		if err := s.Flush(); err != nil {
			return err
		}
		if got := s.State().Language; got != "fr" {
			return fmt.Errorf("secondary language = %q", got)
		}
		return nil
	}},
}

// RunDemo runs every scenario on a fresh window pair and reports the number that failed.
func RunDemo(ctx context.Context, out io.Writer, base window.Options) int {
	failed := 0
	for _, sc := range scenarios {
		po, so := base, base
		po.Role, so.Role = window.Primary, window.Secondary
		p, s := window.New(po), window.New(so)
		a, b := channel.NewPipe()
		p.Attach(a)
		s.Attach(b)

		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := sc.run(sctx, p, s, a)
		cancel()
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(out, "FAIL %s: %v\n", sc.name, err)
		} else {
			_, _ = fmt.Fprintf(out, "PASS %s\n", sc.name)
		}
		_ = p.Close()
		_ = s.Close()
		_ = a.Close()
		_ = b.Close()
	}
	return failed
}

func waitFor(ctx context.Context, cond func() bool) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
