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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"storyboarder/internal/config"
	"storyboarder/internal/domain"
	"storyboarder/internal/journal"
	applog "storyboarder/internal/log"
	"storyboarder/internal/replicate"
	"storyboarder/internal/telemetry"
	"storyboarder/internal/undo"
	"storyboarder/internal/window"
)

// inputLine is one record on stdin: {"type": "...", "payload": ...}.
type inputLine struct {
	Type    domain.Kind     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// parseRecord turns a JSON input line into a record with a fresh id.
func parseRecord(line []byte) (domain.Record, error) {
	var in inputLine
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return domain.Record{}, fmt.Errorf("parse record: %w", err)
	}
	if strings.TrimSpace(string(in.Type)) == "" {
		return domain.Record{}, errors.New("parse record: type is required")
	}
	var payload any
	if len(in.Payload) > 0 && string(in.Payload) != "null" {
		payload = in.Payload
	}
	return domain.NewRecord(in.Type, payload), nil
}

// windowOptions maps the sync config onto window options.
func windowOptions(cfg config.AppConfig, role window.Role) window.Options {
	return window.Options{
		Role: role,
		History: undo.Config{
			MaxBytes: int(cfg.Sync.HistoryMaxBytes),
			MaxDepth: cfg.Sync.HistoryMaxDepth,
		},
		LocalOnly: config.Kinds(cfg.Sync.LocalOnly),
		Untracked: config.Kinds(cfg.Sync.Untracked),
		Flatten:   config.Kinds(cfg.Sync.Flatten),
	}
}

// openJournal returns nil when the journal is disabled.
func openJournal(ctx context.Context, cfg config.JournalConfig) (*journal.Writer, error) {
	var (
		sink journal.Sink
		err  error
	)
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		path, perr := cfg.JournalPath()
		if perr != nil {
			return nil, perr
		}
		sink, err = journal.OpenSQLite(path)
	case "postgres":
		sink, err = journal.OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return journal.NewWriter(sink, journal.WriterOptions{Buffer: cfg.Buffer}), nil
}

// session drives a window from a line-oriented input. Lines are JSON records or
// commands starting with ':' (":state", ":resync", ":show <uid>", ":lang <tag>",
// ":journal [n]", ":quit").
type session struct {
	w         *window.Window
	journal   *journal.Writer
	telemetry *telemetry.Client
	// connected reports whether a peer is attached; nil when the transport cannot tell.
	connected func() bool
	log       *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

func newSession(w *window.Window, j *journal.Writer, out io.Writer) *session {
	return &session{
		w:       w,
		journal: j,
		out:     out,
		log:     applog.WithWindow(applog.WithComponent("cli"), w.ID(), string(w.Role())),
	}
}

func (s *session) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.out, format, args...)
}

func (s *session) printJSON(prefix string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("encode output failed", slog.Any("err", err))
		return
	}
	s.printf("%s %s\n", prefix, b)
}

// run reads in until EOF, ":quit" or ctx is done. State changes are printed as
// "state {...}" lines.
func (s *session) run(ctx context.Context, in io.Reader) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	cancel := s.w.OnStateChange(func(_, next domain.State, r domain.Record) {
		s.printJSON("state", next)
	})
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 32<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-errc; err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				return s.w.Flush()
			}
			quit, err := s.handle(ctx, strings.TrimSpace(line))
			if err != nil {
				s.printf("error %s\n", err)
			}
			if quit {
				return s.w.Flush()
			}
		}
	}
}

type counters map[string]int64

type sessionStats struct {
	Replication replicate.Stats  `json:"replication"`
	Undo        int              `json:"undo"`
	Redo        int              `json:"redo"`
	Connected   *bool            `json:"connected,omitempty"`
	Journal     counters         `json:"journal,omitempty"`
	Telemetry   *telemetry.Stats `json:"telemetry,omitempty"`
}

func (s *session) stats() sessionStats {
	st := sessionStats{Replication: s.w.Stats()}
	st.Undo, st.Redo = s.w.History()
	if s.connected != nil {
		up := s.connected()
		st.Connected = &up
	}
	if s.journal != nil {
		st.Journal = counters{"written": s.journal.Written(), "dropped": s.journal.Dropped()}
	}
	if s.telemetry != nil {
		ts := s.telemetry.Stats()
		st.Telemetry = &ts
	}
	return st
}

func (s *session) handle(ctx context.Context, line string) (quit bool, err error) {
	if line == "" || strings.HasPrefix(line, "#") {
		return false, nil
	}
	if !strings.HasPrefix(line, ":") {
		rec, err := parseRecord([]byte(line))
		if err != nil {
			return false, err
		}
		return false, s.w.Dispatch(rec)
	}
	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "quit", "q":
		return true, nil
	case "state":
		if err := s.w.Flush(); err != nil {
			return false, err
		}
		s.printJSON("state", s.w.State())
	case "stats":
		s.printJSON("stats", s.stats())
	case "resync":
		return false, s.w.Resync()
	case "show":
		return false, s.w.Show(arg)
	case "lang":
		return false, s.w.SetLanguage(arg)
	case "journal":
		if s.journal == nil {
			return false, errors.New("journal is disabled")
		}
		n := 10
		if arg != "" {
			if _, err := fmt.Sscanf(arg, "%d", &n); err != nil {
				return false, fmt.Errorf("journal: bad count %q", arg)
			}
		}
		entries, err := s.journal.Recent(ctx, n)
		if err != nil {
			return false, err
		}
		for _, e := range entries {
			s.printJSON("journal", e)
		}
	default:
		return false, fmt.Errorf("unknown command :%s", cmd)
	}
	return false, nil
}
