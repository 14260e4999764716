/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package log sets up the process-wide slog logger. Console output is text or
// JSON; an optional rotated file receives the same records as JSON. Records
// logged with a context from ContextWithRecord carry the record id.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"storyboarder/internal/version"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Options controls Init. The zero value logs INFO text to stderr.
type Options struct {
	Level  string // debug, info, warn or error
	Format string // "text" (or "console") or "json"
	Source bool
	// File enables a rotated JSON log at this path.
	File string
	// Console receives console output. Defaults to os.Stderr.
	Console io.Writer
}

var current atomic.Pointer[slog.Logger]

// L returns the application logger, initializing it with defaults on first use.
func L() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	Init(Options{})
	return current.Load()
}

// Init replaces the application logger and slog.Default.
func Init(opts Options) {
	l := build(opts)
	current.Store(l)
	slog.SetDefault(l)
}

func build(opts Options) *slog.Logger {
	ho := &slog.HandlerOptions{Level: ParseLevel(opts.Level), AddSource: opts.Source}
	out := opts.Console
	if out == nil {
		out = os.Stderr
	}

	var hs fanout
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		hs = append(hs, slog.NewJSONHandler(out, ho))
	} else {
		text := *ho
		text.ReplaceAttr = consoleAttr
		hs = append(hs, slog.NewTextHandler(out, &text))
	}
	if f := strings.TrimSpace(opts.File); f != "" {
		rot := &lj.Logger{Filename: f, MaxSize: 10, MaxBackups: 3, MaxAge: 28, Compress: true}
		hs = append(hs, slog.NewJSONHandler(rot, ho))
	}

	var h slog.Handler = hs
	if len(hs) == 1 {
		h = hs[0]
	}
	return slog.New(recordTagger{next: h}).With(
		slog.String("app", "storyboarder"),
		slog.String("ver", version.String()),
	)
}

// ParseLevel maps a level name to a slog level; unknown names mean INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// consoleAttr shortens console lines: clock time only, three-letter levels,
// and no app/ver attributes.
func consoleAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		if a.Value.Kind() == slog.KindTime {
			return slog.String(a.Key, a.Value.Time().Format("15:04:05.000"))
		}
	case slog.LevelKey:
		if l, ok := a.Value.Any().(slog.Level); ok {
			return slog.String(a.Key, levelTag(l))
		}
	case "app", "ver":
		return slog.Attr{}
	}
	return a
}

func levelTag(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DBG"
	case l < slog.LevelWarn:
		return "INF"
	case l < slog.LevelError:
		return "WRN"
	default:
		return "ERR"
	}
}

// WithComponent returns a logger with the component attribute pre-set.
func WithComponent(name string) *slog.Logger { return L().With(slog.String("component", name)) }

// WithOperation annotates the logger with an operation name.
func WithOperation(l *slog.Logger, op string) *slog.Logger { return l.With(slog.String("op", op)) }

// WithWindow annotates the logger with the window id and its role (primary or secondary).
func WithWindow(l *slog.Logger, id, role string) *slog.Logger {
	return l.With(slog.String("window", id), slog.String("role", role))
}

type recordKey struct{}

// ContextWithRecord tags ctx with a transition record id.
func ContextWithRecord(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, recordKey{}, id)
}

// RecordFromContext returns the record id set by ContextWithRecord.
func RecordFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(recordKey{}).(string)
	return id, ok && id != ""
}

// recordTagger adds a "record" attribute when the context carries one.
type recordTagger struct{ next slog.Handler }

func (h recordTagger) Enabled(ctx context.Context, l slog.Level) bool { return h.next.Enabled(ctx, l) }

func (h recordTagger) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := RecordFromContext(ctx); ok {
		r = r.Clone()
		r.AddAttrs(slog.String("record", id))
	}
	return h.next.Handle(ctx, r)
}

func (h recordTagger) WithAttrs(as []slog.Attr) slog.Handler {
	return recordTagger{next: h.next.WithAttrs(as)}
}

func (h recordTagger) WithGroup(name string) slog.Handler {
	return recordTagger{next: h.next.WithGroup(name)}
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(as []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(as)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
