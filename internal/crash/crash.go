/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


// Package crash turns panics into crash reports: a log entry with the stack, a
// report file with the window's identity and recent journal, and a JSON dump of
// the window's state next to it.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	applog "storyboarder/internal/log"
	"storyboarder/internal/telemetry"
	"storyboarder/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// reportSeq keeps report names unique within the process.
var reportSeq atomic.Int64

// Info is what a crashing component can tell about itself.
type Info struct {
	Window string
	Role   string
	// Dir receives the report; os.TempDir() when empty.
	Dir string
	// State is a JSON dump of the window state, written to its own file.
	State []byte
	// Recent holds the last journal lines, oldest first.
	Recent []string
}

// Source supplies Info at crash time. It may be nil.
type Source interface {
	CrashInfo() Info
}

// Recover captures a panic, writes a report and exits the process with code 2.
//
// Usage: defer crash.Recover(w)
func Recover(src Source) {
	if r := recover(); r != nil {
		l := applog.WithComponent("crash")
		stack := debug.Stack()
		l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

		reportPath, _ := writeReport(info(src), r, stack)
		if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
			l.Error("failed to write crash message to stderr", slog.Any("err", err))
		}
		if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
			l.Error("failed to write version info to stderr", slog.Any("err", err))
		}
		// Exit with a non-zero code to indicate failure in CLI context.
		exitFn(2)
	}
}

// Contain is Recover without the exit: the report is written and onPanic, if
// set, receives its path. The caller's goroutine carries on after the deferred call.
//
// Usage: defer crash.Contain(w, nil)
func Contain(src Source, onPanic func(reportPath string)) {
	if r := recover(); r != nil {
		stack := debug.Stack()
		applog.WithComponent("crash").Error("panic contained", slog.Any("panic", r), slog.String("stack", string(stack)))
		path, err := writeReport(info(src), r, stack)
		if err != nil {
			applog.WithComponent("crash").Error("write crash report failed", slog.Any("err", err))
		}
		if onPanic != nil {
			onPanic(path)
		}
	}
}

func info(src Source) Info {
	if src == nil {
		return Info{}
	}
	return src.CrashInfo()
}

func writeReport(in Info, panicVal any, stack []byte) (string, error) {
	dir := os.TempDir()
	if in.Dir != "" {
		dir = in.Dir
		_ = os.MkdirAll(dir, 0o755)
	}
	stamp := fmt.Sprintf("%s-%d-%d", time.Now().Format("20060102-150405.000"), os.Getpid(), reportSeq.Add(1))
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", stamp))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponent("crash").Error("failed to close crash report file", slog.Any("err", err), slog.String("path", path))
		}
	}()

	statePath := ""
	if len(in.State) > 0 {
		statePath = filepath.Join(dir, fmt.Sprintf("state-%s.json", stamp))
		if err := os.WriteFile(statePath, in.State, 0o600); err != nil {
			applog.WithComponent("crash").Error("state dump failed", slog.Any("err", err))
			statePath = ""
		}
	}

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "Storyboarder Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if in.Window != "" {
		_, _ = fmt.Fprintf(&buf, "Window: %s (%s)\n", in.Window, in.Role)
	}
	if statePath != "" {
		_, _ = fmt.Fprintf(&buf, "State: %s\n", statePath)
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))
	if len(in.Recent) > 0 {
		_, _ = fmt.Fprintf(&buf, "Recent records:\n")
		for _, line := range in.Recent {
			_, _ = fmt.Fprintf(&buf, "  %s\n", line)
		}
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return path, err
	}
	_ = f.Sync()

	// optionally upload anonymized crash report (opt-in via env); the state dump stays local
	telemetry.Default().UploadCrash(buf.Bytes())
	return path, nil
}
