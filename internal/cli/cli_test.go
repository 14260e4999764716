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
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"storyboarder/internal/config"
	"storyboarder/internal/domain"
	"storyboarder/internal/window"
)

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(config.EnvSecret, "")
	keyring.MockInit()
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "storyboarder", cmd.Use)

	for _, name := range []string{"primary", "secondary", "demo", "secret", "config", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	v := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, v)
	assert.Equal(t, "v", v.Shorthand)
}

func TestSubcommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	p, _, err := cmd.Find([]string{"primary"})
	require.NoError(t, err)
	assert.NotNil(t, p.Flags().Lookup("listen"))
	assert.Equal(t, "true", p.Flags().Lookup("resync-on-connect").DefValue)

	s, _, err := cmd.Find([]string{"secondary"})
	require.NoError(t, err)
	assert.NotNil(t, s.Flags().Lookup("peer"))
	assert.Equal(t, "2s", s.Flags().Lookup("reconnect").DefValue)
}

func TestParseRecord(t *testing.T) {
	r, err := parseRecord([]byte(`{"type":"SET_ASPECT_RATIO","payload":1.78}`))
	require.NoError(t, err)
	assert.Equal(t, domain.SetAspectRatio, r.Type)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, json.RawMessage(`1.78`), r.Payload)

	r, err = parseRecord([]byte(`{"type":"UNDO","payload":null}`))
	require.NoError(t, err)
	assert.Nil(t, r.Payload)

	_, err = parseRecord([]byte(`{"payload":1}`))
	assert.Error(t, err)
	_, err = parseRecord([]byte(`{"type":"X","extra":1}`))
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(WrapExitError(ExitFailure, "demo", nil)))
	assert.Equal(t, ExitCommandError, ExitCode(errors.New("plain")))
	wrapped := WrapExitError(ExitCommandError, "listen", errors.New("in use"))
	assert.Equal(t, "listen: in use", wrapped.Error())
}

func TestSessionDrivesWindow(t *testing.T) {
	w := window.New(window.Options{Role: window.Primary})
	defer w.Close()
	var out bytes.Buffer
	s := newSession(w, nil, &out)

	in := strings.Join([]string{
		`{"type":"SET_ASPECT_RATIO","payload":1.78}`,
		`# comment`,
		`:state`,
		`{"type":"BAD"`,
		`:bogus`,
		`:journal`,
		`:quit`,
		`{"type":"SET_BOARD","payload":{"uid":"late"}}`,
	}, "\n")
	require.NoError(t, s.run(context.Background(), strings.NewReader(in)))

	got := out.String()
	assert.Contains(t, got, `"aspectRatio":1.78`)
	assert.Contains(t, got, "error parse record")
	assert.Contains(t, got, "error unknown command :bogus")
	assert.Contains(t, got, "error journal is disabled")
	assert.Empty(t, w.State().Board.UID, "input after :quit must be ignored")
}

func TestSessionLangOnSecondary(t *testing.T) {
	w := window.New(window.Options{Role: window.Secondary})
	defer w.Close()
	var out bytes.Buffer
	s := newSession(w, nil, &out)

	in := ":lang fr\n:state\n:quit\n"
	require.NoError(t, s.run(context.Background(), strings.NewReader(in)))
	assert.NotContains(t, out.String(), "error")
	assert.Equal(t, "fr", w.State().Language)
}

func TestSessionStats(t *testing.T) {
	ctx := context.Background()
	jw, err := openJournal(ctx, config.JournalConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "j.sqlite"), Buffer: 8})
	require.NoError(t, err)
	defer jw.Close()
	w := window.New(window.Options{Role: window.Primary, Journal: jw})
	defer w.Close()
	var out bytes.Buffer
	s := newSession(w, jw, &out)
	s.connected = func() bool { return false }

	in := `{"type":"SET_ASPECT_RATIO","payload":1.5}` + "\n:state\n:stats\n:quit\n"
	require.NoError(t, s.run(ctx, strings.NewReader(in)))

	var line string
	for _, l := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(l, "stats ") {
			line = strings.TrimPrefix(l, "stats ")
		}
	}
	require.NotEmpty(t, line, out.String())
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &st))
	assert.Equal(t, 1.0, st["undo"])
	assert.Equal(t, false, st["connected"])
	assert.Contains(t, st, "journal")
	assert.NotContains(t, st, "telemetry")
}

func TestConfigShowNotesOverrides(t *testing.T) {
	isolate(t)
	t.Setenv(config.EnvTransport, "redis")
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "show"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "# sync.transport is overridden by "+config.EnvTransport)
	assert.Contains(t, out.String(), "transport: redis")
}

func TestDemoScenariosPass(t *testing.T) {
	var out bytes.Buffer
	failed := RunDemo(context.Background(), &out, windowOptions(config.Defaults(), ""))
	assert.Zero(t, failed, out.String())
	assert.Equal(t, len(scenarios), strings.Count(out.String(), "PASS "))
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "storyboarder "))
}

func TestSecretSetAndShow(t *testing.T) {
	isolate(t)

	cmd := NewRootCommand()
	cmd.SetIn(strings.NewReader("correct-horse\n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"secret", "set"})
	require.NoError(t, cmd.Execute())

	var out bytes.Buffer
	cmd = NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"secret", "show"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "co*********se\n", out.String())

	out.Reset()
	cmd = NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"secret", "show", "--reveal"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "correct-horse\n", out.String())
}

func TestUnknownTransportIsCommandError(t *testing.T) {
	isolate(t)
	cmd := NewRootCommand()
	cmd.SetIn(strings.NewReader(""))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"primary", "--transport", "pipe"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
}
