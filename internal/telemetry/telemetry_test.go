/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// collector is an events endpoint that keeps every posted batch.
type collector struct {
	mu      sync.Mutex
	batches [][]Event
	status  int
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var batch []Event
	_ = json.NewDecoder(r.Body).Decode(&batch)
	_ = r.Body.Close()
	c.mu.Lock()
	c.batches = append(c.batches, batch)
	status := c.status
	c.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (c *collector) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func flush(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c.Flush(ctx)
	if ctx.Err() != nil {
		t.Fatalf("flush timed out: %+v", c.Stats())
	}
}

func TestSyncEventsArePosted(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col)
	defer srv.Close()

	c := New(Config{OptIn: true, EventsURL: srv.URL, Timeout: time.Second})
	defer c.Close()
	c.ForwardDropped("LOAD_SCENE", "primary")
	c.MessageRejected("store:update", "secondary")
	c.Peer("*channel.Conn", "down", "secondary")
	c.WindowPanic("primary")
	flush(t, c)

	got := col.events()
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	want := []string{EventForwardDropped, EventMessageRejected, EventPeer, EventWindowPanic}
	for i, e := range got {
		if e.Name != want[i] {
			t.Fatalf("event %d = %s, want %s", i, e.Name, want[i])
		}
		if e.TS.IsZero() || e.Version == "" || e.OS == "" {
			t.Fatalf("event %d misses its envelope: %+v", i, e)
		}
	}
	if got[0].Props["kind"] != "LOAD_SCENE" || got[0].Props["role"] != "primary" {
		t.Fatalf("forward_dropped props = %v", got[0].Props)
	}
	if got[2].Props["state"] != "down" {
		t.Fatalf("peer props = %v", got[2].Props)
	}
	if st := c.Stats(); st.Queued != 4 || st.Sent != 4 || st.Failed != 0 || st.Dropped != 0 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestEventsAreBatched(t *testing.T) {
	release := make(chan struct{})
	first := make(chan struct{}, 1)
	col := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case first <- struct{}{}:
			<-release
		default:
		}
		col.ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := New(Config{OptIn: true, EventsURL: srv.URL, Timeout: 2 * time.Second, Batch: 8})
	defer c.Close()
	c.WindowPanic("primary")
	<-first
	for i := 0; i < 5; i++ {
		c.ForwardDropped("SET_BOARD", "primary")
	}
	close(release)
	flush(t, c)

	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.batches) != 2 || len(col.batches[0]) != 1 || len(col.batches[1]) != 5 {
		t.Fatalf("expected batches of 1 and 5, got %d batches", len(col.batches))
	}
}

func TestFullQueueDropsEvents(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(Config{OptIn: true, EventsURL: srv.URL, Timeout: 2 * time.Second, Queue: 1, Batch: 1})
	defer c.Close()
	c.WindowPanic("primary")
	<-started
	c.WindowPanic("primary")
	c.WindowPanic("primary")
	close(release)
	flush(t, c)

	if st := c.Stats(); st.Queued != 2 || st.Dropped != 1 || st.Sent != 2 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestServerErrorsCountAsFailed(t *testing.T) {
	col := &collector{status: http.StatusInternalServerError}
	srv := httptest.NewServer(col)
	defer srv.Close()

	c := New(Config{OptIn: true, EventsURL: srv.URL, Timeout: time.Second})
	defer c.Close()
	c.MessageRejected("store:show", "secondary")
	flush(t, c)
	if st := c.Stats(); st.Failed != 1 || st.Sent != 0 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestDisabledClientSendsNothing(t *testing.T) {
	col := &collector{}
	srv := httptest.NewServer(col)
	defer srv.Close()

	for _, cfg := range []Config{
		{OptIn: false, EventsURL: srv.URL},
		{OptIn: true},
	} {
		c := New(cfg)
		if c.Enabled() {
			t.Fatalf("client enabled with %+v", cfg)
		}
		c.ForwardDropped("SET_BOARD", "primary")
		c.Close()
		if st := c.Stats(); st != (Stats{}) {
			t.Fatalf("disabled client counted events: %+v", st)
		}
	}
	if n := len(col.events()); n != 0 {
		t.Fatalf("disabled clients posted %d events", n)
	}
}

func TestUploadCrashThroughDefault(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- r.Header.Get("Content-Type") + "|" + string(b)
	}))
	defer srv.Close()

	c := New(Config{OptIn: true, CrashURL: srv.URL, Timeout: time.Second})
	defer c.Close()
	SetDefault(c)
	defer SetDefault(nil)

	Default().UploadCrash([]byte("Storyboarder Crash Report"))
	select {
	case s := <-got:
		if s != "text/plain; charset=utf-8|Storyboarder Crash Report" {
			t.Fatalf("crash upload = %q", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("crash report not uploaded")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvOptIn, "yes")
	t.Setenv(EnvEventsURL, " http://telemetry.test/events ")
	t.Setenv(EnvCrashURL, "")
	t.Setenv(EnvTimeoutMS, "250")
	t.Setenv(EnvDebug, "")

	cfg := FromEnv()
	if !cfg.OptIn || cfg.EventsURL != "http://telemetry.test/events" || cfg.Timeout != 250*time.Millisecond || cfg.Debug {
		t.Fatalf("FromEnv() = %+v", cfg)
	}

	t.Setenv(EnvTimeoutMS, "soon")
	if cfg := FromEnv(); cfg.Timeout != 1500*time.Millisecond {
		t.Fatalf("bad timeout not ignored: %v", cfg.Timeout)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	c.ForwardDropped("SET_BOARD", "primary")
	c.Peer("pipe", "up", "primary")
	c.UploadCrash([]byte("x"))
	c.Flush(context.Background())
	c.Close()
	if c.Enabled() || c.Stats() != (Stats{}) {
		t.Fatalf("nil client is not inert")
	}
	if Default() != nil {
		t.Fatalf("no default client installed")
	}
}
