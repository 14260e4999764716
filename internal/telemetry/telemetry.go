/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry is an opt-in sender for anonymous sync diagnostics
// (dropped forwards, rejected messages, peer changes) and optional crash uploads.
// Events are batched and posted as a JSON array; nothing is sent unless the user
// opted in and an endpoint is configured.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	applog "storyboarder/internal/log"
	"storyboarder/internal/version"
)

// Environment variables read by FromEnv.
const (
	EnvOptIn     = "SBR_TELEMETRY_OPT_IN"
	EnvEventsURL = "SBR_TELEMETRY_URL"
	EnvCrashURL  = "SBR_CRASH_UPLOAD_URL"
	EnvTimeoutMS = "SBR_TELEMETRY_TIMEOUT_MS"
	EnvDebug     = "SBR_TELEMETRY_DEBUG"
)

type Config struct {
	OptIn     bool
	EventsURL string
	CrashURL  string
	Timeout   time.Duration
	// Queue bounds pending events; events beyond it are dropped. Defaults to 64.
	Queue int
	// Batch is the most events posted in one request. Defaults to 16.
	Batch int
	Debug bool
}

// FromEnv reads the SBR_TELEMETRY_* variables. Telemetry stays off unless opted in.
func FromEnv() Config {
	cfg := Config{
		OptIn:     parseBool(os.Getenv(EnvOptIn)),
		EventsURL: strings.TrimSpace(os.Getenv(EnvEventsURL)),
		CrashURL:  strings.TrimSpace(os.Getenv(EnvCrashURL)),
		Timeout:   1500 * time.Millisecond,
		Debug:     os.Getenv(EnvDebug) != "",
	}
	if ms := strings.TrimSpace(os.Getenv(EnvTimeoutMS)); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil && v > 0 {
			cfg.Timeout = v
		}
	}
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// Event is one diagnostic as posted. Props name kinds, channels and roles only;
// record payloads are never sent.
type Event struct {
	Name    string            `json:"name"`
	TS      time.Time         `json:"ts"`
	Version string            `json:"version"`
	OS      string            `json:"os"`
	Arch    string            `json:"arch"`
	Props   map[string]string `json:"props,omitempty"`
}

// Stats counts events by outcome.
type Stats struct {
	Queued  int64 `json:"queued"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

// Client posts events from a background goroutine. A nil *Client is valid and
// does nothing, so callers never check for it.
type Client struct {
	cfg  Config
	log  *slog.Logger
	http *http.Client
	q    chan Event
	stop chan struct{}
	done chan struct{}
	once sync.Once

	queued, sent, failed, dropped atomic.Int64
}

// New starts a client. Close stops it.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1500 * time.Millisecond
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 64
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 16
	}
	c := &Client{
		cfg:  cfg,
		log:  applog.WithComponent("telemetry"),
		http: &http.Client{Timeout: cfg.Timeout},
		q:    make(chan Event, cfg.Queue),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go c.loop()
	return c
}

var defaultClient atomic.Pointer[Client]

// SetDefault installs c for code that has no client of its own, e.g. crash reports.
func SetDefault(c *Client) { defaultClient.Store(c) }

// Default returns the installed client, or nil.
func Default() *Client { return defaultClient.Load() }

// Enabled reports whether events are sent.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Event queues an event without blocking. It is dropped when the queue is full.
func (c *Client) Event(name string, props map[string]string) {
	if !c.Enabled() || name == "" {
		return
	}
	e := Event{
		Name:    name,
		TS:      time.Now().UTC(),
		Version: version.String(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		Props:   props,
	}
	select {
	case c.q <- e:
		c.queued.Add(1)
	default:
		c.dropped.Add(1)
	}
}

func (c *Client) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Queued:  c.queued.Load(),
		Sent:    c.sent.Load(),
		Failed:  c.failed.Load(),
		Dropped: c.dropped.Load(),
	}
}

// Flush waits until every queued event was posted or given up on, the client
// is closed, or ctx ends.
func (c *Client) Flush(ctx context.Context) {
	if c == nil {
		return
	}
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for c.sent.Load()+c.failed.Load() < c.queued.Load() {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
		}
	}
}

// Close stops the sender. Events still queued are discarded.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.once.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Client) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case e := <-c.q:
			batch := []Event{e}
		fill:
			for len(batch) < c.cfg.Batch {
				select {
				case e := <-c.q:
					batch = append(batch, e)
				default:
					break fill
				}
			}
			c.post(batch)
		}
	}
}

func (c *Client) post(batch []Event) {
	n := int64(len(batch))
	body, err := json.Marshal(batch)
	if err == nil {
		err = c.do(c.cfg.EventsURL, "application/json", body)
	}
	if err != nil {
		c.failed.Add(n)
		if c.cfg.Debug {
			c.log.Debug("telemetry send failed", slog.Int64("events", n), slog.Any("err", err))
		}
		return
	}
	c.sent.Add(n)
}

func (c *Client) do(url, contentType string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: %s", url, resp.Status)
	}
	return nil
}

// UploadCrash posts a crash report in the background when opted in.
// The state dump is never uploaded.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	b := append([]byte(nil), report...)
	go func() {
		if err := c.do(c.cfg.CrashURL, "text/plain; charset=utf-8", b); err != nil && c.cfg.Debug {
			c.log.Debug("crash upload failed", slog.Any("err", err))
		}
	}()
}
