/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package window runs one side of a synchronized window pair.
//
// A Window owns a store, the replicating middleware and a serialized execution
// loop. Everything that touches the store runs on that loop: local dispatches,
// records arriving from the peer and state-change listeners. Records are therefore
// applied one at a time, which the replicator's single-slot echo guard relies on.
package window

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storyboarder/internal/channel"
	"storyboarder/internal/crash"
	"storyboarder/internal/domain"
	"storyboarder/internal/journal"
	applog "storyboarder/internal/log"
	"storyboarder/internal/queue"
	"storyboarder/internal/replicate"
	"storyboarder/internal/store"
	"storyboarder/internal/telemetry"
	"storyboarder/internal/undo"
)

// ErrClosed is returned by operations on a closed window.
var ErrClosed = errors.New("window closed")

type Role string

const (
	Primary   Role = "primary"
	Secondary Role = "secondary"
)

// Defaults for the kind sets. A nil set in Options selects these.
var (
	DefaultLocalOnly = []domain.Kind{domain.SetHover, domain.SelectObjects}
	DefaultUntracked = []domain.Kind{domain.SetHover, domain.SelectObjects, domain.SetCurrentLanguage}
	DefaultFlatten   = []domain.Kind{domain.UpdateCharacterSkeleton, domain.LoadScene}
)

type Options struct {
	// ID identifies the window on the wire; a random one is generated when empty.
	ID      string
	Role    Role
	Initial domain.State
	History undo.Config

	LocalOnly []domain.Kind
	Untracked []domain.Kind
	Flatten   []domain.Kind

	// Journal, when set, records every applied record.
	Journal *journal.Writer
	// Telemetry receives sync diagnostics; nil disables them.
	Telemetry *telemetry.Client
	// CrashDir receives crash reports of the loop.
	CrashDir string
	// OnShow is called on a Secondary when the Primary asks it to show a board.
	OnShow func(boardUID string)
}

type Window struct {
	id   string
	role Role
	opts Options
	log  *slog.Logger

	store *store.Store
	rep   *replicate.Replicator
	loop  *queue.FIFO[func()]
	done  chan struct{}

	mu    sync.Mutex
	peer  channel.Channel
	subs  []channel.Subscription
	shown string
	stop  chan struct{}
}

// New creates a window and starts its loop.
func New(opts Options) *Window {
	if opts.ID == "" {
		opts.ID = domain.NewWindowID()
	}
	if opts.Role == "" {
		opts.Role = Primary
	}
	if opts.LocalOnly == nil {
		opts.LocalOnly = DefaultLocalOnly
	}
	if opts.Untracked == nil {
		opts.Untracked = DefaultUntracked
	}
	if opts.Flatten == nil {
		opts.Flatten = DefaultFlatten
	}
	w := &Window{
		id:   opts.ID,
		role: opts.Role,
		opts: opts,
		log:  applog.WithWindow(applog.WithComponent("window"), opts.ID, string(opts.Role)),
		loop: queue.New[func()](),
		done: make(chan struct{}),
	}
	w.store = store.New(store.Options{Initial: opts.Initial, History: opts.History, Untracked: opts.Untracked})
	w.rep = replicate.New(replicate.Options{
		WindowID:  opts.ID,
		LocalOnly: opts.LocalOnly,
		Flatten:   opts.Flatten,
		Exec:      w.post,
		OnDrop: func(fe *replicate.ForwardError) {
			opts.Telemetry.ForwardDropped(string(fe.Kind), string(opts.Role))
		},
		OnReject: func(error) {
			opts.Telemetry.MessageRejected(replicate.UpdateTopic.Name, string(opts.Role))
		},
		Logger: w.log,
	})
	w.rep.Bind(w.store)
	w.store.Use(w.rep.Middleware)
	if opts.Journal != nil {
		w.store.Use(opts.Journal.Middleware)
	}
	go w.run()
	w.log.Info("window started")
	return w
}

func (w *Window) ID() string { return w.id }
func (w *Window) Role() Role { return w.role }

// Shown returns the board uid most recently requested through store:show.
func (w *Window) Shown() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shown
}

// Stats returns the replication counters.
func (w *Window) Stats() replicate.Stats { return w.rep.Stats() }

// Dispatch queues r for the loop and returns without waiting for it to be applied.
func (w *Window) Dispatch(r domain.Record) error {
	if r.ID == "" {
		r.ID = domain.NewID()
	}
	if !w.loop.Push(func() { w.store.Dispatch(r) }) {
		return ErrClosed
	}
	return nil
}

// Undo queues an UNDO record.
func (w *Window) Undo() error { return w.Dispatch(domain.NewRecord(domain.Undo, nil)) }

// Redo queues a REDO record.
func (w *Window) Redo() error { return w.Dispatch(domain.NewRecord(domain.Redo, nil)) }

// Flush waits until everything queued before it has run.
// It must not be called from the loop, e.g. from a state-change listener.
func (w *Window) Flush() error {
	ran := make(chan struct{})
	if !w.loop.Push(func() { close(ran) }) {
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-w.done:
		return ErrClosed
	}
}

// State returns a copy of the current state.
func (w *Window) State() domain.State { return w.store.State() }

// History reports the undo and redo depth.
func (w *Window) History() (undoDepth, redoDepth int) { return w.store.History() }

// OnStateChange registers l. Listeners run on the loop.
func (w *Window) OnStateChange(l store.Listener) (cancel func()) { return w.store.OnStateChange(l) }

// Attach connects the window to its peer. A previous peer is detached first.
// If ch reports its own end through Done, the window detaches when it closes.
func (w *Window) Attach(ch channel.Channel) {
	w.Detach()
	w.rep.Attach(ch)

	var subs []channel.Subscription
	if w.role == Secondary {
		reject := func(name string) func(error) {
			return func(error) { w.opts.Telemetry.MessageRejected(name, string(w.role)) }
		}
		subs = append(subs,
			ShowTopic.Listen(ch, func(m ShowMessage) { w.post(func() { w.show(m) }) }, reject(ShowTopic.Name)),
			LanguageTopic.Listen(ch, func(m LanguageMessage) { w.post(func() { w.languageChanged(m) }) }, reject(LanguageTopic.Name)),
		)
	}
	stop := make(chan struct{})
	w.mu.Lock()
	w.peer, w.subs, w.stop = ch, subs, stop
	w.mu.Unlock()
	w.opts.Telemetry.Peer(fmt.Sprintf("%T", ch), "up", string(w.role))
	w.log.Info("peer attached", slog.String("transport", fmt.Sprintf("%T", ch)))

	if d, ok := ch.(interface{ Done() <-chan struct{} }); ok {
		go func() {
			select {
			case <-d.Done():
				w.log.Info("peer went away")
				w.opts.Telemetry.Peer(fmt.Sprintf("%T", ch), "down", string(w.role))
				w.detachIf(ch)
			case <-stop:
			}
		}()
	}
}

// Detach forgets the peer. Records keep being applied locally.
func (w *Window) Detach() { w.detachIf(nil) }

// detachIf detaches the current peer, or only ch when ch is not nil.
func (w *Window) detachIf(ch channel.Channel) {
	w.mu.Lock()
	if w.peer == nil || (ch != nil && w.peer != ch) {
		w.mu.Unlock()
		return
	}
	subs, stop := w.subs, w.stop
	w.peer, w.subs, w.stop = nil, nil, nil
	w.mu.Unlock()

	w.rep.Detach()
	for _, s := range subs {
		s.Unsubscribe()
	}
	if stop != nil {
		close(stop)
	}
}

func (w *Window) currentPeer() channel.Channel {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peer
}

// Show asks the peer to show a board. Only a Primary sends it.
func (w *Window) Show(boardUID string) error {
	if w.role != Primary {
		return fmt.Errorf("show: %s window cannot send %s", w.role, ShowTopic.Name)
	}
	return ShowTopic.Send(w.currentPeer(), ShowMessage{BoardUID: boardUID})
}

// SetLanguage changes the UI language. A Primary applies it locally and
// announces it on store:language-changed; a Secondary dispatches it, so it
// reaches the Primary on store:update.
func (w *Window) SetLanguage(lang string) error {
	rec := domain.NewRecord(domain.SetCurrentLanguage, lang)
	if w.role != Primary {
		return w.Dispatch(rec)
	}
	if !w.loop.Push(func() { w.setLanguage(rec, lang) }) {
		return ErrClosed
	}
	return nil
}

func (w *Window) setLanguage(rec domain.Record, lang string) {
	w.rep.ApplyLocal(rec)
	if w.store.State().Language != lang {
		w.log.Debug("language rejected", slog.String("language", lang))
		return
	}
	msg := LanguageMessage{Language: lang, Origin: w.id}
	if err := LanguageTopic.Send(w.currentPeer(), msg); err != nil {
		w.log.Warn("announce language failed", slog.Any("err", err))
	}
}

func (w *Window) show(m ShowMessage) {
	w.mu.Lock()
	w.shown = m.BoardUID
	w.mu.Unlock()
	w.log.Debug("show requested", slog.String("board", m.BoardUID))
	if w.opts.OnShow != nil {
		w.opts.OnShow(m.BoardUID)
	}
}

func (w *Window) languageChanged(m LanguageMessage) {
	rec := domain.NewRecord(domain.SetCurrentLanguage, m.Language)
	rec.Origin = m.Origin
	w.rep.ApplyRemote(rec)
}

// Resync sends the Primary's board, scene and settings to the peer as snapshot
// records. Nothing is applied locally. Both windows drop their undo history so
// later UNDO and REDO records move the same steps on each side.
func (w *Window) Resync() error {
	if w.role != Primary {
		return fmt.Errorf("resync: only a %s window can resync", Primary)
	}
	if !w.loop.Push(w.resync) {
		return ErrClosed
	}
	return nil
}

func (w *Window) resync() {
	st := w.store.State()
	recs := []domain.Record{
		domain.NewRecord(domain.LoadScene, st.Scene),
		domain.NewRecord(domain.SetBoard, st.Board),
	}
	if st.AspectRatio > 0 {
		recs = append(recs, domain.NewRecord(domain.SetAspectRatio, st.AspectRatio))
	}
	if st.Language != "" {
		recs = append(recs, domain.NewRecord(domain.SetCurrentLanguage, st.Language))
	}
	if st.Meta.FilePath != "" {
		recs = append(recs, domain.NewRecord(domain.SetMetaFilePath, st.Meta.FilePath))
	}
	w.store.ClearHistory()
	for _, r := range recs {
		r.Snapshot = true
		w.rep.Forward(r)
	}
	w.log.Info("resync sent", slog.Int("records", len(recs)))
}

// Close detaches the peer and stops the loop. Work still queued is dropped.
// It must not be called from the loop.
func (w *Window) Close() error {
	w.Detach()
	w.loop.Close()
	<-w.done
	w.log.Info("window closed")
	return nil
}

func (w *Window) post(f func()) {
	if !w.loop.Push(f) {
		w.log.Debug("window closed, work dropped")
	}
}

func (w *Window) run() {
	defer close(w.done)
	w.loop.Drain(w.exec)
}

func (w *Window) exec(f func()) {
	defer crash.Contain(w, w.panicked)
	f()
}

func (w *Window) panicked(reportPath string) {
	w.log.Error("window loop recovered from panic", slog.String("report", reportPath))
	w.opts.Telemetry.WindowPanic(string(w.role))
}

// CrashInfo implements crash.Source.
func (w *Window) CrashInfo() crash.Info {
	in := crash.Info{Window: w.id, Role: string(w.role), Dir: w.opts.CrashDir}
	if b, err := json.MarshalIndent(w.store.State(), "", "  "); err == nil {
		in.State = b
	}
	if w.opts.Journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		entries, err := w.opts.Journal.Recent(ctx, 20)
		if err != nil {
			w.log.Warn("journal unavailable for crash report", slog.Any("err", err))
		}
		for _, e := range entries {
			in.Recent = append(in.Recent, fmt.Sprintf("%d %s %s %s %s", e.Seq, e.TS.Format(time.RFC3339Nano), e.Kind, e.ID, e.Origin))
		}
	}
	return in
}
