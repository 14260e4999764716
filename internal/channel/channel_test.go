/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu   sync.Mutex
	msgs []string
	ch   chan struct{}
}

func newSink() *sink { return &sink{ch: make(chan struct{}, 1024)} }

func (s *sink) handle(data []byte) {
	s.mu.Lock()
	s.msgs = append(s.msgs, string(data))
	s.mu.Unlock()
	s.ch <- struct{}{}
}

func (s *sink) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.ch:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for message %d of %d", i+1, n)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestPipeDeliversInOrder(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	got := newSink()
	b.OnReceive("store:update", got.handle)
	for _, m := range []string{`1`, `2`, `3`} {
		a.Send("store:update", []byte(m))
	}
	assert.Equal(t, []string{"1", "2", "3"}, got.wait(t, 3))
}

func TestPipeSendToClosedPeerIsSilent(t *testing.T) {
	a, b := NewPipe()
	got := newSink()
	b.OnReceive("x", got.handle)
	require.NoError(t, b.Close())

	done := make(chan struct{})
	go func() {
		a.Send("x", []byte(`"late"`))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send to a closed peer blocked")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, got.count())
}

func TestOnReceiveReplacesAndUnsubscribes(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	first, second := newSink(), newSink()
	b.OnReceive("x", first.handle)
	sub := b.OnReceive("x", second.handle)
	a.Send("x", []byte(`1`))
	second.wait(t, 1)
	assert.Zero(t, first.count())

	sub.Unsubscribe()
	a.Send("x", []byte(`2`))
	a.Send("y", []byte(`3`))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, second.count())
}

type greeting struct {
	Language string `json:"language"`
}

const greetingSchema = `{
  "type": "object",
  "required": ["language"],
  "properties": {"language": {"type": "string", "minLength": 1}}
}`

func TestTopicValidatesOnReceive(t *testing.T) {
	topic := NewTopic[greeting]("store:language-changed", greetingSchema)
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	got := make(chan greeting, 4)
	topic.Subscribe(b, func(g greeting) { got <- g })

	a.Send(topic.Name, []byte(`{"language": 7}`))
	a.Send(topic.Name, []byte(`{}`))
	require.NoError(t, topic.Send(a, greeting{Language: "fr"}))

	select {
	case g := <-got:
		assert.Equal(t, "fr", g.Language)
	case <-time.After(2 * time.Second):
		t.Fatal("valid message not delivered")
	}
	assert.Empty(t, got)
}

func TestTopicEncodeFailure(t *testing.T) {
	topic := NewTopic[any]("store:update", "")
	_, err := topic.Encode(func() {})
	assert.Error(t, err)
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()
	assert.Error(t, topic.Send(a, make(chan int)))
}

func TestNewTopicPanicsOnBadSchema(t *testing.T) {
	assert.Panics(t, func() { NewTopic[greeting]("bad", `{"type": 12}`) })
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWebsocketRoundTrip(t *testing.T) {
	attached := make(chan string, 2)
	s := NewServer(ServerOptions{Secret: []byte("s3cret"), OnPeer: func(id string, ok bool) {
		if ok {
			attached <- id
		}
	}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Close()

	// No peer yet: a send is a silent no-op.
	s.Send("store:update", []byte(`{"dropped":true}`))

	ctx := context.Background()
	c, err := Dial(ctx, wsURL(srv), DialOptions{WindowID: "shot-gen", Secret: []byte("s3cret")})
	require.NoError(t, err)
	defer c.Close()

	select {
	case id := <-attached:
		assert.Equal(t, "shot-gen", id)
	case <-time.After(2 * time.Second):
		t.Fatal("peer not attached")
	}
	assert.True(t, s.Connected())

	fromPrimary := newSink()
	c.OnReceive("store:update", fromPrimary.handle)
	fromSecondary := newSink()
	s.OnReceive("store:update", fromSecondary.handle)

	c.Send("store:update", []byte(`{"n":1}`))
	assert.Equal(t, []string{`{"n":1}`}, fromSecondary.wait(t, 1))

	s.Send("store:update", []byte(`{"n":2}`))
	s.Send("store:update", []byte(`{"n":3}`))
	assert.Equal(t, []string{`{"n":2}`, `{"n":3}`}, fromPrimary.wait(t, 2))

	// A second secondary is refused while the first is attached.
	_, err = Dial(ctx, wsURL(srv), DialOptions{WindowID: "other", Secret: []byte("s3cret")})
	assert.ErrorIs(t, err, ErrPeerExists)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	s := NewServer(ServerOptions{Secret: []byte("right")})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	_, err := Dial(context.Background(), wsURL(srv), DialOptions{WindowID: "w", Secret: []byte("wrong")})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = Dial(context.Background(), wsURL(srv), DialOptions{WindowID: "w"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, s.Connected())
}

func TestServerForgetsPeerOnDisconnect(t *testing.T) {
	s := NewServer(ServerOptions{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), DialOptions{WindowID: "w"})
	require.NoError(t, err)
	require.Eventually(t, s.Connected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return !s.Connected() }, 2*time.Second, 10*time.Millisecond)
	s.Send("store:update", []byte(`{}`))
}

func TestBusKeys(t *testing.T) {
	b := &Bus{opts: BusOptions{Prefix: "sb:film", Self: "secondary", Peer: "primary"}}
	assert.Equal(t, "sb:film:to:primary:store:update", b.key(b.opts.Peer, "store:update"))

	name, ok := b.nameFromKey("sb:film:to:secondary:store:show")
	assert.True(t, ok)
	assert.Equal(t, "store:show", name)

	_, ok = b.nameFromKey("sb:film:to:primary:store:show")
	assert.False(t, ok)
	_, ok = b.nameFromKey("sb:film:to:secondary:")
	assert.False(t, ok)
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	_, err := IssueToken(nil, "w", time.Minute)
	assert.Error(t, err)
}
