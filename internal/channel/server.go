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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	applog "storyboarder/internal/log"
)

// ServerOptions configures the primary window's listening endpoint.
type ServerOptions struct {
	// Secret enables token checks on upgrade. Empty means any local peer may attach.
	Secret []byte
	// OnPeer is called when a peer attaches (true) or leaves (false).
	OnPeer func(peerID string, attached bool)
}

// Server is the primary window's channel. It accepts at most one secondary at a time;
// while none is attached, Send is a no-op. Handlers survive peer reconnects.
type Server struct {
	opts     ServerOptions
	reg      *registry
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu     sync.Mutex
	peer   *Conn
	peerID string
	closed bool
	httpS  *http.Server
	ln     net.Listener
}

func NewServer(opts ServerOptions) *Server {
	return &Server{
		opts: opts,
		reg:  newRegistry("channel.server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Windows of the same app connect over loopback; origin is not meaningful.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: applog.WithComponent("channel.server"),
	}
}

// Handler returns the HTTP routes: GET /ws (upgrade) and GET /healthz.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.serveHealth).Methods(http.MethodGet)
	return r
}

// Listen binds addr and serves in the background.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	hs := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.mu.Lock()
	s.ln, s.httpS = ln, hs
	s.mu.Unlock()
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve failed", slog.Any("err", err))
		}
	}()
	s.log.Info("listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Connected reports whether a secondary is attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer != nil
}

// Send forwards to the attached peer, if any.
func (s *Server) Send(name string, data []byte) {
	s.mu.Lock()
	p := s.peer
	s.mu.Unlock()
	if p == nil {
		s.log.Debug("no peer, message dropped", slog.String("channel", name))
		return
	}
	p.Send(name, data)
}

// OnReceive registers the handler for name.
func (s *Server) OnReceive(name string, h Handler) Subscription { return s.reg.set(name, h) }

// Close disconnects the peer and stops listening.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	p, hs := s.peer, s.httpS
	s.mu.Unlock()
	if p != nil {
		_ = p.Close()
	}
	if hs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return hs.Shutdown(ctx)
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("window")
	if len(s.opts.Secret) > 0 {
		sub, err := verifyRequest(r, s.opts.Secret)
		if err != nil {
			s.log.Warn("peer rejected", slog.Any("err", err))
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		peerID = sub
	}

	s.mu.Lock()
	busy, closed := s.peer != nil, s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	if busy {
		http.Error(w, ErrPeerExists.Error(), http.StatusConflict)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", slog.Any("err", err))
		return
	}

	s.mu.Lock()
	if s.peer != nil || s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	var c *Conn
	c = newConn(ws, s.reg, func() {
		s.mu.Lock()
		if s.peer == c {
			s.peer, s.peerID = nil, ""
		}
		s.mu.Unlock()
		s.log.Info("peer detached", slog.String("peer", peerID))
		if s.opts.OnPeer != nil {
			s.opts.OnPeer(peerID, false)
		}
	})
	s.peer, s.peerID = c, peerID
	s.mu.Unlock()

	s.log.Info("peer attached", slog.String("peer", peerID))
	if s.opts.OnPeer != nil {
		s.opts.OnPeer(peerID, true)
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	body := map[string]any{"peer": s.peer != nil, "peer_id": s.peerID}
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// DialOptions configures a secondary window's connection to the primary.
type DialOptions struct {
	WindowID string
	Secret   []byte
	// TokenTTL bounds the handshake token; defaults to one minute.
	TokenTTL time.Duration
	Timeout  time.Duration
}

// Dial connects to a primary's /ws endpoint.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*Conn, error) {
	header := http.Header{}
	if len(opts.Secret) > 0 {
		ttl := opts.TokenTTL
		if ttl <= 0 {
			ttl = time.Minute
		}
		tok, err := IssueToken(opts.Secret, opts.WindowID, ttl)
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+tok)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: opts.Timeout, Proxy: http.ProxyFromEnvironment}
	target := rawURL
	if opts.WindowID != "" {
		if u, err := url.Parse(rawURL); err == nil {
			q := u.Query()
			q.Set("window", opts.WindowID)
			u.RawQuery = q.Encode()
			target = u.String()
		}
	}
	ws, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, fmt.Errorf("dial %s: %w", rawURL, ErrUnauthorized)
			case http.StatusConflict:
				return nil, fmt.Errorf("dial %s: %w", rawURL, ErrPeerExists)
			}
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	return newConn(ws, newRegistry("channel.client"), nil), nil
}
