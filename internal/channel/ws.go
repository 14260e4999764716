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
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	applog "storyboarder/internal/log"
	"storyboarder/internal/queue"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 32 << 20 // skeleton blobs can be large
)

// Conn is a websocket endpoint. Sends are queued and written by a single writer
// goroutine; reads are delivered to the registry from a single reader goroutine.
type Conn struct {
	ws      *websocket.Conn
	reg     *registry
	out     *queue.FIFO[[]byte]
	log     *slog.Logger
	once    sync.Once
	done    chan struct{}
	onClose func()
}

func newConn(ws *websocket.Conn, reg *registry, onClose func()) *Conn {
	c := &Conn{
		ws:      ws,
		reg:     reg,
		out:     queue.New[[]byte](),
		log:     applog.WithComponent("channel.ws"),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	ws.SetReadLimit(maxMessage)
	go c.readPump()
	go c.writePump()
	return c
}

// Send queues a message for the peer. Messages after close are dropped.
func (c *Conn) Send(name string, data []byte) {
	b, err := json.Marshal(frame{Name: name, Data: data})
	if err != nil {
		c.log.Warn("frame encode failed, message dropped", slog.String("channel", name), slog.Any("err", err))
		return
	}
	if !c.out.Push(b) {
		c.log.Debug("connection closed, message dropped", slog.String("channel", name))
	}
}

// OnReceive registers the handler for name.
func (c *Conn) OnReceive(name string, h Handler) Subscription { return c.reg.set(name, h) }

// Done is closed when the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close shuts the connection down. Queued messages are dropped.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.out.Close()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = c.ws.Close()
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}

func (c *Conn) readPump() {
	defer func() { _ = c.Close() }()
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("peer connection lost", slog.Any("err", err))
			}
			return
		}
		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.log.Warn("bad frame", slog.Any("err", err))
			continue
		}
		c.reg.deliver(f.Name, f.Data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	msgs := make(chan []byte)
	go func() {
		defer close(msgs)
		c.out.Drain(func(b []byte) {
			select {
			case msgs <- b:
			case <-c.done:
			}
		})
	}()
	for {
		select {
		case b, ok := <-msgs:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Debug("write failed", slog.Any("err", err))
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
