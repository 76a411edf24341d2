// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livekit/protocol/logger"
)

const (
	pingFrequency = 10 * time.Second
	pingTimeout   = 2 * time.Second
	writeTimeout  = 5 * time.Second
)

// WSConnection exchanges JSON messages over a websocket. Writes are serialised, reads must
// come from a single goroutine.
type WSConnection struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	wsc := &WSConnection{
		conn:   conn,
		closed: make(chan struct{}),
	}
	go wsc.pingWorker()
	return wsc
}

func (c *WSConnection) Close() error {
	c.once.Do(func() { close(c.closed) })
	return c.conn.Close()
}

func (c *WSConnection) ReadMessage() (*TransportMessage, int, error) {
	messageType, payload, err := c.conn.ReadMessage()
	if err != nil {
		return nil, 0, err
	}

	switch messageType {
	case websocket.TextMessage, websocket.BinaryMessage:
		msg := &TransportMessage{}
		err := json.Unmarshal(payload, msg)
		return msg, len(payload), err
	default:
		logger.Debugw("unsupported message", "message", messageType)
		return nil, len(payload), nil
	}
}

func (c *WSConnection) WriteMessage(msg *ServerMessage) (int, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return len(payload), c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *WSConnection) pingWorker() {
	ticker := time.NewTicker(pingFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte(""), time.Now().Add(pingTimeout))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// IsWebSocketCloseError checks that error is normal/expected closure
func IsWebSocketCloseError(err error) bool {
	return errors.Is(err, io.EOF) ||
		strings.HasSuffix(err.Error(), "use of closed network connection") ||
		strings.HasSuffix(err.Error(), "connection reset by peer") ||
		websocket.IsCloseError(
			err,
			websocket.CloseAbnormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNormalClosure,
			websocket.CloseNoStatusReceived,
		)
}
