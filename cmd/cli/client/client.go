package client

import (
	"container/ring"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
	"github.com/livekit/room-coordinator/pkg/service"
)

const maxLogs = 256

// Client is one websocket connection to the coordinator, either a transport adapter or an observer
type Client struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	paused atomic.Bool

	writeLock sync.Mutex

	// navigate log ring buffer. saving the last N entries
	logLock sync.Mutex
	writer  *ring.Ring
	reader  *ring.Ring

	lock     sync.Mutex
	snapshot *types.RoomSnapshot
	lastSeq  uint64

	OnNotification func(n *types.Notification)
	OnSnapshot     func(s *types.RoomSnapshot)
	OnReply        func(msg *service.ServerMessage)
}

// NewWebSocketConn dials endpoint (transport or observe) for room on host
func NewWebSocketConn(host, endpoint, room string) (*websocket.Conn, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, err
	}
	u.Path = "/" + strings.TrimPrefix(endpoint, "/")
	u.RawQuery = url.Values{"room": []string{room}}.Encode()

	conn, res, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("%w: %s", err, res.Status)
		}
		return nil, err
	}
	return conn, nil
}

func NewClient(conn *websocket.Conn) *Client {
	logRing := ring.New(maxLogs)
	c := &Client{
		conn:   conn,
		reader: logRing,
		writer: logRing,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Run reads server messages until the connection closes or Stop is called
func (c *Client) Run() error {
	go c.logLoop()

	c.conn.SetCloseHandler(func(code int, text string) error {
		// when closed, stop connection
		logger.Infow("connection closed", "code", code, "text", text)
		c.Stop()
		return nil
	})

	for {
		msg, err := c.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil || service.IsWebSocketCloseError(err) {
				return nil
			}
			return err
		}
		if msg == nil {
			continue
		}

		switch msg.Type {
		case service.MessageSnapshot:
			c.lock.Lock()
			c.snapshot = msg.Snapshot
			c.lock.Unlock()
			if msg.Snapshot != nil {
				c.AppendLog("snapshot", "seq", msg.Snapshot.Seq, "participants", len(msg.Snapshot.Participants),
					"primarySpeaker", msg.Snapshot.PrimarySpeaker)
			}
			if c.OnSnapshot != nil {
				c.OnSnapshot(msg.Snapshot)
			}

		case service.MessageNotification:
			n := msg.Notification
			if n == nil {
				continue
			}
			c.lock.Lock()
			if n.Seq <= c.lastSeq {
				c.AppendLog("notification out of order", "seq", n.Seq, "last", c.lastSeq)
			}
			c.lastSeq = n.Seq
			c.lock.Unlock()
			c.AppendLog("notification", "seq", n.Seq, "cause", n.Cause, "participant", n.ParticipantID,
				"primarySpeaker", n.PrimarySpeaker, "changed", n.PrimarySpeakerChanged, "active", n.ActiveSpeakers)
			if c.OnNotification != nil {
				c.OnNotification(n)
			}

		default:
			if msg.Type == service.MessageError {
				c.AppendLog("server error", "error", msg.Error)
			}
			if c.OnReply != nil {
				c.OnReply(msg)
			}
		}
	}
}

func (c *Client) ReadMessage() (*service.ServerMessage, error) {
	for {
		// handle special messages and pass on the rest
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		if c.ctx.Err() != nil {
			return nil, c.ctx.Err()
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			msg := &service.ServerMessage{}
			err := json.Unmarshal(payload, msg)
			return msg, err
		default:
			return nil, nil
		}
	}
}

func (c *Client) SendMessage(msg *service.TransportMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Snapshot returns the latest snapshot received, nil before the first one
func (c *Client) Snapshot() *types.RoomSnapshot {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.snapshot
}

func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Client) Stop() {
	c.cancel()
	c.writeLock.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeLock.Unlock()
	_ = c.conn.Close()
}

func (c *Client) PauseLogs() {
	c.paused.Store(true)
}

func (c *Client) ResumeLogs() {
	c.paused.Store(false)
}

type logEntry struct {
	msg  string
	args []interface{}
}

func (c *Client) AppendLog(msg string, args ...interface{}) {
	entry := &logEntry{
		msg:  msg,
		args: args,
	}

	c.logLock.Lock()
	c.writer.Value = entry
	c.writer = c.writer.Next()
	c.logLock.Unlock()
}

func (c *Client) logLoop() {
	for {
		var entries []*logEntry
		c.logLock.Lock()
		for !c.paused.Load() && c.reader != c.writer {
			if val, _ := c.reader.Value.(*logEntry); val != nil {
				entries = append(entries, val)
			}
			// advance reader until writer
			c.reader = c.reader.Next()
		}
		c.logLock.Unlock()
		for _, e := range entries {
			logger.Infow(e.msg, e.args...)
		}

		// sleep or abort
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}
