package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"
)

// ClientConn abstracts the transport under a Client so the dispatch
// and registry code never touch gorilla directly
type ClientConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// wsConn owns a gorilla connection. All writes, pings included, go
// through one goroutine draining sendq; gorilla connections do not
// tolerate concurrent writers.
type wsConn struct {
	conn       *websocket.Conn
	sendq      chan []byte
	sendMu     sync.Mutex
	closeOnce  sync.Once
	closed     bool
	done       chan struct{}
	pingPeriod time.Duration
	pongWait   time.Duration
	writeWait  time.Duration
}

// NewWebSocketClientConn wraps an upgraded connection and starts its
// writer goroutine
func NewWebSocketClientConn(conn *websocket.Conn, maxMsgSize int64, pongWait, pingPeriod time.Duration, sendqSize int) *wsConn {
	if sendqSize <= 0 {
		sendqSize = 256
	}
	c := &wsConn{
		conn:       conn,
		sendq:      make(chan []byte, sendqSize),
		done:       make(chan struct{}),
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
		writeWait:  WriteWait,
	}

	conn.SetReadLimit(maxMsgSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.drainSendq()
	return c
}

func (c *wsConn) drainSendq() {
	pings := time.NewTicker(c.pingPeriod)
	defer func() {
		pings.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.sendq:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Warn("websocket write failed: %v", err)
				return
			}

		case <-pings.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("websocket ping failed: %v", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// ReadMessage blocks for the next frame, holding the read deadline
// one pong interval ahead
func (c *wsConn) ReadMessage() ([]byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	_, frame, err := c.conn.ReadMessage()
	return frame, err
}

// WriteMessage queues a frame for the writer goroutine. A full queue
// means the peer is not keeping up; the frame is refused rather than
// blocking every other recipient of the same broadcast.
func (c *wsConn) WriteMessage(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	select {
	case c.sendq <- data:
		return nil
	default:
		return ErrWriteChannelFull
	}
}

// Close shuts the connection down once; later calls are no-ops
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.closed = true
		close(c.sendq)
		c.sendMu.Unlock()

		close(c.done)
	})
	return nil
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
