package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"webrtc-signal-relay/internal/metrics"
	"webrtc-signal-relay/internal/relay"
)

const wsWriteWait = 1 * time.Second

// wsChannel binds one WebSocket connection to the router's Channel contract.
// All frames pass through the bounded queue and a single writer goroutine,
// so no two goroutines ever write to the connection concurrently.
type wsChannel struct {
	id      string
	conn    *websocket.Conn
	queue   *sendQueue
	metrics *metrics.Metrics

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newWSChannel(conn *websocket.Conn, queueDepth int, m *metrics.Metrics) *wsChannel {
	return &wsChannel{
		id:      uuid.NewString(),
		conn:    conn,
		queue:   newSendQueue(queueDepth),
		metrics: m,
		done:    make(chan struct{}),
	}
}

func (c *wsChannel) ID() string { return c.id }

// Send enqueues the event for the writer goroutine. It never blocks; a full
// queue or closed channel drops the event.
func (c *wsChannel) Send(ev relay.Event) bool {
	if !c.queue.Enqueue(serverMessageFromEvent(ev)) {
		c.metrics.Inc(metrics.DropReasonSlowClient)
		return false
	}
	return true
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.Close()
		_ = c.conn.Close()
	})
	return nil
}

// writeLoop drains the queue onto the wire until the queue closes or a write
// fails. It owns all data frames; control frames go through writeControl.
func (c *wsChannel) writeLoop() {
	defer c.Close()
	for {
		msg, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		if err := c.writeMessage(msg); err != nil {
			return
		}
	}
}

func (c *wsChannel) writeMessage(msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// fail sends an error message followed by a close frame. The error bypasses
// the queue so the client sees it even when the queue is saturated.
func (c *wsChannel) fail(code, message string, closeCode int, closeReason string) {
	_ = c.writeMessage(serverMessage{
		Type:    messageTypeError,
		Code:    code,
		Message: message,
	})
	c.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, closeReason))
}

func (c *wsChannel) writeControl(frameType int, data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(frameType, data, time.Now().Add(wsWriteWait))
}
