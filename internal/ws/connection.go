package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Transport is the subset of *websocket.Conn a Connection needs.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// HeartbeatConfig controls liveness probing and outbound buffering of a connection.
type HeartbeatConfig struct {
	// Interval between pings sent to the peer
	Interval time.Duration
	// Timeout after which a silent peer is considered dead. Must exceed Interval
	Timeout time.Duration
	// WriteWait bounds a single write on the transport
	WriteWait time.Duration
	// QueueSize is the capacity of the outbound queue
	QueueSize int
}

// DefaultHeartbeatConfig mirrors the gorilla chat example timings.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:  30 * time.Second,
		Timeout:   60 * time.Second,
		WriteWait: 10 * time.Second,
		QueueSize: 256,
	}
}

func (c HeartbeatConfig) withDefaults() HeartbeatConfig {
	d := DefaultHeartbeatConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= c.Interval {
		c.Timeout = 2 * c.Interval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}

// Connection is one live transport session owned by a user.
//
// Outbound frames go through a FIFO queue drained by writePump, so frames
// enqueued in order are written in order. The queue is never closed; done is
// closed instead, which lets concurrent senders observe shutdown without
// risking a send on a closed channel.
type Connection struct {
	id        string
	userID    string
	createdAt time.Time
	transport Transport
	heartbeat HeartbeatConfig

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	state    atomic.Int32
	lastSeen atomic.Int64

	logger *slog.Logger
}

func NewConnection(userID string, transport Transport, cfg HeartbeatConfig, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	c := &Connection{
		id:        uuid.New().String(),
		userID:    userID,
		createdAt: time.Now(),
		transport: transport,
		heartbeat: cfg,
		send:      make(chan []byte, cfg.QueueSize),
		done:      make(chan struct{}),
	}
	c.logger = logger.With("connectionID", c.id, "userID", userID)
	c.touch()
	return c
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) UserID() string {
	return c.userID
}

func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// Done is closed once the connection starts closing.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// advance moves the state forward from one of the given states.
func (c *Connection) advance(to ConnState, from ...ConnState) bool {
	for _, f := range from {
		if c.state.CompareAndSwap(int32(f), int32(to)) {
			c.logger.Debug("Connection state changed", "from", f, "to", to)
			return true
		}
	}
	return false
}

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Connection) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

// Enqueue hands a frame to the write pump. It fails with ErrConnectionClosed
// once the connection is closing, or with the context error when the queue
// stays full past the deadline.
func (c *Connection) Enqueue(ctx context.Context, frame []byte) error {
	if c.State() >= StateClosing {
		return ErrConnectionClosed
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrSendTimeout
		}
		return ctx.Err()
	}
}

// Send encodes an event and enqueues it, waiting at most timeout for queue space.
func (c *Connection) Send(ev Event, timeout time.Duration) error {
	frame, err := Encode(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Enqueue(ctx, frame)
}

// Close moves the connection to CLOSING and releases the transport. Safe to call repeatedly.
func (c *Connection) Close(reason string) {
	c.closeOnce.Do(func() {
		c.advance(StateClosing, StateConnecting, StateAuthenticated, StateActive)
		close(c.done)
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("Error closing transport", "error", err)
		}
		c.logger.Info("Connection closing", "reason", reason)
	})
}

func (c *Connection) markClosed() {
	c.Close("closed")
	c.state.Store(int32(StateClosed))
}

// readPump delivers inbound frames to handle until the transport fails or
// the connection is closed. Any inbound traffic, pongs included, counts as
// proof of life.
func (c *Connection) readPump(handle func([]byte)) error {
	_ = c.transport.SetReadDeadline(time.Now().Add(c.heartbeat.Timeout))
	c.transport.SetPongHandler(func(string) error {
		c.touch()
		return c.transport.SetReadDeadline(time.Now().Add(c.heartbeat.Timeout))
	})

	for {
		_, frame, err := c.transport.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return err
			}
			c.logger.Debug("Read loop finished", "error", err)
			return nil
		}
		c.touch()
		_ = c.transport.SetReadDeadline(time.Now().Add(c.heartbeat.Timeout))
		handle(frame)
	}
}

// writePump drains the outbound queue and probes liveness. It closes the
// connection on a write failure or when the peer has been silent longer
// than the heartbeat timeout.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.transport.SetWriteDeadline(time.Now().Add(c.heartbeat.WriteWait))
			if err := c.transport.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("Error writing message", "error", err)
				c.Close("write failed")
				return
			}

		case <-ticker.C:
			if idle := c.idleFor(); idle > c.heartbeat.Timeout {
				c.logger.Warn("Heartbeat timeout", "idle", idle)
				c.Close("heartbeat timeout")
				return
			}
			_ = c.transport.SetWriteDeadline(time.Now().Add(c.heartbeat.WriteWait))
			if err := c.transport.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Error sending ping", "error", err)
				c.Close("ping failed")
				return
			}

		case <-c.done:
			return
		}
	}
}
