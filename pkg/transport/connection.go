package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendQueueFull    = errors.New("send queue full")
)

// callback executed when a text message is received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

// callback executed once, after the read loop has stopped.
type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	// HeartbeatInterval is how often the peer is pinged. Zero disables it.
	HeartbeatInterval time.Duration
	// PongTimeout bounds how long a ping may wait for its pong.
	PongTimeout   time.Duration
	WriteTimeout  time.Duration
	SendQueueSize int
	ReadLimit     int64
}

const (
	defaultPongTimeout   = 10 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	defaultSendQueueSize = 256
)

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	return c
}

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	errMu    sync.Mutex
	closeErr error

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	config = config.withDefaults()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    connLogger,
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, config.SendQueueSize), // Buffered channel
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,
	}
}

func (c *Connection) Run() {
	c.wg.Add(1)
	if c.config.ReadLimit > 0 {
		c.conn.SetReadLimit(c.config.ReadLimit)
	}
	go c.readPump()
	go c.writePump()
	if c.config.HeartbeatInterval > 0 {
		go c.heartbeat()
	}

	c.logger.Info("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
// It owns teardown: onClose runs here, after the last message was handled.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
		if c.onClose != nil {
			c.onClose(c.id, c.Err())
		}
		c.wg.Done()
		close(c.done)
	}()

	for {
		typ, message, err := c.conn.Read(c.ctx)
		if err != nil {
			readErr = err
			return
		}
		// Only text frames carry protocol messages.
		if typ != websocket.MessageText {
			c.logger.Debug("ignoring non-text frame", slog.String("type", typ.String()))
			continue
		}
		c.dispatch(message)
	}
}

// dispatch hands one message to the handler. A panic is logged and swallowed
// so a single faulty message cannot end the connection.
func (c *Connection) dispatch(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked", slog.Any("panic", r))
		}
	}()
	if c.onMessage != nil {
		c.onMessage(c.ctx, c.id, message)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection.
// It is the only writer of data frames, so frames never interleave.
func (c *Connection) writePump() {
	for {
		select {
		case message := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, c.config.WriteTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.logger.Warn("write failed", slog.Any("error", err))
				c.abort(fmt.Errorf("write: %w", err))
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// heartbeat pings the peer and drops the connection when a pong is late.
func (c *Connection) heartbeat() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.config.PongTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Info("heartbeat failed, closing connection", slog.Any("error", err))
				c.abort(fmt.Errorf("heartbeat: %w", err))
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a message for the peer without blocking. It is safe for concurrent use.
func (c *Connection) Send(message []byte) error {
	if c.ctx.Err() != nil {
		return ErrConnectionClosed
	}
	select {
	case c.send <- message:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

// Close performs a normal close handshake and stops the pumps.
func (c *Connection) Close(reason error) {
	c.closeOnce.Do(func() {
		c.setErr(reason)
		status := websocket.CloseStatus(reason)
		c.logger.Info("Transport connection closing", slog.Any("reason", reason), slog.String("status", status.String()))

		if c.conn != nil {
			_ = c.conn.Close(websocket.StatusNormalClosure, "")
		}
		c.cancel() // Signal goroutines to stop.
	})
}

// abort drops the connection without a close handshake.
func (c *Connection) abort(reason error) {
	c.closeOnce.Do(func() {
		c.setErr(reason)
		c.logger.Info("Transport connection aborted", slog.Any("reason", reason))

		if c.conn != nil {
			_ = c.conn.CloseNow()
		}
		c.cancel()
	})
}

func (c *Connection) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.closeErr == nil {
		c.closeErr = err
	}
}

// Err returns the reason the connection was closed, if any.
func (c *Connection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.closeErr
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection, used as the peer ID.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}
func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
