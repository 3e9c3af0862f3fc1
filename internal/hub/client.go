package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ICShapy/shapy/internal/config"
	"github.com/ICShapy/shapy/pkg/log"
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("client send buffer full")
)

// DisconnectHandler is called once when the read pump ends.
type DisconnectHandler func(*Client)

// MessageHandler handles one inbound text frame.
type MessageHandler func(*Client, []byte)

type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn

	send              chan []byte
	done              chan struct{}
	closeOnce         sync.Once
	disconnectHandler DisconnectHandler
	config            config.WebSocketConfig
}

func NewClient(id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	size := cfg.SendBuffer
	if size <= 0 {
		size = 256
	}
	return &Client{
		ID:     id,
		Hub:    hub,
		Conn:   conn,
		send:   make(chan []byte, size),
		done:   make(chan struct{}),
		config: cfg,
	}
}

// SetDisconnectHandler sets the handler to be called on disconnect.
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// Send queues a frame for the write pump. It never blocks; a client that
// cannot keep up gets ErrSendBufferFull and should be closed.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close sends a close frame with code and reason and tears the connection
// down. Later calls are no-ops.
func (c *Client) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.writeWait())
		msg := websocket.FormatCloseMessage(code, reason)
		if werr := c.Conn.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = werr
		}
		if cerr := c.Conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func (c *Client) ReadPump(handler MessageHandler) {
	defer func() {
		if c.disconnectHandler != nil {
			c.disconnectHandler(c)
		}
		if c.Hub != nil {
			c.Hub.Unregister(c)
		}
		_ = c.Close(websocket.CloseNormalClosure, "")
	}()

	if c.config.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(c.config.MaxMessageSize)
	}
	c.Conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.pongWait()))
		return nil
	})

	for {
		msgType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Warn().Err(err).Str("client_id", c.ID).Msg("websocket read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		handler(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingInterval())
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait()))
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait()))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) pongWait() time.Duration {
	if c.config.PongWait > 0 {
		return c.config.PongWait
	}
	return 60 * time.Second
}

func (c *Client) pingInterval() time.Duration {
	if c.config.PingInterval > 0 {
		return c.config.PingInterval
	}
	return c.pongWait() * 9 / 10
}

func (c *Client) writeWait() time.Duration {
	if c.config.WriteWait > 0 {
		return c.config.WriteWait
	}
	return 10 * time.Second
}
