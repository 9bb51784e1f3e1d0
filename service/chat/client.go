package chat

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"PRelay/tools/errs"
)

var (
	ErrSendQueueFull = errs.NewCodeError(errs.TransportError, "SendQueueFull")
	ErrClientClosed  = errs.NewCodeError(errs.TransportError, "ClientClosed")
)

// Client is one WebSocket connection. Frames queued with Send are written by
// a single writer goroutine; the HTTP handler goroutine runs the read loop.
type Client struct {
	ConnID    string
	UserID    string // handshake identity, may be empty
	Remote    net.Addr
	CreatedAt time.Time

	ws   *websocket.Conn
	send chan []byte
	conf ClientConf
	log  *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(connID, userID string, ws *websocket.Conn, conf ClientConf, log *zap.Logger) *Client {
	conf.norm()
	return &Client{
		ConnID:    connID,
		UserID:    userID,
		Remote:    ws.RemoteAddr(),
		CreatedAt: time.Now(),
		ws:        ws,
		send:      make(chan []byte, conf.SendQueue),
		conf:      conf,
		log:       log.With(zap.String("connectionId", connID)),
		done:      make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.ConnID }

// Send never blocks. A full queue drops the frame and leaves the connection up.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed.Wrap()
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull.WrapMsg("", "queue", cap(c.send))
	}
}

// Close stops the writer, which closes the socket and so ends the read loop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Client) readPump(r Relay) {
	defer func() {
		r.Disconnect(c.ConnID)
		_ = c.Close()
	}()

	c.ws.SetReadLimit(c.conf.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				c.log.Debug("peer closed", zap.Error(err))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.log.Info("read timeout", zap.Error(err))
			} else {
				c.log.Debug("read ended", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		r.Receive(c.ConnID, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.conf.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.conf.WriteWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.conf.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.conf.WriteWait)); err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
