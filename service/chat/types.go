package chat

import (
	"net/http"
	"strings"
	"time"

	"PRelay/module/presence"
)

// Relay is the part of presence.Hub the transport drives.
type Relay interface {
	Connect(conn presence.Connection, userID string) error
	Disconnect(connectionID string)
	Receive(connectionID string, raw []byte)
	Stats() presence.Stats
}

// Identifier resolves the user a handshake claims to be. An empty id with a
// nil error admits an anonymous connection that may addUser later.
type Identifier interface {
	Identify(r *http.Request) (string, error)
}

// QueryIdentifier trusts the handshake: ?userId=... or the X-User-Id header.
type QueryIdentifier struct {
	Param  string
	Header string
}

func (q QueryIdentifier) Identify(r *http.Request) (string, error) {
	param, header := q.Param, q.Header
	if param == "" {
		param = "userId"
	}
	if header == "" {
		header = "X-User-Id"
	}
	if v := strings.TrimSpace(r.URL.Query().Get(param)); v != "" {
		return v, nil
	}
	return strings.TrimSpace(r.Header.Get(header)), nil
}

type ClientConf struct {
	ReadLimit int64
	SendQueue int
	WriteWait time.Duration
	PongWait  time.Duration
}

func (c *ClientConf) norm() {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
}

func (c *ClientConf) pingPeriod() time.Duration { return c.PongWait * 9 / 10 }
