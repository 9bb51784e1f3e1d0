package presence

import "time"

type State int

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Connection is one live transport session.
type Connection interface {
	ID() string
	// Send enqueues an encoded frame without blocking.
	Send(frame []byte) error
	Close() error
}

// Session tracks the lifecycle of one Connection inside the Hub.
// Connecting -> Open -> Closed; Closed is terminal.
type Session struct {
	conn     Connection
	userID   string // handshake identity, "" when absent
	state    State
	openedAt time.Time
}

func newSession(conn Connection, userID string) *Session {
	return &Session{conn: conn, userID: userID, state: Connecting}
}

func (s *Session) open(now time.Time) bool {
	if s.state != Connecting {
		return false
	}
	s.state = Open
	s.openedAt = now
	return true
}

// close moves to Closed. Only the first call reports true.
func (s *Session) close() bool {
	if s.state == Closed {
		return false
	}
	s.state = Closed
	return true
}

func (s *Session) State() State         { return s.state }
func (s *Session) UserID() string       { return s.userID }
func (s *Session) OpenedAt() time.Time  { return s.openedAt }
func (s *Session) ConnectionID() string { return s.conn.ID() }
