package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"PRelay/tools/errs"
)

var ErrHubStopped = errs.NewCodeError(errs.TransportError, "HubStopped")

type Options struct {
	NodeID      string
	Policy      VisibilityPolicy
	Metrics     *Metrics
	Sinks       []Sink
	SinkQueue   int
	EventQueue  int
	ResyncEvery time.Duration // periodic full snapshot to sinks, 0 disables
	// LockIdentity drops addUser naming anyone but the handshake user.
	LockIdentity bool
	Logger      *zap.Logger
	Clock       func() time.Time
}

type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evFrame
	evInject
	evQuery
)

type event struct {
	kind   eventKind
	conn   Connection
	connID string
	userID string
	raw    []byte
	fn     func()
	reply  chan struct{}
}

// Hub is the relay reactor. One goroutine (Run) owns the registry and the
// session table and handles connect, disconnect and frame events one at a
// time, so handlers never observe a half-applied change. Every exported
// method other than Run only enqueues an event and is safe to call from any
// goroutine.
type Hub struct {
	opts     Options
	reg      *Registry
	router   *Router
	presence *Broadcaster
	sessions map[string]*Session
	sinks    *sinkPump
	metrics  *Metrics
	log      *zap.Logger

	events   chan event
	gate     sync.RWMutex // submitters hold R while enqueueing
	stopping chan struct{}
	stopped  chan struct{}
	running  atomic.Bool

	connections atomic.Int64
	users       atomic.Int64
}

func NewHub(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.EventQueue <= 0 {
		opts.EventQueue = 1024
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	h := &Hub{
		opts:     opts,
		reg:      NewRegistry(),
		presence: NewBroadcaster(opts.Policy),
		sessions: make(map[string]*Session),
		metrics:  opts.Metrics,
		log:      opts.Logger,
		events:   make(chan event, opts.EventQueue),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	h.router = NewRouter(h.reg, DelivererFunc(h.deliver), h.log)
	h.sinks = newSinkPump(opts.Sinks, opts.SinkQueue, h.log)
	return h
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(connectionID string, frame []byte) bool

func (f DelivererFunc) Deliver(connectionID string, frame []byte) bool { return f(connectionID, frame) }

// Run processes events until ctx is cancelled, then closes every connection
// and flushes the sinks. It must be called exactly once.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errs.New("hub already running")
	}
	h.sinks.start()
	defer close(h.stopped)
	defer h.shutdown()

	var tick <-chan time.Time
	if h.opts.ResyncEvery > 0 {
		t := time.NewTicker(h.opts.ResyncEvery)
		defer t.Stop()
		tick = t.C
	}

	h.log.Info("hub started", zap.String("node", h.opts.NodeID))
	h.resync()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.events:
			h.handle(ev)
		case <-tick:
			h.resync()
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.stopped }

// Connect opens a session for conn and registers userID when it is set.
func (h *Hub) Connect(conn Connection, userID string) error {
	return h.submit(event{kind: evConnect, conn: conn, userID: userID})
}

// Disconnect closes the session; safe to call more than once.
func (h *Hub) Disconnect(connectionID string) {
	_ = h.submit(event{kind: evDisconnect, connID: connectionID})
}

// Receive hands an inbound frame from connectionID to the reactor.
func (h *Hub) Receive(connectionID string, raw []byte) {
	_ = h.submit(event{kind: evFrame, connID: connectionID, raw: raw})
}

// Inject routes a frame produced by another subsystem rather than a client.
// Only sendMessage and sendMessageToBoth are honoured.
func (h *Hub) Inject(raw []byte) error {
	return h.submit(event{kind: evInject, raw: raw})
}

// Snapshot returns the registry as seen by the reactor after every event
// submitted before the call. It returns nil once the hub has stopped.
func (h *Hub) Snapshot() []ConnectionEntry {
	var out []ConnectionEntry
	if !h.query(func() { out = h.reg.Snapshot() }) {
		return nil
	}
	return out
}

// Stats is lock-free and may lag the reactor by one event.
func (h *Hub) Stats() Stats {
	return Stats{
		Connections: int(h.connections.Load()),
		Users:       int(h.users.Load()),
	}
}

func (h *Hub) submit(ev event) error {
	h.gate.RLock()
	defer h.gate.RUnlock()
	select {
	case <-h.stopping:
		return ErrHubStopped.Wrap()
	default:
	}
	select {
	case h.events <- ev:
		return nil
	case <-h.stopping:
		return ErrHubStopped.Wrap()
	}
}

func (h *Hub) query(fn func()) bool {
	reply := make(chan struct{})
	if err := h.submit(event{kind: evQuery, fn: fn, reply: reply}); err != nil {
		return false
	}
	select {
	case <-reply:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case evConnect:
		h.onConnect(ev.conn, ev.userID)
	case evDisconnect:
		h.onDisconnect(ev.connID)
	case evFrame:
		h.onFrame(ev.connID, ev.raw)
	case evInject:
		h.onInject(ev.raw)
	case evQuery:
		ev.fn()
		close(ev.reply)
	}
}

func (h *Hub) onConnect(conn Connection, userID string) {
	id := conn.ID()
	if _, dup := h.sessions[id]; dup {
		h.log.Warn("duplicate connection id ignored", zap.String("connectionId", id))
		return
	}
	s := newSession(conn, userID)
	s.open(h.opts.Clock())
	h.sessions[id] = s
	h.gauges()
	h.log.Info("connection open", zap.String("connectionId", id), zap.String("userId", userID))

	if h.register(userID, id) {
		h.broadcast()
	}
}

func (h *Hub) onDisconnect(id string) {
	s, ok := h.sessions[id]
	if !ok {
		return
	}
	s.close()
	delete(h.sessions, id)

	e, registered := h.reg.LookupBySocket(id)
	h.reg.Remove(id)
	h.gauges()
	h.log.Info("connection closed", zap.String("connectionId", id), zap.String("userId", e.UserID),
		zap.Duration("open", h.opts.Clock().Sub(s.openedAt)))

	if registered {
		h.sinks.offer(h.change(KindOffline, e))
	}
	h.broadcast()
}

func (h *Hub) onFrame(id string, raw []byte) {
	s, ok := h.sessions[id]
	if !ok || s.state != Open {
		h.log.Debug("frame from unknown connection dropped", zap.String("connectionId", id))
		return
	}
	f, err := DecodeFrame(raw)
	if err != nil {
		h.log.Warn("malformed frame dropped", zap.String("connectionId", id), zap.Error(err))
		return
	}
	h.metrics.Frames.WithLabelValues(f.Event).Inc()

	switch f.Event {
	case EventAddUser:
		uid := userIDFromData(f)
		if h.opts.LockIdentity && s.userID != "" && uid != s.userID {
			h.log.Warn("addUser for another identity dropped",
				zap.String("connectionId", id), zap.String("userId", s.userID), zap.String("claimed", uid))
			return
		}
		h.register(uid, id)
		h.broadcast()
	case EventSendMessage, EventSendMessageToBoth:
		h.route(f)
	default:
		h.log.Debug("unknown event dropped", zap.String("connectionId", id), zap.String("event", f.Event))
	}
}

func (h *Hub) onInject(raw []byte) {
	f, err := DecodeFrame(raw)
	if err != nil {
		h.log.Warn("malformed injected frame dropped", zap.Error(err))
		return
	}
	switch f.Event {
	case EventSendMessage, EventSendMessageToBoth:
		h.metrics.Frames.WithLabelValues(f.Event).Inc()
		h.route(f)
	default:
		h.log.Warn("injected event not routable", zap.String("event", f.Event))
	}
}

// register applies the registry rules and reports whether a new entry exists.
func (h *Hub) register(userID, connID string) bool {
	if userID == "" {
		h.metrics.Registrations.WithLabelValues("rejected_empty").Inc()
		return false
	}
	if !h.reg.Register(userID, connID) {
		h.metrics.Registrations.WithLabelValues("rejected_duplicate").Inc()
		cur, _ := h.reg.LookupByUser(userID)
		h.log.Debug("registration rejected, user already bound",
			zap.String("userId", userID), zap.String("connectionId", connID),
			zap.String("boundTo", cur.ConnectionID))
		return false
	}
	h.metrics.Registrations.WithLabelValues("accepted").Inc()
	h.gauges()
	h.sinks.offer(h.change(KindOnline, ConnectionEntry{UserID: userID, ConnectionID: connID}))
	return true
}

func (h *Hub) route(f Frame) {
	if !routable(f) {
		h.log.Debug("non-object payload dropped", zap.String("event", f.Event))
		return
	}
	if f.Event == EventSendMessage {
		h.metrics.routed("one", h.router.RouteToOne(f.Data))
		return
	}
	h.metrics.routed("both", h.router.RouteToBoth(f.Data))
}

func (h *Hub) broadcast() {
	snapshot := h.reg.Snapshot()
	byConn := make(map[string]string, len(snapshot))
	for _, e := range snapshot {
		byConn[e.ConnectionID] = e.UserID
	}
	viewers := make([]Viewer, 0, len(h.sessions))
	for id, s := range h.sessions {
		if s.state == Open {
			viewers = append(viewers, Viewer{ConnectionID: id, UserID: byConn[id]})
		}
	}
	h.presence.Broadcast(snapshot, viewers, DelivererFunc(h.deliver))
	h.metrics.Broadcasts.Inc()
}

func (h *Hub) deliver(connID string, frame []byte) bool {
	s, ok := h.sessions[connID]
	if !ok || s.state != Open {
		return false
	}
	if err := s.conn.Send(frame); err != nil {
		h.log.Debug("send queue rejected frame", zap.String("connectionId", connID), zap.Error(err))
		return false
	}
	return true
}

func (h *Hub) resync() {
	h.sinks.offer(h.change(KindResync, ConnectionEntry{}))
}

func (h *Hub) change(kind ChangeKind, e ConnectionEntry) Change {
	return Change{
		Kind:     kind,
		Node:     h.opts.NodeID,
		Entry:    e,
		Snapshot: h.reg.Snapshot(),
		At:       h.opts.Clock(),
	}
}

// discardPending empties the event queue after stopping. Connections that
// never reached the reactor are closed so their pumps exit.
func (h *Hub) discardPending() {
	for {
		select {
		case ev := <-h.events:
			if ev.kind != evConnect {
				continue
			}
			if err := ev.conn.Close(); err != nil {
				h.log.Debug("close pending connection", zap.String("connectionId", ev.conn.ID()), zap.Error(err))
			}
		default:
			return
		}
	}
}

func (h *Hub) gauges() {
	h.connections.Store(int64(len(h.sessions)))
	h.users.Store(int64(h.reg.Len()))
	h.metrics.Connections.Set(float64(len(h.sessions)))
	h.metrics.Users.Set(float64(h.reg.Len()))
}

func (h *Hub) shutdown() {
	close(h.stopping)
	// wait out submitters that passed the stopping check, then drop what they queued
	h.gate.Lock()
	h.gate.Unlock()
	h.discardPending()

	for id, s := range h.sessions {
		s.close()
		if err := s.conn.Close(); err != nil {
			h.log.Debug("close on shutdown", zap.String("connectionId", id), zap.Error(err))
		}
		if e, ok := h.reg.LookupBySocket(id); ok {
			h.reg.Remove(id)
			h.sinks.offer(h.change(KindOffline, e))
		}
		delete(h.sessions, id)
	}
	h.gauges()
	h.sinks.stop()
	h.log.Info("hub stopped", zap.String("node", h.opts.NodeID))
}
