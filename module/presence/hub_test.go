package presence

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

type mockConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
	full   bool
}

func newMockConn(id string) *mockConn { return &mockConn{id: id} }

func (c *mockConn) ID() string { return c.id }

func (c *mockConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	if c.full {
		return errors.New("send queue full")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func (c *mockConn) byEvent(event string) [][]byte {
	var out [][]byte
	for _, f := range c.sent() {
		if fr, err := DecodeFrame(f); err == nil && fr.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (c *mockConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type memSink struct {
	mu      sync.Mutex
	changes []Change
	fail    bool
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Publish(_ context.Context, c Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *memSink) kinds() []ChangeKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChangeKind, 0, len(s.changes))
	for _, c := range s.changes {
		out = append(out, c.Kind)
	}
	return out
}

func startHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = fixedNow
	}
	h := NewHub(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

// settle waits until the hub has handled every event submitted so far.
func settle(h *Hub) { h.Snapshot() }

func TestHubConnectRegistersAndBroadcasts(t *testing.T) {
	h := startHub(t, Options{})
	a, b := newMockConn("c1"), newMockConn("c2")
	require.NoError(t, h.Connect(a, "alice"))
	require.NoError(t, h.Connect(b, "bob"))

	assert.Equal(t, []ConnectionEntry{
		{UserID: "alice", ConnectionID: "c1"},
		{UserID: "bob", ConnectionID: "c2"},
	}, h.Snapshot())
	assert.Equal(t, Stats{Connections: 2, Users: 2}, h.Stats())

	got := a.byEvent(EventGetUsers)
	require.Len(t, got, 2)
	assert.Len(t, decodeUsers(t, got[1]), 2)
	assert.Len(t, b.byEvent(EventGetUsers), 1)
}

func TestHubDuplicateUserKeepsFirstConnection(t *testing.T) {
	h := startHub(t, Options{})
	a, a2 := newMockConn("sock-1"), newMockConn("sock-2")
	require.NoError(t, h.Connect(a, "alice"))
	require.NoError(t, h.Connect(a2, "alice"))

	assert.Equal(t, []ConnectionEntry{{UserID: "alice", ConnectionID: "sock-1"}}, h.Snapshot())
	assert.Equal(t, Stats{Connections: 2, Users: 1}, h.Stats())
	// rejected registration does not broadcast
	assert.Empty(t, a2.byEvent(EventGetUsers))
}

func TestHubAnonymousConnectThenAddUser(t *testing.T) {
	h := startHub(t, Options{})
	c := newMockConn("c1")
	require.NoError(t, h.Connect(c, ""))
	settle(h)
	assert.Empty(t, c.sent())
	assert.Empty(t, h.Snapshot())

	h.Receive("c1", []byte(`{"event":"addUser","data":"alice"}`))
	assert.Equal(t, []ConnectionEntry{{UserID: "alice", ConnectionID: "c1"}}, h.Snapshot())
	require.Len(t, c.byEvent(EventGetUsers), 1)

	// a rejected addUser still answers with the current list
	h.Receive("c1", []byte(`{"event":"addUser","data":"alice"}`))
	settle(h)
	assert.Len(t, c.byEvent(EventGetUsers), 2)
}

func TestHubRoutesMessages(t *testing.T) {
	h := startHub(t, Options{})
	a, b := newMockConn("sock-1"), newMockConn("sock-2")
	require.NoError(t, h.Connect(a, "alice"))
	require.NoError(t, h.Connect(b, "bob"))
	settle(h)
	a.reset()
	b.reset()

	h.Receive("sock-1", []byte(`{"event":"sendMessage","data":{"receiverId":"bob","text":"hi"}}`))
	settle(h)

	assert.Equal(t, [][]byte{[]byte(`{"event":"getMessage","data":{"receiverId":"bob","text":"hi"}}`)}, b.sent())
	assert.Empty(t, a.sent())

	h.Receive("sock-1", []byte(`{"event":"sendMessageToBoth","data":{"senderId":"alice","receiverIds":[{"userId":"bob"}]}}`))
	settle(h)
	assert.Len(t, a.byEvent(EventGetMessage), 1)
	assert.Len(t, b.byEvent(EventGetMessage), 2)
}

func TestHubMessageToClosedConnection(t *testing.T) {
	h := startHub(t, Options{})
	a, b := newMockConn("sock-1"), newMockConn("sock-2")
	require.NoError(t, h.Connect(a, "alice"))
	require.NoError(t, h.Connect(b, "bob"))

	h.Disconnect("sock-1")
	h.Disconnect("sock-1")
	h.Receive("sock-2", []byte(`{"event":"sendMessage","data":{"receiverId":"alice","text":"hi"}}`))
	settle(h)

	assert.Empty(t, a.byEvent(EventGetMessage))
	assert.Equal(t, []ConnectionEntry{{UserID: "bob", ConnectionID: "sock-2"}}, h.Snapshot())

	// bob saw the departure
	last := b.byEvent(EventGetUsers)
	require.NotEmpty(t, last)
	assert.Equal(t, []ConnectionEntry{{UserID: "bob", ConnectionID: "sock-2"}}, decodeUsers(t, last[len(last)-1]))
}

func TestHubIgnoresFramesFromUnknownConnection(t *testing.T) {
	h := startHub(t, Options{})
	b := newMockConn("sock-2")
	require.NoError(t, h.Connect(b, "bob"))
	settle(h)
	b.reset()

	h.Receive("ghost", []byte(`{"event":"sendMessage","data":{"receiverId":"bob"}}`))
	h.Receive("sock-2", []byte(`garbage`))
	h.Receive("sock-2", []byte(`{"event":"sendMessage","data":"bob"}`))
	h.Receive("sock-2", []byte(`{"event":"dance","data":{}}`))
	settle(h)
	assert.Empty(t, b.sent())
}

func TestHubFullSendQueueDoesNotDisconnect(t *testing.T) {
	h := startHub(t, Options{})
	a, b := newMockConn("c1"), newMockConn("c2")
	require.NoError(t, h.Connect(a, "alice"))
	require.NoError(t, h.Connect(b, "bob"))
	settle(h)
	b.mu.Lock()
	b.full = true
	b.mu.Unlock()

	h.Receive("c1", []byte(`{"event":"sendMessage","data":{"receiverId":"bob"}}`))
	assert.Len(t, h.Snapshot(), 2)
	assert.False(t, b.isClosed())
}

func TestHubInject(t *testing.T) {
	h := startHub(t, Options{})
	b := newMockConn("c2")
	require.NoError(t, h.Connect(b, "bob"))
	settle(h)
	b.reset()

	require.NoError(t, h.Inject([]byte(`{"event":"sendMessage","data":{"receiverId":"bob","from":"system"}}`)))
	require.NoError(t, h.Inject([]byte(`{"event":"addUser","data":"mallory"}`)))
	settle(h)

	assert.Len(t, b.byEvent(EventGetMessage), 1)
	assert.Len(t, h.Snapshot(), 1)
}

func TestHubExcludeSelfPolicy(t *testing.T) {
	h := startHub(t, Options{Policy: ExcludeSelf})
	a := newMockConn("c1")
	require.NoError(t, h.Connect(a, "alice"))
	settle(h)

	got := a.byEvent(EventGetUsers)
	require.Len(t, got, 1)
	assert.Empty(t, decodeUsers(t, got[0]))
}

func TestHubSinksAndShutdown(t *testing.T) {
	sink := &memSink{fail: true}
	h := NewHub(Options{NodeID: "n1", Sinks: []Sink{sink}, Clock: fixedNow})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	a := newMockConn("c1")
	require.NoError(t, h.Connect(a, "alice"))
	h.Disconnect("c1")
	b := newMockConn("c2")
	require.NoError(t, h.Connect(b, "bob"))
	settle(h)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, b.isClosed())

	assert.Equal(t, []ChangeKind{KindResync, KindOnline, KindOffline, KindOnline, KindOffline}, sink.kinds())
	sink.mu.Lock()
	online := sink.changes[1]
	sink.mu.Unlock()
	assert.Equal(t, "n1", online.Node)
	assert.Equal(t, ConnectionEntry{UserID: "alice", ConnectionID: "c1"}, online.Entry)
	assert.Equal(t, fixedNow(), online.At)

	raw, err := json.Marshal(online)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"online","node":"n1","entry":{"userId":"alice","connectionId":"c1"},
		"users":[{"userId":"alice","connectionId":"c1"}],"at":"2024-05-01T12:00:00Z"}`, string(raw))

	assert.True(t, ErrHubStopped.Is(h.Connect(newMockConn("late"), "x")))
	assert.Nil(t, h.Snapshot())
}

type slowSink struct{ release chan struct{} }

func (s *slowSink) Name() string { return "slow" }

func (s *slowSink) Publish(context.Context, Change) error {
	<-s.release
	return nil
}

func TestHubRejectsConnectWhileShuttingDown(t *testing.T) {
	sink := &slowSink{release: make(chan struct{})}
	h := NewHub(Options{NodeID: "n1", Sinks: []Sink{sink}, Clock: fixedNow})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()

	first := newMockConn("c1")
	require.NoError(t, h.Connect(first, "alice"))
	settle(h)
	cancel()

	// the sink still holds shutdown open; new work must be refused now
	var accepted []*mockConn
	n := 0
	require.Eventually(t, func() bool {
		n++
		c := newMockConn("late-" + strconv.Itoa(n))
		if err := h.Connect(c, ""); err != nil {
			return ErrHubStopped.Is(err)
		}
		accepted = append(accepted, c)
		return false
	}, time.Second, time.Millisecond)

	select {
	case <-h.Done():
		t.Fatal("hub finished before the sink drained")
	default:
	}
	close(sink.release)
	<-h.Done()

	assert.True(t, first.isClosed())
	for _, c := range accepted {
		assert.True(t, c.isClosed(), c.ID())
	}
}

func TestHubRunTwice(t *testing.T) {
	h := startHub(t, Options{})
	settle(h)
	assert.Error(t, h.Run(context.Background()))
}

func TestHubMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := startHub(t, Options{Metrics: m})
	require.NoError(t, h.Connect(newMockConn("c1"), "alice"))
	require.NoError(t, h.Connect(newMockConn("c2"), "alice"))
	h.Receive("c1", []byte(`{"event":"sendMessage","data":{"receiverId":"ghost"}}`))
	settle(h)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Connections))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Users))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Registrations.WithLabelValues("accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Registrations.WithLabelValues("rejected_duplicate")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Routed.WithLabelValues("one", "dropped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Frames.WithLabelValues(EventSendMessage)))
}

func TestHubLockIdentity(t *testing.T) {
	h := startHub(t, Options{LockIdentity: true})
	c := newMockConn("c1")
	require.NoError(t, h.Connect(c, "alice"))
	settle(h)
	c.reset()

	h.Receive("c1", []byte(`{"event":"addUser","data":"mallory"}`))
	assert.Equal(t, []ConnectionEntry{{UserID: "alice", ConnectionID: "c1"}}, h.Snapshot())
	assert.Empty(t, c.sent())

	h.Receive("c1", []byte(`{"event":"addUser","data":"alice"}`))
	settle(h)
	assert.Len(t, c.byEvent(EventGetUsers), 1)
}
