package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// outbox records delivered frames per connection. Connections listed in
// refuse behave as if their send queue were full.
type outbox struct {
	got    map[string][][]byte
	refuse map[string]bool
}

func newOutbox() *outbox {
	return &outbox{got: map[string][][]byte{}, refuse: map[string]bool{}}
}

func (o *outbox) Deliver(connectionID string, frame []byte) bool {
	if o.refuse[connectionID] {
		return false
	}
	o.got[connectionID] = append(o.got[connectionID], frame)
	return true
}

func (o *outbox) total() int {
	n := 0
	for _, f := range o.got {
		n += len(f)
	}
	return n
}

func getMessage(payload string) string {
	return `{"event":"getMessage","data":` + payload + `}`
}

func TestRouteToOneOfflineRecipient(t *testing.T) {
	out := newOutbox()
	r := NewRouter(NewRegistry(), out, nil)

	d := r.RouteToOne([]byte(`{"receiverId":"ghost","text":"hi"}`))
	assert.Equal(t, Delivery{Targets: 1, Dropped: 1}, d)
	assert.Zero(t, out.total())
}

func TestRouteToOneDeliversVerbatim(t *testing.T) {
	reg := NewRegistry()
	reg.Register("alice", "sock-1")
	reg.Register("bob", "sock-2")
	out := newOutbox()
	r := NewRouter(reg, out, nil)

	payload := `{"receiverId":"bob", "text":"hi", "meta":{"b":2,"a":1}}`
	d := r.RouteToOne([]byte(payload))

	assert.Equal(t, Delivery{Targets: 1, Delivered: 1}, d)
	if assert.Len(t, out.got["sock-2"], 1) {
		assert.Equal(t, getMessage(payload), string(out.got["sock-2"][0]))
	}
	assert.Empty(t, out.got["sock-1"])
}

func TestRouteToOneWithoutReceiver(t *testing.T) {
	reg := NewRegistry()
	reg.Register("alice", "sock-1")
	out := newOutbox()

	d := NewRouter(reg, out, nil).RouteToOne([]byte(`{"text":"hi"}`))
	assert.Equal(t, Delivery{}, d)
	assert.Zero(t, out.total())
}

func TestRouteToOneFullQueueCountsAsDrop(t *testing.T) {
	reg := NewRegistry()
	reg.Register("bob", "sock-2")
	out := newOutbox()
	out.refuse["sock-2"] = true

	d := NewRouter(reg, out, nil).RouteToOne([]byte(`{"receiverId":"bob"}`))
	assert.Equal(t, Delivery{Targets: 1, Dropped: 1}, d)
}

func TestRouteToBoth(t *testing.T) {
	payload := `{"senderId":"alice","receiverIds":[{"userId":"bob"}],"text":"yo"}`

	t.Run("both online", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("alice", "cs")
		reg.Register("bob", "cr")
		out := newOutbox()

		d := NewRouter(reg, out, nil).RouteToBoth([]byte(payload))
		assert.Equal(t, Delivery{Targets: 2, Delivered: 2}, d)
		assert.Equal(t, [][]byte{[]byte(getMessage(payload))}, out.got["cs"])
		assert.Equal(t, [][]byte{[]byte(getMessage(payload))}, out.got["cr"])
	})

	t.Run("recipient offline", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("alice", "cs")
		out := newOutbox()

		d := NewRouter(reg, out, nil).RouteToBoth([]byte(payload))
		assert.Equal(t, Delivery{Targets: 2, Delivered: 1, Dropped: 1}, d)
		assert.Len(t, out.got["cs"], 1)
		assert.Equal(t, 1, out.total())
	})

	t.Run("sender offline", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("bob", "cr")
		out := newOutbox()

		d := NewRouter(reg, out, nil).RouteToBoth([]byte(payload))
		assert.Equal(t, Delivery{Targets: 2, Delivered: 1, Dropped: 1}, d)
		assert.Len(t, out.got["cr"], 1)
	})
}

func TestRouteToBothOnlyFirstRecipient(t *testing.T) {
	reg := NewRegistry()
	reg.Register("alice", "cs")
	reg.Register("bob", "c1")
	reg.Register("carol", "c2")
	out := newOutbox()

	payload := `{"senderId":"alice","receiverIds":[{"userId":"bob"},{"userId":"carol"}]}`
	d := NewRouter(reg, out, nil).RouteToBoth([]byte(payload))

	assert.Equal(t, 2, d.Delivered)
	assert.Len(t, out.got["c1"], 1)
	assert.Empty(t, out.got["c2"])
}

func TestRouteToBothSelfSendDeliversTwice(t *testing.T) {
	reg := NewRegistry()
	reg.Register("alice", "cs")
	out := newOutbox()

	d := NewRouter(reg, out, nil).RouteToBoth([]byte(`{"senderId":"alice","receiverIds":[{"userId":"alice"}]}`))
	assert.Equal(t, 2, d.Delivered)
	assert.Len(t, out.got["cs"], 2)
}

func TestRouteToBothMissingFields(t *testing.T) {
	reg := NewRegistry()
	reg.Register("alice", "cs")
	out := newOutbox()
	r := NewRouter(reg, out, nil)

	assert.Equal(t, Delivery{Targets: 1, Delivered: 1}, r.RouteToBoth([]byte(`{"senderId":"alice"}`)))
	assert.Equal(t, Delivery{}, r.RouteToBoth([]byte(`{"receiverIds":"bob"}`)))
}
