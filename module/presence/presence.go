package presence

import (
	"encoding/json"

	"PRelay/tools/errs"
)

// Viewer identifies the transport a presence snapshot is rendered for.
// UserID is empty while the connection is unregistered.
type Viewer struct {
	ConnectionID string
	UserID       string
}

// VisibilityPolicy picks the part of the registry a viewer may see. It must
// not modify snapshot.
type VisibilityPolicy func(snapshot []ConnectionEntry, viewer Viewer) []ConnectionEntry

// BroadcastAll shows every online user to everyone. Any connected client can
// read every other client's user and connection id.
func BroadcastAll(snapshot []ConnectionEntry, _ Viewer) []ConnectionEntry {
	return snapshot
}

// ExcludeSelf hides the viewer's own entry.
func ExcludeSelf(snapshot []ConnectionEntry, viewer Viewer) []ConnectionEntry {
	out := make([]ConnectionEntry, 0, len(snapshot))
	for _, e := range snapshot {
		if e.ConnectionID == viewer.ConnectionID {
			continue
		}
		out = append(out, e)
	}
	return out
}

func PolicyByName(name string) (VisibilityPolicy, error) {
	switch name {
	case "", "all":
		return BroadcastAll, nil
	case "exclude-self":
		return ExcludeSelf, nil
	}
	return nil, errs.ErrConfig.WrapMsg("unknown presence policy", "policy", name)
}

// Broadcaster pushes getUsers snapshots to connected transports.
type Broadcaster struct {
	policy VisibilityPolicy
}

func NewBroadcaster(policy VisibilityPolicy) *Broadcaster {
	if policy == nil {
		policy = BroadcastAll
	}
	return &Broadcaster{policy: policy}
}

// Broadcast renders snapshot for every viewer and hands the frames to out.
// It returns how many viewers accepted the frame.
func (b *Broadcaster) Broadcast(snapshot []ConnectionEntry, viewers []Viewer, out Deliverer) int {
	n := 0
	for _, v := range viewers {
		visible := b.policy(snapshot, v)
		if visible == nil {
			visible = []ConnectionEntry{}
		}
		data, err := json.Marshal(visible)
		if err != nil {
			continue
		}
		if out.Deliver(v.ConnectionID, EncodeFrame(EventGetUsers, data)) {
			n++
		}
	}
	return n
}
