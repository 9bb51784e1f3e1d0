package natsx

import (
	"context"

	"PRelay/module/presence"
)

// Snapshotter is the read side of presence.Hub.
type Snapshotter interface {
	Snapshot() []presence.ConnectionEntry
}

// HubLocator answers lookups from this node's registry only. It is used when
// no Redis mirror is configured.
type HubLocator struct {
	Hub  Snapshotter
	Node string
}

func (l HubLocator) Lookup(_ context.Context, userID string) (string, bool, error) {
	for _, e := range l.Hub.Snapshot() {
		if e.UserID == userID {
			return l.Node, true, nil
		}
	}
	return "", false, nil
}
