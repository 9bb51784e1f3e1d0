package presence

// ConnectionEntry binds an application user to the transport connection that
// currently serves it. Entries are never updated, only added and removed.
type ConnectionEntry struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// Registry is the in-memory user -> connection table. It keeps registration
// order so presence snapshots are stable.
//
// Registry is not safe for concurrent use; the Hub goroutine owns it.
type Registry struct {
	entries []ConnectionEntry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends {userID, connectionID} unless userID is empty or already
// present. A rejected registration is silent: the first connection keeps the
// user even if it is stale. It reports whether an entry was added.
func (r *Registry) Register(userID, connectionID string) bool {
	if userID == "" {
		return false
	}
	if _, ok := r.LookupByUser(userID); ok {
		return false
	}
	r.entries = append(r.entries, ConnectionEntry{UserID: userID, ConnectionID: connectionID})
	return true
}

func (r *Registry) LookupBySocket(connectionID string) (ConnectionEntry, bool) {
	for _, e := range r.entries {
		if e.ConnectionID == connectionID {
			return e, true
		}
	}
	return ConnectionEntry{}, false
}

func (r *Registry) LookupByUser(userID string) (ConnectionEntry, bool) {
	for _, e := range r.entries {
		if e.UserID == userID {
			return e, true
		}
	}
	return ConnectionEntry{}, false
}

// Remove drops every entry served by connectionID and reports how many went.
func (r *Registry) Remove(connectionID string) int {
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.ConnectionID != connectionID {
			kept = append(kept, e)
		}
	}
	n := len(r.entries) - len(kept)
	// clear the tail so removed entries don't linger in the backing array
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = ConnectionEntry{}
	}
	r.entries = kept
	return n
}

// Snapshot returns a copy of the entries in registration order.
func (r *Registry) Snapshot() []ConnectionEntry {
	out := make([]ConnectionEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Registry) Len() int { return len(r.entries) }
