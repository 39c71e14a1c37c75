package client

import (
	"sort"
	"sync"
	"time"

	"classchat-service/internal/models"
)

type dedupeKey struct {
	senderID string
	serverTS int64
	groupID  string
}

// Entry is a timeline message plus a local receive stamp. ReceivedAt is a
// display aid only; ordering always follows ServerTimestamp.
type Entry struct {
	models.Message
	ReceivedAt time.Time
}

// Timeline merges a point-in-time history with live events into one ordered,
// de-duplicated message list for a single group.
type Timeline struct {
	mu      sync.Mutex
	groupID string
	entries []Entry
	seen    map[dedupeKey]struct{}
}

// NewTimeline creates an empty timeline for a group.
func NewTimeline(groupID string) *Timeline {
	return &Timeline{
		groupID: groupID,
		seen:    make(map[dedupeKey]struct{}),
	}
}

func keyOf(m models.Message) dedupeKey {
	return dedupeKey{senderID: m.SenderID, serverTS: m.ServerTimestamp.UnixNano(), groupID: m.GroupID}
}

// Seed replaces the timeline with a freshly queried history. The query
// result is authoritative; the live stream is incremental from this point.
func (t *Timeline) Seed(history []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.entries = t.entries[:0]
	t.seen = make(map[dedupeKey]struct{}, len(history))
	for _, m := range history {
		if m.GroupID != t.groupID {
			continue
		}
		k := keyOf(m)
		if _, dup := t.seen[k]; dup {
			continue
		}
		t.seen[k] = struct{}{}
		t.entries = append(t.entries, Entry{Message: m, ReceivedAt: now})
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].ServerTimestamp.Before(t.entries[j].ServerTimestamp)
	})
}

// Apply merges one live event. Events for other groups and duplicates of an
// already-known (sender, serverTimestamp, group) key are ignored. The entry
// is inserted in server timestamp order regardless of arrival order.
func (t *Timeline) Apply(m models.Message) bool {
	if m.GroupID != t.groupID {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := keyOf(m)
	if _, dup := t.seen[k]; dup {
		return false
	}
	t.seen[k] = struct{}{}

	entry := Entry{Message: m, ReceivedAt: time.Now()}
	// Insert after any existing entry with an equal or earlier stamp, so
	// equal stamps keep arrival order.
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].ServerTimestamp.After(m.ServerTimestamp)
	})
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry
	return true
}

// Messages returns the reconciled list in server timestamp order.
func (t *Timeline) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.Message, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Message
	}
	return out
}

// Len reports the number of reconciled messages.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
