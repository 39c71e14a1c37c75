package presence

import (
	"sort"
	"sync"
	"time"

	"classchat-service/internal/models"
)

type key struct {
	groupID string
	userID  string
}

// Tracker keeps the per-group set of users currently typing. Entries expire
// on their own after the configured window unless refreshed; a new signal
// for the same (group, user) pair replaces the pending expiry rather than
// stacking a second one. Nothing here survives a restart.
type Tracker struct {
	mu       sync.Mutex
	window   time.Duration
	typing   map[key]models.TypingSignal
	timers   map[key]*time.Timer
	onExpire func(models.TypingSignal)
}

// NewTracker builds a Tracker with the given quiescence window.
func NewTracker(window time.Duration) *Tracker {
	return &Tracker{
		window: window,
		typing: make(map[key]models.TypingSignal),
		timers: make(map[key]*time.Timer),
	}
}

// OnExpire registers a callback invoked after a signal ages out. Must be set
// before the first Signal.
func (t *Tracker) OnExpire(fn func(models.TypingSignal)) {
	t.mu.Lock()
	t.onExpire = fn
	t.mu.Unlock()
}

// Signal records that the user is composing in the group, restarting the
// expiry window. A second signal for the same pair supersedes the first.
func (t *Tracker) Signal(sig models.TypingSignal) {
	k := key{groupID: sig.GroupID, userID: sig.UserID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[k]; ok {
		timer.Stop()
	}
	t.typing[k] = sig

	var timer *time.Timer
	timer = time.AfterFunc(t.window, func() {
		t.expire(k, timer)
	})
	t.timers[k] = timer
}

// Active returns the users currently typing in the group, sorted by name.
func (t *Tracker) Active(groupID string) []models.TypingSignal {
	t.mu.Lock()
	defer t.mu.Unlock()

	var active []models.TypingSignal
	for k, sig := range t.typing {
		if k.groupID == groupID {
			active = append(active, sig)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].DisplayName == active[j].DisplayName {
			return active[i].UserID < active[j].UserID
		}
		return active[i].DisplayName < active[j].DisplayName
	})
	return active
}

// Clear drops all presence state.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, timer := range t.timers {
		timer.Stop()
		delete(t.timers, k)
	}
	t.typing = make(map[key]models.TypingSignal)
}

func (t *Tracker) expire(k key, timer *time.Timer) {
	t.mu.Lock()
	current, ok := t.timers[k]
	if !ok || current != timer {
		// A newer signal replaced this timer between fire and lock.
		t.mu.Unlock()
		return
	}
	sig := t.typing[k]
	delete(t.timers, k)
	delete(t.typing, k)
	fn := t.onExpire
	t.mu.Unlock()

	if fn != nil {
		fn(sig)
	}
}
