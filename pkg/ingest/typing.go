package ingest

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingQuiet expires a typing indicator when no stop event
// arrives within the window, tolerating a dropped stop signal.
const DefaultTypingQuiet = 3 * time.Second

// TypingTracker holds transient typing state per conversation. It is
// UI-only state and never touches the message store.
type TypingTracker struct {
	mu       sync.Mutex
	quiet    time.Duration
	active   map[string]map[string]bool
	timers   map[string]*time.Timer
	onChange func(conversation string, users []string)
}

// NewTypingTracker builds a tracker; onChange may be nil.
func NewTypingTracker(quiet time.Duration, onChange func(conversation string, users []string)) *TypingTracker {
	if quiet <= 0 {
		quiet = DefaultTypingQuiet
	}
	return &TypingTracker{
		quiet:    quiet,
		active:   make(map[string]map[string]bool),
		timers:   make(map[string]*time.Timer),
		onChange: onChange,
	}
}

// Start marks user as typing in conversation and (re)arms the quiet timer.
func (t *TypingTracker) Start(conversation, user string) {
	t.mu.Lock()
	if t.active[conversation] == nil {
		t.active[conversation] = make(map[string]bool)
	}
	t.active[conversation][user] = true
	key := conversation + "\x00" + user
	if tm, ok := t.timers[key]; ok {
		tm.Reset(t.quiet)
	} else {
		t.timers[key] = time.AfterFunc(t.quiet, func() { t.Stop(conversation, user) })
	}
	t.mu.Unlock()
	t.notify(conversation)
}

// Stop clears user's typing state in conversation.
func (t *TypingTracker) Stop(conversation, user string) {
	t.mu.Lock()
	changed := false
	if users, ok := t.active[conversation]; ok && users[user] {
		delete(users, user)
		changed = true
		if len(users) == 0 {
			delete(t.active, conversation)
		}
	}
	key := conversation + "\x00" + user
	if tm, ok := t.timers[key]; ok {
		tm.Stop()
		delete(t.timers, key)
	}
	t.mu.Unlock()
	if changed {
		t.notify(conversation)
	}
}

// Active returns the users currently typing in conversation, sorted.
func (t *TypingTracker) Active(conversation string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.active[conversation]
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Reset drops all typing state; used on conversation switch.
func (t *TypingTracker) Reset() {
	t.mu.Lock()
	for _, tm := range t.timers {
		tm.Stop()
	}
	t.active = make(map[string]map[string]bool)
	t.timers = make(map[string]*time.Timer)
	t.mu.Unlock()
}

func (t *TypingTracker) notify(conversation string) {
	if t.onChange != nil {
		t.onChange(conversation, t.Active(conversation))
	}
}
