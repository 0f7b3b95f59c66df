// Package validation rejects malformed records before they reach the
// store. Rules are configurable so deployments can tighten limits without
// code changes.
package validation

import (
	"fmt"
	"sync"

	"talkie/pkg/models"
)

// Rules bounds incoming records.
type Rules struct {
	// MaxTextLen caps the text body in bytes; 0 means unlimited.
	MaxTextLen int
	// RequireSender rejects records without a sender id.
	RequireSender bool
}

var (
	mu    sync.RWMutex
	rules Rules
)

// SetRules installs the active rule set.
func SetRules(r Rules) {
	mu.Lock()
	rules = r
	mu.Unlock()
}

// ValidateMessage checks a record arriving from the wire. A record must
// carry a conversation and at least one identity (permanent or temp id).
func ValidateMessage(m models.Message) error {
	mu.RLock()
	r := rules
	mu.RUnlock()

	if m.Conversation == "" {
		return fmt.Errorf("missing conversation")
	}
	if m.ID == "" && m.TempID == "" {
		return fmt.Errorf("missing message id")
	}
	if r.RequireSender && m.Sender == "" {
		return fmt.Errorf("missing sender")
	}
	if r.MaxTextLen > 0 && len(m.Text) > r.MaxTextLen {
		return fmt.Errorf("text exceeds %d bytes", r.MaxTextLen)
	}
	return nil
}
