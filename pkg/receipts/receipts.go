// Package receipts applies delivery/read events to message records and
// derives the display status. Events naming unknown message ids are
// dropped silently: the message may have been deleted locally or simply
// not be loaded yet, and the router's deferral plus the periodic resync
// cover the gap.
package receipts

import (
	"talkie/pkg/logger"
	"talkie/pkg/models"
	"talkie/pkg/store"
)

// Status is the three-state display status of an outbound message.
type Status int

const (
	StatusSent Status = iota
	StatusDelivered
	StatusSeen
)

func (s Status) String() string {
	switch s {
	case StatusSeen:
		return "seen"
	case StatusDelivered:
		return "delivered"
	default:
		return "sent"
	}
}

// Tracker applies receipt events against a store.
type Tracker struct {
	store *store.Store
}

func NewTracker(s *store.Store) *Tracker {
	return &Tracker{store: s}
}

// ApplyDelivered records a delivery receipt for one message. Returns
// false when the message is unknown (dropped, not an error).
func (t *Tracker) ApplyDelivered(msgID, user string) bool {
	if !t.store.AddDelivered(msgID, user) {
		logger.Debug("receipt_unknown_message", "kind", "delivered", "msg", msgID, "user", user)
		return false
	}
	return true
}

// ApplySeen records read receipts for a batch of message ids. Read
// implies delivered. Returns the ids that were actually applied.
func (t *Tracker) ApplySeen(msgIDs []string, user string) []string {
	applied := msgIDs[:0:0]
	for _, id := range msgIDs {
		if t.store.AddRead(id, user) {
			applied = append(applied, id)
		} else {
			logger.Debug("receipt_unknown_message", "kind", "seen", "msg", id, "user", user)
		}
	}
	return applied
}

// StatusFor derives the status of a message within a conversation. The
// membership count comes from the conversation descriptor: a message is
// delivered once every other participant appears in DeliveredTo, and seen
// once every other participant appears in ReadBy. A 1-1 chat is the n=2
// case of the same rule. Status only moves forward as the sets grow.
func StatusFor(m *models.Message, conv *models.Conversation, self string) Status {
	others := conv.Others(self)
	if len(others) == 0 {
		return StatusSent
	}
	seen := 0
	delivered := 0
	for _, p := range others {
		if m.ReadBy[p] {
			seen++
		}
		if m.DeliveredTo[p] || m.ReadBy[p] {
			delivered++
		}
	}
	switch {
	case seen == len(others):
		return StatusSeen
	case delivered == len(others):
		return StatusDelivered
	default:
		return StatusSent
	}
}
