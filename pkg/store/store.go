// Package store owns the ordered message list of the open conversation.
// Every record arriving from an optimistic send, a history fetch or a push
// event funnels through Upsert, which is idempotent under arbitrary
// duplication and reordering. The permanent-id and temp-id indexes held
// here are the single source of truth for dedup; nothing outside this
// package mutates them.
package store

import (
	"sync"

	"talkie/pkg/models"
)

// Outcome describes what Upsert did with a record.
type Outcome int

const (
	// Appended: the record was new and added at the end.
	Appended Outcome = iota
	// Merged: fields were merged into an existing record with the same
	// permanent id.
	Merged
	// Reconciled: a pending optimistic record was assigned its permanent
	// identity by the server ack.
	Reconciled
	// Duplicate: a record with the same temp id already exists; no-op.
	Duplicate
	// Ignored: the record carried no identity or named another
	// conversation.
	Ignored
)

// Store is safe for concurrent use. The ingest worker and the outbound
// pipeline mutate it; the UI reads snapshots.
type Store struct {
	mu     sync.RWMutex
	conv   string
	recs   []*models.Message
	byID   map[string]*models.Message
	byTemp map[string]*models.Message
}

func New() *Store {
	s := &Store{}
	s.resetLocked("")
	return s
}

func (s *Store) resetLocked(conv string) {
	s.conv = conv
	s.recs = nil
	s.byID = make(map[string]*models.Message)
	s.byTemp = make(map[string]*models.Message)
}

// Reset clears all records and dedup bookkeeping and scopes the store to
// the given conversation. Used on conversation switch.
func (s *Store) Reset(conversationID string) {
	s.mu.Lock()
	s.resetLocked(conversationID)
	s.mu.Unlock()
}

// Clear drops all records but keeps the conversation scope. Used for the
// chat-cleared event.
func (s *Store) Clear() {
	s.mu.Lock()
	conv := s.conv
	s.resetLocked(conv)
	s.mu.Unlock()
}

// Conversation returns the id the store is currently scoped to.
func (s *Store) Conversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conv
}

// Upsert is the central merge operation. Resolution order:
//  1. permanent id matches an existing record: merge fields into it.
//  2. permanent id set and a pending record matches the carried temp id:
//     assign the permanent identity in place, keeping any receipt state
//     already recorded against the temp id.
//  3. temp id matches an existing record: duplicate, no-op.
//  4. otherwise append as a new record.
//
// Calling Upsert with the same logical message any number of times in any
// order yields the same final state.
func (s *Store) Upsert(in models.Message) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Conversation != "" && s.conv != "" && in.Conversation != s.conv {
		return Ignored
	}

	if in.ID != "" {
		if ex, ok := s.byID[in.ID]; ok {
			mergeInto(ex, &in)
			observe(Merged)
			return Merged
		}
		if in.TempID != "" {
			if ex, ok := s.byTemp[in.TempID]; ok {
				out := Merged
				if ex.Pending() {
					out = Reconciled
				}
				ex.ID = in.ID
				s.byID[in.ID] = ex
				mergeInto(ex, &in)
				// the ack terminates the upload window
				ex.Upload = nil
				observe(out)
				return out
			}
		}
		s.appendLocked(&in)
		observe(Appended)
		return Appended
	}

	if in.TempID != "" {
		if _, ok := s.byTemp[in.TempID]; ok {
			observe(Duplicate)
			return Duplicate
		}
		s.appendLocked(&in)
		observe(Appended)
		return Appended
	}

	return Ignored
}

func (s *Store) appendLocked(m *models.Message) {
	s.recs = append(s.recs, m)
	if m.ID != "" {
		s.byID[m.ID] = m
	}
	if m.TempID != "" {
		s.byTemp[m.TempID] = m
	}
}

// mergeInto merges in over ex. Fields present in the incoming record win
// (the server copy is authoritative once available); fields absent from it
// keep their existing values. Receipt sets are unioned. A tombstoned
// record never gets content back.
func mergeInto(ex, in *models.Message) {
	if in.TS != 0 {
		ex.TS = in.TS
	}
	if ex.Sender == "" {
		ex.Sender = in.Sender
	}
	if ex.Conversation == "" {
		ex.Conversation = in.Conversation
	}
	if ex.TempID == "" {
		ex.TempID = in.TempID
	}
	if in.Deleted {
		ex.Deleted = true
	}
	if ex.Deleted {
		ex.ClearContent()
	} else {
		if in.Text != "" {
			ex.Text = in.Text
		}
		if in.Media != nil {
			ex.Media = in.Media
		}
		if in.Voice != nil {
			ex.Voice = in.Voice
		}
	}
	if ex.ReplyTo == "" {
		ex.ReplyTo = in.ReplyTo
	}
	// provenance is immutable once set
	if ex.ForwardedFrom == nil {
		ex.ForwardedFrom = in.ForwardedFrom
	}
	for u := range in.DeliveredTo {
		if ex.DeliveredTo == nil {
			ex.DeliveredTo = make(map[string]bool)
		}
		ex.DeliveredTo[u] = true
	}
	for u := range in.ReadBy {
		if ex.ReadBy == nil {
			ex.ReadBy = make(map[string]bool)
		}
		ex.ReadBy[u] = true
		if ex.DeliveredTo == nil {
			ex.DeliveredTo = make(map[string]bool)
		}
		ex.DeliveredTo[u] = true
	}
	if in.Reactions != nil {
		ex.Reactions = append([]models.Reaction(nil), in.Reactions...)
	}
}

// Remove drops a record locally. Used for failed sends and delete-for-me;
// no network side effects. The id may be a permanent or a temp id.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.lookupLocked(id)
	if m == nil {
		return false
	}
	if m.ID != "" {
		delete(s.byID, m.ID)
	}
	if m.TempID != "" {
		delete(s.byTemp, m.TempID)
	}
	for i, r := range s.recs {
		if r == m {
			s.recs = append(s.recs[:i], s.recs[i+1:]...)
			break
		}
	}
	return true
}

// MarkDeletedForEveryone clears content fields and sets the tombstone
// flag. Irreversible: later upserts of stale copies cannot restore the
// content.
func (s *Store) MarkDeletedForEveryone(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.lookupLocked(id)
	if m == nil {
		return false
	}
	m.Deleted = true
	m.ClearContent()
	observeTombstone()
	return true
}

// SetUploadProgress updates the transient upload state of a pending send.
func (s *Store) SetUploadProgress(tempID string, frac float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byTemp[tempID]
	if !ok {
		return false
	}
	if m.Upload == nil {
		m.Upload = &models.UploadState{}
	}
	m.Upload.Fraction = frac
	if frac >= 1 {
		m.Upload = nil
	}
	return true
}

// AddDelivered records a delivery receipt. Returns false when the message
// is unknown.
func (s *Store) AddDelivered(id, user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.lookupLocked(id)
	if m == nil {
		return false
	}
	if m.DeliveredTo == nil {
		m.DeliveredTo = make(map[string]bool)
	}
	m.DeliveredTo[user] = true
	return true
}

// AddRead records a read receipt; read implies delivered.
func (s *Store) AddRead(id, user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.lookupLocked(id)
	if m == nil {
		return false
	}
	if m.ReadBy == nil {
		m.ReadBy = make(map[string]bool)
	}
	if m.DeliveredTo == nil {
		m.DeliveredTo = make(map[string]bool)
	}
	m.ReadBy[user] = true
	m.DeliveredTo[user] = true
	return true
}

// ToggleReaction adds the (user, emoji) pair, or removes it when already
// present. Returns false when the message is unknown.
func (s *Store) ToggleReaction(id, user, emoji string, ts int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.lookupLocked(id)
	if m == nil {
		return false
	}
	if i := m.FindReaction(user, emoji); i >= 0 {
		m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
	} else {
		m.Reactions = append(m.Reactions, models.Reaction{User: user, Emoji: emoji, TS: ts})
	}
	return true
}

// SetReactions replaces the reaction list with the authoritative one.
func (s *Store) SetReactions(id string, rs []models.Reaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.lookupLocked(id)
	if m == nil {
		return false
	}
	m.Reactions = append([]models.Reaction(nil), rs...)
	return true
}

// Get returns a copy of the record addressed by id (permanent or temp).
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.lookupLocked(id)
	if m == nil {
		return models.Message{}, false
	}
	return snapshot(m), true
}

// HasTemp reports whether a record with this temp id exists. Used for
// echo suppression checks before heavier work.
func (s *Store) HasTemp(tempID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byTemp[tempID]
	return ok
}

// Messages returns the live ordered sequence as snapshot copies; callers
// treat it as read-only. Order reflects append order and never changes on
// status updates.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.recs))
	for i, m := range s.recs {
		out[i] = snapshot(m)
	}
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}

func (s *Store) lookupLocked(id string) *models.Message {
	if m, ok := s.byID[id]; ok {
		return m
	}
	if m, ok := s.byTemp[id]; ok {
		return m
	}
	return nil
}

func snapshot(m *models.Message) models.Message {
	out := *m
	if m.DeliveredTo != nil {
		out.DeliveredTo = make(map[string]bool, len(m.DeliveredTo))
		for k, v := range m.DeliveredTo {
			out.DeliveredTo[k] = v
		}
	}
	if m.ReadBy != nil {
		out.ReadBy = make(map[string]bool, len(m.ReadBy))
		for k, v := range m.ReadBy {
			out.ReadBy[k] = v
		}
	}
	if m.Reactions != nil {
		out.Reactions = append([]models.Reaction(nil), m.Reactions...)
	}
	if m.Upload != nil {
		u := *m.Upload
		out.Upload = &u
	}
	return out
}
