package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkie/pkg/models"
)

func TestUpsertAppendsPendingRecord(t *testing.T) {
	s := New()
	s.Reset("c1")

	out := s.Upsert(models.Message{TempID: "t1", Conversation: "c1", Sender: "me", Text: "hi"})
	require.Equal(t, Appended, out)
	require.Equal(t, 1, s.Len())

	m, ok := s.Get("t1")
	require.True(t, ok)
	assert.True(t, m.Pending())
	assert.Equal(t, "hi", m.Text)
}

func TestUpsertDuplicateTempIDIsNoop(t *testing.T) {
	s := New()
	s.Reset("c1")

	s.Upsert(models.Message{TempID: "t1", Conversation: "c1", Text: "hi"})
	out := s.Upsert(models.Message{TempID: "t1", Conversation: "c1", Text: "changed"})
	require.Equal(t, Duplicate, out)
	require.Equal(t, 1, s.Len())

	m, _ := s.Get("t1")
	assert.Equal(t, "hi", m.Text, "duplicate must not overwrite the original")
}

func TestUpsertReconcilesPendingByTempID(t *testing.T) {
	s := New()
	s.Reset("c1")

	s.Upsert(models.Message{TempID: "t1", Conversation: "c1", Sender: "me", Text: "hi", TS: 5})

	// receipt applied against the temp id before the ack arrives
	require.True(t, s.AddDelivered("t1", "bob"))

	out := s.Upsert(models.Message{ID: "m1", TempID: "t1", Conversation: "c1", Sender: "me", Text: "hi", TS: 100})
	require.Equal(t, Reconciled, out)
	require.Equal(t, 1, s.Len(), "reconciliation must not duplicate the record")

	m, ok := s.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "t1", m.TempID)
	assert.Equal(t, int64(100), m.TS, "server timestamp wins")
	assert.True(t, m.DeliveredTo["bob"], "receipt state recorded against the temp id survives")

	byTemp, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "m1", byTemp.ID, "record stays addressable by temp id")
}

func TestUpsertMergesByPermanentID(t *testing.T) {
	s := New()
	s.Reset("c1")

	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Sender: "alice", Text: "hello", TS: 10})
	out := s.Upsert(models.Message{
		ID: "m1", Conversation: "c1", TS: 20,
		ReadBy: map[string]bool{"bob": true},
	})
	require.Equal(t, Merged, out)
	require.Equal(t, 1, s.Len())

	m, _ := s.Get("m1")
	assert.Equal(t, "hello", m.Text, "absent fields keep existing values")
	assert.Equal(t, "alice", m.Sender)
	assert.Equal(t, int64(20), m.TS)
	assert.True(t, m.ReadBy["bob"])
	assert.True(t, m.DeliveredTo["bob"], "read implies delivered")
}

func TestUpsertIdempotentUnderReplay(t *testing.T) {
	s := New()
	s.Reset("c1")

	msg := models.Message{ID: "m1", TempID: "t1", Conversation: "c1", Sender: "me", Text: "hi", TS: 7}
	s.Upsert(models.Message{TempID: "t1", Conversation: "c1", Sender: "me", Text: "hi"})
	s.Upsert(msg)
	s.Upsert(msg)
	s.Upsert(msg)

	require.Equal(t, 1, s.Len())
	m, _ := s.Get("m1")
	assert.Equal(t, "hi", m.Text)
	assert.Equal(t, int64(7), m.TS)
}

func TestUpsertIgnoresOtherConversations(t *testing.T) {
	s := New()
	s.Reset("c1")

	out := s.Upsert(models.Message{ID: "m9", Conversation: "c2", Text: "stray"})
	assert.Equal(t, Ignored, out)
	assert.Equal(t, 0, s.Len())
}

func TestUpsertIgnoresIdentityless(t *testing.T) {
	s := New()
	s.Reset("c1")
	assert.Equal(t, Ignored, s.Upsert(models.Message{Conversation: "c1", Text: "no id"}))
}

func TestOrderIsAppendOrder(t *testing.T) {
	s := New()
	s.Reset("c1")

	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Text: "a"})
	s.Upsert(models.Message{ID: "m2", Conversation: "c1", Text: "b"})
	s.Upsert(models.Message{ID: "m3", Conversation: "c1", Text: "c"})

	// a late merge on the first record must not reorder anything
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", ReadBy: map[string]bool{"bob": true}})

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "m3", msgs[2].ID)
}

func TestTombstoneIsIrreversible(t *testing.T) {
	s := New()
	s.Reset("c1")

	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Text: "secret", Media: &models.MediaRef{URL: "u"}})
	require.True(t, s.MarkDeletedForEveryone("m1"))

	m, _ := s.Get("m1")
	assert.True(t, m.Deleted)
	assert.False(t, m.HasContent())

	// a stale copy replayed by resync cannot restore the content
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Text: "secret", Media: &models.MediaRef{URL: "u"}})
	m, _ = s.Get("m1")
	assert.True(t, m.Deleted)
	assert.Empty(t, m.Text)
	assert.Nil(t, m.Media)
}

func TestTombstonePropagatesFromIncoming(t *testing.T) {
	s := New()
	s.Reset("c1")

	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Text: "body"})
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Deleted: true})

	m, _ := s.Get("m1")
	assert.True(t, m.Deleted)
	assert.Empty(t, m.Text)
}

func TestForwardedFromImmutable(t *testing.T) {
	s := New()
	s.Reset("c1")

	orig := &models.Provenance{SenderID: "alice"}
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Text: "fwd", ForwardedFrom: orig})
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", ForwardedFrom: &models.Provenance{SenderID: "mallory"}})

	m, _ := s.Get("m1")
	require.NotNil(t, m.ForwardedFrom)
	assert.Equal(t, "alice", m.ForwardedFrom.SenderID)
}

func TestRemoveByEitherID(t *testing.T) {
	s := New()
	s.Reset("c1")

	s.Upsert(models.Message{ID: "m1", TempID: "t1", Conversation: "c1", Text: "x"})
	require.True(t, s.Remove("t1"))
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.HasTemp("t1"))
	_, ok := s.Get("m1")
	assert.False(t, ok)

	assert.False(t, s.Remove("m1"), "second remove is a no-op")
}

func TestUploadProgressLifecycle(t *testing.T) {
	s := New()
	s.Reset("c1")

	s.Upsert(models.Message{TempID: "t1", Conversation: "c1", Media: &models.MediaRef{URL: "local"}, Upload: &models.UploadState{}})

	require.True(t, s.SetUploadProgress("t1", 0.5))
	m, _ := s.Get("t1")
	require.NotNil(t, m.Upload)
	assert.InDelta(t, 0.5, m.Upload.Fraction, 1e-9)

	s.SetUploadProgress("t1", 1)
	m, _ = s.Get("t1")
	assert.Nil(t, m.Upload, "completed upload clears transient state")

	// the ack clears it too, even if no final progress callback fired
	s.SetUploadProgress("t1", 0.9)
	s.Upsert(models.Message{ID: "m1", TempID: "t1", Conversation: "c1"})
	m, _ = s.Get("m1")
	assert.Nil(t, m.Upload)
}

func TestToggleReaction(t *testing.T) {
	s := New()
	s.Reset("c1")
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Text: "x"})

	require.True(t, s.ToggleReaction("m1", "bob", "👍", 1))
	m, _ := s.Get("m1")
	require.Len(t, m.Reactions, 1)

	// same pair toggles off; a different emoji coexists
	s.ToggleReaction("m1", "bob", "❤️", 2)
	s.ToggleReaction("m1", "bob", "👍", 3)
	m, _ = s.Get("m1")
	require.Len(t, m.Reactions, 1)
	assert.Equal(t, "❤️", m.Reactions[0].Emoji)

	assert.False(t, s.ToggleReaction("nope", "bob", "👍", 4))
}

func TestSetReactionsReplacesList(t *testing.T) {
	s := New()
	s.Reset("c1")
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Text: "x"})
	s.ToggleReaction("m1", "bob", "👍", 1)

	s.SetReactions("m1", []models.Reaction{{User: "alice", Emoji: "😂"}})
	m, _ := s.Get("m1")
	require.Len(t, m.Reactions, 1)
	assert.Equal(t, "alice", m.Reactions[0].User)
}

func TestClearKeepsConversationScope(t *testing.T) {
	s := New()
	s.Reset("c1")
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Text: "x"})

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, "c1", s.Conversation())

	// indexes were cleared too: the same id appends fresh
	assert.Equal(t, Appended, s.Upsert(models.Message{ID: "m1", Conversation: "c1", Text: "x"}))
}

func TestMessagesReturnsSnapshots(t *testing.T) {
	s := New()
	s.Reset("c1")
	s.Upsert(models.Message{ID: "m1", Conversation: "c1", Text: "x", ReadBy: map[string]bool{"bob": true}})

	msgs := s.Messages()
	msgs[0].Text = "mutated"
	msgs[0].ReadBy["mallory"] = true

	m, _ := s.Get("m1")
	assert.Equal(t, "x", m.Text)
	assert.False(t, m.ReadBy["mallory"])
}
