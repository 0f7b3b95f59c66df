// Package session owns the currently open conversation: one store, one
// registry, one router, one pipeline. Switching conversations resets all
// of it and re-establishes the conversation-scoped realtime subscription.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"talkie/pkg/api"
	"talkie/pkg/ident"
	"talkie/pkg/ingest"
	"talkie/pkg/logger"
	"talkie/pkg/models"
	"talkie/pkg/outbound"
	"talkie/pkg/realtime"
	"talkie/pkg/receipts"
	"talkie/pkg/store"
)

// Options wires a Session.
type Options struct {
	Client    *api.Client
	Transport realtime.Transport
	SelfID    string
	// SeenOnOpen emits a batched seen ack for unread history after a
	// conversation is opened and its history loaded.
	SeenOnOpen bool
	// TypingQuiet expires peer typing indicators; 0 uses the default.
	TypingQuiet   time.Duration
	QueueCapacity int
	DeferredCap   int
	// OnTypingChange observes peer typing state for the UI.
	OnTypingChange func(conversation string, users []string)
	// OnSendFailed surfaces a rolled-back send to the user.
	OnSendFailed func(tempID string, err error)
}

// Session is safe for concurrent use by the UI goroutine and the
// transport pumps.
type Session struct {
	client     *api.Client
	transport  realtime.Transport
	self       string
	seenOnOpen bool

	store    *store.Store
	reg      *ident.Registry
	tracker  *receipts.Tracker
	typing   *ingest.TypingTracker
	router   *ingest.Router
	pipeline *outbound.Pipeline

	mu    sync.Mutex
	conv  *models.Conversation
	epoch uint64
}

func New(opts Options) *Session {
	s := &Session{
		client:     opts.Client,
		transport:  opts.Transport,
		self:       opts.SelfID,
		seenOnOpen: opts.SeenOnOpen,
	}
	s.store = store.New()
	s.reg = ident.NewRegistry()
	s.tracker = receipts.NewTracker(s.store)
	s.typing = ingest.NewTypingTracker(opts.TypingQuiet, opts.OnTypingChange)
	s.router = ingest.NewRouter(ingest.Options{
		Store:         s.store,
		Tracker:       s.tracker,
		Typing:        s.typing,
		Registry:      s.reg,
		SelfID:        opts.SelfID,
		QueueCapacity: opts.QueueCapacity,
		DeferredCap:   opts.DeferredCap,
	})
	s.pipeline = outbound.NewPipeline(opts.Client, s.store, s.reg, opts.SelfID, outbound.Hooks{
		OnAcknowledged: func(m models.Message) {
			// receipts that raced ahead of the ack were parked against
			// the permanent id; apply them now
			s.router.ReplayFor(m.ID)
		},
		OnFailed: opts.OnSendFailed,
	})
	if opts.Transport != nil {
		s.router.Attach(opts.Transport)
	}
	s.router.Run()
	return s
}

// Open switches to a conversation: leaves the previous one, resets all
// per-conversation state, joins the new stream and fetches history in the
// background. A late history response for a conversation that has been
// switched away from is discarded.
func (s *Session) Open(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	if s.conv != nil && s.transport != nil {
		_ = s.transport.Leave(s.conv.ID, s.self)
	}
	s.conv = conv
	epoch := atomic.AddUint64(&s.epoch, 1)
	s.store.Reset(conv.ID)
	s.reg.Reset()
	s.typing.Reset()
	s.mu.Unlock()

	if s.transport != nil {
		if err := s.transport.Join(conv.ID, s.self); err != nil {
			return err
		}
	}
	go s.loadHistory(ctx, epoch, conv.ID)
	return nil
}

func (s *Session) loadHistory(ctx context.Context, epoch uint64, convID string) {
	msgs, err := s.client.FetchHistory(ctx, convID)
	if err != nil {
		logger.Warn("history_fetch_failed", "conversation", convID, "error", err)
		return
	}
	if atomic.LoadUint64(&s.epoch) != epoch {
		logger.Debug("history_fetch_stale_discarded", "conversation", convID)
		return
	}
	var unread []string
	for _, m := range msgs {
		// the store's own conversation guard catches a switch that races
		// past the epoch check above
		s.store.Upsert(m)
		if m.ID != "" && m.Sender != s.self && !m.ReadBy[s.self] {
			unread = append(unread, m.ID)
		}
	}
	logger.Info("history_loaded", "conversation", convID, "count", len(msgs))

	if s.seenOnOpen && len(unread) > 0 {
		if _, err := s.client.MarkSeen(ctx, convID, unread); err != nil {
			logger.Warn("mark_seen_failed", "conversation", convID, "error", err)
		}
		if s.transport != nil {
			_ = s.transport.Publish(models.EvAckSeen, models.BatchReceiptEvent{
				MessageIDs: unread, Conversation: convID, User: s.self,
			})
		}
	}
}

// Refresh refetches the open conversation's history and merges it through
// the idempotent upsert path. Used by the periodic resync.
func (s *Session) Refresh(ctx context.Context) {
	s.mu.Lock()
	conv := s.conv
	epoch := atomic.LoadUint64(&s.epoch)
	s.mu.Unlock()
	if conv == nil {
		return
	}
	s.loadHistory(ctx, epoch, conv.ID)
}

// Send runs the outbound pipeline against the open conversation.
func (s *Session) Send(ctx context.Context, c outbound.Compose) (string, error) {
	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	if conv == nil {
		return "", outbound.ErrEmptyCompose
	}
	return s.pipeline.Send(ctx, conv.ID, c)
}

// React toggles a reaction optimistically and confirms it with the
// backend; a failed confirmation toggles it back.
func (s *Session) React(ctx context.Context, msgID, emoji string) error {
	s.store.ToggleReaction(msgID, s.self, emoji, 0)
	if s.transport != nil {
		_ = s.transport.Publish(models.EvEmitReact, models.ReactEvent{
			MessageID: msgID, Conversation: s.store.Conversation(), User: s.self, Emoji: emoji,
		})
	}
	if err := s.client.React(ctx, msgID, emoji); err != nil {
		s.store.ToggleReaction(msgID, s.self, emoji, 0)
		logger.Warn("react_failed", "msg", msgID, "error", err)
		return err
	}
	return nil
}

// Delete removes a message for everyone (tombstone) or locally only.
func (s *Session) Delete(ctx context.Context, msgID string, forEveryone bool) error {
	if forEveryone {
		s.store.MarkDeletedForEveryone(msgID)
	} else {
		s.store.Remove(msgID)
	}
	if s.transport != nil && forEveryone {
		_ = s.transport.Publish(models.EvEmitDelete, models.DeleteEvent{
			MessageID: msgID, Conversation: s.store.Conversation(), ForEveryone: true,
		})
	}
	return s.client.Delete(ctx, msgID, forEveryone)
}

// Typing signals that the local user is typing. Throttling happens in the
// transport.
func (s *Session) Typing() {
	if s.transport == nil {
		return
	}
	_ = s.transport.Publish(models.EvEmitTyping, models.TypingEvent{
		Conversation: s.store.Conversation(), User: s.self,
	})
}

// StopTyping signals that the local user stopped typing.
func (s *Session) StopTyping() {
	if s.transport == nil {
		return
	}
	_ = s.transport.Publish(models.EvEmitStop, models.TypingEvent{
		Conversation: s.store.Conversation(), User: s.self,
	})
}

// SetForeground gates automatic seen acks for arriving messages.
func (s *Session) SetForeground(v bool) { s.router.SetForeground(v) }

// Messages returns the ordered snapshot for rendering.
func (s *Session) Messages() []models.Message { return s.store.Messages() }

// TypingUsers returns peers currently typing in the open conversation.
func (s *Session) TypingUsers() []string {
	return s.typing.Active(s.store.Conversation())
}

// Status derives the display status of one message.
func (s *Session) Status(m *models.Message) receipts.Status {
	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	if conv == nil {
		return receipts.StatusSent
	}
	return receipts.StatusFor(m, conv, s.self)
}

// Sync waits for all inbound events received so far to be applied.
func (s *Session) Sync() { s.router.Sync() }

// Close leaves the open conversation and stops the router.
func (s *Session) Close() {
	s.mu.Lock()
	conv := s.conv
	s.conv = nil
	s.mu.Unlock()
	if conv != nil && s.transport != nil {
		_ = s.transport.Leave(conv.ID, s.self)
	}
	s.router.Stop()
}
