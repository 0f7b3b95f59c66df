// The router translates named realtime events into message-store and
// receipt-tracker operations. Every event is enqueued and applied by one
// worker goroutine, so mutations are serialized the same way the UI event
// loop serializes them in the browser client; out-of-order and duplicate
// delivery is absorbed by the store's idempotent upsert.
package ingest

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"talkie/pkg/ident"
	"talkie/pkg/logger"
	"talkie/pkg/models"
	"talkie/pkg/realtime"
	"talkie/pkg/receipts"
	"talkie/pkg/store"
	"talkie/pkg/telemetry"
	"talkie/pkg/validation"
)

// consumed lists every event the router subscribes to.
var consumed = []string{
	models.EvNewMessage,
	models.EvDelivered,
	models.EvDeliveryUpdate,
	models.EvSeenUpdate,
	models.EvDeleted,
	models.EvReact,
	models.EvReacted,
	models.EvTyping,
	models.EvStopTyping,
	models.EvChatCleared,
}

type receiptKind int

const (
	kindDelivered receiptKind = iota
	kindSeen
)

type parkedReceipt struct {
	kind receiptKind
	user string
}

// Options wires a Router.
type Options struct {
	Store    *store.Store
	Tracker  *receipts.Tracker
	Typing   *TypingTracker
	Registry *ident.Registry
	SelfID   string
	// QueueCapacity bounds the event queue; 0 uses the default.
	QueueCapacity int
	// DeferredCap bounds the parked-receipt buffer; 0 uses 256.
	DeferredCap int
}

// Router applies inbound events. Attach it to a transport, then Run.
type Router struct {
	q         *Queue
	store     *store.Store
	tracker   *receipts.Tracker
	typing    *TypingTracker
	reg       *ident.Registry
	self      string
	transport realtime.Transport

	foreground atomic.Bool

	deferMu    sync.Mutex
	deferred   map[string][]parkedReceipt
	deferOrder []string
	deferCap   int

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRouter(opts Options) *Router {
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	deferCap := opts.DeferredCap
	if deferCap <= 0 {
		deferCap = 256
	}
	r := &Router{
		q:        NewQueue(capacity),
		store:    opts.Store,
		tracker:  opts.Tracker,
		typing:   opts.Typing,
		reg:      opts.Registry,
		self:     opts.SelfID,
		deferred: make(map[string][]parkedReceipt),
		deferCap: deferCap,
		stop:     make(chan struct{}),
	}
	r.foreground.Store(true)
	return r
}

// Attach subscribes the router to every consumed event on the transport
// and remembers it for emitting acks.
func (r *Router) Attach(t realtime.Transport) {
	r.transport = t
	for _, ev := range consumed {
		ev := ev
		t.Subscribe(ev, func(payload []byte) {
			if err := r.q.TryEnqueue(&Op{Event: ev, Payload: payload}); err != nil {
				telemetry.RouterDropped.WithLabelValues("queue_full").Inc()
				logger.Warn("ingest_enqueue_failed", "event", ev, "error", err)
			}
		})
	}
}

// Run starts the apply worker. Call Stop to terminate it.
func (r *Router) Run() {
	go r.q.RunWorker(r.stop, r.dispatch)
}

// Stop terminates the apply worker and drains the queue.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.q.CloseAndDrain()
	})
}

// Sync blocks until every event enqueued before the call has been applied.
func (r *Router) Sync() {
	<-r.q.Barrier()
}

// SetForeground gates the automatic seen ack for arriving messages.
func (r *Router) SetForeground(v bool) { r.foreground.Store(v) }

func (r *Router) dispatch(op *Op) {
	telemetry.RouterEvents.WithLabelValues(op.Event).Inc()
	switch op.Event {
	case models.EvNewMessage:
		r.onNewMessage(op.Payload)
	case models.EvDelivered:
		r.onDelivered(op.Payload)
	case models.EvDeliveryUpdate:
		r.onDeliveryUpdate(op.Payload)
	case models.EvSeenUpdate:
		r.onSeenUpdate(op.Payload)
	case models.EvDeleted:
		r.onDeleted(op.Payload)
	case models.EvReact:
		r.onReact(op.Payload)
	case models.EvReacted:
		r.onReacted(op.Payload)
	case models.EvTyping:
		r.onTyping(op.Payload, true)
	case models.EvStopTyping:
		r.onTyping(op.Payload, false)
	case models.EvChatCleared:
		r.onChatCleared(op.Payload)
	default:
		telemetry.RouterDropped.WithLabelValues("unknown_event").Inc()
		logger.Debug("ingest_unknown_event", "event", op.Event)
	}
}

func (r *Router) openConversation() string { return r.store.Conversation() }

func (r *Router) mismatch(conv string) bool {
	open := r.openConversation()
	if conv != "" && open != "" && conv != open {
		telemetry.RouterDropped.WithLabelValues("conversation_mismatch").Inc()
		return true
	}
	return false
}

func (r *Router) onNewMessage(payload []byte) {
	var m models.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		logger.Warn("ingest_bad_payload", "event", models.EvNewMessage, "error", err)
		return
	}
	if err := validation.ValidateMessage(m); err != nil {
		telemetry.RouterDropped.WithLabelValues("invalid_message").Inc()
		logger.Warn("ingest_invalid_message", "error", err)
		return
	}
	if r.mismatch(m.Conversation) {
		return
	}
	// Echo of our own send: the temp-id index makes the upsert a merge or
	// a duplicate no-op. An echo that lost its temp id is recognized by
	// the sender plus an outstanding pending entry and dropped outright.
	if m.Sender == r.self && m.TempID == "" && r.reg != nil && r.reg.PendingCount() > 0 {
		telemetry.RouterDropped.WithLabelValues("echo").Inc()
		logger.Debug("ingest_echo_suppressed", "msg", m.ID)
		return
	}
	out := r.store.Upsert(m)
	if out == store.Ignored {
		return
	}
	r.replayDeferred(m.ID)
	if m.Sender == r.self {
		return
	}
	// Acknowledge receipt, then read if the conversation is foregrounded.
	if r.transport != nil && m.ID != "" {
		_ = r.transport.Publish(models.EvAckDeliver, models.ReceiptEvent{
			MessageID: m.ID, Conversation: m.Conversation, User: r.self,
		})
		if r.foreground.Load() {
			_ = r.transport.Publish(models.EvAckSeen, models.BatchReceiptEvent{
				MessageIDs: []string{m.ID}, Conversation: m.Conversation, User: r.self,
			})
		}
	}
}

func (r *Router) onDelivered(payload []byte) {
	var ev models.ReceiptEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warn("ingest_bad_payload", "event", models.EvDelivered, "error", err)
		return
	}
	if r.mismatch(ev.Conversation) {
		return
	}
	if !r.tracker.ApplyDelivered(ev.MessageID, ev.User) {
		r.park(ev.MessageID, parkedReceipt{kind: kindDelivered, user: ev.User})
	}
}

func (r *Router) onDeliveryUpdate(payload []byte) {
	var ev models.BatchReceiptEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warn("ingest_bad_payload", "event", models.EvDeliveryUpdate, "error", err)
		return
	}
	if r.mismatch(ev.Conversation) {
		return
	}
	for _, id := range ev.MessageIDs {
		if !r.tracker.ApplyDelivered(id, ev.User) {
			r.park(id, parkedReceipt{kind: kindDelivered, user: ev.User})
		}
	}
}

func (r *Router) onSeenUpdate(payload []byte) {
	var ev models.BatchReceiptEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warn("ingest_bad_payload", "event", models.EvSeenUpdate, "error", err)
		return
	}
	if r.mismatch(ev.Conversation) {
		return
	}
	for _, id := range ev.MessageIDs {
		if len(r.tracker.ApplySeen([]string{id}, ev.User)) == 0 {
			r.park(id, parkedReceipt{kind: kindSeen, user: ev.User})
		}
	}
}

func (r *Router) onDeleted(payload []byte) {
	var ev models.DeleteEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warn("ingest_bad_payload", "event", models.EvDeleted, "error", err)
		return
	}
	if r.mismatch(ev.Conversation) {
		return
	}
	if ev.ForEveryone {
		if !r.store.MarkDeletedForEveryone(ev.MessageID) {
			telemetry.RouterDropped.WithLabelValues("unknown_message").Inc()
			logger.Debug("ingest_delete_unknown", "msg", ev.MessageID)
		}
		return
	}
	_ = r.store.Remove(ev.MessageID)
}

func (r *Router) onReact(payload []byte) {
	var ev models.ReactEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warn("ingest_bad_payload", "event", models.EvReact, "error", err)
		return
	}
	if r.mismatch(ev.Conversation) {
		return
	}
	if !r.store.ToggleReaction(ev.MessageID, ev.User, ev.Emoji, 0) {
		telemetry.RouterDropped.WithLabelValues("unknown_message").Inc()
		logger.Debug("ingest_react_unknown", "msg", ev.MessageID)
	}
}

func (r *Router) onReacted(payload []byte) {
	var ev models.ReactedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warn("ingest_bad_payload", "event", models.EvReacted, "error", err)
		return
	}
	if r.mismatch(ev.Conversation) {
		return
	}
	if !r.store.SetReactions(ev.MessageID, ev.Reactions) {
		telemetry.RouterDropped.WithLabelValues("unknown_message").Inc()
	}
}

func (r *Router) onTyping(payload []byte, start bool) {
	var ev models.TypingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warn("ingest_bad_payload", "event", models.EvTyping, "error", err)
		return
	}
	if r.typing == nil || r.mismatch(ev.Conversation) {
		return
	}
	if start {
		r.typing.Start(ev.Conversation, ev.User)
	} else {
		r.typing.Stop(ev.Conversation, ev.User)
	}
}

func (r *Router) onChatCleared(payload []byte) {
	var ev models.ChatClearedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Warn("ingest_bad_payload", "event", models.EvChatCleared, "error", err)
		return
	}
	if r.mismatch(ev.Conversation) {
		return
	}
	r.store.Clear()
}

// park buffers a receipt for a message the store has not seen yet. The
// buffer is bounded; evicted entries are healed by the periodic resync.
func (r *Router) park(msgID string, p parkedReceipt) {
	if msgID == "" {
		return
	}
	r.deferMu.Lock()
	defer r.deferMu.Unlock()
	if _, ok := r.deferred[msgID]; !ok {
		if len(r.deferOrder) >= r.deferCap {
			oldest := r.deferOrder[0]
			r.deferOrder = r.deferOrder[1:]
			delete(r.deferred, oldest)
			telemetry.RouterDropped.WithLabelValues("deferred_evicted").Inc()
		}
		r.deferOrder = append(r.deferOrder, msgID)
	}
	r.deferred[msgID] = append(r.deferred[msgID], p)
}

// ReplayFor applies receipts parked for a message that has just become
// known, e.g. after the send ack assigned its permanent id.
func (r *Router) ReplayFor(msgID string) {
	r.replayDeferred(msgID)
}

func (r *Router) replayDeferred(msgID string) {
	if msgID == "" {
		return
	}
	r.deferMu.Lock()
	parked := r.deferred[msgID]
	if parked != nil {
		delete(r.deferred, msgID)
		for i, id := range r.deferOrder {
			if id == msgID {
				r.deferOrder = append(r.deferOrder[:i], r.deferOrder[i+1:]...)
				break
			}
		}
	}
	r.deferMu.Unlock()
	for _, p := range parked {
		switch p.kind {
		case kindDelivered:
			r.store.AddDelivered(msgID, p.user)
		case kindSeen:
			r.store.AddRead(msgID, p.user)
		}
	}
}
