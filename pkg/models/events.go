package models

// Realtime event names. These are the external contract with the socket
// backend; payload shapes are below.
const (
	// Consumed.
	EvNewMessage     = "new-message"
	EvDelivered      = "message-delivered"
	EvDeliveryUpdate = "delivery-update"
	EvSeenUpdate     = "seen-update"
	EvDeleted        = "message-deleted"
	EvReact          = "react-message"
	EvReacted        = "message-reacted"
	EvTyping         = "user-typing"
	EvStopTyping     = "user-stop-typing"
	EvChatCleared    = "chat-cleared"

	// Emitted.
	EvJoin       = "join-conversation"
	EvLeave      = "leave-conversation"
	EvEmitTyping = "typing"
	EvEmitStop   = "stop-typing"
	EvAckDeliver = "message-delivered"
	EvAckSeen    = "message-seen"
	EvEmitDelete = "delete-message"
	EvEmitReact  = "react-message"
)

// ReceiptEvent acknowledges delivery or read of one message.
type ReceiptEvent struct {
	MessageID    string `json:"message_id"`
	Conversation string `json:"conversation"`
	User         string `json:"user"`
}

// BatchReceiptEvent carries delivery/seen state for several messages at
// once (the backend batches receipts per conversation open).
type BatchReceiptEvent struct {
	MessageIDs   []string `json:"message_ids"`
	Conversation string   `json:"conversation"`
	User         string   `json:"user"`
}

// ReactEvent toggles one (user, emoji) pair on a message.
type ReactEvent struct {
	MessageID    string `json:"message_id"`
	Conversation string `json:"conversation"`
	User         string `json:"user"`
	Emoji        string `json:"emoji"`
}

// ReactedEvent carries the authoritative full reaction list for a message.
type ReactedEvent struct {
	MessageID    string     `json:"message_id"`
	Conversation string     `json:"conversation"`
	Reactions    []Reaction `json:"reactions"`
}

// DeleteEvent removes a message, either for everyone (tombstone) or for
// the requesting user only (local removal).
type DeleteEvent struct {
	MessageID    string `json:"message_id"`
	Conversation string `json:"conversation"`
	ForEveryone  bool   `json:"for_everyone"`
}

// TypingEvent signals typing start/stop in a conversation.
type TypingEvent struct {
	Conversation string `json:"conversation"`
	User         string `json:"user"`
}

// ChatClearedEvent wipes a conversation's history.
type ChatClearedEvent struct {
	Conversation string `json:"conversation"`
}

// JoinEvent subscribes the client to a conversation's event stream.
type JoinEvent struct {
	Conversation string `json:"conversation"`
	User         string `json:"user"`
}
