// Package realtime is the boundary to the bidirectional event channel.
// The engine consumes it as a publish/subscribe interface; connection
// lifecycle and reconnection belong to the transport implementation.
package realtime

// Handler receives the raw payload of one named event.
type Handler func(payload []byte)

// Transport delivers named events with payloads in both directions. The
// subscription is conversation-scoped: Join/Leave must be called on every
// conversation switch.
type Transport interface {
	// Subscribe registers a handler for an event name. Multiple handlers
	// per event are allowed; registration is not concurrency-sensitive
	// (done once during wiring).
	Subscribe(event string, h Handler)
	// Publish emits a named event with a JSON-marshaled payload.
	Publish(event string, v any) error
	// Join subscribes to a conversation's event stream.
	Join(conversation, user string) error
	// Leave abandons a conversation's event stream.
	Leave(conversation, user string) error
	Close() error
}
