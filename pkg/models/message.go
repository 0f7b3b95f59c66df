package models

// Message is the central record of a conversation. A message created
// locally starts with only TempID set; the server-assigned ID arrives with
// the send acknowledgment. Once ID is present the record is addressed by
// it; TempID stays attached for echo suppression.
type Message struct {
	// ID is the permanent, server-assigned identifier. Empty while the
	// send is still pending.
	ID string `json:"id,omitempty"`
	// TempID is the client-generated correlation id created at send time.
	TempID       string `json:"temp_id,omitempty"`
	Conversation string `json:"conversation"`
	Sender       string `json:"sender,omitempty"`
	// TS is nanoseconds; the server value wins once available.
	TS int64 `json:"ts,omitempty"`

	Text  string    `json:"text,omitempty"`
	Media *MediaRef `json:"media,omitempty"`
	Voice *VoiceRef `json:"voice,omitempty"`

	// ReplyTo references another message in the same conversation.
	ReplyTo string `json:"reply_to,omitempty"`
	// ForwardedFrom is provenance metadata; immutable once set.
	ForwardedFrom *Provenance `json:"forwarded_from,omitempty"`

	// DeliveredTo and ReadBy are participant-id sets. Read implies
	// delivered for the same participant.
	DeliveredTo map[string]bool `json:"delivered_to,omitempty"`
	ReadBy      map[string]bool `json:"read_by,omitempty"`

	// Reactions holds at most one entry per (user, emoji) pair.
	Reactions []Reaction `json:"reactions,omitempty"`

	// Deleted marks a delete-for-everyone tombstone. Content fields are
	// cleared when it is set and are never restored.
	Deleted bool `json:"deleted,omitempty"`

	// Upload is transient client-side state for an outbound media send.
	// It never crosses the wire.
	Upload *UploadState `json:"-"`
}

// MediaRef points at a media attachment. URL is server-side once the
// message is acknowledged; for a pending send it holds a local preview ref.
type MediaRef struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	MIME string `json:"mime,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// VoiceRef points at a voice note.
type VoiceRef struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration,omitempty"`
	Size     int64   `json:"size,omitempty"`
}

// Provenance records the original sender of a forwarded message.
type Provenance struct {
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
}

// Reaction is one participant's reaction to a message.
type Reaction struct {
	User  string `json:"user"`
	Emoji string `json:"emoji"`
	TS    int64  `json:"ts,omitempty"`
}

// UploadState is present only while an outbound attachment is uploading.
type UploadState struct {
	// Fraction is in [0,1].
	Fraction float64
}

// Key returns the identifier a record is currently addressable by: the
// permanent id once assigned, the temp id before that.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// Pending reports whether the message is still awaiting its server ack.
func (m *Message) Pending() bool { return m.ID == "" }

// HasContent reports whether any primary content field is present.
func (m *Message) HasContent() bool {
	return m.Text != "" || m.Media != nil || m.Voice != nil
}

// ClearContent wipes body, media and voice references. Used when applying
// a delete-for-everyone tombstone.
func (m *Message) ClearContent() {
	m.Text = ""
	m.Media = nil
	m.Voice = nil
	m.Upload = nil
}

// FindReaction returns the index of the (user, emoji) pair, or -1.
func (m *Message) FindReaction(user, emoji string) int {
	for i, r := range m.Reactions {
		if r.User == user && r.Emoji == emoji {
			return i
		}
	}
	return -1
}
