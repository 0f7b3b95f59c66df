package models

// Conversation describes the chat the client currently has open. The
// participant list drives receipt thresholds: a 1-1 chat is simply the
// two-participant case, group semantics fall out of the same counts.
type Conversation struct {
	ID           string   `json:"id"`
	Title        string   `json:"title,omitempty"`
	Participants []string `json:"participants"`
}

// Others returns the participant ids excluding self.
func (c *Conversation) Others(self string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}
