package models

import "fmt"

// Kind classifies a message payload. The set is closed; anything else is
// rejected at the boundary.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
	KindFile  Kind = "file"
)

// ParseKind validates a wire kind string. Empty defaults to text.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindText, KindAudio, KindVideo, KindFile:
		return Kind(s), nil
	case "":
		return KindText, nil
	}
	return "", fmt.Errorf("unknown message kind: %q", s)
}

type Message struct {
	ID       string `json:"id"`
	Thread   string `json:"thread"`
	AuthorID string `json:"author_id"`
	// Author name/contact are a snapshot taken at creation time; later
	// identity changes do not rewrite stored messages.
	AuthorName    string `json:"author_name,omitempty"`
	AuthorContact string `json:"author_contact,omitempty"`
	Content       string `json:"content,omitempty"`
	Kind          Kind   `json:"kind"`
	// CreatedAt is UTC nanoseconds; with ID it forms the per-thread total
	// order (CreatedAt, ID).
	CreatedAt int64 `json:"created_at"`
	Read      bool  `json:"read,omitempty"`
	// PendingSync marks a message accepted locally but not yet acked by the
	// backend store.
	PendingSync bool `json:"pending_sync,omitempty"`
}

// Before reports whether m sorts ahead of other in the thread order.
func (m Message) Before(other Message) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt < other.CreatedAt
	}
	return m.ID < other.ID
}
