package utils

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewMessageID returns a new ULID string (26 chars). ULIDs are
// lexicographically sortable by creation time, which keeps the store's
// (created_at, id) tie-break stable without a separate sequence counter.
func NewMessageID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// NewThreadID returns a ULID-based thread identifier.
func NewThreadID() string {
	return "thread-" + ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// JSONError writes a JSON error response with the given status code and
// message. It ensures the Content-Type is set to application/json.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSONWrite writes the provided value as JSON with the given status code.
func JSONWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}
