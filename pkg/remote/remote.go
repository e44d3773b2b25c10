// Package remote defines the narrow contract the sync core has with the
// authoritative backend store. The backend's real transport is its own
// business; the coordinator only depends on these interfaces.
package remote

import (
	"context"
	"errors"

	"chatsync/pkg/models"
)

// ErrRemoteUnavailable marks transient backend failures. The coordinator
// retries these; they are never surfaced to Send callers.
var ErrRemoteUnavailable = errors.New("remote unavailable")

// Ack confirms the backend durably accepted a pushed message.
type Ack struct {
	ID string
}

// Pusher delivers locally-authored messages. Pushing the same id twice must
// not duplicate on the remote side; the coordinator guarantees it stops
// resending once it has an Ack.
type Pusher interface {
	Push(ctx context.Context, msg models.Message) (Ack, error)
}

// Puller fetches messages the local log does not have yet. sinceTS is the
// newest locally known created_at for the thread (0 for an empty log);
// overlap is fine because the caller dedups by id.
type Puller interface {
	Pull(ctx context.Context, threadID string, sinceTS int64) ([]models.Message, error)
}

// Backend is the full backend store contract.
type Backend interface {
	Pusher
	Puller
}
