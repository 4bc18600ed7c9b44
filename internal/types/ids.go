// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

// UserID is the remote identity of the logged-in account.
type UserID string

// AttemptID tags one recovery attempt across logs and metrics.
type AttemptID string

// UploadID identifies one media upload for tracing.
type UploadID string

func NewAttemptID() AttemptID {
	return AttemptID(uuid.New().String())
}

func NewUploadID() UploadID {
	return UploadID(uuid.New().String())
}

// RoomIDPrefix marks room identities in the web protocol.
const RoomIDPrefix = "@@"

// IsRoomID reports whether id carries the room identity prefix.
func IsRoomID(id string) bool {
	return strings.HasPrefix(id, RoomIDPrefix)
}
