package store

import (
	"context"
	"errors"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomClosed   = errors.New("room is closed")
	ErrRoomFull     = errors.New("room is full")
	ErrNotMember    = errors.New("user is not a member of the room")
)

// Store is the server-side room and signal-queue backend. Signals are
// fanned out on write: a broadcast is copied into every other member's
// queue at send time, so each consumer only ever reads its own queue
// with a monotonic timestamp cursor.
type Store interface {
	// CreateRoom creates a room and returns its metadata. maxPeers <= 0
	// applies the server default.
	CreateRoom(ctx context.Context, creatorID string, maxPeers int) (models.RoomMetadata, error)

	// JoinRoom registers a new participant and returns the generated
	// user id plus the member count after the join. Fails with
	// ErrRoomNotFound or ErrRoomFull.
	JoinRoom(ctx context.Context, roomID, displayName string) (userID string, participants int, err error)

	// LeaveRoom removes a participant. The room is deleted when its last
	// member leaves. Leaving twice is not an error.
	LeaveRoom(ctx context.Context, roomID, userID string) error

	// RoomStatus returns the room's current member ids.
	RoomStatus(ctx context.Context, roomID string) (models.RoomMetadata, []string, error)

	// AppendSignal stamps a signal and queues it. body.Target empty means
	// broadcast: the record lands in every member's queue except the
	// sender's. skip lists members whose delivery already happened over a
	// push channel; their queues are left untouched. The stamped record
	// is returned so push delivery reuses the exact same timestamp.
	AppendSignal(ctx context.Context, roomID, senderID string, body models.SignalBody, skip []string) (models.SignalRecord, error)

	// SignalsSince returns the signals queued for userID with a
	// timestamp strictly greater than since, oldest first.
	SignalsSince(ctx context.Context, roomID, userID string, since int64) ([]models.SignalRecord, error)

	// DeleteRoom removes the room and all queues.
	DeleteRoom(ctx context.Context, roomID string) error
}
