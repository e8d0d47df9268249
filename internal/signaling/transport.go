// Package signaling provides the client side of the room signaling
// protocol: a swappable transport abstraction over the relay service and
// a Coordinator that turns raw delivery into typed, filtered events.
package signaling

import (
	"context"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

// Transport abstracts the message-relay service. Implementations exist
// for the REST polling API, the WebSocket push endpoint, and an
// in-process store for tests. Every operation is fallible; failures the
// service itself reports come back in the result's Success/Error shape,
// while the returned error is reserved for the transport being
// unreachable or returning garbage.
type Transport interface {
	CreateRoom(ctx context.Context, maxPeers int) (models.CreateRoomResult, error)
	JoinRoom(ctx context.Context, roomID, displayName string) (models.JoinRoomResult, error)
	LeaveRoom(ctx context.Context, roomID, userID string) (models.Result, error)
	GetRoomStatus(ctx context.Context, roomID string) (models.RoomStatusResult, error)
	SendSignal(ctx context.Context, roomID, senderID string, body models.SignalBody) (models.Result, error)
	GetSignals(ctx context.Context, roomID, userID string, since int64) (models.GetSignalsResult, error)
}

// Subscriber is the optional push interface. Transports that can deliver
// signals without polling (the WebSocket transport) implement it; the
// Coordinator prefers it over the poll loop when present.
type Subscriber interface {
	// Subscribe returns the stream of signals for a joined participant.
	// The channel closes when the subscription ends.
	Subscribe(roomID, userID string) (<-chan models.SignalRecord, error)
}
