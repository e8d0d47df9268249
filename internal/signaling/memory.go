package signaling

import (
	"context"

	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/store"
)

// Compile-time interface check.
var _ Transport = (*MemoryTransport)(nil)

// MemoryTransport is an in-process Transport for tests. Any number of
// Coordinators sharing the same MemoryTransport can signal each other
// without a server; join and leave announcements are synthesized exactly
// the way the signaling server does it.
type MemoryTransport struct {
	store *store.MemoryStore
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{store: store.NewMemoryStore()}
}

func (t *MemoryTransport) CreateRoom(ctx context.Context, maxPeers int) (models.CreateRoomResult, error) {
	meta, err := t.store.CreateRoom(ctx, "", maxPeers)
	if err != nil {
		return models.CreateRoomResult{Error: err.Error()}, nil
	}
	return models.CreateRoomResult{Success: true, RoomID: meta.ID}, nil
}

func (t *MemoryTransport) JoinRoom(ctx context.Context, roomID, displayName string) (models.JoinRoomResult, error) {
	userID, participants, err := t.store.JoinRoom(ctx, roomID, displayName)
	if err != nil {
		return models.JoinRoomResult{Error: err.Error()}, nil
	}

	t.store.AppendSignal(ctx, roomID, userID, models.SignalBody{
		Type: models.SignalTypeUserJoined,
	}, nil)

	return models.JoinRoomResult{
		Success:      true,
		RoomID:       roomID,
		UserID:       userID,
		Participants: participants,
	}, nil
}

func (t *MemoryTransport) LeaveRoom(ctx context.Context, roomID, userID string) (models.Result, error) {
	t.store.AppendSignal(ctx, roomID, userID, models.SignalBody{
		Type: models.SignalTypeUserLeft,
	}, nil)

	if err := t.store.LeaveRoom(ctx, roomID, userID); err != nil {
		return models.Result{Error: err.Error()}, nil
	}
	return models.Result{Success: true}, nil
}

func (t *MemoryTransport) GetRoomStatus(ctx context.Context, roomID string) (models.RoomStatusResult, error) {
	meta, users, err := t.store.RoomStatus(ctx, roomID)
	if err != nil {
		return models.RoomStatusResult{Error: err.Error()}, nil
	}
	return models.RoomStatusResult{
		Success:      true,
		RoomID:       meta.ID,
		Participants: len(users),
		Users:        users,
	}, nil
}

func (t *MemoryTransport) SendSignal(ctx context.Context, roomID, senderID string, body models.SignalBody) (models.Result, error) {
	if _, err := t.store.AppendSignal(ctx, roomID, senderID, body, nil); err != nil {
		return models.Result{Error: err.Error()}, nil
	}
	return models.Result{Success: true}, nil
}

func (t *MemoryTransport) GetSignals(ctx context.Context, roomID, userID string, since int64) (models.GetSignalsResult, error) {
	signals, err := t.store.SignalsSince(ctx, roomID, userID, since)
	if err != nil {
		return models.GetSignalsResult{Error: err.Error()}, nil
	}
	return models.GetSignalsResult{Success: true, Signals: signals}, nil
}
