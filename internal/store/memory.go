package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

const defaultMaxPeers = 8

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store for tests and single-node
// deployments. All state lives behind one mutex; signal timestamps are
// forced strictly monotonic per room so consumer cursors never stall on
// same-millisecond writes.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*memoryRoom
}

type memoryRoom struct {
	meta    models.RoomMetadata
	members map[string]models.Participant
	queues  map[string][]models.SignalRecord
	lastTS  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*memoryRoom)}
}

func (s *MemoryStore) CreateRoom(_ context.Context, creatorID string, maxPeers int) (models.RoomMetadata, error) {
	if maxPeers <= 0 {
		maxPeers = defaultMaxPeers
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := models.RoomMetadata{
		ID:        uuid.New().String(),
		CreatorID: creatorID,
		CreatedAt: time.Now(),
		Active:    true,
		MaxPeers:  maxPeers,
	}
	s.rooms[meta.ID] = &memoryRoom{
		meta:    meta,
		members: make(map[string]models.Participant),
		queues:  make(map[string][]models.SignalRecord),
	}
	return meta, nil
}

func (s *MemoryStore) JoinRoom(_ context.Context, roomID, displayName string) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return "", 0, ErrRoomNotFound
	}
	if !room.meta.Active {
		return "", 0, ErrRoomClosed
	}
	if len(room.members) >= room.meta.MaxPeers {
		return "", 0, ErrRoomFull
	}

	userID := uuid.New().String()
	room.members[userID] = models.Participant{
		ID:          userID,
		RoomID:      roomID,
		DisplayName: displayName,
		JoinedAt:    time.Now(),
		Active:      true,
	}
	room.queues[userID] = nil
	return userID, len(room.members), nil
}

func (s *MemoryStore) LeaveRoom(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	delete(room.members, userID)
	delete(room.queues, userID)
	if len(room.members) == 0 {
		delete(s.rooms, roomID)
	}
	return nil
}

func (s *MemoryStore) RoomStatus(_ context.Context, roomID string) (models.RoomMetadata, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return models.RoomMetadata{}, nil, ErrRoomNotFound
	}
	users := make([]string, 0, len(room.members))
	for id := range room.members {
		users = append(users, id)
	}
	return room.meta, users, nil
}

func (s *MemoryStore) AppendSignal(_ context.Context, roomID, senderID string, body models.SignalBody, skip []string) (models.SignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return models.SignalRecord{}, ErrRoomNotFound
	}

	record := models.SignalRecord{
		From:      senderID,
		Signal:    body,
		Timestamp: room.nextTimestamp(),
	}

	skipped := make(map[string]bool, len(skip))
	for _, id := range skip {
		skipped[id] = true
	}

	if body.Target != "" {
		if _, ok := room.members[body.Target]; !ok {
			return models.SignalRecord{}, ErrNotMember
		}
		if !skipped[body.Target] {
			room.queues[body.Target] = append(room.queues[body.Target], record)
		}
		return record, nil
	}
	for id := range room.members {
		if id == senderID || skipped[id] {
			continue
		}
		room.queues[id] = append(room.queues[id], record)
	}
	return record, nil
}

func (s *MemoryStore) SignalsSince(_ context.Context, roomID, userID string, since int64) ([]models.SignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if _, ok := room.members[userID]; !ok {
		return nil, ErrNotMember
	}

	var out []models.SignalRecord
	for _, record := range room.queues[userID] {
		if record.Timestamp > since {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

// nextTimestamp returns the current unix-milli clock, bumped by one when
// two signals land in the same millisecond.
func (r *memoryRoom) nextTimestamp() int64 {
	ts := time.Now().UnixMilli()
	if ts <= r.lastTS {
		ts = r.lastTS + 1
	}
	r.lastTS = ts
	return ts
}
