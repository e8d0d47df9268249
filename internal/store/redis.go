package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

const roomTTL = 24 * time.Hour

// clockScript advances the room clock to max(clock, now)+1 in one atomic
// step. Catching up to wall time keeps timestamps comparable to unix
// milliseconds after idle periods; the +1 keeps them strictly increasing
// even when concurrent appends observe the same millisecond.
var clockScript = redis.NewScript(`
local ts = tonumber(redis.call('GET', KEYS[1]) or '0')
local now = tonumber(ARGV[1])
if now > ts then
	ts = now
end
ts = ts + 1
redis.call('SET', KEYS[1], ts, 'PX', ARGV[2])
return ts
`)

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// RedisStore keeps rooms, membership sets and per-user signal queues in
// Redis. Keys:
//
//	room:<id>            room metadata (JSON)
//	room:<id>:peers      member user ids (set)
//	room:<id>:clock      monotonic timestamp source (INCR)
//	room:<id>:signals:<user>  queued signals, oldest first (list of JSON)
//
// Everything expires after roomTTL so abandoned rooms clean themselves up.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds the connection settings for the Redis backend.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Close closes the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func roomKey(roomID string) string        { return "room:" + roomID }
func peersKey(roomID string) string       { return "room:" + roomID + ":peers" }
func clockKey(roomID string) string       { return "room:" + roomID + ":clock" }
func queueKey(roomID, user string) string { return "room:" + roomID + ":signals:" + user }

func (s *RedisStore) CreateRoom(ctx context.Context, creatorID string, maxPeers int) (models.RoomMetadata, error) {
	if maxPeers <= 0 {
		maxPeers = defaultMaxPeers
	}

	meta := models.RoomMetadata{
		ID:        uuid.New().String(),
		CreatorID: creatorID,
		CreatedAt: time.Now(),
		Active:    true,
		MaxPeers:  maxPeers,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return models.RoomMetadata{}, fmt.Errorf("marshaling room metadata: %w", err)
	}
	if err := s.client.Set(ctx, roomKey(meta.ID), data, roomTTL).Err(); err != nil {
		return models.RoomMetadata{}, fmt.Errorf("storing room: %w", err)
	}
	return meta, nil
}

func (s *RedisStore) getRoom(ctx context.Context, roomID string) (models.RoomMetadata, error) {
	data, err := s.client.Get(ctx, roomKey(roomID)).Result()
	if err == redis.Nil {
		return models.RoomMetadata{}, ErrRoomNotFound
	}
	if err != nil {
		return models.RoomMetadata{}, fmt.Errorf("fetching room: %w", err)
	}
	var meta models.RoomMetadata
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return models.RoomMetadata{}, fmt.Errorf("parsing room metadata: %w", err)
	}
	return meta, nil
}

func (s *RedisStore) JoinRoom(ctx context.Context, roomID, displayName string) (string, int, error) {
	meta, err := s.getRoom(ctx, roomID)
	if err != nil {
		return "", 0, err
	}
	if !meta.Active {
		return "", 0, ErrRoomClosed
	}

	count, err := s.client.SCard(ctx, peersKey(roomID)).Result()
	if err != nil {
		return "", 0, fmt.Errorf("counting members: %w", err)
	}
	if int(count) >= meta.MaxPeers {
		return "", 0, ErrRoomFull
	}

	userID := uuid.New().String()
	if err := s.client.SAdd(ctx, peersKey(roomID), userID).Err(); err != nil {
		return "", 0, fmt.Errorf("adding member: %w", err)
	}
	s.client.Expire(ctx, peersKey(roomID), roomTTL)
	_ = displayName // not persisted; the signaling layer carries names in message data

	return userID, int(count) + 1, nil
}

func (s *RedisStore) LeaveRoom(ctx context.Context, roomID, userID string) error {
	if err := s.client.SRem(ctx, peersKey(roomID), userID).Err(); err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	s.client.Del(ctx, queueKey(roomID, userID))

	remaining, err := s.client.SCard(ctx, peersKey(roomID)).Result()
	if err == nil && remaining == 0 {
		return s.DeleteRoom(ctx, roomID)
	}
	return nil
}

func (s *RedisStore) RoomStatus(ctx context.Context, roomID string) (models.RoomMetadata, []string, error) {
	meta, err := s.getRoom(ctx, roomID)
	if err != nil {
		return models.RoomMetadata{}, nil, err
	}
	users, err := s.client.SMembers(ctx, peersKey(roomID)).Result()
	if err != nil {
		return models.RoomMetadata{}, nil, fmt.Errorf("listing members: %w", err)
	}
	return meta, users, nil
}

func (s *RedisStore) AppendSignal(ctx context.Context, roomID, senderID string, body models.SignalBody, skip []string) (models.SignalRecord, error) {
	members, err := s.client.SMembers(ctx, peersKey(roomID)).Result()
	if err != nil {
		return models.SignalRecord{}, fmt.Errorf("listing members: %w", err)
	}
	if len(members) == 0 {
		return models.SignalRecord{}, ErrRoomNotFound
	}

	ts, err := clockScript.Run(ctx, s.client, []string{clockKey(roomID)},
		time.Now().UnixMilli(), roomTTL.Milliseconds()).Int64()
	if err != nil {
		return models.SignalRecord{}, fmt.Errorf("advancing room clock: %w", err)
	}

	record := models.SignalRecord{From: senderID, Signal: body, Timestamp: ts}
	data, err := json.Marshal(record)
	if err != nil {
		return models.SignalRecord{}, fmt.Errorf("marshaling signal: %w", err)
	}

	skipped := make(map[string]bool, len(skip))
	for _, id := range skip {
		skipped[id] = true
	}

	isMember := func(id string) bool {
		for _, m := range members {
			if m == id {
				return true
			}
		}
		return false
	}

	if body.Target != "" {
		if !isMember(body.Target) {
			return models.SignalRecord{}, ErrNotMember
		}
		if skipped[body.Target] {
			return record, nil
		}
		return record, s.pushSignal(ctx, roomID, body.Target, data)
	}
	for _, id := range members {
		if id == senderID || skipped[id] {
			continue
		}
		if err := s.pushSignal(ctx, roomID, id, data); err != nil {
			return models.SignalRecord{}, err
		}
	}
	return record, nil
}

func (s *RedisStore) pushSignal(ctx context.Context, roomID, userID string, data []byte) error {
	key := queueKey(roomID, userID)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("queueing signal for %s: %w", userID, err)
	}
	s.client.Expire(ctx, key, roomTTL)
	return nil
}

func (s *RedisStore) SignalsSince(ctx context.Context, roomID, userID string, since int64) ([]models.SignalRecord, error) {
	member, err := s.client.SIsMember(ctx, peersKey(roomID), userID).Result()
	if err != nil {
		return nil, fmt.Errorf("checking membership: %w", err)
	}
	if !member {
		return nil, ErrNotMember
	}

	raw, err := s.client.LRange(ctx, queueKey(roomID, userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading signal queue: %w", err)
	}
	var out []models.SignalRecord
	for _, item := range raw {
		var record models.SignalRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			continue // malformed entries are skipped, not fatal
		}
		if record.Timestamp > since {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	users, _ := s.client.SMembers(ctx, peersKey(roomID)).Result()
	for _, id := range users {
		s.client.Del(ctx, queueKey(roomID, id))
	}
	s.client.Del(ctx, roomKey(roomID), peersKey(roomID), clockKey(roomID))
	return nil
}
