package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return &RedisStore{client: client}
}

func TestRedisSignalFlow(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	meta, err := s.CreateRoom(ctx, "creator", 4)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	alice, _, err := s.JoinRoom(ctx, meta.ID, "alice")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	bob, _, err := s.JoinRoom(ctx, meta.ID, "bob")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}

	if _, err := s.AppendSignal(ctx, meta.ID, alice, models.SignalBody{Type: models.SignalTypeUserJoined}, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	signals, err := s.SignalsSince(ctx, meta.ID, bob, 0)
	if err != nil || len(signals) != 1 || signals[0].From != alice {
		t.Fatalf("bad delivery: err=%v signals=%+v", err, signals)
	}
	if got, _ := s.SignalsSince(ctx, meta.ID, alice, 0); len(got) != 0 {
		t.Fatalf("sender saw its own broadcast: %+v", got)
	}
}

// TestRedisTimestampsStrictlyIncrease hammers the room clock from many
// goroutines. Two appends landing in the same millisecond must still get
// distinct, ordered timestamps, or a consumer polling between them loses
// the second one.
func TestRedisTimestampsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	meta, _ := s.CreateRoom(ctx, "creator", 4)
	alice, _, err := s.JoinRoom(ctx, meta.ID, "alice")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	bob, _, err := s.JoinRoom(ctx, meta.ID, "bob")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.AppendSignal(ctx, meta.ID, alice, models.SignalBody{Type: models.SignalTypeChat}, nil); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	signals, err := s.SignalsSince(ctx, meta.ID, bob, 0)
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if len(signals) != writers*perWriter {
		t.Fatalf("expected %d signals, got %d", writers*perWriter, len(signals))
	}

	seen := make(map[int64]bool, len(signals))
	var last int64
	for i, record := range signals {
		if seen[record.Timestamp] {
			t.Fatalf("duplicate timestamp %d at index %d", record.Timestamp, i)
		}
		seen[record.Timestamp] = true
		if record.Timestamp <= last {
			t.Fatalf("timestamps not increasing in queue order: %d after %d", record.Timestamp, last)
		}
		last = record.Timestamp
	}
}

func TestRedisLeaveDeletesEmptyRoom(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	meta, _ := s.CreateRoom(ctx, "creator", 4)
	alice, _, _ := s.JoinRoom(ctx, meta.ID, "alice")
	if err := s.LeaveRoom(ctx, meta.ID, alice); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, _, err := s.RoomStatus(ctx, meta.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected room gone, got %v", err)
	}
}
