package client_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/client"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/signaling"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestTwoPartySession drives the whole stack in-process: room join over
// the in-memory transport, offer/answer negotiation, trickled ICE over
// loopback, data channel establishment and a chat round trip.
func TestTwoPartySession(t *testing.T) {
	if testing.Short() {
		t.Skip("establishes real peer connections")
	}

	transport := signaling.NewMemoryTransport()
	created, err := transport.CreateRoom(context.Background(), 4)
	if err != nil || !created.Success {
		t.Fatalf("create room: %v %+v", err, created)
	}

	newSession := func() *client.Session {
		return client.NewSession(transport, testLogger(),
			client.WithPollInterval(20*time.Millisecond),
			client.WithChatTimeout(10*time.Second),
		)
	}

	aliceConnected := make(chan string, 1)
	bobConnected := make(chan string, 1)
	bobInbox := make(chan models.ChatMessage, 4)

	alice := newSession()
	alice.OnPeerConnected(func(peerID string) {
		select {
		case aliceConnected <- peerID:
		default:
		}
	})

	bob := newSession()
	bob.OnPeerConnected(func(peerID string) {
		select {
		case bobConnected <- peerID:
		default:
		}
	})
	bob.OnChatMessage(func(msg models.ChatMessage) {
		if !msg.IsLocal {
			bobInbox <- msg
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := alice.Join(ctx, created.RoomID, "alice"); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	defer alice.Leave(context.Background())

	if err := bob.Join(ctx, created.RoomID, "bob"); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	defer bob.Leave(context.Background())

	var alicePeer, bobPeer string
	select {
	case bobPeer = <-aliceConnected:
	case <-ctx.Done():
		t.Fatal("alice never reached connected")
	}
	select {
	case alicePeer = <-bobConnected:
	case <-ctx.Done():
		t.Fatal("bob never reached connected")
	}
	if bobPeer != bob.UserID() || alicePeer != alice.UserID() {
		t.Fatalf("peer ids crossed: alice saw %s, bob saw %s", bobPeer, alicePeer)
	}

	// Alice opened the channel; wait until it is usable end to end.
	ready, err := alice.WaitChatReady(ctx, bob.UserID())
	if err != nil || !ready {
		t.Fatalf("chat channel not ready: ready=%v err=%v", ready, err)
	}

	echo, results := alice.SendChat("hello mesh")
	if err := results[bob.UserID()]; err != nil {
		t.Fatalf("send to bob failed: %v", err)
	}
	if !echo.IsLocal || echo.Sender != alice.UserID() {
		t.Fatalf("bad local echo: %+v", echo)
	}

	select {
	case msg := <-bobInbox:
		if msg.Content != "hello mesh" || msg.Sender != alice.UserID() || msg.IsLocal {
			t.Fatalf("bob received wrong message: %+v", msg)
		}
	case <-ctx.Done():
		t.Fatal("chat message never arrived")
	}

	// The echo is already in alice's history, network or not.
	history := alice.ChatHistory()
	if len(history) == 0 || history[0].ID != echo.ID {
		t.Fatalf("local echo missing from history: %+v", history)
	}
}

// TestRoomStatusChangeNotifications asserts the membership callback
// fires with refreshed counts as peers come and go.
func TestRoomStatusChangeNotifications(t *testing.T) {
	transport := signaling.NewMemoryTransport()
	created, err := transport.CreateRoom(context.Background(), 4)
	if err != nil || !created.Success {
		t.Fatalf("create room: %v %+v", err, created)
	}

	statuses := make(chan models.RoomStatusResult, 8)
	watcher := client.NewSession(transport, testLogger(),
		client.WithPollInterval(20*time.Millisecond))
	watcher.OnRoomStatusChanged(func(status models.RoomStatusResult) {
		statuses <- status
	})
	if err := watcher.Join(context.Background(), created.RoomID, "watcher"); err != nil {
		t.Fatalf("watcher join: %v", err)
	}
	defer watcher.Leave(context.Background())

	visitor := client.NewSession(transport, testLogger(),
		client.WithPollInterval(20*time.Millisecond))
	if err := visitor.Join(context.Background(), created.RoomID, "visitor"); err != nil {
		t.Fatalf("visitor join: %v", err)
	}

	waitForCount := func(want int) models.RoomStatusResult {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case status := <-statuses:
				if status.Participants == want {
					return status
				}
			case <-deadline:
				t.Fatalf("no status with %d participants observed", want)
			}
		}
	}

	joined := waitForCount(2)
	var sawVisitor bool
	for _, id := range joined.Users {
		if id == visitor.UserID() {
			sawVisitor = true
		}
	}
	if !sawVisitor {
		t.Fatalf("visitor missing from membership: %+v", joined.Users)
	}

	if err := visitor.Leave(context.Background()); err != nil {
		t.Fatalf("visitor leave: %v", err)
	}
	waitForCount(1)
}

// TestLeaveIsIdempotent covers teardown: a second leave is a no-op and
// chat history survives the session's channels going away.
func TestLeaveIsIdempotent(t *testing.T) {
	transport := signaling.NewMemoryTransport()
	created, err := transport.CreateRoom(context.Background(), 4)
	if err != nil || !created.Success {
		t.Fatalf("create room: %v %+v", err, created)
	}

	session := client.NewSession(transport, testLogger(),
		client.WithPollInterval(20*time.Millisecond))
	if err := session.Join(context.Background(), created.RoomID, "solo"); err != nil {
		t.Fatalf("join: %v", err)
	}

	session.SendChat("note to self")

	if err := session.Leave(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := session.Leave(context.Background()); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	if got := session.ChatHistory(); len(got) != 1 {
		t.Fatalf("history lost on leave: %+v", got)
	}
}
