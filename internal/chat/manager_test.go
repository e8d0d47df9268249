package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pcOpener backs channel creation with a real but never-connected
// PeerConnection, so channels exist without ever opening.
type pcOpener struct {
	pc *webrtc.PeerConnection
}

func newPCOpener(t *testing.T) *pcOpener {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("peer connection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	return &pcOpener{pc: pc}
}

func (o *pcOpener) CreateDataChannel(_, label string, init *webrtc.DataChannelInit) (*webrtc.DataChannel, error) {
	return o.pc.CreateDataChannel(label, init)
}

func TestSendWithoutChannel(t *testing.T) {
	m := NewManager("me", newPCOpener(t), testLogger())
	if _, err := m.Send("nobody", "hi"); !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("expected ErrChannelNotOpen, got %v", err)
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	m := NewManager("me", newPCOpener(t), testLogger(), WithOpenTimeout(50*time.Millisecond))
	if err := m.Open("peer"); err != nil {
		t.Fatalf("open: %v", err)
	}

	ready, err := m.WaitReady(context.Background(), "peer")
	if ready {
		t.Fatal("channel cannot be ready without a connection")
	}
	var timeoutErr *ChannelTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected ChannelTimeoutError, got %v", err)
	}
	if timeoutErr.PeerID != "peer" {
		t.Fatalf("wrong peer in error: %q", timeoutErr.PeerID)
	}
}

func TestInitializeNonInitiatorReturnsImmediately(t *testing.T) {
	m := NewManager("me", newPCOpener(t), testLogger(), WithOpenTimeout(5*time.Second))

	start := time.Now()
	ready, err := m.Initialize(context.Background(), "peer", false)
	if err != nil || ready {
		t.Fatalf("non-initiator: ready=%v err=%v", ready, err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("non-initiator path must not wait")
	}
}

func TestBroadcastWithNoChannelsStillEchoes(t *testing.T) {
	m := NewManager("me", newPCOpener(t), testLogger())

	msg, results := m.Broadcast("hello")
	if len(results) != 0 {
		t.Fatalf("expected no per-peer results, got %v", results)
	}
	if !msg.IsLocal || msg.Sender != "me" || msg.Content != "hello" {
		t.Fatalf("bad local echo: %+v", msg)
	}

	history := m.Messages()
	if len(history) != 1 || history[0].ID != msg.ID {
		t.Fatalf("echo missing from log: %+v", history)
	}
}

func TestListenersAccumulate(t *testing.T) {
	m := NewManager("me", newPCOpener(t), testLogger())

	var first, second []models.ChatMessage
	m.AddListener(func(msg models.ChatMessage) { first = append(first, msg) })
	m.AddListener(func(msg models.ChatMessage) { second = append(second, msg) })

	m.Broadcast("one")
	m.HandleRelayed("peer", []byte(`{"id":"x","sender":"peer","content":"two","timestamp":10}`))

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("every listener sees every message: first=%d second=%d", len(first), len(second))
	}
	if !first[0].IsLocal || first[1].IsLocal {
		t.Fatalf("origin flags wrong: %+v", first)
	}
}

func TestMalformedInboundDropped(t *testing.T) {
	m := NewManager("me", newPCOpener(t), testLogger())

	m.HandleRelayed("peer", []byte(`{not json`))
	m.HandleRelayed("peer", []byte(`{}`))

	if got := m.Messages(); len(got) != 0 {
		t.Fatalf("malformed payloads entered the log: %+v", got)
	}
}

func TestInboundSenderFallsBackToPeerID(t *testing.T) {
	m := NewManager("me", newPCOpener(t), testLogger())
	m.HandleRelayed("peer-7", []byte(`{"id":"x","content":"hi","timestamp":10}`))

	history := m.Messages()
	if len(history) != 1 || history[0].Sender != "peer-7" {
		t.Fatalf("sender fallback broken: %+v", history)
	}
}

func TestAcceptIgnoresForeignLabels(t *testing.T) {
	opener := newPCOpener(t)
	m := NewManager("me", opener, testLogger())

	dc, err := opener.pc.CreateDataChannel("file-transfer", nil)
	if err != nil {
		t.Fatalf("data channel: %v", err)
	}
	m.Accept("peer", dc)

	if _, err := m.Send("peer", "hi"); !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("foreign-label channel was adopted: %v", err)
	}
}

func TestHistorySurvivesClose(t *testing.T) {
	m := NewManager("me", newPCOpener(t), testLogger())
	if err := m.Open("peer"); err != nil {
		t.Fatalf("open: %v", err)
	}
	m.Broadcast("before close")

	m.ClosePeer("peer")
	m.CloseAll()

	if got := m.Messages(); len(got) != 1 || got[0].Content != "before close" {
		t.Fatalf("history lost on teardown: %+v", got)
	}
	// Closing again is harmless.
	m.ClosePeer("peer")
}
