// Package client ties the signaling coordinator, the peer mesh and the
// chat manager into a single room session. It owns the event plumbing
// between the three so applications only register UI callbacks and call
// Join, SendChat and Leave.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-mesh/internal/chat"
	"github.com/mossy-p/webrtc-mesh/internal/mesh"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/signaling"
)

// Session is one participant's presence in one room. Construct with
// NewSession, register callbacks, then Join. A session is single-use:
// after Leave it cannot be rejoined.
type Session struct {
	logger       *slog.Logger
	coord        *signaling.Coordinator
	iceServers   []webrtc.ICEServer
	chatTimeout  time.Duration
	pollInterval time.Duration

	mu     sync.Mutex
	mesh   *mesh.Orchestrator
	chat   *chat.Manager
	joined bool
	roomID string
	userID string
	tracks []webrtc.TrackLocal

	onTrack             func(peerID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onPeerConnected     func(peerID string)
	onPeerDisconnected  func(peerID string)
	onChatMessage       func(msg models.ChatMessage)
	onRoomStatusChanged func(status models.RoomStatusResult)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithICEServers sets the STUN/TURN servers used for every peer
// connection in the mesh.
func WithICEServers(servers []webrtc.ICEServer) SessionOption {
	return func(s *Session) { s.iceServers = servers }
}

// WithChatTimeout bounds the wait for a chat channel to open.
func WithChatTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) { s.chatTimeout = timeout }
}

// WithPollInterval sets the signaling poll interval for transports
// without push delivery.
func WithPollInterval(interval time.Duration) SessionOption {
	return func(s *Session) { s.pollInterval = interval }
}

// NewSession creates a session over the given signaling transport.
func NewSession(transport signaling.Transport, logger *slog.Logger, opts ...SessionOption) *Session {
	s := &Session{logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	var coordOpts []signaling.Option
	if s.pollInterval > 0 {
		coordOpts = append(coordOpts, signaling.WithPollInterval(s.pollInterval))
	}
	s.coord = signaling.NewCoordinator(transport, logger, coordOpts...)
	return s
}

// OnTrack registers the remote media callback. Register before Join.
func (s *Session) OnTrack(fn func(peerID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	s.onTrack = fn
}

// OnPeerConnected fires when a peer's transport reaches the connected
// state, once per connection establishment.
func (s *Session) OnPeerConnected(fn func(peerID string)) {
	s.onPeerConnected = fn
}

// OnPeerDisconnected fires when a peer leaves the room or its transport
// fails. May fire more than once for the same peer.
func (s *Session) OnPeerDisconnected(fn func(peerID string)) {
	s.onPeerDisconnected = fn
}

// OnChatMessage fires for every chat message entering the session log,
// local echoes included.
func (s *Session) OnChatMessage(fn func(msg models.ChatMessage)) {
	s.onChatMessage = fn
}

// OnRoomStatusChanged fires with the room's refreshed membership after a
// participant joins or leaves. At-least-once signaling means it can fire
// more than once for the same change.
func (s *Session) OnRoomStatusChanged(fn func(status models.RoomStatusResult)) {
	s.onRoomStatusChanged = fn
}

// AttachLocalTracks registers media tracks to offer to every peer.
// Tracks attached before Join are included in initial negotiations.
func (s *Session) AttachLocalTracks(tracks ...webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		return s.mesh.AttachLocalTracks(tracks...)
	}
	s.tracks = append(s.tracks, tracks...)
	return nil
}

// Join enters the room and starts reacting to signaling. Existing
// participants will be connected to as their offers arrive; participants
// joining later are offered to by this side.
func (s *Session) Join(ctx context.Context, roomID, displayName string) error {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return fmt.Errorf("already in room %s", s.roomID)
	}
	s.mu.Unlock()

	// Handlers are registered before the join so nothing delivered
	// during startup is dropped on the floor.
	s.coord.On(models.SignalTypeUserJoined, s.handleUserJoined)
	s.coord.On(models.SignalTypeOffer, s.handleOffer)
	s.coord.On(models.SignalTypeAnswer, s.handleAnswer)
	s.coord.On(models.SignalTypeCandidate, s.handleCandidate)
	s.coord.On(models.SignalTypeUserLeft, s.handleUserLeft)
	s.coord.On(models.SignalTypeChat, s.handleRelayedChat)

	info, err := s.coord.JoinRoom(ctx, roomID, displayName)
	if err != nil {
		return err
	}

	orchestrator := mesh.NewOrchestrator(info.UserID, s.iceServers, s.logger)
	var chatOpts []chat.Option
	if s.chatTimeout > 0 {
		chatOpts = append(chatOpts, chat.WithOpenTimeout(s.chatTimeout))
	}
	manager := chat.NewManager(info.UserID, orchestrator, s.logger, chatOpts...)
	if s.onChatMessage != nil {
		manager.AddListener(s.onChatMessage)
	}

	orchestrator.OnCandidate(func(peerID string, candidate webrtc.ICECandidateInit) {
		data, err := json.Marshal(candidate)
		if err != nil {
			return
		}
		if err := s.coord.Send(context.Background(), models.SignalTypeCandidate, data, peerID); err != nil {
			s.logger.Warn("sending ice candidate", "peer", peerID, "error", err)
		}
	})
	orchestrator.OnDataChannel(manager.Accept)
	if s.onTrack != nil {
		orchestrator.OnTrack(s.onTrack)
	}
	if s.onPeerConnected != nil {
		orchestrator.OnConnected(s.onPeerConnected)
	}
	orchestrator.OnDisconnect(func(peerID string) {
		s.logger.Info("peer transport lost", "peer", peerID)
		if s.onPeerDisconnected != nil {
			s.onPeerDisconnected(peerID)
		}
	})

	s.mu.Lock()
	s.mesh = orchestrator
	s.chat = manager
	s.joined = true
	s.roomID = roomID
	s.userID = info.UserID
	tracks := s.tracks
	s.mu.Unlock()

	if len(tracks) > 0 {
		if err := orchestrator.AttachLocalTracks(tracks...); err != nil {
			s.logger.Warn("attaching local tracks", "error", err)
		}
	}
	s.logger.Info("joined room", "room", roomID, "user", info.UserID, "participants", info.Participants)
	return nil
}

// handleUserJoined starts negotiation toward the newcomer. Only the
// existing side initiates; the newcomer waits for offers, which keeps
// both sides from offering at once on every join.
func (s *Session) handleUserJoined(msg models.SignalMessage) {
	peerID := msg.Sender
	s.mu.Lock()
	orchestrator, manager := s.mesh, s.chat
	s.mu.Unlock()
	if orchestrator == nil {
		return
	}
	s.notifyRoomStatus()

	// The chat channel must exist before the offer so it rides the same
	// negotiation instead of forcing a second one.
	if err := manager.Open(peerID); err != nil {
		s.logger.Warn("opening chat channel", "peer", peerID, "error", err)
	}
	offer, err := orchestrator.CreateOffer(peerID)
	if err != nil {
		s.logger.Error("creating offer", "peer", peerID, "error", err)
		return
	}
	s.sendDescription(models.SignalTypeOffer, peerID, offer)
}

func (s *Session) handleOffer(msg models.SignalMessage) {
	peerID := msg.Sender
	s.mu.Lock()
	orchestrator := s.mesh
	s.mu.Unlock()
	if orchestrator == nil {
		return
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Data, &offer); err != nil {
		s.logger.Warn("dropping malformed offer", "peer", peerID, "error", err)
		return
	}
	answer, err := orchestrator.HandleOffer(peerID, offer)
	if errors.Is(err, mesh.ErrOfferIgnored) {
		// Simultaneous offers and this side holds on; the peer answers
		// ours instead.
		s.logger.Debug("ignored colliding offer", "peer", peerID)
		return
	}
	if err != nil {
		s.logger.Error("handling offer", "peer", peerID, "error", err)
		return
	}
	s.sendDescription(models.SignalTypeAnswer, peerID, answer)
}

func (s *Session) handleAnswer(msg models.SignalMessage) {
	peerID := msg.Sender
	s.mu.Lock()
	orchestrator := s.mesh
	s.mu.Unlock()
	if orchestrator == nil {
		return
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Data, &answer); err != nil {
		s.logger.Warn("dropping malformed answer", "peer", peerID, "error", err)
		return
	}
	if err := orchestrator.HandleAnswer(peerID, answer); err != nil {
		s.logger.Error("handling answer", "peer", peerID, "error", err)
	}
}

func (s *Session) handleCandidate(msg models.SignalMessage) {
	peerID := msg.Sender
	s.mu.Lock()
	orchestrator := s.mesh
	s.mu.Unlock()
	if orchestrator == nil {
		return
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Data, &candidate); err != nil {
		s.logger.Warn("dropping malformed candidate", "peer", peerID, "error", err)
		return
	}
	if err := orchestrator.AddCandidate(peerID, candidate); err != nil {
		s.logger.Warn("adding ice candidate", "peer", peerID, "error", err)
	}
}

func (s *Session) handleUserLeft(msg models.SignalMessage) {
	peerID := msg.Sender
	s.mu.Lock()
	orchestrator, manager := s.mesh, s.chat
	s.mu.Unlock()
	if orchestrator == nil {
		return
	}

	s.logger.Info("peer left room", "peer", peerID)
	manager.ClosePeer(peerID)
	orchestrator.ClosePeer(peerID)
	if s.onPeerDisconnected != nil {
		s.onPeerDisconnected(peerID)
	}
	s.notifyRoomStatus()
}

// notifyRoomStatus refreshes the membership from the transport and hands
// it to the registered callback.
func (s *Session) notifyRoomStatus() {
	if s.onRoomStatusChanged == nil {
		return
	}
	status, err := s.coord.RoomStatus(context.Background())
	if err != nil || !status.Success {
		s.logger.Warn("fetching room status", "error", err, "reason", status.Error)
		return
	}
	s.onRoomStatusChanged(status)
}

// handleRelayedChat accepts chat payloads that arrived over signaling
// rather than a data channel.
func (s *Session) handleRelayedChat(msg models.SignalMessage) {
	s.mu.Lock()
	manager := s.chat
	s.mu.Unlock()
	if manager != nil {
		manager.HandleRelayed(msg.Sender, msg.Data)
	}
}

func (s *Session) sendDescription(signalType models.SignalType, peerID string, desc webrtc.SessionDescription) {
	data, err := json.Marshal(desc)
	if err != nil {
		return
	}
	if err := s.coord.Send(context.Background(), signalType, data, peerID); err != nil {
		s.logger.Error("sending session description", "type", signalType, "peer", peerID, "error", err)
	}
}

// SendChat broadcasts a message to every connected peer. The returned
// message is the local echo; the map holds one result per peer so
// partial failures stay visible.
func (s *Session) SendChat(content string) (models.ChatMessage, map[string]error) {
	s.mu.Lock()
	manager := s.chat
	s.mu.Unlock()
	if manager == nil {
		return models.ChatMessage{}, nil
	}
	return manager.Broadcast(content)
}

// SendChatTo sends a message to a single peer.
func (s *Session) SendChatTo(peerID, content string) (models.ChatMessage, error) {
	s.mu.Lock()
	manager := s.chat
	s.mu.Unlock()
	if manager == nil {
		return models.ChatMessage{}, fmt.Errorf("not joined")
	}
	return manager.Send(peerID, content)
}

// WaitChatReady blocks until the chat channel to peerID is usable or the
// configured timeout passes.
func (s *Session) WaitChatReady(ctx context.Context, peerID string) (bool, error) {
	s.mu.Lock()
	manager := s.chat
	s.mu.Unlock()
	if manager == nil {
		return false, fmt.Errorf("not joined")
	}
	return manager.WaitReady(ctx, peerID)
}

// ChatHistory returns the session's message log in insertion order.
func (s *Session) ChatHistory() []models.ChatMessage {
	s.mu.Lock()
	manager := s.chat
	s.mu.Unlock()
	if manager == nil {
		return nil
	}
	return manager.Messages()
}

// UserID returns the server-assigned identity, empty before Join.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// RoomID returns the joined room, empty before Join.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Peers returns the ids of every peer the mesh currently tracks.
func (s *Session) Peers() []string {
	s.mu.Lock()
	orchestrator := s.mesh
	s.mu.Unlock()
	if orchestrator == nil {
		return nil
	}
	return orchestrator.PeerIDs()
}

// PeerState reports the connection state for one peer.
func (s *Session) PeerState(peerID string) mesh.State {
	s.mu.Lock()
	orchestrator := s.mesh
	s.mu.Unlock()
	if orchestrator == nil {
		return mesh.StateClosed
	}
	return orchestrator.State(peerID)
}

// Leave tears the session down: signaling first so peers hear about the
// departure, then every peer connection. Chat history stays readable.
// Idempotent.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return nil
	}
	s.joined = false
	orchestrator, manager := s.mesh, s.chat
	s.mu.Unlock()

	err := s.coord.LeaveRoom(ctx)
	manager.CloseAll()
	orchestrator.CloseAll()
	s.logger.Info("left room", "room", s.RoomID())
	return err
}
