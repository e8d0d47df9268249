// Package chat layers a reliable-feeling text protocol over the per-peer
// data channels. Each pairwise channel is independent; a broadcast is a
// fan-out over every open channel with per-peer results.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

// channelLabel is the single well-known data channel per peer pair.
const channelLabel = "chat"

// defaultOpenTimeout bounds the wait for the channel's open signal.
const defaultOpenTimeout = 15 * time.Second

// maxRetransmits bounds delivery retries. Ordered but not infinitely
// reliable: under bad networks a message is eventually dropped instead
// of stalling the channel forever.
const maxRetransmits uint16 = 30

// ErrChannelNotOpen reports a send on a peer whose channel is not
// usable yet (or anymore).
var ErrChannelNotOpen = errors.New("chat channel not open")

// ChannelTimeoutError reports that a channel did not open in time. The
// session continues without chat for that peer.
type ChannelTimeoutError struct {
	PeerID  string
	Timeout time.Duration
}

func (e *ChannelTimeoutError) Error() string {
	return fmt.Sprintf("chat channel to %s did not open within %s", e.PeerID, e.Timeout)
}

// Opener creates data channels on an existing peer connection. Satisfied
// by the mesh orchestrator.
type Opener interface {
	CreateDataChannel(peerID, label string, init *webrtc.DataChannelInit) (*webrtc.DataChannel, error)
}

// Listener consumes chat messages as they enter the log, local echoes
// included. Unlike signaling handlers, listeners append: every
// registered listener sees every message.
type Listener func(msg models.ChatMessage)

// wireMessage is the on-channel encoding. IsLocal never travels.
type wireMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Manager owns one chat channel per peer and the session's append-only
// message log. The log survives channel teardown; history is lost only
// with the session itself.
type Manager struct {
	localID     string
	opener      Opener
	logger      *slog.Logger
	openTimeout time.Duration

	mu        sync.Mutex
	channels  map[string]*channel
	log       []models.ChatMessage
	listeners []Listener
}

type channel struct {
	peerID string
	dc     *webrtc.DataChannel
	open   chan struct{}
	once   sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithOpenTimeout overrides the channel-open wait bound.
func WithOpenTimeout(timeout time.Duration) Option {
	return func(m *Manager) { m.openTimeout = timeout }
}

// NewManager creates a chat manager for the given local user id.
func NewManager(localID string, opener Opener, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		localID:     localID,
		opener:      opener,
		logger:      logger,
		openTimeout: defaultOpenTimeout,
		channels:    make(map[string]*channel),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize sets up the chat channel for a peer. The initiating side
// opens the channel (it buffers until the connection is usable) and
// blocks until it opens or the timeout passes, reporting readiness. The
// answering side has nothing to wait on: its channel arrives through
// Accept when the peer's offer lands.
func (m *Manager) Initialize(ctx context.Context, peerID string, initiator bool) (bool, error) {
	if !initiator {
		return false, nil
	}
	if err := m.Open(peerID); err != nil {
		return false, err
	}
	return m.WaitReady(ctx, peerID)
}

// Open creates the outgoing channel for a peer without waiting for it.
// Must be called before the offer is generated so the channel is part of
// the negotiated session. No-op when a channel already exists.
func (m *Manager) Open(peerID string) error {
	m.mu.Lock()
	_, exists := m.channels[peerID]
	m.mu.Unlock()
	if exists {
		return nil
	}

	ordered := true
	retransmits := maxRetransmits
	dc, err := m.opener.CreateDataChannel(peerID, channelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
	})
	if err != nil {
		return fmt.Errorf("opening chat channel to %s: %w", peerID, err)
	}
	m.adopt(peerID, dc)
	return nil
}

// Accept adopts a channel the remote side opened. Channels with foreign
// labels are ignored. Called from the orchestrator's inbound
// data-channel callback.
func (m *Manager) Accept(peerID string, dc *webrtc.DataChannel) {
	if dc.Label() != channelLabel {
		m.logger.Debug("ignoring data channel with foreign label", "peer", peerID, "label", dc.Label())
		return
	}
	m.adopt(peerID, dc)
}

func (m *Manager) adopt(peerID string, dc *webrtc.DataChannel) {
	ch := &channel{peerID: peerID, dc: dc, open: make(chan struct{})}

	dc.OnOpen(func() {
		m.logger.Debug("chat channel open", "peer", peerID)
		ch.once.Do(func() { close(ch.open) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m.handleInbound(peerID, msg.Data)
	})
	dc.OnClose(func() {
		m.logger.Debug("chat channel closed", "peer", peerID)
	})

	m.mu.Lock()
	previous := m.channels[peerID]
	m.channels[peerID] = ch
	m.mu.Unlock()

	// A replaced channel (glare concession) is released; the message log
	// is untouched.
	if previous != nil && previous.dc != dc {
		previous.dc.Close()
	}
}

// WaitReady blocks until the peer's channel opens, the timeout passes or
// ctx is done. Returns whether the channel became usable; timeouts are
// reported as ChannelTimeoutError, not a hang.
func (m *Manager) WaitReady(ctx context.Context, peerID string) (bool, error) {
	m.mu.Lock()
	ch, ok := m.channels[peerID]
	m.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("no chat channel for %s", peerID)
	}

	select {
	case <-ch.open:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(m.openTimeout):
		return false, &ChannelTimeoutError{PeerID: peerID, Timeout: m.openTimeout}
	}
}

// Send delivers one message to a single peer. The local echo enters the
// log synchronously, before anything waits on the network: chat is
// optimistic, not transactional. Fails with ErrChannelNotOpen instead of
// queueing when the channel is not usable.
func (m *Manager) Send(peerID, content string) (models.ChatMessage, error) {
	m.mu.Lock()
	ch, ok := m.channels[peerID]
	m.mu.Unlock()
	if !ok || ch.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return models.ChatMessage{}, ErrChannelNotOpen
	}

	msg := m.newLocalMessage(content)
	m.append(msg)

	if err := ch.dc.Send(mustMarshal(msg)); err != nil {
		return msg, fmt.Errorf("sending to %s: %w", peerID, err)
	}
	return msg, nil
}

// Broadcast sends the same message over every open channel. Results are
// per peer: a broadcast can succeed on some peers and fail on others,
// and the caller sees exactly which. The local log gets one entry no
// matter how many peers there are.
func (m *Manager) Broadcast(content string) (models.ChatMessage, map[string]error) {
	m.mu.Lock()
	channels := make(map[string]*channel, len(m.channels))
	for id, ch := range m.channels {
		channels[id] = ch
	}
	m.mu.Unlock()

	msg := m.newLocalMessage(content)
	m.append(msg)
	data := mustMarshal(msg)

	results := make(map[string]error, len(channels))
	for peerID, ch := range channels {
		if ch.dc.ReadyState() != webrtc.DataChannelStateOpen {
			results[peerID] = ErrChannelNotOpen
			continue
		}
		results[peerID] = ch.dc.Send(data)
	}
	return msg, results
}

// HandleRelayed feeds a chat payload that arrived over the signaling
// channel (fallback when no data channel is usable) into the same
// inbound path.
func (m *Manager) HandleRelayed(senderID string, payload []byte) {
	m.handleInbound(senderID, payload)
}

func (m *Manager) handleInbound(peerID string, data []byte) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil || wire.Content == "" && wire.ID == "" {
		m.logger.Warn("dropping malformed chat payload", "peer", peerID, "error", err)
		return
	}
	sender := wire.Sender
	if sender == "" {
		sender = peerID
	}
	m.append(models.ChatMessage{
		ID:        wire.ID,
		Sender:    sender,
		Content:   wire.Content,
		Timestamp: wire.Timestamp,
		IsLocal:   false,
	})
}

// append adds a message to the log and notifies every listener.
func (m *Manager) append(msg models.ChatMessage) {
	m.mu.Lock()
	m.log = append(m.log, msg)
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener(msg)
	}
}

// AddListener registers an additional message listener. Listeners
// accumulate; registration never replaces.
func (m *Manager) AddListener(listener Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Messages returns a copy of the session's message log in insertion
// order.
func (m *Manager) Messages() []models.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ChatMessage, len(m.log))
	copy(out, m.log)
	return out
}

// ClosePeer closes the peer's channel. The message log keeps its
// history. Idempotent.
func (m *Manager) ClosePeer(peerID string) {
	m.mu.Lock()
	ch, ok := m.channels[peerID]
	if ok {
		delete(m.channels, peerID)
	}
	m.mu.Unlock()
	if ok {
		ch.dc.Close()
	}
}

// CloseAll closes every channel, keeping the log.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	channels := m.channels
	m.channels = make(map[string]*channel)
	m.mu.Unlock()
	for _, ch := range channels {
		ch.dc.Close()
	}
}

func (m *Manager) newLocalMessage(content string) models.ChatMessage {
	return models.ChatMessage{
		ID:        uuid.New().String(),
		Sender:    m.localID,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		IsLocal:   true,
	}
}

func mustMarshal(msg models.ChatMessage) []byte {
	data, err := json.Marshal(wireMessage{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		// wireMessage contains nothing unmarshalable.
		panic(err)
	}
	return data
}
