// Package mesh drives the full-mesh peer connection topology: one
// connection record per remote participant, each with its own
// offer/answer/ICE state machine.
package mesh

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Orchestrator owns every peer connection of the local participant.
// Records are created lazily on first signaling contact and destroyed on
// leave or disconnect. The orchestrator never touches the signaling
// transport itself; generated offers, answers and candidates are handed
// back to the caller (or surfaced through OnCandidate) for delivery.
type Orchestrator struct {
	localID string
	logger  *slog.Logger
	api     *webrtc.API
	config  webrtc.Configuration

	mu          sync.Mutex
	peers       map[string]*peer
	localTracks []webrtc.TrackLocal
	closed      bool

	onTrack       func(peerID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onCandidate   func(peerID string, candidate webrtc.ICECandidateInit)
	onConnected   func(peerID string)
	onDisconnect  func(peerID string)
	onDataChannel func(peerID string, dc *webrtc.DataChannel)
}

// NewOrchestrator creates an orchestrator for the given local user id.
// iceServers may be empty, leaving host candidates only — enough for
// same-machine and same-LAN use, and what the tests rely on.
func NewOrchestrator(localID string, iceServers []webrtc.ICEServer, logger *slog.Logger) *Orchestrator {
	// Loopback candidates are disabled by default in pion; enabling them
	// keeps single-machine sessions and the test suite working.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	return &Orchestrator{
		localID: localID,
		logger:  logger,
		api:     webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		config:  webrtc.Configuration{ICEServers: iceServers},
		peers:   make(map[string]*peer),
	}
}

// OnTrack registers the remote-track callback.
func (o *Orchestrator) OnTrack(fn func(peerID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	o.onTrack = fn
}

// OnCandidate registers the callback for locally gathered ICE
// candidates; the caller forwards them to signaling.
func (o *Orchestrator) OnCandidate(fn func(peerID string, candidate webrtc.ICECandidateInit)) {
	o.onCandidate = fn
}

// OnConnected registers the callback fired when a peer reaches the
// connected state.
func (o *Orchestrator) OnConnected(fn func(peerID string)) {
	o.onConnected = fn
}

// OnDisconnect registers the callback fired when an established peer
// drops.
func (o *Orchestrator) OnDisconnect(fn func(peerID string)) {
	o.onDisconnect = fn
}

// OnDataChannel registers the callback for data channels opened by the
// remote side.
func (o *Orchestrator) OnDataChannel(fn func(peerID string, dc *webrtc.DataChannel)) {
	o.onDataChannel = fn
}

// CreateOffer creates the connection record for peerID if absent,
// generates a local session description and moves the record to
// negotiating. The returned description must be delivered to the peer as
// a unicast offer. On failure the record stays in its previous state.
func (o *Orchestrator) CreateOffer(peerID string) (webrtc.SessionDescription, error) {
	p, err := o.getOrCreatePeer(peerID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{PeerID: peerID, Op: "create offer", Err: err}
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{PeerID: peerID, Op: "set local description", Err: err}
	}

	p.state = StateNegotiating
	p.offerPending = true
	o.logger.Debug("offer created", "peer", peerID)
	return offer, nil
}

// HandleOffer applies a remote offer and returns the local answer for
// unicast delivery. The record is created if this is the first contact
// with the peer. If our own offer to this peer is still in flight, glare
// is resolved deterministically: the lexicographically lower user id
// concedes, drops its pending offer and answers; the higher one keeps
// its offer, and ErrOfferIgnored tells the caller not to answer.
func (o *Orchestrator) HandleOffer(peerID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	p, err := o.getOrCreatePeer(peerID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if p.offerPending {
		if o.localID > peerID {
			return webrtc.SessionDescription{}, ErrOfferIgnored
		}
		o.logger.Debug("glare: conceding to remote offer", "peer", peerID)
		if err := o.resetPeerLocked(p); err != nil {
			return webrtc.SessionDescription{}, &NegotiationError{PeerID: peerID, Op: "glare reset", Err: err}
		}
	}

	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{PeerID: peerID, Op: "set remote offer", Err: err}
	}
	o.flushCandidatesLocked(p)

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{PeerID: peerID, Op: "create answer", Err: err}
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{PeerID: peerID, Op: "set local answer", Err: err}
	}

	p.state = StateNegotiating
	o.logger.Debug("offer answered", "peer", peerID)
	return answer, nil
}

// HandleAnswer completes a negotiation this side initiated. Candidates
// buffered while the offer was in flight are flushed in arrival order
// immediately after the remote description is applied.
func (o *Orchestrator) HandleAnswer(peerID string, answer webrtc.SessionDescription) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.peers[peerID]
	if !ok {
		return &NegotiationError{PeerID: peerID, Op: "apply answer", Err: fmt.Errorf("no connection record")}
	}
	if !p.offerPending {
		return &NegotiationError{PeerID: peerID, Op: "apply answer", Err: fmt.Errorf("no offer in flight")}
	}

	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return &NegotiationError{PeerID: peerID, Op: "set remote answer", Err: err}
	}
	p.offerPending = false
	o.flushCandidatesLocked(p)
	o.logger.Debug("answer applied", "peer", peerID)
	return nil
}

// AddCandidate applies a remote ICE candidate, or buffers it FIFO when
// the peer's remote description is not set yet. Candidates are never
// reordered relative to each other.
func (o *Orchestrator) AddCandidate(peerID string, candidate webrtc.ICECandidateInit) error {
	p, err := o.getOrCreatePeer(peerID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, candidate)
		return nil
	}
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return &NegotiationError{PeerID: peerID, Op: "add candidate", Err: err}
	}
	return nil
}

// flushCandidatesLocked applies the buffered candidates in arrival
// order. A candidate the connection rejects is logged and skipped; one
// bad candidate must not abort the rest.
func (o *Orchestrator) flushCandidatesLocked(p *peer) {
	for _, candidate := range p.pending {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			o.logger.Warn("buffered candidate rejected", "peer", p.id, "error", err)
		}
	}
	p.pending = nil
}

// AttachLocalTracks adds every given track to all existing connections
// and remembers them for connections created later. The tracks are
// shared read-only across records.
func (o *Orchestrator) AttachLocalTracks(tracks ...webrtc.TrackLocal) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.localTracks = append(o.localTracks, tracks...)
	for _, p := range o.peers {
		for _, track := range tracks {
			sender, err := p.pc.AddTrack(track)
			if err != nil {
				return &NegotiationError{PeerID: p.id, Op: "add track", Err: err}
			}
			p.senders = append(p.senders, sender)
		}
	}
	return nil
}

// ReplaceLocalTrack swaps the attached track of the same kind on every
// connection without renegotiating (camera or microphone switch).
func (o *Orchestrator) ReplaceLocalTrack(track webrtc.TrackLocal) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, existing := range o.localTracks {
		if existing.Kind() == track.Kind() {
			o.localTracks[i] = track
		}
	}
	for _, p := range o.peers {
		for _, sender := range p.senders {
			current := sender.Track()
			if current == nil || current.Kind() != track.Kind() {
				continue
			}
			if err := sender.ReplaceTrack(track); err != nil {
				return &NegotiationError{PeerID: p.id, Op: "replace track", Err: err}
			}
		}
	}
	return nil
}

// CreateDataChannel opens a data channel on the peer's connection,
// creating the record if absent. Called by the chat layer before the
// offer is generated so the channel is negotiated in-band.
func (o *Orchestrator) CreateDataChannel(peerID, label string, init *webrtc.DataChannelInit) (*webrtc.DataChannel, error) {
	p, err := o.getOrCreatePeer(peerID)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	dc, err := p.pc.CreateDataChannel(label, init)
	if err != nil {
		return nil, &NegotiationError{PeerID: peerID, Op: "create data channel", Err: err}
	}
	return dc, nil
}

// State returns the connection state for a peer, StateClosed when no
// record exists.
func (o *Orchestrator) State(peerID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.peers[peerID]; ok {
		return p.state
	}
	return StateClosed
}

// PeerIDs returns the ids of all current connection records.
func (o *Orchestrator) PeerIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.peers))
	for id := range o.peers {
		ids = append(ids, id)
	}
	return ids
}

// BufferedCandidates returns how many candidates are queued for a peer
// awaiting its remote description.
func (o *Orchestrator) BufferedCandidates(peerID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.peers[peerID]; ok {
		return len(p.pending)
	}
	return 0
}

// ClosePeer releases the record and everything buffered for it.
// Idempotent.
func (o *Orchestrator) ClosePeer(peerID string) {
	o.mu.Lock()
	p, ok := o.peers[peerID]
	if ok {
		delete(o.peers, peerID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	p.pc.Close()
	o.logger.Debug("peer closed", "peer", peerID)
}

// CloseAll tears down every connection. Idempotent; the orchestrator
// rejects new records afterwards.
func (o *Orchestrator) CloseAll() {
	o.mu.Lock()
	peers := o.peers
	o.peers = make(map[string]*peer)
	o.closed = true
	o.mu.Unlock()

	for _, p := range peers {
		p.pc.Close()
	}
}

// getOrCreatePeer returns the existing record for peerID or creates and
// wires a new one. At most one record per remote participant can ever
// exist because creation happens under the lock.
func (o *Orchestrator) getOrCreatePeer(peerID string) (*peer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, fmt.Errorf("orchestrator is closed")
	}
	if p, ok := o.peers[peerID]; ok {
		return p, nil
	}

	p := &peer{id: peerID, state: StateNew}
	if err := o.wirePeerLocked(p); err != nil {
		return nil, err
	}
	o.peers[peerID] = p
	o.logger.Debug("connection record created", "peer", peerID)
	return p, nil
}

// wirePeerLocked creates the underlying PeerConnection for a record,
// attaches the shared local tracks and installs the event handlers.
func (o *Orchestrator) wirePeerLocked(p *peer) error {
	pc, err := o.api.NewPeerConnection(o.config)
	if err != nil {
		return &NegotiationError{PeerID: p.id, Op: "create connection", Err: err}
	}
	p.pc = pc
	p.senders = nil

	for _, track := range o.localTracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return &NegotiationError{PeerID: p.id, Op: "add track", Err: err}
		}
		p.senders = append(p.senders, sender)
	}

	peerID := p.id
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || o.onCandidate == nil {
			return
		}
		o.onCandidate(peerID, candidate.ToJSON())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if o.onTrack != nil {
			o.onTrack(peerID, track, receiver)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if o.onDataChannel != nil {
			o.onDataChannel(peerID, dc)
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		o.handleICEState(peerID, p, state)
	})
	return nil
}

// resetPeerLocked replaces a record's PeerConnection with a fresh one,
// dropping the pending local offer. Buffered remote candidates are kept:
// they belong to the remote offer we are about to apply.
func (o *Orchestrator) resetPeerLocked(p *peer) error {
	p.pc.Close()
	p.offerPending = false
	p.state = StateNew
	return o.wirePeerLocked(p)
}

// handleICEState maps the underlying ICE state onto the record's state
// machine. A connection counts as connected only here — when the
// transport reports a usable link — never at signaling completion.
func (o *Orchestrator) handleICEState(peerID string, p *peer, state webrtc.ICEConnectionState) {
	o.logger.Debug("ice state change", "peer", peerID, "state", state.String())

	var notify func(string)

	o.mu.Lock()
	current, tracked := o.peers[peerID]
	stale := !tracked || current != p
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		if !stale && p.state != StateConnected {
			p.state = StateConnected
			notify = o.onConnected
		}
	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
		if !stale && p.state != StateDisconnected && p.state != StateClosed {
			p.state = StateDisconnected
			notify = o.onDisconnect
		}
	case webrtc.ICEConnectionStateClosed:
		if !stale {
			p.state = StateClosed
		}
	}
	o.mu.Unlock()

	if notify != nil {
		notify(peerID)
	}
}
