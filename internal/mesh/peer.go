package mesh

import (
	"github.com/pion/webrtc/v4"
)

// State is the lifecycle of one peer connection record.
type State string

const (
	StateNew          State = "new"
	StateNegotiating  State = "negotiating"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
)

// peer is the connection record for one remote participant. At most one
// record exists per remote user id; all fields are protected by the
// orchestrator's mutex.
type peer struct {
	id string
	pc *webrtc.PeerConnection

	state State

	// pending buffers ICE candidates that arrived before this record's
	// remote description was set. FIFO: candidates are flushed in arrival
	// order immediately after the first remote description is applied.
	pending []webrtc.ICECandidateInit

	// offerPending is true while a local offer to this peer is in flight
	// and unanswered. Used for glare detection.
	offerPending bool

	// senders tracks the RTP senders for the local tracks attached to
	// this connection, so a camera switch can ReplaceTrack instead of
	// renegotiating.
	senders []*webrtc.RTPSender
}
