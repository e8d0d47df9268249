package mesh

import (
	"errors"
	"fmt"
)

// ErrOfferIgnored reports that an incoming offer lost glare resolution:
// our own offer to that peer stands and the remote side is expected to
// concede. The caller simply does not answer.
var ErrOfferIgnored = errors.New("offer ignored: local offer wins glare resolution")

// NegotiationError reports a failed negotiation step for a single peer.
// Failures are isolated: connections to other peers are unaffected.
type NegotiationError struct {
	PeerID string
	Op     string
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiating with %s: %s: %v", e.PeerID, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
