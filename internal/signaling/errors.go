package signaling

import "fmt"

// NetworkError wraps a transport-level failure: the relay service was
// unreachable or returned a malformed response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// JoinError reports that the room rejected the join: missing, closed,
// or full.
type JoinError struct {
	RoomID string
	Reason string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("joining room %s: %s", e.RoomID, e.Reason)
}
