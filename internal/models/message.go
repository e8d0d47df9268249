package models

import "encoding/json"

// SignalType represents the type of signaling message
type SignalType string

const (
	SignalTypeOffer      SignalType = "offer"
	SignalTypeAnswer     SignalType = "answer"
	SignalTypeCandidate  SignalType = "ice-candidate"
	SignalTypeUserJoined SignalType = "user-joined"
	SignalTypeUserLeft   SignalType = "user-left"
	SignalTypeChat       SignalType = "chat"
)

// SignalBody is the payload a participant hands to the transport.
// Target empty means broadcast to every other participant in the room.
type SignalBody struct {
	Type   SignalType      `json:"type"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// SignalRecord is a queued signal as returned by the transport's
// signal-polling operation: {from, signal, timestamp}.
type SignalRecord struct {
	From      string     `json:"from"`
	Signal    SignalBody `json:"signal"`
	Timestamp int64      `json:"timestamp"` // unix milliseconds, stamped by the transport
}

// SignalMessage is the typed client-side view of a delivered signal.
// Receiver is empty for broadcasts. Immutable once constructed.
type SignalMessage struct {
	Type      SignalType      `json:"type"`
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver,omitempty"`
	RoomID    string          `json:"roomId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}
