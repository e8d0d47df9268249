package models

// ChatMessage is one entry in a participant's local chat log. IsLocal is
// derived (sender == local user id) and never goes over the wire.
type ChatMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	IsLocal   bool   `json:"-"`
}
