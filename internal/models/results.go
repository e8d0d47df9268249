package models

// Result is the uniform success/error shape every transport operation
// returns. Callers branch on Success instead of unwrapping errors, so
// polling and push backends present identical failure surfaces.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CreateRoomResult is the response for creating a room
type CreateRoomResult struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JoinRoomResult is the response for joining a room
type JoinRoomResult struct {
	Success      bool   `json:"success"`
	RoomID       string `json:"roomId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	Participants int    `json:"participants"`
	Error        string `json:"error,omitempty"`
}

// RoomStatusResult reports a room's current membership
type RoomStatusResult struct {
	Success      bool     `json:"success"`
	RoomID       string   `json:"roomId,omitempty"`
	Participants int      `json:"participants"`
	Users        []string `json:"users,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// GetSignalsResult carries the signals queued for a participant
type GetSignalsResult struct {
	Success bool           `json:"success"`
	Signals []SignalRecord `json:"signals,omitempty"`
	Error   string         `json:"error,omitempty"`
}
