package models

import "time"

// RoomMetadata stores information about a room
type RoomMetadata struct {
	ID        string    `json:"id"`
	CreatorID string    `json:"creatorId,omitempty"` // User ID from JWT who created the room
	CreatedAt time.Time `json:"createdAt"`
	Active    bool      `json:"active"`
	MaxPeers  int       `json:"maxPeers"`
}

// Participant is a room member as tracked by the transport. The record
// flips Active to false on leave and is never mutated by anyone else.
type Participant struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	DisplayName string    `json:"displayName,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
	Active      bool      `json:"active"`
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	MaxPeers int `json:"maxPeers" binding:"omitempty,min=2,max=16"`
}

// JoinRoomRequest contains optional data when joining a room
type JoinRoomRequest struct {
	DisplayName string `json:"displayName,omitempty"`
}

// LeaveRoomRequest identifies the departing participant
type LeaveRoomRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// SendSignalRequest is the request body for relaying a signal
type SendSignalRequest struct {
	SenderID string     `json:"senderId" binding:"required"`
	Signal   SignalBody `json:"signal" binding:"required"`
}
