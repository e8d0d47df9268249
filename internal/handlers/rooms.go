package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

// CreateRoom creates a new room (requires authentication)
func (api *API) CreateRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, models.CreateRoomResult{Error: "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, models.CreateRoomResult{Error: err.Error()})
		return
	}

	meta, err := api.store.CreateRoom(c.Request.Context(), userID.(string), req.MaxPeers)
	if err != nil {
		c.JSON(storeStatus(err), models.CreateRoomResult{Error: "Failed to create room"})
		return
	}

	log.Printf("Room created: %s by user %s", meta.ID, userID)
	c.JSON(http.StatusCreated, models.CreateRoomResult{Success: true, RoomID: meta.ID})
}

// RoomStatus returns a room's current participants (public)
func (api *API) RoomStatus(c *gin.Context) {
	roomID := c.Param("roomId")

	meta, users, err := api.store.RoomStatus(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(storeStatus(err), models.RoomStatusResult{Error: "Room not found"})
		return
	}

	c.JSON(http.StatusOK, models.RoomStatusResult{
		Success:      true,
		RoomID:       meta.ID,
		Participants: len(users),
		Users:        users,
	})
}

// JoinRoom registers a new participant and assigns its user id
func (api *API) JoinRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	var req models.JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, models.JoinRoomResult{Error: err.Error()})
		return
	}

	userID, participants, err := api.store.JoinRoom(c.Request.Context(), roomID, req.DisplayName)
	if err != nil {
		c.JSON(storeStatus(err), models.JoinRoomResult{Error: err.Error()})
		return
	}

	log.Printf("User %s joined room %s (%d participants)", userID, roomID, participants)

	// Announce the newcomer to everyone already in the room.
	if err := api.relay(c.Request.Context(), roomID, userID, models.SignalBody{
		Type: models.SignalTypeUserJoined,
	}); err != nil {
		log.Printf("Failed to announce join of %s: %v", userID, err)
	}

	c.JSON(http.StatusOK, models.JoinRoomResult{
		Success:      true,
		RoomID:       roomID,
		UserID:       userID,
		Participants: participants,
	})
}

// LeaveRoom removes a participant; the room is deleted when empty
func (api *API) LeaveRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	var req models.LeaveRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Result{Error: "Missing userId"})
		return
	}

	// Announce before removal so the departing member is still allowed
	// to broadcast.
	if err := api.relay(c.Request.Context(), roomID, req.UserID, models.SignalBody{
		Type: models.SignalTypeUserLeft,
	}); err != nil {
		log.Printf("Failed to announce leave of %s: %v", req.UserID, err)
	}

	if err := api.store.LeaveRoom(c.Request.Context(), roomID, req.UserID); err != nil {
		c.JSON(storeStatus(err), models.Result{Error: err.Error()})
		return
	}

	log.Printf("User %s left room %s", req.UserID, roomID)
	c.JSON(http.StatusOK, models.Result{Success: true})
}

// DeleteRoom deletes a room (requires authentication and creator)
func (api *API) DeleteRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, models.Result{Error: "User not authenticated"})
		return
	}

	roomID := c.Param("roomId")

	meta, _, err := api.store.RoomStatus(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(storeStatus(err), models.Result{Error: "Room not found"})
		return
	}

	if meta.CreatorID != userID.(string) {
		c.JSON(http.StatusForbidden, models.Result{Error: "Only the room creator can delete the room"})
		return
	}

	if err := api.store.DeleteRoom(c.Request.Context(), roomID); err != nil {
		c.JSON(storeStatus(err), models.Result{Error: "Failed to delete room"})
		return
	}

	log.Printf("Room deleted: %s by user %s", roomID, userID)
	c.JSON(http.StatusOK, models.Result{Success: true})
}
