package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-mesh/internal/middleware"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/store"
)

// API bundles the signaling server's handlers around a store and the
// WebSocket hub. Polling clients read their store queues; WebSocket
// clients get the same records pushed, and the hub's member list keeps
// the two delivery paths from duplicating messages.
type API struct {
	store store.Store
	hub   *Hub
}

// NewAPI creates the handler set backed by the given store.
func NewAPI(st store.Store) *API {
	return &API{store: st, hub: newHub()}
}

// Routes registers all endpoints on the router. Room creation and
// deletion require a JWT; everything else is public.
func (api *API) Routes(router *gin.Engine, jwtSecret string) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", Login(jwtSecret))
		apiGroup.POST("/rooms", middleware.JWTAuth(jwtSecret), api.CreateRoom)
		apiGroup.GET("/rooms/:roomId", api.RoomStatus)
		apiGroup.DELETE("/rooms/:roomId", middleware.JWTAuth(jwtSecret), api.DeleteRoom)

		apiGroup.POST("/rooms/:roomId/join", api.JoinRoom)
		apiGroup.POST("/rooms/:roomId/leave", api.LeaveRoom)
		apiGroup.POST("/rooms/:roomId/signal", api.SendSignal)
		apiGroup.GET("/rooms/:roomId/signals", api.GetSignals)
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal/:roomId", api.HandleSignaling)
	}
}

// relay stamps and distributes a signal: WebSocket-connected members get
// it pushed, everyone else gets it queued for polling.
func (api *API) relay(ctx context.Context, roomID, senderID string, body models.SignalBody) error {
	connected := api.hub.connected(roomID)
	record, err := api.store.AppendSignal(ctx, roomID, senderID, body, connected)
	if err != nil {
		return err
	}
	if body.Target != "" {
		api.hub.deliver(roomID, body.Target, record)
		return nil
	}
	api.hub.broadcast(roomID, senderID, record)
	return nil
}

// storeStatus maps store errors to HTTP status codes.
func storeStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrRoomClosed), errors.Is(err, store.ErrRoomFull):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotMember):
		return http.StatusForbidden
	default:
		log.Printf("store error: %v", err)
		return http.StatusInternalServerError
	}
}
