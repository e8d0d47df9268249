package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Hub tracks the WebSocket clients connected per room. Members joined
// through the REST API never appear here; their signals stay in the
// store for polling.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*wsClient
}

// wsClient represents a WebSocket client connection
type wsClient struct {
	ID     string
	RoomID string
	Conn   *websocket.Conn
	Send   chan []byte
}

func newHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*wsClient)}
}

func (h *Hub) add(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[client.RoomID]
	if !ok {
		room = make(map[string]*wsClient)
		h.rooms[client.RoomID] = room
	}
	room[client.ID] = client
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[client.RoomID]
	if !ok {
		return
	}
	delete(room, client.ID)
	if len(room) == 0 {
		delete(h.rooms, client.RoomID)
	}
}

// connected returns the ids of the WebSocket-connected members of a room.
func (h *Hub) connected(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ids []string
	for id := range h.rooms[roomID] {
		ids = append(ids, id)
	}
	return ids
}

// deliver pushes a record to one WebSocket client. Returns false when the
// target is not connected over WebSocket.
func (h *Hub) deliver(roomID, targetID string, record models.SignalRecord) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.rooms[roomID][targetID]
	if !ok {
		return false
	}
	client.sendRecord(record)
	return true
}

// broadcast pushes a record to every WebSocket client in the room except
// the sender.
func (h *Hub) broadcast(roomID, excludeID string, record models.SignalRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, client := range h.rooms[roomID] {
		if id != excludeID {
			client.sendRecord(record)
		}
	}
}

// wsHello is the first frame a WebSocket client receives after the join
// succeeds. It carries the assigned user id and the member count.
type wsHello struct {
	UserID       string `json:"userId"`
	RoomID       string `json:"roomId"`
	Participants int    `json:"participants"`
}

// HandleSignaling handles WebSocket connections for signaling delivery.
// Joining over WebSocket is equivalent to the REST join plus a
// subscription: the server assigns the user id, announces the join, and
// pushes every signal addressed to this participant as it arrives.
func (api *API) HandleSignaling(c *gin.Context) {
	roomID := c.Param("roomId")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}
	displayName := c.Query("displayName")

	userID, participants, err := api.store.JoinRoom(c.Request.Context(), roomID, displayName)
	if err != nil {
		c.JSON(storeStatus(err), gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		api.store.LeaveRoom(c.Request.Context(), roomID, userID)
		return
	}

	client := &wsClient{
		ID:     userID,
		RoomID: roomID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}
	api.hub.add(client)

	log.Printf("Peer %s joined room %s over WebSocket (%d participants)", userID, roomID, participants)

	// Hello frame first, then the join announcement to everyone else.
	hello, _ := json.Marshal(wsHello{UserID: userID, RoomID: roomID, Participants: participants})
	client.send(hello)

	if err := api.relay(c.Request.Context(), roomID, userID, models.SignalBody{
		Type: models.SignalTypeUserJoined,
	}); err != nil {
		log.Printf("Failed to announce join of %s: %v", userID, err)
	}

	go client.writePump()
	go api.readPump(client)
}

func (api *API) readPump(c *wsClient) {
	defer func() {
		api.hub.remove(c)
		c.Conn.Close()

		// Announce the departure, then drop the membership record.
		ctx := context.Background()
		if err := api.relay(ctx, c.RoomID, c.ID, models.SignalBody{
			Type: models.SignalTypeUserLeft,
		}); err != nil {
			log.Printf("Failed to announce leave of %s: %v", c.ID, err)
		}
		api.store.LeaveRoom(ctx, c.RoomID, c.ID)

		log.Printf("Peer %s left room %s", c.ID, c.RoomID)
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var body models.SignalBody
		if err := json.Unmarshal(message, &body); err != nil {
			log.Printf("Failed to parse message from %s: %v", c.ID, err)
			continue
		}

		switch body.Type {
		case models.SignalTypeOffer, models.SignalTypeAnswer, models.SignalTypeCandidate,
			models.SignalTypeChat, models.SignalTypeUserLeft:
			if err := api.relay(context.Background(), c.RoomID, c.ID, body); err != nil {
				log.Printf("Failed to relay %s from %s: %v", body.Type, c.ID, err)
			}
		default:
			log.Printf("Unknown message type from %s: %s", c.ID, body.Type)
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) sendRecord(record models.SignalRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("Failed to marshal record: %v", err)
		return
	}
	c.send(data)
}

func (c *wsClient) send(data []byte) {
	select {
	case c.Send <- data:
	default:
		log.Printf("Failed to send message to peer %s, buffer full", c.ID)
	}
}
