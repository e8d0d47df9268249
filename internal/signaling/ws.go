package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

// Compile-time interface checks.
var (
	_ Transport  = (*WSTransport)(nil)
	_ Subscriber = (*WSTransport)(nil)
)

// WSTransport joins a room over the server's WebSocket endpoint and
// receives signals as push delivery instead of polling. Room management
// operations go over the REST API. One WSTransport carries one
// subscription: JoinRoom dials, LeaveRoom hangs up.
type WSTransport struct {
	rest *RESTTransport

	mu      sync.Mutex
	conn    *websocket.Conn
	records chan models.SignalRecord
}

// NewWSTransport creates a WebSocket transport for the server at baseURL
// (http or https scheme; the socket endpoint is derived from it).
func NewWSTransport(baseURL, authToken string) *WSTransport {
	return &WSTransport{rest: NewRESTTransport(baseURL, authToken)}
}

func (t *WSTransport) CreateRoom(ctx context.Context, maxPeers int) (models.CreateRoomResult, error) {
	return t.rest.CreateRoom(ctx, maxPeers)
}

func (t *WSTransport) GetRoomStatus(ctx context.Context, roomID string) (models.RoomStatusResult, error) {
	return t.rest.GetRoomStatus(ctx, roomID)
}

// JoinRoom dials the signaling socket. The server assigns the user id
// and reports it in the hello frame before any signal is pushed.
func (t *WSTransport) JoinRoom(ctx context.Context, roomID, displayName string) (models.JoinRoomResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return models.JoinRoomResult{}, fmt.Errorf("transport already joined a room")
	}

	wsURL := strings.Replace(t.rest.baseURL, "http", "ws", 1) +
		"/ws/signal/" + url.PathEscape(roomID)
	if displayName != "" {
		wsURL += "?displayName=" + url.QueryEscape(displayName)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return models.JoinRoomResult{}, fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	var hello struct {
		UserID       string `json:"userId"`
		RoomID       string `json:"roomId"`
		Participants int    `json:"participants"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return models.JoinRoomResult{}, fmt.Errorf("reading hello frame: %w", err)
	}

	t.conn = conn
	t.records = make(chan models.SignalRecord, 64)
	go t.readPump(conn, t.records)

	return models.JoinRoomResult{
		Success:      true,
		RoomID:       hello.RoomID,
		UserID:       hello.UserID,
		Participants: hello.Participants,
	}, nil
}

// readPump decodes pushed records until the connection drops, then
// closes the subscription channel.
func (t *WSTransport) readPump(conn *websocket.Conn, records chan models.SignalRecord) {
	defer close(records)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var record models.SignalRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue // malformed frames are dropped, not fatal
		}
		select {
		case records <- record:
		default:
			// Consumer stalled long enough to fill the buffer; dropping
			// is the only option that keeps the pump alive.
		}
	}
}

// Subscribe returns the push stream opened by JoinRoom.
func (t *WSTransport) Subscribe(roomID, userID string) (<-chan models.SignalRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.records == nil {
		return nil, fmt.Errorf("not joined")
	}
	return t.records, nil
}

func (t *WSTransport) SendSignal(_ context.Context, roomID, senderID string, body models.SignalBody) (models.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return models.Result{Error: "not joined"}, nil
	}
	if err := t.conn.WriteJSON(body); err != nil {
		return models.Result{}, fmt.Errorf("writing signal: %w", err)
	}
	return models.Result{Success: true}, nil
}

// LeaveRoom hangs up; the server announces the departure and releases
// the membership on disconnect.
func (t *WSTransport) LeaveRoom(_ context.Context, roomID, userID string) (models.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return models.Result{Success: true}, nil
	}
	t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.conn.Close()
	t.conn = nil
	t.records = nil
	return models.Result{Success: true}, nil
}

func (t *WSTransport) GetSignals(_ context.Context, roomID, userID string, since int64) (models.GetSignalsResult, error) {
	// Push-only: everything arrives through Subscribe.
	return models.GetSignalsResult{Success: true}, nil
}
