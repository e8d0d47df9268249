package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

// Compile-time interface check.
var _ Transport = (*RESTTransport)(nil)

// RESTTransport talks to the signaling server's polling API. Signals for
// this participant accumulate server-side and are fetched with GetSignals
// plus a timestamp cursor.
type RESTTransport struct {
	baseURL   string
	authToken string // optional; required only for room create/delete
	client    *http.Client
}

// NewRESTTransport creates a transport for the server at baseURL
// (e.g. "http://localhost:8080"). authToken may be empty.
func NewRESTTransport(baseURL, authToken string) *RESTTransport {
	return &RESTTransport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// doJSON issues a request and decodes the JSON response into out. Non-2xx
// statuses are fine as long as the body parses: the server encodes its
// refusals in the result shape.
func (t *RESTTransport) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

func (t *RESTTransport) CreateRoom(ctx context.Context, maxPeers int) (models.CreateRoomResult, error) {
	var out models.CreateRoomResult
	err := t.doJSON(ctx, http.MethodPost, "/api/rooms", models.CreateRoomRequest{MaxPeers: maxPeers}, &out)
	return out, err
}

func (t *RESTTransport) JoinRoom(ctx context.Context, roomID, displayName string) (models.JoinRoomResult, error) {
	var out models.JoinRoomResult
	err := t.doJSON(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/join",
		models.JoinRoomRequest{DisplayName: displayName}, &out)
	return out, err
}

func (t *RESTTransport) LeaveRoom(ctx context.Context, roomID, userID string) (models.Result, error) {
	var out models.Result
	err := t.doJSON(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/leave",
		models.LeaveRoomRequest{UserID: userID}, &out)
	return out, err
}

func (t *RESTTransport) GetRoomStatus(ctx context.Context, roomID string) (models.RoomStatusResult, error) {
	var out models.RoomStatusResult
	err := t.doJSON(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), nil, &out)
	return out, err
}

func (t *RESTTransport) SendSignal(ctx context.Context, roomID, senderID string, body models.SignalBody) (models.Result, error) {
	var out models.Result
	err := t.doJSON(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/signal",
		models.SendSignalRequest{SenderID: senderID, Signal: body}, &out)
	return out, err
}

func (t *RESTTransport) GetSignals(ctx context.Context, roomID, userID string, since int64) (models.GetSignalsResult, error) {
	var out models.GetSignalsResult
	query := "?userId=" + url.QueryEscape(userID) + "&since=" + strconv.FormatInt(since, 10)
	err := t.doJSON(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID)+"/signals"+query, nil, &out)
	return out, err
}
