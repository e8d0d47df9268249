package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/store"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewAPI(store.NewMemoryStore()).Routes(router, testSecret)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w.Code
}

func login(t *testing.T, router *gin.Engine, username string) string {
	t.Helper()
	var resp models.LoginResult
	code := doJSON(t, router, http.MethodPost, "/api/auth/login", "",
		models.LoginRequest{Username: username, Password: "pw"}, &resp)
	if code != http.StatusOK || !resp.Success || resp.Token == "" {
		t.Fatalf("login failed: code=%d resp=%+v", code, resp)
	}
	return resp.Token
}

func createRoom(t *testing.T, router *gin.Engine, token string) string {
	t.Helper()
	var resp models.CreateRoomResult
	code := doJSON(t, router, http.MethodPost, "/api/rooms", token, nil, &resp)
	if code != http.StatusCreated || !resp.Success {
		t.Fatalf("create room failed: code=%d resp=%+v", code, resp)
	}
	return resp.RoomID
}

func joinRoom(t *testing.T, router *gin.Engine, roomID, name string) string {
	t.Helper()
	var resp models.JoinRoomResult
	code := doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/join", "",
		models.JoinRoomRequest{DisplayName: name}, &resp)
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("join failed: code=%d resp=%+v", code, resp)
	}
	return resp.UserID
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("health returned %d", w.Code)
	}
}

func TestCreateRoomRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	var resp models.Result
	code := doJSON(t, router, http.MethodPost, "/api/rooms", "", nil, &resp)
	if code != http.StatusUnauthorized || resp.Success || resp.Error == "" {
		t.Fatalf("expected 401 result shape without token, got code=%d resp=%+v", code, resp)
	}

	resp = models.Result{}
	code = doJSON(t, router, http.MethodPost, "/api/rooms", "not-a-jwt", nil, &resp)
	if code != http.StatusUnauthorized || resp.Error == "" {
		t.Fatalf("expected 401 result shape for garbage token, got code=%d resp=%+v", code, resp)
	}
}

func TestLoginRejectsMissingCredentials(t *testing.T) {
	router := newTestRouter(t)
	var resp models.LoginResult
	code := doJSON(t, router, http.MethodPost, "/api/auth/login", "",
		models.LoginRequest{Username: "only-name"}, &resp)
	if code != http.StatusBadRequest || resp.Success || resp.Error == "" {
		t.Fatalf("expected 400 result shape, got code=%d resp=%+v", code, resp)
	}
}

func TestOriginFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(OriginFilter([]string{"http://allowed.example"}))
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	request := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := request(""); w.Code != http.StatusOK {
		t.Fatalf("originless request blocked: %d", w.Code)
	}
	if w := request("http://evil.example"); w.Code != http.StatusForbidden {
		t.Fatalf("unknown origin passed: %d", w.Code)
	}
	w := request("http://allowed.example")
	if w.Code != http.StatusOK {
		t.Fatalf("allowed origin blocked: %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://allowed.example" {
		t.Fatalf("missing CORS header, got %q", got)
	}
}

func TestJoinUnknownRoomReturns404(t *testing.T) {
	router := newTestRouter(t)
	var resp models.JoinRoomResult
	code := doJSON(t, router, http.MethodPost, "/api/rooms/missing/join", "", nil, &resp)
	if code != http.StatusNotFound || resp.Success {
		t.Fatalf("expected 404 failure, got code=%d resp=%+v", code, resp)
	}
}

func TestSignalRoundTrip(t *testing.T) {
	router := newTestRouter(t)
	token := login(t, router, "host")
	roomID := createRoom(t, router, token)

	alice := joinRoom(t, router, roomID, "alice")
	bob := joinRoom(t, router, roomID, "bob")

	// Alice was in the room when bob joined, so she has his announcement.
	var aliceSignals models.GetSignalsResult
	code := doJSON(t, router, http.MethodGet,
		"/api/rooms/"+roomID+"/signals?userId="+alice, "", nil, &aliceSignals)
	if code != http.StatusOK || len(aliceSignals.Signals) != 1 {
		t.Fatalf("expected one join announcement, code=%d resp=%+v", code, aliceSignals)
	}
	announce := aliceSignals.Signals[0]
	if announce.From != bob || announce.Signal.Type != models.SignalTypeUserJoined {
		t.Fatalf("bad announcement: %+v", announce)
	}

	// Alice sends bob a targeted offer.
	offer := models.SendSignalRequest{
		SenderID: alice,
		Signal: models.SignalBody{
			Type:   models.SignalTypeOffer,
			Target: bob,
			Data:   json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		},
	}
	var sendResp models.Result
	code = doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/signal", "", offer, &sendResp)
	if code != http.StatusOK || !sendResp.Success {
		t.Fatalf("send signal: code=%d resp=%+v", code, sendResp)
	}

	var bobSignals models.GetSignalsResult
	code = doJSON(t, router, http.MethodGet,
		"/api/rooms/"+roomID+"/signals?userId="+bob, "", nil, &bobSignals)
	if code != http.StatusOK || len(bobSignals.Signals) != 1 {
		t.Fatalf("expected bob's offer only, code=%d resp=%+v", code, bobSignals)
	}
	got := bobSignals.Signals[0]
	if got.From != alice || got.Signal.Type != models.SignalTypeOffer || got.Signal.Target != bob {
		t.Fatalf("offer mangled: %+v", got)
	}

	// The cursor excludes already-consumed signals.
	since := got.Timestamp
	var after models.GetSignalsResult
	doJSON(t, router, http.MethodGet,
		"/api/rooms/"+roomID+"/signals?userId="+bob+"&since="+strconv.FormatInt(since, 10), "", nil, &after)
	if len(after.Signals) != 0 {
		t.Fatalf("cursor ignored: %+v", after.Signals)
	}
}

func TestLeaveAnnouncesAndFreesRoom(t *testing.T) {
	router := newTestRouter(t)
	token := login(t, router, "host")
	roomID := createRoom(t, router, token)
	alice := joinRoom(t, router, roomID, "alice")
	bob := joinRoom(t, router, roomID, "bob")

	var resp models.Result
	code := doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/leave", "",
		models.LeaveRoomRequest{UserID: bob}, &resp)
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("leave: code=%d resp=%+v", code, resp)
	}

	var signals models.GetSignalsResult
	doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/signals?userId="+alice, "", nil, &signals)
	var sawLeft bool
	for _, record := range signals.Signals {
		if record.From == bob && record.Signal.Type == models.SignalTypeUserLeft {
			sawLeft = true
		}
	}
	if !sawLeft {
		t.Fatalf("user-left never queued for alice: %+v", signals.Signals)
	}

	var status models.RoomStatusResult
	doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID, "", nil, &status)
	if status.Participants != 1 {
		t.Fatalf("expected one remaining participant, got %+v", status)
	}
}

func TestDeleteRoomCreatorOnly(t *testing.T) {
	router := newTestRouter(t)
	creator := login(t, router, "creator")
	stranger := login(t, router, "stranger")
	roomID := createRoom(t, router, creator)

	if code := doJSON(t, router, http.MethodDelete, "/api/rooms/"+roomID, stranger, nil, nil); code != http.StatusForbidden {
		t.Fatalf("stranger delete returned %d", code)
	}
	if code := doJSON(t, router, http.MethodDelete, "/api/rooms/"+roomID, creator, nil, nil); code != http.StatusOK {
		t.Fatalf("creator delete returned %d", code)
	}
	if code := doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID, "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("room survived deletion, status %d", code)
	}
}
