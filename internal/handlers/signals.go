package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

// SendSignal relays a signal into the room, unicast when the body names
// a target and broadcast otherwise
func (api *API) SendSignal(c *gin.Context) {
	roomID := c.Param("roomId")

	var req models.SendSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Result{Error: err.Error()})
		return
	}
	if req.Signal.Type == "" {
		c.JSON(http.StatusBadRequest, models.Result{Error: "Missing signal type"})
		return
	}

	if err := api.relay(c.Request.Context(), roomID, req.SenderID, req.Signal); err != nil {
		c.JSON(storeStatus(err), models.Result{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.Result{Success: true})
}

// GetSignals returns the signals queued for a participant since the
// given cursor (unix milliseconds, exclusive)
func (api *API) GetSignals(c *gin.Context) {
	roomID := c.Param("roomId")
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, models.GetSignalsResult{Error: "Missing userId"})
		return
	}

	var since int64
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.GetSignalsResult{Error: "Invalid since cursor"})
			return
		}
		since = parsed
	}

	signals, err := api.store.SignalsSince(c.Request.Context(), roomID, userID, since)
	if err != nil {
		c.JSON(storeStatus(err), models.GetSignalsResult{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.GetSignalsResult{Success: true, Signals: signals})
}
