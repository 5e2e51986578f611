package handlers

import (
	"net/http"

	"machine_control/internal/messages"
	"machine_control/internal/models"

	"github.com/gin-gonic/gin"
)

const statusOK = "OK"

// StateResponse is the read-only snapshot served over REST.
type StateResponse struct {
	Data models.MachineState `json:"data"`
	// Seconds since the Unix epoch of the last temperature merge
	LastTempUpdate float64 `json:"last_temp_update" example:"1718000000.25"`
	// Registered websocket connections
	Connections int `json:"connections" example:"2"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": statusOK,
	})
}

// @Summary      Get machine state
// @Description  Same snapshot a websocket client receives, plus the number of connected clients.
// @Tags         machine
// @Produce      json
// @Success      200  {object}  StateResponse
// @Router       /api/v1/state [get]
func (h *Handler) getState(c *gin.Context) {
	st, lastTempUpdate := h.services.Snapshot()
	c.JSON(http.StatusOK, StateResponse{
		Data:           st,
		LastTempUpdate: messages.Timestamp(lastTempUpdate),
		Connections:    h.services.ConnectionCount(),
	})
}
