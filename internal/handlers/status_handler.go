package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/vera/internal/domains/orchestrator"
)

type GatewayStatus interface {
	Authenticated() bool
}

type SessionStats interface {
	Stats() orchestrator.Stats
}

type ConnectionStats interface {
	GetStats() map[string]interface{}
}

// StatusHandler serves liveness and diagnostics
type StatusHandler struct {
	gateway     GatewayStatus
	session     SessionStats
	connections ConnectionStats
}

func NewStatusHandler(gateway GatewayStatus, session SessionStats, connections ConnectionStats) *StatusHandler {
	return &StatusHandler{
		gateway:     gateway,
		session:     session,
		connections: connections,
	}
}

// Health reports process liveness and gateway authentication
// @Summary Health check
// @Tags Status
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Gateway: h.gateway.Authenticated()})
}

// Stats reports session counters and attached clients
// @Summary Session statistics
// @Tags Status
// @Produce json
// @Success 200 {object} StatsResponse
// @Router /stats [get]
func (h *StatusHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		Status:      "ok",
		Session:     h.session.Stats(),
		Connections: h.connections.GetStats(),
	})
}
