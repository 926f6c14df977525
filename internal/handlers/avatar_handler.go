package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/vera/internal/domains/avatar"
	"github.com/xpanvictor/vera/pkg/Logger"
)

// AvatarHandler hands out avatar session tokens
type AvatarHandler struct {
	avatarService avatar.AvatarService
	logger        *Logger.Logger
}

// NewAvatarHandler creates a new avatar handler
func NewAvatarHandler(avatarService avatar.AvatarService, logger *Logger.Logger) *AvatarHandler {
	if logger == nil {
		logger = Logger.NewNop()
	}
	return &AvatarHandler{
		avatarService: avatarService,
		logger:        logger,
	}
}

// CreateSession returns a cached or freshly issued avatar session token
// @Summary Get an avatar session token
// @Tags Avatar
// @Produce json
// @Success 200 {object} AvatarSessionResponse "Session token"
// @Failure 502 {object} ErrorResponse "Avatar backend failed"
// @Failure 503 {object} ErrorResponse "Avatar backend not configured"
// @Router /avatar/session [post]
func (h *AvatarHandler) CreateSession(c *gin.Context) {
	session, err := h.avatarService.Session(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, avatar.ErrNotConfigured):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Avatar backend not configured"})
		default:
			h.logger.Errorf("avatar session error: %v", err)
			c.JSON(http.StatusBadGateway, ErrorResponse{
				Error:   "Failed to create avatar session",
				Details: err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, AvatarSessionResponse{SessionToken: session.Token})
}
