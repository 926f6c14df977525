package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/vera/internal/handlers"
	"github.com/xpanvictor/vera/internal/handlers/websocket"
	"github.com/xpanvictor/vera/pkg/Logger"
)

type Dependencies struct {
	Logger        *Logger.Logger
	WebSocket     *websocket.WebSocketHandler
	StatusHandler *handlers.StatusHandler
	AvatarHandler *handlers.AvatarHandler
}

func NewServerDependencies(
	logger *Logger.Logger,
	ws *websocket.WebSocketHandler,
	status *handlers.StatusHandler,
	avatarHandler *handlers.AvatarHandler,
) Dependencies {
	if logger == nil {
		logger = Logger.NewNop()
	}
	return Dependencies{
		Logger:        logger,
		WebSocket:     ws,
		StatusHandler: status,
		AvatarHandler: avatarHandler,
	}
}

func InitializeRoutes(r *gin.Engine, dep Dependencies) {
	r.Use(handlers.ErrorHandlerMiddleware(dep.Logger))
	r.Use(handlers.RequestLoggerMiddleware(dep.Logger))
	r.Use(handlers.CORSMiddleware())

	r.GET("/", func(ctx *gin.Context) { ctx.JSON(http.StatusOK, gin.H{"message": "Server healthy"}) })
	r.GET("/health", dep.StatusHandler.Health)
	r.GET("/stats", dep.StatusHandler.Stats)

	// thin clients without a request body use GET
	r.POST("/avatar/session", dep.AvatarHandler.CreateSession)
	r.GET("/avatar/session", dep.AvatarHandler.CreateSession)

	dep.WebSocket.RegisterRoutes(r)
}
