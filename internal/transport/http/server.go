package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/campuslink/campuslink-server/internal/auth"
	"github.com/campuslink/campuslink-server/internal/config"
	"github.com/campuslink/campuslink-server/internal/core"
	"github.com/campuslink/campuslink-server/internal/service/calls"
	"github.com/campuslink/campuslink-server/internal/store"
)

// NewServer builds the HTTP server: REST endpoints for auth and history,
// and the realtime socket at /ws.
func NewServer(hub *core.Hub, authService *auth.Service, callsService *calls.Service, st store.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	api := NewAPIHandlers(authService, logger)
	router.POST("/api/register", api.Register)
	router.POST("/api/login", api.Login)
	router.POST("/api/guest", api.GuestLogin)

	authorized := router.Group("/api", AuthMiddleware(authService, logger))
	{
		callsAPI := NewCallsHandlers(callsService, logger)
		authorized.GET("/calls", callsAPI.ListHistory)
		authorized.GET("/calls/:id", callsAPI.GetSession)

		messagesAPI := NewMessagesHandlers(st, logger)
		authorized.GET("/contexts/:kind/:id/messages", messagesAPI.List)
	}

	router.GET("/ws", gin.WrapH(NewWSHandler(hub, authService, cfg.MessageRateLimit, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
