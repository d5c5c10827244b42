package server

import (
	"github.com/labstack/echo/v4"

	"github.com/mentorloop/meetroom/internal/application/config"
	"github.com/mentorloop/meetroom/internal/infra/ports/http/handlers"
	"github.com/mentorloop/meetroom/internal/infra/ports/http/middleware"
)

func New(
	cfg *config.Config,
	meetingHandler *handlers.MeetingHandler,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()

	e.HideBanner = true

	api := e.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			// Guests must be able to open the channel, so the socket
			// endpoint and the host lookup stay unauthenticated.
			v1.GET("/ws", wsHandler.Handle)
			v1.GET("/meetings/:id", meetingHandler.GetByID)

			v1.POST("/meetings", meetingHandler.Create, middleware.JWTAuthMiddleware(cfg.JWTSecret))
		}
	}

	return e
}
