package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := s.clock.Since(s.startTime).Seconds()
	return c.JSON(200, echo.Map{
		"status": "ok",
		"uptime": uptime,
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := []struct {
		name string
		p    pinger
	}{
		{"postgres", s.pgHealth},
		{"redis", s.rdHealth},
	}

	for _, check := range checks {
		if err := check.p.Ping(ctx); err != nil {
			return c.JSON(503, echo.Map{
				"status":       "unhealthy",
				"failed_check": check.name,
				"error":        err.Error(),
			})
		}
	}

	return c.JSON(200, echo.Map{"status": "ready"})
}
