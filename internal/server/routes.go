package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Auth routes
	s.echo.POST("/signup", s.handleSignup)
	s.echo.POST("/signin", s.handleSignin)
	s.echo.POST("/logout", s.handleLogout, s.requireAuth)

	// Product tracking (authenticated)
	s.echo.POST("/track-product", s.handleTrackProduct, s.requireAuth)
	s.echo.GET("/products", s.handleListProducts, s.requireAuth)
	s.echo.GET("/products/:id", s.handleGetProduct, s.requireAuth)
	s.echo.DELETE("/products/:id", s.handleDeleteProduct, s.requireAuth)
	s.echo.GET("/prices", s.handleListPrices, s.requireAuth)

	// Live price streams (authenticated)
	s.echo.GET("/track-price", s.handleTrackPrice, s.requireAuth)
	s.echo.GET("/ws/track-price", s.handleTrackPriceWS, s.requireAuth)
}
