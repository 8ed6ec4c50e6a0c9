// Package server wires the HTTP API: auth, product CRUD, and the live
// price stream endpoints.
package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/config"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/stream"
)

// titleFetcher scrapes a product page's title when tracking starts.
type titleFetcher interface {
	FetchProductName(ctx context.Context, url string) (string, error)
}

// pinger is the minimal health-check surface of a backing store.
type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	users     domain.UserRepository
	products  domain.ProductRepository
	history   domain.HistoryStore
	sessions  domain.SessionStore
	titles    titleFetcher
	broadcast *stream.Broadcaster
	clock     clockwork.Clock
	pgHealth  pinger
	rdHealth  pinger
	startTime time.Time
}

type Deps struct {
	Users     domain.UserRepository
	Products  domain.ProductRepository
	History   domain.HistoryStore
	Sessions  domain.SessionStore
	Titles    titleFetcher
	Broadcast *stream.Broadcaster
	Clock     clockwork.Clock
	PGHealth  pinger
	RDHealth  pinger
}

func New(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     strings.Split(cfg.CORSOrigins, ","),
		AllowCredentials: true,
	}))

	srv := &Server{
		echo:      e,
		config:    cfg,
		users:     deps.Users,
		products:  deps.Products,
		history:   deps.History,
		sessions:  deps.Sessions,
		titles:    deps.Titles,
		broadcast: deps.Broadcast,
		clock:     deps.Clock,
		pgHealth:  deps.PGHealth,
		rdHealth:  deps.RDHealth,
		startTime: deps.Clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
