package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/stream"
)

const wsWriteDeadline = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced on the signin endpoints
	},
}

// resolveSubscription validates the stream entry point: the product must
// exist and belong to the requesting user before any state is created.
func (s *Server) resolveSubscription(c echo.Context) (domain.SubscriptionKey, *domain.TrackedProduct, error) {
	productID, err := strconv.ParseInt(c.QueryParam("product_id"), 10, 64)
	if err != nil {
		return domain.SubscriptionKey{}, nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid product_id")
	}

	userID := currentUserID(c)
	product, err := s.products.GetByID(c.Request().Context(), productID, userID)
	if errors.Is(err, domain.ErrProductNotFound) {
		return domain.SubscriptionKey{}, nil, echo.NewHTTPError(http.StatusNotFound, "Product not found")
	}
	if err != nil {
		slog.Error("Failed to resolve subscription", "product_id", productID, "error", err)
		return domain.SubscriptionKey{}, nil, echo.NewHTTPError(http.StatusInternalServerError, "Failed to start stream")
	}

	return domain.SubscriptionKey{ProductID: productID, UserID: userID}, product, nil
}

func (s *Server) newSession(key domain.SubscriptionKey, url string) (*stream.Connection, *stream.Session) {
	conn := s.broadcast.Subscribe(key, url)
	return conn, stream.NewSession(conn, s.broadcast, s.history, s.clock, s.config.KeepaliveInterval, s.config.PollInterval)
}

// handleTrackPrice streams price updates as server-sent events.
func (s *Server) handleTrackPrice(c echo.Context) error {
	key, product, err := s.resolveSubscription(c)
	if err != nil {
		return err
	}

	conn, session := s.newSession(key, product.URL)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	if err := session.Run(c.Request().Context(), &sseWriter{resp: resp}); err != nil {
		slog.Debug("SSE stream ended with write error", "connection_id", conn.ID.String(), "error", err)
	}
	return nil
}

type sseWriter struct {
	resp *echo.Response
}

func (w *sseWriter) WriteEvent(data []byte) error {
	if _, err := fmt.Fprintf(w.resp, "data: %s\n\n", data); err != nil {
		return err
	}
	w.resp.Flush()
	return nil
}

// handleTrackPriceWS streams the same event sequence over a WebSocket,
// one JSON event per text message.
func (s *Server) handleTrackPriceWS(c echo.Context) error {
	key, product, err := s.resolveSubscription(c)
	if err != nil {
		return err
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	conn, session := s.newSession(key, product.URL)

	// The read pump detects client disconnects; inbound payloads are
	// otherwise ignored.
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := session.Run(ctx, &wsWriter{conn: ws}); err != nil {
		slog.Debug("WebSocket stream ended with write error", "connection_id", conn.ID.String(), "error", err)
	}
	return nil
}

type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) WriteEvent(data []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}
