package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/metrics"
)

// EventWriter is the outbound half of a stream transport: an ordered
// server-to-client text stream. A write error is the only failure that
// terminates a session.
type EventWriter interface {
	WriteEvent(data []byte) error
}

type connectedEvent struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	Timestamp    string `json:"timestamp"`
}

type priceDataEvent struct {
	Type         string   `json:"type"`
	ProductID    int64    `json:"product_id"`
	UserID       int64    `json:"user_id"`
	Price        *float64 `json:"price,omitempty"`
	Error        string   `json:"error,omitempty"`
	SelectorUsed string   `json:"selector_used,omitempty"`
	Name         string   `json:"name,omitempty"`
	Timestamp    string   `json:"timestamp"`
}

type keepaliveEvent struct {
	Type         string `json:"type"`
	Timestamp    string `json:"timestamp"`
	NextUpdateIn string `json:"next_update_in"`
}

type errorEvent struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Session turns one connection's incoming samples into the outgoing event
// sequence: connected first, then an immediate price_data when a last-known
// sample exists, then interleaved price_data and keepalive events until the
// client disconnects or a terminal error event is sent. Teardown releases
// the connection exactly once on every exit path.
type Session struct {
	conn        *Connection
	broadcaster *Broadcaster
	history     domain.HistoryStore
	clock       clockwork.Clock
	keepalive   time.Duration
	pollPeriod  time.Duration
}

func NewSession(conn *Connection, broadcaster *Broadcaster, history domain.HistoryStore, clock clockwork.Clock, keepalive, pollPeriod time.Duration) *Session {
	return &Session{
		conn:        conn,
		broadcaster: broadcaster,
		history:     history,
		clock:       clock,
		keepalive:   keepalive,
		pollPeriod:  pollPeriod,
	}
}

// Run drives the session until the context is cancelled (client
// disconnect), a terminal error event is emitted, or a transport write
// fails. Only a transport failure surfaces as a returned error.
func (s *Session) Run(ctx context.Context, w EventWriter) error {
	defer s.broadcaster.Release(s.conn)

	log := slog.With(
		"connection_id", s.conn.ID.String(),
		"product_id", s.conn.Key.ProductID,
		"user_id", s.conn.Key.UserID,
	)
	log.Info("Stream session started")
	defer log.Info("Stream session closed")

	err := s.emit(w, connectedEvent{
		Type:         "connected",
		ConnectionID: s.conn.ID.String(),
		Timestamp:    s.timestamp(),
	})
	if err != nil {
		return err
	}

	if last, ok := s.broadcaster.LastKnown(s.conn.Key); ok {
		terminal, err := s.emitSample(ctx, w, last)
		if err != nil || terminal {
			return err
		}
	}

	timer := s.clock.NewTimer(s.keepalive)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case sample, ok := <-s.conn.Samples():
			if !ok {
				// The registry closed the channel: this
				// connection was evicted after a delivery
				// failure.
				log.Warn("Stream session closing after eviction")
				return nil
			}
			terminal, err := s.emitSample(ctx, w, sample)
			if err != nil || terminal {
				return err
			}
			// Discard a keepalive tick that fired while the
			// sample was being written; Reset would replay it
			// immediately otherwise.
			if !timer.Stop() {
				select {
				case <-timer.Chan():
				default:
				}
			}
			timer.Reset(s.keepalive)

		case <-timer.Chan():
			err := s.emit(w, keepaliveEvent{
				Type:         "keepalive",
				Timestamp:    s.timestamp(),
				NextUpdateIn: fmt.Sprintf("%s from last price update", s.pollPeriod),
			})
			if err != nil {
				return err
			}
			metrics.KeepalivesTotal.Inc()
			timer.Reset(s.keepalive)
		}
	}
}

// emitSample writes a price_data event and persists successful samples.
// A persistence failure is reported to the client as a terminal error
// event; the underlying poll job is unaffected. terminal=true means the
// session should close without a transport error.
func (s *Session) emitSample(ctx context.Context, w EventWriter, sample domain.PriceSample) (terminal bool, err error) {
	event := priceDataEvent{
		Type:      "price_data",
		ProductID: sample.ProductID,
		UserID:    sample.UserID,
		Timestamp: sample.Timestamp.Format(time.RFC3339Nano),
	}

	if sample.OK() {
		price := sample.Price
		event.Price = &price
		event.SelectorUsed = sample.Selector

		name, saveErr := s.history.SavePriceHistory(ctx, sample.ProductID, sample.Price, sample.Timestamp)
		if saveErr != nil {
			slog.Error("Failed to persist price sample",
				"connection_id", s.conn.ID.String(),
				"product_id", sample.ProductID,
				"error", saveErr,
			)
			emitErr := s.emit(w, errorEvent{
				Type:      "error",
				Error:     saveErr.Error(),
				Timestamp: s.timestamp(),
			})
			return true, emitErr
		}
		event.Name = name
	} else {
		event.Error = sample.Err
	}

	return false, s.emit(w, event)
}

func (s *Session) emit(w EventWriter, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return w.WriteEvent(data)
}

func (s *Session) timestamp() string {
	return s.clock.Now().Format(time.RFC3339Nano)
}
