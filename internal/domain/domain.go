// Package domain holds the core types and port interfaces shared across
// the application.
package domain

import (
	"context"
	"time"
)

// User is an account that tracks products.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Name         string
	CreatedAt    time.Time
}

// TrackedProduct is a product page a user watches for price changes.
type TrackedProduct struct {
	ID        int64
	Name      string
	URL       string
	UserID    int64
	CreatedAt time.Time
}

// ProductPrice is one persisted price observation for a tracked product.
type ProductPrice struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Price     float64   `json:"price"`
	PriceAt   time.Time `json:"price_at"`
}

// SubscriptionKey identifies one user's interest in one product's price.
// Polling jobs, the last-known cache, and stream connections are all keyed
// by it.
type SubscriptionKey struct {
	ProductID int64
	UserID    int64
}

// PriceSample is one poll result: either a successfully extracted price or
// a tagged error. Exactly one of Price and Err is meaningful.
type PriceSample struct {
	ProductID int64
	UserID    int64
	Price     float64
	Selector  string
	Err       string
	Timestamp time.Time
}

// OK reports whether the sample carries a price rather than an error.
func (s PriceSample) OK() bool {
	return s.Err == ""
}

// Key returns the subscription key the sample belongs to.
func (s PriceSample) Key() SubscriptionKey {
	return SubscriptionKey{ProductID: s.ProductID, UserID: s.UserID}
}

// Extractor fetches a product page and extracts a price from it. It never
// returns a Go error: network failures and missing prices both come back as
// an error-tagged sample.
type Extractor interface {
	Extract(ctx context.Context, key SubscriptionKey, url string) PriceSample
}

// HistoryStore persists price observations. SavePriceHistory returns the
// name of the product the price belongs to.
type HistoryStore interface {
	SavePriceHistory(ctx context.Context, productID int64, price float64, at time.Time) (string, error)
}

// ProductRepository is the persistence port for tracked products.
type ProductRepository interface {
	Insert(ctx context.Context, product *TrackedProduct) (int64, error)
	GetByID(ctx context.Context, productID, userID int64) (*TrackedProduct, error)
	ListByUser(ctx context.Context, userID int64) ([]TrackedProduct, error)
	Delete(ctx context.Context, productID, userID int64) error
	ListPrices(ctx context.Context, productID, userID int64) ([]ProductPrice, error)
}

// UserRepository is the persistence port for user accounts.
type UserRepository interface {
	Insert(ctx context.Context, user *User) (int64, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// SessionStore holds authenticated sessions (token -> user id) with a TTL.
type SessionStore interface {
	Create(ctx context.Context, userID int64) (string, error)
	Lookup(ctx context.Context, token string) (int64, error)
	Destroy(ctx context.Context, token string) error
}
