package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/config"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/stream"
)

type mockUserRepo struct {
	insertFn     func(ctx context.Context, user *domain.User) (int64, error)
	getByEmailFn func(ctx context.Context, email string) (*domain.User, error)
}

func (m *mockUserRepo) Insert(ctx context.Context, user *domain.User) (int64, error) {
	if m.insertFn != nil {
		return m.insertFn(ctx, user)
	}
	return 1, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if m.getByEmailFn != nil {
		return m.getByEmailFn(ctx, email)
	}
	return nil, domain.ErrUserNotFound
}

type mockProductRepo struct {
	insertFn     func(ctx context.Context, product *domain.TrackedProduct) (int64, error)
	getByIDFn    func(ctx context.Context, productID, userID int64) (*domain.TrackedProduct, error)
	listByUserFn func(ctx context.Context, userID int64) ([]domain.TrackedProduct, error)
	deleteFn     func(ctx context.Context, productID, userID int64) error
	listPricesFn func(ctx context.Context, productID, userID int64) ([]domain.ProductPrice, error)
}

func (m *mockProductRepo) Insert(ctx context.Context, product *domain.TrackedProduct) (int64, error) {
	if m.insertFn != nil {
		return m.insertFn(ctx, product)
	}
	return 1, nil
}

func (m *mockProductRepo) GetByID(ctx context.Context, productID, userID int64) (*domain.TrackedProduct, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, productID, userID)
	}
	return nil, domain.ErrProductNotFound
}

func (m *mockProductRepo) ListByUser(ctx context.Context, userID int64) ([]domain.TrackedProduct, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockProductRepo) Delete(ctx context.Context, productID, userID int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, productID, userID)
	}
	return nil
}

func (m *mockProductRepo) ListPrices(ctx context.Context, productID, userID int64) ([]domain.ProductPrice, error) {
	if m.listPricesFn != nil {
		return m.listPricesFn(ctx, productID, userID)
	}
	return nil, nil
}

type mockHistoryStore struct {
	saveFn func(ctx context.Context, productID int64, price float64, at time.Time) (string, error)
}

func (m *mockHistoryStore) SavePriceHistory(ctx context.Context, productID int64, price float64, at time.Time) (string, error) {
	if m.saveFn != nil {
		return m.saveFn(ctx, productID, price, at)
	}
	return "Widget", nil
}

type mockSessionStore struct {
	createFn  func(ctx context.Context, userID int64) (string, error)
	lookupFn  func(ctx context.Context, token string) (int64, error)
	destroyFn func(ctx context.Context, token string) error
}

func (m *mockSessionStore) Create(ctx context.Context, userID int64) (string, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID)
	}
	return "test-token", nil
}

func (m *mockSessionStore) Lookup(ctx context.Context, token string) (int64, error) {
	if m.lookupFn != nil {
		return m.lookupFn(ctx, token)
	}
	return 0, domain.ErrSessionNotFound
}

func (m *mockSessionStore) Destroy(ctx context.Context, token string) error {
	if m.destroyFn != nil {
		return m.destroyFn(ctx, token)
	}
	return nil
}

type mockTitleFetcher struct {
	fetchFn func(ctx context.Context, url string) (string, error)
}

func (m *mockTitleFetcher) FetchProductName(ctx context.Context, url string) (string, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, url)
	}
	return "Widget", nil
}

type mockExtractor struct {
	extractFn func(ctx context.Context, key domain.SubscriptionKey, url string) domain.PriceSample
}

func (m *mockExtractor) Extract(ctx context.Context, key domain.SubscriptionKey, url string) domain.PriceSample {
	if m.extractFn != nil {
		return m.extractFn(ctx, key, url)
	}
	return domain.PriceSample{ProductID: key.ProductID, UserID: key.UserID, Price: 19.99, Selector: ".a-price .a-offscreen", Timestamp: time.Now()}
}

type mockPinger struct {
	err error
}

func (m mockPinger) Ping(context.Context) error { return m.err }

type testDeps struct {
	users     *mockUserRepo
	products  *mockProductRepo
	history   *mockHistoryStore
	sessions  *mockSessionStore
	titles    *mockTitleFetcher
	extractor *mockExtractor
	registry  *stream.Registry
	scheduler *stream.Scheduler
	pgHealth  mockPinger
	rdHealth  mockPinger
}

func newTestDeps() *testDeps {
	return &testDeps{
		users:     &mockUserRepo{},
		products:  &mockProductRepo{},
		history:   &mockHistoryStore{},
		sessions:  &mockSessionStore{},
		titles:    &mockTitleFetcher{},
		extractor: &mockExtractor{},
	}
}

// authedSessions makes any token resolve to the given user.
func authedSessions(userID int64) *mockSessionStore {
	return &mockSessionStore{
		lookupFn: func(_ context.Context, token string) (int64, error) {
			if token == "" {
				return 0, errors.New("empty token")
			}
			return userID, nil
		},
	}
}

func newTestServer(t *testing.T, d *testDeps) *Server {
	t.Helper()

	cfg := &config.Config{
		AppEnv:            "test",
		Port:              "0",
		CORSOrigins:       "*",
		PollInterval:      time.Hour,
		KeepaliveInterval: time.Minute,
		ChannelBuffer:     16,
	}

	clock := clockwork.NewRealClock()
	registry := stream.NewRegistry(cfg.ChannelBuffer)

	var scheduler *stream.Scheduler
	broadcaster := stream.NewBroadcaster(registry,
		func(key domain.SubscriptionKey, url string) { scheduler.Arm(key, url) },
		func(key domain.SubscriptionKey) { scheduler.Disarm(key) },
	)
	scheduler = stream.NewScheduler(d.extractor, broadcaster.Publish, cfg.PollInterval, clock)
	t.Cleanup(scheduler.Stop)

	d.registry = registry
	d.scheduler = scheduler

	return New(cfg, Deps{
		Users:     d.users,
		Products:  d.products,
		History:   d.history,
		Sessions:  d.sessions,
		Titles:    d.titles,
		Broadcast: broadcaster,
		Clock:     clock,
		PGHealth:  d.pgHealth,
		RDHealth:  d.rdHealth,
	})
}
