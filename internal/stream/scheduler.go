package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/metrics"
)

// extractTimeout bounds a single page fetch so one stuck request cannot
// stall a job past its next tick indefinitely.
const extractTimeout = 45 * time.Second

// PublishFunc receives every sample a job produces.
type PublishFunc func(key domain.SubscriptionKey, sample domain.PriceSample)

type job struct {
	url    string
	cancel context.CancelFunc
}

// Scheduler owns the recurring price-fetch jobs, one per subscription key.
// A job fires once immediately on arm, then on every period until disarmed.
// The same product tracked by two users runs two independent jobs.
type Scheduler struct {
	extractor domain.Extractor
	publish   PublishFunc
	period    time.Duration
	clock     clockwork.Clock

	mu   sync.Mutex
	jobs map[domain.SubscriptionKey]*job
	wg   sync.WaitGroup
}

func NewScheduler(extractor domain.Extractor, publish PublishFunc, period time.Duration, clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		extractor: extractor,
		publish:   publish,
		period:    period,
		clock:     clock,
		jobs:      make(map[domain.SubscriptionKey]*job),
	}
}

// Arm schedules a recurring fetch for key. It is idempotent: if a job for
// the key already exists, the existing timer is left untouched.
func (s *Scheduler) Arm(key domain.SubscriptionKey, url string) {
	s.mu.Lock()
	if _, exists := s.jobs[key]; exists {
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.jobs[key] = &job{url: url, cancel: cancel}
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.ArmedJobs.Inc()
	slog.Info("Armed price polling job",
		"product_id", key.ProductID,
		"user_id", key.UserID,
		"period", s.period,
	)

	go s.run(ctx, key, url)
}

// Disarm stops the job for key. It is a no-op when no job exists.
func (s *Scheduler) Disarm(key domain.SubscriptionKey) {
	s.mu.Lock()
	j, exists := s.jobs[key]
	if exists {
		delete(s.jobs, key)
	}
	s.mu.Unlock()

	if !exists {
		return
	}

	j.cancel()
	metrics.ArmedJobs.Dec()
	slog.Info("Disarmed price polling job", "product_id", key.ProductID, "user_id", key.UserID)
}

// Armed reports whether a job exists for key.
func (s *Scheduler) Armed(key domain.SubscriptionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.jobs[key]
	return exists
}

// Stop disarms every job and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	keys := make([]domain.SubscriptionKey, 0, len(s.jobs))
	for key := range s.jobs {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.Disarm(key)
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, key domain.SubscriptionKey, url string) {
	defer s.wg.Done()

	s.fire(ctx, key, url)

	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.fire(ctx, key, url)
		}
	}
}

// fire runs one extraction and hands the result to the broadcaster.
// Extraction failures come back as error-tagged samples, so a fire never
// stops the schedule.
func (s *Scheduler) fire(ctx context.Context, key domain.SubscriptionKey, url string) {
	fetchCtx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	sample := s.extractor.Extract(fetchCtx, key, url)

	if sample.OK() {
		metrics.SamplesTotal.WithLabelValues("ok").Inc()
	} else {
		metrics.SamplesTotal.WithLabelValues("error").Inc()
		slog.Debug("Price extraction failed",
			"product_id", key.ProductID,
			"user_id", key.UserID,
			"error", sample.Err,
		)
	}

	// A disarm that raced the fetch drops the sample instead of
	// publishing after teardown.
	if ctx.Err() != nil {
		return
	}

	s.publish(key, sample)
}
