package sched

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/metrics"
)

const (
	// idleWait bounds how long the loop sleeps when no subscription
	// lapses within the store's look-ahead window.
	idleWait = time.Minute

	// fetchAttempts and fetchRetryBase shape the backoff on transient
	// store failures while reading the next lapse time.
	fetchAttempts  = 5
	fetchRetryBase = 10 * time.Millisecond
)

// Store is the slice of the database the scheduler needs.
type Store interface {
	FetchSoonestLapse(ctx context.Context) (*time.Time, error)
	ProcessOneLapsed(ctx context.Context) (*db.LapseOutcome, error)
}

// Scheduler owns the subscription renewal loop. Exactly one Run must
// be active per store; single-threadedness here plus the store's row
// locks guarantee at most one renewal attempt per subscription is in
// flight.
type Scheduler struct {
	store   Store
	signals *Notifier
	logger  *slog.Logger
	metrics *metrics.Metrics
	onLapse func(*db.LapseOutcome)
}

// New creates a scheduler. The metrics handle may be nil.
func New(store Store, signals *Notifier, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		store:   store,
		signals: signals,
		logger:  logger,
		metrics: m,
	}
}

// OnLapse registers a hook invoked after each processed lapse, before
// the loop moves on. The server uses it to broadcast renewal
// transactions. Must be set before Run.
func (s *Scheduler) OnLapse(fn func(*db.LapseOutcome)) {
	s.onLapse = fn
}

// Run executes the renewal loop until the context is canceled or the
// notifier is closed. Each pass reads the soonest lapse, sleeps until
// it is due or a notification arrives, and processes one lapsed
// subscription when the timer wins the race. A notification always
// re-reads the store first, since the change that triggered it may
// have moved the next lapse earlier.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("subscription scheduler started")
	for {
		next, err := s.fetchSoonest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("giving up reading next lapse until the next wake", "error", err)
			s.recordError("fetch")
			next = nil
		}

		wait := idleWait
		due := false
		if next != nil {
			wait = time.Until(*next)
			due = true
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("subscription scheduler stopping", "reason", "context canceled")
			return ctx.Err()

		case _, ok := <-s.signals.C():
			timer.Stop()
			if !ok {
				s.logger.Info("subscription scheduler stopping", "reason", "notifier closed")
				return nil
			}
			// One wake per burst: collapse whatever queued up while
			// we slept, then re-read the store.
			s.signals.Drain()

		case <-timer.C:
			if due {
				s.processOne(ctx)
			}
		}
	}
}

// fetchSoonest reads the next lapse time, retrying transient store
// failures with exponential backoff.
func (s *Scheduler) fetchSoonest(ctx context.Context) (*time.Time, error) {
	var lastErr error
	delay := fetchRetryBase
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		next, err := s.store.FetchSoonestLapse(ctx)
		if err == nil {
			return next, nil
		}
		lastErr = err
		s.logger.Warn("failed to read next lapse",
			"attempt", attempt,
			"error", err,
		)
	}
	return nil, lastErr
}

// processOne resolves a single lapsed subscription. Errors never stop
// the loop: a desync means another writer got there first and is
// logged at warn, anything else is logged at error, and the next pass
// re-reads the store either way.
func (s *Scheduler) processOne(ctx context.Context) {
	outcome, err := s.store.ProcessOneLapsed(ctx)
	if err != nil {
		if kerr.KindOf(err) == kerr.KindDesync {
			s.logger.Warn("subscription changed underneath the scheduler", "error", err)
			s.recordError("desync")
			return
		}
		s.logger.Error("failed to process lapsed subscription", "error", err)
		s.recordError("store")
		return
	}
	if outcome == nil {
		// The lapse we slept towards was resolved by the time we woke,
		// or was further out than the processing window.
		return
	}

	s.logger.Info("subscription lapse processed",
		"subscription_id", outcome.SubscriptionID,
		"contract_id", outcome.ContractID,
		"action", outcome.Action,
	)
	if s.metrics != nil {
		s.metrics.RecordSchedulerLapse(string(outcome.Action))
	}
	if s.onLapse != nil {
		s.onLapse(outcome)
	}
}

func (s *Scheduler) recordError(reason string) {
	if s.metrics != nil {
		s.metrics.RecordSchedulerError(reason)
	}
}
