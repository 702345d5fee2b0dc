package scrape

import (
	"context"
	"fmt"
	"time"

	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/capture"
	"github.com/pricewatch/server/internal/pricing/model"
	"github.com/pricewatch/server/internal/pricing/oracle"
	"github.com/pricewatch/server/internal/pricing/parsers"
	logx "github.com/pricewatch/server/pkg/logger"
)

// Retry bounds how often transient capture and oracle failures are retried.
type Retry struct {
	Max      int
	Initial  time.Duration
	MaxDelay time.Duration
}

// RetryFromConfig maps the scrape settings onto a Retry.
func RetryFromConfig(cfg model.ScrapeConfig) Retry {
	return Retry{Max: cfg.MaxRetries, Initial: cfg.BackoffInitial, MaxDelay: cfg.BackoffMax}
}

// Backoff is the delay before retry number attempt+1: Initial*2^attempt, capped.
func (r Retry) Backoff(attempt int) time.Duration {
	if r.Initial <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := r.Initial * time.Duration(1<<attempt)
	if r.MaxDelay > 0 && (d > r.MaxDelay || d <= 0) {
		d = r.MaxDelay
	}
	return d
}

// Task scrapes one retailer page of one product. A Task owns its capture
// session: it must only run one scrape at a time.
type Task struct {
	capturer        capture.Capturer
	oracle          oracle.Oracle
	gate            *Gate
	retry           Retry
	defaultCurrency string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// TaskOption customises a Task.
type TaskOption func(*Task)

// WithClock overrides the clock used to stamp observations.
func WithClock(now func() time.Time) TaskOption {
	return func(t *Task) { t.now = now }
}

// WithSleep overrides the backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) TaskOption {
	return func(t *Task) { t.sleep = sleep }
}

// NewTask builds a Task around one capture session. A nil gate disables
// request spacing.
func NewTask(c capture.Capturer, o oracle.Oracle, gate *Gate, retry Retry, defaultCurrency string, opts ...TaskOption) *Task {
	if gate == nil {
		gate = NewGate(0)
	}
	if retry.Max < 0 {
		retry.Max = 0
	}
	t := &Task{
		capturer:        c,
		oracle:          o,
		gate:            gate,
		retry:           retry,
		defaultCurrency: defaultCurrency,
		now:             time.Now,
		sleep:           sleepCtx,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run returns an observation with a price, or nil and the reason there is
// none. Failures never escape as errors; they only show up in the outcome.
func (t *Task) Run(ctx context.Context, product model.Product, retailer, url string) (*model.PriceObservation, model.Outcome) {
	hint := model.Hint{ProductName: product.Name, Retailer: retailer}
	// the next retailer waits out the delay from here, after the oracle call
	defer t.gate.Done()

	snap, err := withRetry(ctx, t, "capture", retailer, func() (*model.Snapshot, error) {
		if err := t.gate.Wait(ctx); err != nil {
			return nil, err
		}
		snap, err := t.capturer.Capture(ctx, url)
		t.gate.Done()
		if err == nil && snap == nil {
			err = fmt.Errorf("capture returned no snapshot")
		}
		if err != nil && errx.KindOf(err) == errx.KindUnknown {
			err = errx.Capture(err)
		}
		return snap, err
	})
	if err != nil {
		logx.Warn().Err(err).
			Str("product_id", product.ID.String()).
			Str("retailer", retailer).
			Str("url", url).
			Msg("capture failed, skipping retailer")
		return nil, model.OutcomeCaptureFailed
	}

	raw, err := withRetry(ctx, t, "oracle", retailer, func() (string, error) {
		raw, err := t.oracle.Extract(ctx, snap.Image, hint)
		if err != nil && errx.KindOf(err) == errx.KindUnknown {
			err = errx.Oracle(err)
		}
		return raw, err
	})
	if err != nil {
		if errx.KindOf(err) == errx.KindValidation {
			logx.Info().Err(err).Str("product_id", product.ID.String()).Str("retailer", retailer).Msg("no price extracted")
			return nil, model.OutcomeNoPrice
		}
		logx.Warn().Err(err).
			Str("product_id", product.ID.String()).
			Str("retailer", retailer).
			Msg("oracle failed, skipping retailer")
		return nil, model.OutcomeOracleFailed
	}

	ext, err := parsers.ParsePriceResponse(raw, hint, t.defaultCurrency)
	if err != nil || !ext.Price.Valid {
		logx.Info().Str("product_id", product.ID.String()).Str("retailer", retailer).Msg("no price extracted")
		return nil, model.OutcomeNoPrice
	}

	obs := &model.PriceObservation{
		Retailer:  retailer,
		Price:     ext.Price.Decimal,
		Currency:  ext.Currency,
		InStock:   ext.InStock,
		URL:       url,
		Timestamp: t.now().UTC(),
	}
	logx.Info().
		Str("product_id", product.ID.String()).
		Str("retailer", retailer).
		Str("price", obs.Price.String()).
		Str("currency", obs.Currency).
		Bool("in_stock", obs.InStock).
		Msg("price observed")
	return obs, model.OutcomeObserved
}

// withRetry runs fn until it succeeds, fails with a non-transient error, the
// retry budget is spent or ctx is done.
func withRetry[T any](ctx context.Context, t *Task, op, retailer string, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= t.retry.Max; attempt++ {
		if attempt > 0 {
			d := t.retry.Backoff(attempt - 1)
			logx.Debug().Str("op", op).Str("retailer", retailer).Int("attempt", attempt+1).Dur("backoff", d).Msg("retrying")
			if err := t.sleep(ctx, d); err != nil {
				return zero, errx.New(err, errx.KindOf(lastErr), 0, "retry aborted")
			}
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !errx.IsTransient(err) || ctx.Err() != nil {
			return zero, err
		}
		logx.Warn().Err(err).Str("op", op).Str("retailer", retailer).Int("attempt", attempt+1).Msg("transient failure")
	}
	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
