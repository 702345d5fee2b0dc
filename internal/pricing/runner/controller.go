// Package runner drives scrape runs over the whole catalog.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"

	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/model"
	"github.com/pricewatch/server/internal/pricing/store"
	logx "github.com/pricewatch/server/pkg/logger"
)

// Scraper is satisfied by *scrape.Orchestrator.
type Scraper interface {
	ScrapeProduct(ctx context.Context, product model.Product) model.ProductResult
}

// Controller runs the whole catalog through the scraper and persists each
// product's results as soon as it finishes.
type Controller struct {
	catalog []model.Product
	scraper Scraper
	store   store.Store

	now      func() time.Time
	newRunID func() string
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRunIDs overrides how run IDs are generated.
func WithRunIDs(next func() string) Option {
	return func(c *Controller) { c.newRunID = next }
}

// NewController returns a Controller over catalog. The catalog order is the
// processing order.
func NewController(catalog []model.Product, scraper Scraper, st store.Store, opts ...Option) *Controller {
	c := &Controller{
		catalog:  catalog,
		scraper:  scraper,
		store:    st,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run scrapes and records every catalog product once. Product and retailer
// failures only show up in the summary; a persistence failure stops the run
// and is returned. Cancelling ctx ends the run after the current product.
func (c *Controller) Run(ctx context.Context) (model.RunSummary, error) {
	summary := model.RunSummary{
		RunID:     c.newRunID(),
		StartedAt: c.now().UTC(),
		Outcomes:  map[model.Outcome]int{},
		Misses:    []model.Miss{},
	}
	ctx = store.WithRunID(ctx, summary.RunID)

	logx.Info().Str("run_id", summary.RunID).Int("products", len(c.catalog)).Msg("run started")

	for _, product := range c.catalog {
		if ctx.Err() != nil {
			logx.Warn().Str("run_id", summary.RunID).Msg("run interrupted")
			break
		}

		res := c.scraper.ScrapeProduct(ctx, product)
		summary.Add(res)

		// a scraped batch is recorded even when the run is being cancelled
		_, err := c.store.Record(context.WithoutCancel(ctx), product.ID, res.Batch)
		if err != nil {
			if errx.IsPersistence(err) {
				logx.Error().Err(err).
					Str("run_id", summary.RunID).
					Str("product_id", product.ID.String()).
					Msg("failed to record price history, aborting run")
				summary.FinishedAt = c.now().UTC()
				return summary, err
			}
			logx.Warn().Err(err).Str("product_id", product.ID.String()).Msg("product not recorded")
			continue
		}

		if len(res.Batch) > 0 {
			summary.ProductsRecorded++
			summary.ObservationsRecorded += len(res.Batch)
		}
		logx.Info().
			Str("run_id", summary.RunID).
			Str("product_id", product.ID.String()).
			Str("product", product.Name).
			Int("observations", len(res.Batch)).
			Int("retailers", len(res.Retailers)).
			Msg("product recorded")
	}

	summary.FinishedAt = c.now().UTC()
	logSummary(summary)
	return summary, nil
}

func logSummary(s model.RunSummary) {
	ev := logx.Info().
		Str("run_id", s.RunID).
		Int("products_processed", s.ProductsProcessed).
		Int("products_recorded", s.ProductsRecorded).
		Int("observations_recorded", s.ObservationsRecorded).
		Int("misses", len(s.Misses)).
		Dur("took", s.FinishedAt.Sub(s.StartedAt))
	for outcome, n := range s.Outcomes {
		ev = ev.Int("outcome_"+string(outcome), n)
	}
	ev.Msg("run finished")

	for _, m := range s.Misses {
		logx.Info().
			Str("run_id", s.RunID).
			Str("product_id", m.ProductID.String()).
			Str("retailer", m.Retailer).
			Str("outcome", string(m.Outcome)).
			Msg("retailer yielded nothing")
	}
}
