// Package store persists the price history of every catalog product.
package store

import (
	"context"
	"time"

	"github.com/pricewatch/server/internal/pricing/model"
)

// Store appends run batches to product histories. Record is a single durable
// step: either the whole database reflects the new entry or nothing changed.
// Every failure is an errx persistence error.
type Store interface {
	Record(ctx context.Context, id model.ProductID, batch []model.PriceObservation) (*model.ProductPriceRecord, error)
	Load(ctx context.Context) (*model.PriceDatabase, error)
	Close() error
}

// Options are shared by the store implementations.
type Options struct {
	// RecordEmpty appends an entry with no prices when a run observed nothing.
	// When false an empty batch leaves the store untouched.
	RecordEmpty bool
	// Now stamps history entries. Defaults to time.Now.
	Now func() time.Time
	// Locker guards the load-mutate-store step of a JSONStore. Defaults to a
	// lock file next to the database.
	Locker Locker
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

type runIDKey struct{}

// WithRunID tags the entries recorded under ctx with a run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run id set by WithRunID, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
