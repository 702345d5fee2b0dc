// Package capture renders product pages into snapshots.
package capture

import (
	"context"

	"github.com/pricewatch/server/internal/pricing/model"
)

// Capturer renders one url at a time. Implementations own a stateful browser
// session and must not be shared between concurrent scrape tasks.
type Capturer interface {
	Capture(ctx context.Context, url string) (*model.Snapshot, error)
	Close() error
}
