package runner

import (
	"context"
	"time"

	"github.com/pricewatch/server/internal/pricing/model"
	logx "github.com/pricewatch/server/pkg/logger"
)

// Runner is satisfied by *Controller.
type Runner interface {
	Run(ctx context.Context) (model.RunSummary, error)
}

// Schedule runs r once immediately and then every interval until ctx is
// cancelled. It returns the first run error, which is always a persistence
// failure.
func Schedule(ctx context.Context, r Runner, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logx.Info().Dur("interval", interval).Msg("scheduler started")

	if _, err := r.Run(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			logx.Info().Msg("scheduler stopping")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			if _, err := r.Run(ctx); err != nil {
				return err
			}
		}
	}
}
