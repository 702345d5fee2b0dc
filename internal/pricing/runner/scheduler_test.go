package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/model"
)

type countingRunner struct {
	runs   atomic.Int32
	failAt int32
	onRun  func(n int32)
}

func (r *countingRunner) Run(context.Context) (model.RunSummary, error) {
	n := r.runs.Add(1)
	if r.onRun != nil {
		r.onRun(n)
	}
	if r.failAt > 0 && n >= r.failAt {
		return model.RunSummary{}, errx.Persistence(errors.New("disk full"))
	}
	return model.RunSummary{}, nil
}

func TestScheduleRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &countingRunner{onRun: func(n int32) {
		if n == 3 {
			cancel()
		}
	}}

	done := make(chan error, 1)
	go func() { done <- Schedule(ctx, r, 5*time.Millisecond) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if n := r.runs.Load(); n != 3 {
		t.Fatalf("runs = %d, want 3", n)
	}
}

func TestScheduleStopsOnRunError(t *testing.T) {
	r := &countingRunner{failAt: 2}
	err := Schedule(context.Background(), r, time.Millisecond)
	if !errx.IsPersistence(err) {
		t.Fatalf("want persistence error, got %v", err)
	}
	if n := r.runs.Load(); n != 2 {
		t.Fatalf("runs = %d, want 2", n)
	}
}
