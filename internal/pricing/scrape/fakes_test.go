package scrape

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pricewatch/server/internal/pricing/model"
)

var errUnreachable = errors.New("net::ERR_CONNECTION_REFUSED")

type fakeCapturer struct {
	mu       sync.Mutex
	failures map[string]int // url -> remaining failures, -1 = always
	delay    time.Duration // how long a successful capture takes
	calls    []string
	times    []time.Time
	ends     []time.Time
	inflight atomic.Int32
	overlap  atomic.Bool
}

func (f *fakeCapturer) Capture(ctx context.Context, url string) (*model.Snapshot, error) {
	if f.inflight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inflight.Add(-1)

	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.times = append(f.times, time.Now())
	n := f.failures[url]
	if n > 0 {
		f.failures[url] = n - 1
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.ends = append(f.ends, time.Now())
		f.mu.Unlock()
	}()
	if n != 0 {
		return nil, errUnreachable
	}
	d := f.delay
	if d <= 0 {
		d = time.Millisecond
	}
	time.Sleep(d)
	return &model.Snapshot{URL: url, Image: []byte("png:" + url), Markup: "<html></html>", CapturedAt: time.Now()}, nil
}

func (f *fakeCapturer) Close() error { return nil }

func (f *fakeCapturer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type reply struct {
	raw string
	err error
}

type fakeOracle struct {
	mu      sync.Mutex
	scripts map[string][]reply // retailer -> replies; the last one repeats
	panics  map[string]bool
	calls   map[string]int
}

func (f *fakeOracle) Extract(_ context.Context, snapshot []byte, hint model.Hint) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	n := f.calls[hint.Retailer]
	f.calls[hint.Retailer]++
	if f.panics[hint.Retailer] {
		panic("oracle exploded")
	}
	script := f.scripts[hint.Retailer]
	if len(script) == 0 {
		return `{"price": 1, "in_stock": true, "currency": "USD"}`, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n].raw, script[n].err
}

func (f *fakeOracle) count(retailer string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[retailer]
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func product(urls ...model.RetailerURL) model.Product {
	return model.Product{ID: "1", Name: "Vortex Viper PST Gen II 5-25x50", Brand: "Vortex", URLs: urls}
}
