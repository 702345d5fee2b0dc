package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/model"
	logx "github.com/pricewatch/server/pkg/logger"
)

// ChromeCapturer drives one headless Chrome tab. Calls are serialised; the
// tab is relaunched when the browser has died.
type ChromeCapturer struct {
	cfg model.CaptureConfig

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	closed      bool
}

// NewChromeCapturer launches the browser eagerly so the first capture does
// not pay the startup cost inside its timeout.
func NewChromeCapturer(cfg model.CaptureConfig) (*ChromeCapturer, error) {
	c := &ChromeCapturer{cfg: cfg}
	if err := c.launch(); err != nil {
		return nil, err
	}
	return c, nil
}

func execOptions(cfg model.CaptureConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Width, cfg.Height))
	}
	return opts
}

// launch must be called with mu held (or before the capturer is shared).
func (c *ChromeCapturer) launch() error {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOptions(c.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser; it must not run under a short-lived
	// context or cancelling that context would kill the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return errx.Capture(fmt.Errorf("start browser: %w", err))
	}

	c.allocCancel = allocCancel
	c.tabCtx = tabCtx
	c.tabCancel = tabCancel
	logx.Debug().Bool("headless", c.cfg.Headless).Msg("browser session started")
	return nil
}

func (c *ChromeCapturer) shutdown() {
	if c.tabCancel != nil {
		c.tabCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.tabCtx, c.tabCancel, c.allocCancel = nil, nil, nil
}

// Capture implements Capturer.
func (c *ChromeCapturer) Capture(ctx context.Context, url string) (*model.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errx.Capture(fmt.Errorf("capturer closed"))
	}
	if c.tabCtx == nil || c.tabCtx.Err() != nil {
		logx.Warn().Str("url", url).Msg("browser session lost, relaunching")
		c.shutdown()
		if err := c.launch(); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithTimeout(c.tabCtx, c.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		image  []byte
		markup string
	)
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(c.cfg.Settle),
		chromedp.FullScreenshot(&image, 100),
		chromedp.OuterHTML("html", &markup, chromedp.ByQuery),
	)
	if err != nil {
		return nil, errx.Capture(fmt.Errorf("capture %s: %w", url, err))
	}
	if len(image) == 0 {
		return nil, errx.Capture(fmt.Errorf("capture %s: empty screenshot", url))
	}

	return &model.Snapshot{
		URL:        url,
		Image:      image,
		Markup:     markup,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (c *ChromeCapturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.shutdown()
	return nil
}

var _ Capturer = (*ChromeCapturer)(nil)
