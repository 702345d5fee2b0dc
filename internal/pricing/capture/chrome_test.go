package capture

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/model"
)

func TestExecOptionsExtendDefaults(t *testing.T) {
	base := execOptions(model.CaptureConfig{})
	full := execOptions(model.CaptureConfig{UserAgent: "ua", Width: 800, Height: 600})
	if len(full) != len(base)+2 {
		t.Fatalf("user agent and window size should add two options, got %d -> %d", len(base), len(full))
	}
}

// Needs a local Chrome; enabled with CHROME_CAPTURE_TEST=1.
func TestChromeCapturerRendersPage(t *testing.T) {
	if os.Getenv("CHROME_CAPTURE_TEST") == "" {
		t.Skip("set CHROME_CAPTURE_TEST=1 to run against a local Chrome")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Aimpoint PRO</h1><span class="price">$499.00</span></body></html>`)
	}))
	defer srv.Close()

	c, err := NewChromeCapturer(model.CaptureConfig{Timeout: 20 * time.Second, Headless: true, Width: 800, Height: 600})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	snap, err := c.Capture(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(snap.Image, []byte("\x89PNG")) {
		t.Error("screenshot is not a PNG")
	}
	if !strings.Contains(snap.Markup, "$499.00") {
		t.Errorf("markup missing price: %s", snap.Markup)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Capture(context.Background(), srv.URL); errx.KindOf(err) != errx.KindCapture {
		t.Fatalf("capture after close: want capture error, got %v", err)
	}
}
