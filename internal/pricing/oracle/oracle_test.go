package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/model"
)

type fakeChatModel struct {
	mu    sync.Mutex
	reply string
	err   error
	block bool
	seen  [][]*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.seen = append(f.seen, input)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	msg := schema.AssistantMessage(f.reply, nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 1200, CompletionTokens: 20, TotalTokens: 1220}}
	return msg, nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

type fakeUploader struct {
	mu        sync.Mutex
	err       error
	uploaded  [][]byte
	mimeTypes []string
	deleted   []string
	deleteCtx []error
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, mimeType string) (StagedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return StagedFile{}, f.err
	}
	f.uploaded = append(f.uploaded, data)
	f.mimeTypes = append(f.mimeTypes, mimeType)
	return StagedFile{Name: "files/snap-1", URI: "https://files.example/v1beta/files/snap-1", MIMEType: mimeType}, nil
}

func (f *fakeUploader) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	f.deleteCtx = append(f.deleteCtx, ctx.Err())
	return nil
}

var (
	png  = []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	hint = model.Hint{ProductName: "Vortex Viper PST", Retailer: "Brownells"}
)

func newOracle(t *testing.T, cm *fakeChatModel, timeout time.Duration) *ChatOracle {
	t.Helper()
	return newOracleWith(t, cm, &fakeUploader{}, timeout)
}

func newOracleWith(t *testing.T, cm *fakeChatModel, up *fakeUploader, timeout time.Duration) *ChatOracle {
	t.Helper()
	o, err := NewChatOracle(context.Background(), cm, up, Options{ModelName: "gemini-2.5-flash", Timeout: timeout, DefaultCurrency: "USD"})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestExtractSendsImageAndInstructions(t *testing.T) {
	cm := &fakeChatModel{reply: `{"price": 1299.99, "in_stock": true, "currency": "USD"}`}
	up := &fakeUploader{}
	o := newOracleWith(t, cm, up, time.Second)

	got, err := o.Extract(context.Background(), png, hint)
	if err != nil {
		t.Fatal(err)
	}
	if got != cm.reply {
		t.Errorf("raw = %q, want %q", got, cm.reply)
	}

	if len(up.uploaded) != 1 || !bytes.Equal(up.uploaded[0], png) || up.mimeTypes[0] != "image/png" {
		t.Fatalf("snapshot not staged as png: %+v", up)
	}
	if len(cm.seen) != 1 || len(cm.seen[0]) != 1 {
		t.Fatalf("unexpected messages sent: %+v", cm.seen)
	}
	msg := cm.seen[0][0]
	if msg.Role != schema.User || len(msg.MultiContent) != 2 {
		t.Fatalf("want one user message with two parts, got %+v", msg)
	}
	part := msg.MultiContent[0]
	if part.Type != schema.ChatMessagePartTypeImageURL || part.ImageURL == nil {
		t.Fatalf("image part malformed: %+v", part)
	}
	if part.ImageURL.URI != "https://files.example/v1beta/files/snap-1" || part.ImageURL.MIMEType != "image/png" {
		t.Errorf("image part does not reference the staged snapshot: %+v", part.ImageURL)
	}
	text := msg.MultiContent[1]
	if text.Type != schema.ChatMessagePartTypeText || !strings.Contains(text.Text, `"Vortex Viper PST" from Brownells`) {
		t.Errorf("instructions missing context: %+v", text)
	}
	if len(up.deleted) != 1 || up.deleted[0] != "files/snap-1" {
		t.Errorf("staged snapshot not deleted: %v", up.deleted)
	}
}

func TestExtractDeletesSnapshotAfterTimeout(t *testing.T) {
	up := &fakeUploader{}
	o := newOracleWith(t, &fakeChatModel{block: true}, up, 20*time.Millisecond)
	if _, err := o.Extract(context.Background(), png, hint); err == nil {
		t.Fatal("expected timeout")
	}
	if len(up.deleted) != 1 {
		t.Fatalf("staged snapshot not deleted: %v", up.deleted)
	}
	if up.deleteCtx[0] != nil {
		t.Errorf("delete ran on a dead context: %v", up.deleteCtx[0])
	}
}

func TestExtractUploadFailureIsTransient(t *testing.T) {
	cm := &fakeChatModel{reply: "{}"}
	o := newOracleWith(t, cm, &fakeUploader{err: errors.New("connection reset by peer")}, time.Second)
	_, err := o.Extract(context.Background(), png, hint)
	if errx.KindOf(err) != errx.KindOracle || !errx.IsTransient(err) {
		t.Fatalf("want transient oracle error, got %v", err)
	}
	if len(cm.seen) != 0 {
		t.Error("model must not be called without a staged snapshot")
	}
}

func TestExtractClassifiesProviderErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      errx.Kind
		transient bool
	}{
		{"bad request", genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"}, errx.KindRejected, false},
		{"bad key", genai.APIError{Code: http.StatusUnauthorized, Status: "UNAUTHENTICATED"}, errx.KindRejected, false},
		{"forbidden", genai.APIError{Code: http.StatusForbidden, Status: "PERMISSION_DENIED"}, errx.KindRejected, false},
		{"unknown model", genai.APIError{Code: http.StatusNotFound, Status: "NOT_FOUND"}, errx.KindRejected, false},
		{"throttled", genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"}, errx.KindOracle, true},
		{"unavailable", genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}, errx.KindOracle, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := &fakeChatModel{err: fmt.Errorf("send message fail: %w", tt.err)}
			_, err := newOracle(t, cm, time.Second).Extract(context.Background(), png, hint)
			if got := errx.KindOf(err); got != tt.kind {
				t.Errorf("kind = %v, want %v (%v)", got, tt.kind, err)
			}
			if got := errx.IsTransient(err); got != tt.transient {
				t.Errorf("transient = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestExtractPromptFailureIsRejected(t *testing.T) {
	cm := &fakeChatModel{reply: "{}"}
	_, err := newOracle(t, cm, time.Second).Extract(context.Background(), png, model.Hint{Retailer: "Brownells"})
	if errx.KindOf(err) != errx.KindRejected || errx.IsTransient(err) {
		t.Fatalf("want rejected error, got %v", err)
	}
	if len(cm.seen) != 0 {
		t.Error("model must not be called when the prompt cannot be rendered")
	}
}

func TestExtractTransportErrorIsTransient(t *testing.T) {
	o := newOracle(t, &fakeChatModel{err: errors.New("503 unavailable")}, time.Second)
	_, err := o.Extract(context.Background(), png, hint)
	if errx.KindOf(err) != errx.KindOracle || !errx.IsTransient(err) {
		t.Fatalf("want transient oracle error, got %v", err)
	}
}

func TestExtractTimeout(t *testing.T) {
	o := newOracle(t, &fakeChatModel{block: true}, 20*time.Millisecond)
	start := time.Now()
	_, err := o.Extract(context.Background(), png, hint)
	if !errx.IsTransient(err) {
		t.Fatalf("timeout should be transient, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not applied")
	}
}

func TestExtractEmptySnapshot(t *testing.T) {
	cm := &fakeChatModel{reply: "{}"}
	o := newOracle(t, cm, time.Second)
	_, err := o.Extract(context.Background(), nil, hint)
	if errx.KindOf(err) != errx.KindValidation {
		t.Fatalf("want validation error, got %v", err)
	}
	if len(cm.seen) != 0 {
		t.Error("model must not be called without a snapshot")
	}
}

func TestNewChatOracleNilModel(t *testing.T) {
	if _, err := NewChatOracle(context.Background(), nil, &fakeUploader{}, Options{}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewChatOracle(context.Background(), &fakeChatModel{}, nil, Options{}); err == nil {
		t.Fatal("expected error for missing uploader")
	}
}
