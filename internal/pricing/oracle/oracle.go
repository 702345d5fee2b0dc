// Package oracle asks a vision model to read the price off a page snapshot.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/model"
	"github.com/pricewatch/server/internal/pricing/observers"
	"github.com/pricewatch/server/internal/pricing/prompts"
	logx "github.com/pricewatch/server/pkg/logger"
)

const (
	snapshotMIMEType = "image/png"
	releaseTimeout   = 10 * time.Second
)

// Oracle returns the raw textual answer for one snapshot. The answer is not
// trusted; callers run it through the price parser.
type Oracle interface {
	Extract(ctx context.Context, snapshot []byte, hint model.Hint) (string, error)
}

// StagedFile is a snapshot the chat model can read by URI.
type StagedFile struct {
	Name     string
	URI      string
	MIMEType string
}

// Uploader stages snapshots for the chat model and removes them afterwards.
type Uploader interface {
	Upload(ctx context.Context, data []byte, mimeType string) (StagedFile, error)
	Delete(ctx context.Context, name string) error
}

// Options tune a ChatOracle.
type Options struct {
	// ModelName is used for cost lookup and logs.
	ModelName       string
	Timeout         time.Duration
	DefaultCurrency string
}

type request struct {
	File StagedFile
	Hint model.Hint
}

// ChatOracle stages the snapshot, then runs a two step Eino chain: build the
// multimodal message, then call the chat model.
type ChatOracle struct {
	runnable compose.Runnable[request, *schema.Message]
	uploader Uploader
	opts     Options
}

// NewChatOracle compiles the extraction chain around chatModel. The caller owns
// the chat model's and the uploader's lifecycle.
func NewChatOracle(ctx context.Context, chatModel einomodel.BaseChatModel, uploader Uploader, opts Options) (*ChatOracle, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is nil")
	}
	if uploader == nil {
		return nil, fmt.Errorf("snapshot uploader is nil")
	}

	chain := compose.NewChain[request, *schema.Message]()
	chain.
		AppendLambda(compose.InvokableLambda(func(ctx context.Context, in request) ([]*schema.Message, error) {
			return buildMessages(ctx, in, opts.DefaultCurrency)
		})).
		AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling oracle chain")
		return nil, fmt.Errorf("error compiling oracle chain: %w", err)
	}

	return &ChatOracle{runnable: runnable, uploader: uploader, opts: opts}, nil
}

// Extract implements Oracle. Transport failures, timeouts, throttling and
// provider 5xx come back as errx oracle errors, which the scrape task retries.
// Requests the provider refuses outright come back as errx rejected errors.
func (o *ChatOracle) Extract(ctx context.Context, snapshot []byte, hint model.Hint) (string, error) {
	if len(snapshot) == 0 {
		return "", errx.Validation(fmt.Errorf("empty snapshot"))
	}
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	file, err := o.uploader.Upload(ctx, snapshot, snapshotMIMEType)
	if err != nil {
		return "", classify(err)
	}
	defer o.release(ctx, file)

	out, err := o.runnable.Invoke(ctx, request{File: file, Hint: hint},
		compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		return "", classify(err)
	}
	if out == nil {
		return "", errx.Oracle(fmt.Errorf("model returned no message"))
	}

	o.logUsage(out, hint)
	return out.Content, nil
}

// release deletes the staged snapshot even when ctx is already done.
func (o *ChatOracle) release(ctx context.Context, file StagedFile) {
	if file.Name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := o.uploader.Delete(ctx, file.Name); err != nil {
		logx.Warn().Err(err).Str("file", file.Name).Msg("failed to delete staged snapshot")
	}
}

// classify keeps kinds already assigned and splits provider responses into
// retryable and refused.
func classify(err error) error {
	if errx.KindOf(err) != errx.KindUnknown {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return errx.Rejected(err)
		}
	}
	return errx.Oracle(err)
}

func (o *ChatOracle) logUsage(out *schema.Message, hint model.Hint) {
	if out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	usage := out.ResponseMeta.Usage
	inC, outC, totalC := model.ComputeCost(usage, model.ResolvePricing(o.opts.ModelName))
	logx.Debug().
		Str("product", hint.ProductName).
		Str("retailer", hint.Retailer).
		Str("model", o.opts.ModelName).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")
}

func buildMessages(ctx context.Context, in request, defaultCurrency string) ([]*schema.Message, error) {
	instructions, err := prompts.RenderExtraction(ctx, in.Hint, defaultCurrency)
	if err != nil {
		return nil, errx.Rejected(fmt.Errorf("render extraction prompt: %w", err))
	}
	return []*schema.Message{
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URI:      in.File.URI,
						MIMEType: in.File.MIMEType,
					},
				},
				{
					Type: schema.ChatMessagePartTypeText,
					Text: instructions,
				},
			},
		},
	}, nil
}

var _ Oracle = (*ChatOracle)(nil)
