package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/pricewatch/server/internal/pricing/model"
)

//go:embed template/extraction_prompt.txt
var extractionPrompt string

// RenderExtraction renders the price extraction instructions via the Eino
// prompt component, which also emits prompt callbacks.
func RenderExtraction(ctx context.Context, hint model.Hint, defaultCurrency string) (string, error) {
	if strings.TrimSpace(hint.ProductName) == "" || strings.TrimSpace(hint.Retailer) == "" {
		return "", fmt.Errorf("extraction prompt: product name and retailer are required")
	}
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.UserMessage(extractionPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"ProductName":     hint.ProductName,
		"Retailer":        hint.Retailer,
		"DefaultCurrency": defaultCurrency,
	})
	if err != nil {
		return "", fmt.Errorf("extraction prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("extraction prompt render: empty result")
	}
	return msgs[0].Content, nil
}
