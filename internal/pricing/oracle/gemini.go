package oracle

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/pricewatch/server/internal/pricing/model"
	logx "github.com/pricewatch/server/pkg/logger"
)

// GeminiConfig holds what is needed to reach the Gemini API.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
}

// NewGeminiClient creates the genai client shared by the chat model and the
// snapshot uploader.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*genai.Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewGeminiChatModel creates the vision chat model used as the extraction oracle.
func NewGeminiChatModel(ctx context.Context, client *genai.Client, cfg model.OracleConfig) (*gemini.ChatModel, error) {
	if client == nil {
		return nil, fmt.Errorf("gemini client is nil")
	}

	temperature := cfg.Temperature
	maxTokens := cfg.MaxTokens
	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		// reading one number off a screenshot does not need a reasoning budget
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(0)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating oracle model")
		return nil, fmt.Errorf("error creating oracle model: %w", err)
	}

	return chatModel, nil
}

// GeminiFiles stages snapshots through the Gemini Files API. The eino Gemini
// model only forwards media parts by URI.
type GeminiFiles struct {
	files *genai.Files
}

// NewGeminiFiles returns an Uploader backed by client.
func NewGeminiFiles(client *genai.Client) (*GeminiFiles, error) {
	if client == nil || client.Files == nil {
		return nil, fmt.Errorf("gemini client is nil")
	}
	return &GeminiFiles{files: client.Files}, nil
}

// Upload implements Uploader.
func (g *GeminiFiles) Upload(ctx context.Context, data []byte, mimeType string) (StagedFile, error) {
	f, err := g.files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return StagedFile{}, fmt.Errorf("upload snapshot: %w", err)
	}
	if f == nil || f.URI == "" {
		return StagedFile{}, fmt.Errorf("upload snapshot: no file uri returned")
	}
	staged := StagedFile{Name: f.Name, URI: f.URI, MIMEType: f.MIMEType}
	if staged.MIMEType == "" {
		staged.MIMEType = mimeType
	}
	return staged, nil
}

// Delete implements Uploader.
func (g *GeminiFiles) Delete(ctx context.Context, name string) error {
	if _, err := g.files.Delete(ctx, name, nil); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", name, err)
	}
	return nil
}

var _ Uploader = (*GeminiFiles)(nil)
