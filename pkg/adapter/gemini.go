package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"
	geminiProvider     = "gemini"
)

type geminiReader struct {
	client *genai.Client
	model  string
}

type GeminiOption func(*geminiReader)

func WithGeminiModel(model string) GeminiOption {
	return func(g *geminiReader) {
		if model != "" {
			g.model = model
		}
	}
}

// NewGemini creates a reader backed by Gemini on Vertex AI
func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (Reader, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client",
			goerr.Value("project", projectID),
			goerr.Value("location", location))
	}

	g := &geminiReader{
		client: client,
		model:  defaultGeminiModel,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *geminiReader) Complete(ctx context.Context, messages []model.ChatMessage, cfg *model.CompletionConfig) (string, error) {
	var system []string
	var contents []*genai.Content
	for _, m := range messages {
		if m.Role == model.ChatRoleSystem {
			system = append(system, m.Content)
			continue
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
	}

	config := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), "")
	}
	if cfg != nil {
		temperature := float32(cfg.Temperature)
		config.Temperature = &temperature
		config.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", g.convertError(ctx, err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.Wrap(ErrNoChoices, "empty gemini response", goerr.Value("model", g.model))
	}

	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			parts = append(parts, part.Text)
		}
	}

	return strings.TrimSpace(strings.Join(parts, "")), nil
}

func (g *geminiReader) convertError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return goerr.Wrap(ctxErr, "reader call canceled", goerr.Value("model", g.model))
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ReaderError{
			Provider: geminiProvider,
			Status:   apiErr.Code,
			Message:  apiErr.Message,
			Cause:    err,
		}
	}

	return &ReaderError{
		Provider: geminiProvider,
		Message:  err.Error(),
		Cause:    err,
	}
}
