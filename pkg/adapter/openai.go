package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultReaderTimeout = 120 * time.Second
	openAIProvider       = "openai"
)

type openAIReader struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// OpenAIOption is a functional option for the OpenAI-compatible reader
type OpenAIOption func(*openAIReader)

// WithOpenAITimeout sets the per-call timeout
func WithOpenAITimeout(timeout time.Duration) OpenAIOption {
	return func(r *openAIReader) {
		r.timeout = timeout
	}
}

// ResolveOpenAIBaseURL normalizes base so that it ends with exactly one /v1 segment.
// The trailing slash lets the SDK append "chat/completions".
func ResolveOpenAIBaseURL(base string) string {
	b := strings.TrimRight(strings.TrimSpace(base), "/")
	if !strings.HasSuffix(b, "/v1") {
		b += "/v1"
	}
	return b + "/"
}

// NewOpenAI creates a reader for an OpenAI-compatible chat completions endpoint. SDK level
// retries are disabled; retry policy belongs to the caller. When apiKey is empty the SDK
// falls back to OPENAI_API_KEY.
func NewOpenAI(baseURL, modelName, apiKey string, opts ...OpenAIOption) Reader {
	r := &openAIReader{
		model:   modelName,
		timeout: defaultReaderTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	clientOpts := []option.RequestOption{
		option.WithBaseURL(ResolveOpenAIBaseURL(baseURL)),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: r.timeout}),
	}
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	r.client = openai.NewClient(clientOpts...)

	return r
}

func (r *openAIReader) Complete(ctx context.Context, messages []model.ChatMessage, cfg *model.CompletionConfig) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(r.model),
		Messages: toOpenAIMessages(messages),
	}
	if cfg != nil {
		params.Temperature = openai.Float(cfg.Temperature)
		if cfg.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(cfg.MaxTokens))
		}
	}

	resp, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", r.convertError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return "", goerr.Wrap(ErrNoChoices, "empty chat completion", goerr.Value("model", r.model))
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (r *openAIReader) convertError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return goerr.Wrap(ctxErr, "reader call canceled", goerr.Value("model", r.model))
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ReaderError{
			Provider: openAIProvider,
			Status:   apiErr.StatusCode,
			Message:  apiErr.Error(),
			Cause:    err,
		}
	}

	return &ReaderError{
		Provider: openAIProvider,
		Message:  err.Error(),
		Cause:    err,
	}
}

func toOpenAIMessages(messages []model.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.ChatRoleSystem:
			converted = append(converted, openai.SystemMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}
	return converted
}
