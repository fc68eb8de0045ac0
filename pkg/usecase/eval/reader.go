package eval

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/adapter"
	"github.com/m-mizutani/memeval/pkg/model"
	"github.com/m-mizutani/memeval/pkg/utils/logging"
	"github.com/m-mizutani/memeval/pkg/utils/text"
)

const snippetMaxChars = 2000

//go:embed prompt/system.md
var systemPromptRaw string

var (
	// ErrReaderExhausted is returned when every reader attempt failed with a retryable error
	ErrReaderExhausted = goerr.New("reader failed after all attempts")

	// ErrReaderNotConfigured is returned by QA operations when no reader is set
	ErrReaderNotConfigured = goerr.New("reader is not configured")
)

var retryableStatus = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Hydrate fetches full content for matches. Matches without an ID are dropped. A failed
// fetch leaves the content empty and never fails the item.
func (u *UseCase) Hydrate(ctx context.Context, item *model.EvaluationItem, matches []*model.Match) []*model.Match {
	logger := logging.From(ctx)
	hydrated := make([]*model.Match, 0, len(matches))

	for _, m := range matches {
		if strings.TrimSpace(string(m.ID)) == "" {
			continue
		}

		h := *m
		if u.hydrateMissingOnly && strings.TrimSpace(m.Content) != "" {
			hydrated = append(hydrated, &h)
			continue
		}

		record, err := u.memory.Get(ctx, m.ID, item.UserID())
		if err != nil {
			logger.Debug("failed to hydrate memory",
				"question_id", item.QuestionID,
				"memory_id", m.ID,
				"error", err)
			h.Content = ""
		} else {
			h.Content = record.Content
		}
		hydrated = append(hydrated, &h)
	}

	return hydrated
}

// BuildReaderMessages builds the system instruction and the user message that lists the
// snippets in retrieval order
func BuildReaderMessages(question string, matches []*model.Match) []model.ChatMessage {
	parts := []string{
		"Question:",
		question,
		"",
		"Retrieved memory snippets (most relevant first):",
	}

	for i, m := range matches {
		content := text.Truncate(strings.TrimSpace(m.Content), snippetMaxChars)
		parts = append(parts, fmt.Sprintf("\n### Memory %d (score=%s, id=%s)\n%s", i+1, m.Score, m.ID, content))
	}

	return []model.ChatMessage{
		{Role: model.ChatRoleSystem, Content: strings.TrimSpace(systemPromptRaw)},
		{Role: model.ChatRoleUser, Content: strings.Join(parts, "\n")},
	}
}

// Generate calls the reader with bounded retries. Rate limits, 5xx gateway statuses,
// transport failures and empty responses are retried with exponential backoff. Other
// statuses (400, 401, 501, ...) and errors that are not a ReaderError are not retried
// and return after the first attempt.
func (u *UseCase) Generate(ctx context.Context, messages []model.ChatMessage) (string, error) {
	if u.reader == nil {
		return "", goerr.Wrap(ErrReaderNotConfigured, "cannot generate answer")
	}

	logger := logging.From(ctx)
	cfg := &model.CompletionConfig{
		Temperature: u.temperature,
		MaxTokens:   u.maxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < u.retries; attempt++ {
		answer, err := u.reader.Complete(ctx, messages, cfg)
		if err == nil {
			return answer, nil
		}

		if ctx.Err() != nil {
			return "", goerr.Wrap(ctx.Err(), "reader call canceled", goerr.Value("attempt", attempt+1))
		}
		if !isRetryable(err) {
			return "", goerr.Wrap(err, "reader call failed", goerr.Value("attempt", attempt+1))
		}

		lastErr = err
		if attempt == u.retries-1 {
			break
		}

		wait := u.backoff(attempt)
		logger.Warn("reader call failed, retrying",
			"attempt", attempt+1,
			"max_attempts", u.retries,
			"wait", wait,
			"error", err)

		select {
		case <-ctx.Done():
			return "", goerr.Wrap(ctx.Err(), "reader backoff canceled", goerr.Value("attempt", attempt+1))
		case <-time.After(wait):
		}
	}

	return "", goerr.Wrap(ErrReaderExhausted, "reader call failed",
		goerr.Value("attempts", u.retries),
		goerr.Value("last_error", lastErr))
}

// backoff returns unit * base^attempt, capped by backoffMax when it is positive
func (u *UseCase) backoff(attempt int) time.Duration {
	d := float64(u.backoffUnit) * math.Pow(u.backoffBase, float64(attempt))
	if u.backoffMax > 0 && d > float64(u.backoffMax) {
		return u.backoffMax
	}
	return time.Duration(d)
}

func isRetryable(err error) bool {
	if errors.Is(err, adapter.ErrNoChoices) {
		return true
	}

	var readerErr *adapter.ReaderError
	if !errors.As(err, &readerErr) {
		return false
	}
	if readerErr.Status == 0 {
		return true
	}
	_, ok := retryableStatus[readerErr.Status]
	return ok
}

// Answer runs the retrieval-augmented generation for one item: ingest, query, hydrate
// and generate. LatencyMS covers the whole item.
func (u *UseCase) Answer(ctx context.Context, item *model.EvaluationItem) (*model.Hypothesis, error) {
	if u.reader == nil {
		return nil, goerr.Wrap(ErrReaderNotConfigured, "cannot answer item", goerr.Value("question_id", item.QuestionID))
	}

	start := u.now()

	if err := u.Ingest(ctx, item); err != nil {
		return nil, err
	}

	matches, err := u.query(ctx, item)
	if err != nil {
		return nil, err
	}

	hydrated := u.Hydrate(ctx, item, matches)
	answer, err := u.Generate(ctx, BuildReaderMessages(item.Question, hydrated))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate hypothesis", goerr.Value("question_id", item.QuestionID))
	}

	return &model.Hypothesis{
		QuestionID:  item.QuestionID,
		Text:        answer,
		LatencyMS:   u.now().Sub(start).Milliseconds(),
		MemoryCount: len(hydrated),
		Matches:     hydrated,
	}, nil
}
