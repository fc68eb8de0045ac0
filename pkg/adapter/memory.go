package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
)

const (
	apiKeyHeader         = "x-api-key"
	defaultMemoryTimeout = 120 * time.Second
	maxErrorBodyBytes    = 4096
)

// Memory is the client of the long-term memory service. It does not retry.
type Memory interface {
	// Add stores content and returns the new record ID
	Add(ctx context.Context, input *model.AddMemoryInput) (model.MemoryID, error)

	// Query returns matches ordered by relevance as the service ranked them
	Query(ctx context.Context, input *model.QueryInput) ([]*model.Match, error)

	// Get returns the full record including content and metadata
	Get(ctx context.Context, id model.MemoryID, userID string) (*model.MemoryRecord, error)

	// DeleteUserMemories removes all memories of the user. A missing user is not an error.
	DeleteUserMemories(ctx context.Context, userID string) error
}

// ServiceError is returned when the memory service responds with a non-success status
type ServiceError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (x *ServiceError) Error() string {
	return fmt.Sprintf("memory service returned %d for %s %s: %s", x.Status, x.Method, x.Path, x.Body)
}

type memoryClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// MemoryOption is a functional option for the memory client
type MemoryOption func(*memoryClient)

// WithMemoryAPIKey sets the API key sent as x-api-key
func WithMemoryAPIKey(apiKey string) MemoryOption {
	return func(c *memoryClient) {
		c.apiKey = apiKey
	}
}

// WithMemoryTimeout sets the per-call timeout
func WithMemoryTimeout(timeout time.Duration) MemoryOption {
	return func(c *memoryClient) {
		c.httpClient.Timeout = timeout
	}
}

// NewMemory creates a memory service client for baseURL
func NewMemory(baseURL string, opts ...MemoryOption) Memory {
	c := &memoryClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout: defaultMemoryTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type addMemoryResponse struct {
	ID model.MemoryID `json:"id"`
}

func (c *memoryClient) Add(ctx context.Context, input *model.AddMemoryInput) (model.MemoryID, error) {
	var resp addMemoryResponse
	if err := c.do(ctx, http.MethodPost, "/memory/add", nil, input, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", goerr.New("memory add response has no id", goerr.Value("user_id", input.UserID))
	}
	return resp.ID, nil
}

type queryMemoryResponse struct {
	Matches []*model.Match `json:"matches"`
}

func (c *memoryClient) Query(ctx context.Context, input *model.QueryInput) ([]*model.Match, error) {
	var resp queryMemoryResponse
	if err := c.do(ctx, http.MethodPost, "/memory/query", nil, input, &resp); err != nil {
		return nil, err
	}

	matches := make([]*model.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m != nil {
			matches = append(matches, m)
		}
	}
	return matches, nil
}

func (c *memoryClient) Get(ctx context.Context, id model.MemoryID, userID string) (*model.MemoryRecord, error) {
	query := url.Values{}
	if userID != "" {
		query.Set("user_id", userID)
	}

	var record model.MemoryRecord
	path := "/memory/" + url.PathEscape(string(id))
	if err := c.do(ctx, http.MethodGet, path, query, nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *memoryClient) DeleteUserMemories(ctx context.Context, userID string) error {
	path := "/users/" + url.PathEscape(userID) + "/memories"
	err := c.do(ctx, http.MethodDelete, path, nil, nil, nil)
	if err == nil {
		return nil
	}

	if svcErr := AsServiceError(err); svcErr != nil && svcErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// do sends one request and decodes a JSON response into out when out is not nil
func (c *memoryClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal request body", goerr.Value("path", path))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return goerr.Wrap(err, "failed to create request", goerr.Value("path", path))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(err, "failed to send request to memory service",
			goerr.Value("method", method),
			goerr.Value("path", path))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return goerr.Wrap(&ServiceError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   string(raw),
		}, "memory service returned error",
			goerr.Value("status", resp.StatusCode),
			goerr.Value("path", path))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode memory service response",
			goerr.Value("method", method),
			goerr.Value("path", path))
	}
	return nil
}

// AsServiceError extracts a ServiceError from err, or returns nil
func AsServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}
