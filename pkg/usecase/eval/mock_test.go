package eval_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/m-mizutani/memeval/pkg/adapter"
	"github.com/m-mizutani/memeval/pkg/model"
)

// mockMemory is an in-process memory service. Query returns every record of the user in
// insertion order unless queryFunc is set.
type mockMemory struct {
	mu      sync.Mutex
	ops     []string
	added   []*model.AddMemoryInput
	deleted []string
	records []*model.MemoryRecord

	queryFunc func(ctx context.Context, input *model.QueryInput) ([]*model.Match, error)
	getFunc   func(ctx context.Context, id model.MemoryID, userID string) (*model.MemoryRecord, error)
	getCalls  int
}

func newMockMemory() *mockMemory {
	return &mockMemory{}
}

func (m *mockMemory) Add(ctx context.Context, input *model.AddMemoryInput) (model.MemoryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = append(m.ops, "add")
	m.added = append(m.added, input)

	id := model.MemoryID(fmt.Sprintf("mem-%d", len(m.records)+1))
	metadata := map[string]any{}
	if input.Metadata != nil {
		metadata["question_id"] = input.Metadata.QuestionID
		metadata["session_id"] = input.Metadata.SessionID
		metadata["idx"] = input.Metadata.Index
	}
	m.records = append(m.records, &model.MemoryRecord{
		ID:            id,
		Content:       input.Content,
		PrimarySector: "episodic",
		Tags:          input.Tags,
		Metadata:      metadata,
		UserID:        input.UserID,
	})
	return id, nil
}

func (m *mockMemory) Query(ctx context.Context, input *model.QueryInput) ([]*model.Match, error) {
	m.mu.Lock()
	m.ops = append(m.ops, "query")
	m.mu.Unlock()

	if m.queryFunc != nil {
		return m.queryFunc(ctx, input)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []*model.Match
	for i, r := range m.records {
		if input.Filters != nil && r.UserID != input.Filters.UserID {
			continue
		}
		if len(matches) >= input.K {
			break
		}
		matches = append(matches, &model.Match{
			ID:            r.ID,
			Score:         model.NewScore(1.0 / float64(i+1)),
			PrimarySector: r.PrimarySector,
			Content:       r.Content,
		})
	}
	return matches, nil
}

func (m *mockMemory) Get(ctx context.Context, id model.MemoryID, userID string) (*model.MemoryRecord, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()

	if m.getFunc != nil {
		return m.getFunc(ctx, id, userID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id && r.UserID == userID {
			return r, nil
		}
	}
	return nil, &adapter.ServiceError{Method: http.MethodGet, Path: "/memory/" + string(id), Status: http.StatusNotFound}
}

func (m *mockMemory) DeleteUserMemories(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = append(m.ops, "delete")
	m.deleted = append(m.deleted, userID)

	kept := m.records[:0]
	for _, r := range m.records {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return nil
}

// mockReader answers with completeFunc, which receives the 1-based call number
type mockReader struct {
	mu           sync.Mutex
	calls        int
	messages     [][]model.ChatMessage
	configs      []*model.CompletionConfig
	completeFunc func(ctx context.Context, call int, messages []model.ChatMessage) (string, error)
}

func (r *mockReader) Complete(ctx context.Context, messages []model.ChatMessage, cfg *model.CompletionConfig) (string, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.messages = append(r.messages, messages)
	r.configs = append(r.configs, cfg)
	r.mu.Unlock()

	if r.completeFunc != nil {
		return r.completeFunc(ctx, call, messages)
	}
	return "I don't know.", nil
}

// bufferSink collects records as JSON lines
type bufferSink struct {
	lines []string
}

func (s *bufferSink) Put(ctx context.Context, record *model.ItemRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	s.lines = append(s.lines, string(raw))
	return nil
}

func (s *bufferSink) String() string {
	return strings.Join(s.lines, "\n")
}

type funcSelector func(item *model.EvaluationItem) bool

func (f funcSelector) Select(ctx context.Context, item *model.EvaluationItem) (bool, error) {
	return f(item), nil
}

func strPtr(s string) *string { return &s }
