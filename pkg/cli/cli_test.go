package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memeval/pkg/cli"
)

type storedMemory struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	UserID   string         `json:"user_id"`
}

// newMemoryServer fakes the memory service HTTP contract. Query returns every memory of
// the user in insertion order.
func newMemoryServer(t *testing.T) *httptest.Server {
	var (
		mu       sync.Mutex
		memories []*storedMemory
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /memory/add", func(w http.ResponseWriter, r *http.Request) {
		var m storedMemory
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&m))

		mu.Lock()
		m.ID = fmt.Sprintf("mem-%d", len(memories)+1)
		memories = append(memories, &m)
		mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]any{"id": m.ID})
	})
	mux.HandleFunc("POST /memory/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query   string `json:"query"`
			K       int    `json:"k"`
			Filters struct {
				UserID string `json:"user_id"`
			} `json:"filters"`
		}
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		mu.Lock()
		defer mu.Unlock()
		matches := []map[string]any{}
		for _, m := range memories {
			if m.UserID != req.Filters.UserID || len(matches) >= req.K {
				continue
			}
			matches = append(matches, map[string]any{
				"id":             m.ID,
				"content":        m.Content,
				"score":          0.5,
				"primary_sector": "episodic",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"query": req.Query, "matches": matches})
	})
	mux.HandleFunc("GET /memory/{id}", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range memories {
			if m.ID == r.PathValue("id") && m.UserID == r.URL.Query().Get("user_id") {
				_ = json.NewEncoder(w).Encode(m)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("DELETE /users/{user_id}/memories", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		kept := memories[:0]
		for _, m := range memories {
			if m.UserID != r.PathValue("user_id") {
				kept = append(kept, m)
			}
		}
		memories = kept
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

const datasetJSON = `[
  {
    "question_id": "q-pet",
    "question_type": "single-session-user",
    "question": "What pet do I have?",
    "answer": "golden retriever",
    "haystack_dates": ["2023/05/20 (Sat) 02:21"],
    "haystack_session_ids": ["s-pet"],
    "answer_session_ids": ["s-pet"],
    "haystack_sessions": [[
      {"role": "user", "content": "I adopted a golden retriever named Max.", "has_answer": true},
      {"role": "assistant", "content": "That's wonderful!"}
    ]]
  },
  {
    "question_id": "q-car",
    "question_type": "single-session-user",
    "question": "What car do I drive?",
    "answer": "a red bicycle",
    "haystack_sessions": [[
      {"role": "user", "content": "I like hiking on weekends."}
    ]]
  }
]`

func writeDataset(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "longmemeval_oracle.json")
	gt.NoError(t, os.WriteFile(path, []byte(datasetJSON), 0644))
	return path
}

func TestRetrievalCommand(t *testing.T) {
	srv := newMemoryServer(t)
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.jsonl")
	summaryPath := filepath.Join(dir, "summary.yaml")

	buf := &bytes.Buffer{}
	err := cli.Run(context.Background(), []string{
		"memeval", "retrieval",
		"--dataset", writeDataset(t),
		"--out-jsonl", outPath,
		"--memory-url", srv.URL,
		"--verify-session",
		"--cleanup-user",
		"--summary-out", summaryPath,
		"--log-format", "json",
		"--log-output", filepath.Join(dir, "run.log"),
	}, cli.WithWriter(buf))
	gt.True(t, err == nil)

	output := buf.String()
	gt.S(t, output).Contains("[1] q-pet evidence@8=OK answer@8=OK session@8=OK latency=")
	gt.S(t, output).Contains("[2] q-car evidence@8=MISS answer@8=MISS session@8=MISS latency=")
	gt.S(t, output).Contains("Done. evidence@8=0.500 (1/2) | answer@8=0.500 (1/2) | session@8=0.500 (1/2)")

	data, readErr := os.ReadFile(outPath)
	gt.NoError(t, readErr)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	gt.A(t, lines).Length(2)
	gt.S(t, lines[0]).Contains(`"answer_hit":true`)
	gt.S(t, lines[0]).Contains(`"session_hit":true`)
	gt.S(t, lines[1]).Contains(`"answer_hit":false`)

	logData, readErr := os.ReadFile(filepath.Join(dir, "run.log"))
	gt.NoError(t, readErr)
	gt.S(t, string(logData)).Contains("item records written")
	gt.S(t, string(logData)).Contains(outPath)

	summary, readErr := os.ReadFile(summaryPath)
	gt.NoError(t, readErr)
	gt.S(t, string(summary)).Contains("dataset: longmemeval_oracle.json")
	gt.S(t, string(summary)).Contains("answer_recall: 0.5")
}

func TestRetrievalCommandPolicyAndLimit(t *testing.T) {
	srv := newMemoryServer(t)
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.jsonl")

	policyDir := filepath.Join(dir, "policy")
	gt.NoError(t, os.MkdirAll(policyDir, 0755))
	gt.NoError(t, os.WriteFile(filepath.Join(policyDir, "selection.rego"), []byte(`package selection

allow if {
	input.question_id == "q-car"
}
`), 0644))

	buf := &bytes.Buffer{}
	err := cli.Run(context.Background(), []string{
		"memeval", "retrieval",
		"--dataset", writeDataset(t),
		"--out-jsonl", outPath,
		"--memory-url", srv.URL,
		"--policy-dir", policyDir,
		"--limit", "1",
		"--log-format", "json",
		"--log-output", filepath.Join(dir, "run.log"),
	}, cli.WithWriter(buf))
	gt.True(t, err == nil)

	logData, readErr := os.ReadFile(filepath.Join(dir, "run.log"))
	gt.NoError(t, readErr)
	gt.S(t, string(logData)).Contains(`"msg":"selection policy loaded"`)
	gt.S(t, string(logData)).Contains(filepath.Join(policyDir, "selection.rego"))

	gt.S(t, buf.String()).Contains("[1] q-car")
	gt.S(t, buf.String()).NotContains("q-pet")
}

func TestRetrievalCommandMemoryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := cli.Run(context.Background(), []string{
		"memeval", "retrieval",
		"--dataset", writeDataset(t),
		"--out-jsonl", filepath.Join(t.TempDir(), "out.jsonl"),
		"--memory-url", srv.URL,
		"--log-output", filepath.Join(t.TempDir(), "run.log"),
	}, cli.WithWriter(&bytes.Buffer{}))
	gt.V(t, err).NotNil()
	gt.Equal(t, err.Code, 1)
	gt.S(t, err.Message).Contains("evaluation aborted")
}

func TestQACommand(t *testing.T) {
	srv := newMemoryServer(t)

	var readerCalls int
	var mu sync.Mutex
	readerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/v1/chat/completions")
		mu.Lock()
		readerCalls++
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c","object":"chat.completion","created":0,"model":"local",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"A golden retriever."}}]}`))
	}))
	defer readerSrv.Close()

	outPath := filepath.Join(t.TempDir(), "hypotheses.jsonl")
	buf := &bytes.Buffer{}
	err := cli.Run(context.Background(), []string{
		"memeval", "qa",
		"--dataset", writeDataset(t),
		"--out-jsonl", outPath,
		"--memory-url", srv.URL,
		"--reader-base-url", readerSrv.URL,
		"--reader-model", "local",
		"--reader-api-key", "local-key",
		"--limit", "1",
	}, cli.WithWriter(buf))
	gt.True(t, err == nil)

	gt.Equal(t, readerCalls, 1)
	gt.S(t, buf.String()).Contains("[1] q-pet retrieved=1 latency=")
	gt.S(t, buf.String()).Contains("Done. Generated hypotheses for 1 items in ")

	data, readErr := os.ReadFile(outPath)
	gt.NoError(t, readErr)
	gt.S(t, string(data)).Contains(`"hypothesis":"A golden retriever."`)
	gt.S(t, string(data)).Contains(`"retrieved_count":1`)
}

func TestQACommandRequiresKeyForOpenAI(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("MEMEVAL_READER_API_KEY", "")

	err := cli.Run(context.Background(), []string{
		"memeval", "qa",
		"--dataset", writeDataset(t),
		"--out-jsonl", filepath.Join(t.TempDir(), "out.jsonl"),
		"--reader-base-url", "https://api.openai.com",
	}, cli.WithWriter(&bytes.Buffer{}))
	gt.V(t, err).NotNil()
	gt.S(t, err.Message).Contains("api.openai.com")
}

func TestRunsCommandRequiresProject(t *testing.T) {
	t.Setenv("MEMEVAL_FIRESTORE_PROJECT", "")

	err := cli.Run(context.Background(), []string{"memeval", "runs"}, cli.WithWriter(&bytes.Buffer{}))
	gt.V(t, err).NotNil()
	gt.S(t, err.Message).Contains("firestore-project is required")
}
