package report_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memeval/pkg/model"
	"github.com/m-mizutani/memeval/pkg/report"
	"gopkg.in/yaml.v3"
)

func TestJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	w, err := report.CreateJSONL(path)
	gt.NoError(t, err)
	gt.Equal(t, w.Path(), path)

	hit := true
	ctx := context.Background()
	gt.NoError(t, w.Put(ctx, &model.ItemRecord{
		RunID:      "run-1",
		Mode:       model.ModeRetrieval,
		QuestionID: "q-1",
		AnswerHit:  &hit,
		K:          8,
		Retrieved: []model.RetrievedRef{
			{ID: "m1", Score: model.NewScore(0.5), PrimarySector: "episodic"},
			{ID: "m2", PrimarySector: "semantic"},
		},
	}))
	gt.NoError(t, w.Put(ctx, &model.ItemRecord{RunID: "run-1", Mode: model.ModeRetrieval, QuestionID: "q-2"}))
	gt.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	gt.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	gt.A(t, lines).Length(2)
	gt.S(t, lines[0]).Contains(`"answer_hit":true`)
	gt.S(t, lines[0]).Contains(`{"id":"m1","score":0.5,"primary_sector":"episodic"}`)
	gt.S(t, lines[0]).Contains(`{"id":"m2","score":null,"primary_sector":"semantic"}`)

	var second map[string]any
	gt.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	gt.Equal(t, second["question_id"], any("q-2"))
}

func TestJSONLWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := report.NewJSONL(buf)
	gt.NoError(t, w.Put(context.Background(), &model.ItemRecord{QuestionID: "q-1"}))
	gt.NoError(t, w.Close())
	gt.True(t, strings.HasSuffix(buf.String(), "}\n"))
	gt.Equal(t, w.Path(), "")
}

func newSummary() *model.RunSummary {
	started := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	return &model.RunSummary{
		ID:      "run-1",
		Mode:    model.ModeRetrieval,
		Dataset: "longmemeval_oracle.json",
		K:       8,
		Overall: model.TypeStats{Total: 4, AnswerHits: 3, AnswerRecall: 0.75},
		ByType: map[string]*model.TypeStats{
			"temporal": {Total: 2, AnswerHits: 2, AnswerRecall: 1},
		},
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
	}
}

func TestWriteSummaryYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.yaml")
	gt.NoError(t, report.WriteSummary(path, newSummary()))

	data, err := os.ReadFile(path)
	gt.NoError(t, err)
	gt.S(t, string(data)).Contains("answer_recall: 0.75")

	var decoded map[string]any
	gt.NoError(t, yaml.Unmarshal(data, &decoded))
	gt.Equal(t, decoded["id"], any("run-1"))
	gt.Map(t, decoded).HasKey("by_type")
}

func TestWriteSummaryJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	gt.NoError(t, report.WriteSummary(path, newSummary()))

	data, err := os.ReadFile(path)
	gt.NoError(t, err)

	var decoded model.RunSummary
	gt.NoError(t, json.Unmarshal(data, &decoded))
	gt.Equal(t, decoded.Overall.AnswerHits, 3)
	gt.Equal(t, decoded.ByType["temporal"].Total, 2)
	gt.Equal(t, decoded.Elapsed(), 90*time.Second)
}

func TestArchiveKey(t *testing.T) {
	gt.Equal(t, report.ArchiveKey("memeval/runs", "run-1"), "memeval/runs/run-1.jsonl")
	gt.Equal(t, report.ArchiveKey("memeval/runs/", "run-1"), "memeval/runs/run-1.jsonl")
	gt.Equal(t, report.ArchiveKey("", "run-1"), "run-1.jsonl")
}

// memoryStorage is an in-memory adapter.Storage
type memoryStorage struct {
	objects map[string]*bytes.Buffer
}

type bufferCloser struct {
	*bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func (s *memoryStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	buf := &bytes.Buffer{}
	s.objects[key] = buf
	return &bufferCloser{Buffer: buf}, nil
}

func (s *memoryStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.objects[key].Bytes())), nil
}

func TestArchive(t *testing.T) {
	src := filepath.Join(t.TempDir(), "out.jsonl")
	gt.NoError(t, os.WriteFile(src, []byte("{\"question_id\":\"q-1\"}\n"), 0644))

	storage := &memoryStorage{objects: map[string]*bytes.Buffer{}}
	gt.NoError(t, report.Archive(context.Background(), storage, "runs/run-1.jsonl", src))
	gt.Map(t, storage.objects).HasKey("runs/run-1.jsonl")
	gt.Equal(t, storage.objects["runs/run-1.jsonl"].String(), "{\"question_id\":\"q-1\"}\n")

	err := report.Archive(context.Background(), storage, "runs/missing.jsonl", filepath.Join(t.TempDir(), "missing"))
	gt.Error(t, err)
}
