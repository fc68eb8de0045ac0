package report

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
)

// JSONL writes one record per line. Every Put issues a single unbuffered write so a
// partially completed run leaves only whole lines behind.
type JSONL struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	path   string
}

// NewJSONL wraps w. Close does not close w.
func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{w: w}
}

// CreateJSONL creates or truncates the file at path
func CreateJSONL(path string) (*JSONL, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create jsonl file", goerr.Value("path", path))
	}
	return &JSONL{w: f, closer: f, path: path}, nil
}

// Path returns the file path, or "" when the writer is not file backed
func (x *JSONL) Path() string {
	return x.path
}

func (x *JSONL) Put(ctx context.Context, record *model.ItemRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal item record", goerr.Value("question_id", record.QuestionID))
	}
	raw = append(raw, '\n')

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, err := x.w.Write(raw); err != nil {
		return goerr.Wrap(err, "failed to write item record", goerr.Value("question_id", record.QuestionID))
	}
	return nil
}

func (x *JSONL) Close() error {
	if x.closer == nil {
		return nil
	}
	if err := x.closer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close jsonl file", goerr.Value("path", x.path))
	}
	return nil
}
