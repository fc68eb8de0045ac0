package report

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/adapter"
	"github.com/m-mizutani/memeval/pkg/model"
)

// ArchiveKey returns the object key of a run's JSONL file: "<prefix>/<run_id>.jsonl"
func ArchiveKey(prefix string, runID model.RunID) string {
	return path.Join(prefix, string(runID)+".jsonl")
}

// Archive uploads the local file at src to storage under key
func Archive(ctx context.Context, storage adapter.Storage, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return goerr.Wrap(err, "failed to open archive source", goerr.Value("path", src))
	}
	defer f.Close()

	w, err := storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open archive writer", goerr.Value("key", key))
	}

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to upload archive", goerr.Value("key", key))
	}

	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to commit archive", goerr.Value("key", key))
	}
	return nil
}
