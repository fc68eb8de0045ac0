package dataset

import (
	"encoding/json"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
)

// Load reads a LongMemEval JSON file, a top-level array of items
func Load(path string) ([]*model.EvaluationItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open dataset", goerr.Value("path", path))
	}
	defer f.Close()

	items, err := Decode(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load dataset", goerr.Value("path", path))
	}
	return items, nil
}

// Decode parses and validates items. Any invalid item fails the whole dataset.
func Decode(r io.Reader) ([]*model.EvaluationItem, error) {
	var items []*model.EvaluationItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, goerr.Wrap(err, "failed to decode dataset")
	}

	for i, item := range items {
		if item == nil {
			return nil, goerr.Wrap(model.ErrInvalidItem, "item is null", goerr.Value("index", i))
		}
		if err := item.Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid item", goerr.Value("index", i))
		}
	}

	return items, nil
}
