package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
	"gopkg.in/yaml.v3"
)

// WriteSummary writes the run summary as YAML when path ends with .yaml or .yml, JSON otherwise
func WriteSummary(path string, summary *model.RunSummary) error {
	var raw []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err = yaml.Marshal(summary)
	default:
		raw, err = json.MarshalIndent(summary, "", "  ")
		raw = append(raw, '\n')
	}
	if err != nil {
		return goerr.Wrap(err, "failed to marshal run summary", goerr.Value("run_id", summary.ID))
	}

	if err := os.WriteFile(path, raw, 0644); err != nil {
		return goerr.Wrap(err, "failed to write run summary", goerr.Value("path", path))
	}
	return nil
}
