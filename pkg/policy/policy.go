package policy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
	"github.com/m-mizutani/memeval/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// Query is the Rego document evaluated for every item
const Query = "data.selection"

// regoPrintHook forwards Rego print() output to the context logger
type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Policy selects evaluation items with Rego rules. A Policy without rules selects every item.
type Policy struct {
	query *rego.PreparedEvalQuery
	files []string
}

// Load reads all .rego files in dir. An empty dir or a dir without policy files yields a
// Policy that selects everything.
func Load(ctx context.Context, dir string) (*Policy, error) {
	if dir == "" {
		return &Policy{}, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.Value("dir", dir))
	}

	if len(files) == 0 {
		return &Policy{}, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+2)
	options = append(options, rego.Query(Query), rego.EnablePrintStatements(true))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.Value("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare query", goerr.Value("query", Query))
	}

	return &Policy{query: &prepared, files: files}, nil
}

// Files returns the loaded policy files
func (p *Policy) Files() []string {
	return p.files
}

// Input builds the policy input of an item
func Input(item *model.EvaluationItem) map[string]any {
	answerSessionIDs := make([]any, 0, len(item.AnswerSessionIDs))
	for _, id := range item.AnswerSessionIDs {
		answerSessionIDs = append(answerSessionIDs, id)
	}

	return map[string]any{
		"question_id":        item.QuestionID,
		"question_type":      item.QuestionType,
		"question":           item.Question,
		"session_count":      len(item.HaystackSessions),
		"answer_session_ids": answerSessionIDs,
	}
}

// Select reports whether data.selection.allow is true for item
func (p *Policy) Select(ctx context.Context, item *model.EvaluationItem) (bool, error) {
	if p == nil || p.query == nil {
		return true, nil
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(Input(item)), rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		return false, goerr.Wrap(err, "failed to evaluate selection policy", goerr.Value("question_id", item.QuestionID))
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return false, nil
	}

	allow, _ := data["allow"].(bool)
	return allow, nil
}
