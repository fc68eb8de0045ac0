package eval

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
	"github.com/m-mizutani/memeval/pkg/utils/logging"
)

// RunRetrieval scores items in order, writing one record per item to sink and a progress
// line per item to the output. The first item error aborts the run.
func (u *UseCase) RunRetrieval(ctx context.Context, items []*model.EvaluationItem, sink Sink) (*model.RunSummary, error) {
	selected, err := u.selectItems(ctx, items)
	if err != nil {
		return nil, err
	}

	logger := logging.From(ctx).With("run_id", u.runID, "mode", model.ModeRetrieval)
	ctx = logging.With(ctx, logger)
	logger.Info("start retrieval evaluation", "items", len(selected), "k", u.k, "use_graph", u.useGraph)

	summary := u.newSummary(model.ModeRetrieval)
	agg := NewAggregator()

	for i, item := range selected {
		result, err := u.Score(ctx, item)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to evaluate item",
				goerr.Value("question_id", item.QuestionID),
				goerr.Value("index", i+1))
		}

		if err := u.emit(ctx, sink, u.newRetrievalRecord(item, result)); err != nil {
			return nil, err
		}
		agg.Add(item.QuestionType, result)

		fmt.Fprintln(u.output, u.retrievalProgress(i+1, item, result))
	}

	u.finishSummary(summary, agg)

	fmt.Fprintln(u.output, u.retrievalSummaryLine(summary))
	logger.Info("retrieval evaluation finished", "items", summary.Overall.Total, "elapsed", summary.Elapsed())

	return summary, nil
}

// RunQA generates a hypothesis per item with the reader, writing one record per item to
// sink. Reader exhaustion aborts the run.
func (u *UseCase) RunQA(ctx context.Context, items []*model.EvaluationItem, sink Sink) (*model.RunSummary, error) {
	if u.reader == nil {
		return nil, goerr.Wrap(ErrReaderNotConfigured, "cannot run qa")
	}

	selected, err := u.selectItems(ctx, items)
	if err != nil {
		return nil, err
	}

	logger := logging.From(ctx).With("run_id", u.runID, "mode", model.ModeQA)
	ctx = logging.With(ctx, logger)
	logger.Info("start qa evaluation", "items", len(selected), "k", u.k, "reader_model", u.readerModel)

	summary := u.newSummary(model.ModeQA)
	agg := NewAggregator()

	for i, item := range selected {
		hyp, err := u.Answer(ctx, item)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to answer item",
				goerr.Value("question_id", item.QuestionID),
				goerr.Value("index", i+1))
		}

		if err := u.emit(ctx, sink, u.newQARecord(item, hyp)); err != nil {
			return nil, err
		}
		agg.Add(item.QuestionType, nil)

		fmt.Fprintf(u.output, "[%d] %s retrieved=%d latency=%dms\n", i+1, item.QuestionID, hyp.MemoryCount, hyp.LatencyMS)
	}

	u.finishSummary(summary, agg)

	fmt.Fprintf(u.output, "Done. Generated hypotheses for %d items in %.1fs\n", summary.Overall.Total, summary.Elapsed().Seconds())
	logger.Info("qa evaluation finished", "items", summary.Overall.Total, "elapsed", summary.Elapsed())

	return summary, nil
}

// selectItems applies the selector in file order, then the limit
func (u *UseCase) selectItems(ctx context.Context, items []*model.EvaluationItem) ([]*model.EvaluationItem, error) {
	selected := make([]*model.EvaluationItem, 0, len(items))
	for _, item := range items {
		if u.limit > 0 && len(selected) >= u.limit {
			break
		}

		if u.selector != nil {
			ok, err := u.selector.Select(ctx, item)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to evaluate selection policy", goerr.Value("question_id", item.QuestionID))
			}
			if !ok {
				logging.From(ctx).Debug("item skipped by policy", "question_id", item.QuestionID)
				continue
			}
		}

		selected = append(selected, item)
	}
	return selected, nil
}

// emit writes the record to the sink, then forwards it to the result table. Export
// failures are logged and do not stop the run.
func (u *UseCase) emit(ctx context.Context, sink Sink, record *model.ItemRecord) error {
	if err := sink.Put(ctx, record); err != nil {
		return goerr.Wrap(err, "failed to write item record", goerr.Value("question_id", record.QuestionID))
	}

	if u.table != nil {
		if err := u.table.Insert(ctx, record); err != nil {
			logging.From(ctx).Error("failed to export item record", "question_id", record.QuestionID, "error", err)
		}
	}
	return nil
}

func (u *UseCase) newSummary(mode model.Mode) *model.RunSummary {
	return &model.RunSummary{
		ID:            u.runID,
		Mode:          mode,
		Dataset:       u.dataset,
		K:             u.k,
		UseGraph:      u.useGraph,
		VerifySession: u.verifySession && mode == model.ModeRetrieval,
		ReaderModel:   u.readerModelFor(mode),
		StartedAt:     u.now(),
	}
}

func (u *UseCase) readerModelFor(mode model.Mode) string {
	if mode == model.ModeQA {
		return u.readerModel
	}
	return ""
}

func (u *UseCase) finishSummary(summary *model.RunSummary, agg *Aggregator) {
	summary.Overall = agg.Overall()
	summary.ByType = agg.ByType()
	summary.FinishedAt = u.now()
}

func (u *UseCase) newRetrievalRecord(item *model.EvaluationItem, result *model.EvalResult) *model.ItemRecord {
	return &model.ItemRecord{
		RunID:        u.runID,
		Mode:         model.ModeRetrieval,
		QuestionID:   item.QuestionID,
		QuestionType: item.QuestionType,
		Question:     item.Question,
		GoldAnswer:   string(item.Answer),
		AnswerHit:    &result.AnswerHit,
		EvidenceHit:  &result.EvidenceHit,
		SessionHit:   &result.SessionHit,
		K:            u.k,
		LatencyMS:    result.LatencyMS,
		Retrieved:    model.NewRetrievedRefs(result.Matches),
	}
}

func (u *UseCase) newQARecord(item *model.EvaluationItem, hyp *model.Hypothesis) *model.ItemRecord {
	return &model.ItemRecord{
		RunID:          u.runID,
		Mode:           model.ModeQA,
		QuestionID:     item.QuestionID,
		QuestionType:   item.QuestionType,
		Question:       item.Question,
		GoldAnswer:     string(item.Answer),
		Hypothesis:     &hyp.Text,
		RetrievedCount: &hyp.MemoryCount,
		K:              u.k,
		LatencyMS:      hyp.LatencyMS,
		Retrieved:      model.NewRetrievedRefs(hyp.Matches),
	}
}

func hitLabel(hit bool) string {
	if hit {
		return "OK"
	}
	return "MISS"
}

func (u *UseCase) retrievalProgress(n int, item *model.EvaluationItem, result *model.EvalResult) string {
	parts := []string{
		fmt.Sprintf("[%d] %s", n, item.QuestionID),
		fmt.Sprintf("evidence@%d=%s", u.k, hitLabel(result.EvidenceHit)),
		fmt.Sprintf("answer@%d=%s", u.k, hitLabel(result.AnswerHit)),
	}
	if u.verifySession {
		parts = append(parts, fmt.Sprintf("session@%d=%s", u.k, hitLabel(result.SessionHit)))
	}
	parts = append(parts, fmt.Sprintf("latency=%dms", result.LatencyMS))
	return strings.Join(parts, " ")
}

func (u *UseCase) retrievalSummaryLine(summary *model.RunSummary) string {
	s := summary.Overall
	line := fmt.Sprintf("Done. evidence@%d=%.3f (%d/%d) | answer@%d=%.3f (%d/%d)",
		u.k, s.EvidenceRecall, s.EvidenceHits, s.Total,
		u.k, s.AnswerRecall, s.AnswerHits, s.Total)
	if u.verifySession {
		line += fmt.Sprintf(" | session@%d=%.3f (%d/%d)", u.k, s.SessionRecall, s.SessionHits, s.Total)
	}
	return line
}
