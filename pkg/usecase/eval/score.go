package eval

import (
	"context"
	"strings"

	"github.com/m-mizutani/memeval/pkg/model"
	"github.com/m-mizutani/memeval/pkg/utils/logging"
	"github.com/m-mizutani/memeval/pkg/utils/text"
)

// Score ingests the item, queries the memory service with the question and computes
// the hit signals over the returned matches. LatencyMS covers the whole item.
func (u *UseCase) Score(ctx context.Context, item *model.EvaluationItem) (*model.EvalResult, error) {
	start := u.now()

	if err := u.Ingest(ctx, item); err != nil {
		return nil, err
	}

	matches, err := u.query(ctx, item)
	if err != nil {
		return nil, err
	}

	result := &model.EvalResult{
		AnswerHit:   AnswerHit(item.GoldAnswer(), matches),
		EvidenceHit: EvidenceHit(item.EvidenceTurns(), matches),
		Matches:     matches,
	}
	if u.verifySession {
		result.SessionHit = u.sessionHit(ctx, item, matches)
	}
	result.LatencyMS = u.now().Sub(start).Milliseconds()

	return result, nil
}

// AnswerHit reports whether the normalized gold answer occurs in any match content.
// An empty answer never hits.
func AnswerHit(answer string, matches []*model.Match) bool {
	if text.Normalize(answer) == "" {
		return false
	}
	for _, m := range matches {
		if text.Contains(m.Content, answer) {
			return true
		}
	}
	return false
}

// EvidenceHit reports whether any evidence turn occurs verbatim (after normalization)
// in any match content. Servers that summarize on write make this a lower bound.
func EvidenceHit(evidence []string, matches []*model.Match) bool {
	turns := make([]string, 0, len(evidence))
	for _, e := range evidence {
		if n := text.Normalize(e); n != "" {
			turns = append(turns, n)
		}
	}
	if len(turns) == 0 {
		return false
	}

	for _, m := range matches {
		content := text.Normalize(m.Content)
		for _, e := range turns {
			if strings.Contains(content, e) {
				return true
			}
		}
	}
	return false
}

// sessionHit looks up matches in order and stops at the first record whose
// metadata.session_id is an answer session
func (u *UseCase) sessionHit(ctx context.Context, item *model.EvaluationItem, matches []*model.Match) bool {
	if len(item.AnswerSessionIDs) == 0 {
		return false
	}

	logger := logging.From(ctx)
	for _, m := range matches {
		if m.ID == "" {
			continue
		}

		record, err := u.memory.Get(ctx, m.ID, item.UserID())
		if err != nil {
			logger.Debug("failed to get memory for session check",
				"question_id", item.QuestionID,
				"memory_id", m.ID,
				"error", err)
			continue
		}

		if sid, ok := record.SessionID(); ok && item.IsAnswerSession(sid) {
			return true
		}
	}
	return false
}
