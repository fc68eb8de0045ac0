package eval

import (
	"github.com/m-mizutani/memeval/pkg/model"
)

const unknownQuestionType = "unknown"

// Aggregator accumulates hit counts overall and per question_type
type Aggregator struct {
	overall model.TypeStats
	byType  map[string]*model.TypeStats
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		byType: make(map[string]*model.TypeStats),
	}
}

func (a *Aggregator) stats(questionType string) *model.TypeStats {
	if questionType == "" {
		questionType = unknownQuestionType
	}
	s, ok := a.byType[questionType]
	if !ok {
		s = &model.TypeStats{}
		a.byType[questionType] = s
	}
	return s
}

// Add counts one evaluated item. result is nil for items that produce no hit signals.
func (a *Aggregator) Add(questionType string, result *model.EvalResult) {
	for _, s := range []*model.TypeStats{&a.overall, a.stats(questionType)} {
		s.Total++
		if result == nil {
			continue
		}
		if result.AnswerHit {
			s.AnswerHits++
		}
		if result.EvidenceHit {
			s.EvidenceHits++
		}
		if result.SessionHit {
			s.SessionHits++
		}
	}
}

// Overall returns totals with recalls computed as hits / max(1, total)
func (a *Aggregator) Overall() model.TypeStats {
	return withRecall(a.overall)
}

// ByType returns a copy of per question_type stats with recalls
func (a *Aggregator) ByType() map[string]*model.TypeStats {
	out := make(map[string]*model.TypeStats, len(a.byType))
	for k, v := range a.byType {
		s := withRecall(*v)
		out[k] = &s
	}
	return out
}

func withRecall(s model.TypeStats) model.TypeStats {
	s.AnswerRecall = recall(s.AnswerHits, s.Total)
	s.EvidenceRecall = recall(s.EvidenceHits, s.Total)
	s.SessionRecall = recall(s.SessionHits, s.Total)
	return s
}

func recall(hits, total int) float64 {
	return float64(hits) / float64(max(1, total))
}
