package model

import (
	"time"

	"github.com/google/uuid"
)

type RunID string

// NewRunID generates a new unique RunID
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

type Mode string

const (
	ModeRetrieval Mode = "retrieval"
	ModeQA        Mode = "qa"
)

// EvalResult is the retrieval outcome of one item
type EvalResult struct {
	AnswerHit   bool
	EvidenceHit bool
	SessionHit  bool
	LatencyMS   int64
	Matches     []*Match
}

// Hypothesis is the reader output of one item
type Hypothesis struct {
	QuestionID  string
	Text        string
	LatencyMS   int64
	MemoryCount int
	Matches     []*Match
}

// RetrievedRef is the compact projection of a match written to logs
type RetrievedRef struct {
	ID            MemoryID `json:"id"`
	Score         Score    `json:"score"`
	PrimarySector string   `json:"primary_sector"`
}

// NewRetrievedRefs projects matches without their content
func NewRetrievedRefs(matches []*Match) []RetrievedRef {
	refs := make([]RetrievedRef, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, RetrievedRef{
			ID:            m.ID,
			Score:         m.Score,
			PrimarySector: m.PrimarySector,
		})
	}
	return refs
}

// ItemRecord is one line of the JSONL output. Hit fields are set in retrieval mode,
// Hypothesis and RetrievedCount in qa mode.
type ItemRecord struct {
	RunID        RunID  `json:"run_id"`
	Mode         Mode   `json:"mode"`
	QuestionID   string `json:"question_id"`
	QuestionType string `json:"question_type,omitempty"`
	Question     string `json:"question"`
	GoldAnswer   string `json:"gold_answer"`

	AnswerHit   *bool `json:"answer_hit,omitempty"`
	EvidenceHit *bool `json:"evidence_hit,omitempty"`
	SessionHit  *bool `json:"session_hit,omitempty"`

	Hypothesis     *string `json:"hypothesis,omitempty"`
	RetrievedCount *int    `json:"retrieved_count,omitempty"`

	K         int            `json:"k"`
	LatencyMS int64          `json:"latency_ms"`
	Retrieved []RetrievedRef `json:"retrieved"`
}

// TypeStats aggregates hit counts for one question_type
type TypeStats struct {
	Total          int     `json:"total" yaml:"total" firestore:"total"`
	AnswerHits     int     `json:"answer_hits" yaml:"answer_hits" firestore:"answer_hits"`
	EvidenceHits   int     `json:"evidence_hits" yaml:"evidence_hits" firestore:"evidence_hits"`
	SessionHits    int     `json:"session_hits" yaml:"session_hits" firestore:"session_hits"`
	AnswerRecall   float64 `json:"answer_recall" yaml:"answer_recall" firestore:"answer_recall"`
	EvidenceRecall float64 `json:"evidence_recall" yaml:"evidence_recall" firestore:"evidence_recall"`
	SessionRecall  float64 `json:"session_recall" yaml:"session_recall" firestore:"session_recall"`
}

// RunSummary is the aggregate outcome of a run
type RunSummary struct {
	ID            RunID                 `json:"id" yaml:"id" firestore:"id"`
	Mode          Mode                  `json:"mode" yaml:"mode" firestore:"mode"`
	Dataset       string                `json:"dataset" yaml:"dataset" firestore:"dataset"`
	K             int                   `json:"k" yaml:"k" firestore:"k"`
	UseGraph      bool                  `json:"use_graph" yaml:"use_graph" firestore:"use_graph"`
	VerifySession bool                  `json:"verify_session" yaml:"verify_session" firestore:"verify_session"`
	ReaderModel   string                `json:"reader_model,omitempty" yaml:"reader_model,omitempty" firestore:"reader_model"`
	Overall       TypeStats             `json:"overall" yaml:"overall" firestore:"overall"`
	ByType        map[string]*TypeStats `json:"by_type" yaml:"by_type" firestore:"by_type"`
	StartedAt     time.Time             `json:"started_at" yaml:"started_at" firestore:"started_at"`
	FinishedAt    time.Time             `json:"finished_at" yaml:"finished_at" firestore:"finished_at"`
}

// Elapsed returns wall-clock duration of the run
func (x *RunSummary) Elapsed() time.Duration {
	return x.FinishedAt.Sub(x.StartedAt)
}
