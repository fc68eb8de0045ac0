package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidItem = goerr.New("invalid evaluation item")
)

// userIDPrefix namespaces per-question users in the memory service
const userIDPrefix = "longmemeval:"

// Turn is one utterance of a haystack session
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	HasAnswer bool   `json:"has_answer,omitempty"`
}

// Session is a chronological list of turns
type Session []Turn

// Answer is the gold answer text. LongMemEval stores some answers as numbers, so both
// JSON strings and numbers are accepted and kept as their text form.
type Answer string

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return goerr.Wrap(err, "failed to decode answer string")
		}
		*a = Answer(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return goerr.Wrap(err, "answer must be a string or a number", goerr.Value("raw", string(data)))
	}
	*a = Answer(n.String())
	return nil
}

// EvaluationItem is one labeled question of the LongMemEval dataset
type EvaluationItem struct {
	QuestionID         string    `json:"question_id"`
	Question           string    `json:"question"`
	Answer             Answer    `json:"answer"`
	QuestionType       string    `json:"question_type"`
	HaystackSessions   []Session `json:"haystack_sessions"`
	HaystackDates      []*string `json:"haystack_dates"`
	HaystackSessionIDs []string  `json:"haystack_session_ids"`
	AnswerSessionIDs   []string  `json:"answer_session_ids"`
}

// Validate checks fields required to run the item
func (x *EvaluationItem) Validate() error {
	if x.QuestionID == "" {
		return goerr.Wrap(ErrInvalidItem, "question_id is empty")
	}
	if x.Question == "" {
		return goerr.Wrap(ErrInvalidItem, "question is empty", goerr.Value("question_id", x.QuestionID))
	}
	return nil
}

// UserID returns the per-question user identity in the memory service
func (x *EvaluationItem) UserID() string {
	return userIDPrefix + x.QuestionID
}

// GoldAnswer returns the trimmed gold answer
func (x *EvaluationItem) GoldAnswer() string {
	return strings.TrimSpace(string(x.Answer))
}

// SessionDate returns the date of the idx-th session, or nil when the dates array is shorter
func (x *EvaluationItem) SessionDate(idx int) *string {
	if idx < 0 || idx >= len(x.HaystackDates) {
		return nil
	}
	return x.HaystackDates[idx]
}

// SessionID returns the identifier of the idx-th session. Missing entries are synthesized
// as "<question_id>:<idx>".
func (x *EvaluationItem) SessionID(idx int) string {
	if idx >= 0 && idx < len(x.HaystackSessionIDs) {
		return x.HaystackSessionIDs[idx]
	}
	return x.QuestionID + ":" + strconv.Itoa(idx)
}

// EvidenceTurns returns trimmed, non-empty contents of all turns flagged has_answer
func (x *EvaluationItem) EvidenceTurns() []string {
	var turns []string
	for _, sess := range x.HaystackSessions {
		for _, t := range sess {
			if !t.HasAnswer {
				continue
			}
			if c := strings.TrimSpace(t.Content); c != "" {
				turns = append(turns, c)
			}
		}
	}
	return turns
}

// IsAnswerSession reports whether sessionID is one of the evidence sessions
func (x *EvaluationItem) IsAnswerSession(sessionID string) bool {
	for _, id := range x.AnswerSessionIDs {
		if id == sessionID {
			return true
		}
	}
	return false
}
