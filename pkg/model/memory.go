package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type MemoryID string

// MemoryMetadata is attached to every ingested session for provenance checks
type MemoryMetadata struct {
	QuestionID  string  `json:"question_id"`
	SessionID   string  `json:"session_id"`
	SessionDate *string `json:"session_date"`
	Index       int     `json:"idx"`
}

// AddMemoryInput is the body of POST /memory/add
type AddMemoryInput struct {
	Content  string          `json:"content"`
	Tags     []string        `json:"tags"`
	Metadata *MemoryMetadata `json:"metadata"`
	UserID   string          `json:"user_id"`
}

// QueryFilters restricts a query to one user and toggles graph retrieval
type QueryFilters struct {
	UserID   string `json:"user_id"`
	UseGraph bool   `json:"use_graph"`
}

// QueryInput is the body of POST /memory/query
type QueryInput struct {
	Query   string        `json:"query"`
	K       int           `json:"k"`
	Filters *QueryFilters `json:"filters"`
}

// Score is a relevance score that may be missing or non-numeric in a response
type Score struct {
	Value float64
	Valid bool
}

func NewScore(v float64) Score {
	return Score{Value: v, Valid: true}
}

// UnmarshalJSON accepts numbers; anything else decodes as an invalid score
func (s *Score) UnmarshalJSON(data []byte) error {
	*s = Score{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || (data[0] != '-' && (data[0] < '0' || data[0] > '9')) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	*s = Score{Value: v, Valid: true}
	return nil
}

func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.Value)
}

// String formats the score for prompts
func (s Score) String() string {
	if !s.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", s.Value)
}

// Match is one entry of a query response, most relevant first
type Match struct {
	ID            MemoryID `json:"id"`
	Score         Score    `json:"score"`
	PrimarySector string   `json:"primary_sector"`
	Content       string   `json:"content,omitempty"`
}

// MemoryRecord is the full record returned by GET /memory/{id}
type MemoryRecord struct {
	ID            MemoryID       `json:"id"`
	Content       string         `json:"content"`
	PrimarySector string         `json:"primary_sector"`
	Tags          []string       `json:"tags"`
	Metadata      map[string]any `json:"metadata"`
	UserID        string         `json:"user_id"`
}

// SessionID returns metadata.session_id when it is a string
func (x *MemoryRecord) SessionID() (string, bool) {
	if x == nil || x.Metadata == nil {
		return "", false
	}
	sid, ok := x.Metadata["session_id"].(string)
	return sid, ok
}
