package dataset_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memeval/pkg/dataset"
	"github.com/m-mizutani/memeval/pkg/model"
)

const sample = `[
  {
    "question_id": "q-1",
    "question_type": "single-session-user",
    "question": "What pet do I have?",
    "answer": "golden retriever",
    "haystack_dates": ["2023/05/20 (Sat) 02:21", null],
    "haystack_session_ids": ["s-1", "s-2"],
    "answer_session_ids": ["s-1"],
    "haystack_sessions": [
      [
        {"role": "user", "content": "I adopted a golden retriever.", "has_answer": true},
        {"role": "assistant", "content": "Nice!"}
      ],
      [
        {"role": "user", "content": "Tell me a joke."}
      ]
    ]
  },
  {
    "question_id": "q-2",
    "question_type": "multi-session",
    "question": "How many books did I read?",
    "answer": 3,
    "haystack_sessions": []
  }
]`

func TestDecode(t *testing.T) {
	items, err := dataset.Decode(strings.NewReader(sample))
	gt.NoError(t, err)
	gt.A(t, items).Length(2)

	first := items[0]
	gt.Equal(t, first.UserID(), "longmemeval:q-1")
	gt.Equal(t, first.GoldAnswer(), "golden retriever")
	gt.A(t, first.HaystackSessions).Length(2)
	gt.True(t, first.HaystackSessions[0][0].HasAnswer)
	gt.Equal(t, *first.SessionDate(0), "2023/05/20 (Sat) 02:21")
	gt.True(t, first.SessionDate(1) == nil)
	gt.True(t, first.SessionDate(2) == nil)
	gt.Equal(t, first.SessionID(1), "s-2")
	gt.Equal(t, first.EvidenceTurns(), []string{"I adopted a golden retriever."})
	gt.True(t, first.IsAnswerSession("s-1"))
	gt.False(t, first.IsAnswerSession("s-2"))

	second := items[1]
	gt.Equal(t, second.GoldAnswer(), "3")
	gt.Equal(t, second.SessionID(0), "q-2:0")
}

func TestDecodeInvalid(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"missing question_id", `[{"question": "?"}]`},
		{"missing question", `[{"question_id": "q-1"}]`},
		{"null item", `[null]`},
		{"not an array", `{"question_id": "q-1"}`},
		{"wrong session type", `[{"question_id": "q-1", "question": "?", "haystack_sessions": "oops"}]`},
		{"object answer", `[{"question_id": "q-1", "question": "?", "answer": {"a": 1}}]`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := dataset.Decode(strings.NewReader(tc.input))
			gt.Error(t, err)
		})
	}

	t.Run("validation error is ErrInvalidItem", func(t *testing.T) {
		_, err := dataset.Decode(strings.NewReader(`[{"question_id": "q-1"}]`))
		gt.True(t, errors.Is(err, model.ErrInvalidItem))
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "longmemeval_oracle.json")
	gt.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	items, err := dataset.Load(path)
	gt.NoError(t, err)
	gt.A(t, items).Length(2)

	_, err = dataset.Load(filepath.Join(t.TempDir(), "missing.json"))
	gt.Error(t, err)
}
