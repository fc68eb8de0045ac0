package eval_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memeval/pkg/model"
	"github.com/m-mizutani/memeval/pkg/usecase/eval"
)

func TestSerializeSession(t *testing.T) {
	testCases := []struct {
		name     string
		turns    model.Session
		date     *string
		expected string
	}{
		{
			name: "with date",
			turns: model.Session{
				{Role: "user", Content: " I adopted a golden retriever. "},
				{Role: " assistant ", Content: "Congratulations!"},
			},
			date:     strPtr("2023/05/20 (Sat) 02:21"),
			expected: "[session_date=2023/05/20 (Sat) 02:21]\nuser: I adopted a golden retriever.\nassistant: Congratulations!",
		},
		{
			name: "without date",
			turns: model.Session{
				{Role: "user", Content: "hello"},
			},
			expected: "user: hello",
		},
		{
			name: "empty turns are dropped",
			turns: model.Session{
				{Role: "user", Content: "first"},
				{Role: "assistant", Content: "   "},
				{Role: "user", Content: "second"},
			},
			expected: "user: first\nuser: second",
		},
		{
			name: "all turns empty",
			turns: model.Session{
				{Role: "user", Content: ""},
				{Role: "assistant", Content: " \n\t"},
			},
			date:     strPtr("2023/05/20"),
			expected: "",
		},
		{
			name:     "no turns",
			expected: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, eval.SerializeSession(tc.turns, tc.date), tc.expected)
		})
	}
}
