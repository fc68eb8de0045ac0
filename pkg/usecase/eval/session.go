package eval

import (
	"strings"

	"github.com/m-mizutani/memeval/pkg/model"
)

// SerializeSession renders a session as "role: content" lines, prefixed with the session
// date when one is known. Empty turns are dropped; if nothing remains the result is "".
func SerializeSession(turns model.Session, date *string) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		lines = append(lines, strings.TrimSpace(t.Role)+": "+content)
	}

	if len(lines) == 0 {
		return ""
	}

	body := strings.Join(lines, "\n")
	if date != nil {
		return "[session_date=" + *date + "]\n" + body
	}
	return body
}
