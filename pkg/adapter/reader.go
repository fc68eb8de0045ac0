package adapter

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
)

var (
	// ErrNoChoices is returned when the reader responds without any candidate answer
	ErrNoChoices = goerr.New("reader response has no choices")
)

// Reader generates an answer from chat messages. Implementations do not retry.
type Reader interface {
	Complete(ctx context.Context, messages []model.ChatMessage, cfg *model.CompletionConfig) (string, error)
}

// ReaderError describes a failed reader call. Status is the HTTP status code, or 0 when
// the request did not get a response (transport failure).
type ReaderError struct {
	Provider string
	Status   int
	Message  string
	Cause    error
}

func (x *ReaderError) Error() string {
	if x.Status == 0 {
		return fmt.Sprintf("%s reader transport failure: %s", x.Provider, x.Message)
	}
	return fmt.Sprintf("%s reader returned %d: %s", x.Provider, x.Status, x.Message)
}

func (x *ReaderError) Unwrap() error {
	return x.Cause
}
