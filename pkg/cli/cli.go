package cli

import (
	"context"
	"io"

	"github.com/m-mizutani/memeval/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

// RunOption customizes Run
type RunOption func(*cli.Command)

// WithWriter replaces the writer of progress and summary lines (stdout by default)
func WithWriter(w io.Writer) RunOption {
	return func(cmd *cli.Command) {
		cmd.Writer = w
	}
}

func Run(ctx context.Context, argv []string, opts ...RunOption) *Error {
	cmd := &cli.Command{
		Name:  "memeval",
		Usage: "LongMemEval harness for long-term memory services",
		Commands: []*cli.Command{
			retrievalCommand(),
			qaCommand(),
			runsCommand(),
		},
	}

	for _, opt := range opts {
		opt(cmd)
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
