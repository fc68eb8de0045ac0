package cli

import (
	"context"

	"github.com/m-mizutani/memeval/pkg/usecase/eval"
	"github.com/urfave/cli/v3"
)

func retrievalCommand() *cli.Command {
	var (
		cfg           config
		verifySession bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "verify-session",
			Aliases:     []string{"verify-by-session-id"},
			Usage:       "Compute session@k from metadata.session_id of retrieved memories (one GET per match)",
			Sources:     cli.EnvVars("MEMEVAL_VERIFY_SESSION"),
			Destination: &verifySession,
		},
	}
	flags = append(flags, evalFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)
	flags = append(flags, sinkFlags(&cfg)...)
	flags = append(flags, logFlags(&cfg)...)

	return &cli.Command{
		Name:  "retrieval",
		Usage: "Score retrieval recall (answer, evidence and session hits) at k",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			return evaluate(ctx, &cfg, c.Root().Writer, (*eval.UseCase).RunRetrieval,
				eval.WithVerifySession(verifySession),
			)
		},
	}
}
