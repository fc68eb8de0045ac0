package cli

import (
	"context"

	"github.com/m-mizutani/memeval/pkg/usecase/eval"
	"github.com/urfave/cli/v3"
)

func qaCommand() *cli.Command {
	var cfg config

	flags := evalFlags(&cfg)
	flags = append(flags, readerFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)
	flags = append(flags, sinkFlags(&cfg)...)
	flags = append(flags, logFlags(&cfg)...)

	return &cli.Command{
		Name:  "qa",
		Usage: "Generate hypotheses with a reader model over retrieved memories",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			reader, err := cfg.newReader(ctx)
			if err != nil {
				return err
			}

			return evaluate(ctx, &cfg, c.Root().Writer, (*eval.UseCase).RunQA,
				eval.WithReader(reader, cfg.readerModelName()),
				eval.WithRetries(int(cfg.readerRetries)),
				eval.WithBackoffBase(cfg.readerBackoffBase),
				eval.WithBackoffMax(cfg.readerBackoffMax),
				eval.WithTemperature(cfg.readerTemperature),
				eval.WithMaxTokens(int(cfg.readerMaxTokens)),
				eval.WithHydrateMissingOnly(cfg.hydrateMissingOnly),
			)
		},
	}
}
