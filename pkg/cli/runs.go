package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func runsCommand() *cli.Command {
	var (
		cfg    config
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Offset for pagination",
			Value:       0,
			Sources:     cli.EnvVars("MEMEVAL_RUNS_OFFSET"),
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of runs to list",
			Value:       20,
			Sources:     cli.EnvVars("MEMEVAL_RUNS_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, firestoreFlags(&cfg)...)
	flags = append(flags, logFlags(&cfg)...)

	return &cli.Command{
		Name:      "runs",
		Usage:     "List recorded runs, or show one run when an ID is given",
		ArgsUsage: "[run-id]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			_, closeLog, err := cfg.newLogger()
			if err != nil {
				return err
			}
			defer closeLog()

			repo, err := cfg.newRepository()
			if err != nil {
				return err
			}
			defer safeClose(ctx, repo.Close)

			w := c.Root().Writer

			if id := c.Args().First(); id != "" {
				run, err := repo.GetRun(ctx, model.RunID(id))
				if err != nil {
					return goerr.Wrap(err, "failed to get run")
				}

				data, err := yaml.Marshal(run)
				if err != nil {
					return goerr.Wrap(err, "failed to marshal run")
				}
				fmt.Fprint(w, string(data))
				return nil
			}

			runs, err := repo.ListRuns(ctx, int(offset), int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list runs")
			}

			for _, r := range runs {
				fmt.Fprintln(w, formatRun(r))
			}
			return nil
		},
	}
}

func formatRun(r *model.RunSummary) string {
	line := fmt.Sprintf("%s\t%s\t%s\t%s\tk=%d\titems=%d",
		r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Mode, r.Dataset, r.K, r.Overall.Total)
	if r.Mode == model.ModeRetrieval {
		line += fmt.Sprintf("\tanswer=%.3f\tevidence=%.3f", r.Overall.AnswerRecall, r.Overall.EvidenceRecall)
		if r.VerifySession {
			line += fmt.Sprintf("\tsession=%.3f", r.Overall.SessionRecall)
		}
	} else {
		line += "\treader=" + r.ReaderModel
	}
	return line
}
