package cli

import (
	"context"
	"io"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/adapter"
	"github.com/m-mizutani/memeval/pkg/dataset"
	"github.com/m-mizutani/memeval/pkg/model"
	"github.com/m-mizutani/memeval/pkg/report"
	"github.com/m-mizutani/memeval/pkg/usecase/eval"
	"github.com/m-mizutani/memeval/pkg/utils/logging"
)

type runFunc func(uc *eval.UseCase, ctx context.Context, items []*model.EvaluationItem, sink eval.Sink) (*model.RunSummary, error)

// evaluate wires the shared parts of an evaluation command: logger, dataset, memory
// client, selection policy, sinks. Mode specific options come in through opts.
func evaluate(ctx context.Context, cfg *config, w io.Writer, run runFunc, opts ...eval.Option) (retErr error) {
	logger, closeLog, err := cfg.newLogger()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLog(); err != nil && retErr == nil {
			retErr = err
		}
	}()
	ctx = logging.With(ctx, logger)

	items, err := dataset.Load(cfg.datasetPath)
	if err != nil {
		return err
	}

	memory, err := cfg.newMemory()
	if err != nil {
		return err
	}

	selector, err := cfg.newPolicy(ctx)
	if err != nil {
		return err
	}

	ucOpts := []eval.Option{
		eval.WithOutput(w),
		eval.WithDataset(filepath.Base(cfg.datasetPath)),
		eval.WithK(int(cfg.k)),
		eval.WithLimit(int(cfg.limit)),
		eval.WithUseGraph(cfg.useGraph),
		eval.WithCleanup(cfg.cleanupUser),
		eval.WithSelector(selector),
	}

	if cfg.bigqueryProject != "" {
		table, err := cfg.newResultTable(ctx)
		if err != nil {
			return err
		}
		defer safeClose(ctx, table.Close)
		ucOpts = append(ucOpts, eval.WithResultTable(table))
	}

	uc := eval.New(memory, append(ucOpts, opts...)...)

	sink, err := report.CreateJSONL(cfg.outJSONL)
	if err != nil {
		return err
	}

	summary, runErr := run(uc, ctx, items, sink)
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return goerr.Wrap(runErr, "evaluation aborted",
			goerr.Value("run_id", uc.RunID()),
			goerr.Value("out_jsonl", sink.Path()))
	}
	logger.Info("item records written", "path", sink.Path(), "items", summary.Overall.Total)

	return cfg.publish(ctx, summary)
}

// publish sends the finished run to the optional sinks
func (cfg *config) publish(ctx context.Context, summary *model.RunSummary) error {
	logger := logging.From(ctx)

	if cfg.summaryOut != "" {
		if err := report.WriteSummary(cfg.summaryOut, summary); err != nil {
			return err
		}
		logger.Info("run summary written", "path", cfg.summaryOut)
	}

	if cfg.firestoreProject != "" {
		repo, err := cfg.newRepository()
		if err != nil {
			return err
		}
		defer safeClose(ctx, repo.Close)

		if err := repo.PutRun(ctx, summary); err != nil {
			return err
		}
		logger.Info("run saved", "run_id", summary.ID)
	}

	if cfg.gcsBucket != "" {
		storage, err := cfg.newStorage(ctx)
		if err != nil {
			return err
		}
		if err := archive(ctx, storage, cfg, summary.ID); err != nil {
			return err
		}
	}

	return nil
}

func archive(ctx context.Context, storage adapter.Storage, cfg *config, runID model.RunID) error {
	key := report.ArchiveKey(cfg.gcsPrefix, runID)
	if err := report.Archive(ctx, storage, key, cfg.outJSONL); err != nil {
		return err
	}
	logging.From(ctx).Info("jsonl archived", "bucket", cfg.gcsBucket, "key", key)
	return nil
}

func safeClose(ctx context.Context, closer func() error) {
	if err := closer(); err != nil {
		logging.From(ctx).Warn("failed to close client", "error", err)
	}
}
