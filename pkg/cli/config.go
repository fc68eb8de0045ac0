package cli

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/adapter"
	"github.com/m-mizutani/memeval/pkg/policy"
	"github.com/m-mizutani/memeval/pkg/repository"
	"github.com/m-mizutani/memeval/pkg/usecase/eval"
	"github.com/m-mizutani/memeval/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	readerProviderOpenAI = "openai"
	readerProviderGemini = "gemini"

	defaultReaderModel = "openai/gpt-oss-20b"
	defaultGeminiModel = "gemini-2.5-flash"
)

// config holds configuration values
type config struct {
	// Memory service
	memoryURL     string
	memoryAPIKey  string
	memoryTimeout time.Duration

	// Evaluation
	datasetPath        string
	outJSONL           string
	k                  int64
	limit              int64
	useGraph           bool
	cleanupUser        bool
	hydrateMissingOnly bool
	policyDir          string

	// Reader
	readerProvider    string
	readerBaseURL     string
	readerModel       string
	readerAPIKey      string
	readerTimeout     time.Duration
	readerRetries     int64
	readerBackoffBase float64
	readerBackoffMax  time.Duration
	readerTemperature float64
	readerMaxTokens   int64
	geminiProject     string
	geminiLocation    string

	// Sinks
	summaryOut        string
	firestoreProject  string
	firestoreDatabase string
	gcsBucket         string
	gcsPrefix         string
	gcsEndpoint       string
	bigqueryProject   string
	bigqueryDataset   string
	bigqueryTable     string

	// Logging
	logLevel  string
	logFormat string
	logOutput string
}

// memoryFlags returns flags of the memory service connection
func memoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "memory-url",
			Aliases:     []string{"base-url"},
			Usage:       "Base URL of the memory service",
			Value:       "http://localhost:8080",
			Sources:     cli.EnvVars("MEMEVAL_MEMORY_URL"),
			Destination: &cfg.memoryURL,
		},
		&cli.StringFlag{
			Name:        "memory-api-key",
			Aliases:     []string{"api-key"},
			Usage:       "API key of the memory service, sent as x-api-key",
			Sources:     cli.EnvVars("MEMEVAL_MEMORY_API_KEY"),
			Destination: &cfg.memoryAPIKey,
		},
		&cli.DurationFlag{
			Name:        "memory-timeout",
			Usage:       "Timeout of a single memory service call",
			Value:       120 * time.Second,
			Sources:     cli.EnvVars("MEMEVAL_MEMORY_TIMEOUT"),
			Destination: &cfg.memoryTimeout,
		},
	}
}

// evalFlags returns flags shared by evaluation commands
func evalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "dataset",
			Aliases:     []string{"d"},
			Usage:       "Path to a LongMemEval JSON file (e.g. longmemeval_oracle.json)",
			Sources:     cli.EnvVars("MEMEVAL_DATASET"),
			Destination: &cfg.datasetPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "out-jsonl",
			Aliases:     []string{"o"},
			Usage:       "Path of the per-item JSONL output",
			Sources:     cli.EnvVars("MEMEVAL_OUT_JSONL"),
			Destination: &cfg.outJSONL,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "k",
			Usage:       "Number of memories to retrieve per question",
			Value:       eval.DefaultK,
			Sources:     cli.EnvVars("MEMEVAL_K"),
			Destination: &cfg.k,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of items to evaluate (0 for all)",
			Value:       50,
			Sources:     cli.EnvVars("MEMEVAL_LIMIT"),
			Destination: &cfg.limit,
		},
		&cli.BoolFlag{
			Name:        "use-graph",
			Usage:       "Enable graph-based retrieval in the memory service",
			Sources:     cli.EnvVars("MEMEVAL_USE_GRAPH"),
			Destination: &cfg.useGraph,
		},
		&cli.BoolFlag{
			Name:        "cleanup-user",
			Usage:       "Delete existing memories of each question's user before ingestion",
			Sources:     cli.EnvVars("MEMEVAL_CLEANUP_USER"),
			Destination: &cfg.cleanupUser,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego files selecting items via data.selection.allow",
			Sources:     cli.EnvVars("MEMEVAL_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// readerFlags returns flags of the reader model
func readerFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "reader-provider",
			Usage:       "Reader backend: openai (any OpenAI-compatible endpoint) or gemini",
			Value:       readerProviderOpenAI,
			Sources:     cli.EnvVars("MEMEVAL_READER_PROVIDER"),
			Destination: &cfg.readerProvider,
		},
		&cli.StringFlag{
			Name:        "reader-base-url",
			Usage:       "OpenAI-compatible base URL, with or without /v1",
			Value:       "https://api.openai.com",
			Sources:     cli.EnvVars("MEMEVAL_READER_BASE_URL"),
			Destination: &cfg.readerBaseURL,
		},
		&cli.StringFlag{
			Name:        "reader-model",
			Usage:       "Reader chat model name (gemini-2.5-flash when the provider is gemini and this is left at default)",
			Value:       defaultReaderModel,
			Sources:     cli.EnvVars("MEMEVAL_READER_MODEL"),
			Destination: &cfg.readerModel,
		},
		&cli.StringFlag{
			Name:        "reader-api-key",
			Usage:       "API key of the reader. Falls back to OPENAI_API_KEY",
			Sources:     cli.EnvVars("MEMEVAL_READER_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.readerAPIKey,
		},
		&cli.DurationFlag{
			Name:        "reader-timeout",
			Usage:       "Timeout of a single reader call",
			Value:       120 * time.Second,
			Sources:     cli.EnvVars("MEMEVAL_READER_TIMEOUT"),
			Destination: &cfg.readerTimeout,
		},
		&cli.IntFlag{
			Name:        "reader-retries",
			Usage:       "Total reader attempts per item",
			Value:       eval.DefaultRetries,
			Sources:     cli.EnvVars("MEMEVAL_READER_RETRIES"),
			Destination: &cfg.readerRetries,
		},
		&cli.FloatFlag{
			Name:        "reader-backoff-base",
			Usage:       "Backoff before retry n (0-based) is base^n seconds",
			Value:       eval.DefaultBackoffBase,
			Sources:     cli.EnvVars("MEMEVAL_READER_BACKOFF_BASE"),
			Destination: &cfg.readerBackoffBase,
		},
		&cli.DurationFlag{
			Name:        "reader-backoff-max",
			Usage:       "Upper bound of a single backoff sleep (0 for no bound)",
			Value:       eval.DefaultBackoffMax,
			Sources:     cli.EnvVars("MEMEVAL_READER_BACKOFF_MAX"),
			Destination: &cfg.readerBackoffMax,
		},
		&cli.FloatFlag{
			Name:        "reader-temperature",
			Usage:       "Sampling temperature of the reader",
			Value:       0,
			Sources:     cli.EnvVars("MEMEVAL_READER_TEMPERATURE"),
			Destination: &cfg.readerTemperature,
		},
		&cli.IntFlag{
			Name:        "reader-max-tokens",
			Usage:       "Maximum tokens of a generated answer",
			Value:       eval.DefaultMaxTokens,
			Sources:     cli.EnvVars("MEMEVAL_READER_MAX_TOKENS"),
			Destination: &cfg.readerMaxTokens,
		},
		&cli.BoolFlag{
			Name:        "hydrate-missing-only",
			Usage:       "Fetch full content only for matches returned without content",
			Sources:     cli.EnvVars("MEMEVAL_HYDRATE_MISSING_ONLY"),
			Destination: &cfg.hydrateMissingOnly,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("MEMEVAL_GEMINI_PROJECT", "GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("MEMEVAL_GEMINI_LOCATION", "GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
	}
}

// firestoreFlags returns flags of the run history store
func firestoreFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID of the run history store",
			Sources:     cli.EnvVars("MEMEVAL_FIRESTORE_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("MEMEVAL_FIRESTORE_DATABASE"),
			Destination: &cfg.firestoreDatabase,
		},
	}
}

// sinkFlags returns flags of optional outputs besides the JSONL file
func sinkFlags(cfg *config) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "summary-out",
			Usage:       "Write the run summary to this path (.yaml/.yml for YAML, JSON otherwise)",
			Sources:     cli.EnvVars("MEMEVAL_SUMMARY_OUT"),
			Destination: &cfg.summaryOut,
		},
		&cli.StringFlag{
			Name:        "gcs-bucket",
			Usage:       "Cloud Storage bucket to archive the JSONL output to",
			Sources:     cli.EnvVars("MEMEVAL_GCS_BUCKET"),
			Destination: &cfg.gcsBucket,
		},
		&cli.StringFlag{
			Name:        "gcs-prefix",
			Usage:       "Object prefix of archived JSONL files",
			Value:       "memeval",
			Sources:     cli.EnvVars("MEMEVAL_GCS_PREFIX"),
			Destination: &cfg.gcsPrefix,
		},
		&cli.StringFlag{
			Name:        "gcs-endpoint",
			Usage:       "Custom Cloud Storage endpoint, e.g. an emulator",
			Sources:     cli.EnvVars("MEMEVAL_GCS_ENDPOINT", "STORAGE_EMULATOR_HOST"),
			Destination: &cfg.gcsEndpoint,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project ID to export item records to",
			Sources:     cli.EnvVars("MEMEVAL_BIGQUERY_PROJECT"),
			Destination: &cfg.bigqueryProject,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset of the export table",
			Sources:     cli.EnvVars("MEMEVAL_BIGQUERY_DATASET"),
			Destination: &cfg.bigqueryDataset,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery table of the export",
			Value:       "items",
			Sources:     cli.EnvVars("MEMEVAL_BIGQUERY_TABLE"),
			Destination: &cfg.bigqueryTable,
		},
	}
	return append(flags, firestoreFlags(cfg)...)
}

// logFlags returns flags of logging
func logFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MEMEVAL_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("MEMEVAL_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "log-output",
			Usage:       "Log destination (stderr, stdout or a file path)",
			Value:       "stderr",
			Sources:     cli.EnvVars("MEMEVAL_LOG_OUTPUT"),
			Destination: &cfg.logOutput,
		},
	}
}

// newLogger builds the logger from log flags and installs it as default. The returned
// closer releases a log file.
func (cfg *config) newLogger() (*slog.Logger, func() error, error) {
	format, err := logging.ParseFormat(cfg.logFormat)
	if err != nil {
		return nil, nil, err
	}

	w, closer, err := logging.OpenOutput(cfg.logOutput)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.New(cfg.logLevel, format, w)
	logging.SetDefault(logger)
	return logger, closer, nil
}

// newMemory creates a new memory service client
func (cfg *config) newMemory() (adapter.Memory, error) {
	if cfg.memoryURL == "" {
		return nil, goerr.New("memory-url is required")
	}

	opts := []adapter.MemoryOption{
		adapter.WithMemoryTimeout(cfg.memoryTimeout),
	}
	if cfg.memoryAPIKey != "" {
		opts = append(opts, adapter.WithMemoryAPIKey(cfg.memoryAPIKey))
	}
	return adapter.NewMemory(cfg.memoryURL, opts...), nil
}

// newReader creates the reader selected by reader-provider
func (cfg *config) newReader(ctx context.Context) (adapter.Reader, error) {
	switch cfg.readerProvider {
	case readerProviderOpenAI:
		if cfg.readerBaseURL == "" {
			return nil, goerr.New("reader-base-url is required")
		}
		if cfg.readerModel == "" {
			return nil, goerr.New("reader-model is required")
		}
		if strings.Contains(cfg.readerBaseURL, "api.openai.com") && cfg.readerAPIKey == "" {
			return nil, goerr.New("reader API key is required for api.openai.com (pass --reader-api-key or set OPENAI_API_KEY)")
		}
		return adapter.NewOpenAI(cfg.readerBaseURL, cfg.readerModel, cfg.readerAPIKey,
			adapter.WithOpenAITimeout(cfg.readerTimeout)), nil

	case readerProviderGemini:
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-project is required")
		}
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
		reader, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
			adapter.WithGeminiModel(cfg.readerModelName()))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create gemini reader")
		}
		return reader, nil

	default:
		return nil, goerr.New("unsupported reader provider", goerr.Value("provider", cfg.readerProvider))
	}
}

// readerModelName returns the model name actually used by the selected provider
func (cfg *config) readerModelName() string {
	if cfg.readerProvider == readerProviderGemini && cfg.readerModel == defaultReaderModel {
		return defaultGeminiModel
	}
	return cfg.readerModel
}

// newRepository creates a new run history repository
func (cfg *config) newRepository() (*repository.Firestore, error) {
	if cfg.firestoreProject == "" {
		return nil, goerr.New("firestore-project is required")
	}
	if cfg.firestoreDatabase == "" {
		return nil, goerr.New("firestore-database is required")
	}

	repo, err := repository.New(cfg.firestoreProject, cfg.firestoreDatabase)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newStorage creates a new Storage adapter instance for the JSONL archive
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.gcsBucket == "" {
		return nil, goerr.New("gcs-bucket is required")
	}

	var opts []adapter.StorageOption
	if cfg.gcsEndpoint != "" {
		opts = append(opts, adapter.WithStorageEndpoint(cfg.gcsEndpoint))
	}

	storage, err := adapter.NewStorage(ctx, cfg.gcsBucket, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// newResultTable creates the BigQuery export table client and makes sure the table exists
func (cfg *config) newResultTable(ctx context.Context) (adapter.ResultTable, error) {
	if cfg.bigqueryProject == "" {
		return nil, goerr.New("bigquery-project is required")
	}
	if cfg.bigqueryDataset == "" {
		return nil, goerr.New("bigquery-dataset is required")
	}
	if cfg.bigqueryTable == "" {
		return nil, goerr.New("bigquery-table is required")
	}

	table, err := adapter.NewBigQuery(ctx, cfg.bigqueryProject, cfg.bigqueryDataset, cfg.bigqueryTable)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create bigquery client")
	}

	if err := table.EnsureTable(ctx); err != nil {
		_ = table.Close()
		return nil, err
	}
	return table, nil
}

// newPolicy loads the item selection policy
func (cfg *config) newPolicy(ctx context.Context) (*policy.Policy, error) {
	p, err := policy.Load(ctx, cfg.policyDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load selection policy", goerr.Value("dir", cfg.policyDir))
	}
	if files := p.Files(); len(files) > 0 {
		logging.From(ctx).Info("selection policy loaded", "dir", cfg.policyDir, "files", files)
	}
	return p, nil
}
