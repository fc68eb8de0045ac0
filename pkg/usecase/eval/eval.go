package eval

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/m-mizutani/memeval/pkg/adapter"
	"github.com/m-mizutani/memeval/pkg/model"
)

const (
	DefaultK           = 8
	DefaultRetries     = 3
	DefaultBackoffBase = 2.0
	DefaultBackoffMax  = 60 * time.Second
	DefaultMaxTokens   = 256
)

// Sink receives one record per evaluated item
type Sink interface {
	Put(ctx context.Context, record *model.ItemRecord) error
}

// Selector decides whether an item takes part in the run
type Selector interface {
	Select(ctx context.Context, item *model.EvaluationItem) (bool, error)
}

// UseCase runs LongMemEval items against the memory service
type UseCase struct {
	memory adapter.Memory
	reader adapter.Reader
	table  adapter.ResultTable

	selector Selector
	output   io.Writer

	runID              model.RunID
	dataset            string
	readerModel        string
	k                  int
	limit              int
	useGraph           bool
	verifySession      bool
	cleanup            bool
	hydrateMissingOnly bool

	retries     int
	backoffBase float64
	backoffUnit time.Duration
	backoffMax  time.Duration
	temperature float64
	maxTokens   int

	now func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithOutput sets the writer of progress and summary lines
func WithOutput(w io.Writer) Option {
	return func(uc *UseCase) {
		uc.output = w
	}
}

// WithReader sets the reader used by RunQA
func WithReader(reader adapter.Reader, modelName string) Option {
	return func(uc *UseCase) {
		uc.reader = reader
		uc.readerModel = modelName
	}
}

// WithResultTable streams every item record to a BigQuery table
func WithResultTable(table adapter.ResultTable) Option {
	return func(uc *UseCase) {
		uc.table = table
	}
}

func WithSelector(selector Selector) Option {
	return func(uc *UseCase) {
		uc.selector = selector
	}
}

func WithRunID(id model.RunID) Option {
	return func(uc *UseCase) {
		uc.runID = id
	}
}

// WithDataset records the dataset name in the run summary
func WithDataset(name string) Option {
	return func(uc *UseCase) {
		uc.dataset = name
	}
}

func WithK(k int) Option {
	return func(uc *UseCase) {
		uc.k = k
	}
}

// WithLimit caps the number of evaluated items. Zero or less means no cap.
func WithLimit(limit int) Option {
	return func(uc *UseCase) {
		uc.limit = limit
	}
}

func WithUseGraph(enabled bool) Option {
	return func(uc *UseCase) {
		uc.useGraph = enabled
	}
}

// WithVerifySession enables session_hit, which costs one GET per match
func WithVerifySession(enabled bool) Option {
	return func(uc *UseCase) {
		uc.verifySession = enabled
	}
}

// WithCleanup deletes memories of the item's user before ingestion
func WithCleanup(enabled bool) Option {
	return func(uc *UseCase) {
		uc.cleanup = enabled
	}
}

// WithHydrateMissingOnly skips GET for matches that already carry content
func WithHydrateMissingOnly(enabled bool) Option {
	return func(uc *UseCase) {
		uc.hydrateMissingOnly = enabled
	}
}

// WithRetries sets the total number of reader attempts. Values below 1 mean one attempt.
func WithRetries(n int) Option {
	return func(uc *UseCase) {
		if n < 1 {
			n = 1
		}
		uc.retries = n
	}
}

func WithBackoffBase(base float64) Option {
	return func(uc *UseCase) {
		uc.backoffBase = base
	}
}

// WithBackoffUnit sets the duration multiplied by base^attempt. Default is one second.
func WithBackoffUnit(unit time.Duration) Option {
	return func(uc *UseCase) {
		uc.backoffUnit = unit
	}
}

// WithBackoffMax caps a single backoff sleep. Zero disables the cap.
func WithBackoffMax(max time.Duration) Option {
	return func(uc *UseCase) {
		uc.backoffMax = max
	}
}

func WithTemperature(temperature float64) Option {
	return func(uc *UseCase) {
		uc.temperature = temperature
	}
}

func WithMaxTokens(n int) Option {
	return func(uc *UseCase) {
		uc.maxTokens = n
	}
}

// WithClock replaces time.Now for latency and run timestamps
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new eval UseCase instance
func New(memory adapter.Memory, opts ...Option) *UseCase {
	uc := &UseCase{
		memory:      memory,
		output:      os.Stdout,
		k:           DefaultK,
		retries:     DefaultRetries,
		backoffBase: DefaultBackoffBase,
		backoffUnit: time.Second,
		backoffMax:  DefaultBackoffMax,
		maxTokens:   DefaultMaxTokens,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	if uc.runID == "" {
		uc.runID = model.NewRunID()
	}

	return uc
}

// RunID returns the identifier of runs executed by this UseCase
func (u *UseCase) RunID() model.RunID {
	return u.runID
}
