package adapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
	"google.golang.org/api/googleapi"
)

// ResultTable exports per-item records to a BigQuery table
type ResultTable interface {
	// EnsureTable creates the table with ItemRowSchema when it does not exist
	EnsureTable(ctx context.Context) error

	// Insert streams records. Insert IDs are "<run_id>:<question_id>" so retried inserts deduplicate.
	Insert(ctx context.Context, records ...*model.ItemRecord) error

	Close() error
}

type bigqueryClient struct {
	client    *bigquery.Client
	datasetID string
	tableID   string
}

// NewBigQuery creates a new BigQuery result table client
func NewBigQuery(ctx context.Context, projectID, datasetID, tableID string) (ResultTable, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client", goerr.Value("project", projectID))
	}

	return &bigqueryClient{
		client:    client,
		datasetID: datasetID,
		tableID:   tableID,
	}, nil
}

func (bq *bigqueryClient) table() *bigquery.Table {
	return bq.client.Dataset(bq.datasetID).Table(bq.tableID)
}

func (bq *bigqueryClient) EnsureTable(ctx context.Context) error {
	_, err := bq.table().Metadata(ctx)
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return goerr.Wrap(err, "failed to get table metadata",
			goerr.Value("dataset", bq.datasetID),
			goerr.Value("table", bq.tableID))
	}

	meta := &bigquery.TableMetadata{
		Schema: ItemRowSchema(),
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "inserted_at",
		},
	}
	if err := bq.table().Create(ctx, meta); err != nil {
		return goerr.Wrap(err, "failed to create table",
			goerr.Value("dataset", bq.datasetID),
			goerr.Value("table", bq.tableID))
	}

	return nil
}

func (bq *bigqueryClient) Insert(ctx context.Context, records ...*model.ItemRecord) error {
	if len(records) == 0 {
		return nil
	}

	insertedAt := time.Now()
	rows := make([]*ItemRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, &ItemRow{Record: rec, InsertedAt: insertedAt})
	}

	if err := bq.table().Inserter().Put(ctx, rows); err != nil {
		return goerr.Wrap(err, "failed to insert rows",
			goerr.Value("table", bq.tableID),
			goerr.Value("count", len(rows)))
	}
	return nil
}

func (bq *bigqueryClient) Close() error {
	return bq.client.Close()
}

// ItemRowSchema is the table schema of exported item records
func ItemRowSchema() bigquery.Schema {
	return bigquery.Schema{
		{Name: "run_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "mode", Type: bigquery.StringFieldType, Required: true},
		{Name: "question_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "question_type", Type: bigquery.StringFieldType},
		{Name: "question", Type: bigquery.StringFieldType},
		{Name: "gold_answer", Type: bigquery.StringFieldType},
		{Name: "answer_hit", Type: bigquery.BooleanFieldType},
		{Name: "evidence_hit", Type: bigquery.BooleanFieldType},
		{Name: "session_hit", Type: bigquery.BooleanFieldType},
		{Name: "hypothesis", Type: bigquery.StringFieldType},
		{Name: "retrieved_count", Type: bigquery.IntegerFieldType},
		{Name: "k", Type: bigquery.IntegerFieldType},
		{Name: "latency_ms", Type: bigquery.IntegerFieldType},
		{Name: "retrieved", Type: bigquery.RecordFieldType, Repeated: true, Schema: bigquery.Schema{
			{Name: "id", Type: bigquery.StringFieldType},
			{Name: "score", Type: bigquery.FloatFieldType},
			{Name: "primary_sector", Type: bigquery.StringFieldType},
		}},
		{Name: "inserted_at", Type: bigquery.TimestampFieldType},
	}
}

// ItemRow adapts an ItemRecord to bigquery.ValueSaver
type ItemRow struct {
	Record     *model.ItemRecord
	InsertedAt time.Time
}

var _ bigquery.ValueSaver = (*ItemRow)(nil)

func (x *ItemRow) Save() (map[string]bigquery.Value, string, error) {
	rec := x.Record
	retrieved := make([]bigquery.Value, 0, len(rec.Retrieved))
	for _, ref := range rec.Retrieved {
		var score bigquery.Value
		if ref.Score.Valid {
			score = ref.Score.Value
		}
		retrieved = append(retrieved, map[string]bigquery.Value{
			"id":             string(ref.ID),
			"score":          score,
			"primary_sector": ref.PrimarySector,
		})
	}

	row := map[string]bigquery.Value{
		"run_id":        string(rec.RunID),
		"mode":          string(rec.Mode),
		"question_id":   rec.QuestionID,
		"question_type": rec.QuestionType,
		"question":      rec.Question,
		"gold_answer":   rec.GoldAnswer,
		"k":             rec.K,
		"latency_ms":    rec.LatencyMS,
		"retrieved":     retrieved,
		"inserted_at":   x.InsertedAt,
	}
	if rec.AnswerHit != nil {
		row["answer_hit"] = *rec.AnswerHit
	}
	if rec.EvidenceHit != nil {
		row["evidence_hit"] = *rec.EvidenceHit
	}
	if rec.SessionHit != nil {
		row["session_hit"] = *rec.SessionHit
	}
	if rec.Hypothesis != nil {
		row["hypothesis"] = *rec.Hypothesis
	}
	if rec.RetrievedCount != nil {
		row["retrieved_count"] = *rec.RetrievedCount
	}

	return row, string(rec.RunID) + ":" + rec.QuestionID, nil
}
