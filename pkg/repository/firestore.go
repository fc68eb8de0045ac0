package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const collectionRuns = "runs"

// Firestore implements Repository using Cloud Firestore
type Firestore struct {
	client *firestore.Client
}

var _ Repository = (*Firestore)(nil)

// New creates a new Firestore repository
func New(projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(context.Background(), projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.Value("project", projectID),
			goerr.Value("database", databaseID))
	}

	return &Firestore{client: client}, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) PutRun(ctx context.Context, run *model.RunSummary) error {
	if run.ID == "" {
		return goerr.New("run id is empty")
	}

	if _, err := r.client.Collection(collectionRuns).Doc(string(run.ID)).Set(ctx, run); err != nil {
		return goerr.Wrap(err, "failed to put run", goerr.Value("run_id", run.ID))
	}
	return nil
}

func (r *Firestore) GetRun(ctx context.Context, id model.RunID) (*model.RunSummary, error) {
	doc, err := r.client.Collection(collectionRuns).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrRunNotFound, "run does not exist", goerr.Value("run_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get run", goerr.Value("run_id", id))
	}

	var run model.RunSummary
	if err := doc.DataTo(&run); err != nil {
		return nil, goerr.Wrap(err, "failed to decode run", goerr.Value("run_id", id))
	}
	return &run, nil
}

func (r *Firestore) ListRuns(ctx context.Context, offset, limit int) ([]*model.RunSummary, error) {
	query := r.client.Collection(collectionRuns).OrderBy("started_at", firestore.Desc)
	if offset > 0 {
		query = query.Offset(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var runs []*model.RunSummary
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate runs")
		}

		var run model.RunSummary
		if err := doc.DataTo(&run); err != nil {
			return nil, goerr.Wrap(err, "failed to decode run", goerr.Value("doc_id", doc.Ref.ID))
		}
		runs = append(runs, &run)
	}

	return runs, nil
}
