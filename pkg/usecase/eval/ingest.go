package eval

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memeval/pkg/model"
	"github.com/m-mizutani/memeval/pkg/utils/logging"
)

const datasetTag = "longmemeval"

// Ingest writes every non-empty haystack session of item to the memory service, in
// session order, under the item's user. With cleanup enabled the user's existing
// memories are deleted first.
func (u *UseCase) Ingest(ctx context.Context, item *model.EvaluationItem) error {
	logger := logging.From(ctx)
	userID := item.UserID()

	if u.cleanup {
		if err := u.memory.DeleteUserMemories(ctx, userID); err != nil {
			return goerr.Wrap(err, "failed to clean up user memories", goerr.Value("user_id", userID))
		}
	}

	for idx, sess := range item.HaystackSessions {
		sid := item.SessionID(idx)
		date := item.SessionDate(idx)

		content := SerializeSession(sess, date)
		if content == "" {
			logger.Debug("skip empty session", "question_id", item.QuestionID, "session_id", sid)
			continue
		}

		input := &model.AddMemoryInput{
			Content: content,
			Tags:    []string{datasetTag, "qid:" + item.QuestionID, "sid:" + sid},
			Metadata: &model.MemoryMetadata{
				QuestionID:  item.QuestionID,
				SessionID:   sid,
				SessionDate: date,
				Index:       idx,
			},
			UserID: userID,
		}

		id, err := u.memory.Add(ctx, input)
		if err != nil {
			return goerr.Wrap(err, "failed to add session",
				goerr.Value("question_id", item.QuestionID),
				goerr.Value("session_id", sid),
				goerr.Value("idx", idx))
		}
		logger.Debug("session ingested", "question_id", item.QuestionID, "session_id", sid, "memory_id", id)
	}

	return nil
}

func (u *UseCase) query(ctx context.Context, item *model.EvaluationItem) ([]*model.Match, error) {
	matches, err := u.memory.Query(ctx, &model.QueryInput{
		Query: item.Question,
		K:     u.k,
		Filters: &model.QueryFilters{
			UserID:   item.UserID(),
			UseGraph: u.useGraph,
		},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query memories", goerr.Value("question_id", item.QuestionID))
	}
	return matches, nil
}
