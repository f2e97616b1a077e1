package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
)

const attemptColumns = `id, quiz_id, candidate_email, candidate_name, questionnaire, status,
	started_at, ends_at, submitted_at, responses, score, violation`

var attemptOrderings = map[string]string{
	"candidate_email": "candidate_email",
	"candidate_name":  "candidate_name",
	"status":          "status",
	"score":           "score",
	"start_time":      "started_at",
	"end_time":        "ends_at",
	"submitted_at":    "submitted_at",
}

type attemptRow struct {
	ID             string         `db:"id"`
	QuizID         int64          `db:"quiz_id"`
	CandidateEmail string         `db:"candidate_email"`
	CandidateName  string         `db:"candidate_name"`
	Questionnaire  types.JSONText `db:"questionnaire"`
	Status         string         `db:"status"`
	StartedAt      time.Time      `db:"started_at"`
	EndsAt         time.Time      `db:"ends_at"`
	SubmittedAt    null.Time      `db:"submitted_at"`
	Responses      types.JSONText `db:"responses"`
	Score          null.Float64   `db:"score"`
	Violation      string         `db:"violation"`
}

func toAttemptRow(a quiz.Attempt) (attemptRow, error) {
	questionnaire := a.Questionnaire
	if questionnaire == nil {
		questionnaire = map[string]string{}
	}
	qData, err := json.Marshal(questionnaire)
	if err != nil {
		return attemptRow{}, errors.Wrap(err, "encoding questionnaire")
	}
	responses := a.Responses
	if responses == nil {
		responses = quiz.Responses{}
	}
	rData, err := json.Marshal(responses)
	if err != nil {
		return attemptRow{}, errors.Wrap(err, "encoding responses")
	}
	return attemptRow{
		ID:             a.ID,
		QuizID:         a.QuizID,
		CandidateEmail: a.CandidateEmail,
		CandidateName:  a.CandidateName,
		Questionnaire:  qData,
		Status:         string(a.Status),
		StartedAt:      a.StartedAt.UTC(),
		EndsAt:         a.EndsAt.UTC(),
		SubmittedAt:    null.TimeFromPtr(a.SubmittedAt),
		Responses:      rData,
		Score:          null.Float64FromPtr(a.Score),
		Violation:      a.Violation,
	}, nil
}

func (r attemptRow) toAttempt() (quiz.Attempt, error) {
	a := quiz.Attempt{
		ID:             r.ID,
		QuizID:         r.QuizID,
		CandidateEmail: r.CandidateEmail,
		CandidateName:  r.CandidateName,
		Status:         quiz.Status(r.Status),
		StartedAt:      r.StartedAt.UTC(),
		EndsAt:         r.EndsAt.UTC(),
		Score:          r.Score.Ptr(),
		Violation:      r.Violation,
	}
	if r.SubmittedAt.Valid {
		t := r.SubmittedAt.Time.UTC()
		a.SubmittedAt = &t
	}
	if err := r.Questionnaire.Unmarshal(&a.Questionnaire); err != nil {
		return quiz.Attempt{}, errors.Wrap(err, "decoding questionnaire")
	}
	if err := r.Responses.Unmarshal(&a.Responses); err != nil {
		return quiz.Attempt{}, errors.Wrap(err, "decoding responses")
	}
	if a.Questionnaire == nil {
		a.Questionnaire = map[string]string{}
	}
	if a.Responses == nil {
		a.Responses = quiz.Responses{}
	}
	return a, nil
}

func (repo *quizRepository) getAttempt(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (quiz.Attempt, error) {
	var row attemptRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		return quiz.Attempt{}, trapNoRowsErr(err, quiz.ErrAttemptNotFound, "getting attempt")
	}
	return row.toAttempt()
}

func (repo *quizRepository) CreateAttempt(ctx context.Context, a quiz.Attempt) (quiz.Attempt, error) {
	row, err := toAttemptRow(a)
	if err != nil {
		return quiz.Attempt{}, err
	}
	_, err = repo.db.NamedExecContext(ctx, `
		INSERT INTO quiz_attempt (`+attemptColumns+`)
		VALUES (:id, :quiz_id, :candidate_email, :candidate_name, :questionnaire, :status,
			:started_at, :ends_at, :submitted_at, :responses, :score, :violation)`,
		row)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return quiz.Attempt{}, quiz.ErrAttemptExists
		}
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == "23503" { // foreign_key_violation
			return quiz.Attempt{}, quiz.ErrQuizNotFound
		}
		return quiz.Attempt{}, errors.Wrap(err, "inserting attempt")
	}
	return a, nil
}

func (repo *quizRepository) GetAttempt(ctx context.Context, id string) (quiz.Attempt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	return repo.getAttempt(ctx, repo.db, "SELECT "+attemptColumns+" FROM quiz_attempt WHERE id = $1", id)
}

func (repo *quizRepository) GetCandidateAttempt(ctx context.Context, quizID int64, email string) (quiz.Attempt, error) {
	return repo.getAttempt(ctx, repo.db,
		"SELECT "+attemptColumns+" FROM quiz_attempt WHERE quiz_id = $1 AND candidate_email = $2",
		quizID, email)
}

// MergeResponses merges in a single statement: set questions overwrite, cleared questions are removed.
func (repo *quizRepository) MergeResponses(ctx context.Context, id string, r quiz.Responses) (quiz.Attempt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	set, cleared := r.Split()
	data, err := json.Marshal(set)
	if err != nil {
		return quiz.Attempt{}, errors.Wrap(err, "encoding responses")
	}
	if cleared == nil {
		cleared = []string{}
	}

	a, err := repo.getAttempt(ctx, repo.db, `
		UPDATE quiz_attempt SET responses = (responses || $2::jsonb) - $3::text[]
		WHERE id = $1 AND status = 'ONGOING'
		RETURNING `+attemptColumns,
		id, string(data), pq.Array(cleared))
	if err == nil {
		return a, nil
	}
	if errors.Cause(err) != quiz.ErrAttemptNotFound {
		return quiz.Attempt{}, errors.Wrap(err, "merging responses")
	}

	// not updated: either missing or no longer ongoing
	current, err := repo.GetAttempt(ctx, id)
	if err != nil {
		return quiz.Attempt{}, err
	}
	return current, quiz.ErrInvalidState
}

func (repo *quizRepository) FinalizeAttempt(ctx context.Context, id string, finalize func(current quiz.Attempt) quiz.Attempt) (quiz.Attempt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}

	var final quiz.Attempt
	var lost bool
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		current, err := repo.getAttempt(ctx, tx, "SELECT "+attemptColumns+" FROM quiz_attempt WHERE id = $1 FOR UPDATE", id)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			final, lost = current, true
			return nil
		}

		final = finalize(current)
		res, err := tx.ExecContext(ctx, `
			UPDATE quiz_attempt SET status = $2, submitted_at = $3, score = $4, violation = $5
			WHERE id = $1 AND status = 'ONGOING'`,
			id, string(final.Status), null.TimeFromPtr(final.SubmittedAt), null.Float64FromPtr(final.Score), final.Violation)
		if err != nil {
			return errors.Wrap(err, "finalizing attempt")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			lost = true
			final, err = repo.getAttempt(ctx, tx, "SELECT "+attemptColumns+" FROM quiz_attempt WHERE id = $1", id)
			return err
		}
		return nil
	})
	if err != nil {
		return quiz.Attempt{}, err
	}
	if lost {
		return final, quiz.ErrInvalidState
	}
	return final, nil
}

func (repo *quizRepository) QueryAttempts(ctx context.Context, filter *quiz.AttemptFilter, ordering []core.DBOrdering) ([]quiz.Attempt, error) {
	var w whereClause
	if filter != nil {
		if filter.QuizID != 0 {
			w.add("quiz_id = ?", filter.QuizID)
		}
		if filter.Status != "" {
			w.add("status = ?", string(filter.Status))
		}
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("candidate_email ILIKE ? OR candidate_name ILIKE ?", val, val)
		}
	}

	q := "SELECT " + attemptColumns + " FROM quiz_attempt" + w.String() + orderBy(ordering, attemptOrderings, "started_at DESC")
	var rows []attemptRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying attempts")
	}
	attempts := make([]quiz.Attempt, 0, len(rows))
	for _, r := range rows {
		a, err := r.toAttempt()
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

func (repo *quizRepository) OverdueAttempts(ctx context.Context, t time.Time, limit int) ([]string, error) {
	var ids []string
	err := repo.db.SelectContext(ctx, &ids, `
		SELECT id FROM quiz_attempt
		WHERE status = 'ONGOING' AND ends_at <= $1
		ORDER BY ends_at
		LIMIT $2`,
		t.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing overdue attempts")
	}
	return ids, nil
}
