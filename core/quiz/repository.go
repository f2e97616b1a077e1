package quiz

import (
	"context"
	"time"

	"github.com/trezcool/clubhub/core"
)

type (
	Repository interface {
		// CreateQuiz inserts q and its questions/options. Returns ErrJoinCodeExists on a duplicate code.
		CreateQuiz(ctx context.Context, q Quiz) (Quiz, error)
		// UpdateQuiz updates the quiz row only, not its questions.
		UpdateQuiz(ctx context.Context, q Quiz) (Quiz, error)
		// DeleteQuiz deletes a quiz with its questions, options and attempts.
		DeleteQuiz(ctx context.Context, id int64) error
		// GetQuiz returns the quiz with its questions and options, ordered.
		GetQuiz(ctx context.Context, id int64) (Quiz, error)
		GetQuizIDByCode(ctx context.Context, code string) (int64, error)
		// QueryQuizzes returns quizzes without their questions.
		QueryQuizzes(ctx context.Context, filter *QuizFilter, ordering []core.DBOrdering) ([]Quiz, error)

		CreateQuestion(ctx context.Context, qn Question) (Question, error)
		GetQuestion(ctx context.Context, id int64) (Question, error)
		UpdateQuestion(ctx context.Context, qn Question) (Question, error)
		DeleteQuestion(ctx context.Context, id int64) error

		CreateOption(ctx context.Context, opt Option) (Option, error)
		GetOption(ctx context.Context, id int64) (Option, error)
		UpdateOption(ctx context.Context, opt Option) (Option, error)
		DeleteOption(ctx context.Context, id int64) error

		// CreateAttempt returns ErrAttemptExists if the candidate already has an attempt for the quiz.
		CreateAttempt(ctx context.Context, a Attempt) (Attempt, error)
		GetAttempt(ctx context.Context, id string) (Attempt, error)
		GetCandidateAttempt(ctx context.Context, quizID int64, email string) (Attempt, error)
		// MergeResponses atomically merges r into the stored responses of an ONGOING attempt.
		// Returns ErrInvalidState if the attempt is terminal.
		MergeResponses(ctx context.Context, id string, r Responses) (Attempt, error)
		// FinalizeAttempt locks the attempt and, if it is still ONGOING, stores the terminal attempt
		// returned by finalize. Otherwise it returns the stored attempt and ErrInvalidState:
		// the first terminal write wins.
		FinalizeAttempt(ctx context.Context, id string, finalize func(current Attempt) Attempt) (Attempt, error)
		QueryAttempts(ctx context.Context, filter *AttemptFilter, ordering []core.DBOrdering) ([]Attempt, error)
		// OverdueAttempts returns the IDs of ONGOING attempts that ended before t.
		OverdueAttempts(ctx context.Context, t time.Time, limit int) ([]string, error)
	}

	// Cache holds admin views of quizzes, keyed by ID.
	Cache interface {
		// GetQuiz returns ErrCacheMiss when the quiz is not cached.
		GetQuiz(ctx context.Context, id int64) (Quiz, error)
		SetQuiz(ctx context.Context, q Quiz) error
		DeleteQuiz(ctx context.Context, id int64) error
	}

	// Observer is notified of attempt lifecycle events (metrics).
	Observer interface {
		AttemptStarted(quizID int64)
		ResponsesSaved(quizID int64)
		AttemptFinished(quizID int64, status Status, score float64)
	}
)

type noopCache struct{}

func (noopCache) GetQuiz(context.Context, int64) (Quiz, error) { return Quiz{}, ErrCacheMiss }
func (noopCache) SetQuiz(context.Context, Quiz) error          { return nil }
func (noopCache) DeleteQuiz(context.Context, int64) error      { return nil }

type noopObserver struct{}

func (noopObserver) AttemptStarted(int64)                  {}
func (noopObserver) ResponsesSaved(int64)                  {}
func (noopObserver) AttemptFinished(int64, Status, float64) {}
