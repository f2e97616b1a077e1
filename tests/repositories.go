package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
	"github.com/trezcool/clubhub/core/user"
)

// RunQuizRepositoryTests checks the behaviour every quiz.Repository must share.
func RunQuizRepositoryTests(t *testing.T, repo quiz.Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	q, err := repo.CreateQuiz(ctx, quiz.Quiz{
		Title: "Go", JoinCode: "GOQUIZ01", DurationMinutes: 30, IsActive: true,
		DefaultMarks: 4, DefaultNegativeMarks: 1, CreatedAt: now, UpdatedAt: now,
		Questions: []quiz.Question{{
			Text: "Pick A", Type: quiz.SingleChoice, Marks: 4, NegativeMarks: 1, Order: 1,
			Options: []quiz.Option{{Text: "A", IsCorrect: true, Order: 1}, {Text: "B", Order: 2}},
		}},
	})
	require.NoError(t, err)
	require.NotZero(t, q.ID)

	_, err = repo.CreateQuiz(ctx, quiz.Quiz{Title: "Dup", JoinCode: "GOQUIZ01", DurationMinutes: 30, CreatedAt: now, UpdatedAt: now})
	assert.Equal(t, quiz.ErrJoinCodeExists, errors.Cause(err))

	t.Run("quiz", func(t *testing.T) {
		id, err := repo.GetQuizIDByCode(ctx, "GOQUIZ01")
		require.NoError(t, err)
		assert.Equal(t, q.ID, id)
		_, err = repo.GetQuizIDByCode(ctx, "NOPE")
		assert.True(t, quiz.IsNotFound(err))

		got, err := repo.GetQuiz(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, "Go", got.Title)
		require.Len(t, got.Questions, 1)
		require.Len(t, got.Questions[0].Options, 2)
		assert.True(t, got.Questions[0].Options[0].IsCorrect)

		qn, err := repo.CreateQuestion(ctx, quiz.Question{QuizID: q.ID, Text: "Explain", Type: quiz.LongText, Order: 2})
		require.NoError(t, err)
		opt, err := repo.CreateOption(ctx, quiz.Option{QuestionID: got.Questions[0].ID, Text: "C", Order: 3})
		require.NoError(t, err)
		opt.Text = "C!"
		_, err = repo.UpdateOption(ctx, opt)
		require.NoError(t, err)

		got, err = repo.GetQuiz(ctx, q.ID)
		require.NoError(t, err)
		require.Len(t, got.Questions, 2)
		assert.Equal(t, qn.ID, got.Questions[1].ID)
		require.Len(t, got.Questions[0].Options, 3)
		assert.Equal(t, "C!", got.Questions[0].Options[2].Text)

		require.NoError(t, repo.DeleteOption(ctx, opt.ID))
		require.NoError(t, repo.DeleteQuestion(ctx, qn.ID))
		_, err = repo.GetQuestion(ctx, qn.ID)
		assert.True(t, quiz.IsNotFound(err))

		active := false
		quizzes, err := repo.QueryQuizzes(ctx, &quiz.QuizFilter{Search: "go", IsActive: &active}, nil)
		require.NoError(t, err)
		assert.Empty(t, quizzes)
		quizzes, err = repo.QueryQuizzes(ctx, &quiz.QuizFilter{Search: "go"}, nil)
		require.NoError(t, err)
		assert.Len(t, quizzes, 1)
	})

	newAttempt := func(email string, endsAt time.Time) quiz.Attempt {
		a, err := repo.CreateAttempt(ctx, quiz.Attempt{
			ID:             uuid.New().String(),
			QuizID:         q.ID,
			CandidateEmail: email,
			Questionnaire:  map[string]string{"school": "UNIKIN"},
			Status:         quiz.StatusOngoing,
			StartedAt:      now,
			EndsAt:         endsAt,
			Responses:      quiz.Responses{},
		})
		require.NoError(t, err)
		return a
	}

	t.Run("attempts", func(t *testing.T) {
		a := newAttempt("jane@test.cd", now.Add(30*time.Minute))
		_, err := repo.CreateAttempt(ctx, quiz.Attempt{
			ID: uuid.New().String(), QuizID: q.ID, CandidateEmail: "jane@test.cd",
			Status: quiz.StatusOngoing, StartedAt: now, EndsAt: now, Responses: quiz.Responses{},
		})
		assert.Equal(t, quiz.ErrAttemptExists, errors.Cause(err))

		got, err := repo.GetCandidateAttempt(ctx, q.ID, "jane@test.cd")
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, "UNIKIN", got.Questionnaire["school"])
		_, err = repo.GetCandidateAttempt(ctx, q.ID, "john@test.cd")
		assert.Equal(t, quiz.ErrAttemptNotFound, errors.Cause(err))
		_, err = repo.GetAttempt(ctx, "not-a-uuid")
		assert.True(t, quiz.IsNotFound(err))

		_, err = repo.MergeResponses(ctx, a.ID, quiz.Responses{"1": {"10"}, "2": {"20", "21"}})
		require.NoError(t, err)
		merged, err := repo.MergeResponses(ctx, a.ID, quiz.Responses{"1": {"11"}, "2": {}})
		require.NoError(t, err)
		assert.Equal(t, quiz.Responses{"1": {"11"}}, merged.Responses)

		// concurrent finalizations: one winner
		var wg sync.WaitGroup
		var mu sync.Mutex
		var won int
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.FinalizeAttempt(ctx, a.ID, func(cur quiz.Attempt) quiz.Attempt {
					score := float64(len(cur.Responses))
					submitted := now
					cur.Status = quiz.StatusSubmitted
					cur.Score = &score
					cur.SubmittedAt = &submitted
					return cur
				})
				if err == nil {
					mu.Lock()
					won++
					mu.Unlock()
				} else {
					assert.Equal(t, quiz.ErrInvalidState, errors.Cause(err))
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, won)

		final, err := repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, quiz.StatusSubmitted, final.Status)
		require.NotNil(t, final.Score)
		assert.Equal(t, 1.0, *final.Score)

		_, err = repo.MergeResponses(ctx, a.ID, quiz.Responses{"3": {"30"}})
		assert.Equal(t, quiz.ErrInvalidState, errors.Cause(err))
	})

	t.Run("overdue", func(t *testing.T) {
		late := newAttempt("late@test.cd", now.Add(-time.Minute))
		newAttempt("ontime@test.cd", now.Add(time.Hour))

		ids, err := repo.OverdueAttempts(ctx, now, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{late.ID}, ids)

		attempts, err := repo.QueryAttempts(ctx, &quiz.AttemptFilter{QuizID: q.ID, Status: quiz.StatusOngoing}, []core.DBOrdering{{Field: "candidate_email", Ascending: true}})
		require.NoError(t, err)
		require.Len(t, attempts, 2)
		assert.Equal(t, "late@test.cd", attempts[0].CandidateEmail)

		attempts, err = repo.QueryAttempts(ctx, &quiz.AttemptFilter{Search: "ontime"}, nil)
		require.NoError(t, err)
		assert.Len(t, attempts, 1)
	})

	t.Run("score and submission ordering", func(t *testing.T) {
		late, err := repo.GetCandidateAttempt(ctx, q.ID, "late@test.cd")
		require.NoError(t, err)
		_, err = repo.FinalizeAttempt(ctx, late.ID, func(cur quiz.Attempt) quiz.Attempt {
			score := -2.0
			submitted := now.Add(time.Minute)
			cur.Status = quiz.StatusAutoSubmitted
			cur.Score = &score
			cur.SubmittedAt = &submitted
			return cur
		})
		require.NoError(t, err)

		emails := func(field string, asc bool) []string {
			attempts, err := repo.QueryAttempts(ctx, &quiz.AttemptFilter{QuizID: q.ID}, []core.DBOrdering{{Field: field, Ascending: asc}})
			require.NoError(t, err)
			out := make([]string, 0, len(attempts))
			for _, a := range attempts {
				out = append(out, a.CandidateEmail)
			}
			return out
		}
		assert.Equal(t, []string{"late@test.cd", "jane@test.cd", "ontime@test.cd"}, emails("score", true))
		assert.Equal(t, []string{"ontime@test.cd", "jane@test.cd", "late@test.cd"}, emails("score", false))
		assert.Equal(t, []string{"jane@test.cd", "late@test.cd", "ontime@test.cd"}, emails("submitted_at", true))
	})

	t.Run("delete cascades", func(t *testing.T) {
		a := newAttempt("gone@test.cd", now.Add(time.Hour))
		require.NoError(t, repo.DeleteQuiz(ctx, q.ID))
		_, err := repo.GetQuiz(ctx, q.ID)
		assert.True(t, quiz.IsNotFound(err))
		_, err = repo.GetAttempt(ctx, a.ID)
		assert.True(t, quiz.IsNotFound(err))
	})
}

// RunUserRepositoryTests checks the behaviour every user.Repository must share.
func RunUserRepositoryTests(t *testing.T, repo user.Repository) {
	ctx := context.Background()
	jane := CreateUser(t, repo, "Jane Doe", "jane", "jane@test.cd", Password, []string{user.RoleAdmin}, true)
	john := CreateUser(t, repo, "John Doe", "john", "john@test.cd", "", []string{user.RoleMember}, false)

	assert.Equal(t, user.ErrUsernameExists, errors.Cause(repo.CheckUsernameUniqueness(ctx, "jane", "other@test.cd", nil)))
	assert.Equal(t, user.ErrEmailExists, errors.Cause(repo.CheckUsernameUniqueness(ctx, "other", "jane@test.cd", nil)))
	assert.NoError(t, repo.CheckUsernameUniqueness(ctx, "jane", "jane@test.cd", []user.User{jane}))

	got, err := repo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{"jane@test.cd"}})
	require.NoError(t, err)
	assert.Equal(t, jane.ID, got.ID)
	assert.NoError(t, got.CheckPassword(Password))
	assert.Equal(t, []string{user.RoleAdmin}, got.Roles)

	_, err = repo.GetUser(ctx, user.GetFilter{Username: "nobody"})
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))

	active := true
	users, err := repo.QueryUsers(ctx, &user.QueryFilter{Search: "DOE", IsActive: &active}, nil)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, jane.ID, users[0].ID)

	john.Name = "Johnny"
	john.IsActive = true
	_, err = repo.UpdateUser(ctx, john)
	require.NoError(t, err)
	got, err = repo.GetUser(ctx, user.GetFilter{ID: john.ID})
	require.NoError(t, err)
	assert.Equal(t, "Johnny", got.Name)
	assert.True(t, got.IsActive)

	n, err := repo.DeleteUsersByID(ctx, []string{john.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = repo.GetUser(ctx, user.GetFilter{ID: john.ID})
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
}
