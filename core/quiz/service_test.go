package quiz_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/clubhub/core/quiz"
	"github.com/trezcool/clubhub/storage/database/inmem"
)

type observer struct {
	mu       sync.Mutex
	started  int
	saved    int
	finished map[quiz.Status]int
}

func (o *observer) AttemptStarted(int64) { o.mu.Lock(); o.started++; o.mu.Unlock() }
func (o *observer) ResponsesSaved(int64) { o.mu.Lock(); o.saved++; o.mu.Unlock() }
func (o *observer) AttemptFinished(_ int64, status quiz.Status, _ float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finished == nil {
		o.finished = map[quiz.Status]int{}
	}
	o.finished[status]++
}

type mapCache struct {
	mu      sync.Mutex
	quizzes map[int64]quiz.Quiz
	hits    int
}

func (c *mapCache) GetQuiz(_ context.Context, id int64) (quiz.Quiz, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quizzes[id]
	if !ok {
		return quiz.Quiz{}, quiz.ErrCacheMiss
	}
	c.hits++
	return q, nil
}

func (c *mapCache) SetQuiz(_ context.Context, q quiz.Quiz) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quizzes[q.ID] = q
	return nil
}

func (c *mapCache) DeleteQuiz(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.quizzes, id)
	return nil
}

type fixture struct {
	svc   *quiz.Service
	obs   *observer
	cache *mapCache
	now   time.Time
	quiz  quiz.Quiz
}

// newFixture creates an active 30 minutes quiz with:
// a single-choice question (A correct, marks 4, negative 1) and
// a multi-choice question (A and C correct, marks 5, negative 2).
func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	f := &fixture{
		obs:   &observer{},
		cache: &mapCache{quizzes: map[int64]quiz.Quiz{}},
		now:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = quiz.NewService(inmemdb.NewQuizRepository(inmemdb.Open()), f.cache, f.obs)
	f.svc.SetNowFunc(func() time.Time { return f.now })

	q, err := f.svc.CreateQuiz(ctx, quiz.NewQuiz{Title: "Go", IsActive: true}, "")
	require.NoError(t, err)
	four, one, five, two := 4.0, 1.0, 5.0, 2.0
	_, err = f.svc.CreateQuestion(ctx, quiz.NewQuestion{
		QuizID: q.ID, Text: "single", Type: quiz.SingleChoice, Marks: &four, NegativeMarks: &one,
		Options: []quiz.NewOption{{Text: "A", IsCorrect: true}, {Text: "B"}},
	})
	require.NoError(t, err)
	_, err = f.svc.CreateQuestion(ctx, quiz.NewQuestion{
		QuizID: q.ID, Text: "multi", Type: quiz.MultiChoice, Marks: &five, NegativeMarks: &two,
		Options: []quiz.NewOption{{Text: "A", IsCorrect: true}, {Text: "B"}, {Text: "C", IsCorrect: true}},
	})
	require.NoError(t, err)
	f.quiz, err = f.svc.GetQuiz(ctx, q.ID)
	require.NoError(t, err)
	return f
}

func (f *fixture) start(t *testing.T, email string) quiz.Attempt {
	sess, err := f.svc.Start(context.Background(), f.quiz.ID, quiz.NewAttempt{Email: email})
	require.NoError(t, err)
	return sess.Attempt
}

// answer maps question index to option texts.
func (f *fixture) answer(picks map[int][]string) quiz.Responses {
	r := quiz.Responses{}
	for i, texts := range picks {
		qn := f.quiz.Questions[i]
		vals := []string{}
		for _, text := range texts {
			for _, opt := range qn.Options {
				if opt.Text == text {
					vals = append(vals, strconv.FormatInt(opt.ID, 10))
				}
			}
		}
		r[strconv.FormatInt(qn.ID, 10)] = vals
	}
	return r
}

func TestService_Join(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Join(ctx, "nope", "jane@test.cd")
	assert.Equal(t, quiz.ErrQuizNotFound, errors.Cause(err))

	_, err = f.svc.Join(ctx, " "+f.quiz.JoinCode+" ", "jane@test.cd")
	var onboarding *quiz.OnboardingError
	require.True(t, errors.As(err, &onboarding))
	assert.True(t, quiz.IsNotFound(err))
	assert.Equal(t, f.quiz.ID, onboarding.Preview.ID)
	assert.Equal(t, 2, onboarding.Preview.QuestionCount)

	a := f.start(t, "jane@test.cd")
	f.now = f.now.Add(10 * time.Minute)
	sess, err := f.svc.Join(ctx, f.quiz.JoinCode, "JANE@test.cd")
	require.NoError(t, err)
	assert.Equal(t, a.ID, sess.Attempt.ID)
	assert.EqualValues(t, 20*60, sess.Attempt.TimeLeft)
	require.Len(t, sess.Quiz.Questions, 2)

	f.now = f.now.Add(20 * time.Minute)
	sess, err = f.svc.Join(ctx, f.quiz.JoinCode, "jane@test.cd")
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusAutoSubmitted, sess.Attempt.Status)
	assert.Zero(t, sess.Attempt.TimeLeft)

	_, err = f.svc.ToggleActive(ctx, f.quiz.ID)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, f.quiz.JoinCode, "jane@test.cd")
	assert.Equal(t, quiz.ErrQuizNotFound, errors.Cause(err), "cache is invalidated on update")
}

func TestService_Start(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.start(t, "jane@test.cd")
	assert.Equal(t, quiz.StatusOngoing, a.Status)
	assert.Equal(t, f.now.Add(30*time.Minute), a.EndsAt)
	assert.EqualValues(t, 1800, a.TimeLeft)
	assert.Nil(t, a.Score)

	_, err := f.svc.Start(ctx, f.quiz.ID, quiz.NewAttempt{Email: "jane@test.cd"})
	assert.Equal(t, quiz.ErrAlreadyActive, errors.Cause(err))

	_, err = f.svc.Start(ctx, 999, quiz.NewAttempt{Email: "jane@test.cd"})
	assert.True(t, quiz.IsNotFound(err))

	_, err = f.svc.Submit(ctx, a.ID, quiz.Submission{})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, f.quiz.ID, quiz.NewAttempt{Email: "jane@test.cd"})
	assert.Equal(t, quiz.ErrInvalidState, errors.Cause(err), "a single attempt per candidate")

	t.Run("closed", func(t *testing.T) {
		opens := f.now.Add(time.Hour)
		_, err := f.svc.UpdateQuiz(ctx, f.quiz.ID, quiz.UpdateQuiz{OpensAt: &opens})
		require.NoError(t, err)
		_, err = f.svc.Start(ctx, f.quiz.ID, quiz.NewAttempt{Email: "john@test.cd"})
		assert.Equal(t, quiz.ErrQuizClosed, errors.Cause(err))

		f.now = opens
		f.start(t, "john@test.cd")
	})

	f.obs.mu.Lock()
	defer f.obs.mu.Unlock()
	assert.Equal(t, 2, f.obs.started)
}

func TestService_UpdateResponses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, "jane@test.cd")

	ack, err := f.svc.UpdateResponses(ctx, a.ID, f.answer(map[int][]string{0: {"B"}, 1: {"A"}}))
	require.NoError(t, err)
	assert.Equal(t, "saved", ack.Status)
	assert.EqualValues(t, 1800, ack.TimeLeft)

	// merge: question 0 changes, question 1 is kept
	_, err = f.svc.UpdateResponses(ctx, a.ID, f.answer(map[int][]string{0: {"A"}}))
	require.NoError(t, err)
	got, err := f.svc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, f.answer(map[int][]string{0: {"A"}, 1: {"A"}}), got.Responses)

	// clear
	_, err = f.svc.UpdateResponses(ctx, a.ID, f.answer(map[int][]string{1: {}}))
	require.NoError(t, err)
	got, _ = f.svc.GetAttempt(ctx, a.ID)
	assert.Equal(t, f.answer(map[int][]string{0: {"A"}}), got.Responses)

	_, err = f.svc.UpdateResponses(ctx, a.ID, quiz.Responses{"999": {"1"}})
	assert.Error(t, err, "unknown question")
	_, err = f.svc.UpdateResponses(ctx, a.ID, f.answer(map[int][]string{0: {"A", "B"}}))
	assert.Error(t, err, "single choice accepts one option")
	_, err = f.svc.UpdateResponses(ctx, a.ID, quiz.Responses{strconv.FormatInt(f.quiz.Questions[0].ID, 10): {"12345"}})
	assert.Error(t, err, "unknown option")

	_, err = f.svc.UpdateResponses(ctx, "unknown", quiz.Responses{})
	assert.True(t, quiz.IsNotFound(err))

	t.Run("time exceeded", func(t *testing.T) {
		f.now = f.now.Add(30 * time.Minute)
		ack, err := f.svc.UpdateResponses(ctx, a.ID, f.answer(map[int][]string{1: {"A", "C"}}))
		assert.Equal(t, quiz.ErrTimeExceeded, errors.Cause(err))
		assert.Equal(t, string(quiz.StatusAutoSubmitted), ack.Status)

		got, err := f.svc.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, quiz.StatusAutoSubmitted, got.Status)
		assert.Equal(t, 4.0, *got.Score, "late responses are not saved")

		ack, err = f.svc.UpdateResponses(ctx, a.ID, f.answer(map[int][]string{1: {"A", "C"}}))
		assert.Equal(t, quiz.ErrInvalidState, errors.Cause(err))
		assert.Equal(t, string(quiz.StatusAutoSubmitted), ack.Status)
	})
}

func TestService_UpdateResponses_canonicalIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, "jane@test.cd")

	mcq := f.quiz.Questions[0]
	qid := strconv.FormatInt(mcq.ID, 10)
	correct := strconv.FormatInt(mcq.Options[0].ID, 10)
	_, err := f.svc.UpdateResponses(ctx, a.ID, quiz.Responses{qid: {"0" + correct, " +" + correct}})
	require.NoError(t, err)

	got, err := f.svc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, quiz.Responses{qid: {correct, correct}}, got.Responses)

	res, err := f.svc.Submit(ctx, a.ID, quiz.Submission{})
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusSubmitted, res.Status)
	assert.Equal(t, 4.0, *res.Score)
}

func TestService_Submit(t *testing.T) {
	tests := []struct {
		name       string
		picks      map[int][]string
		sub        quiz.Submission
		wantStatus quiz.Status
		wantScore  float64
	}{
		{name: "all correct", picks: map[int][]string{0: {"A"}, 1: {"A", "C"}}, wantStatus: quiz.StatusSubmitted, wantScore: 9},
		{name: "partial multi is wrong", picks: map[int][]string{0: {"A"}, 1: {"A"}}, wantStatus: quiz.StatusSubmitted, wantScore: 2},
		{name: "all wrong", picks: map[int][]string{0: {"B"}, 1: {"A", "B", "C"}}, wantStatus: quiz.StatusSubmitted, wantScore: -3},
		{name: "nothing", wantStatus: quiz.StatusSubmitted, wantScore: 0},
		{
			name: "disqualified", picks: map[int][]string{0: {"A"}, 1: {"A", "C"}},
			sub: quiz.Submission{Disqualified: true, Reason: "fullscreen_exit"}, wantStatus: quiz.StatusDisqualified, wantScore: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			a := f.start(t, "jane@test.cd")
			if tt.picks != nil {
				_, err := f.svc.UpdateResponses(ctx, a.ID, f.answer(tt.picks))
				require.NoError(t, err)
			}

			res, err := f.svc.Submit(ctx, a.ID, tt.sub)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			require.NotNil(t, res.Score)
			assert.Equal(t, tt.wantScore, *res.Score)

			// idempotent
			again, err := f.svc.Submit(ctx, a.ID, quiz.Submission{Disqualified: !tt.sub.Disqualified})
			assert.Equal(t, quiz.ErrInvalidState, errors.Cause(err))
			assert.Equal(t, res.Status, again.Status)
			assert.Equal(t, *res.Score, *again.Score)

			_, err = f.svc.UpdateResponses(ctx, a.ID, f.answer(map[int][]string{0: {"B"}}))
			assert.Equal(t, quiz.ErrInvalidState, errors.Cause(err))
			got, err := f.svc.GetAttempt(ctx, a.ID)
			require.NoError(t, err)
			if tt.picks != nil {
				assert.Equal(t, f.answer(tt.picks), got.Responses, "responses unchanged")
			} else {
				assert.Empty(t, got.Responses)
			}
			assert.Zero(t, got.TimeLeft)
			if tt.sub.Disqualified {
				assert.Equal(t, "fullscreen_exit", got.Violation)
			}
		})
	}
}

func TestService_Submit_concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, "jane@test.cd")

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, a.ID, quiz.Submission{Disqualified: i%2 == 0})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var won int
	for err := range results {
		if err == nil {
			won++
		} else {
			assert.Equal(t, quiz.ErrInvalidState, errors.Cause(err))
		}
	}
	assert.Equal(t, 1, won, "first terminal write wins")

	f.obs.mu.Lock()
	defer f.obs.mu.Unlock()
	assert.Equal(t, 1, f.obs.finished[quiz.StatusSubmitted]+f.obs.finished[quiz.StatusDisqualified])
}

func TestService_ExpireOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	late := f.start(t, "late@test.cd")
	_, err := f.svc.UpdateResponses(ctx, late.ID, f.answer(map[int][]string{0: {"A"}}))
	require.NoError(t, err)
	done := f.start(t, "done@test.cd")
	_, err = f.svc.Submit(ctx, done.ID, quiz.Submission{})
	require.NoError(t, err)

	f.now = f.now.Add(15 * time.Minute)
	onTime := f.start(t, "ontime@test.cd")

	n, err := f.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(15 * time.Minute)
	n, err = f.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetAttempt(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusAutoSubmitted, got.Status)
	assert.Equal(t, 4.0, *got.Score)
	got, _ = f.svc.GetAttempt(ctx, onTime.ID)
	assert.Equal(t, quiz.StatusOngoing, got.Status)
	got, _ = f.svc.GetAttempt(ctx, done.ID)
	assert.Equal(t, quiz.StatusSubmitted, got.Status)

	n, err = f.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_ReviewAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, "jane@test.cd")
	_, err := f.svc.UpdateResponses(ctx, a.ID, f.answer(map[int][]string{0: {"A"}, 1: {"C"}}))
	require.NoError(t, err)

	review, err := f.svc.ReviewAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, review.Total, "graded while ongoing")
	require.Len(t, review.Results, 2)
	assert.True(t, review.Results[0].IsCorrect)
	assert.Equal(t, -2.0, review.Results[1].Awarded)

	assert.Positive(t, f.cache.hits, "quiz served from cache")
}
