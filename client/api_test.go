package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/clubhub/apps/api/echo"
	"github.com/trezcool/clubhub/client"
	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
	"github.com/trezcool/clubhub/core/user"
	emailsvc "github.com/trezcool/clubhub/services/email"
	"github.com/trezcool/clubhub/storage/database/inmem"
	"github.com/trezcool/clubhub/tests"
)

type testServer struct {
	*httptest.Server
	quizSvc *quiz.Service

	mu  sync.Mutex
	now time.Time
}

func newTestServer(t *testing.T) *testServer {
	conf := core.NewTestConfig()
	logger := testutil.NewLogger(conf)
	validate, translator := testutil.NewValidator()

	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	ts := &testServer{
		quizSvc: quiz.NewService(inmemdb.NewQuizRepository(db), nil, nil),
		now:     time.Now().UTC(),
	}
	ts.quizSvc.SetNowFunc(ts.clock)

	srv := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		UserSvc:    user.NewService(usrRepo, emailsvc.NewConsoleServiceMock(conf, logger), conf),
		QuizSvc:    ts.quizSvc,
	})
	ts.Server = httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) clock() time.Time {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.now
}

func (ts *testServer) advance(d time.Duration) {
	ts.mu.Lock()
	ts.now = ts.now.Add(d)
	ts.mu.Unlock()
}

// createQuiz creates an active quiz with one single-choice question: options A and B, B is correct.
func (ts *testServer) createQuiz(t *testing.T, fullscreen bool) quiz.Quiz {
	ctx := context.Background()
	q, err := ts.quizSvc.CreateQuiz(ctx, quiz.NewQuiz{Title: "Go", IsActive: true, DurationMinutes: 10, RequireFullscreen: &fullscreen}, "")
	require.NoError(t, err)
	_, err = ts.quizSvc.CreateQuestion(ctx, quiz.NewQuestion{
		QuizID:  q.ID,
		Text:    "Pick B",
		Type:    quiz.SingleChoice,
		Options: []quiz.NewOption{{Text: "A"}, {Text: "B", IsCorrect: true}},
	})
	require.NoError(t, err)
	q, err = ts.quizSvc.GetQuiz(ctx, q.ID)
	require.NoError(t, err)
	return q
}

func optionID(qn quiz.Question, text string) string {
	for _, opt := range qn.Options {
		if opt.Text == text {
			return strconv.FormatInt(opt.ID, 10)
		}
	}
	return ""
}

func fastOptions() client.Options {
	return client.Options{
		Tick:          10 * time.Millisecond,
		FlushTimeout:  time.Second,
		SubmitTimeout: time.Second,
		BackoffBase:   time.Millisecond,
		BackoffMax:    4 * time.Millisecond,
	}
}

func TestHTTPClient(t *testing.T) {
	ts := newTestServer(t)
	q := ts.createQuiz(t, false)
	api := client.NewHTTPClient(ts.URL+"/", nil)
	ctx := context.Background()

	_, err := api.Join(ctx, "NOPE", "jane@test.cd")
	assert.Equal(t, http.StatusNotFound, client.StatusCode(err))
	var ae *client.APIError
	require.ErrorAs(t, err, &ae)
	assert.Nil(t, ae.Preview)
	assert.False(t, client.IsTransient(err))

	_, err = api.Join(ctx, q.JoinCode, "jane@test.cd")
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusNotFound, ae.StatusCode)
	require.NotNil(t, ae.Preview, "onboarding")
	assert.Equal(t, q.ID, ae.Preview.ID)
	assert.Equal(t, 1, ae.Preview.QuestionCount)

	_, err = api.Start(ctx, q.ID, quiz.NewAttempt{Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, client.StatusCode(err))
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Message, "email")

	ticket, err := api.Start(ctx, q.ID, quiz.NewAttempt{Email: "jane@test.cd", Name: "Jane"})
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.Token)
	assert.Equal(t, quiz.StatusOngoing, ticket.Attempt.Status)
	assert.EqualValues(t, 600, ticket.Attempt.TimeLeft)
	assert.Len(t, ticket.Quiz.Questions, 1)

	_, err = api.Start(ctx, q.ID, quiz.NewAttempt{Email: "jane@test.cd"})
	assert.Equal(t, http.StatusConflict, client.StatusCode(err))

	again, err := api.Join(ctx, q.JoinCode, "jane@test.cd")
	require.NoError(t, err)
	assert.Equal(t, ticket.Attempt.ID, again.Attempt.ID)

	_, err = api.UpdateResponses(ctx, q.ID, "bad-token", quiz.Responses{})
	assert.Equal(t, http.StatusUnauthorized, client.StatusCode(err))

	qid := strconv.FormatInt(q.Questions[0].ID, 10)
	ack, err := api.UpdateResponses(ctx, q.ID, ticket.Token, quiz.Responses{qid: {optionID(q.Questions[0], "B")}})
	require.NoError(t, err)
	assert.Equal(t, "saved", ack.Status)

	a, err := api.Attempt(ctx, q.ID, ticket.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{optionID(q.Questions[0], "B")}, a.Responses[qid])

	res, err := api.Submit(ctx, q.ID, ticket.Token, quiz.Submission{})
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusSubmitted, res.Status)
	assert.Equal(t, quiz.DefaultMarks, *res.Score)
	assert.False(t, res.AlreadySubmitted)

	res, err = api.Submit(ctx, q.ID, ticket.Token, quiz.Submission{Disqualified: true})
	require.NoError(t, err)
	assert.True(t, res.AlreadySubmitted)
	assert.Equal(t, quiz.StatusSubmitted, res.Status)
	assert.Equal(t, quiz.DefaultMarks, *res.Score)

	_, err = api.UpdateResponses(ctx, q.ID, ticket.Token, quiz.Responses{qid: {}})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.StatusCode)
	assert.Equal(t, quiz.StatusSubmitted, ae.Status)
}

func TestHTTPClient_transient(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer failing.Close()

	_, err := client.NewHTTPClient(failing.URL, nil).Join(context.Background(), "CODE", "")
	assert.True(t, client.IsTransient(err))
	assert.Equal(t, http.StatusBadGateway, client.StatusCode(err))
	assert.Contains(t, err.Error(), "upstream down")

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	_, err = client.NewHTTPClient(closed.URL, nil).Join(context.Background(), "CODE", "")
	assert.True(t, client.IsTransient(err))
	assert.Zero(t, client.StatusCode(err))
}

func TestSession_endToEnd(t *testing.T) {
	ts := newTestServer(t)
	q := ts.createQuiz(t, true)
	api := client.NewHTTPClient(ts.URL, nil)
	ctx := context.Background()
	mcq := q.Questions[0]

	t.Run("finalize", func(t *testing.T) {
		sess := client.NewSession(api, fastOptions())
		require.NoError(t, sess.Start(ctx, q.ID, quiz.NewAttempt{Email: "jane@test.cd"}))
		require.NoError(t, sess.Answer(mcq.ID, optionID(mcq, "A")))
		require.NoError(t, sess.Answer(mcq.ID, optionID(mcq, "B")))

		res, err := sess.Finalize(ctx, func() bool { return true })
		require.NoError(t, err)
		assert.Equal(t, quiz.StatusSubmitted, res.Status)
		assert.Equal(t, mcq.Marks, *res.Score)
	})

	t.Run("violation", func(t *testing.T) {
		sess := client.NewSession(api, fastOptions())
		require.NoError(t, sess.Start(ctx, q.ID, quiz.NewAttempt{Email: "john@test.cd"}))
		require.NoError(t, sess.Answer(mcq.ID, optionID(mcq, "B")))

		assert.True(t, sess.Violate(ctx, client.FullscreenExit))
		assert.False(t, sess.Violate(ctx, client.FullscreenExit))
		res, err := sess.Result()
		require.NoError(t, err)
		assert.Equal(t, quiz.StatusDisqualified, res.Status)
		assert.Equal(t, 0.0, *res.Score)

		a, err := ts.quizSvc.GetAttempt(ctx, sess.Attempt().ID)
		require.NoError(t, err)
		assert.Equal(t, quiz.StatusDisqualified, a.Status)
		assert.Equal(t, string(client.FullscreenExit), a.Violation)
	})

	t.Run("server expiry", func(t *testing.T) {
		sess := client.NewSession(api, fastOptions())
		require.NoError(t, sess.Start(ctx, q.ID, quiz.NewAttempt{Email: "late@test.cd"}))

		ts.advance(11 * time.Minute)
		require.NoError(t, sess.Answer(mcq.ID, optionID(mcq, "B")))

		select {
		case <-sess.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("session still %s", sess.State())
		}
		res, err := sess.Result()
		require.NoError(t, err)
		assert.Equal(t, quiz.StatusAutoSubmitted, res.Status)
		assert.Equal(t, 0.0, *res.Score)
	})

	t.Run("rejoin after the end", func(t *testing.T) {
		sess := client.NewSession(api, fastOptions())
		require.NoError(t, sess.Join(ctx, q.JoinCode, "jane@test.cd"))
		assert.Equal(t, client.StateDone, sess.State())
		res, _ := sess.Result()
		assert.Equal(t, quiz.StatusSubmitted, res.Status)
	})
}
