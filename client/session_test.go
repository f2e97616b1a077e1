package client

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/clubhub/core/quiz"
)

func fastOptions() Options {
	return Options{
		Tick:            time.Millisecond,
		FullscreenGrace: 20 * time.Millisecond,
		FlushTimeout:    time.Second,
		SubmitTimeout:   time.Second,
		BackoffBase:     time.Millisecond,
		BackoffMax:      4 * time.Millisecond,
	}
}

func joined(t *testing.T, api *fakeAPI, opts Options) *Session {
	t.Helper()
	sess := NewSession(api, opts)
	require.NoError(t, sess.Join(context.Background(), "CODE1234", "jane@test.cd"))
	return sess
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session still %s", sess.State())
	}
}

func TestSession_Join(t *testing.T) {
	api := newFakeAPI(testQuiz(false, false), 60)
	sess := joined(t, api, fastOptions())

	assert.Equal(t, StateActive, sess.State())
	assert.EqualValues(t, 60, sess.TimeLeft())
	assert.Equal(t, ErrNotLoading, sess.Join(context.Background(), "CODE1234", "jane@test.cd"))

	t.Run("terminal attempt", func(t *testing.T) {
		api := newFakeAPI(testQuiz(false, false), 0)
		score := 3.0
		api.ticket.Attempt.Status = quiz.StatusSubmitted
		api.ticket.Attempt.Score = &score

		sess := joined(t, api, fastOptions())
		waitDone(t, sess)
		assert.Equal(t, StateDone, sess.State())
		res, err := sess.Result()
		require.NoError(t, err)
		assert.Equal(t, quiz.StatusSubmitted, res.Status)
		assert.Equal(t, 3.0, *res.Score)
		assert.Equal(t, ErrNotActive, sess.Answer(1, "10"))
		assert.Zero(t, api.submitCount())
	})
}

func TestSession_Answer(t *testing.T) {
	api := newFakeAPI(testQuiz(false, false), 60)
	sess := joined(t, api, fastOptions())

	require.NoError(t, sess.Answer(1, "10"))
	require.NoError(t, sess.Answer(1, "11"))
	require.NoError(t, sess.Answer(2, "20", "22"))
	assert.Error(t, sess.Answer(99, "x"))
	assert.Equal(t, quiz.Responses{"1": {"11"}, "2": {"20", "22"}}, sess.Answers())

	require.Eventually(t, func() bool {
		saved := api.savedCopy()
		return len(saved) == 2 && saved["1"][0] == "11"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"20", "22"}, api.savedCopy()["2"])
	assert.Empty(t, sess.Pending())
}

func TestSession_Answer_options(t *testing.T) {
	tests := []struct {
		name    string
		qid     int64
		values  []string
		want    []string
		wantErr bool
	}{
		{name: "single", qid: 1, values: []string{"10"}, want: []string{"10"}},
		{name: "padded id", qid: 1, values: []string{"010"}, want: []string{"10"}},
		{name: "repeated id", qid: 1, values: []string{"11", " +11"}, want: []string{"11"}},
		{name: "multi", qid: 2, values: []string{"22", "20"}, want: []string{"22", "20"}},
		{name: "cleared", qid: 2, values: nil, want: []string{}},
		{name: "unknown option", qid: 1, values: []string{"99"}, wantErr: true},
		{name: "other question's option", qid: 2, values: []string{"10"}, wantErr: true},
		{name: "not an id", qid: 2, values: []string{"20", "x"}, wantErr: true},
		{name: "two options for single choice", qid: 1, values: []string{"10", "11"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(testQuiz(false, false), 60)
			sess := joined(t, api, fastOptions())

			err := sess.Answer(tt.qid, tt.values...)
			if tt.wantErr {
				require.True(t, errors.Is(err, ErrInvalidAnswer), "got %v", err)
				assert.Empty(t, sess.Answers())
				assert.Empty(t, sess.Pending())
				return
			}
			require.NoError(t, err)
			require.NoError(t, sess.queue().Flush(context.Background()))
			saved, ok := api.savedCopy()[strconv.FormatInt(tt.qid, 10)]
			assert.True(t, ok)
			assert.Equal(t, tt.want, saved)
		})
	}
}

func TestSession_Violate(t *testing.T) {
	t.Run("fullscreen required", func(t *testing.T) {
		api := newFakeAPI(testQuiz(true, false), 60)
		sess := joined(t, api, fastOptions())

		assert.False(t, sess.Violate(context.Background(), VisibilityHidden), "tab switch not enforced")
		assert.Equal(t, StateActive, sess.State())

		var wg sync.WaitGroup
		wins := make(chan bool, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				wins <- sess.Violate(context.Background(), FullscreenExit)
			}()
		}
		wg.Wait()
		close(wins)

		var won int
		for w := range wins {
			if w {
				won++
			}
		}
		assert.Equal(t, 1, won)
		waitDone(t, sess)
		assert.Equal(t, StateTerminated, sess.State())
		assert.Equal(t, FullscreenExit, sess.Violation())
		require.Len(t, api.submits, 1)
		assert.True(t, api.submits[0].Disqualified)
		assert.Equal(t, string(FullscreenExit), api.submits[0].Reason)

		res, err := sess.Result()
		require.NoError(t, err)
		assert.Equal(t, quiz.StatusDisqualified, res.Status)
		assert.Equal(t, 0.0, *res.Score)

		assert.Equal(t, ErrNotActive, sess.Answer(1, "10"))
		_, err = sess.Finalize(context.Background(), func() bool { return true })
		assert.Equal(t, ErrNotActive, err)
		assert.Equal(t, 1, api.submitCount())
	})

	t.Run("submit fails", func(t *testing.T) {
		api := newFakeAPI(testQuiz(false, true), 60)
		api.submitErr = &APIError{StatusCode: http.StatusBadGateway}
		sess := joined(t, api, fastOptions())

		assert.True(t, sess.Violate(context.Background(), FocusLost))
		assert.Equal(t, StateTerminated, sess.State())
		res, err := sess.Result()
		assert.Error(t, err)
		assert.Equal(t, quiz.StatusDisqualified, res.Status)
		assert.Equal(t, 1, api.submitCount(), "violation submits are not retried")
	})
}

func TestSession_FullscreenChanged(t *testing.T) {
	t.Run("restored within grace", func(t *testing.T) {
		api := newFakeAPI(testQuiz(true, false), 60)
		opts := fastOptions()
		opts.FullscreenGrace = 50 * time.Millisecond
		sess := joined(t, api, opts)

		sess.FullscreenChanged(false)
		sess.FullscreenChanged(true)
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, StateActive, sess.State())
		assert.Zero(t, api.submitCount())
	})

	t.Run("not restored", func(t *testing.T) {
		api := newFakeAPI(testQuiz(true, false), 60)
		sess := joined(t, api, fastOptions())

		sess.FullscreenChanged(false)
		waitDone(t, sess)
		assert.Equal(t, StateTerminated, sess.State())
		assert.Equal(t, FullscreenExit, sess.Violation())
		assert.Equal(t, 1, api.submitCount())
	})

	t.Run("not required", func(t *testing.T) {
		api := newFakeAPI(testQuiz(false, true), 60)
		sess := joined(t, api, fastOptions())

		sess.FullscreenChanged(false)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, StateActive, sess.State())
	})
}

func TestSession_Finalize(t *testing.T) {
	api := newFakeAPI(testQuiz(false, false), 60)
	api.transientUpdates = 2
	sess := joined(t, api, fastOptions())
	require.NoError(t, sess.Answer(1, "11"))

	_, err := sess.Finalize(context.Background(), func() bool { return false })
	assert.Equal(t, ErrNotConfirmed, err)
	_, err = sess.Finalize(context.Background(), nil)
	assert.Equal(t, ErrNotConfirmed, err)
	assert.Equal(t, StateActive, sess.State())

	res, err := sess.Finalize(context.Background(), func() bool { return true })
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusSubmitted, res.Status)
	assert.Equal(t, 4.0, *res.Score)
	assert.Equal(t, StateDone, sess.State())
	assert.Equal(t, []string{"11"}, api.savedAtSubmit["1"], "pending answers are flushed before submitting")
	assert.Equal(t, 1, api.submitCount())
}

func TestSession_Run(t *testing.T) {
	t.Run("expiry submits once", func(t *testing.T) {
		api := newFakeAPI(testQuiz(false, false), 3)
		api.submitDelay = 10 * time.Millisecond
		sess := joined(t, api, fastOptions())

		errs := make(chan error, 1)
		go func() { errs <- sess.Run(context.Background()) }()

		// a manual finalize racing the countdown
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = sess.Finalize(context.Background(), func() bool { return true })
			}()
		}
		wg.Wait()
		waitDone(t, sess)
		require.NoError(t, <-errs)

		assert.Equal(t, StateDone, sess.State())
		require.Equal(t, 1, api.submitCount())
		assert.False(t, api.submits[0].Disqualified)
		assert.Zero(t, sess.TimeLeft())
	})

	t.Run("not loaded", func(t *testing.T) {
		sess := NewSession(newFakeAPI(testQuiz(false, false), 3), fastOptions())
		assert.Equal(t, ErrNotActive, sess.Run(context.Background()))
	})

	t.Run("cancelled", func(t *testing.T) {
		api := newFakeAPI(testQuiz(false, false), 3600)
		sess := joined(t, api, fastOptions())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Equal(t, context.Canceled, sess.Run(ctx))
		assert.Equal(t, StateActive, sess.State())
	})
}

func TestSession_serverEnded(t *testing.T) {
	api := newFakeAPI(testQuiz(false, false), 60)
	sess := joined(t, api, fastOptions())

	score := 2.0
	api.mu.Lock()
	api.updateErr = &APIError{StatusCode: http.StatusBadRequest, Message: "time exceeded", Status: quiz.StatusAutoSubmitted}
	api.ticket.Attempt.Status = quiz.StatusAutoSubmitted
	api.ticket.Attempt.Score = &score
	api.mu.Unlock()

	require.NoError(t, sess.Answer(1, "10"))
	waitDone(t, sess)

	assert.Equal(t, StateDone, sess.State())
	res, err := sess.Result()
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusAutoSubmitted, res.Status)
	assert.Equal(t, 2.0, *res.Score)
	assert.Zero(t, api.submitCount())
	assert.Equal(t, []string{"10"}, sess.Pending()["1"], "unsaved answers stay visible")
}

func TestSession_serverEnded_ongoing(t *testing.T) {
	api := newFakeAPI(testQuiz(false, false), 60)
	api.rejected = map[string]bool{"2": true}
	sess := joined(t, api, fastOptions())

	// one batch or two, the answer to question 1 is kept
	require.NoError(t, sess.Answer(1, "11"))
	require.NoError(t, sess.Answer(2, "21"))
	require.Eventually(t, func() bool {
		return sess.SaveError() != nil && sess.State() == StateActive
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, quiz.StatusOngoing, sess.Attempt().Status)
	assert.Equal(t, quiz.Responses{"1": {"11"}}, api.savedCopy())
	assert.Equal(t, quiz.Responses{"1": {"11"}}, sess.Answers(), "the rejected answer is dropped")
	assert.Empty(t, sess.Pending())
	assert.Contains(t, sess.SaveError().Error(), "question(s) 2")
	assert.Zero(t, api.submitCount())

	// the session carries on: answers are saved and expiry still submits
	api.mu.Lock()
	api.rejected = nil
	api.ticket.Attempt.TimeLeft = 1
	api.mu.Unlock()
	require.NoError(t, sess.Answer(2, "20"))
	require.Eventually(t, func() bool {
		return len(api.savedCopy()["2"]) == 1
	}, time.Second, 5*time.Millisecond)

	errs := make(chan error, 1)
	go func() { errs <- sess.Run(context.Background()) }()
	waitDone(t, sess)
	require.NoError(t, <-errs)

	assert.Equal(t, StateDone, sess.State())
	res, err := sess.Result()
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusSubmitted, res.Status)
	assert.Equal(t, 4.0, *res.Score)
	require.Equal(t, 1, api.submitCount())
	assert.Equal(t, quiz.Responses{"1": {"11"}, "2": {"20"}}, api.savedAtSubmit)
}
