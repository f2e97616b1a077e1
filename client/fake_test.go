package client

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/trezcool/clubhub/core/quiz"
)

// fakeAPI serves a single attempt from memory.
type fakeAPI struct {
	mu      sync.Mutex
	ticket  Ticket
	saved   quiz.Responses
	updates int
	submits []quiz.Submission
	// savedAtSubmit is a copy of the saved responses when the first submission arrived
	savedAtSubmit quiz.Responses

	transientUpdates int // first N updates fail with a transient error
	updateErr        error
	rejected         map[string]bool // updates touching these questions fail with a 400
	submitErr        error
	submitDelay      time.Duration
}

var _ API = (*fakeAPI)(nil)

func newFakeAPI(q quiz.CandidateQuiz, timeLeft int64) *fakeAPI {
	now := time.Now().UTC()
	return &fakeAPI{
		ticket: Ticket{
			Quiz: q,
			Attempt: quiz.Attempt{
				ID:             "attempt-1",
				QuizID:         q.ID,
				CandidateEmail: "jane@test.cd",
				Status:         quiz.StatusOngoing,
				StartedAt:      now,
				EndsAt:         now.Add(time.Duration(timeLeft) * time.Second),
				Responses:      quiz.Responses{},
				TimeLeft:       timeLeft,
			},
			Token: "token",
		},
		saved: quiz.Responses{},
	}
}

func testQuiz(requireFullscreen, tabSwitch bool) quiz.CandidateQuiz {
	return quiz.CandidateQuiz{
		ID:                    7,
		Title:                 "Go",
		DurationMinutes:       30,
		RequireFullscreen:     requireFullscreen,
		AutoSubmitOnTabSwitch: tabSwitch,
		Questions: []quiz.CandidateQuestion{
			{ID: 1, Type: quiz.SingleChoice, Marks: 4, NegativeMarks: 1, Options: []quiz.CandidateOption{{ID: 10}, {ID: 11}}},
			{ID: 2, Type: quiz.MultiChoice, Marks: 5, NegativeMarks: 2, Options: []quiz.CandidateOption{{ID: 20}, {ID: 21}, {ID: 22}}},
		},
	}
}

func (f *fakeAPI) Join(context.Context, string, string) (Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticket, nil
}

func (f *fakeAPI) Start(context.Context, int64, quiz.NewAttempt) (Ticket, error) {
	return f.Join(context.Background(), "", "")
}

func (f *fakeAPI) Attempt(context.Context, int64, string) (quiz.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.ticket.Attempt
	a.Responses = overlay(quiz.Responses{}, f.saved)
	return a, nil
}

func (f *fakeAPI) UpdateResponses(_ context.Context, _ int64, _ string, r quiz.Responses) (quiz.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return quiz.Ack{}, f.updateErr
	}
	if f.transientUpdates > 0 {
		f.transientUpdates--
		return quiz.Ack{}, &APIError{StatusCode: http.StatusServiceUnavailable, Message: "try later"}
	}
	for qid := range r {
		if f.rejected[qid] {
			return quiz.Ack{}, &APIError{StatusCode: http.StatusBadRequest, Message: "responses: invalid responses"}
		}
	}
	overlay(f.saved, r)
	return quiz.Ack{Status: "saved", TimeLeft: f.ticket.Attempt.TimeLeft}, nil
}

func (f *fakeAPI) Submit(ctx context.Context, _ int64, _ string, sub quiz.Submission) (SubmitResult, error) {
	if f.submitDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(f.submitDelay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, sub)
	if len(f.submits) == 1 {
		f.savedAtSubmit = overlay(quiz.Responses{}, f.saved)
	}
	if f.submitErr != nil {
		return SubmitResult{}, f.submitErr
	}

	score := 0.0
	status := quiz.StatusSubmitted
	if sub.Disqualified {
		status = quiz.StatusDisqualified
	} else if vals := f.saved["1"]; len(vals) == 1 && vals[0] == strconv.Itoa(11) {
		score = 4
	}
	f.ticket.Attempt.Status = status
	f.ticket.Attempt.Score = &score
	return SubmitResult{Result: quiz.Result{Status: status, Score: &score}}, nil
}

func (f *fakeAPI) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeAPI) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func (f *fakeAPI) savedCopy() quiz.Responses {
	f.mu.Lock()
	defer f.mu.Unlock()
	return overlay(quiz.Responses{}, f.saved)
}
