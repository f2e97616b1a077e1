package quiz

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core"
)

const (
	joinCodeAttempts = 5
	expiryBatchSize  = 100
)

// Session is what a candidate gets when joining or starting a quiz.
type Session struct {
	Quiz    CandidateQuiz `json:"quiz"`
	Attempt Attempt       `json:"attempt"`
}

// OnboardingError is returned by Join when the candidate has no attempt yet.
// Its cause is ErrAttemptNotFound.
type OnboardingError struct {
	Preview Preview
}

func (e *OnboardingError) Error() string { return ErrAttemptNotFound.Error() }
func (e *OnboardingError) Cause() error  { return ErrAttemptNotFound }
func (e *OnboardingError) Unwrap() error { return ErrAttemptNotFound }

// Review is the grading view of an attempt.
type Review struct {
	Attempt Attempt          `json:"attempt"`
	Quiz    Quiz             `json:"quiz"`
	Results []QuestionResult `json:"results"`
	Total   float64          `json:"total"`
}

// Service is the Session Controller: it owns attempt state and the quizzes attempts are taken on.
type Service struct {
	repo     Repository
	cache    Cache
	observer Observer
	nowFunc  func() time.Time
}

func NewService(repo Repository, cache Cache, observer Observer) *Service {
	if cache == nil {
		cache = noopCache{}
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		observer: observer,
		nowFunc:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc replaces the service clock.
func (svc *Service) SetNowFunc(f func() time.Time) {
	svc.nowFunc = f
}

func (svc *Service) now() time.Time {
	return svc.nowFunc().UTC()
}

// quiz returns the admin view of a quiz, going through the cache.
func (svc *Service) quiz(ctx context.Context, id int64) (Quiz, error) {
	q, err := svc.cache.GetQuiz(ctx, id)
	if err == nil {
		return q, nil
	}
	q, err = svc.repo.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	_ = svc.cache.SetQuiz(ctx, q)
	return q, nil
}

func (svc *Service) invalidate(ctx context.Context, quizID int64) {
	_ = svc.cache.DeleteQuiz(ctx, quizID)
}

// Session Controller

// Join resolves code to an active quiz and returns the candidate's attempt on it.
// It never creates an attempt: when there is none, the error is an *OnboardingError.
func (svc *Service) Join(ctx context.Context, code, email string) (Session, error) {
	id, err := svc.repo.GetQuizIDByCode(ctx, cleanJoinCode(code))
	if err != nil {
		return Session{}, err
	}
	q, err := svc.quiz(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !q.IsActive {
		return Session{}, ErrQuizNotFound
	}

	email = core.CleanString(email, true /* lower */)
	if email == "" {
		return Session{}, &OnboardingError{Preview: NewPreview(q)}
	}
	a, err := svc.repo.GetCandidateAttempt(ctx, q.ID, email)
	if err != nil {
		if errors.Cause(err) == ErrAttemptNotFound {
			return Session{}, &OnboardingError{Preview: NewPreview(q)}
		}
		return Session{}, errors.Wrap(err, "getting candidate attempt")
	}

	now := svc.now()
	if a.Expired(now) {
		if a, err = svc.finalize(ctx, q, a.ID, StatusAutoSubmitted, ""); err != nil && !IsInvalidState(err) {
			return Session{}, err
		}
	}
	return Session{Quiz: Candidate(q), Attempt: a.withTimeLeft(now)}, nil
}

// Start creates the candidate's ONGOING attempt on a quiz.
// A candidate gets a single attempt per quiz.
func (svc *Service) Start(ctx context.Context, quizID int64, na NewAttempt) (Session, error) {
	q, err := svc.quiz(ctx, quizID)
	if err != nil {
		return Session{}, err
	}

	na.Clean()
	now := svc.now()
	existing, err := svc.repo.GetCandidateAttempt(ctx, q.ID, na.Email)
	switch {
	case err == nil:
		if existing.Expired(now) {
			_, _ = svc.finalize(ctx, q, existing.ID, StatusAutoSubmitted, "")
			return Session{}, ErrInvalidState
		}
		if existing.Status == StatusOngoing {
			return Session{}, ErrAlreadyActive
		}
		return Session{}, ErrInvalidState
	case errors.Cause(err) != ErrAttemptNotFound:
		return Session{}, errors.Wrap(err, "getting candidate attempt")
	}

	if !q.IsOpen(now) {
		return Session{}, ErrQuizClosed
	}

	a := Attempt{
		ID:             uuid.New().String(),
		QuizID:         q.ID,
		CandidateEmail: na.Email,
		CandidateName:  na.Name,
		Questionnaire:  na.Questionnaire,
		Status:         StatusOngoing,
		StartedAt:      now,
		EndsAt:         now.Add(q.Duration()),
		Responses:      Responses{},
	}
	if a.Questionnaire == nil {
		a.Questionnaire = map[string]string{}
	}
	a, err = svc.repo.CreateAttempt(ctx, a)
	if err != nil {
		if errors.Cause(err) == ErrAttemptExists {
			return Session{}, ErrAlreadyActive
		}
		return Session{}, errors.Wrap(err, "creating attempt")
	}
	svc.observer.AttemptStarted(q.ID)
	return Session{Quiz: Candidate(q), Attempt: a.withTimeLeft(now)}, nil
}

// UpdateResponses merges r into the attempt's responses, last write wins per question.
// An attempt found out of time is auto-submitted and ErrTimeExceeded is returned.
func (svc *Service) UpdateResponses(ctx context.Context, attemptID string, r Responses) (Ack, error) {
	a, err := svc.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return Ack{}, err
	}
	if a.Status.IsTerminal() {
		return Ack{Status: string(a.Status)}, ErrInvalidState
	}
	q, err := svc.quiz(ctx, a.QuizID)
	if err != nil {
		return Ack{}, err
	}

	now := svc.now()
	if a.Expired(now) {
		final, err := svc.finalize(ctx, q, a.ID, StatusAutoSubmitted, "")
		if err != nil {
			return Ack{Status: string(final.Status)}, err
		}
		return Ack{Status: string(final.Status)}, ErrTimeExceeded
	}

	if err = validateResponses(q, r); err != nil {
		return Ack{}, err
	}
	saved, err := svc.repo.MergeResponses(ctx, a.ID, r)
	if err != nil {
		if IsInvalidState(err) {
			return Ack{Status: string(saved.Status)}, ErrInvalidState
		}
		return Ack{}, errors.Wrap(err, "merging responses")
	}
	svc.observer.ResponsesSaved(q.ID)
	return Ack{Status: "saved", TimeLeft: saved.TimeLeftAt(now)}, nil
}

// Submit moves an ONGOING attempt to SUBMITTED, or DISQUALIFIED with a zero score.
// On a terminal attempt it returns the existing result along with ErrInvalidState.
func (svc *Service) Submit(ctx context.Context, attemptID string, sub Submission) (Result, error) {
	a, err := svc.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}
	if a.Status.IsTerminal() {
		return a.Result(), ErrInvalidState
	}
	q, err := svc.quiz(ctx, a.QuizID)
	if err != nil {
		return Result{}, err
	}

	status := StatusSubmitted
	if sub.Disqualified {
		status = StatusDisqualified
	}
	a, err = svc.finalize(ctx, q, a.ID, status, sub.Reason)
	return a.Result(), err
}

// GetAttempt returns an attempt with its time left.
func (svc *Service) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	a, err := svc.repo.GetAttempt(ctx, id)
	if err != nil {
		return Attempt{}, err
	}
	return a.withTimeLeft(svc.now()), nil
}

// ExpireOverdue auto-submits every ONGOING attempt that ran out of time and returns how many it finalized.
func (svc *Service) ExpireOverdue(ctx context.Context) (int, error) {
	var count int
	for {
		ids, err := svc.repo.OverdueAttempts(ctx, svc.now(), expiryBatchSize)
		if err != nil {
			return count, errors.Wrap(err, "listing overdue attempts")
		}

		var done int
		for _, id := range ids {
			a, err := svc.repo.GetAttempt(ctx, id)
			if err != nil {
				if IsNotFound(err) {
					continue
				}
				return count, err
			}
			q, err := svc.quiz(ctx, a.QuizID)
			if err != nil {
				if IsNotFound(err) {
					continue
				}
				return count, err
			}
			if _, err = svc.finalize(ctx, q, id, StatusAutoSubmitted, ""); err != nil {
				if IsInvalidState(err) {
					continue
				}
				return count, err
			}
			done++
		}
		count += done

		if len(ids) < expiryBatchSize || done == 0 {
			return count, nil
		}
	}
}

// finalize performs the single terminal transition of an attempt. The score is computed from
// the responses stored at that moment. A lost race returns the winner and ErrInvalidState.
func (svc *Service) finalize(ctx context.Context, q Quiz, attemptID string, status Status, reason string) (Attempt, error) {
	a, err := svc.repo.FinalizeAttempt(ctx, attemptID, func(cur Attempt) Attempt {
		now := svc.now()
		var score float64
		if status != StatusDisqualified {
			score = Score(q.Questions, cur.Responses)
		} else {
			cur.Violation = core.CleanString(reason)
			if cur.Violation == "" {
				cur.Violation = "proctoring violation"
			}
		}
		cur.Status = status
		cur.SubmittedAt = &now
		cur.Score = &score
		return cur
	})
	if err != nil {
		if IsInvalidState(err) {
			return a, ErrInvalidState
		}
		return a, errors.Wrap(err, "finalizing attempt")
	}
	var score float64
	if a.Score != nil {
		score = *a.Score
	}
	svc.observer.AttemptFinished(q.ID, a.Status, score)
	return a, nil
}

// validateResponses checks r against the questions of q and rewrites option ids in canonical form.
func validateResponses(q Quiz, r Responses) error {
	for qid, vals := range r {
		id, err := strconv.ParseInt(qid, 10, 64)
		if err != nil {
			return core.NewFieldValidationError("responses", "unknown question "+qid)
		}
		qn, ok := q.Question(id)
		if !ok {
			return core.NewFieldValidationError("responses", "unknown question "+qid)
		}
		if !qn.Type.IsChoice() {
			continue
		}
		canonical := make([]string, 0, len(vals))
		for _, v := range vals {
			optID, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return core.NewFieldValidationError("responses", "unknown option "+v+" for question "+qid)
			}
			if _, ok := qn.Option(optID); !ok {
				return core.NewFieldValidationError("responses", "unknown option "+v+" for question "+qid)
			}
			canonical = append(canonical, strconv.FormatInt(optID, 10))
		}
		if qn.Type == SingleChoice && len(dedupe(canonical)) > 1 {
			return core.NewFieldValidationError("responses", "question "+qid+" accepts a single option")
		}
		r[qid] = canonical
	}
	return nil
}

// Administration

func (svc *Service) CreateQuiz(ctx context.Context, nq NewQuiz, createdBy string) (Quiz, error) {
	now := svc.now()
	q := Quiz{
		Title:                 nq.Title,
		Description:           nq.Description,
		Instructions:          nq.Instructions,
		JoinCode:              nq.JoinCode,
		DurationMinutes:       nq.DurationMinutes,
		IsActive:              nq.IsActive,
		IsPublic:              nq.IsPublic,
		AutoSubmitOnTabSwitch: boolOr(nq.AutoSubmitOnTabSwitch, true),
		RequireFullscreen:     boolOr(nq.RequireFullscreen, true),
		DisableRightClick:     boolOr(nq.DisableRightClick, true),
		DefaultMarks:          floatOr(nq.DefaultMarks, DefaultMarks),
		DefaultNegativeMarks:  floatOr(nq.DefaultNegativeMarks, DefaultNegativeMarks),
		CreatedBy:             createdBy,
		CreatedAt:             now,
		UpdatedAt:             now,
		Questions:             []Question{},
	}
	if q.DurationMinutes == 0 {
		q.DurationMinutes = DefaultDurationMinutes
	}
	if q.Instructions == "" {
		q.Instructions = DefaultInstructions
	}
	if nq.OpensAt != nil {
		t := nq.OpensAt.UTC()
		q.OpensAt = &t
	}
	if nq.ClosesAt != nil {
		t := nq.ClosesAt.UTC()
		q.ClosesAt = &t
	}

	if q.JoinCode != "" {
		created, err := svc.repo.CreateQuiz(ctx, q)
		if errors.Cause(err) == ErrJoinCodeExists {
			return Quiz{}, core.NewFieldValidationError("join_code", ErrJoinCodeExists.Error())
		}
		return created, err
	}
	for i := 0; i < joinCodeAttempts; i++ {
		code, err := generateJoinCode()
		if err != nil {
			return Quiz{}, errors.Wrap(err, "generating join code")
		}
		q.JoinCode = code
		created, err := svc.repo.CreateQuiz(ctx, q)
		if errors.Cause(err) == ErrJoinCodeExists {
			continue
		}
		return created, err
	}
	return Quiz{}, errors.New("could not generate a unique join code")
}

// GetQuiz returns the admin view of a quiz.
func (svc *Service) GetQuiz(ctx context.Context, id int64) (Quiz, error) {
	return svc.quiz(ctx, id)
}

func (svc *Service) QueryQuizzes(ctx context.Context, filter *QuizFilter, ordering []core.DBOrdering) ([]Quiz, error) {
	return svc.repo.QueryQuizzes(ctx, filter, ordering)
}

func (svc *Service) UpdateQuiz(ctx context.Context, id int64, uq UpdateQuiz) (Quiz, error) {
	q, err := svc.repo.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	uq.apply(&q)
	if q.OpensAt != nil && q.ClosesAt != nil && !q.ClosesAt.After(*q.OpensAt) {
		return Quiz{}, core.NewFieldValidationError("closes_at", windowText)
	}
	q.UpdatedAt = svc.now()

	updated, err := svc.repo.UpdateQuiz(ctx, q)
	if err != nil {
		if errors.Cause(err) == ErrJoinCodeExists {
			return Quiz{}, core.NewFieldValidationError("join_code", ErrJoinCodeExists.Error())
		}
		return Quiz{}, err
	}
	svc.invalidate(ctx, id)
	updated.Questions = q.Questions
	return updated, nil
}

func (svc *Service) ToggleActive(ctx context.Context, id int64) (Quiz, error) {
	q, err := svc.repo.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	active := !q.IsActive
	return svc.UpdateQuiz(ctx, id, UpdateQuiz{IsActive: &active})
}

// DeleteQuiz deletes a quiz along with its questions, options and attempts.
func (svc *Service) DeleteQuiz(ctx context.Context, id int64) error {
	if err := svc.repo.DeleteQuiz(ctx, id); err != nil {
		return err
	}
	svc.invalidate(ctx, id)
	return nil
}

func (svc *Service) CreateQuestion(ctx context.Context, nq NewQuestion) (Question, error) {
	q, err := svc.repo.GetQuiz(ctx, nq.QuizID)
	if err != nil {
		return Question{}, err
	}
	qn := Question{
		QuizID:        q.ID,
		Text:          nq.Text,
		Type:          nq.Type,
		Marks:         floatOr(nq.Marks, q.DefaultMarks),
		NegativeMarks: floatOr(nq.NegativeMarks, q.DefaultNegativeMarks),
		Order:         intOr(nq.Order, len(q.Questions)+1),
		Options:       make([]Option, 0, len(nq.Options)),
	}
	if qn.Type == "" {
		qn.Type = SingleChoice
	}
	for i, no := range nq.Options {
		qn.Options = append(qn.Options, Option{
			Text:      core.CleanString(no.Text),
			IsCorrect: no.IsCorrect,
			Order:     intOr(no.Order, i+1),
		})
	}
	if err = checkOptions(qn.Type, qn.Options); err != nil {
		return Question{}, err
	}

	qn, err = svc.repo.CreateQuestion(ctx, qn)
	if err != nil {
		return Question{}, err
	}
	svc.invalidate(ctx, q.ID)
	return qn, nil
}

func (svc *Service) UpdateQuestion(ctx context.Context, id int64, uq UpdateQuestion) (Question, error) {
	qn, err := svc.repo.GetQuestion(ctx, id)
	if err != nil {
		return Question{}, err
	}
	if uq.Text != nil {
		qn.Text = core.CleanString(*uq.Text)
	}
	if uq.Type != nil {
		qn.Type = *uq.Type
	}
	if uq.Marks != nil {
		qn.Marks = *uq.Marks
	}
	if uq.NegativeMarks != nil {
		qn.NegativeMarks = *uq.NegativeMarks
	}
	if uq.Order != nil {
		qn.Order = *uq.Order
	}
	if err = checkOptions(qn.Type, qn.Options); err != nil {
		return Question{}, err
	}

	updated, err := svc.repo.UpdateQuestion(ctx, qn)
	if err != nil {
		return Question{}, err
	}
	svc.invalidate(ctx, qn.QuizID)
	updated.Options = qn.Options
	return updated, nil
}

func (svc *Service) DeleteQuestion(ctx context.Context, id int64) error {
	qn, err := svc.repo.GetQuestion(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.repo.DeleteQuestion(ctx, id); err != nil {
		return err
	}
	svc.invalidate(ctx, qn.QuizID)
	return nil
}

func (svc *Service) CreateOption(ctx context.Context, no NewOption) (Option, error) {
	qn, err := svc.repo.GetQuestion(ctx, no.QuestionID)
	if err != nil {
		return Option{}, err
	}
	opt := Option{
		QuestionID: qn.ID,
		Text:       core.CleanString(no.Text),
		IsCorrect:  no.IsCorrect,
		Order:      intOr(no.Order, len(qn.Options)+1),
	}
	if err = checkOptions(qn.Type, append(qn.Options, opt)); err != nil {
		return Option{}, err
	}

	opt, err = svc.repo.CreateOption(ctx, opt)
	if err != nil {
		return Option{}, err
	}
	svc.invalidate(ctx, qn.QuizID)
	return opt, nil
}

func (svc *Service) UpdateOption(ctx context.Context, id int64, uo UpdateOption) (Option, error) {
	opt, err := svc.repo.GetOption(ctx, id)
	if err != nil {
		return Option{}, err
	}
	qn, err := svc.repo.GetQuestion(ctx, opt.QuestionID)
	if err != nil {
		return Option{}, err
	}
	if uo.Text != nil {
		opt.Text = core.CleanString(*uo.Text)
	}
	if uo.IsCorrect != nil {
		opt.IsCorrect = *uo.IsCorrect
	}
	if uo.Order != nil {
		opt.Order = *uo.Order
	}

	opts := make([]Option, 0, len(qn.Options))
	for _, o := range qn.Options {
		if o.ID == opt.ID {
			o = opt
		}
		opts = append(opts, o)
	}
	if err = checkOptions(qn.Type, opts); err != nil {
		return Option{}, err
	}

	opt, err = svc.repo.UpdateOption(ctx, opt)
	if err != nil {
		return Option{}, err
	}
	svc.invalidate(ctx, qn.QuizID)
	return opt, nil
}

func (svc *Service) DeleteOption(ctx context.Context, id int64) error {
	opt, err := svc.repo.GetOption(ctx, id)
	if err != nil {
		return err
	}
	qn, err := svc.repo.GetQuestion(ctx, opt.QuestionID)
	if err != nil {
		return err
	}
	if err = svc.repo.DeleteOption(ctx, id); err != nil {
		return err
	}
	svc.invalidate(ctx, qn.QuizID)
	return nil
}

func (svc *Service) QueryAttempts(ctx context.Context, filter *AttemptFilter, ordering []core.DBOrdering) ([]Attempt, error) {
	attempts, err := svc.repo.QueryAttempts(ctx, filter, ordering)
	if err != nil {
		return nil, err
	}
	now := svc.now()
	for i := range attempts {
		attempts[i] = attempts[i].withTimeLeft(now)
	}
	return attempts, nil
}

// ReviewAttempt grades an attempt question by question, correct answers included.
func (svc *Service) ReviewAttempt(ctx context.Context, id string) (Review, error) {
	a, err := svc.GetAttempt(ctx, id)
	if err != nil {
		return Review{}, err
	}
	q, err := svc.quiz(ctx, a.QuizID)
	if err != nil {
		return Review{}, err
	}
	total, results := Grade(q.Questions, a.Responses)
	return Review{Attempt: a, Quiz: q, Results: results, Total: total}, nil
}

// checkOptions enforces the option rules of a question type.
func checkOptions(t QuestionType, opts []Option) error {
	if !t.IsChoice() {
		if len(opts) > 0 {
			return core.NewFieldValidationError("options", "only choice questions can have options")
		}
		return nil
	}
	if t == SingleChoice {
		var correct int
		for _, o := range opts {
			if o.IsCorrect {
				correct++
			}
		}
		if correct > 1 {
			return core.NewFieldValidationError("is_correct", "a single-choice question can only have one correct option")
		}
	}
	return nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func floatOr(f *float64, def float64) float64 {
	if f == nil {
		return def
	}
	return *f
}

func intOr(i *int, def int) int {
	if i == nil {
		return def
	}
	return *i
}
