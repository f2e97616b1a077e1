package client

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
)

// State of a proctored session.
// LOADING -> ACTIVE -> SUBMITTING -> DONE, or ACTIVE -> VIOLATION -> TERMINATED.
type State int32

const (
	StateLoading State = iota
	StateActive
	StateSubmitting
	StateDone
	StateViolation
	StateTerminated
)

var stateNames = [...]string{"LOADING", "ACTIVE", "SUBMITTING", "DONE", "VIOLATION", "TERMINATED"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

func (s State) IsFinal() bool {
	return s == StateDone || s == StateTerminated
}

// ViolationKind is a breach of the quiz's proctoring constraints.
type ViolationKind string

const (
	FullscreenExit   ViolationKind = "fullscreen_exit"
	VisibilityHidden ViolationKind = "visibility_hidden"
	FocusLost        ViolationKind = "focus_lost"
)

// Enforced reports whether q treats kind as a violation.
func (k ViolationKind) Enforced(q quiz.CandidateQuiz) bool {
	switch k {
	case FullscreenExit:
		return q.RequireFullscreen
	case VisibilityHidden, FocusLost:
		return q.AutoSubmitOnTabSwitch
	}
	return false
}

var (
	ErrNotLoading      = errors.New("session already loaded")
	ErrNotActive       = errors.New("session is not active")
	ErrNotConfirmed    = errors.New("submission not confirmed")
	ErrUnknownQuestion = errors.New("unknown question")
	ErrInvalidAnswer   = errors.New("invalid answer")
)

type Options struct {
	Logger core.Logger
	// Tick is the local countdown step. Default 1s.
	Tick time.Duration
	// FullscreenGrace is how long fullscreen may be left before it counts as a violation. Default 3s.
	FullscreenGrace time.Duration
	// FlushTimeout bounds flushing pending edits before a submission. Default 5s.
	FlushTimeout time.Duration
	// SubmitTimeout bounds a submit call. Default 15s.
	SubmitTimeout time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.FullscreenGrace <= 0 {
		o.FullscreenGrace = 3 * time.Second
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 5 * time.Second
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 15 * time.Second
	}
}

// Session drives one candidate's attempt: countdown, autosave, violations and submission.
// Terminal transitions are compare-and-swaps on the state, so exactly one submission is ever sent.
type Session struct {
	api    API
	opts   Options
	logger core.Logger

	state int32

	mu        sync.Mutex
	ticket    Ticket
	answers   quiz.Responses
	timeLeft  int64
	result    quiz.Result
	err       error
	violation ViolationKind
	saveErr   error
	fsTimer   *time.Timer

	autosave *Autosave
	done     chan struct{}
	doneOnce sync.Once
}

func NewSession(api API, opts Options) *Session {
	opts.setDefaults()
	return &Session{
		api:    api,
		opts:   opts,
		logger: opts.Logger,
		state:  int32(StateLoading),
		done:   make(chan struct{}),
	}
}

func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Session) transition(from, to State) bool {
	return atomic.CompareAndSwapInt32(&s.state, int32(from), int32(to))
}

func (s *Session) Quiz() quiz.CandidateQuiz {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticket.Quiz
}

func (s *Session) Attempt() quiz.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticket.Attempt
}

// TimeLeft returns the local countdown in seconds. It is advisory, the server enforces the deadline.
func (s *Session) TimeLeft() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeLeft
}

// Done is closed once the session reached DONE or TERMINATED.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the submission outcome and the error of the submit call, if any.
func (s *Session) Result() (quiz.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Violation returns the violation that terminated the session, if any.
func (s *Session) Violation() ViolationKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.violation
}

// Answers returns the candidate's current answers, saved or not.
func (s *Session) Answers() quiz.Responses {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers.Clone()
}

// Pending returns the edits not yet saved by the server.
func (s *Session) Pending() quiz.Responses {
	q := s.queue()
	if q == nil {
		return quiz.Responses{}
	}
	return q.Pending()
}

// SaveError returns the last error the server rejected answers with while the attempt went on.
func (s *Session) SaveError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveErr
}

func (s *Session) queue() *Autosave {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autosave
}

// Join resumes the candidate's attempt on the quiz behind code.
// A candidate without an attempt gets an *APIError carrying the quiz Preview and must Start.
func (s *Session) Join(ctx context.Context, code, email string) error {
	if s.State() != StateLoading {
		return ErrNotLoading
	}
	t, err := s.api.Join(ctx, code, email)
	if err != nil {
		return err
	}
	return s.activate(t)
}

// Start begins a new attempt on the quiz.
func (s *Session) Start(ctx context.Context, quizID int64, na quiz.NewAttempt) error {
	if s.State() != StateLoading {
		return ErrNotLoading
	}
	t, err := s.api.Start(ctx, quizID, na)
	if err != nil {
		return err
	}
	return s.activate(t)
}

func (s *Session) activate(t Ticket) error {
	s.mu.Lock()
	s.ticket = t
	s.answers = t.Attempt.Responses.Clone()
	s.timeLeft = t.Attempt.TimeLeft
	s.mu.Unlock()

	if t.Attempt.Status.IsTerminal() {
		if !s.transition(StateLoading, StateDone) {
			return ErrNotLoading
		}
		s.finish(StateDone, t.Attempt.Result(), nil)
		return nil
	}

	q := s.newQueue(t)
	s.mu.Lock()
	s.autosave = q
	s.mu.Unlock()

	if !s.transition(StateLoading, StateActive) {
		return ErrNotLoading
	}
	q.start(context.Background())
	return nil
}

func (s *Session) newQueue(t Ticket) *Autosave {
	quizID, token := t.Quiz.ID, t.Token
	q := newAutosave(func(ctx context.Context, r quiz.Responses) (quiz.Ack, error) {
		return s.api.UpdateResponses(ctx, quizID, token, r)
	}, s.logger, s.opts.BackoffBase, s.opts.BackoffMax)
	q.onAck = s.sync
	q.onStop = func(err error) { go s.serverEnded(err) }
	return q
}

// sync adopts the server's remaining time.
func (s *Session) sync(ack quiz.Ack) {
	s.mu.Lock()
	s.timeLeft = ack.TimeLeft
	s.mu.Unlock()
}

// Answer records the values of a question. Saving happens in the background.
// Choice questions take option ids; no value clears the answer.
func (s *Session) Answer(questionID int64, values ...string) error {
	if s.State() != StateActive {
		return ErrNotActive
	}
	var (
		qn    quiz.CandidateQuestion
		found bool
	)
	for _, cq := range s.Quiz().Questions {
		if cq.ID == questionID {
			qn, found = cq, true
			break
		}
	}
	if !found {
		return errors.Wrapf(ErrUnknownQuestion, "question %d", questionID)
	}
	values, err := checkAnswer(qn, values)
	if err != nil {
		return err
	}

	qid := strconv.FormatInt(questionID, 10)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.autosave.Put(qid, values); err != nil {
		return err
	}
	s.answers = s.answers.Merge(quiz.Responses{qid: values})
	return nil
}

// checkAnswer returns the values of a choice question as canonical option ids.
func checkAnswer(qn quiz.CandidateQuestion, values []string) ([]string, error) {
	if !qn.Type.IsChoice() {
		return values, nil
	}
	ids := make([]string, 0, len(values))
	seen := make(map[int64]bool, len(values))
	for _, v := range values {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || !hasOption(qn, id) {
			return nil, errors.Wrapf(ErrInvalidAnswer, "question %d has no option %q", qn.ID, v)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	if qn.Type == quiz.SingleChoice && len(ids) > 1 {
		return nil, errors.Wrapf(ErrInvalidAnswer, "question %d accepts a single option", qn.ID)
	}
	return ids, nil
}

func hasOption(qn quiz.CandidateQuestion, id int64) bool {
	for _, opt := range qn.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}

// Violate reports a proctoring breach. The first enforced violation of an active session
// submits once as disqualified and terminates it, whether or not the call succeeds.
// It reports whether this call terminated the session.
func (s *Session) Violate(ctx context.Context, kind ViolationKind) bool {
	if !kind.Enforced(s.Quiz()) || !s.transition(StateActive, StateViolation) {
		return false
	}
	s.mu.Lock()
	s.violation = kind
	s.mu.Unlock()
	s.queue().Stop()

	sctx, cancel := context.WithTimeout(ctx, s.opts.SubmitTimeout)
	defer cancel()
	res, err := s.api.Submit(sctx, s.ticket.Quiz.ID, s.ticket.Token, quiz.Submission{Disqualified: true, Reason: string(kind)})
	if err != nil {
		s.logger.Warn("violation submit failed, terminating anyway", err, map[string]interface{}{"violation": string(kind)})
		res.Status = quiz.StatusDisqualified
	}
	s.finish(StateTerminated, res.Result, err)
	return true
}

// FullscreenChanged reports the fullscreen state. Leaving fullscreen becomes a violation
// when it is not restored within the grace period.
func (s *Session) FullscreenChanged(present bool) {
	if !FullscreenExit.Enforced(s.Quiz()) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if present {
		if s.fsTimer != nil {
			s.fsTimer.Stop()
			s.fsTimer = nil
		}
		return
	}
	if s.fsTimer == nil && State(atomic.LoadInt32(&s.state)) == StateActive {
		s.fsTimer = time.AfterFunc(s.opts.FullscreenGrace, func() {
			s.Violate(context.Background(), FullscreenExit)
		})
	}
}

// Finalize submits on the candidate's request, once confirm approves it.
func (s *Session) Finalize(ctx context.Context, confirm func() bool) (quiz.Result, error) {
	if s.State() != StateActive {
		return quiz.Result{}, ErrNotActive
	}
	if confirm == nil || !confirm() {
		return quiz.Result{}, ErrNotConfirmed
	}
	return s.submit(ctx)
}

func (s *Session) submit(ctx context.Context) (quiz.Result, error) {
	if !s.transition(StateActive, StateSubmitting) {
		return quiz.Result{}, ErrNotActive
	}

	q := s.queue()
	fctx, cancel := context.WithTimeout(ctx, s.opts.FlushTimeout)
	if err := q.Flush(fctx); err != nil {
		s.logger.Warn("pending answers not saved before submit", err)
	}
	cancel()
	q.Stop()

	sctx, cancel := context.WithTimeout(ctx, s.opts.SubmitTimeout)
	defer cancel()
	res, err := s.api.Submit(sctx, s.ticket.Quiz.ID, s.ticket.Token, quiz.Submission{})
	s.finish(StateDone, res.Result, err)
	return res.Result, err
}

// serverEnded handles answers the server refused for good. When the attempt is over,
// the session ends with the server's result. When it still runs, the refused edits are
// resent one question at a time, the ones rejected again are dropped and the session goes on.
func (s *Session) serverEnded(cause error) {
	if !s.transition(StateActive, StateSubmitting) {
		return
	}
	old := s.queue()
	old.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SubmitTimeout)
	defer cancel()
	a, err := s.api.Attempt(ctx, s.ticket.Quiz.ID, s.ticket.Token)
	if err != nil {
		s.finish(StateDone, quiz.Result{}, cause)
		return
	}
	s.mu.Lock()
	s.ticket.Attempt = a
	s.mu.Unlock()
	if a.Status.IsTerminal() {
		s.finish(StateDone, a.Result(), nil)
		return
	}

	s.logger.Warn("answers rejected, attempt still ongoing", cause)
	refused := old.Pending()
	qids := make([]string, 0, len(refused))
	for qid := range refused {
		qids = append(qids, qid)
	}
	sort.Strings(qids)

	answers := a.Responses.Clone()
	retry := quiz.Responses{}
	rejected := make([]string, 0, len(qids))
	for _, qid := range qids {
		edit := quiz.Responses{qid: refused[qid]}
		ack, err := s.api.UpdateResponses(ctx, s.ticket.Quiz.ID, s.ticket.Token, edit)
		switch {
		case err == nil:
			s.sync(ack)
			answers = answers.Merge(edit)
		case IsTransient(err):
			retry[qid] = refused[qid]
			answers = answers.Merge(edit)
		default:
			rejected = append(rejected, qid)
		}
	}

	q := s.newQueue(s.ticket)
	for qid, vals := range retry {
		_ = q.Put(qid, vals)
	}
	s.mu.Lock()
	s.autosave = q
	s.answers = answers
	s.timeLeft = a.TimeLeft
	if len(rejected) > 0 {
		s.saveErr = errors.Wrapf(cause, "answers to question(s) %s not saved", strings.Join(rejected, ", "))
	}
	s.mu.Unlock()

	if !s.transition(StateSubmitting, StateActive) {
		return
	}
	q.start(context.Background())
}

func (s *Session) finish(to State, res quiz.Result, err error) {
	s.mu.Lock()
	s.result = res
	s.err = err
	s.timeLeft = 0
	if s.fsTimer != nil {
		s.fsTimer.Stop()
		s.fsTimer = nil
	}
	s.mu.Unlock()

	atomic.StoreInt32(&s.state, int32(to))
	s.doneOnce.Do(func() { close(s.done) })
}

// tick steps the countdown and returns the seconds left.
func (s *Session) tick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeLeft > 0 {
		s.timeLeft--
	}
	return s.timeLeft
}

// Run counts down until the session ends. At zero it submits once, not disqualified.
func (s *Session) Run(ctx context.Context) error {
	if s.State() == StateLoading {
		return ErrNotActive
	}
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			if s.tick() > 0 {
				continue
			}
			if _, err := s.submit(ctx); err != nil {
				if err == ErrNotActive && !s.State().IsFinal() {
					// re-syncing with the server, submit on the next tick
					continue
				}
				s.logger.Warn("automatic submit failed", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.done:
				return nil
			}
		}
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}
