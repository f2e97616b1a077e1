package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
)

type quizRepository struct {
	db *quizTables
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *DB) quiz.Repository {
	return &quizRepository{db: db.quiz}
}

func (repo *quizRepository) nextPK() int64 {
	repo.db.pk++
	return repo.db.pk
}

// Quizzes

func (repo *quizRepository) codeTaken(code string, exclID int64) bool {
	for _, q := range repo.db.quizzes {
		if q.ID != exclID && q.JoinCode == code {
			return true
		}
	}
	return false
}

func (repo *quizRepository) CreateQuiz(_ context.Context, q quiz.Quiz) (quiz.Quiz, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if repo.codeTaken(q.JoinCode, 0) {
		return quiz.Quiz{}, quiz.ErrJoinCodeExists
	}
	q.ID = repo.nextPK()
	questions := q.Questions
	q.Questions = nil
	stored := q
	repo.db.quizzes[q.ID] = &stored

	q.Questions = make([]quiz.Question, 0, len(questions))
	for _, qn := range questions {
		qn.QuizID = q.ID
		q.Questions = append(q.Questions, repo.insertQuestion(qn))
	}
	return q, nil
}

func (repo *quizRepository) UpdateQuiz(_ context.Context, q quiz.Quiz) (quiz.Quiz, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.quizzes[q.ID]
	if !ok {
		return quiz.Quiz{}, quiz.ErrQuizNotFound
	}
	if repo.codeTaken(q.JoinCode, q.ID) {
		return quiz.Quiz{}, quiz.ErrJoinCodeExists
	}
	q.CreatedAt, q.CreatedBy = orig.CreatedAt, orig.CreatedBy
	stored := q
	stored.Questions = nil
	repo.db.quizzes[q.ID] = &stored
	return q, nil
}

func (repo *quizRepository) DeleteQuiz(_ context.Context, id int64) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.quizzes[id]; !ok {
		return quiz.ErrQuizNotFound
	}
	delete(repo.db.quizzes, id)
	for qnID, qn := range repo.db.questions {
		if qn.QuizID == id {
			repo.deleteQuestion(qnID)
		}
	}
	for aID, a := range repo.db.attempts {
		if a.QuizID == id {
			delete(repo.db.attempts, aID)
		}
	}
	return nil
}

func (repo *quizRepository) GetQuiz(_ context.Context, id int64) (quiz.Quiz, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	stored, ok := repo.db.quizzes[id]
	if !ok {
		return quiz.Quiz{}, quiz.ErrQuizNotFound
	}
	q := *stored
	q.Questions = make([]quiz.Question, 0)
	for _, qn := range repo.db.questions {
		if qn.QuizID == id {
			q.Questions = append(q.Questions, repo.question(qn.ID))
		}
	}
	sort.Slice(q.Questions, func(i, j int) bool {
		if q.Questions[i].Order != q.Questions[j].Order {
			return q.Questions[i].Order < q.Questions[j].Order
		}
		return q.Questions[i].ID < q.Questions[j].ID
	})
	return q, nil
}

func (repo *quizRepository) GetQuizIDByCode(_ context.Context, code string) (int64, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, q := range repo.db.quizzes {
		if q.JoinCode == code {
			return q.ID, nil
		}
	}
	return 0, quiz.ErrQuizNotFound
}

func (repo *quizRepository) QueryQuizzes(_ context.Context, filter *quiz.QuizFilter, ordering []core.DBOrdering) ([]quiz.Quiz, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	quizzes := make([]quiz.Quiz, 0, len(repo.db.quizzes))
	for _, q := range repo.db.quizzes {
		if filter.Matches(*q) {
			qz := *q
			qz.Questions = []quiz.Question{}
			quizzes = append(quizzes, qz)
		}
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].ID > quizzes[j].ID })
	for k := len(ordering) - 1; k >= 0; k-- {
		ord := ordering[k]
		sort.SliceStable(quizzes, func(i, j int) bool {
			a, b := quizField(quizzes[i], ord.Field), quizField(quizzes[j], ord.Field)
			if ord.Ascending {
				return a < b
			}
			return a > b
		})
	}
	return quizzes, nil
}

func quizField(q quiz.Quiz, field string) string {
	switch field {
	case "title":
		return strings.ToLower(q.Title)
	case "join_code":
		return q.JoinCode
	case "created_at":
		return q.CreatedAt.Format(sortableTime)
	case "updated_at":
		return q.UpdatedAt.Format(sortableTime)
	}
	return ""
}

// Questions

// question returns a copy of a stored question with its ordered options. Callers hold the lock.
func (repo *quizRepository) question(id int64) quiz.Question {
	qn := *repo.db.questions[id]
	qn.Options = make([]quiz.Option, 0)
	for _, opt := range repo.db.options {
		if opt.QuestionID == id {
			qn.Options = append(qn.Options, *opt)
		}
	}
	sort.Slice(qn.Options, func(i, j int) bool {
		if qn.Options[i].Order != qn.Options[j].Order {
			return qn.Options[i].Order < qn.Options[j].Order
		}
		return qn.Options[i].ID < qn.Options[j].ID
	})
	return qn
}

func (repo *quizRepository) insertQuestion(qn quiz.Question) quiz.Question {
	qn.ID = repo.nextPK()
	options := qn.Options
	stored := qn
	stored.Options = nil
	repo.db.questions[qn.ID] = &stored

	qn.Options = make([]quiz.Option, 0, len(options))
	for _, opt := range options {
		opt.ID = repo.nextPK()
		opt.QuestionID = qn.ID
		o := opt
		repo.db.options[opt.ID] = &o
		qn.Options = append(qn.Options, opt)
	}
	return qn
}

func (repo *quizRepository) deleteQuestion(id int64) {
	delete(repo.db.questions, id)
	for optID, opt := range repo.db.options {
		if opt.QuestionID == id {
			delete(repo.db.options, optID)
		}
	}
}

func (repo *quizRepository) CreateQuestion(_ context.Context, qn quiz.Question) (quiz.Question, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.quizzes[qn.QuizID]; !ok {
		return quiz.Question{}, quiz.ErrQuizNotFound
	}
	return repo.insertQuestion(qn), nil
}

func (repo *quizRepository) GetQuestion(_ context.Context, id int64) (quiz.Question, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if _, ok := repo.db.questions[id]; !ok {
		return quiz.Question{}, quiz.ErrQuestionNotFound
	}
	return repo.question(id), nil
}

func (repo *quizRepository) UpdateQuestion(_ context.Context, qn quiz.Question) (quiz.Question, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.questions[qn.ID]; !ok {
		return quiz.Question{}, quiz.ErrQuestionNotFound
	}
	stored := qn
	stored.Options = nil
	repo.db.questions[qn.ID] = &stored
	return qn, nil
}

func (repo *quizRepository) DeleteQuestion(_ context.Context, id int64) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.questions[id]; !ok {
		return quiz.ErrQuestionNotFound
	}
	repo.deleteQuestion(id)
	return nil
}

// Options

func (repo *quizRepository) CreateOption(_ context.Context, opt quiz.Option) (quiz.Option, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.questions[opt.QuestionID]; !ok {
		return quiz.Option{}, quiz.ErrQuestionNotFound
	}
	opt.ID = repo.nextPK()
	stored := opt
	repo.db.options[opt.ID] = &stored
	return opt, nil
}

func (repo *quizRepository) GetOption(_ context.Context, id int64) (quiz.Option, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if opt, ok := repo.db.options[id]; ok {
		return *opt, nil
	}
	return quiz.Option{}, quiz.ErrOptionNotFound
}

func (repo *quizRepository) UpdateOption(_ context.Context, opt quiz.Option) (quiz.Option, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.options[opt.ID]; !ok {
		return quiz.Option{}, quiz.ErrOptionNotFound
	}
	stored := opt
	repo.db.options[opt.ID] = &stored
	return opt, nil
}

func (repo *quizRepository) DeleteOption(_ context.Context, id int64) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.options[id]; !ok {
		return quiz.ErrOptionNotFound
	}
	delete(repo.db.options, id)
	return nil
}

// Attempts

func copyAttempt(a *quiz.Attempt) quiz.Attempt {
	c := *a
	c.Responses = a.Responses.Clone()
	if a.Questionnaire != nil {
		c.Questionnaire = make(map[string]string, len(a.Questionnaire))
		for k, v := range a.Questionnaire {
			c.Questionnaire[k] = v
		}
	}
	return c
}

func (repo *quizRepository) CreateAttempt(_ context.Context, a quiz.Attempt) (quiz.Attempt, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.quizzes[a.QuizID]; !ok {
		return quiz.Attempt{}, quiz.ErrQuizNotFound
	}
	for _, other := range repo.db.attempts {
		if other.QuizID == a.QuizID && other.CandidateEmail == a.CandidateEmail {
			return quiz.Attempt{}, quiz.ErrAttemptExists
		}
	}
	stored := copyAttempt(&a)
	repo.db.attempts[a.ID] = &stored
	return a, nil
}

func (repo *quizRepository) GetAttempt(_ context.Context, id string) (quiz.Attempt, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if a, ok := repo.db.attempts[id]; ok {
		return copyAttempt(a), nil
	}
	return quiz.Attempt{}, quiz.ErrAttemptNotFound
}

func (repo *quizRepository) GetCandidateAttempt(_ context.Context, quizID int64, email string) (quiz.Attempt, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, a := range repo.db.attempts {
		if a.QuizID == quizID && a.CandidateEmail == email {
			return copyAttempt(a), nil
		}
	}
	return quiz.Attempt{}, quiz.ErrAttemptNotFound
}

func (repo *quizRepository) MergeResponses(_ context.Context, id string, r quiz.Responses) (quiz.Attempt, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a, ok := repo.db.attempts[id]
	if !ok {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	if a.Status.IsTerminal() {
		return copyAttempt(a), quiz.ErrInvalidState
	}
	a.Responses = a.Responses.Merge(r)
	return copyAttempt(a), nil
}

func (repo *quizRepository) FinalizeAttempt(_ context.Context, id string, finalize func(current quiz.Attempt) quiz.Attempt) (quiz.Attempt, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a, ok := repo.db.attempts[id]
	if !ok {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	if a.Status.IsTerminal() {
		return copyAttempt(a), quiz.ErrInvalidState
	}
	final := finalize(copyAttempt(a))
	a.Status = final.Status
	a.SubmittedAt = final.SubmittedAt
	a.Score = final.Score
	a.Violation = final.Violation
	return copyAttempt(a), nil
}

func (repo *quizRepository) QueryAttempts(_ context.Context, filter *quiz.AttemptFilter, ordering []core.DBOrdering) ([]quiz.Attempt, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	attempts := make([]quiz.Attempt, 0, len(repo.db.attempts))
	for _, a := range repo.db.attempts {
		if filter.Matches(*a) {
			attempts = append(attempts, copyAttempt(a))
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].StartedAt.After(attempts[j].StartedAt) })
	for k := len(ordering) - 1; k >= 0; k-- {
		ord := ordering[k]
		sort.SliceStable(attempts, func(i, j int) bool {
			c := compareAttempts(attempts[i], attempts[j], ord.Field)
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		})
	}
	return attempts, nil
}

// compareAttempts orders attempts on field. Missing scores and submission times sort after
// any value, as NULLs do in Postgres.
func compareAttempts(a, b quiz.Attempt, field string) int {
	switch field {
	case "score":
		if a.Score == nil || b.Score == nil {
			return compareNulls(a.Score == nil, b.Score == nil)
		}
		switch {
		case *a.Score < *b.Score:
			return -1
		case *a.Score > *b.Score:
			return 1
		}
		return 0
	case "submitted_at":
		if a.SubmittedAt == nil || b.SubmittedAt == nil {
			return compareNulls(a.SubmittedAt == nil, b.SubmittedAt == nil)
		}
		switch {
		case a.SubmittedAt.Before(*b.SubmittedAt):
			return -1
		case a.SubmittedAt.After(*b.SubmittedAt):
			return 1
		}
		return 0
	}
	return strings.Compare(attemptField(a, field), attemptField(b, field))
}

func compareNulls(aNull, bNull bool) int {
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		return 1
	}
	return -1
}

func attemptField(a quiz.Attempt, field string) string {
	switch field {
	case "candidate_email":
		return a.CandidateEmail
	case "candidate_name":
		return strings.ToLower(a.CandidateName)
	case "status":
		return string(a.Status)
	case "start_time":
		return a.StartedAt.Format(sortableTime)
	case "end_time":
		return a.EndsAt.Format(sortableTime)
	}
	return ""
}

func (repo *quizRepository) OverdueAttempts(_ context.Context, t time.Time, limit int) ([]string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	overdue := make([]*quiz.Attempt, 0)
	for _, a := range repo.db.attempts {
		if a.Status == quiz.StatusOngoing && !a.EndsAt.After(t) {
			overdue = append(overdue, a)
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].EndsAt.Before(overdue[j].EndsAt) })
	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}
	ids := make([]string, 0, len(overdue))
	for _, a := range overdue {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

const sortableTime = "20060102150405.000000000"
