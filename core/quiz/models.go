package quiz

import (
	"strings"
	"time"

	"github.com/trezcool/clubhub/core"
)

type QuestionType string

// Question types
const (
	SingleChoice QuestionType = "MCQ"
	MultiChoice  QuestionType = "MSQ"
	ShortText    QuestionType = "SHORT"
	LongText     QuestionType = "LONG"
)

const (
	DefaultDurationMinutes = 30
	DefaultMarks           = 4.0
	DefaultNegativeMarks   = 1.0
	DefaultInstructions    = "Read every question carefully. The quiz runs in fullscreen: " +
		"leaving fullscreen or switching tabs submits your attempt automatically. " +
		"Your answers are saved as you go."
)

func (t QuestionType) IsChoice() bool {
	return t == SingleChoice || t == MultiChoice
}

// Quiz is the admin (grading) view of a quiz. It must never be sent to a candidate: see Candidate.
type Quiz struct {
	ID                    int64      `json:"id"`
	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	Instructions          string     `json:"instructions"`
	JoinCode              string     `json:"join_code"`
	DurationMinutes       int        `json:"duration_minutes"`
	IsActive              bool       `json:"is_active"`
	IsPublic              bool       `json:"is_public"`
	AutoSubmitOnTabSwitch bool       `json:"auto_submit_on_tab_switch"`
	RequireFullscreen     bool       `json:"require_fullscreen"`
	DisableRightClick     bool       `json:"disable_right_click"`
	DefaultMarks          float64    `json:"default_marks"`
	DefaultNegativeMarks  float64    `json:"default_negative_marks"`
	OpensAt               *time.Time `json:"opens_at"`
	ClosesAt              *time.Time `json:"closes_at"`
	CreatedBy             string     `json:"created_by,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	Questions             []Question `json:"questions"`
}

func (q Quiz) Duration() time.Duration {
	return time.Duration(q.DurationMinutes) * time.Minute
}

// IsOpen reports whether new attempts may be started at t.
func (q Quiz) IsOpen(t time.Time) bool {
	if !q.IsActive {
		return false
	}
	if q.OpensAt != nil && t.Before(*q.OpensAt) {
		return false
	}
	if q.ClosesAt != nil && !t.Before(*q.ClosesAt) {
		return false
	}
	return true
}

func (q Quiz) Question(id int64) (Question, bool) {
	for _, qn := range q.Questions {
		if qn.ID == id {
			return qn, true
		}
	}
	return Question{}, false
}

type Question struct {
	ID            int64        `json:"id"`
	QuizID        int64        `json:"quiz"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"question_type"`
	Marks         float64      `json:"marks"`
	NegativeMarks float64      `json:"negative_marks"`
	Order         int          `json:"order"`
	Options       []Option     `json:"options"`
}

func (qn Question) Option(id int64) (Option, bool) {
	for _, opt := range qn.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

type Option struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"question"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"is_correct"`
	Order      int    `json:"order"`
}

// NewQuiz contains information needed to create a new Quiz.
type NewQuiz struct {
	Title                 string     `json:"title" validate:"required,notblank,max=200"`
	Description           string     `json:"description"`
	Instructions          string     `json:"instructions"`
	JoinCode              string     `json:"join_code" validate:"omitempty,joincode"`
	DurationMinutes       int        `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	IsActive              bool       `json:"is_active"`
	IsPublic              bool       `json:"is_public"`
	AutoSubmitOnTabSwitch *bool      `json:"auto_submit_on_tab_switch"`
	RequireFullscreen     *bool      `json:"require_fullscreen"`
	DisableRightClick     *bool      `json:"disable_right_click"`
	DefaultMarks          *float64   `json:"default_marks" validate:"omitempty,min=0"`
	DefaultNegativeMarks  *float64   `json:"default_negative_marks" validate:"omitempty,min=0"`
	OpensAt               *time.Time `json:"opens_at"`
	ClosesAt              *time.Time `json:"closes_at"`
}

func (nq *NewQuiz) Clean() {
	nq.Title = core.CleanString(nq.Title)
	nq.Description = strings.TrimSpace(nq.Description)
	nq.Instructions = strings.TrimSpace(nq.Instructions)
	nq.JoinCode = cleanJoinCode(nq.JoinCode)
}

// UpdateQuiz defines what information may be provided to modify an existing Quiz. nil fields are left untouched.
type UpdateQuiz struct {
	Title                 *string    `json:"title" validate:"omitempty,notblank,max=200"`
	Description           *string    `json:"description"`
	Instructions          *string    `json:"instructions"`
	JoinCode              *string    `json:"join_code" validate:"omitempty,joincode"`
	DurationMinutes       *int       `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	IsActive              *bool      `json:"is_active"`
	IsPublic              *bool      `json:"is_public"`
	AutoSubmitOnTabSwitch *bool      `json:"auto_submit_on_tab_switch"`
	RequireFullscreen     *bool      `json:"require_fullscreen"`
	DisableRightClick     *bool      `json:"disable_right_click"`
	DefaultMarks          *float64   `json:"default_marks" validate:"omitempty,min=0"`
	DefaultNegativeMarks  *float64   `json:"default_negative_marks" validate:"omitempty,min=0"`
	OpensAt               *time.Time `json:"opens_at"`
	ClosesAt              *time.Time `json:"closes_at"`
	ClearWindow           bool       `json:"clear_window"`
}

func (uq *UpdateQuiz) Clean() {
	if uq.Title != nil {
		*uq.Title = core.CleanString(*uq.Title)
	}
	if uq.JoinCode != nil {
		*uq.JoinCode = cleanJoinCode(*uq.JoinCode)
	}
}

func (uq UpdateQuiz) apply(q *Quiz) {
	if uq.Title != nil {
		q.Title = *uq.Title
	}
	if uq.Description != nil {
		q.Description = strings.TrimSpace(*uq.Description)
	}
	if uq.Instructions != nil {
		q.Instructions = strings.TrimSpace(*uq.Instructions)
	}
	if uq.JoinCode != nil && *uq.JoinCode != "" {
		q.JoinCode = *uq.JoinCode
	}
	if uq.DurationMinutes != nil {
		q.DurationMinutes = *uq.DurationMinutes
	}
	if uq.IsActive != nil {
		q.IsActive = *uq.IsActive
	}
	if uq.IsPublic != nil {
		q.IsPublic = *uq.IsPublic
	}
	if uq.AutoSubmitOnTabSwitch != nil {
		q.AutoSubmitOnTabSwitch = *uq.AutoSubmitOnTabSwitch
	}
	if uq.RequireFullscreen != nil {
		q.RequireFullscreen = *uq.RequireFullscreen
	}
	if uq.DisableRightClick != nil {
		q.DisableRightClick = *uq.DisableRightClick
	}
	if uq.DefaultMarks != nil {
		q.DefaultMarks = *uq.DefaultMarks
	}
	if uq.DefaultNegativeMarks != nil {
		q.DefaultNegativeMarks = *uq.DefaultNegativeMarks
	}
	if uq.ClearWindow {
		q.OpensAt, q.ClosesAt = nil, nil
	}
	if uq.OpensAt != nil {
		t := uq.OpensAt.UTC()
		q.OpensAt = &t
	}
	if uq.ClosesAt != nil {
		t := uq.ClosesAt.UTC()
		q.ClosesAt = &t
	}
}

type NewQuestion struct {
	QuizID        int64        `json:"quiz" validate:"required"`
	Text          string       `json:"text" validate:"required,notblank"`
	Type          QuestionType `json:"question_type" validate:"omitempty,qtype"`
	Marks         *float64     `json:"marks" validate:"omitempty,min=0"`
	NegativeMarks *float64     `json:"negative_marks" validate:"omitempty,min=0"`
	Order         *int         `json:"order"`
	Options       []NewOption  `json:"options" validate:"dive"`
}

type UpdateQuestion struct {
	Text          *string       `json:"text" validate:"omitempty,notblank"`
	Type          *QuestionType `json:"question_type" validate:"omitempty,qtype"`
	Marks         *float64      `json:"marks" validate:"omitempty,min=0"`
	NegativeMarks *float64      `json:"negative_marks" validate:"omitempty,min=0"`
	Order         *int          `json:"order"`
}

type NewOption struct {
	QuestionID int64  `json:"question"`
	Text       string `json:"text" validate:"required,notblank"`
	IsCorrect  bool   `json:"is_correct"`
	Order      *int   `json:"order"`
}

type UpdateOption struct {
	Text      *string `json:"text" validate:"omitempty,notblank"`
	IsCorrect *bool   `json:"is_correct"`
	Order     *int    `json:"order"`
}

type QuizFilter struct {
	Search   string `query:"search"`
	IsActive *bool  `query:"is_active"`
}

func (qf *QuizFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

func (qf *QuizFilter) Matches(q Quiz) bool {
	if qf == nil {
		return true
	}
	if qf.Search != "" {
		s := strings.ToLower(qf.Search)
		if !strings.Contains(strings.ToLower(q.Title), s) && !strings.Contains(strings.ToLower(q.JoinCode), s) {
			return false
		}
	}
	if qf.IsActive != nil && q.IsActive != *qf.IsActive {
		return false
	}
	return true
}

func cleanJoinCode(code string) string {
	return strings.ToUpper(core.CleanString(code))
}
