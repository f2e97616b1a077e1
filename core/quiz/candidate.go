package quiz

// The candidate view is what a person taking a quiz may see.
// It has no correctness data at all, so there is nothing to strip or forget to strip.

type CandidateQuiz struct {
	ID                    int64               `json:"id"`
	Title                 string              `json:"title"`
	Description           string              `json:"description"`
	Instructions          string              `json:"instructions"`
	DurationMinutes       int                 `json:"duration_minutes"`
	AutoSubmitOnTabSwitch bool                `json:"auto_submit_on_tab_switch"`
	RequireFullscreen     bool                `json:"require_fullscreen"`
	DisableRightClick     bool                `json:"disable_right_click"`
	Questions             []CandidateQuestion `json:"questions"`
}

type CandidateQuestion struct {
	ID            int64             `json:"id"`
	Text          string            `json:"text"`
	Type          QuestionType      `json:"question_type"`
	Marks         float64           `json:"marks"`
	NegativeMarks float64           `json:"negative_marks"`
	Order         int               `json:"order"`
	Options       []CandidateOption `json:"options"`
}

type CandidateOption struct {
	ID    int64  `json:"id"`
	Text  string `json:"text"`
	Order int    `json:"order"`
}

// Preview is the bare minimum shown before an attempt exists (onboarding).
type Preview struct {
	ID                    int64  `json:"id"`
	Title                 string `json:"title"`
	Description           string `json:"description"`
	Instructions          string `json:"instructions"`
	DurationMinutes       int    `json:"duration_minutes"`
	QuestionCount         int    `json:"question_count"`
	AutoSubmitOnTabSwitch bool   `json:"auto_submit_on_tab_switch"`
	RequireFullscreen     bool   `json:"require_fullscreen"`
	DisableRightClick     bool   `json:"disable_right_click"`
	RequiresIdentity      bool   `json:"requires_identity"`
}

// Candidate projects q to the candidate view.
func Candidate(q Quiz) CandidateQuiz {
	cq := CandidateQuiz{
		ID:                    q.ID,
		Title:                 q.Title,
		Description:           q.Description,
		Instructions:          q.Instructions,
		DurationMinutes:       q.DurationMinutes,
		AutoSubmitOnTabSwitch: q.AutoSubmitOnTabSwitch,
		RequireFullscreen:     q.RequireFullscreen,
		DisableRightClick:     q.DisableRightClick,
		Questions:             make([]CandidateQuestion, 0, len(q.Questions)),
	}
	for _, qn := range q.Questions {
		cqn := CandidateQuestion{
			ID:            qn.ID,
			Text:          qn.Text,
			Type:          qn.Type,
			Marks:         qn.Marks,
			NegativeMarks: qn.NegativeMarks,
			Order:         qn.Order,
			Options:       make([]CandidateOption, 0, len(qn.Options)),
		}
		for _, opt := range qn.Options {
			cqn.Options = append(cqn.Options, CandidateOption{ID: opt.ID, Text: opt.Text, Order: opt.Order})
		}
		cq.Questions = append(cq.Questions, cqn)
	}
	return cq
}

func NewPreview(q Quiz) Preview {
	return Preview{
		ID:                    q.ID,
		Title:                 q.Title,
		Description:           q.Description,
		Instructions:          q.Instructions,
		DurationMinutes:       q.DurationMinutes,
		QuestionCount:         len(q.Questions),
		AutoSubmitOnTabSwitch: q.AutoSubmitOnTabSwitch,
		RequireFullscreen:     q.RequireFullscreen,
		DisableRightClick:     q.DisableRightClick,
		RequiresIdentity:      true,
	}
}
