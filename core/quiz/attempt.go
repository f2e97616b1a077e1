package quiz

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core"
)

type Status string

// Attempt statuses. An attempt that was never started has no row at all.
const (
	StatusOngoing       Status = "ONGOING"
	StatusSubmitted     Status = "SUBMITTED"
	StatusAutoSubmitted Status = "AUTO_SUBMITTED"
	StatusDisqualified  Status = "DISQUALIFIED"
)

func (s Status) IsTerminal() bool {
	return s != StatusOngoing
}

func (s Status) IsValid() bool {
	switch s {
	case StatusOngoing, StatusSubmitted, StatusAutoSubmitted, StatusDisqualified:
		return true
	}
	return false
}

// Responses maps a question ID to the submitted values: option IDs for choice questions, free text otherwise.
type Responses map[string][]string

// UnmarshalJSON accepts a list or a single value per question, holding strings or numbers.
func (r *Responses) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Responses, len(raw))
	for qid, msg := range raw {
		msg = bytes.TrimSpace(msg)
		if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
			out[qid] = []string{}
			continue
		}
		var items []interface{}
		if msg[0] == '[' {
			dec := json.NewDecoder(bytes.NewReader(msg))
			dec.UseNumber()
			if err := dec.Decode(&items); err != nil {
				return errors.Wrapf(err, "responses[%s]", qid)
			}
		} else {
			var item interface{}
			dec := json.NewDecoder(bytes.NewReader(msg))
			dec.UseNumber()
			if err := dec.Decode(&item); err != nil {
				return errors.Wrapf(err, "responses[%s]", qid)
			}
			items = []interface{}{item}
		}
		vals := make([]string, 0, len(items))
		for _, item := range items {
			switch v := item.(type) {
			case string:
				vals = append(vals, v)
			case json.Number:
				vals = append(vals, v.String())
			case bool:
				vals = append(vals, strconv.FormatBool(v))
			case nil:
			default:
				return errors.Errorf("responses[%s]: unsupported value %v", qid, v)
			}
		}
		out[qid] = vals
	}
	*r = out
	return nil
}

// Merge returns r updated with other, last write wins per question. An empty list clears the question.
func (r Responses) Merge(other Responses) Responses {
	merged := make(Responses, len(r)+len(other))
	for qid, vals := range r {
		merged[qid] = vals
	}
	for qid, vals := range other {
		if len(vals) == 0 {
			delete(merged, qid)
			continue
		}
		merged[qid] = vals
	}
	return merged
}

// Split separates the questions being set from the ones being cleared.
func (r Responses) Split() (set Responses, cleared []string) {
	set = make(Responses, len(r))
	for qid, vals := range r {
		if len(vals) == 0 {
			cleared = append(cleared, qid)
		} else {
			set[qid] = vals
		}
	}
	sort.Strings(cleared)
	return set, cleared
}

func (r Responses) Clone() Responses {
	return r.Merge(nil)
}

type Attempt struct {
	ID             string            `json:"id"`
	QuizID         int64             `json:"quiz"`
	CandidateEmail string            `json:"candidate_email"`
	CandidateName  string            `json:"candidate_name"`
	Questionnaire  map[string]string `json:"questionnaire_data"`
	Status         Status            `json:"status"`
	StartedAt      time.Time         `json:"start_time"`
	EndsAt         time.Time         `json:"end_time"`
	SubmittedAt    *time.Time        `json:"submitted_at"`
	Responses      Responses         `json:"responses"`
	Score          *float64          `json:"score"`
	Violation      string            `json:"violation,omitempty"`
	TimeLeft       int64             `json:"time_left"` // seconds, computed
}

// TimeLeftAt returns the whole seconds left at t: max(0, duration - (t - start)). 0 once terminal.
func (a Attempt) TimeLeftAt(t time.Time) int64 {
	if a.Status != StatusOngoing {
		return 0
	}
	left := a.EndsAt.Sub(t)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}

// Expired reports whether an ongoing attempt ran out of time at t.
func (a Attempt) Expired(t time.Time) bool {
	return a.Status == StatusOngoing && !t.Before(a.EndsAt)
}

func (a Attempt) withTimeLeft(t time.Time) Attempt {
	a.TimeLeft = a.TimeLeftAt(t)
	return a
}

func (a Attempt) Result() Result {
	return Result{Status: a.Status, Score: a.Score}
}

// Result is the outcome of a submission.
type Result struct {
	Status Status   `json:"status"`
	Score  *float64 `json:"score"`
}

// Ack acknowledges saved responses.
type Ack struct {
	Status   string `json:"status"`
	TimeLeft int64  `json:"time_left"`
}

// NewAttempt is what a candidate provides when starting a quiz.
type NewAttempt struct {
	Email         string            `json:"email" validate:"required,email,max=254"`
	Name          string            `json:"name" validate:"max=200"`
	Questionnaire map[string]string `json:"questionnaire" validate:"max=50,dive,keys,max=100,endkeys,max=2000"`
}

func (na *NewAttempt) Clean() {
	na.Email = core.CleanString(na.Email, true /* lower */)
	na.Name = core.CleanString(na.Name)
	for k, v := range na.Questionnaire {
		na.Questionnaire[k] = strings.TrimSpace(v)
	}
}

// Submission is what a candidate provides when submitting.
type Submission struct {
	Disqualified bool   `json:"disqualified"`
	Reason       string `json:"reason" validate:"max=100"`
}

type AttemptFilter struct {
	QuizID int64  `query:"quiz"`
	Status Status `query:"status"`
	Search string `query:"search"`
}

func (af *AttemptFilter) Clean() {
	af.Search = core.CleanString(af.Search)
	af.Status = Status(strings.ToUpper(core.CleanString(string(af.Status))))
}

func (af *AttemptFilter) Matches(a Attempt) bool {
	if af == nil {
		return true
	}
	if af.QuizID != 0 && a.QuizID != af.QuizID {
		return false
	}
	if af.Status != "" && a.Status != af.Status {
		return false
	}
	if af.Search != "" {
		s := strings.ToLower(af.Search)
		if !strings.Contains(a.CandidateEmail, s) && !strings.Contains(strings.ToLower(a.CandidateName), s) {
			return false
		}
	}
	return true
}
