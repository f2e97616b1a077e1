package quiz

import (
	"sort"
	"strconv"
	"strings"
)

// QuestionResult is the grading of one question of an attempt.
type QuestionResult struct {
	QuestionID int64        `json:"question"`
	Type       QuestionType `json:"question_type"`
	Selected   []string     `json:"selected"`
	Correct    []string     `json:"correct"`
	Awarded    float64      `json:"awarded"`
	IsCorrect  bool         `json:"is_correct"`
}

// Score sums the marks awarded for responses over the questions of a quiz. The total may be negative.
func Score(questions []Question, responses Responses) float64 {
	total, _ := Grade(questions, responses)
	return total
}

// Grade scores each question:
//   - choice questions: +Marks when the selected set equals the correct set,
//     -NegativeMarks when anything else is selected, 0 when nothing is;
//   - text questions: 0, they are left to manual grading.
//
// Responses for unknown questions are ignored.
func Grade(questions []Question, responses Responses) (float64, []QuestionResult) {
	var total float64
	results := make([]QuestionResult, 0, len(questions))

	for _, qn := range questions {
		selected := responses[strconv.FormatInt(qn.ID, 10)]
		if qn.Type.IsChoice() {
			selected = canonicalIDs(selected)
		}
		selected = dedupe(selected)
		res := QuestionResult{QuestionID: qn.ID, Type: qn.Type, Selected: selected}
		if !qn.Type.IsChoice() {
			results = append(results, res)
			continue
		}

		correct := make([]string, 0, 1)
		for _, opt := range qn.Options {
			if opt.IsCorrect {
				correct = append(correct, strconv.FormatInt(opt.ID, 10))
			}
		}
		sort.Strings(correct)
		res.Correct = correct

		switch {
		case len(selected) == 0:
		case equalSets(selected, correct):
			res.Awarded = qn.Marks
			res.IsCorrect = true
		default:
			res.Awarded = -qn.NegativeMarks
		}
		total += res.Awarded
		results = append(results, res)
	}
	return total, results
}

// canonicalIDs rewrites option ids in their canonical decimal form, so "03" and "3" are the same pick.
// Values that are not ids are kept as they are.
func canonicalIDs(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			v = strconv.FormatInt(id, 10)
		}
		out = append(out, v)
	}
	return out
}

// dedupe returns the sorted distinct non-empty values.
func dedupe(vals []string) []string {
	seen := make(map[string]struct{}, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// equalSets compares two sorted, deduplicated slices.
func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
