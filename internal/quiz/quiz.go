package quiz

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Question types. Single expects exactly one correct option; multiple any
// non-empty subset.
const (
	TypeSingle   = "single"
	TypeMultiple = "multiple"
)

// Question is one quiz item as stored in a resource config or produced by
// the generator.
type Question struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	Prompt         string   `json:"question"`
	Options        []string `json:"options"`
	CorrectAnswers []int    `json:"correct_answers"`
	Explanation    string   `json:"explanation,omitempty"`
}

// Validate rejects malformed questions at the save boundary so graders and
// the student UI never see an inconsistent shape.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Errorf("question %q: empty prompt", q.ID)
	}
	switch q.Type {
	case TypeSingle, TypeMultiple:
	default:
		return fmt.Errorf("question %q: unknown type %q", q.ID, q.Type)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question %q: needs at least 2 options", q.ID)
	}
	if len(q.CorrectAnswers) == 0 {
		return fmt.Errorf("question %q: no correct answers", q.ID)
	}
	if q.Type == TypeSingle && len(q.CorrectAnswers) != 1 {
		return fmt.Errorf("question %q: single choice must have exactly one answer", q.ID)
	}
	seen := make(map[int]bool, len(q.CorrectAnswers))
	for _, i := range q.CorrectAnswers {
		if i < 0 || i >= len(q.Options) {
			return fmt.Errorf("question %q: answer index %d out of range", q.ID, i)
		}
		if seen[i] {
			return fmt.Errorf("question %q: duplicate answer index %d", q.ID, i)
		}
		seen[i] = true
	}
	return nil
}

// ValidateAll checks every question and assigns sequential ids to those
// missing one.
func ValidateAll(qs []Question) ([]Question, error) {
	out := make([]Question, len(qs))
	for i, q := range qs {
		if strings.TrimSpace(q.ID) == "" {
			q.ID = fmt.Sprintf("q%d", i+1)
		}
		if q.Type == "" {
			q.Type = TypeSingle
		}
		if err := q.Validate(); err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// ParseQuiz decodes and validates a stored quiz JSON blob. Empty input is
// an empty quiz.
func ParseQuiz(raw []byte) ([]Question, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var qs []Question
	if err := json.Unmarshal(raw, &qs); err != nil {
		return nil, fmt.Errorf("quiz json: %w", err)
	}
	return ValidateAll(qs)
}

// Result is one graded answer.
type Result struct {
	QuestionID string `json:"question_id"`
	Correct    bool   `json:"correct"`
}

// Grade scores a selection against a question. Order of selected indices
// never matters; multiple choice requires the exact answer set.
func Grade(q Question, selected []int) Result {
	return Result{QuestionID: q.ID, Correct: sameSet(q.CorrectAnswers, selected)}
}

// Score grades a full quiz and returns (correct count, percentage 0..100).
// answers maps question id to selected option indices.
func Score(qs []Question, answers map[string][]int) (int, float64, []Result) {
	results := make([]Result, 0, len(qs))
	correct := 0
	for _, q := range qs {
		r := Grade(q, answers[q.ID])
		if r.Correct {
			correct++
		}
		results = append(results, r)
	}
	if len(qs) == 0 {
		return 0, 0, results
	}
	return correct, 100 * float64(correct) / float64(len(qs)), results
}

// sameSet compares as sets: client-submitted selections may repeat an
// index, so b is deduplicated before the size check.
func sameSet(a, b []int) bool {
	want := make(map[int]bool, len(a))
	for _, v := range a {
		want[v] = true
	}
	got := make(map[int]bool, len(b))
	for _, v := range b {
		if !want[v] {
			return false
		}
		got[v] = true
	}
	return len(got) == len(want)
}
