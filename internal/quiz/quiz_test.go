package quiz

import "testing"

func TestValidateCatchesBadShapes(t *testing.T) {
	base := Question{
		ID:             "q1",
		Type:           TypeSingle,
		Prompt:         "2+2?",
		Options:        []string{"3", "4", "5", "22"},
		CorrectAnswers: []int{1},
	}
	if err := base.Validate(); err != nil {
		t.Fatal(err)
	}

	cases := map[string]func(q Question) Question{
		"empty prompt":      func(q Question) Question { q.Prompt = " "; return q },
		"unknown type":      func(q Question) Question { q.Type = "essay"; return q },
		"one option":        func(q Question) Question { q.Options = q.Options[:1]; return q },
		"no answers":        func(q Question) Question { q.CorrectAnswers = nil; return q },
		"index out of range": func(q Question) Question { q.CorrectAnswers = []int{4}; return q },
		"negative index":    func(q Question) Question { q.CorrectAnswers = []int{-1}; return q },
		"single with two": func(q Question) Question {
			q.CorrectAnswers = []int{0, 1}
			return q
		},
		"duplicate index": func(q Question) Question {
			q.Type = TypeMultiple
			q.CorrectAnswers = []int{1, 1}
			return q
		},
	}
	for name, mutate := range cases {
		if err := mutate(base).Validate(); err == nil {
			t.Errorf("%s: validated", name)
		}
	}
}

func TestValidateAllFillsDefaults(t *testing.T) {
	qs, err := ValidateAll([]Question{
		{Prompt: "a?", Options: []string{"x", "y"}, CorrectAnswers: []int{0}},
		{Prompt: "b?", Options: []string{"x", "y"}, CorrectAnswers: []int{1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if qs[0].ID != "q1" || qs[1].ID != "q2" {
		t.Fatalf("ids not assigned: %q %q", qs[0].ID, qs[1].ID)
	}
	if qs[0].Type != TypeSingle {
		t.Fatalf("type default: %q", qs[0].Type)
	}
}

func TestGradeMultipleIsOrderIndependent(t *testing.T) {
	q := Question{
		ID:             "q1",
		Type:           TypeMultiple,
		Prompt:         "pick the primes",
		Options:        []string{"2", "4", "5", "9"},
		CorrectAnswers: []int{0, 2},
	}
	if !Grade(q, []int{2, 0}).Correct {
		t.Fatal("[2,0] should equal [0,2]")
	}
	if Grade(q, []int{0}).Correct {
		t.Fatal("partial selection graded correct")
	}
	if Grade(q, []int{0, 2, 3}).Correct {
		t.Fatal("superset graded correct")
	}
}

func TestGradeDeduplicatesSelection(t *testing.T) {
	q := Question{
		ID:             "q1",
		Type:           TypeMultiple,
		Prompt:         "pick the primes",
		Options:        []string{"2", "4", "5", "9"},
		CorrectAnswers: []int{0, 2},
	}
	// a repeated index must not pad the selection up to the set size
	if Grade(q, []int{0, 0}).Correct {
		t.Fatal("[0,0] graded correct against [0,2]")
	}
	if Grade(q, []int{2, 2, 2}).Correct {
		t.Fatal("[2,2,2] graded correct against [0,2]")
	}
	// repeats of a complete selection stay correct
	if !Grade(q, []int{0, 2, 2}).Correct {
		t.Fatal("[0,2,2] is the full set, should grade correct")
	}

	single := Question{
		ID:             "q2",
		Type:           TypeSingle,
		Prompt:         "2+2?",
		Options:        []string{"3", "4"},
		CorrectAnswers: []int{1},
	}
	if Grade(single, []int{1, 1}).Correct != true || Grade(single, []int{0, 0}).Correct {
		t.Fatal("single choice dedup broken")
	}
}

func TestScore(t *testing.T) {
	qs := []Question{
		{ID: "q1", Type: TypeSingle, Prompt: "a?", Options: []string{"x", "y"}, CorrectAnswers: []int{1}},
		{ID: "q2", Type: TypeSingle, Prompt: "b?", Options: []string{"x", "y"}, CorrectAnswers: []int{0}},
	}
	correct, pct, results := Score(qs, map[string][]int{"q1": {1}, "q2": {1}})
	if correct != 1 || pct != 50 {
		t.Fatalf("correct=%d pct=%v", correct, pct)
	}
	if !results[0].Correct || results[1].Correct {
		t.Fatalf("results: %+v", results)
	}

	// unanswered questions count wrong
	correct, _, _ = Score(qs, nil)
	if correct != 0 {
		t.Fatalf("unanswered scored %d", correct)
	}
}

func TestParseQuiz(t *testing.T) {
	raw := []byte(`[{"question":"2+2?","options":["3","4"],"correct_answers":[1]}]`)
	qs, err := ParseQuiz(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 1 || qs[0].ID != "q1" {
		t.Fatalf("parsed: %+v", qs)
	}

	if _, err := ParseQuiz([]byte(`{"not":"a list"}`)); err == nil {
		t.Fatal("object accepted as quiz")
	}
	if qs, err := ParseQuiz(nil); err != nil || qs != nil {
		t.Fatalf("empty input: %v %v", qs, err)
	}
}
