package resource

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/edgelearn/lti-tutor/internal/db"
	"github.com/edgelearn/lti-tutor/internal/quiz"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.Open(context.Background(), db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return NewStore(d)
}

func sampleQuiz() []quiz.Question {
	return []quiz.Question{{
		ID:             "q1",
		Type:           quiz.TypeSingle,
		Prompt:         "2+2?",
		Options:        []string{"3", "4"},
		CorrectAnswers: []int{1},
		Explanation:    "arithmetic",
	}}
}

func TestGetReturnsDefaultWhenUnset(t *testing.T) {
	s := testStore(t)
	c, err := s.Get(context.Background(), "link-1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Mode != ModeTutor || c.TutorPrompt != "" || len(c.Quiz) != 0 {
		t.Fatalf("default config: %+v", c)
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, Config{
		ResourceID:  "link-1",
		Mode:        ModeQuiz,
		TutorPrompt: "be gentle",
		Quiz:        sampleQuiz(),
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "link-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Mode != ModeQuiz || got.TutorPrompt != "be gentle" {
		t.Fatalf("round trip: %+v", got)
	}
	if !reflect.DeepEqual(got.Quiz, saved.Quiz) {
		t.Fatalf("quiz changed across round trip:\n%+v\n%+v", got.Quiz, saved.Quiz)
	}

	// last write wins
	if _, err := s.Save(ctx, Config{ResourceID: "link-1", Mode: ModeTutor}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, "link-1")
	if got.Mode != ModeTutor || len(got.Quiz) != 0 {
		t.Fatalf("second save not applied: %+v", got)
	}
}

func TestSaveRejectsMalformed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, Config{ResourceID: "link-1", Mode: "exam"}); err == nil {
		t.Fatal("unknown mode accepted")
	}
	bad := sampleQuiz()
	bad[0].CorrectAnswers = []int{7}
	if _, err := s.Save(ctx, Config{ResourceID: "link-1", Mode: ModeQuiz, Quiz: bad}); err == nil {
		t.Fatal("out of range answer accepted")
	}
	// nothing persisted by the failed saves
	c, _ := s.Get(ctx, "link-1")
	if c.Mode != ModeTutor {
		t.Fatalf("failed save leaked state: %+v", c)
	}
}

func TestTemplates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	shared, err := s.CreateTemplate(ctx, Template{Name: "Default quiz", Mode: ModeQuiz, Quiz: sampleQuiz()})
	if err != nil {
		t.Fatal(err)
	}
	scoped, err := s.CreateTemplate(ctx, Template{Name: "Course only", ContextID: "course-9", Mode: ModeTutor})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTemplate(ctx, Template{Name: "Other course", ContextID: "course-X"}); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListTemplates(ctx, "course-9")
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, tpl := range list {
		ids[tpl.ID] = true
	}
	if !ids[shared.ID] || !ids[scoped.ID] || len(list) != 2 {
		t.Fatalf("list for course-9: %+v", list)
	}

	if err := s.DeleteTemplate(ctx, scoped.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTemplate(ctx, scoped.ID); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestApplyTemplateMatchesDirectSave(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tpl, err := s.CreateTemplate(ctx, Template{
		Name:        "Snapshot",
		Mode:        ModeQuiz,
		TutorPrompt: "strict grader",
		Quiz:        sampleQuiz(),
	})
	if err != nil {
		t.Fatal(err)
	}

	// link-a had a different config before apply
	if _, err := s.Save(ctx, Config{ResourceID: "link-a", Mode: ModeTutor, TutorPrompt: "old"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ApplyTemplate(ctx, tpl.ID, "link-a"); err != nil {
		t.Fatal(err)
	}
	direct, err := s.Save(ctx, Config{
		ResourceID:  "link-b",
		Mode:        ModeQuiz,
		TutorPrompt: "strict grader",
		Quiz:        sampleQuiz(),
	})
	if err != nil {
		t.Fatal(err)
	}

	a, _ := s.Get(ctx, "link-a")
	b, _ := s.Get(ctx, "link-b")
	a.ResourceID, b.ResourceID = "", ""
	a.UpdatedAt, b.UpdatedAt = direct.UpdatedAt, direct.UpdatedAt
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("applied config differs from direct save:\n%+v\n%+v", a, b)
	}

	if _, err := s.ApplyTemplate(ctx, "missing", "link-a"); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("missing template: %v", err)
	}
}
