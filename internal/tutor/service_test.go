package tutor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/edgelearn/lti-tutor/internal/db"
	"github.com/edgelearn/lti-tutor/internal/quiz"
)

type fakeProvider struct {
	reply string
	err   error
	seen  [][]Turn
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, turns []Turn) (string, error) {
	cp := make([]Turn, len(turns))
	copy(cp, turns)
	f.seen = append(f.seen, cp)
	return f.reply, f.err
}

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(context.Background(), db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func testService(t *testing.T, p Provider) (*Service, *Store) {
	t.Helper()
	d := testDB(t)
	store := NewStore(d)
	return &Service{Provider: p, Store: store, Memory: NewMemoryStore(d)}, store
}

func startSession(t *testing.T, store *Store) Session {
	t.Helper()
	sess, err := store.StartSession(context.Background(), "user-42", "course-9", "link-3", "fractions")
	if err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestChatRecordsBothSides(t *testing.T) {
	fp := &fakeProvider{reply: "Think about the denominator."}
	svc, store := testService(t, fp)
	sess := startSession(t, store)
	ctx := context.Background()

	out, err := svc.Chat(ctx, ChatInput{
		SessionID:   sess.ID,
		UserID:      "user-42",
		ContextID:   "course-9",
		ResourceID:  "link-3",
		CourseTitle: "Algebra",
		TutorPrompt: "Focus on fractions.",
		Message:     "How do I add 1/2 and 1/3?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Fallback || out.Reply != "Think about the denominator." {
		t.Fatalf("output: %+v", out)
	}

	msgs, err := store.SessionMessages(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Fatalf("transcript: %+v", msgs)
	}

	sys := fp.seen[0][0]
	if sys.Role != RoleSystem || !strings.Contains(sys.Content, "Focus on fractions.") {
		t.Fatalf("system prompt missing instructor instructions: %q", sys.Content)
	}
	if !strings.Contains(sys.Content, "Algebra") {
		t.Fatal("system prompt missing course title")
	}
}

func TestChatFallsBackWhenBackendDown(t *testing.T) {
	fp := &fakeProvider{err: errors.New("connection refused")}
	svc, store := testService(t, fp)
	sess := startSession(t, store)

	out, err := svc.Chat(context.Background(), ChatInput{
		SessionID: sess.ID, UserID: "user-42", Message: "hello?",
	})
	if err != nil {
		t.Fatalf("backend failure surfaced as error: %v", err)
	}
	if !out.Fallback || out.Reply != fallbackReply {
		t.Fatalf("output: %+v", out)
	}

	msgs, _ := store.SessionMessages(context.Background(), sess.ID)
	if len(msgs) != 2 || msgs[1].Type != MessageFallback {
		t.Fatalf("fallback not recorded: %+v", msgs)
	}
}

func TestChatHistoryWindow(t *testing.T) {
	fp := &fakeProvider{reply: "ok"}
	svc, store := testService(t, fp)
	svc.HistoryLimit = 4
	sess := startSession(t, store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Chat(ctx, ChatInput{SessionID: sess.ID, UserID: "u", Message: "ping"}); err != nil {
			t.Fatal(err)
		}
	}
	last := fp.seen[len(fp.seen)-1]
	// one system turn plus at most HistoryLimit conversation turns
	if got := len(last) - 1; got != 4 {
		t.Fatalf("sent %d history turns, want 4", got)
	}
	// the newest user message must be the final turn
	if last[len(last)-1].Role != RoleUser || last[len(last)-1].Content != "ping" {
		t.Fatalf("last turn: %+v", last[len(last)-1])
	}
}

type fakeRecorder struct {
	attempts []float64
	correct  []bool
}

func (f *fakeRecorder) RecordAttempt(_ context.Context, _, _, _ string, score float64, correct bool) error {
	f.attempts = append(f.attempts, score)
	f.correct = append(f.correct, correct)
	return nil
}

func TestAnalyzeAnswerModelVerdict(t *testing.T) {
	fp := &fakeProvider{reply: "```json\n{\"is_correct\": true, \"score\": 90, \"feedback\": \"Nice.\"}\n```"}
	svc, store := testService(t, fp)
	rec := &fakeRecorder{}
	svc.Analytics = rec
	ctx := context.Background()

	in := ChatInput{UserID: "user-42", ContextID: "course-9", ResourceID: "link-3", CourseTitle: "Algebra"}
	v, err := svc.AnalyzeAnswer(ctx, in, "q1", "What is a prime?", "only divisible by 1 and itself", "a number with exactly two divisors")
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsCorrect || v.Score != 90 {
		t.Fatalf("verdict: %+v", v)
	}

	responses, err := store.QuizResponses(ctx, "user-42", "link-3")
	if err != nil {
		t.Fatal(err)
	}
	if len(responses) != 1 || !responses[0].IsCorrect || responses[0].AIFeedback != "Nice." {
		t.Fatalf("recorded response: %+v", responses)
	}
	if len(rec.attempts) != 1 || rec.attempts[0] != 90 {
		t.Fatalf("analytics: %+v", rec.attempts)
	}
}

func TestAnalyzeAnswerDeterministicFallback(t *testing.T) {
	fp := &fakeProvider{err: errors.New("down")}
	svc, store := testService(t, fp)
	ctx := context.Background()
	in := ChatInput{UserID: "user-42", ResourceID: "link-3"}

	v, err := svc.AnalyzeAnswer(ctx, in, "q1", "Capital of France?", "  PARIS ", "Paris")
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsCorrect || v.Score != 100 {
		t.Fatalf("fallback verdict: %+v", v)
	}

	v, err = svc.AnalyzeAnswer(ctx, in, "q1", "Capital of France?", "Lyon", "Paris")
	if err != nil {
		t.Fatal(err)
	}
	if v.IsCorrect || v.Score != 0 {
		t.Fatalf("fallback verdict: %+v", v)
	}
	if responses, _ := store.QuizResponses(ctx, "user-42", "link-3"); len(responses) != 2 {
		t.Fatalf("responses: %d", len(responses))
	}
}

func TestGenerateQuiz(t *testing.T) {
	fp := &fakeProvider{reply: `Here you go:
[{"question":"2+2?","options":["3","4"],"correct_answer":1,"explanation":"sum"},
 {"question":"pick evens","type":"multiple","options":["1","2","4"],"correct_answers":[1,2]}]`}
	svc, _ := testService(t, fp)

	qs, err := svc.GenerateQuiz(context.Background(), "arithmetic", "easy", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 2 {
		t.Fatalf("got %d questions", len(qs))
	}
	if qs[0].Type != quiz.TypeSingle || len(qs[0].CorrectAnswers) != 1 || qs[0].CorrectAnswers[0] != 1 {
		t.Fatalf("singular correct_answer not normalized: %+v", qs[0])
	}
	if qs[1].Type != quiz.TypeMultiple {
		t.Fatalf("type lost: %+v", qs[1])
	}

	fp.reply = `[{"question":"broken","options":["a"],"correct_answers":[5]}]`
	if _, err := svc.GenerateQuiz(context.Background(), "x", "easy", 1); err == nil {
		t.Fatal("invalid generated quiz accepted")
	}

	fp.reply, fp.err = "", ErrQuotaExceeded
	if _, err := svc.GenerateQuiz(context.Background(), "x", "easy", 1); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("quota error not passed through: %v", err)
	}
}

func TestMemoryEMAAndPromptInjection(t *testing.T) {
	d := testDB(t)
	mem := NewMemoryStore(d)
	ctx := context.Background()

	m, err := mem.RecordQuizScore(ctx, "user-42", "link-3", 80)
	if err != nil {
		t.Fatal(err)
	}
	if *m.AvgQuizScore != 80 {
		t.Fatalf("first score seeds average, got %v", *m.AvgQuizScore)
	}
	m, err = mem.RecordQuizScore(ctx, "user-42", "link-3", 50)
	if err != nil {
		t.Fatal(err)
	}
	if got := *m.AvgQuizScore; got != 0.7*80+0.3*50 {
		t.Fatalf("EMA: got %v", got)
	}

	// a chat after quiz history mentions the average in the system prompt
	fp := &fakeProvider{reply: "ok"}
	store := NewStore(d)
	svc := &Service{Provider: fp, Store: store, Memory: mem}
	sess, err := store.StartSession(ctx, "user-42", "course-9", "link-3", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Chat(ctx, ChatInput{SessionID: sess.ID, UserID: "user-42", ResourceID: "link-3", Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(fp.seen[0][0].Content, "Average quiz score: 71%") {
		t.Fatalf("memory not injected:\n%s", fp.seen[0][0].Content)
	}
}

func TestCompressSessionBestEffort(t *testing.T) {
	d := testDB(t)
	mem := NewMemoryStore(d)
	ctx := context.Background()
	transcript := []Message{
		{Role: RoleUser, Content: "what is a fraction"},
		{Role: RoleAssistant, Content: "a part of a whole"},
	}

	fp := &fakeProvider{reply: `{"summary":"Worked on fractions.","topics":["fractions"],"weak_areas":["common denominators"],"strong_areas":[]}`}
	m, err := mem.CompressSession(ctx, fp, "user-42", "link-3", transcript)
	if err != nil {
		t.Fatal(err)
	}
	if m.Summary != "Worked on fractions." || m.SessionCount != 1 || m.TotalMessages != 2 {
		t.Fatalf("memory: %+v", m)
	}

	// provider failure still bumps counters and keeps the old summary
	fp.err = errors.New("down")
	m, err = mem.CompressSession(ctx, fp, "user-42", "link-3", transcript)
	if err != nil {
		t.Fatal(err)
	}
	if m.SessionCount != 2 || m.Summary != "Worked on fractions." {
		t.Fatalf("memory after failure: %+v", m)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```":          `{"a":1}`,
		"Sure! Here it is: [1,2,3] done.": `[1,2,3]`,
		`{"a":1}`:                         `{"a":1}`,
	}
	for in, want := range cases {
		if got := extractJSON(in); got != want {
			t.Errorf("extractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}
