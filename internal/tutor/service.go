package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgelearn/lti-tutor/internal/metrics"
	"github.com/edgelearn/lti-tutor/internal/quiz"
)

// fallbackReply is served when the model backend is down. The student's
// message is still recorded so the transcript stays complete.
const fallbackReply = "Sorry, I'm having trouble thinking right now. Please try again in a moment."

const guardrails = `You are a patient tutor embedded in a course.
Guide the student toward the answer with questions and explanations.
Never just hand over solutions to graded work.
Stay on the course topic; politely decline unrelated requests.`

// Retriever supplies course-material snippets relevant to a message.
type Retriever interface {
	Retrieve(ctx context.Context, resourceID, query string, k int) ([]string, error)
}

// AttemptRecorder receives graded attempts for analytics.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, userID, contextID, topic string, score float64, correct bool) error
}

// Service runs the tutoring conversation flow on top of the model backend.
type Service struct {
	Provider  Provider
	Store     *Store
	Memory    *MemoryStore
	Retriever Retriever       // optional
	Analytics AttemptRecorder // optional
	Log       *zap.Logger

	HistoryLimit int // conversation turns sent upstream, default 10
}

func (s *Service) historyLimit() int {
	if s.HistoryLimit > 0 {
		return s.HistoryLimit
	}
	return 10
}

func (s *Service) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

// ChatInput carries everything the prompt builder needs for one exchange.
type ChatInput struct {
	SessionID   string
	UserID      string
	ContextID   string
	ResourceID  string
	CourseTitle string
	TutorPrompt string // instructor's per-resource instructions
	Message     string
}

// ChatOutput is the reply plus whether it was a degraded fallback.
type ChatOutput struct {
	Reply    string `json:"reply"`
	Fallback bool   `json:"fallback"`
}

// Chat records the student message, runs the model with recent history and
// retrieved course material, and records the reply. Backend failures
// degrade to a canned apology rather than an error.
func (s *Service) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	if strings.TrimSpace(in.Message) == "" {
		return ChatOutput{}, errors.New("empty message")
	}
	if _, err := s.Store.AppendMessage(ctx, in.SessionID, RoleUser, in.Message, MessageChat); err != nil {
		return ChatOutput{}, err
	}

	turns, err := s.buildTurns(ctx, in)
	if err != nil {
		return ChatOutput{}, err
	}

	start := time.Now()
	reply, err := s.Provider.Complete(ctx, turns)
	metrics.ChatLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues(s.Provider.Name(), "error").Inc()
		s.log().Warn("model backend failed, serving fallback",
			zap.String("provider", s.Provider.Name()), zap.Error(err))
		_, _ = s.Store.AppendMessage(ctx, in.SessionID, RoleAssistant, fallbackReply, MessageFallback)
		return ChatOutput{Reply: fallbackReply, Fallback: true}, nil
	}
	metrics.ProviderCallsTotal.WithLabelValues(s.Provider.Name(), "ok").Inc()

	if _, err := s.Store.AppendMessage(ctx, in.SessionID, RoleAssistant, reply, MessageChat); err != nil {
		return ChatOutput{}, err
	}
	return ChatOutput{Reply: reply}, nil
}

func (s *Service) buildTurns(ctx context.Context, in ChatInput) ([]Turn, error) {
	var sys strings.Builder
	sys.WriteString(guardrails)
	if in.CourseTitle != "" {
		sys.WriteString("\nCourse: " + in.CourseTitle)
	}
	if in.TutorPrompt != "" {
		sys.WriteString("\n\nInstructor instructions:\n" + in.TutorPrompt)
	}

	if s.Memory != nil {
		if mem, err := s.Memory.Get(ctx, in.UserID, in.ResourceID); err == nil {
			if pc := mem.PromptContext(); pc != "" {
				sys.WriteString("\n\n" + pc)
			}
		}
	}

	if s.Retriever != nil && in.ResourceID != "" {
		snippets, err := s.Retriever.Retrieve(ctx, in.ResourceID, in.Message, 3)
		if err != nil {
			s.log().Warn("retrieval failed", zap.Error(err))
		} else if len(snippets) > 0 {
			sys.WriteString("\n\nCourse material that may be relevant:\n")
			for _, sn := range snippets {
				sys.WriteString("---\n" + sn + "\n")
			}
		}
	}

	turns := []Turn{{Role: RoleSystem, Content: sys.String()}}
	history, err := s.Store.RecentMessages(ctx, in.SessionID, s.historyLimit())
	if err != nil {
		return nil, err
	}
	for _, m := range history {
		role := m.Role
		if role != RoleUser && role != RoleAssistant {
			continue
		}
		turns = append(turns, Turn{Role: role, Content: m.Content})
	}
	return turns, nil
}

// Welcome produces the session-opening message, personalized from adaptive
// memory for returning students. Falls back to a static greeting when the
// backend is down.
func (s *Service) Welcome(ctx context.Context, in ChatInput) (string, error) {
	sys := guardrails
	if in.TutorPrompt != "" {
		sys += "\n\nInstructor instructions:\n" + in.TutorPrompt
	}
	if s.Memory != nil {
		if mem, err := s.Memory.Get(ctx, in.UserID, in.ResourceID); err == nil {
			if pc := mem.PromptContext(); pc != "" {
				sys += "\n\n" + pc
			}
		}
	}
	prompt := "Greet the student and ask what they would like to work on. Two sentences at most."
	if in.CourseTitle != "" {
		prompt = fmt.Sprintf("Greet the student of %q and ask what they would like to work on. Two sentences at most.", in.CourseTitle)
	}
	reply, err := s.Provider.Complete(ctx, []Turn{
		{Role: RoleSystem, Content: sys},
		{Role: RoleUser, Content: prompt},
	})
	if err != nil {
		reply = "Hi! I'm your course tutor. What would you like to work on today?"
	}
	if _, err := s.Store.AppendMessage(ctx, in.SessionID, RoleAssistant, reply, MessageWelcome); err != nil {
		return "", err
	}
	return reply, nil
}

// PredictiveHint offers a study nudge for struggling students. Returns ""
// when the student is doing fine or has no history yet.
func (s *Service) PredictiveHint(ctx context.Context, userID, resourceID string) (string, error) {
	if s.Memory == nil {
		return "", nil
	}
	mem, err := s.Memory.Get(ctx, userID, resourceID)
	if err != nil {
		return "", err
	}
	struggling := mem.AvgQuizScore != nil && *mem.AvgQuizScore < 70
	if !struggling && len(mem.WeakAreas) == 0 {
		return "", nil
	}
	prompt := "Suggest, in one sentence, what this student should review next."
	reply, err := s.Provider.Complete(ctx, []Turn{
		{Role: RoleSystem, Content: guardrails + "\n\n" + mem.PromptContext()},
		{Role: RoleUser, Content: prompt},
	})
	if err != nil {
		if len(mem.WeakAreas) > 0 {
			return "It might help to review " + strings.Join(mem.WeakAreas, ", ") + " before continuing.", nil
		}
		return "", nil
	}
	return reply, nil
}

// Hint asks for a nudge on a quiz question without revealing the answer.
func (s *Service) Hint(ctx context.Context, q quiz.Question) (string, error) {
	prompt := fmt.Sprintf(
		"Give a one-sentence hint for this question without revealing the answer.\nQuestion: %s\nOptions: %s",
		q.Prompt, strings.Join(q.Options, " | "))
	reply, err := s.Provider.Complete(ctx, []Turn{
		{Role: RoleSystem, Content: guardrails},
		{Role: RoleUser, Content: prompt},
	})
	if err != nil {
		return "Re-read the question carefully and eliminate the options that clearly cannot be right.", nil
	}
	return reply, nil
}

// Verdict is the structured grading of a free-text answer.
type Verdict struct {
	IsCorrect        bool     `json:"is_correct"`
	Score            float64  `json:"score"`
	Feedback         string   `json:"feedback"`
	Hints            []string `json:"hints,omitempty"`
	ConceptsToReview []string `json:"concepts_to_review,omitempty"`
	Encouragement    string   `json:"encouragement,omitempty"`
}

const analyzePrompt = `Grade the student's answer.
Reply with JSON only:
{"is_correct": true|false, "score": 0-100, "feedback": "one or two sentences",
 "hints": ["..."], "concepts_to_review": ["..."], "encouragement": "..."}.`

// AnalyzeAnswer grades a free-text answer with the model, records the quiz
// response and feeds analytics. When the backend is down, grading falls
// back to a case-insensitive comparison against the reference answer.
func (s *Service) AnalyzeAnswer(ctx context.Context, in ChatInput, questionID, questionText, studentAnswer, referenceAnswer string) (Verdict, error) {
	v, err := s.modelVerdict(ctx, questionText, studentAnswer, referenceAnswer)
	if err != nil {
		correct := strings.EqualFold(strings.TrimSpace(studentAnswer), strings.TrimSpace(referenceAnswer))
		v = Verdict{IsCorrect: correct, Feedback: "Compared against the reference answer."}
		if correct {
			v.Score = 100
		}
	}

	_, recErr := s.Store.RecordQuizResponse(ctx, QuizResponse{
		UserID:        in.UserID,
		ContextID:     in.ContextID,
		ResourceID:    in.ResourceID,
		QuestionID:    questionID,
		QuestionText:  questionText,
		StudentAnswer: studentAnswer,
		CorrectAnswer: referenceAnswer,
		IsCorrect:     v.IsCorrect,
		AIFeedback:    v.Feedback,
		Score:         v.Score,
	})
	if recErr != nil {
		return Verdict{}, recErr
	}
	if s.Analytics != nil {
		topic := in.CourseTitle
		if topic == "" {
			topic = in.ResourceID
		}
		if err := s.Analytics.RecordAttempt(ctx, in.UserID, in.ContextID, topic, v.Score, v.IsCorrect); err != nil {
			s.log().Warn("analytics update failed", zap.Error(err))
		}
	}
	return v, nil
}

func (s *Service) modelVerdict(ctx context.Context, question, answer, reference string) (Verdict, error) {
	user := fmt.Sprintf("Question: %s\nReference answer: %s\nStudent answer: %s", question, reference, answer)
	reply, err := s.Provider.Complete(ctx, []Turn{
		{Role: RoleSystem, Content: analyzePrompt},
		{Role: RoleUser, Content: user},
	})
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues(s.Provider.Name(), "error").Inc()
		return Verdict{}, err
	}
	metrics.ProviderCallsTotal.WithLabelValues(s.Provider.Name(), "ok").Inc()

	var v Verdict
	if err := json.Unmarshal([]byte(extractJSON(reply)), &v); err != nil {
		return Verdict{}, fmt.Errorf("verdict parse: %w", err)
	}
	if v.Score < 0 {
		v.Score = 0
	}
	if v.Score > 100 {
		v.Score = 100
	}
	return v, nil
}

const generatePrompt = `Write multiple-choice quiz questions.
Reply with JSON only: a list of objects
{"question": "...", "type": "single", "options": ["..."], "correct_answers": [0], "explanation": "..."}.
Indices in correct_answers are zero-based positions in options.`

// GenerateQuiz asks the model for count questions on topic and validates
// the result. Quota errors pass through as ErrQuotaExceeded.
func (s *Service) GenerateQuiz(ctx context.Context, topic, difficulty string, count int) ([]quiz.Question, error) {
	if count <= 0 {
		count = 5
	}
	if count > 20 {
		count = 20
	}
	user := fmt.Sprintf("Topic: %s\nDifficulty: %s\nNumber of questions: %d", topic, difficulty, count)
	reply, err := s.Provider.Complete(ctx, []Turn{
		{Role: RoleSystem, Content: generatePrompt},
		{Role: RoleUser, Content: user},
	})
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues(s.Provider.Name(), "error").Inc()
		return nil, err
	}
	metrics.ProviderCallsTotal.WithLabelValues(s.Provider.Name(), "ok").Inc()

	var raw []struct {
		Question      string   `json:"question"`
		Type          string   `json:"type"`
		Options       []string `json:"options"`
		Correct       []int    `json:"correct_answers"`
		CorrectSingle *int     `json:"correct_answer"`
		Explanation   string   `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &raw); err != nil {
		return nil, fmt.Errorf("quiz generation parse: %w", err)
	}

	qs := make([]quiz.Question, 0, len(raw))
	for _, r := range raw {
		answers := r.Correct
		// some models answer with the older singular field
		if len(answers) == 0 && r.CorrectSingle != nil {
			answers = []int{*r.CorrectSingle}
		}
		qs = append(qs, quiz.Question{
			Type:           r.Type,
			Prompt:         r.Question,
			Options:        r.Options,
			CorrectAnswers: answers,
			Explanation:    r.Explanation,
		})
	}
	out, err := quiz.ValidateAll(qs)
	if err != nil {
		return nil, fmt.Errorf("generated quiz invalid: %w", err)
	}
	return out, nil
}

// extractJSON pulls the first JSON value out of a model reply, tolerating
// markdown fences and surrounding prose.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	if end := strings.LastIndexByte(s, close); end > start {
		return s[start : end+1]
	}
	return s[start:]
}
