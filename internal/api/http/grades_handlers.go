package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/edgelearn/lti-tutor/internal/ags"
	"github.com/edgelearn/lti-tutor/internal/metrics"
	"github.com/edgelearn/lti-tutor/internal/quiz"
	"github.com/edgelearn/lti-tutor/internal/resource"
	"github.com/edgelearn/lti-tutor/internal/tutor"
)

// studentQuestion is a Question with grading material removed.
type studentQuestion struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Prompt  string   `json:"question"`
	Options []string `json:"options"`
}

// handleQuizGet serves the quiz for the launched resource without answers
// or explanations.
func (s *Server) handleQuizGet(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	cfg, err := s.Resources.Get(r.Context(), sess.ResourceLinkID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config_store", "could not load resource config")
		return
	}
	out := make([]studentQuestion, 0, len(cfg.Quiz))
	for _, q := range cfg.Quiz {
		out = append(out, studentQuestion{ID: q.ID, Type: q.Type, Prompt: q.Prompt, Options: q.Options})
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": cfg.Mode, "questions": out})
}

func (s *Server) handleQuizHint(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	var req struct {
		QuestionID string `json:"question_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.QuestionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "question_id required")
		return
	}
	cfg, err := s.Resources.Get(r.Context(), sess.ResourceLinkID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config_store", "could not load resource config")
		return
	}
	for _, q := range cfg.Quiz {
		if q.ID == req.QuestionID {
			hint, err := s.Tutor.Hint(r.Context(), q)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "hint_failed", "could not build hint")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"hint": hint})
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "unknown question")
}

// handleGradesCheck tells the frontend whether the submit button should
// promise a gradebook entry.
func (s *Server) handleGradesCheck(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	writeJSON(w, http.StatusOK, map[string]bool{
		"is_gradeable":   sess.Gradeable(),
		"has_ags_config": sess.LineItemURL != "",
	})
}

// handleGradesSubmit grades the quiz, records responses, folds the score
// into adaptive memory and analytics, and pushes it to the gradebook. A
// failed push is reported in the payload, never as an HTTP error; the local
// record stands either way.
func (s *Server) handleGradesSubmit(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	var req struct {
		Answers map[string][]int `json:"answers"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Answers == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "answers required")
		return
	}

	cfg, err := s.Resources.Get(r.Context(), sess.ResourceLinkID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config_store", "could not load resource config")
		return
	}
	if cfg.Mode != resource.ModeQuiz || len(cfg.Quiz) == 0 {
		writeError(w, http.StatusConflict, "not_quiz_mode", "this resource has no quiz")
		return
	}

	correct, pct, results := quiz.Score(cfg.Quiz, req.Answers)

	for i, q := range cfg.Quiz {
		score := 0.0
		if results[i].Correct {
			score = 100
		}
		if _, err := s.TutorStore.RecordQuizResponse(r.Context(), tutor.QuizResponse{
			UserID:        sess.User.Subject,
			ContextID:     sess.ContextID,
			ResourceID:    sess.ResourceLinkID,
			QuestionID:    q.ID,
			QuestionText:  q.Prompt,
			StudentAnswer: answerText(q, req.Answers[q.ID]),
			CorrectAnswer: answerText(q, q.CorrectAnswers),
			IsCorrect:     results[i].Correct,
			Score:         score,
		}); err != nil {
			writeError(w, http.StatusInternalServerError, "tutor_store", "could not record responses")
			return
		}
	}

	if _, err := s.Memory.RecordQuizScore(r.Context(), sess.User.Subject, sess.ResourceLinkID, pct); err != nil {
		s.log().Warn("memory quiz score update failed", zap.Error(err))
	}
	topic := sess.ResourceLinkTitle
	if topic == "" {
		topic = sess.ResourceLinkID
	}
	if err := s.Analytics.RecordAttempt(r.Context(), sess.User.Subject, sess.ContextID, topic, pct, pct >= 70); err != nil {
		s.log().Warn("analytics update failed", zap.Error(err))
	}

	outcome, err := s.AGS.SubmitScore(r.Context(), ags.Target{
		LineItemURL: sess.LineItemURL,
		Scopes:      sess.AGSScopes,
		UserID:      sess.User.Subject,
	}, pct, 100, fmt.Sprintf("%d/%d correct", correct, len(cfg.Quiz)))
	switch {
	case err == nil:
		metrics.GradeSyncTotal.WithLabelValues("sent").Inc()
	case errors.Is(err, ags.ErrNotGradable):
		metrics.GradeSyncTotal.WithLabelValues("skipped").Inc()
	default:
		metrics.GradeSyncTotal.WithLabelValues("failed").Inc()
		s.log().Warn("grade sync failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sent":         outcome.Sent,
		"detail":       outcome.Detail,
		"score":        pct,
		"max_score":    100,
		"correct":      correct,
		"total":        len(cfg.Quiz),
		"results":      results,
		"is_gradeable": sess.Gradeable(),
	})
}

func answerText(q quiz.Question, selected []int) string {
	if len(selected) == 0 {
		return ""
	}
	parts := make([]string, 0, len(selected))
	for _, i := range selected {
		if i >= 0 && i < len(q.Options) {
			parts = append(parts, q.Options[i])
		}
	}
	return strings.Join(parts, "; ")
}
