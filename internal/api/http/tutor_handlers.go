package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/edgelearn/lti-tutor/internal/tutor"
)

func (s *Server) handleTutorStart(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	var req struct {
		Topic string `json:"topic"`
	}
	_ = decodeJSON(r, &req) // topic is optional

	ts, err := s.TutorStore.StartSession(r.Context(), sess.User.Subject, sess.ContextID, sess.ResourceLinkID, req.Topic)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tutor_store", "could not start session")
		return
	}

	cfg, err := s.Resources.Get(r.Context(), sess.ResourceLinkID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config_store", "could not load resource config")
		return
	}
	welcome, err := s.Tutor.Welcome(r.Context(), tutor.ChatInput{
		SessionID:   ts.ID,
		UserID:      sess.User.Subject,
		ContextID:   sess.ContextID,
		ResourceID:  sess.ResourceLinkID,
		CourseTitle: sess.ContextTitle,
		TutorPrompt: cfg.TutorPrompt,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tutor_store", "could not record welcome")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": ts, "welcome": welcome})
}

func (s *Server) handleTutorList(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	list, err := s.TutorStore.ListSessions(r.Context(), sess.User.Subject, sess.ContextID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tutor_store", "could not list sessions")
		return
	}
	if list == nil {
		list = []tutor.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ownedTutorSession loads the path session and checks it belongs to the
// caller. Instructors may read any session in their course.
func (s *Server) ownedTutorSession(w http.ResponseWriter, r *http.Request) (tutor.Session, bool) {
	sess := mustSession(r)
	ts, err := s.TutorStore.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, tutor.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return tutor.Session{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tutor_store", "could not load session")
		return tutor.Session{}, false
	}
	if ts.UserID != sess.User.Subject {
		if !(sess.IsInstructor && ts.ContextID == sess.ContextID) {
			writeError(w, http.StatusForbidden, "forbidden", "not your session")
			return tutor.Session{}, false
		}
	}
	return ts, true
}

func (s *Server) handleTutorGet(w http.ResponseWriter, r *http.Request) {
	ts, ok := s.ownedTutorSession(w, r)
	if !ok {
		return
	}
	msgs, err := s.TutorStore.SessionMessages(r.Context(), ts.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tutor_store", "could not load transcript")
		return
	}
	if msgs == nil {
		msgs = []tutor.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": ts, "messages": msgs})
}

// handleTutorEnd closes the session and folds its transcript into adaptive
// memory. Memory compression is best effort.
func (s *Server) handleTutorEnd(w http.ResponseWriter, r *http.Request) {
	ts, ok := s.ownedTutorSession(w, r)
	if !ok {
		return
	}
	if err := s.TutorStore.EndSession(r.Context(), ts.ID); err != nil && !errors.Is(err, tutor.ErrSessionNotFound) {
		writeError(w, http.StatusInternalServerError, "tutor_store", "could not end session")
		return
	}
	msgs, err := s.TutorStore.SessionMessages(r.Context(), ts.ID)
	if err == nil {
		if _, err := s.Memory.CompressSession(r.Context(), s.Tutor.Provider, ts.UserID, ts.ResourceID, msgs); err != nil {
			s.log().Warn("memory compression failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ended": true})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	ts, ok := s.ownedTutorSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message required")
		return
	}

	cfg, err := s.Resources.Get(r.Context(), sess.ResourceLinkID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config_store", "could not load resource config")
		return
	}
	out, err := s.Tutor.Chat(r.Context(), tutor.ChatInput{
		SessionID:   ts.ID,
		UserID:      sess.User.Subject,
		ContextID:   sess.ContextID,
		ResourceID:  sess.ResourceLinkID,
		CourseTitle: sess.ContextTitle,
		TutorPrompt: cfg.TutorPrompt,
		Message:     req.Message,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "chat_failed", "could not process message")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePredictiveHint(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	hint, err := s.Tutor.PredictiveHint(r.Context(), sess.User.Subject, sess.ResourceLinkID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hint_failed", "could not build hint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hint": hint})
}

func (s *Server) handleAnalyzeAnswer(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	var req struct {
		QuestionID      string `json:"question_id"`
		Question        string `json:"question"`
		Answer          string `json:"answer"`
		ReferenceAnswer string `json:"reference_answer"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Question == "" || req.Answer == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "question and answer required")
		return
	}
	v, err := s.Tutor.AnalyzeAnswer(r.Context(), tutor.ChatInput{
		UserID:      sess.User.Subject,
		ContextID:   sess.ContextID,
		ResourceID:  sess.ResourceLinkID,
		CourseTitle: sess.ContextTitle,
	}, req.QuestionID, req.Question, req.Answer, req.ReferenceAnswer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "analyze_failed", "could not grade answer")
		return
	}
	writeJSON(w, http.StatusOK, v)
}
