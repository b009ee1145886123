package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edgelearn/lti-tutor/internal/quiz"
	"github.com/edgelearn/lti-tutor/internal/resource"
	"github.com/edgelearn/lti-tutor/internal/tutor"
)

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	cfg, err := s.Resources.Get(r.Context(), sess.ResourceLinkID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config_store", "could not load resource config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleConfigSave(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	var req struct {
		Mode        string          `json:"mode"`
		TutorPrompt string          `json:"tutor_prompt"`
		Quiz        []quiz.Question `json:"quiz"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "bad json")
		return
	}
	cfg, err := s.Resources.Save(r.Context(), resource.Config{
		ResourceID:  sess.ResourceLinkID,
		Mode:        req.Mode,
		TutorPrompt: req.TutorPrompt,
		Quiz:        req.Quiz,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleGenerateQuiz drafts quiz questions with the model for the
// instructor to review. Nothing is saved here.
func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic      string `json:"topic"`
		Difficulty string `json:"difficulty"`
		Count      int    `json:"count"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Topic == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "topic required")
		return
	}
	qs, err := s.Tutor.GenerateQuiz(r.Context(), req.Topic, req.Difficulty, req.Count)
	if errors.Is(err, tutor.ErrQuotaExceeded) {
		writeError(w, http.StatusServiceUnavailable, "QUOTA_EXCEEDED", "model quota exhausted, try again later")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "generation_failed", "could not generate quiz")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": qs})
}

func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	list, err := s.Resources.ListTemplates(r.Context(), sess.ContextID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config_store", "could not list templates")
		return
	}
	if list == nil {
		list = []resource.Template{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	var req struct {
		Name        string          `json:"name"`
		Shared      bool            `json:"shared"`
		Mode        string          `json:"mode"`
		TutorPrompt string          `json:"tutor_prompt"`
		Quiz        []quiz.Question `json:"quiz"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "bad json")
		return
	}
	contextID := sess.ContextID
	if req.Shared {
		contextID = ""
	}
	tpl, err := s.Resources.CreateTemplate(r.Context(), resource.Template{
		Name:        req.Name,
		ContextID:   contextID,
		Mode:        req.Mode,
		TutorPrompt: req.TutorPrompt,
		Quiz:        req.Quiz,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_template", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleTemplateDelete(w http.ResponseWriter, r *http.Request) {
	err := s.Resources.DeleteTemplate(r.Context(), chi.URLParam(r, "templateID"))
	if errors.Is(err, resource.ErrTemplateNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "template not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config_store", "could not delete template")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleTemplateApply(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	cfg, err := s.Resources.ApplyTemplate(r.Context(), chi.URLParam(r, "templateID"), sess.ResourceLinkID)
	if errors.Is(err, resource.ErrTemplateNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "template not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config_store", "could not apply template")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
