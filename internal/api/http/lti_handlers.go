package http

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/edgelearn/lti-tutor/internal/auth"
	"github.com/edgelearn/lti-tutor/internal/lti"
	"github.com/edgelearn/lti-tutor/internal/metrics"
	"github.com/edgelearn/lti-tutor/internal/session"
)

// handleLaunch is the OIDC redirect target. The platform posts id_token and
// state here; on success the browser gets a session cookie and lands on the
// frontend.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		metrics.LaunchesTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, "bad_request", "bad form")
		return
	}
	state := r.Form.Get("state")
	idToken := r.Form.Get("id_token")
	if state == "" || idToken == "" {
		metrics.LaunchesTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, "bad_request", "missing state or id_token")
		return
	}

	nonce, ok, err := s.States.Take(r.Context(), state)
	if err != nil {
		metrics.LaunchesTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusInternalServerError, "state_store", "login state unavailable")
		return
	}
	if !ok {
		metrics.LaunchesTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, "invalid_state", "unknown or expired login state")
		return
	}

	claims, err := s.Validator.Validate(r.Context(), idToken, nonce)
	if err != nil {
		metrics.LaunchesTotal.WithLabelValues("rejected").Inc()
		s.log().Warn("launch rejected", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid_launch", "launch validation failed")
		return
	}

	sess := session.FromLaunch(claims)
	if err := s.Sessions.Create(r.Context(), sess); err != nil {
		metrics.LaunchesTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusInternalServerError, "session_store", "could not create session")
		return
	}
	session.SetCookie(w, sess.ID, s.Cfg.SessionTTL, s.Cfg.SessionSecure)
	metrics.LaunchesTotal.WithLabelValues("ok").Inc()
	s.log().Info("launch ok",
		zap.String("sub", claims.Subject),
		zap.String("context", claims.ContextID),
		zap.String("role", sess.Role))
	http.Redirect(w, r, s.Cfg.Frontend, http.StatusFound)
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mustSession(r))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	_ = s.Sessions.Delete(r.Context(), sess.ID)
	session.ClearCookie(w, s.Cfg.SessionSecure)
	writeJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

// handleToolConfig serves the registration descriptor an admin pastes into
// the platform.
func (s *Server) handleToolConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"title":               "AI Tutor",
		"description":         "AI tutoring and quizzes inside your course",
		"oidc_initiation_url": s.Cfg.ToolURL + "/lti/login",
		"target_link_uri":     s.Cfg.ToolURL + "/lti/launch",
		"public_jwk_url":      s.Cfg.ToolURL + "/lti/jwks",
		"scopes": []string{
			lti.ScopeLineItem,
			lti.ScopeResultRead,
			lti.ScopeScore,
		},
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Key.PublicJWKS())
}

// handleDevLaunch fabricates a session for local frontend work without a
// real platform. Never reachable unless explicitly enabled.
func (s *Server) handleDevLaunch(w http.ResponseWriter, r *http.Request) {
	if err := s.Gate.Check(r.URL.Query().Get("secret")); err != nil {
		if errors.Is(err, auth.ErrDisabled) {
			writeError(w, http.StatusNotFound, "not_found", "not found")
			return
		}
		writeError(w, http.StatusUnauthorized, "bad_secret", "bad dev launch secret")
		return
	}

	role := r.URL.Query().Get("role")
	roles := []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"}
	if role == "instructor" {
		roles = []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor"}
	}
	claims := lti.LaunchClaims{
		Issuer:            "dev",
		ClientID:          s.Cfg.ClientID,
		DeploymentID:      s.Cfg.DeploymentID,
		Subject:           "dev-" + role,
		Name:              "Dev " + role,
		Roles:             roles,
		ContextID:         "dev-course",
		ContextTitle:      "Dev Course",
		ResourceLinkID:    "dev-resource",
		ResourceLinkTitle: "Dev Resource",
	}
	sess := session.FromLaunch(claims)
	if err := s.Sessions.Create(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, "session_store", "could not create session")
		return
	}
	session.SetCookie(w, sess.ID, s.Cfg.SessionTTL, s.Cfg.SessionSecure)
	writeJSON(w, http.StatusOK, sess)
}

// handleFullContext is the frontend bootstrap call: who am I, where am I,
// and how is this resource configured.
func (s *Server) handleFullContext(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	cfg, err := s.Resources.Get(r.Context(), sess.ResourceLinkID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config_store", "could not load resource config")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"sub":           sess.User.Subject,
			"name":          sess.User.Name,
			"email":         sess.User.Email,
			"role":          sess.Role,
			"is_instructor": sess.IsInstructor,
		},
		"course": map[string]any{
			"id":    sess.ContextID,
			"title": sess.ContextTitle,
		},
		"resource": map[string]any{
			"id":    sess.ResourceLinkID,
			"title": sess.ResourceLinkTitle,
			"mode":  cfg.Mode,
		},
		"is_gradeable": sess.Gradeable(),
	})
}
