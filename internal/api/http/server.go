package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/edgelearn/lti-tutor/internal/ags"
	"github.com/edgelearn/lti-tutor/internal/analytics"
	"github.com/edgelearn/lti-tutor/internal/auth"
	"github.com/edgelearn/lti-tutor/internal/config"
	"github.com/edgelearn/lti-tutor/internal/docs"
	"github.com/edgelearn/lti-tutor/internal/keys"
	"github.com/edgelearn/lti-tutor/internal/lti"
	"github.com/edgelearn/lti-tutor/internal/resource"
	"github.com/edgelearn/lti-tutor/internal/session"
	"github.com/edgelearn/lti-tutor/internal/tutor"
)

// Server wires the HTTP surface to the domain services.
type Server struct {
	Cfg config.Config
	Log *zap.Logger

	Sessions  session.Store
	Login     *lti.Login
	Validator *lti.Validator
	States    lti.StateStore
	Key       *keys.ToolKey
	Gate      auth.DevGate

	AGS        *ags.Client
	Resources  *resource.Store
	Tutor      *tutor.Service
	TutorStore *tutor.Store
	Memory     *tutor.MemoryStore
	Analytics  *analytics.Service
	Docs       *docs.Store
}

func (s *Server) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

// Routes mounts every endpoint on r. Session-guarded API routes live under
// /api; the LTI handshake endpoints are unauthenticated by nature.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/", s.handleRoot)

	r.Route("/lti", func(r chi.Router) {
		h := s.Login.Handler()
		r.Get("/login", h)
		r.Post("/login", h)
		r.Post("/launch", s.handleLaunch)
		r.Get("/config.json", s.handleToolConfig)
		r.Get("/jwks", s.handleJWKS)
		r.Get("/dev-launch", s.handleDevLaunch)

		r.Group(func(r chi.Router) {
			r.Use(session.RequireSession(s.Sessions))
			r.Get("/session", s.handleSessionInfo)
			r.Post("/logout", s.handleLogout)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(session.RequireSession(s.Sessions))

		r.Get("/lti_info/full_context", s.handleFullContext)

		r.Route("/tutor", func(r chi.Router) {
			r.Post("/sessions", s.handleTutorStart)
			r.Get("/sessions", s.handleTutorList)
			r.Get("/sessions/{sessionID}", s.handleTutorGet)
			r.Post("/sessions/{sessionID}/end", s.handleTutorEnd)
			r.Post("/sessions/{sessionID}/chat", s.handleChat)
			r.Get("/hint", s.handlePredictiveHint)
			r.Post("/analyze", s.handleAnalyzeAnswer)
		})

		r.Route("/quiz", func(r chi.Router) {
			r.Get("/", s.handleQuizGet)
			r.Post("/hint", s.handleQuizHint)
		})

		r.Route("/grades", func(r chi.Router) {
			r.Get("/check", s.handleGradesCheck)
			r.Post("/submit", s.handleGradesSubmit)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/student", s.handleStudentAnalytics)
			r.With(session.RequireInstructor).Get("/class", s.handleClassAnalytics)
		})

		r.Route("/config", func(r chi.Router) {
			r.Use(session.RequireInstructor)
			r.Get("/", s.handleConfigGet)
			r.Put("/", s.handleConfigSave)
			r.Post("/generate_quiz", s.handleGenerateQuiz)
			r.Route("/templates", func(r chi.Router) {
				r.Get("/", s.handleTemplateList)
				r.Post("/", s.handleTemplateCreate)
				r.Delete("/{templateID}", s.handleTemplateDelete)
				r.Post("/{templateID}/apply", s.handleTemplateApply)
			})
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/{resourceID}", s.handleDocumentList)
			r.Group(func(r chi.Router) {
				r.Use(session.RequireInstructor)
				r.Post("/upload", s.handleDocumentUpload)
				r.Delete("/{resourceID}/{docID}", s.handleDocumentDelete)
			})
		})
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name": "lti-tutor",
		"endpoints": map[string]string{
			"login":  s.Cfg.ToolURL + "/lti/login",
			"launch": s.Cfg.ToolURL + "/lti/launch",
			"jwks":   s.Cfg.ToolURL + "/lti/jwks",
			"config": s.Cfg.ToolURL + "/lti/config.json",
		},
	})
}

// mustSession returns the context session; routes under RequireSession
// always have one.
func mustSession(r *http.Request) *session.Session {
	s, _ := session.FromContext(r.Context())
	return s
}
