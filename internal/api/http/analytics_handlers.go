package http

import "net/http"

// handleStudentAnalytics serves the caller's own progress. Instructors can
// inspect any student in their course via ?user_id=.
func (s *Server) handleStudentAnalytics(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	userID := sess.User.Subject
	if requested := r.URL.Query().Get("user_id"); requested != "" && requested != userID {
		if !sess.IsInstructor {
			writeError(w, http.StatusForbidden, "forbidden", "instructor role required")
			return
		}
		userID = requested
	}
	sum, err := s.Analytics.Student(r.Context(), userID, sess.ContextID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "analytics_store", "could not load analytics")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleClassAnalytics(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	ov, err := s.Analytics.Class(r.Context(), sess.ContextID, sess.ResourceLinkID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "analytics_store", "could not load class analytics")
		return
	}
	writeJSON(w, http.StatusOK, ov)
}
