package session

import (
	"context"
	"net/http"
	"time"
)

// CookieName is the opaque session cookie. The value is a session ID; all
// launch state stays server side.
const CookieName = "tutor_session"

type ctxKey struct{}

// FromContext returns the session placed by RequireSession.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok
}

// SetCookie writes the session cookie. Cross-site iframe embedding needs
// SameSite=None, which browsers only honor with Secure.
func SetCookie(w http.ResponseWriter, id string, ttl time.Duration, secure bool) {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
	}
	if secure {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	} else {
		c.SameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, c)
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter, secure bool) {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	}
	if secure {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, c)
}

// RequireSession resolves the cookie to a live session, refreshes its TTL
// and stores it on the request context. 401 otherwise.
func RequireSession(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(CookieName)
			if err != nil || c.Value == "" {
				http.Error(w, "not authenticated", http.StatusUnauthorized)
				return
			}
			s, err := store.Get(r.Context(), c.Value)
			if err != nil {
				http.Error(w, "session expired", http.StatusUnauthorized)
				return
			}
			_ = store.Touch(r.Context(), s.ID)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, s)))
		})
	}
}

// RequireInstructor gates handlers to instructor or admin sessions. Must be
// mounted inside RequireSession.
func RequireInstructor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := FromContext(r.Context())
		if !ok {
			http.Error(w, "not authenticated", http.StatusUnauthorized)
			return
		}
		if !s.IsInstructor {
			http.Error(w, "instructor role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
