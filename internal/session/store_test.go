package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgelearn/lti-tutor/internal/lti"
)

func sampleClaims() lti.LaunchClaims {
	return lti.LaunchClaims{
		Issuer:         "https://lms.example.edu",
		ClientID:       "client-1",
		DeploymentID:   "1",
		Subject:        "user-42",
		Name:           "Ada",
		Roles:          []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"},
		ContextID:      "course-9",
		ResourceLinkID: "link-3",
		LineItemURL:    "https://lms.example.edu/api/lti/courses/9/line_items/5",
		AGSScopes:      []string{lti.ScopeScore},
	}
}

func TestFromLaunchRoles(t *testing.T) {
	c := sampleClaims()
	s := FromLaunch(c)
	if s.Role != "student" || s.IsInstructor {
		t.Fatalf("learner mapped to %q instructor=%v", s.Role, s.IsInstructor)
	}
	if !s.Gradeable() {
		t.Fatal("lineitem + score scope should be gradeable")
	}

	c.Roles = []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor"}
	s = FromLaunch(c)
	if s.Role != "instructor" || !s.IsInstructor {
		t.Fatalf("instructor mapped to %q", s.Role)
	}

	c.AGSScopes = nil
	if FromLaunch(c).Gradeable() {
		t.Fatal("missing score scope should not be gradeable")
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	s := FromLaunch(sampleClaims())

	if err := store.Create(ctx, s); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.User.Subject != "user-42" || got.ContextID != "course-9" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := store.Delete(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, s.ID); err != ErrNotFound {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreSlidingTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryStore(time.Minute)
	store.Now = func() time.Time { return now }

	s := FromLaunch(sampleClaims())
	if err := store.Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	now = now.Add(45 * time.Second)
	if err := store.Touch(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	// touch pushed expiry out past the original window
	now = now.Add(45 * time.Second)
	if _, err := store.Get(ctx, s.ID); err != nil {
		t.Fatalf("touched session expired early: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, s.ID); err != ErrNotFound {
		t.Fatalf("want expiry, got %v", err)
	}
}

func TestRequireSessionAndInstructor(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	student := FromLaunch(sampleClaims())
	if err := store.Create(ctx, student); err != nil {
		t.Fatal(err)
	}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			t.Fatal("session missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	})

	h := RequireSession(store)(inner)

	// no cookie
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: got %d", rec.Code)
	}

	// live session
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: student.ID})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("live session: got %d", rec.Code)
	}

	// student hitting an instructor route
	guarded := RequireSession(store)(RequireInstructor(inner))
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: student.ID})
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student on instructor route: got %d", rec.Code)
	}
}
