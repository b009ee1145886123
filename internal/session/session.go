package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgelearn/lti-tutor/internal/lti"
)

// ErrNotFound is returned when a session id is unknown or expired.
var ErrNotFound = errors.New("session not found")

// User is the launched user's identity as asserted by the platform.
type User struct {
	Subject string `json:"sub"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Session is the server-side state created by a successful launch. The
// browser only ever holds the opaque ID.
type Session struct {
	ID string `json:"id"`

	User         User   `json:"user"`
	Role         string `json:"role"`
	IsInstructor bool   `json:"is_instructor"`
	IsAdmin      bool   `json:"is_admin"`

	ContextID         string `json:"context_id"`
	ContextTitle      string `json:"context_title,omitempty"`
	ResourceLinkID    string `json:"resource_link_id"`
	ResourceLinkTitle string `json:"resource_link_title,omitempty"`

	Custom map[string]string `json:"custom,omitempty"`

	// AGS launch material needed later for grade passback.
	LineItemURL string   `json:"lineitem,omitempty"`
	AGSScopes   []string `json:"ags_scopes,omitempty"`

	Issuer       string `json:"issuer"`
	ClientID     string `json:"client_id"`
	DeploymentID string `json:"deployment_id"`

	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Gradeable reports whether grade passback can work for this session.
func (s *Session) Gradeable() bool {
	if s.LineItemURL == "" {
		return false
	}
	for _, sc := range s.AGSScopes {
		if sc == lti.ScopeScore {
			return true
		}
	}
	return false
}

// FromLaunch builds a fresh session from validated launch claims.
func FromLaunch(c lti.LaunchClaims) *Session {
	role := c.Role()
	now := time.Now().UTC()
	return &Session{
		ID:                uuid.NewString(),
		User:              User{Subject: c.Subject, Name: c.Name, Email: c.Email},
		Role:              role,
		IsInstructor:      c.IsInstructor(),
		IsAdmin:           role == "admin",
		ContextID:         c.ContextID,
		ContextTitle:      c.ContextTitle,
		ResourceLinkID:    c.ResourceLinkID,
		ResourceLinkTitle: c.ResourceLinkTitle,
		Custom:            c.Custom,
		LineItemURL:       c.LineItemURL,
		AGSScopes:         c.AGSScopes,
		Issuer:            c.Issuer,
		ClientID:          c.ClientID,
		DeploymentID:      c.DeploymentID,
		CreatedAt:         now,
		LastSeen:          now,
	}
}

// Store keeps launch sessions with a sliding TTL.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// Touch extends the session's lifetime and updates LastSeen.
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type memEntry struct {
	sess  *Session
	until time.Time
}

// MemoryStore is a process-local Store for single-instance deployments.
type MemoryStore struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]*memEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &MemoryStore{TTL: ttl, entries: make(map[string]*memEntry, 64)}
}

func (m *MemoryStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, e := range m.entries {
		if !e.until.After(now) {
			delete(m.entries, id)
		}
	}
	cp := *s
	m.entries[s.ID] = &memEntry{sess: &cp, until: now.Add(m.TTL)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || !e.until.After(m.now()) {
		delete(m.entries, id)
		return nil, ErrNotFound
	}
	cp := *e.sess
	return &cp, nil
}

func (m *MemoryStore) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	now := m.now()
	if !ok || !e.until.After(now) {
		delete(m.entries, id)
		return ErrNotFound
	}
	e.sess.LastSeen = now.UTC()
	e.until = now.Add(m.TTL)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}
