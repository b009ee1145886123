package lti

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

/*
OIDC third-party login initiation.

The platform opens the login endpoint with iss/login_hint/target_link_uri.
We mint a state and a nonce, bind them server side, and redirect the browser
to the platform's authorization endpoint. The launch endpoint later exchanges
the state back for the expected nonce, so a forged or expired state never
reaches token validation.
*/

// StateStore binds a login state to its nonce for one exchange.
type StateStore interface {
	Put(ctx context.Context, state, nonce string, ttl time.Duration) error
	// Take returns the nonce for state and removes the binding. ok is false
	// when the state is unknown or expired.
	Take(ctx context.Context, state string) (nonce string, ok bool, err error)
}

type stateEntry struct {
	nonce string
	until time.Time
}

// InMemoryStateStore is a process-local StateStore.
type InMemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
}

func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{entries: make(map[string]stateEntry, 64)}
}

func (s *InMemoryStateStore) Put(_ context.Context, state, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, e := range s.entries {
		if !e.until.After(now) {
			delete(s.entries, k)
		}
	}
	s.entries[state] = stateEntry{nonce: nonce, until: now.Add(ttl)}
	return nil
}

func (s *InMemoryStateStore) Take(_ context.Context, state string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[state]
	if !ok {
		return "", false, nil
	}
	delete(s.entries, state)
	if !e.until.After(time.Now()) {
		return "", false, nil
	}
	return e.nonce, true, nil
}

// RedisStateStore shares login state across processes.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: "ltistate:"}
}

func (s *RedisStateStore) Put(ctx context.Context, state, nonce string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+state, nonce, ttl).Err()
}

func (s *RedisStateStore) Take(ctx context.Context, state string) (string, bool, error) {
	nonce, err := s.client.GetDel(ctx, s.prefix+state).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return nonce, true, nil
}

// Login builds the login initiation handler.
type Login struct {
	AuthURL  string // platform authorization endpoint
	ClientID string
	ToolURL  string // our external base URL, no trailing slash
	States   StateStore
	StateTTL time.Duration // default 10m
}

func (l *Login) stateTTL() time.Duration {
	if l.StateTTL > 0 {
		return l.StateTTL
	}
	return 10 * time.Minute
}

// Handler accepts GET and POST login initiation requests.
func (l *Login) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		loginHint := r.Form.Get("login_hint")
		if loginHint == "" {
			http.Error(w, "missing login_hint", http.StatusBadRequest)
			return
		}

		state := uuid.NewString()
		nonce := uuid.NewString()
		if err := l.States.Put(r.Context(), state, nonce, l.stateTTL()); err != nil {
			http.Error(w, "login state unavailable", http.StatusInternalServerError)
			return
		}

		q := url.Values{}
		q.Set("scope", "openid")
		q.Set("response_type", "id_token")
		q.Set("response_mode", "form_post")
		q.Set("prompt", "none")
		q.Set("client_id", l.ClientID)
		q.Set("redirect_uri", l.ToolURL+"/lti/launch")
		q.Set("login_hint", loginHint)
		q.Set("state", state)
		q.Set("nonce", nonce)
		if hint := r.Form.Get("lti_message_hint"); hint != "" {
			q.Set("lti_message_hint", hint)
		}
		http.Redirect(w, r, l.AuthURL+"?"+q.Encode(), http.StatusFound)
	}
}
