package ags

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/edgelearn/lti-tutor/internal/keys"
)

/*
Assignment and Grade Services client.

Score submission is a two-step exchange:

  1. client_credentials grant at the platform token endpoint, authenticated
     with a private_key_jwt assertion signed by the tool key
  2. POST of the score payload to <lineitem>/scores

Access tokens are cached per (token URL, scope set) and reused until shortly
before expiry.
*/

// ErrNotGradable means the launch carried no line item or no score scope.
// Callers treat it as "nothing to do", not a failure.
var ErrNotGradable = errors.New("activity is not gradable")

// Target identifies where a score goes and under which registration.
type Target struct {
	LineItemURL string
	Scopes      []string
	UserID      string // platform user id (the launch sub)
}

// Outcome reports what happened to a submission attempt.
type Outcome struct {
	Sent   bool   `json:"sent"`
	Detail string `json:"detail,omitempty"`
}

type cachedToken struct {
	value   string
	expires time.Time
}

// Client submits AGS scores for a single platform registration.
type Client struct {
	HTTP     *http.Client
	TokenURL string
	ClientID string
	Key      *keys.ToolKey

	Now func() time.Time

	mu     sync.Mutex
	tokens map[string]cachedToken
}

func NewClient(tokenURL, clientID string, key *keys.ToolKey) *Client {
	return &Client{
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		TokenURL: tokenURL,
		ClientID: clientID,
		Key:      key,
		tokens:   make(map[string]cachedToken),
	}
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

const scopeScore = "https://purl.imsglobal.org/spec/lti-ags/scope/score"

// SubmitScore posts scoreGiven/scoreMax for the target's user. A target
// without a line item or score scope returns ErrNotGradable; the platform
// rejecting the score returns a regular error.
func (c *Client) SubmitScore(ctx context.Context, t Target, scoreGiven, scoreMax float64, comment string) (Outcome, error) {
	if t.LineItemURL == "" || !hasScope(t.Scopes, scopeScore) {
		return Outcome{Sent: false, Detail: "no gradebook line item for this launch"}, ErrNotGradable
	}
	if scoreMax <= 0 {
		return Outcome{}, fmt.Errorf("ags: scoreMaximum must be positive")
	}

	token, err := c.accessToken(ctx, []string{scopeScore})
	if err != nil {
		return Outcome{Sent: false, Detail: err.Error()}, fmt.Errorf("ags: token exchange: %w", err)
	}

	payload := map[string]any{
		"scoreGiven":       scoreGiven,
		"scoreMaximum":     scoreMax,
		"comment":          comment,
		"timestamp":        c.now().UTC().Format(time.RFC3339),
		"userId":           t.UserID,
		"activityProgress": "Completed",
		"gradingProgress":  "FullyGraded",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, scoresURL(t.LineItemURL), bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/vnd.ims.lis.v1.score+json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Outcome{Sent: false, Detail: err.Error()}, fmt.Errorf("ags: score post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		detail := httpErr(resp)
		return Outcome{Sent: false, Detail: detail}, fmt.Errorf("ags: platform rejected score: %s", detail)
	}
	return Outcome{Sent: true}, nil
}

// scoresURL appends /scores to the line item URL, keeping any query string
// the platform put there (Canvas does this).
func scoresURL(lineItem string) string {
	u, err := url.Parse(lineItem)
	if err != nil {
		return strings.TrimSuffix(lineItem, "/") + "/scores"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/scores"
	return u.String()
}

func (c *Client) accessToken(ctx context.Context, scopes []string) (string, error) {
	key := c.TokenURL + "|" + strings.Join(scopes, " ")

	c.mu.Lock()
	if tok, ok := c.tokens[key]; ok && c.now().Before(tok.expires) {
		c.mu.Unlock()
		return tok.value, nil
	}
	c.mu.Unlock()

	assertion, err := c.clientAssertion()
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
	form.Set("client_assertion", assertion)
	form.Set("scope", strings.Join(scopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("token endpoint returned %s", httpErr(resp))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("token endpoint returned no access_token")
	}
	if out.ExpiresIn <= 0 {
		out.ExpiresIn = 3600
	}

	c.mu.Lock()
	c.tokens[key] = cachedToken{
		value: out.AccessToken,
		// renew a minute early so an in-flight score never carries a dead token
		expires: c.now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute),
	}
	c.mu.Unlock()
	return out.AccessToken, nil
}

// clientAssertion builds the private_key_jwt per the IMS security framework:
// iss and sub are the client_id, aud is the token endpoint.
func (c *Client) clientAssertion() (string, error) {
	if c.Key == nil {
		return "", errors.New("ags: no signing key")
	}
	now := c.now()
	return c.Key.SignJWT(jwt.MapClaims{
		"iss": c.ClientID,
		"sub": c.ClientID,
		"aud": c.TokenURL,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	})
}

func httpErr(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	s := strings.TrimSpace(string(b))
	if s == "" {
		return resp.Status
	}
	return resp.Status + ": " + s
}
