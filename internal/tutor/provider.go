package tutor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Message roles on the model conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a model conversation.
type Turn struct {
	Role    string
	Content string
}

// ErrUpstreamUnavailable signals the model backend could not be reached or
// errored. The chat path degrades to a canned apology instead of failing
// the request.
var ErrUpstreamUnavailable = errors.New("model backend unavailable")

// ErrQuotaExceeded means the backend rejected us for rate or quota reasons.
// Surfaced to instructors as a distinct error code.
var ErrQuotaExceeded = errors.New("model quota exceeded")

// Provider is a chat-completion backend. Implementations are stateless;
// the full conversation is passed on every call.
type Provider interface {
	Name() string
	// Complete runs the conversation and returns the assistant reply.
	Complete(ctx context.Context, turns []Turn) (string, error)
}

func upstreamErr(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, provider, err)
}

// statusErr classifies an HTTP error response from a backend. 429 and
// quota-worded bodies become ErrQuotaExceeded.
func statusErr(provider string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	body := strings.TrimSpace(string(b))
	if resp.StatusCode == http.StatusTooManyRequests ||
		strings.Contains(body, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(body), "quota") {
		return fmt.Errorf("%w: %s: %s", ErrQuotaExceeded, provider, resp.Status)
	}
	if body == "" {
		body = resp.Status
	}
	return fmt.Errorf("%w: %s: %s", ErrUpstreamUnavailable, provider, body)
}
