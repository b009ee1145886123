package lti

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// IMS claim URIs used in LTI 1.3 id_tokens.
const (
	ClaimMessageType = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ClaimVersion     = "https://purl.imsglobal.org/spec/lti/claim/version"
	ClaimDeployment  = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	ClaimTarget      = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	ClaimContext     = "https://purl.imsglobal.org/spec/lti/claim/context"
	ClaimResource    = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	ClaimRoles       = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ClaimCustom      = "https://purl.imsglobal.org/spec/lti/claim/custom"
	ClaimAGSEndpoint = "https://purl.imsglobal.org/spec/lti-ags/claim/endpoint"
)

// AGS scopes a launch may grant.
const (
	ScopeLineItem     = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem"
	ScopeLineItemRead = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem.readonly"
	ScopeScore        = "https://purl.imsglobal.org/spec/lti-ags/scope/score"
	ScopeResultRead   = "https://purl.imsglobal.org/spec/lti-ags/scope/result.readonly"
)

// LaunchClaims is the normalized view of a validated id_token. Immutable
// once built; lifetime is one launch.
type LaunchClaims struct {
	Issuer       string `json:"issuer"`
	ClientID     string `json:"client_id"`
	DeploymentID string `json:"deployment_id"`

	Subject string   `json:"sub"`
	Name    string   `json:"name,omitempty"`
	Email   string   `json:"email,omitempty"`
	Roles   []string `json:"roles,omitempty"`

	ContextID    string `json:"context_id,omitempty"`
	ContextTitle string `json:"context_title,omitempty"`

	ResourceLinkID    string `json:"resource_link_id,omitempty"`
	ResourceLinkTitle string `json:"resource_link_title,omitempty"`

	Custom map[string]string `json:"custom,omitempty"`

	// AGS endpoint claim, present only when the activity is gradeable.
	LineItemURL  string   `json:"lineitem,omitempty"`
	LineItemsURL string   `json:"lineitems,omitempty"`
	AGSScopes    []string `json:"ags_scopes,omitempty"`
}

// Role returns the flattened application role: admin, instructor or student.
func (c LaunchClaims) Role() string {
	for _, r := range c.Roles {
		if strings.Contains(r, "Administrator") {
			return "admin"
		}
	}
	for _, r := range c.Roles {
		if strings.Contains(r, "Instructor") {
			return "instructor"
		}
	}
	return "student"
}

func (c LaunchClaims) IsInstructor() bool {
	role := c.Role()
	return role == "instructor" || role == "admin"
}

// Gradeable reports whether the launch carried an AGS line item and the
// score scope, i.e. whether SubmitScore can possibly succeed.
func (c LaunchClaims) Gradeable() bool {
	if c.LineItemURL == "" && c.LineItemsURL == "" {
		return false
	}
	for _, s := range c.AGSScopes {
		if s == ScopeScore {
			return true
		}
	}
	return false
}

// normalizeClaims extracts the LaunchClaims view out of raw token claims.
// The token must already be verified; this only reshapes.
func normalizeClaims(m jwt.MapClaims) LaunchClaims {
	out := LaunchClaims{
		Subject: str(m["sub"]),
		Name:    str(m["name"]),
		Email:   str(m["email"]),
	}
	if out.Name == "" {
		out.Name = str(m["given_name"])
	}
	out.Issuer = str(m["iss"])
	out.DeploymentID = str(m[ClaimDeployment])

	if ctx, ok := m[ClaimContext].(map[string]any); ok {
		out.ContextID = str(ctx["id"])
		out.ContextTitle = str(ctx["title"])
	}
	if rl, ok := m[ClaimResource].(map[string]any); ok {
		out.ResourceLinkID = str(rl["id"])
		out.ResourceLinkTitle = str(rl["title"])
	}
	if roles, ok := m[ClaimRoles].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				out.Roles = append(out.Roles, s)
			}
		}
	}
	if custom, ok := m[ClaimCustom].(map[string]any); ok {
		out.Custom = make(map[string]string, len(custom))
		for k, v := range custom {
			out.Custom[k] = str(v)
		}
	}
	if ags, ok := m[ClaimAGSEndpoint].(map[string]any); ok {
		out.LineItemURL = str(ags["lineitem"])
		out.LineItemsURL = str(ags["lineitems"])
		if scopes, ok := ags["scope"].([]any); ok {
			for _, s := range scopes {
				if sc, ok := s.(string); ok {
					out.AGSScopes = append(out.AGSScopes, sc)
				}
			}
		}
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
