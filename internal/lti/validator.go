package lti

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidLaunch wraps every launch validation failure. Callers must not
// create a session when they see it.
var ErrInvalidLaunch = errors.New("invalid launch")

/*
Launch validator.

Verifies an inbound id_token end to end:

  (a) RS256 signature against the platform JWKS, key picked by kid
  (b) iss equals the registered platform issuer
  (c) aud (or azp when aud is a list) equals our client_id
  (d) nonce equals the one minted at login and has never been seen before
  (e) exp/iat inside the leeway window

Signature verification is always on. There is no development bypass in this
path; the dev-launch endpoint exists for that and never produces claims
through here.
*/
type Validator struct {
	Issuer       string
	ClientID     string
	DeploymentID string
	Keys         *KeysetCache
	Replay       Replay

	Leeway   time.Duration // default 60s
	NonceTTL time.Duration // default 10m
	Now      func() time.Time
}

// Validate checks rawToken and returns normalized launch claims.
// expectedNonce is the nonce bound to the login state; the token must echo
// it exactly, and it is consumed on success so a replayed token fails.
func (v *Validator) Validate(ctx context.Context, rawToken, expectedNonce string) (LaunchClaims, error) {
	if v.Keys == nil {
		return LaunchClaims{}, fmt.Errorf("%w: validator not configured", ErrInvalidLaunch)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithLeeway(v.leeway()),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	claims := jwt.MapClaims{}
	tok, err := parser.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.Keys.Key(ctx, kid)
	})
	if err != nil || !tok.Valid {
		return LaunchClaims{}, fmt.Errorf("%w: token verification failed: %v", ErrInvalidLaunch, err)
	}

	iss, _ := claims.GetIssuer()
	if iss == "" || iss != v.Issuer {
		return LaunchClaims{}, fmt.Errorf("%w: issuer mismatch", ErrInvalidLaunch)
	}

	aud, _ := claims.GetAudience()
	if !audContains(aud, v.ClientID) {
		return LaunchClaims{}, fmt.Errorf("%w: audience mismatch", ErrInvalidLaunch)
	}
	// With multiple audiences azp must name us (OIDC core 3.1.3.7).
	if len(aud) > 1 {
		if azp := str(claims["azp"]); azp != v.ClientID {
			return LaunchClaims{}, fmt.Errorf("%w: azp mismatch", ErrInvalidLaunch)
		}
	}

	nonce := str(claims["nonce"])
	if nonce == "" || nonce != expectedNonce {
		return LaunchClaims{}, fmt.Errorf("%w: nonce mismatch", ErrInvalidLaunch)
	}
	if v.Replay != nil {
		ok, err := v.Replay.Use(ctx, "nonce", nonce, v.nonceTTL())
		if err != nil {
			return LaunchClaims{}, fmt.Errorf("%w: replay check: %v", ErrInvalidLaunch, err)
		}
		if !ok {
			return LaunchClaims{}, fmt.Errorf("%w: nonce replay detected", ErrInvalidLaunch)
		}
	}

	out := normalizeClaims(claims)
	out.ClientID = v.ClientID
	if out.Subject == "" {
		return LaunchClaims{}, fmt.Errorf("%w: missing sub", ErrInvalidLaunch)
	}
	if v.DeploymentID != "" && out.DeploymentID != "" && out.DeploymentID != v.DeploymentID {
		return LaunchClaims{}, fmt.Errorf("%w: deployment_id mismatch", ErrInvalidLaunch)
	}
	return out, nil
}

func audContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func (v *Validator) leeway() time.Duration {
	if v.Leeway > 0 {
		return v.Leeway
	}
	return time.Minute
}

func (v *Validator) nonceTTL() time.Duration {
	if v.NonceTTL > 0 {
		return v.NonceTTL
	}
	return 10 * time.Minute
}
