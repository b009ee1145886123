package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrDisabled  = errors.New("dev launch disabled")
	ErrBadSecret = errors.New("bad dev launch secret")
)

// DevGate guards the simulated launch endpoint. It never ships enabled in
// production deployments; the secret hash adds a second lock for shared
// dev environments.
type DevGate struct {
	Enabled    bool
	SecretHash string // bcrypt hash; empty means no secret required
}

// Check returns nil when a dev launch with the given secret may proceed.
func (g DevGate) Check(secret string) error {
	if !g.Enabled {
		return ErrDisabled
	}
	if g.SecretHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(g.SecretHash), []byte(secret)); err != nil {
		return ErrBadSecret
	}
	return nil
}
