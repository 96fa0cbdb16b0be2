// Package gate implements the optional password gate in front of
// destructive actions. Which actions are gated, and whether a gate exists at
// all, is deployment policy: an unconfigured gate allows everything.
package gate

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrWrongPassword is returned when the supplied password does not match.
var ErrWrongPassword = errors.New("wrong gate password")

// Gate checks a shared password against a bcrypt hash from configuration.
type Gate struct {
	hash []byte
}

// New creates a gate from a bcrypt hash. An empty hash disables the gate.
func New(bcryptHash string) *Gate {
	if bcryptHash == "" {
		return &Gate{}
	}
	return &Gate{hash: []byte(bcryptHash)}
}

// Enabled reports whether a password is required.
func (g *Gate) Enabled() bool {
	return len(g.hash) > 0
}

// Check validates the password. A disabled gate accepts anything.
func (g *Gate) Check(password string) error {
	if !g.Enabled() {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(password)); err != nil {
		return ErrWrongPassword
	}
	return nil
}
