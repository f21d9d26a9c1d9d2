package authqueue

import (
	"crypto/subtle"
	"sync"

	"github.com/lodecast/masterd/internal/wire"
)

// Authenticator decides whether an AUTH message is acceptable. It
// must be side-effect-free except for consulting its own backing
// state — manage() calls it once per successful receive and treats
// the result as final.
type Authenticator interface {
	Authenticate(msg wire.AuthMsg) bool
}

// SharedSecretAuthenticator is the reference implementation: it
// compares the presented identifier against a shared secret in
// constant time. It only ever accepts the password variant of AUTH
// (IsSessionID == false); session-id admission is SessionAuthenticator's
// job.
type SharedSecretAuthenticator struct {
	mu     sync.Mutex
	secret []byte
}

// NewSharedSecretAuthenticator builds an authenticator holding a copy
// of secret.
func NewSharedSecretAuthenticator(secret []byte) *SharedSecretAuthenticator {
	cp := make([]byte, len(secret))
	copy(cp, secret)
	return &SharedSecretAuthenticator{secret: cp}
}

// SetSecret replaces the shared secret under pass_lock.
func (a *SharedSecretAuthenticator) SetSecret(secret []byte) {
	cp := make([]byte, len(secret))
	copy(cp, secret)
	a.mu.Lock()
	a.secret = cp
	a.mu.Unlock()
}

func (a *SharedSecretAuthenticator) Authenticate(msg wire.AuthMsg) bool {
	if msg.IsSessionID {
		return false
	}
	a.mu.Lock()
	secret := a.secret
	a.mu.Unlock()
	if len(secret) != len(msg.Identifier) {
		return false
	}
	return subtle.ConstantTimeCompare(secret, msg.Identifier) == 1
}
