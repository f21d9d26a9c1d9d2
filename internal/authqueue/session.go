package authqueue

import (
	"sync"

	"github.com/lodecast/masterd/internal/wire"
	"golang.org/x/crypto/sha3"
)

// sessionKDF derives a session token by hashing a label with its
// parts, built directly on x/crypto/sha3.
func sessionKDF(secret, sessionID []byte) []byte {
	h := sha3.New256()
	h.Write([]byte("masterd:session:v1"))
	h.Write(secret)
	h.Write(sessionID)
	return h.Sum(nil)
}

// sessionRegistry is a mutex-guarded map of issued session tokens.
type sessionRegistry struct {
	mu     sync.Mutex
	tokens map[string]struct{}
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{tokens: make(map[string]struct{})}
}

func (s *sessionRegistry) issue(token []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[string(token)] = struct{}{}
}

func (s *sessionRegistry) has(token []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[string(token)]
	return ok
}

func (s *sessionRegistry) revoke(token []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, string(token))
}

// SessionAuthenticator accepts the session-id variant of AUTH by
// recomputing the session token from a shared secret and comparing it
// against a registry of tokens issued out-of-band (by whatever handed
// the client its session id in the first place). Any other AUTH
// variant is delegated to Fallback, if set, so a queue can accept
// both first-time password logins and session resumption.
type SessionAuthenticator struct {
	secret   []byte
	registry *sessionRegistry
	Fallback Authenticator
}

// NewSessionAuthenticator builds a session authenticator over secret.
func NewSessionAuthenticator(secret []byte) *SessionAuthenticator {
	cp := make([]byte, len(secret))
	copy(cp, secret)
	return &SessionAuthenticator{secret: cp, registry: newSessionRegistry()}
}

// IssueSession registers sessionID as valid by recording its derived
// token, so a later AUTH carrying it will be accepted.
func (a *SessionAuthenticator) IssueSession(sessionID []byte) {
	a.registry.issue(sessionKDF(a.secret, sessionID))
}

// RevokeSession invalidates a previously issued session id.
func (a *SessionAuthenticator) RevokeSession(sessionID []byte) {
	a.registry.revoke(sessionKDF(a.secret, sessionID))
}

func (a *SessionAuthenticator) Authenticate(msg wire.AuthMsg) bool {
	if !msg.IsSessionID {
		if a.Fallback != nil {
			return a.Fallback.Authenticate(msg)
		}
		return false
	}
	token := sessionKDF(a.secret, msg.Identifier)
	return a.registry.has(token)
}
