package library

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// SessionRegistry is the in-process record of which token is currently valid
// for each identity. It guarantees at most one live session per account:
// binding a new token silently supersedes the previous one, and the request
// gate treats a superseded token as invalid even while the signed token
// itself is still unexpired.
//
// The registry has no persistent backing. It is rebuilt empty on restart,
// which forces a re-login but never trusts a stale token: the token service
// remains the source of truth for token existence, the registry for token
// currency.
type SessionRegistry struct {
	sessions *xsync.MapOf[string, string]
	logger   Logger
}

var _ SessionStore = (*SessionRegistry)(nil)

// SessionRegistryOption customizes registry construction
type SessionRegistryOption func(*SessionRegistry)

// WithSessionRegistryLogger overrides the logger used for bind/unbind traces
func WithSessionRegistryLogger(logger Logger) SessionRegistryOption {
	return func(r *SessionRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewSessionRegistry returns an empty registry
func NewSessionRegistry(opts ...SessionRegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		sessions: xsync.NewMapOf[string, string](),
		logger:   defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Bind records token as the one valid session for identity, superseding any
// prior binding.
func (r *SessionRegistry) Bind(identity, token string) {
	if identity == "" {
		return
	}
	r.logger.Debug("session registry bind", "identity", identity)
	r.sessions.Store(identity, token)
}

// Lookup returns the current token for identity, if any
func (r *SessionRegistry) Lookup(identity string) (string, bool) {
	return r.sessions.Load(identity)
}

// Unbind removes the binding for identity. Callers performing logout or
// account deletion must also invalidate the token at its issuer boundary;
// the registry only controls currency, not token lifetime.
func (r *SessionRegistry) Unbind(identity string) {
	r.logger.Debug("session registry unbind", "identity", identity)
	r.sessions.Delete(identity)
}

// IsCurrent reports whether token is the one valid session for identity
func (r *SessionRegistry) IsCurrent(identity, token string) bool {
	if identity == "" || token == "" {
		return false
	}

	current, ok := r.sessions.Load(identity)
	return ok && current == token
}

// Size returns the number of live bindings, used by diagnostics
func (r *SessionRegistry) Size() int {
	return r.sessions.Size()
}
