package library

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// SessionGate is the middleware in front of every authenticated route. It
// resolves the bearer token into a Principal exactly once per request, which
// includes the session registry check: a token superseded by a newer login is
// rejected here even though the signature is still valid.
type SessionGate struct {
	auth      Authenticator
	cfg       Config
	logger    Logger
	localsKey string
}

// SessionGateOption customizes gate construction
type SessionGateOption func(*SessionGate)

// WithSessionGateLogger overrides the logger
func WithSessionGateLogger(logger Logger) SessionGateOption {
	return func(g *SessionGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithSessionGateLocalsKey overrides where the Principal is stored in the
// router context
func WithSessionGateLocalsKey(key string) SessionGateOption {
	return func(g *SessionGate) {
		if key != "" {
			g.localsKey = key
		}
	}
}

func NewSessionGate(auth Authenticator, cfg Config, opts ...SessionGateOption) *SessionGate {
	g := &SessionGate{
		auth:      auth,
		cfg:       cfg,
		logger:    defLogger{},
		localsKey: "principal",
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// LocalsKey returns the router locals key holding the Principal
func (g *SessionGate) LocalsKey() string {
	return g.localsKey
}

// Protected returns the middleware for authenticated routes.
func (g *SessionGate) Protected() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			token := g.tokenFromRequest(ctx)
			if token == "" {
				return g.reject(ctx, ErrUnauthenticated)
			}

			principal, err := g.auth.PrincipalFromToken(token)
			if err != nil {
				return g.reject(ctx, err)
			}

			ctx.Locals(g.localsKey, principal)
			ctx.SetContext(WithPrincipal(ctx.Context(), principal))

			return next(ctx)
		}
	}
}

// RequireRole layers a role check on top of Protected. It assumes the gate
// already ran and stored the Principal.
func (g *SessionGate) RequireRole(min UserRole) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			principal, ok := RouterPrincipal(ctx, g.localsKey)
			if !ok {
				return g.reject(ctx, ErrUnauthenticated)
			}

			if !IsAtLeast(principal.Role, min) {
				return ctx.JSON(router.StatusForbidden, map[string]any{
					"error": "insufficient role",
					"role":  string(principal.Role),
				})
			}

			return next(ctx)
		}
	}
}

func (g *SessionGate) tokenFromRequest(ctx router.Context) string {
	scheme := g.cfg.GetAuthScheme()
	if scheme == "" {
		scheme = "Bearer"
	}

	if header := ctx.Header("Authorization"); header != "" {
		if strings.HasPrefix(header, scheme+" ") {
			return strings.TrimSpace(strings.TrimPrefix(header, scheme+" "))
		}
	}

	return ctx.Cookies(g.cfg.GetContextKey())
}

func (g *SessionGate) reject(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryAuth, "invalid session").
			WithCode(goerrors.CodeUnauthorized)
	}

	g.logger.Debug("session gate rejected request",
		"path", ctx.Path(),
		"text_code", richErr.TextCode,
	)

	return ctx.JSON(router.StatusUnauthorized, map[string]any{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}
