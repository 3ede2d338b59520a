package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
)

// CookieName is the session cookie.
const CookieName = "token"

// Middleware failure messages.
const (
	MsgNoToken      = "Unauthorized: No token provided"
	MsgInvalidToken = "Invalid or expired token"
)

type ctxKey struct{}

// WithUserID returns a context carrying a verified user id.
func WithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// UserID returns the verified user id on ctx, if any.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok && id > 0
}

// Cookies builds the session cookie.
type Cookies struct {
	Secure bool
	Domain string
}

// Session returns the cookie carrying token.
func (c Cookies) Session(token string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// Clear returns a cookie that deletes the session.
func (c Cookies) Clear() *http.Cookie {
	return c.Session("", -1)
}

// Guard verifies session cookies on incoming requests.
type Guard struct {
	tokens *Tokens
	logger *slog.Logger
}

// NewGuard creates a Guard.
func NewGuard(tokens *Tokens, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{tokens: tokens, logger: logger}
}

// Require rejects requests without a valid session: 401 when the
// cookie is missing, 403 when it does not verify.
func (g *Guard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(CookieName)
		if err != nil || c.Value == "" {
			g.deny(w, http.StatusUnauthorized, MsgNoToken)
			return
		}
		claims, err := g.tokens.Verify(c.Value)
		if err != nil {
			g.logger.Debug("session rejected", "path", r.URL.Path, "error", err)
			g.deny(w, http.StatusForbidden, MsgInvalidToken)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
	})
}

// Optional attaches the session user when a valid cookie is present
// and otherwise passes the request through untouched.
func (g *Guard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
			if claims, err := g.tokens.Verify(c.Value); err == nil {
				r = r.WithContext(WithUserID(r.Context(), claims.UserID))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg}); err != nil {
		g.logger.Debug("failed to write JSON response", "error", err)
	}
}
