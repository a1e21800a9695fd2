package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/ender-console/internal/authapi"
	"github.com/isdelr/ender-console/internal/models"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	userKey    = contextKey("sessionUser")
	sessionKey = contextKey("consoleSession")
)

// UserFromContext returns the user the gate admitted.
func UserFromContext(ctx context.Context) (models.SessionUser, bool) {
	u, ok := ctx.Value(userKey).(models.SessionUser)
	return u, ok
}

// SessionIDFromContext returns the console session id the gate assigned.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey).(string)
	return id, ok && id != ""
}

// PanelDropper discards the admin panel bound to a console session.
type PanelDropper interface {
	Drop(sessionID string)
}

// Recorder stores audit events.
type Recorder interface {
	CreateEvent(eventType, level, message string, actor *string) error
}

// GateOptions configure a Gate.
type GateOptions struct {
	LoginURL      string
	SessionCookie string
	Secure        bool
	// LogoutTimeout bounds the upstream sign-out so a hung request cannot
	// keep the browser from reaching the login page.
	LogoutTimeout time.Duration
	Panels        PanelDropper
	Recorder      Recorder
}

// Gate is the only way into authenticated pages: it asks the auth API who
// the caller is and sends everyone it cannot confirm to the login page.
type Gate struct {
	api    authapi.SessionAPI
	tokens *Tokens
	opts   GateOptions
}

// NewGate creates a Gate.
func NewGate(api authapi.SessionAPI, tokens *Tokens, opts GateOptions) *Gate {
	if opts.LoginURL == "" {
		opts.LoginURL = "/login.html"
	}
	if opts.LogoutTimeout <= 0 {
		opts.LogoutTimeout = 5 * time.Second
	}
	return &Gate{api: api, tokens: tokens, opts: opts}
}

// LoginURL is where failed checks and logouts land.
func (g *Gate) LoginURL() string {
	return g.opts.LoginURL
}

// Credentials returns the upstream credentials of r without the console's
// own cookie.
func (g *Gate) Credentials(r *http.Request) authapi.Credentials {
	return authapi.CredentialsFromRequest(r, TokenCookie)
}

// Check asks the auth API for the identity behind creds. Any failure,
// including a transport error, is a failed check.
func (g *Gate) Check(ctx context.Context, creds authapi.Credentials) (*models.SessionUser, error) {
	user, err := g.api.Me(ctx, creds)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Require admits requests whose session the auth API confirms and redirects
// all others to the login page. The user and console session id are stored
// in the request context.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := g.Check(r.Context(), g.Credentials(r))
		if err != nil {
			log.Info().Err(err).Str("path", r.URL.Path).Msg("Session check failed, redirecting to login")
			g.redirectToLogin(w, r)
			return
		}

		sessionID, err := g.consoleSession(w, r, *user)
		if err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to issue console token")
			http.Error(w, "Failed to start console session", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, *user)
		ctx = context.WithValue(ctx, sessionKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects users the gate admitted without the admin role. It
// must run after Require.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok || !user.IsAdmin() {
			http.Error(w, "Admin privileges required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logout ends the session. The upstream sign-out is best effort: its failure
// is logged and the browser lands on the login page regardless.
func (g *Gate) Logout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), g.opts.LogoutTimeout)
	err := g.api.Logout(ctx, g.Credentials(r))
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("Upstream logout failed, continuing")
		g.record("auth.logout.fail", "warn", "Upstream logout failed: "+err.Error())
	}

	if claims := g.readToken(r); claims != nil && g.opts.Panels != nil {
		g.opts.Panels.Drop(claims.SessionID)
	}
	g.expire(w, TokenCookie)
	if g.opts.SessionCookie != "" {
		g.expire(w, g.opts.SessionCookie)
	}
	http.Redirect(w, r, g.opts.LoginURL, http.StatusSeeOther)
}

// consoleSession returns the console session id of r, issuing a new token
// when there is none or it belongs to another user.
func (g *Gate) consoleSession(w http.ResponseWriter, r *http.Request, user models.SessionUser) (string, error) {
	if claims := g.readToken(r); claims != nil && claims.UserID == user.ID {
		return claims.SessionID, nil
	}
	sessionID := uuid.NewString()
	token, err := g.tokens.Generate(sessionID, user.ID)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Expires:  g.tokens.now().Add(g.tokens.ttl),
		HttpOnly: true,
		Secure:   g.opts.Secure,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	})
	return sessionID, nil
}

func (g *Gate) readToken(r *http.Request) *Claims {
	cookie, err := r.Cookie(TokenCookie)
	if err != nil || cookie.Value == "" {
		return nil
	}
	claims, err := g.tokens.Validate(cookie.Value)
	if err != nil {
		return nil
	}
	return claims
}

func (g *Gate) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	status := http.StatusFound
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		status = http.StatusSeeOther
	}
	http.Redirect(w, r, g.opts.LoginURL, status)
}

func (g *Gate) expire(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.opts.Secure,
	})
}

func (g *Gate) record(eventType, level, message string) {
	if g.opts.Recorder == nil {
		return
	}
	if err := g.opts.Recorder.CreateEvent(eventType, level, message, nil); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("Failed to record audit event")
	}
}
