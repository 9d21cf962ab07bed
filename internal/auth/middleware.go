package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ms-contest/internal/config"
	"ms-contest/internal/logger"
	"ms-contest/internal/utils"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const adminKey contextKey = "admin_subject"

const AdminTokenHeader = "X-Admin-Token"

// verifyFunc returns the token subject
type verifyFunc func(ctx context.Context, rawToken string) (string, error)

// AdminAuth guards the administrative routes. A request passes with either the static
// admin token or an OIDC bearer token. With neither configured every request is refused.
type AdminAuth struct {
	token  string
	verify verifyFunc
	logger *logger.Logger
}

func NewAdminAuth(ctx context.Context, cfg config.AdminConfig, log *logger.Logger) (*AdminAuth, error) {
	a := &AdminAuth{token: cfg.Token, logger: log}
	if cfg.OIDCIssuer == "" {
		return a, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{
		ClientID:          cfg.OIDCClientID,
		SkipClientIDCheck: cfg.OIDCClientID == "",
	})

	a.verify = func(ctx context.Context, rawToken string) (string, error) {
		idToken, err := verifier.Verify(ctx, rawToken)
		if err != nil {
			return "", err
		}
		var claims struct {
			Sub string `json:"sub"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return "", err
		}
		return claims.Sub, nil
	}
	return a, nil
}

// Enabled reports whether any admin credential is configured
func (a *AdminAuth) Enabled() bool {
	return a.token != "" || a.verify != nil
}

func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			a.deny(w, r, http.StatusForbidden, "admin access is disabled")
			return
		}

		subject, err := a.authenticate(r)
		if err != nil {
			a.deny(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), adminKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AdminAuth) authenticate(r *http.Request) (string, error) {
	if presented := r.Header.Get(AdminTokenHeader); presented != "" {
		if a.token != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) == 1 {
			return "admin-token", nil
		}
		return "", errors.New("invalid admin token")
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing credentials")
	}
	if a.verify == nil {
		return "", errors.New("bearer tokens are not accepted")
	}

	// Expect "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid Authorization header format")
	}
	subject, err := a.verify(r.Context(), parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return subject, nil
}

func (a *AdminAuth) deny(w http.ResponseWriter, r *http.Request, status int, reason string) {
	if a.logger != nil {
		a.logger.LogSecurity("ADMIN_DENIED", fmt.Sprintf("%s %s from %s: %s", r.Method, r.URL.Path, r.RemoteAddr, reason))
	}
	utils.WriteError(w, status, "admin authorization failed", errors.New(reason))
}

// AdminSubject returns who passed the admin check
func AdminSubject(ctx context.Context) string {
	if sub, ok := ctx.Value(adminKey).(string); ok {
		return sub
	}
	return ""
}
