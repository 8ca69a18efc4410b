package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"tasklane/internal/app"
)

type AuthConfig struct {
	JWTSecret string
	// AllowHeaderIdentity trusts X-Tenant-Id, X-User-Id and X-Roles when no
	// bearer token is sent. Development and tests only.
	AllowHeaderIdentity bool
	// ApprovalSecret, when set, must match X-Tasklane-Secret on approval
	// events.
	ApprovalSecret string
	Log            *zap.Logger
}

type Principal struct {
	TenantID string
	UserID   string
	Roles    []string
	Source   string
}

type principalKey struct{}

func (c AuthConfig) log() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// requestContext is the caller identity every engine call takes.
func requestContext(ctx context.Context) (app.RequestContext, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok || p.UserID == "" || p.TenantID == "" {
		return app.RequestContext{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	return app.RequestContext{TenantID: p.TenantID, UserID: p.UserID, Roles: p.Roles}, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles,omitempty"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return Principal{}, errors.New("sub and tenant_id claims required")
	}
	return Principal{
		TenantID: claims.TenantID,
		UserID:   claims.Subject,
		Roles:    claims.Roles,
		Source:   "jwt",
	}, nil
}

// SignToken issues an HS256 token carrying the identity claims the API reads.
func SignToken(secret string, p Principal) (string, error) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: p.UserID},
		TenantID:         p.TenantID,
		Roles:            p.Roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func splitRoles(raw string) []string {
	var out []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	eventsPath := path.Join(basePath, "approval/events")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			switch req.URL.Path {
			case healthPath, path.Join(basePath, "openapi.json"), path.Join(basePath, "docs"):
				next.ServeHTTP(w, req)
				return
			case eventsPath:
				got := req.Header.Get("X-Tasklane-Secret")
				if cfg.ApprovalSecret != "" && subtle.ConstantTimeCompare([]byte(got), []byte(cfg.ApprovalSecret)) != 1 {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					cfg.log().Debug("rejected bearer token", zap.Error(err))
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			user := strings.TrimSpace(req.Header.Get("X-User-Id"))
			tenant := strings.TrimSpace(req.Header.Get("X-Tenant-Id"))
			if cfg.AllowHeaderIdentity && user != "" && tenant != "" {
				cfg.log().Debug("header identity", zap.String("tenant", tenant), zap.String("user", user))
				ctx := withPrincipal(req.Context(), Principal{
					TenantID: tenant,
					UserID:   user,
					Roles:    splitRoles(req.Header.Get("X-Roles")),
					Source:   "header",
				})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
