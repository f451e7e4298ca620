// Package auth authenticates bearer tokens. The token subject is the only
// source of the caller's user id.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes and roles checked by the API.
const (
	ScopeWalletsRead    = "wallets:read"
	ScopeTransfersWrite = "transfers:write"
	ScopeP2PWrite       = "p2p:write"
	ScopeTradeExecute   = "trade:execute"

	RoleAdmin     = "admin"
	RoleCorporate = "corporate"
)

type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
	Roles  []string `json:"roles,omitempty"`
}

type principalKey struct{}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Scopes map[string]struct{}
	Roles  map[string]struct{}
}

func (p *Principal) HasScope(s string) bool {
	_, ok := p.Scopes[s]
	return ok
}

func (p *Principal) HasRole(r string) bool {
	_, ok := p.Roles[r]
	return ok
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

type JWTValidator struct {
	Keys   *KeySet
	Issuer string
	Leeway time.Duration
}

func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	if v.Keys == nil || v.Keys.Len() == 0 {
		return nil, errors.New("missing keyset")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.Leeway),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := v.Keys.Lookup(kid)
		if !ok {
			return nil, errors.New("unknown signing key")
		}
		return key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func Authenticate(v *JWTValidator, onError func(http.ResponseWriter, *http.Request, int, string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			authz := r.Header.Get("Authorization")
			if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			claims, err := v.Validate(strings.TrimSpace(authz[len("Bearer "):]))
			if err != nil {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			p := &Principal{UserID: claims.Subject, Scopes: set(claims.Scopes), Roles: set(claims.Roles)}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireScopes rejects callers missing any of the required scopes.
// Administrators pass every scope check.
func RequireScopes(onError func(http.ResponseWriter, *http.Request, int, string), required ...string) func(http.Handler) http.Handler {
	return requirePrincipal(onError, func(p *Principal) bool {
		if p.HasRole(RoleAdmin) {
			return true
		}
		for _, s := range required {
			if !p.HasScope(s) {
				return false
			}
		}
		return true
	})
}

func RequireRole(onError func(http.ResponseWriter, *http.Request, int, string), role string) func(http.Handler) http.Handler {
	return requirePrincipal(onError, func(p *Principal) bool { return p.HasRole(role) })
}

func requirePrincipal(onError func(http.ResponseWriter, *http.Request, int, string), allowed func(*Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !allowed(p) {
				onError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func set(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
