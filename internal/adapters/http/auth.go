package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

// Claims is the bearer token payload. Subject carries the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type actorContextKey struct{}

func actorFromContext(ctx context.Context) *domain.User {
	actor, _ := ctx.Value(actorContextKey{}).(*domain.User)
	return actor
}

// SignToken issues an HS256 token for a user.
func SignToken(secret []byte, userID string, role domain.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseToken(secret []byte, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// authMiddleware resolves the acting user from the bearer token. The user
// store is authoritative for role and status.
func (rt *Router) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const op = "authenticate"

		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			rt.writeError(w, r, domain.Fail(domain.ErrUnauthorized, op, "bearer token is required"))
			return
		}
		if len(rt.jwtSecret) == 0 {
			rt.writeError(w, r, domain.Fail(domain.ErrUnauthorized, op, "token verification is not configured"))
			return
		}
		claims, err := parseToken(rt.jwtSecret, raw)
		if err != nil {
			rt.writeError(w, r, domain.WrapError(domain.ErrUnauthorized, op, err))
			return
		}

		actor, err := rt.users.GetByID(r.Context(), claims.Subject)
		if err != nil {
			if domain.IsKind(err, domain.ErrNotFound) {
				rt.writeError(w, r, domain.Fail(domain.ErrUnauthorized, op, "unknown user"))
				return
			}
			rt.writeError(w, r, err)
			return
		}
		if claims.Role != "" && claims.Role != string(actor.Role) {
			slog.Warn("auth_role_mismatch",
				"request_id", requestIDFromContext(r.Context()),
				"user_id", actor.ID,
				"token_role", claims.Role,
				"stored_role", actor.Role,
			)
			rt.writeError(w, r, domain.Fail(domain.ErrUnauthorized, op, "token role does not match account"))
			return
		}

		if info := requestInfoFromContext(r.Context()); info != nil {
			info.userID = actor.ID
			info.role = string(actor.Role)
		}
		ctx := context.WithValue(r.Context(), actorContextKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
