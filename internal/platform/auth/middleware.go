package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
)

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrInvalidToken = errors.New("invalid session token")
)

// SessionMiddleware requires a bearer session token issued by Sessions and
// puts the session email on the request context.
func SessionMiddleware(s *Sessions) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, ErrMissingToken.Error())
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			email, err := s.Verify(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidToken.Error())
			}

			c.Set("user_id", email)
			ctx := WithUserID(c.Request().Context(), email)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// WithUserID returns a copy of ctx carrying the session user.
func WithUserID(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, UserIDKey, email)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// parserOptions pins the accepted algorithm so a token signed with anything
// but the shared HMAC key is rejected.
func parserOptions(issuer string) []jwt.ParserOption {
	return []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	}
}
