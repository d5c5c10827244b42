package middleware

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/mentorloop/meetroom/internal/infra/appctx"
)

// Claims carried by marketplace session tokens.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTAuthMiddleware requires a valid bearer token and attaches the caller's
// identity to the request context.
func JWTAuthMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request())
			if token == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing or malformed jwt"})
			}

			identity, err := ParseIdentity(token, secret)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired jwt"})
			}

			c.SetRequest(
				c.Request().WithContext(
					appctx.WithIdentity(c.Request().Context(), identity),
				),
			)

			return next(c)
		}
	}
}

// ParseIdentity validates a session token and extracts the principal.
func ParseIdentity(token, secret string) (appctx.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return appctx.Identity{}, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return appctx.Identity{}, jwt.ErrTokenInvalidClaims
	}

	return appctx.Identity{
		UserID:   claims.Subject,
		Username: claims.Username,
	}, nil
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "

	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}

	if cookie, err := r.Cookie("jwt"); err == nil {
		return cookie.Value
	}

	return ""
}
