package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mentorloop/meetroom/internal/domain/models"
	"github.com/mentorloop/meetroom/internal/infra/ports/http/middleware"
)

// ResolveIdentity turns an optional marketplace session token into the
// local participant identity. An absent or invalid token means the guest
// flow: a synthetic user id and a nickname collected before joining.
func ResolveIdentity(token, secret, nickname string) models.Identity {
	if token != "" && secret != "" {
		if id, err := middleware.ParseIdentity(token, secret); err == nil {
			return models.Identity{
				DisplayName:   id.Username,
				Authenticated: true,
				UserID:        id.UserID,
			}
		}
	}

	return models.Identity{
		DisplayName:   nickname,
		Authenticated: false,
		UserID:        GuestID(),
	}
}

// GuestID builds the synthetic id guests carry through the admission flow.
func GuestID() string {
	return fmt.Sprintf("guest_%d", time.Now().UnixMilli())
}

// NewSessionToken mints a marketplace-style session token. Used by the CLI
// and tests; the production marketplace issues its own.
func NewSessionToken(userID, username, secret string, ttl time.Duration) (string, error) {
	claims := middleware.Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}

	return token, nil
}
