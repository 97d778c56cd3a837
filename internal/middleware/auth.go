package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// ContextKeyUserID stores the authenticated user id in the echo context.
	ContextKeyUserID = "user_id"
	// ContextKeyToken stores the raw bearer token, forwarded to collaborators.
	ContextKeyToken = "bearer_token"
)

// Claims are the custom JWT claims issued by the identity service.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTAuthMiddleware validates the access token signature and expiry and puts
// the user id and the raw token into the echo context. Token revocation is the
// identity service's responsibility, not checked here.
func JWTAuthMiddleware(secretKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header missing")
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
			}

			tokenString := parts[1]
			claims := &Claims{}

			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secretKey), nil
			})

			if err != nil {
				c.Logger().Errorf("JWT parsing/validation error: %v", err)
				switch {
				case errors.Is(err, jwt.ErrTokenExpired):
					return echo.NewHTTPError(http.StatusUnauthorized, "Token has expired")
				case errors.Is(err, jwt.ErrTokenMalformed):
					return echo.NewHTTPError(http.StatusUnauthorized, "Token is malformed")
				case errors.Is(err, jwt.ErrTokenSignatureInvalid):
					return echo.NewHTTPError(http.StatusUnauthorized, "Token signature is invalid")
				default:
					return echo.NewHTTPError(http.StatusUnauthorized, fmt.Sprintf("Token validation failed: %v", err))
				}
			}

			if !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "Token is invalid")
			}
			if claims.UserID == uuid.Nil {
				c.Logger().Error("UserID missing in JWT claims")
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token: UserID missing")
			}

			c.Set(ContextKeyUserID, claims.UserID)
			c.Set(ContextKeyToken, tokenString)

			return next(c)
		}
	}
}

// GenerateTestJWT signs a short-lived token for tests only.
func GenerateTestJWT(userID uuid.UUID, secretKey string, validityDuration time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign test JWT: %w", err)
	}
	return tokenString, nil
}
