package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	UserContextKey ContextKey = "user_id"
	OrgContextKey  ContextKey = "org_id"
)

// JWTClaims represents the claims in our JWT tokens
type JWTClaims struct {
	UserID int64 `json:"user_id"`
	OrgID  int64 `json:"org_id"`
	jwt.RegisteredClaims
}

// RequireAuth validates the Bearer token and places the caller's user and
// org ids on the request context.
func RequireAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims := &JWTClaims{}
			token, err := jwt.ParseWithClaims(tokenParts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}
			if claims.OrgID == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "Token missing organization claim")
			}

			c.Set(string(UserContextKey), claims.UserID)
			c.Set(string(OrgContextKey), claims.OrgID)

			return next(c)
		}
	}
}

// IssueToken mints a signed access token, used by the CLI and tests.
func IssueToken(secret string, userID, orgID int64, ttl time.Duration) (string, error) {
	claims := &JWTClaims{
		UserID: userID,
		OrgID:  orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func orgID(c echo.Context) int64 {
	if v, ok := c.Get(string(OrgContextKey)).(int64); ok {
		return v
	}
	return 0
}
