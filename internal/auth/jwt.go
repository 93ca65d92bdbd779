// Package auth issues and checks the HS256 JWTs used by the HTTP API and the relay.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	claimSubject = "sub"
	claimUserID  = "user_id"
	claimRole    = "role"

	roleAdmin = "admin"

	// AudienceGateway marks tokens minted for the gateway supervisor. They
	// are never accepted as user sessions.
	AudienceGateway = "gateway"
)

// ErrInvalidToken is returned by ParseToken for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the decoded subset of a session token.
type Claims struct {
	UserID    string
	Role      string
	ExpiresAt time.Time
}

// JWTMiddleware returns a JWT auth middleware configured for HS256 tokens.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	verify := echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ,query:token",
		Skipper:       skipper,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return verify(rejectServiceTokens(next))
	}
}

// rejectServiceTokens runs after echo-jwt; skipped routes carry no token.
func rejectServiceTokens(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token, ok := c.Get("user").(*jwt.Token); ok && token != nil {
			if claims, ok := token.Claims.(jwt.MapClaims); ok && isServiceToken(claims) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
		}
		return next(c)
	}
}

// UserIDFromContext extracts the user id from JWT claims.
func UserIDFromContext(c echo.Context) (string, error) {
	claims, err := claimsFromContext(c)
	if err != nil {
		return "", err
	}
	if userID := claimString(claims, claimUserID); userID != "" {
		return userID, nil
	}
	if userID := claimString(claims, claimSubject); userID != "" {
		return userID, nil
	}
	return "", echo.NewHTTPError(http.StatusUnauthorized, "user id missing")
}

// RequireAdmin rejects requests whose token does not carry the admin role.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, err := claimsFromContext(c)
		if err != nil {
			return err
		}
		if claimString(claims, claimRole) != roleAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "admin role required")
		}
		return next(c)
	}
}

// GenerateToken creates a signed JWT for the user.
func GenerateToken(userID, role, secret string, expiresIn time.Duration) (string, time.Time, error) {
	return sign(userID, secret, expiresIn, jwt.MapClaims{claimRole: role})
}

// GenerateServiceToken creates the token the gateway supervisor receives for
// calls made on behalf of userID.
func GenerateServiceToken(userID, secret string, expiresIn time.Duration) (string, time.Time, error) {
	return sign(userID, secret, expiresIn, jwt.MapClaims{"aud": jwt.ClaimStrings{AudienceGateway}})
}

func sign(userID, secret string, expiresIn time.Duration, extra jwt.MapClaims) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims := jwt.MapClaims{
		claimSubject: userID,
		claimUserID:  userID,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken validates a raw session token outside of the echo middleware,
// as the relay does before upgrading. Gateway service tokens are rejected.
func ParseToken(raw, secret string) (Claims, error) {
	claims, err := parse(raw, secret)
	if err != nil || isServiceToken(claims) {
		return Claims{}, ErrInvalidToken
	}
	return toClaims(claims)
}

// ParseServiceToken validates a token minted by GenerateServiceToken.
func ParseServiceToken(raw, secret string) (Claims, error) {
	claims, err := parse(raw, secret)
	if err != nil || !isServiceToken(claims) {
		return Claims{}, ErrInvalidToken
	}
	return toClaims(claims)
}

func parse(raw, secret string) (jwt.MapClaims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" || strings.TrimSpace(secret) == "" {
		return nil, ErrInvalidToken
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func toClaims(claims jwt.MapClaims) (Claims, error) {
	userID := claimString(claims, claimUserID)
	if userID == "" {
		userID = claimString(claims, claimSubject)
	}
	if userID == "" {
		return Claims{}, ErrInvalidToken
	}
	out := Claims{UserID: userID, Role: claimString(claims, claimRole)}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

func isServiceToken(claims jwt.MapClaims) bool {
	aud, err := claims.GetAudience()
	if err != nil {
		return true
	}
	for _, a := range aud {
		if a == AudienceGateway {
			return true
		}
	}
	return false
}

func claimsFromContext(c echo.Context) (jwt.MapClaims, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
