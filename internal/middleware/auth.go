package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/memodb-io/deploy-platform/internal/config"
	"github.com/memodb-io/deploy-platform/internal/modules/serializer"
)

const userIDKey = "user_id"

var errNoBearer = errors.New("missing bearer token")

// UserAuth requires a valid platform user bearer token and stores the user id
// in the context.
func UserAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := userFromHeader(cfg, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, serializer.AuthErr("Unauthorized"))
			return
		}
		setUser(c, userID)
		c.Next()
	}
}

// OptionalUserAuth lets requests without an Authorization header through
// anonymously. A header that is present but invalid is still rejected.
func OptionalUserAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(c.GetHeader("Authorization")) == "" {
			c.Next()
			return
		}
		userID, err := userFromHeader(cfg, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, serializer.AuthErr("Unauthorized"))
			return
		}
		setUser(c, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func setUser(c *gin.Context, userID string) {
	// Set user_id attribute on the current span for telemetry filtering
	span := trace.SpanFromContext(c.Request.Context())
	if span.SpanContext().IsValid() {
		span.SetAttributes(attribute.String("user_id", userID))
	}
	c.Set(userIDKey, userID)
}

func userFromHeader(cfg *config.Config, header string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errNoBearer
	}
	return ParseUserToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, strings.TrimSpace(raw))
}

// ParseUserToken verifies an HMAC signed JWT and returns its user id, taken
// from "sub" or, failing that, "user_id".
func ParseUserToken(secret, issuer, raw string) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret not configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}
	if sub, _ := claims["sub"].(string); sub != "" {
		return sub, nil
	}
	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	return "", errors.New("token has no user id")
}
