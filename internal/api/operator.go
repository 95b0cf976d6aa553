package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const operatorRole = "operator"

// OperatorClaims are carried by operator bearer tokens.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueOperatorToken signs an HS256 token granting operator access.
func IssueOperatorToken(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("operator secret cannot be empty")
	}
	claims := OperatorClaims{
		Role: operatorRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return token, nil
}

// ParseOperatorToken validates raw and returns its claims.
func ParseOperatorToken(secret []byte, raw string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.Role != operatorRole {
		return nil, fmt.Errorf("token role %q is not %s", claims.Role, operatorRole)
	}
	return claims, nil
}

// operatorOnly guards operator endpoints. Without a secret every operator
// request is refused.
func operatorOnly(secret []byte, audit *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			deny(c, audit, "operator secret is not configured")
			return
		}
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			deny(c, audit, "missing bearer token")
			return
		}
		claims, err := ParseOperatorToken(secret, strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			deny(c, audit, err.Error())
			return
		}
		c.Set("operator", claims.Subject)
		c.Next()
	}
}

func deny(c *gin.Context, audit *slog.Logger, reason string) {
	audit.Warn("access_denied",
		slog.String("path", c.Request.URL.Path),
		slog.String("method", c.Request.Method),
		slog.String("error", reason))
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{Error: ErrorDetail{Code: "UNAUTHORIZED", Message: "operator token required"}})
}
