package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleDriver = "driver"
	RoleAgent  = "agent"
	RoleAdmin  = "admin"

	// RoleSystem is assigned to collaborators that present the internal API key.
	RoleSystem = "system"

	internalKeyHeader = "X-Internal-API-Key"
	jwtIssuer         = "ecard-api"

	subjectKey = "auth_subject"
	roleKey    = "auth_role"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrInvalidToken   = errors.New("invalid token")
	ErrEmptyJWTSecret = errors.New("jwt secret cannot be empty")
)

// Claims are the JWT claims the API accepts. Subject carries the driver,
// agent or admin id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for subject with role.
func IssueToken(secret, subject, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrEmptyJWTSecret
	}

	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    jwtIssuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates tokenString and returns its claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrEmptyJWTSecret
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		},
		jwt.WithIssuer(jwtIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.Role == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Auth authenticates the caller with a bearer token, or with the internal
// API key for system collaborators. An empty internalKey disables the latter.
func Auth(secret, internalKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(internalKeyHeader); key != "" {
			if internalKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(internalKey)) != 1 {
				abort(c, http.StatusUnauthorized, "unauthorized", "invalid internal api key")
				return
			}
			c.Set(subjectKey, RoleSystem)
			c.Set(roleKey, RoleSystem)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "invalid authorization header format")
			return
		}

		claims, err := ParseToken(strings.TrimSpace(parts[1]), secret)
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				abort(c, http.StatusUnauthorized, "unauthorized", "token expired")
				return
			}
			abort(c, http.StatusUnauthorized, "unauthorized", "invalid or malformed token")
			return
		}

		c.Set(subjectKey, claims.Subject)
		c.Set(roleKey, claims.Role)
		c.Next()
	}
}

// RequireRole admits callers holding one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := Role(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "unauthorized", "caller role not found")
			return
		}
		if !hasRole(roles, role) {
			abort(c, http.StatusForbidden, "forbidden", "insufficient permissions")
			return
		}
		c.Next()
	}
}

// RequireDriverSelf restricts drivers to their own driver id, taken from the
// path parameter param. Other roles pass through unchanged.
func RequireDriverSelf(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := Role(c)
		if role != RoleDriver {
			c.Next()
			return
		}
		subject, _ := Subject(c)
		if subject == "" || subject != c.Param(param) {
			abort(c, http.StatusForbidden, "forbidden", "drivers may only access their own records")
			return
		}
		c.Next()
	}
}

// Subject returns the authenticated caller id.
func Subject(c *gin.Context) (string, bool) {
	return stringValue(c, subjectKey)
}

// Role returns the authenticated caller role.
func Role(c *gin.Context) (string, bool) {
	return stringValue(c, roleKey)
}

func stringValue(c *gin.Context, key string) (string, bool) {
	v, exists := c.Get(key)
	if !exists {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func abort(c *gin.Context, code int, kind, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": gin.H{"kind": kind, "message": message}})
}
