package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"merchantops/internal/logger"
	"merchantops/internal/permission"
	"merchantops/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Context keys set by Authenticate
const (
	ActorIDKey    = "actorID"
	ActorLabelKey = "actorLabel"
	TenantIDKey   = "tenantID"
)

var errMissingToken = errors.New("authorization is missing")

// TokenFromRequest reads the access_token cookie, falling back to the
// Authorization header.
func TokenFromRequest(c *gin.Context) (string, error) {
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token, nil
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", errMissingToken
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid authorization format. Expected 'Bearer <token>'")
	}
	return parts[1], nil
}

// IssueToken signs an access token for actorID acting inside tenantID.
func IssueToken(secret []byte, actorID, tenantID uuid.UUID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":       actorID.String(),
		"tenant_id": tenantID.String(),
		"name":      name,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Authenticate validates the JWT and stores the actor and tenant on the context.
// Identity is issued elsewhere; the token must carry sub and tenant_id.
func Authenticate(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := TokenFromRequest(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, err.Error()))
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token claims"))
			return
		}

		actorID, err := uuidClaim(claims, "sub")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, err.Error()))
			return
		}
		tenantID, err := uuidClaim(claims, "tenant_id")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, err.Error()))
			return
		}

		label, _ := claims["name"].(string)
		if label == "" {
			label = actorID.String()
		}

		c.Set(ActorIDKey, actorID)
		c.Set(ActorLabelKey, label)
		c.Set(TenantIDKey, tenantID)
		c.Request = c.Request.WithContext(logger.WithTenantID(c.Request.Context(), tenantID.String()))

		c.Next()
	}
}

// RequireCapability aborts with 403 unless the authenticated actor holds every
// capability in their tenant.
func RequireCapability(gate permission.Gate, capabilities ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, tenantID := ActorID(c), TenantID(c)
		if actorID == uuid.Nil || tenantID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authentication required"))
			return
		}

		for _, capability := range capabilities {
			ok, err := gate.HasPermission(c.Request.Context(), actorID, tenantID, capability)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to verify permissions"))
				return
			}
			if !ok {
				c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: missing permission '"+capability+"'"))
				return
			}
		}
		c.Next()
	}
}

func ActorID(c *gin.Context) uuid.UUID {
	id, _ := c.Get(ActorIDKey)
	v, _ := id.(uuid.UUID)
	return v
}

func ActorLabel(c *gin.Context) string {
	return c.GetString(ActorLabelKey)
}

func TenantID(c *gin.Context) uuid.UUID {
	id, _ := c.Get(TenantIDKey)
	v, _ := id.(uuid.UUID)
	return v
}

func uuidClaim(claims jwt.MapClaims, name string) (uuid.UUID, error) {
	raw, _ := claims[name].(string)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%s not found in token", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid %s in token", name)
	}
	return id, nil
}
