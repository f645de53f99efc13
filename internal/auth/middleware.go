package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextKey is used for context keys to avoid collisions
type ContextKey string

const (
	// PrincipalKey is the context key for the authenticated caller
	PrincipalKey ContextKey = "auth_principal"
)

// Middleware adapts a Gate to HTTP frameworks.
type Middleware struct {
	gate Gate
}

func NewMiddleware(g Gate) *Middleware {
	if g == nil {
		g = OpenGate{}
	}
	return &Middleware{gate: g}
}

// GinAuth returns a Gin middleware function for authentication
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := m.gate.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": err.Error(),
			})
			return
		}
		c.Set(string(PrincipalKey), p)
		c.Next()
	}
}

// GinRequirePermission returns a Gin middleware that requires specific permissions
func (m *Middleware) GinRequirePermission(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(string(PrincipalKey))
		p, ok := v.(Principal)
		if !exists || !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_required",
				"message": "Authentication required",
			})
			return
		}
		if !HasPermission(p.Role, resource, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "permission_denied",
				"message": "Insufficient permissions",
			})
			return
		}
		c.Next()
	}
}

// HTTPAuth returns a standard HTTP middleware function for authentication
func (m *Middleware) HTTPAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.gate.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication_failed","message":"Authentication required"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), PrincipalKey, p)))
	})
}

// FromContext returns the principal stored by HTTPAuth.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok
}
