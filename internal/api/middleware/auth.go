package middleware

import (
	"net/http"
	"strings"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/service"
	"github.com/gin-gonic/gin"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxWallet   = "wallet"
	CtxOperator = "operator"
	CtxRole     = "role"
)

// WalletTokenParser verifies wallet identity tokens.
type WalletTokenParser interface {
	ParseWalletToken(token string) (string, error)
}

// AdminTokenParser verifies back-office tokens.
type AdminTokenParser interface {
	ParseAdminToken(token string) (*service.AppClaims, error)
}

func unauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    "ERR_UNAUTHORIZED",
	})
}

func bearer(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(header, "Bearer "), true
}

// ──────────────────────────────────────────────────────────────────────────────
// WalletJWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// WalletJWTMiddleware validates the Bearer wallet token and stores the
// normalized wallet address in the gin context.
func WalletJWTMiddleware(tokens WalletTokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearer(c)
		if !ok {
			unauthorized(c, domain.ErrUnauthorized)
			return
		}
		wallet, err := tokens.ParseWalletToken(tokenString)
		if err != nil {
			unauthorized(c, domain.ErrTokenInvalid)
			return
		}
		c.Set(CtxWallet, wallet)
		c.Next()
	}
}

// GetWallet retrieves the verified wallet address from the gin context.
// Returns "" if the middleware was not applied.
func GetWallet(c *gin.Context) string {
	w, _ := c.Get(CtxWallet)
	s, _ := w.(string)
	return s
}

// ──────────────────────────────────────────────────────────────────────────────
// Admin middleware
// ──────────────────────────────────────────────────────────────────────────────

// AdminJWTMiddleware validates a back-office token and stores the operator
// and role in the gin context.
func AdminJWTMiddleware(tokens AdminTokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearer(c)
		if !ok {
			unauthorized(c, domain.ErrUnauthorized)
			return
		}
		claims, err := tokens.ParseAdminToken(tokenString)
		if err != nil {
			unauthorized(c, domain.ErrTokenInvalid)
			return
		}
		c.Set(CtxOperator, claims.Subject)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// MutationMiddleware allows only roles that may change reserve or settlement
// state. Must be placed after AdminJWTMiddleware in the chain.
func MutationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetRole(c).CanMutate() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "insufficient permissions",
				"code":    "ERR_FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

// GetRole retrieves the operator's role from the gin context.
func GetRole(c *gin.Context) domain.AdminRole {
	v, _ := c.Get(CtxRole)
	r, _ := v.(domain.AdminRole)
	return r
}

// GetOperator retrieves the operator id from the gin context.
func GetOperator(c *gin.Context) string {
	v, _ := c.Get(CtxOperator)
	s, _ := v.(string)
	return s
}

// ──────────────────────────────────────────────────────────────────────────────
// IP allowlist
// ──────────────────────────────────────────────────────────────────────────────

// IPAllowlistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func IPAllowlistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not allowlisted",
				"code":    "ERR_FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}
