package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	TenantHeader = "X-Tenant-Id"
	tenantKey    = "tenant_id"
)

// Tenant scopes the request to the tenant named in the X-Tenant-Id header.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := strings.TrimSpace(c.GetHeader(TenantHeader))
		if tenant == "" {
			abort(c, http.StatusBadRequest, "MISSING_TENANT", "X-Tenant-Id header is required")
			return
		}
		c.Set(tenantKey, tenant)
		c.Next()
	}
}

// TenantID returns the tenant set by Tenant, or "" outside a tenant scope.
func TenantID(c *gin.Context) string {
	return c.GetString(tenantKey)
}
