package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	TenantLocalKey = "tenant_id"
)

// RequireTenant rejects requests without an X-Tenant-ID header and stores
// the tenant for TenantID.
func RequireTenant() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}
		tenant := strings.TrimSpace(c.Get(HeaderTenantID))
		if tenant == "" {
			return WriteError(c, pkgError.NewValidationError(HeaderTenantID, "header is required"))
		}
		c.Locals(TenantLocalKey, tenant)
		return c.Next()
	}
}

func TenantID(c *fiber.Ctx) string {
	tenant, _ := c.Locals(TenantLocalKey).(string)
	return tenant
}
