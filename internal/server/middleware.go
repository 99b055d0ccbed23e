package server

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/apotheca/pkg/tenantctx"
)

var ErrMissingOrgID = errors.New("missing_org_id")

const headerOrgID = "X-Org-ID"

// OrgContext resolves the tenant from the X-Org-ID header and stores it
// on the request context. Requests without a valid org id are rejected.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(headerOrgID)
		if raw == "" {
			AbortWithError(c, ErrMissingOrgID)
			return
		}

		orgID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrMissingOrgID)
			return
		}

		ctx := tenantctx.WithOrgID(c.Request.Context(), orgID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
