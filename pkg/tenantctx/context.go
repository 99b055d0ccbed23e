package tenantctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type keyType string

const (
	OrgIDKey keyType = "org_id"
)

// WithOrgID returns a context carrying the tenant organization id.
func WithOrgID(ctx context.Context, orgID snowflake.ID) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

// OrgID extracts the tenant organization id from the context.
func OrgID(ctx context.Context) (snowflake.ID, bool) {
	id, ok := ctx.Value(OrgIDKey).(snowflake.ID)
	return id, ok
}
