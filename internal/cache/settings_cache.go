package cache

import (
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/apotheca/internal/payment/domain"
)

const defaultSettingsTTL = 5 * time.Minute

// SettingsCache keeps per-tenant payment settings off the hot intent
// path. Settings change rarely; a short TTL bounds staleness after an
// operator update.
type SettingsCache struct {
	entries Cache[snowflake.ID, *paymentdomain.PaymentSettings]
	ttl     time.Duration
}

func NewSettingsCache() *SettingsCache {
	return &SettingsCache{
		entries: NewTTLCache[snowflake.ID, *paymentdomain.PaymentSettings](),
		ttl:     defaultSettingsTTL,
	}
}

func (c *SettingsCache) Get(orgID snowflake.ID) (*paymentdomain.PaymentSettings, bool) {
	if c == nil {
		return nil, false
	}
	return c.entries.Get(orgID)
}

func (c *SettingsCache) Set(orgID snowflake.ID, settings *paymentdomain.PaymentSettings) {
	if c == nil || settings == nil {
		return
	}
	c.entries.Set(orgID, settings, c.ttl)
}
