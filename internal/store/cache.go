package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const settingsCacheTTL = time.Hour

// SettingsCache is a read-through cache for store accounts, so every
// webhook doesn't pay a Dynamo read for settings that change rarely.
// All methods are nil-safe no-ops when redis isn't configured.
type SettingsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSettingsCacheFromEnv returns nil unless REDIS_URL is set.
func NewSettingsCacheFromEnv() *SettingsCache {
	url := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil
	}
	return &SettingsCache{rdb: redis.NewClient(opt), ttl: settingsCacheTTL}
}

func cacheKey(shop string) string {
	return fmt.Sprintf("shop-settings:%s", shop)
}

// cachedAccount carries the full stored form, secrets still encrypted.
// StoreAccount's own JSON shape is for API responses and omits them.
type cachedAccount struct {
	Shop             string  `json:"shop"`
	PartnerBaseURL   string  `json:"partnerBaseUrl"`
	PartnerAPIKeyEnc string  `json:"partnerApiKeyEnc,omitempty"`
	SSOSecretEnc     string  `json:"ssoSecretEnc,omitempty"`
	AutoRegister     bool    `json:"autoRegister"`
	SSOEnabled       bool    `json:"ssoEnabled"`
	CreditRate       float64 `json:"creditRate,omitempty"`
	EmbedURL         string  `json:"embedUrl,omitempty"`
	EmbedHeight      int     `json:"embedHeight,omitempty"`
	AlertsTopicArn   string  `json:"alertsTopicArn,omitempty"`
	InstalledAt      string  `json:"installedAt"`
	UpdatedAt        string  `json:"updatedAt"`
}

// Get returns the cached account (secrets still encrypted) or nil.
// Cache errors are treated as misses; the caller falls through to
// Dynamo.
func (c *SettingsCache) Get(ctx context.Context, shop string) *StoreAccount {
	if c == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, cacheKey(shop)).Result()
	if err != nil {
		return nil
	}
	var e cachedAccount
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil
	}
	return &StoreAccount{
		PK:               storePK(e.Shop),
		Shop:             e.Shop,
		PartnerBaseURL:   e.PartnerBaseURL,
		PartnerAPIKeyEnc: e.PartnerAPIKeyEnc,
		SSOSecretEnc:     e.SSOSecretEnc,
		AutoRegister:     e.AutoRegister,
		SSOEnabled:       e.SSOEnabled,
		CreditRate:       e.CreditRate,
		EmbedURL:         e.EmbedURL,
		EmbedHeight:      e.EmbedHeight,
		AlertsTopicArn:   e.AlertsTopicArn,
		InstalledAt:      e.InstalledAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func (c *SettingsCache) Set(ctx context.Context, shop string, acct *StoreAccount) {
	if c == nil {
		return
	}
	b, err := json.Marshal(cachedAccount{
		Shop:             acct.Shop,
		PartnerBaseURL:   acct.PartnerBaseURL,
		PartnerAPIKeyEnc: acct.PartnerAPIKeyEnc,
		SSOSecretEnc:     acct.SSOSecretEnc,
		AutoRegister:     acct.AutoRegister,
		SSOEnabled:       acct.SSOEnabled,
		CreditRate:       acct.CreditRate,
		EmbedURL:         acct.EmbedURL,
		EmbedHeight:      acct.EmbedHeight,
		AlertsTopicArn:   acct.AlertsTopicArn,
		InstalledAt:      acct.InstalledAt,
		UpdatedAt:        acct.UpdatedAt,
	})
	if err != nil {
		return
	}
	c.rdb.SetEx(ctx, cacheKey(shop), string(b), c.ttl)
}

func (c *SettingsCache) Del(ctx context.Context, shop string) {
	if c == nil {
		return
	}
	c.rdb.Del(ctx, cacheKey(shop))
}
