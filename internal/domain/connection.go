package domain

import "time"

// SyncStatus tracks where a connection sits in the sync lifecycle.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

// Connection represents one merchant-shop authorization on TikTok Shop.
// It is the only mutable shared resource in the system: the token manager
// updates it on refresh and the sync engine updates its status and cursor.
type Connection struct {
	ID     string `json:"id" bson:"_id"`
	UserID string `json:"user_id" bson:"user_id"`

	// ShopID may be empty until the first authorized-shops call succeeds
	// (the platform can grant the shop-listing scope asynchronously).
	ShopID     string `json:"shop_id" bson:"shop_id"`
	ShopCipher string `json:"shop_cipher" bson:"shop_cipher"`
	ShopName   string `json:"shop_name" bson:"shop_name"`
	Region     string `json:"region" bson:"region"`

	AccessToken        string    `json:"-" bson:"access_token"`
	AccessTokenExpiry  time.Time `json:"access_token_expiry" bson:"access_token_expiry"`
	RefreshToken       string    `json:"-" bson:"refresh_token"`
	RefreshTokenExpiry time.Time `json:"refresh_token_expiry" bson:"refresh_token_expiry"`

	SyncStatus   SyncStatus `json:"sync_status" bson:"sync_status"`
	LastSyncedAt time.Time  `json:"last_synced_at" bson:"last_synced_at"`
	ConnectedAt  time.Time  `json:"connected_at" bson:"connected_at"`
	UpdatedAt    time.Time  `json:"updated_at" bson:"updated_at"`
}

// CanCallShopEndpoints reports whether the connection carries the shop
// cipher required on shop-scoped API calls.
func (c *Connection) CanCallShopEndpoints() bool {
	return c.ShopCipher != ""
}

// ApplyTokens merges a refreshed credential set into the connection while
// keeping both expiries monotonically non-decreasing. A refresh must never
// shorten validity, so an earlier expiry from upstream is ignored.
func (c *Connection) ApplyTokens(accessToken string, accessExpiry time.Time, refreshToken string, refreshExpiry time.Time) {
	c.AccessToken = accessToken
	if accessExpiry.After(c.AccessTokenExpiry) {
		c.AccessTokenExpiry = accessExpiry
	}
	if refreshToken != "" {
		c.RefreshToken = refreshToken
	}
	if refreshExpiry.After(c.RefreshTokenExpiry) {
		c.RefreshTokenExpiry = refreshExpiry
	}
	c.UpdatedAt = time.Now()
}
