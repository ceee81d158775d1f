package tiktok

import (
	"os"
	"strings"
	"time"
)

// Config carries everything a signed platform call needs. It is passed
// explicitly into the client and the auth flow; there is no ambient client
// instance or hidden global state.
//
// Endpoint paths are configuration rather than constants: the finance paths
// have varied across platform versions, and new endpoints should be added
// without touching the signer or token manager.
type Config struct {
	AppKey    string
	AppSecret string

	// BaseURL hosts the signed shop-scoped endpoints.
	BaseURL string
	// AuthBaseURL hosts the token endpoints.
	AuthBaseURL string
	// AuthorizeURL is the merchant-facing authorization page the OAuth flow
	// redirects to.
	AuthorizeURL string

	ShopsPath                 string
	StatementTransactionsPath string
	OrdersSearchPath          string
	SettlementsSearchPath     string
	TokenGetPath              string
	TokenRefreshPath          string

	Timeout time.Duration

	// TypeFieldOrder is the ordered list of candidate field names checked
	// when classifying a statement line. Not a documented contract upstream,
	// so it stays configurable.
	TypeFieldOrder []string
}

// ConfigFromEnv builds a Config from the environment with workable defaults
// for everything except the app credentials.
func ConfigFromEnv() Config {
	cfg := Config{
		AppKey:                    os.Getenv("TIKTOK_APP_KEY"),
		AppSecret:                 os.Getenv("TIKTOK_APP_SECRET"),
		BaseURL:                   envOr("TIKTOK_API_BASE_URL", "https://open-api.tiktokglobalshop.com"),
		AuthBaseURL:               envOr("TIKTOK_AUTH_BASE_URL", "https://auth.tiktok-shops.com"),
		AuthorizeURL:              envOr("TIKTOK_AUTHORIZE_URL", "https://services.tiktokshop.com/open/authorize"),
		ShopsPath:                 envOr("TIKTOK_SHOPS_PATH", "/authorization/202309/shops"),
		StatementTransactionsPath: envOr("TIKTOK_STATEMENT_TX_PATH", "/finance/202309/statement_transactions/search"),
		OrdersSearchPath:          envOr("TIKTOK_ORDERS_PATH", "/order/202309/orders/search"),
		SettlementsSearchPath:     envOr("TIKTOK_SETTLEMENTS_PATH", "/finance/202309/settlements/search"),
		TokenGetPath:              envOr("TIKTOK_TOKEN_GET_PATH", "/api/v2/token/get"),
		TokenRefreshPath:          envOr("TIKTOK_TOKEN_REFRESH_PATH", "/api/v2/token/refresh"),
		Timeout:                   30 * time.Second,
		TypeFieldOrder:            []string{"statement_type", "type", "transaction_type"},
	}
	if v := os.Getenv("TIKTOK_API_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("SYNC_TYPE_FIELDS"); v != "" {
		fields := []string{}
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
		if len(fields) > 0 {
			cfg.TypeFieldOrder = fields
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
