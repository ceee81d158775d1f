package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tiktok-shop-finance-layer/internal/domain"
	"tiktok-shop-finance-layer/internal/infrastructure/metrics"
	"tiktok-shop-finance-layer/internal/ports"

	"github.com/rs/zerolog"
)

// envelope is the platform's JSON response wrapper. Its code and message are
// independent of the HTTP status: a non-zero code is an application-level
// error even when the transport succeeded.
type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewClient creates a signed TikTok Shop API client. The client never
// retries; retry policy belongs to the sync engine.
func NewClient(cfg Config, m *metrics.Metrics, logger zerolog.Logger) ports.PlatformClient {
	return &client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		metrics: m,
		logger:  logger,
	}
}

// request assembles the common query parameters, signs the fully assembled
// set, and parses the envelope. accessToken travels in the x-tts-access-token
// header and is excluded from the canonical string by the signer.
func (c *client) request(ctx context.Context, method, host, path, accessToken, shopCipher string, extra url.Values, body []byte) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("app_key", c.cfg.AppKey)
	params.Set("timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if shopCipher != "" {
		params.Set("shop_cipher", shopCipher)
	}
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	params.Set("sign", Sign(path, params, body, c.cfg.AppSecret))

	reqURL := host + path + "?" + params.Encode()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("x-tts-access-token", accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(path, "transport_error")
		return nil, &domain.TransportError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&env); err != nil {
		c.observe(path, "parse_error")
		c.logger.Error().
			Err(err).
			Str("endpoint", path).
			Int("http_status", resp.StatusCode).
			Msg("Platform response was not a JSON envelope")
		return nil, &domain.ParseError{Endpoint: path, Err: err}
	}

	if env.Code != 0 {
		c.observe(path, "api_error")
		c.logger.Warn().
			Str("endpoint", path).
			Int("code", env.Code).
			Str("message", env.Message).
			Str("request_id", env.RequestID).
			Msg("Platform rejected request")
		return nil, &domain.APIError{Code: env.Code, Message: env.Message}
	}

	c.observe(path, "ok")
	return env.Data, nil
}

func (c *client) observe(endpoint, outcome string) {
	if c.metrics != nil {
		c.metrics.APIRequests.WithLabelValues(endpoint, outcome).Inc()
	}
}

type tokenPayload struct {
	AccessToken          string `json:"access_token"`
	AccessTokenExpireIn  int64  `json:"access_token_expire_in"`
	RefreshToken         string `json:"refresh_token"`
	RefreshTokenExpireIn int64  `json:"refresh_token_expire_in"`
	SellerName           string `json:"seller_name"`
}

func (p *tokenPayload) toGrant() *ports.TokenGrant {
	return &ports.TokenGrant{
		AccessToken:          p.AccessToken,
		AccessTokenExpireAt:  time.Unix(p.AccessTokenExpireIn, 0),
		RefreshToken:         p.RefreshToken,
		RefreshTokenExpireAt: time.Unix(p.RefreshTokenExpireIn, 0),
		SellerName:           p.SellerName,
	}
}

// GetAccessToken trades an authorization code for the initial token pair.
func (c *client) GetAccessToken(ctx context.Context, authCode string) (*ports.TokenGrant, error) {
	extra := url.Values{}
	extra.Set("auth_code", authCode)
	extra.Set("grant_type", "authorized_code")

	data, err := c.request(ctx, http.MethodGet, c.cfg.AuthBaseURL, c.cfg.TokenGetPath, "", "", extra, nil)
	if err != nil {
		return nil, err
	}

	var payload tokenPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &domain.ParseError{Endpoint: c.cfg.TokenGetPath, Raw: string(data), Err: err}
	}
	if payload.AccessToken == "" {
		return nil, &domain.ParseError{Endpoint: c.cfg.TokenGetPath, Raw: string(data), Err: fmt.Errorf("token payload missing access_token")}
	}
	return payload.toGrant(), nil
}

// RefreshAccessToken exchanges a refresh token for a fresh pair. The
// platform may rotate the refresh token; callers must persist both.
func (c *client) RefreshAccessToken(ctx context.Context, refreshToken string) (*ports.TokenGrant, error) {
	extra := url.Values{}
	extra.Set("refresh_token", refreshToken)
	extra.Set("grant_type", "refresh_token")

	data, err := c.request(ctx, http.MethodGet, c.cfg.AuthBaseURL, c.cfg.TokenRefreshPath, "", "", extra, nil)
	if err != nil {
		return nil, err
	}

	var payload tokenPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &domain.ParseError{Endpoint: c.cfg.TokenRefreshPath, Raw: string(data), Err: err}
	}
	if payload.AccessToken == "" {
		return nil, &domain.ParseError{Endpoint: c.cfg.TokenRefreshPath, Raw: string(data), Err: fmt.Errorf("token payload missing access_token")}
	}
	return payload.toGrant(), nil
}

// GetAuthorizedShops lists the shops the merchant authorized, including the
// shop cipher required on shop-scoped calls.
func (c *client) GetAuthorizedShops(ctx context.Context, accessToken string) ([]ports.AuthorizedShop, error) {
	data, err := c.request(ctx, http.MethodGet, c.cfg.BaseURL, c.cfg.ShopsPath, accessToken, "", nil, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Shops []struct {
			ID     string `json:"id"`
			Cipher string `json:"cipher"`
			Name   string `json:"name"`
			Region string `json:"region"`
		} `json:"shops"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &domain.ParseError{Endpoint: c.cfg.ShopsPath, Raw: string(data), Err: err}
	}

	shops := make([]ports.AuthorizedShop, 0, len(payload.Shops))
	for _, s := range payload.Shops {
		shops = append(shops, ports.AuthorizedShop{
			ShopID: s.ID,
			Cipher: s.Cipher,
			Name:   s.Name,
			Region: s.Region,
		})
	}
	return shops, nil
}

// SearchStatementTransactions fetches one page of statement lines. Parsing
// is tolerant: known fields are lifted by candidate key, the full object is
// kept verbatim in Fields for reprocessing.
func (c *client) SearchStatementTransactions(ctx context.Context, accessToken, shopCipher string, q ports.StatementQuery) (*ports.StatementTransactionsPage, error) {
	body := map[string]any{
		"search_time_ge": q.WindowStart.Unix(),
		"search_time_lt": q.WindowEnd.Unix(),
		"page_size":      q.PageSize,
	}
	if q.PageToken != "" {
		body["page_token"] = q.PageToken
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal statement query: %w", err)
	}

	data, err := c.request(ctx, http.MethodPost, c.cfg.BaseURL, c.cfg.StatementTransactionsPath, accessToken, shopCipher, nil, raw)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &domain.ParseError{Endpoint: c.cfg.StatementTransactionsPath, Raw: string(data), Err: err}
	}

	page := &ports.StatementTransactionsPage{
		NextPageToken: stringField(payload, "next_page_token", "nextPageToken"),
	}

	items := listField(payload, "statement_transactions", "transactions", "items")
	for _, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		tx := ports.StatementTransaction{
			ID:      stringField(fields, "id", "statement_transaction_id", "transaction_id"),
			Amount:  stringField(fields, "settlement_amount", "amount", "revenue_amount"),
			OrderID: stringField(fields, "order_id"),
			Fields:  fields,
		}
		tx.CreatedTime = intField(fields, "statement_time", "created_time", "order_create_time")
		page.Transactions = append(page.Transactions, tx)
	}
	return page, nil
}

// SearchOrders fetches one page from the orders search endpoint. Records
// stay opaque; the caller decides what to lift.
func (c *client) SearchOrders(ctx context.Context, accessToken, shopCipher string, q ports.StatementQuery) (*ports.RawPage, error) {
	return c.searchRaw(ctx, c.cfg.OrdersSearchPath, accessToken, shopCipher, q, "orders")
}

// SearchSettlements fetches one page from the settlements search endpoint.
func (c *client) SearchSettlements(ctx context.Context, accessToken, shopCipher string, q ports.StatementQuery) (*ports.RawPage, error) {
	return c.searchRaw(ctx, c.cfg.SettlementsSearchPath, accessToken, shopCipher, q, "settlements")
}

func (c *client) searchRaw(ctx context.Context, path, accessToken, shopCipher string, q ports.StatementQuery, listKey string) (*ports.RawPage, error) {
	body := map[string]any{
		"search_time_ge": q.WindowStart.Unix(),
		"search_time_lt": q.WindowEnd.Unix(),
		"page_size":      q.PageSize,
	}
	if q.PageToken != "" {
		body["page_token"] = q.PageToken
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	data, err := c.request(ctx, http.MethodPost, c.cfg.BaseURL, path, accessToken, shopCipher, nil, raw)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &domain.ParseError{Endpoint: path, Raw: string(data), Err: err}
	}

	page := &ports.RawPage{
		NextPageToken: stringField(payload, "next_page_token", "nextPageToken"),
	}
	for _, item := range listField(payload, listKey, "items") {
		if fields, ok := item.(map[string]any); ok {
			page.Items = append(page.Items, fields)
		}
	}
	return page, nil
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func intField(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func listField(m map[string]any, keys ...string) []any {
	for _, k := range keys {
		if v, ok := m[k].([]any); ok {
			return v
		}
	}
	return nil
}
