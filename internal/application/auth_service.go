package application

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"tiktok-shop-finance-layer/internal/domain"
	"tiktok-shop-finance-layer/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuthState is the opaque state round-tripped through the platform's
// authorization redirect: base64url-encoded JSON carrying the initiating
// user and a random nonce.
type AuthState struct {
	UserID string `json:"userId"`
	Nonce  string `json:"nonce"`
}

// EncodeAuthState builds the state parameter for a user.
func EncodeAuthState(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	raw, err := json.Marshal(AuthState{UserID: userID, Nonce: uuid.NewString()})
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeAuthState parses and validates a callback state parameter. A state
// that is missing, malformed, or lacks a userId is rejected here, before
// any token exchange is attempted.
func DecodeAuthState(state string) (*AuthState, error) {
	if state == "" {
		return nil, fmt.Errorf("state parameter is missing")
	}
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return nil, fmt.Errorf("state is not valid base64url: %w", err)
	}
	var s AuthState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("state is not valid JSON: %w", err)
	}
	if s.UserID == "" {
		return nil, fmt.Errorf("state has no userId")
	}
	return &s, nil
}

// CallbackResult reports what a completed OAuth callback produced.
type CallbackResult struct {
	UserID string
	// Linked holds one connection per authorized shop.
	Linked []*domain.Connection
	// PendingShops is true when the token was stored but shop discovery was
	// deferred to the first sync, because the platform can grant the
	// shop-listing scope asynchronously.
	PendingShops bool
}

// AuthService drives the merchant authorization flow: building the redirect
// URL and completing the code exchange on callback.
type AuthService struct {
	client       ports.PlatformClient
	connections  ports.ConnectionRepository
	appKey       string
	authorizeURL string
	logger       zerolog.Logger
}

// NewAuthService creates an authorization flow controller.
func NewAuthService(client ports.PlatformClient, connections ports.ConnectionRepository, appKey, authorizeURL string, logger zerolog.Logger) *AuthService {
	return &AuthService{
		client:       client,
		connections:  connections,
		appKey:       appKey,
		authorizeURL: authorizeURL,
		logger:       logger,
	}
}

// BuildAuthURL returns the platform authorization page URL for a user, with
// CSRF-safe state.
func (s *AuthService) BuildAuthURL(userID string) (string, error) {
	state, err := EncodeAuthState(userID)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(s.authorizeURL)
	if err != nil {
		return "", fmt.Errorf("invalid authorize URL: %w", err)
	}
	q := u.Query()
	q.Set("app_key", s.appKey)
	q.Set("state", state)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// HandleCallback completes the OAuth exchange: validates state, trades the
// code for tokens, discovers authorized shops and upserts one connection
// per shop. When the shop listing fails with a platform-level rejection the
// token is still stored on a shop-less connection and discovery is deferred
// to the first sync.
func (s *AuthService) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	authState, err := DecodeAuthState(state)
	if err != nil {
		return nil, fmt.Errorf("rejected callback state: %w", err)
	}
	if code == "" {
		return nil, fmt.Errorf("authorization code is missing")
	}

	grant, err := s.client.GetAccessToken(ctx, code)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", authState.UserID).Msg("Token exchange failed")
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	result := &CallbackResult{UserID: authState.UserID}

	shops, err := s.client.GetAuthorizedShops(ctx, grant.AccessToken)
	if err != nil {
		var apiErr *domain.APIError
		if !errors.As(err, &apiErr) {
			s.logger.Error().Err(err).Str("user_id", authState.UserID).Msg("Shop discovery failed")
			return nil, fmt.Errorf("failed to list authorized shops: %w", err)
		}

		// Shop-listing scope not granted yet. Keep the token; discovery
		// happens on first sync.
		s.logger.Warn().
			Int("code", apiErr.Code).
			Str("user_id", authState.UserID).
			Msg("Shop listing rejected, deferring shop discovery to first sync")

		conn := s.newConnection(authState.UserID, grant, ports.AuthorizedShop{})
		if err := s.connections.UpsertByUserAndShop(ctx, conn); err != nil {
			return nil, fmt.Errorf("failed to save connection: %w", err)
		}
		result.Linked = append(result.Linked, conn)
		result.PendingShops = true
		return result, nil
	}

	if len(shops) == 0 {
		conn := s.newConnection(authState.UserID, grant, ports.AuthorizedShop{})
		if err := s.connections.UpsertByUserAndShop(ctx, conn); err != nil {
			return nil, fmt.Errorf("failed to save connection: %w", err)
		}
		result.Linked = append(result.Linked, conn)
		result.PendingShops = true
		return result, nil
	}

	for _, shop := range shops {
		conn := s.newConnection(authState.UserID, grant, shop)
		if err := s.connections.UpsertByUserAndShop(ctx, conn); err != nil {
			return nil, fmt.Errorf("failed to save connection for shop %s: %w", shop.ShopID, err)
		}
		result.Linked = append(result.Linked, conn)
	}

	s.logger.Info().
		Str("user_id", authState.UserID).
		Int("shops", len(result.Linked)).
		Msg("Merchant authorization completed")

	return result, nil
}

func (s *AuthService) newConnection(userID string, grant *ports.TokenGrant, shop ports.AuthorizedShop) *domain.Connection {
	now := time.Now()
	return &domain.Connection{
		ID:                 uuid.NewString(),
		UserID:             userID,
		ShopID:             shop.ShopID,
		ShopCipher:         shop.Cipher,
		ShopName:           shop.Name,
		Region:             shop.Region,
		AccessToken:        grant.AccessToken,
		AccessTokenExpiry:  grant.AccessTokenExpireAt,
		RefreshToken:       grant.RefreshToken,
		RefreshTokenExpiry: grant.RefreshTokenExpireAt,
		SyncStatus:         domain.SyncStatusIdle,
		ConnectedAt:        now,
		UpdatedAt:          now,
	}
}
