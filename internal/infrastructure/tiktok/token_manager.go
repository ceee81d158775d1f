package tiktok

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiktok-shop-finance-layer/internal/domain"
	"tiktok-shop-finance-layer/internal/infrastructure/metrics"
	"tiktok-shop-finance-layer/internal/ports"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// refreshSkew is how long before the access-token expiry a token counts as
// expiring. Refreshing early avoids serving a token that dies mid-request.
const refreshSkew = 5 * time.Minute

// TokenManager serves valid access tokens for connections, refreshing
// transparently. At most one refresh is in flight per connection id;
// concurrent callers wait for and reuse that refresh's result, since
// duplicate refreshes risk invalidating a token a sibling just obtained.
type TokenManager struct {
	client      ports.PlatformClient
	connections ports.ConnectionRepository
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	group       singleflight.Group

	// now is replaceable in tests.
	now func() time.Time
}

// NewTokenManager creates a token manager.
func NewTokenManager(client ports.PlatformClient, connections ports.ConnectionRepository, m *metrics.Metrics, logger zerolog.Logger) *TokenManager {
	return &TokenManager{
		client:      client,
		connections: connections,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// GetValidToken returns a currently-valid access token for the connection.
// VALID: serve the cached token. EXPIRING or expired: refresh, persist, and
// serve the new one. A dead refresh token surfaces as AuthExpiredError and
// marks the connection's sync status as error; it is never retried here.
func (tm *TokenManager) GetValidToken(ctx context.Context, connectionID string) (string, *domain.Connection, error) {
	conn, err := tm.connections.GetByID(ctx, connectionID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load connection %s: %w", connectionID, err)
	}
	if conn == nil {
		return "", nil, fmt.Errorf("connection not found: %s", connectionID)
	}

	if tm.isValid(conn) {
		return conn.AccessToken, conn, nil
	}

	v, err, _ := tm.group.Do(connectionID, func() (any, error) {
		return tm.refresh(ctx, connectionID)
	})
	if err != nil {
		return "", nil, err
	}

	refreshed := v.(*domain.Connection)
	return refreshed.AccessToken, refreshed, nil
}

func (tm *TokenManager) isValid(conn *domain.Connection) bool {
	return conn.AccessToken != "" && tm.now().Before(conn.AccessTokenExpiry.Add(-refreshSkew))
}

// refresh runs inside singleflight. It reloads the connection first: a
// sibling caller may have finished a refresh between the staleness check and
// this call, in which case the fresh token is reused as-is.
func (tm *TokenManager) refresh(ctx context.Context, connectionID string) (*domain.Connection, error) {
	conn, err := tm.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload connection %s: %w", connectionID, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("connection not found: %s", connectionID)
	}
	if tm.isValid(conn) {
		return conn, nil
	}

	if conn.RefreshToken == "" {
		return nil, tm.authExpired(ctx, conn, "no refresh token stored")
	}
	if !conn.RefreshTokenExpiry.IsZero() && tm.now().After(conn.RefreshTokenExpiry) {
		return nil, tm.authExpired(ctx, conn, "refresh token expired")
	}

	grant, err := tm.client.RefreshAccessToken(ctx, conn.RefreshToken)
	if err != nil {
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			// The platform rejected the refresh token: it is dead or
			// revoked, retrying cannot succeed.
			return nil, tm.authExpired(ctx, conn, apiErr.Message)
		}
		tm.observeRefresh("error")
		return nil, fmt.Errorf("token refresh failed for connection %s: %w", connectionID, err)
	}

	conn.ApplyTokens(grant.AccessToken, grant.AccessTokenExpireAt, grant.RefreshToken, grant.RefreshTokenExpireAt)

	if err := tm.connections.UpdateTokens(ctx, conn); err != nil {
		tm.observeRefresh("error")
		return nil, fmt.Errorf("failed to persist refreshed tokens for connection %s: %w", connectionID, err)
	}

	tm.observeRefresh("ok")
	tm.logger.Info().
		Str("connection_id", connectionID).
		Time("access_token_expiry", conn.AccessTokenExpiry).
		Msg("Refreshed access token")

	return conn, nil
}

func (tm *TokenManager) authExpired(ctx context.Context, conn *domain.Connection, reason string) error {
	tm.observeRefresh("auth_expired")
	tm.logger.Warn().
		Str("connection_id", conn.ID).
		Str("reason", reason).
		Msg("Refresh token is dead, reauthorization required")

	if err := tm.connections.UpdateSyncStatus(ctx, conn.ID, domain.SyncStatusError); err != nil {
		tm.logger.Error().Err(err).Str("connection_id", conn.ID).Msg("Failed to mark connection errored")
	}
	return &domain.AuthExpiredError{ConnectionID: conn.ID, Reason: reason}
}

func (tm *TokenManager) observeRefresh(outcome string) {
	if tm.metrics != nil {
		tm.metrics.TokenRefreshes.WithLabelValues(outcome).Inc()
	}
}
