package tiktok

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tiktok-shop-finance-layer/internal/domain"
	"tiktok-shop-finance-layer/internal/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memConnRepo is an in-memory ConnectionRepository for token manager tests.
type memConnRepo struct {
	mu    sync.Mutex
	conns map[string]*domain.Connection
}

func newMemConnRepo(conns ...*domain.Connection) *memConnRepo {
	r := &memConnRepo{conns: make(map[string]*domain.Connection)}
	for _, c := range conns {
		cp := *c
		r.conns[c.ID] = &cp
	}
	return r
}

func (r *memConnRepo) UpsertByUserAndShop(_ context.Context, conn *domain.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *conn
	r.conns[conn.ID] = &cp
	return nil
}

func (r *memConnRepo) GetByID(_ context.Context, id string) (*domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, nil
	}
	cp := *conn
	return &cp, nil
}

func (r *memConnRepo) ListWithToken(_ context.Context) ([]*domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Connection
	for _, c := range r.conns {
		if c.AccessToken != "" {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memConnRepo) UpdateTokens(_ context.Context, conn *domain.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.conns[conn.ID]; ok {
		stored.AccessToken = conn.AccessToken
		stored.AccessTokenExpiry = conn.AccessTokenExpiry
		stored.RefreshToken = conn.RefreshToken
		stored.RefreshTokenExpiry = conn.RefreshTokenExpiry
	}
	return nil
}

func (r *memConnRepo) UpdateSyncStatus(_ context.Context, id string, status domain.SyncStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.conns[id]; ok {
		stored.SyncStatus = status
	}
	return nil
}

func (r *memConnRepo) UpdateLastSyncedAt(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.conns[id]; ok {
		stored.LastSyncedAt = at
	}
	return nil
}

// refreshingClient counts refresh calls and serves a fixed grant.
type refreshingClient struct {
	ports.PlatformClient

	refreshCalls atomic.Int64
	refreshDelay time.Duration
	grant        *ports.TokenGrant
	refreshErr   error
}

func (c *refreshingClient) RefreshAccessToken(_ context.Context, _ string) (*ports.TokenGrant, error) {
	c.refreshCalls.Add(1)
	if c.refreshDelay > 0 {
		time.Sleep(c.refreshDelay)
	}
	if c.refreshErr != nil {
		return nil, c.refreshErr
	}
	return c.grant, nil
}

func testConnection(now time.Time, accessExpiry time.Time) *domain.Connection {
	return &domain.Connection{
		ID:                 "conn-1",
		UserID:             "user-1",
		ShopID:             "shop-1",
		ShopCipher:         "cipher-1",
		AccessToken:        "old-token",
		AccessTokenExpiry:  accessExpiry,
		RefreshToken:       "refresh-1",
		RefreshTokenExpiry: now.Add(30 * 24 * time.Hour),
		SyncStatus:         domain.SyncStatusIdle,
	}
}

func TestGetValidTokenServesCachedToken(t *testing.T) {
	now := time.Now()
	repo := newMemConnRepo(testConnection(now, now.Add(time.Hour)))
	client := &refreshingClient{}

	tm := NewTokenManager(client, repo, nil, zerolog.Nop())
	token, conn, err := tm.GetValidToken(context.Background(), "conn-1")

	require.NoError(t, err)
	assert.Equal(t, "old-token", token)
	assert.Equal(t, "conn-1", conn.ID)
	assert.EqualValues(t, 0, client.refreshCalls.Load())
}

func TestGetValidTokenRefreshesExpiringToken(t *testing.T) {
	now := time.Now()
	// Inside the refresh skew: still technically alive, but expiring.
	repo := newMemConnRepo(testConnection(now, now.Add(time.Minute)))
	client := &refreshingClient{grant: &ports.TokenGrant{
		AccessToken:          "new-token",
		AccessTokenExpireAt:  now.Add(2 * time.Hour),
		RefreshToken:         "refresh-2",
		RefreshTokenExpireAt: now.Add(60 * 24 * time.Hour),
	}}

	tm := NewTokenManager(client, repo, nil, zerolog.Nop())
	token, conn, err := tm.GetValidToken(context.Background(), "conn-1")

	require.NoError(t, err)
	assert.Equal(t, "new-token", token)
	assert.Equal(t, "refresh-2", conn.RefreshToken)
	assert.EqualValues(t, 1, client.refreshCalls.Load())

	// Persisted, not just in memory.
	stored, err := repo.GetByID(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "new-token", stored.AccessToken)
	assert.Equal(t, "refresh-2", stored.RefreshToken)
}

func TestGetValidTokenSingleRefreshUnderConcurrency(t *testing.T) {
	now := time.Now()
	repo := newMemConnRepo(testConnection(now, now.Add(-time.Minute)))
	client := &refreshingClient{
		refreshDelay: 20 * time.Millisecond,
		grant: &ports.TokenGrant{
			AccessToken:         "new-token",
			AccessTokenExpireAt: now.Add(2 * time.Hour),
		},
	}

	tm := NewTokenManager(client, repo, nil, zerolog.Nop())

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], _, errs[i] = tm.GetValidToken(context.Background(), "conn-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new-token", tokens[i])
	}
	assert.EqualValues(t, 1, client.refreshCalls.Load())
}

func TestGetValidTokenExpiryNeverDecreases(t *testing.T) {
	now := time.Now()
	farExpiry := now.Add(48 * time.Hour)
	conn := testConnection(now, now.Add(-time.Minute))
	conn.RefreshTokenExpiry = farExpiry

	// Upstream reports a refresh-token expiry earlier than what we hold.
	repo := newMemConnRepo(conn)
	client := &refreshingClient{grant: &ports.TokenGrant{
		AccessToken:          "new-token",
		AccessTokenExpireAt:  now.Add(2 * time.Hour),
		RefreshToken:         "refresh-2",
		RefreshTokenExpireAt: now.Add(time.Hour),
	}}

	tm := NewTokenManager(client, repo, nil, zerolog.Nop())
	_, refreshed, err := tm.GetValidToken(context.Background(), "conn-1")

	require.NoError(t, err)
	assert.Equal(t, farExpiry, refreshed.RefreshTokenExpiry)
}

func TestGetValidTokenDeadRefreshToken(t *testing.T) {
	now := time.Now()
	repo := newMemConnRepo(testConnection(now, now.Add(-time.Minute)))
	client := &refreshingClient{refreshErr: &domain.APIError{Code: 105003, Message: "refresh token invalid"}}

	tm := NewTokenManager(client, repo, nil, zerolog.Nop())
	_, _, err := tm.GetValidToken(context.Background(), "conn-1")

	require.True(t, domain.IsAuthExpired(err))
	assert.EqualValues(t, 1, client.refreshCalls.Load())

	stored, _ := repo.GetByID(context.Background(), "conn-1")
	assert.Equal(t, domain.SyncStatusError, stored.SyncStatus)
}

func TestGetValidTokenExpiredRefreshTokenSkipsCall(t *testing.T) {
	now := time.Now()
	conn := testConnection(now, now.Add(-time.Minute))
	conn.RefreshTokenExpiry = now.Add(-time.Hour)
	repo := newMemConnRepo(conn)
	client := &refreshingClient{}

	tm := NewTokenManager(client, repo, nil, zerolog.Nop())
	_, _, err := tm.GetValidToken(context.Background(), "conn-1")

	require.True(t, domain.IsAuthExpired(err))
	assert.EqualValues(t, 0, client.refreshCalls.Load())
}

func TestGetValidTokenTransientRefreshFailureKeepsTokens(t *testing.T) {
	now := time.Now()
	repo := newMemConnRepo(testConnection(now, now.Add(-time.Minute)))
	client := &refreshingClient{refreshErr: &domain.TransportError{Endpoint: "/api/v2/token/refresh"}}

	tm := NewTokenManager(client, repo, nil, zerolog.Nop())
	_, _, err := tm.GetValidToken(context.Background(), "conn-1")

	require.Error(t, err)
	assert.False(t, domain.IsAuthExpired(err))

	// The connection keeps its prior credentials and stays retriable.
	stored, _ := repo.GetByID(context.Background(), "conn-1")
	assert.Equal(t, "refresh-1", stored.RefreshToken)
	assert.NotEqual(t, domain.SyncStatusError, stored.SyncStatus)
}

func TestGetValidTokenUnknownConnection(t *testing.T) {
	tm := NewTokenManager(&refreshingClient{}, newMemConnRepo(), nil, zerolog.Nop())
	_, _, err := tm.GetValidToken(context.Background(), "missing")
	require.Error(t, err)
}
