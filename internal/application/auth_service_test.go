package application

import (
	"context"
	"net/url"
	"testing"
	"time"

	"tiktok-shop-finance-layer/internal/domain"
	"tiktok-shop-finance-layer/internal/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrant() *ports.TokenGrant {
	now := time.Now()
	return &ports.TokenGrant{
		AccessToken:          "at-1",
		AccessTokenExpireAt:  now.Add(2 * time.Hour),
		RefreshToken:         "rt-1",
		RefreshTokenExpireAt: now.Add(30 * 24 * time.Hour),
		SellerName:           "Acme Storefront",
	}
}

func newTestAuthService(client *fakeClient, repo *memConnRepo) *AuthService {
	return NewAuthService(client, repo, "test-app-key", "https://services.tiktokshop.com/open/authorize", zerolog.Nop())
}

func TestAuthStateRoundTrip(t *testing.T) {
	state, err := EncodeAuthState("user-1")
	require.NoError(t, err)

	decoded, err := DecodeAuthState(state)
	require.NoError(t, err)
	assert.Equal(t, "user-1", decoded.UserID)
	assert.NotEmpty(t, decoded.Nonce)
}

func TestDecodeAuthStateRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing":    "",
		"not base64": "!!!not-base64url!!!",
		"not json":   "bm90LWpzb24",
		"no user id": "eyJub25jZSI6ImFiYyJ9", // {"nonce":"abc"}
	}
	for name, state := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeAuthState(state)
			assert.Error(t, err)
		})
	}
}

func TestBuildAuthURL(t *testing.T) {
	svc := newTestAuthService(&fakeClient{}, newMemConnRepo())

	raw, err := svc.BuildAuthURL("user-1")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "services.tiktokshop.com", u.Host)
	assert.Equal(t, "test-app-key", u.Query().Get("app_key"))

	decoded, err := DecodeAuthState(u.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", decoded.UserID)
}

func TestHandleCallbackRejectsBadStateBeforeExchange(t *testing.T) {
	client := &fakeClient{grant: testGrant()}
	svc := newTestAuthService(client, newMemConnRepo())

	_, err := svc.HandleCallback(context.Background(), "code-1", "broken-state")
	require.Error(t, err)
	// The token exchange must never run for a rejected state.
	assert.Empty(t, client.codes)
}

func TestHandleCallbackRequiresCode(t *testing.T) {
	client := &fakeClient{grant: testGrant()}
	svc := newTestAuthService(client, newMemConnRepo())

	state, err := EncodeAuthState("user-1")
	require.NoError(t, err)

	_, err = svc.HandleCallback(context.Background(), "", state)
	require.Error(t, err)
	assert.Empty(t, client.codes)
}

func TestHandleCallbackLinksOneConnectionPerShop(t *testing.T) {
	client := &fakeClient{
		grant: testGrant(),
		shops: []ports.AuthorizedShop{
			{ShopID: "shop-1", Cipher: "cipher-1", Name: "First", Region: "GB"},
			{ShopID: "shop-2", Cipher: "cipher-2", Name: "Second", Region: "US"},
		},
	}
	repo := newMemConnRepo()
	svc := newTestAuthService(client, repo)

	state, err := EncodeAuthState("user-1")
	require.NoError(t, err)

	result, err := svc.HandleCallback(context.Background(), "code-1", state)
	require.NoError(t, err)

	assert.Equal(t, "user-1", result.UserID)
	assert.False(t, result.PendingShops)
	require.Len(t, result.Linked, 2)
	assert.Equal(t, []string{"code-1"}, client.codes)

	conns, err := repo.ListWithToken(context.Background())
	require.NoError(t, err)
	require.Len(t, conns, 2)
	for _, conn := range conns {
		assert.Equal(t, "user-1", conn.UserID)
		assert.Equal(t, "at-1", conn.AccessToken)
		assert.Equal(t, "rt-1", conn.RefreshToken)
		assert.Equal(t, domain.SyncStatusIdle, conn.SyncStatus)
		assert.NotEmpty(t, conn.ShopCipher)
	}
}

func TestHandleCallbackDefersShopDiscoveryOnAPIError(t *testing.T) {
	client := &fakeClient{
		grant:    testGrant(),
		shopsErr: &domain.APIError{Code: 105001, Message: "scope not granted yet"},
	}
	repo := newMemConnRepo()
	svc := newTestAuthService(client, repo)

	state, err := EncodeAuthState("user-1")
	require.NoError(t, err)

	result, err := svc.HandleCallback(context.Background(), "code-1", state)
	require.NoError(t, err)

	assert.True(t, result.PendingShops)
	require.Len(t, result.Linked, 1)
	assert.Empty(t, result.Linked[0].ShopCipher)
	assert.Equal(t, "at-1", result.Linked[0].AccessToken)
}

func TestHandleCallbackEmptyShopListIsPending(t *testing.T) {
	client := &fakeClient{grant: testGrant()}
	svc := newTestAuthService(client, newMemConnRepo())

	state, err := EncodeAuthState("user-1")
	require.NoError(t, err)

	result, err := svc.HandleCallback(context.Background(), "code-1", state)
	require.NoError(t, err)

	assert.True(t, result.PendingShops)
	require.Len(t, result.Linked, 1)
	assert.Empty(t, result.Linked[0].ShopID)
}

func TestHandleCallbackTransportErrorOnShopsFails(t *testing.T) {
	client := &fakeClient{
		grant:    testGrant(),
		shopsErr: &domain.TransportError{Endpoint: "/authorization/202309/shops"},
	}
	repo := newMemConnRepo()
	svc := newTestAuthService(client, repo)

	state, err := EncodeAuthState("user-1")
	require.NoError(t, err)

	_, err = svc.HandleCallback(context.Background(), "code-1", state)
	require.Error(t, err)

	// Nothing persisted on a transport-level failure.
	conns, _ := repo.ListWithToken(context.Background())
	assert.Empty(t, conns)
}
