package ports

import (
	"context"
	"time"

	"tiktok-shop-finance-layer/internal/domain"
)

// TokenGrant is the credential set returned by the platform's token
// endpoints (both code exchange and refresh).
type TokenGrant struct {
	AccessToken          string
	AccessTokenExpireAt  time.Time
	RefreshToken         string
	RefreshTokenExpireAt time.Time
	SellerName           string
}

// AuthorizedShop is one shop the merchant granted access to.
type AuthorizedShop struct {
	ShopID string
	Cipher string
	Name   string
	Region string
}

// StatementTransaction is one wire-level statement line. Known fields are
// typed; everything else stays in Fields so unrecognized shapes survive.
type StatementTransaction struct {
	ID          string
	Amount      string
	OrderID     string
	CreatedTime int64
	Fields      map[string]any
}

// StatementTransactionsPage is one page of the paginated statement search.
// NextPageToken is empty when the cursor chain is exhausted.
type StatementTransactionsPage struct {
	Transactions  []StatementTransaction
	NextPageToken string
}

// StatementQuery bounds one page request.
type StatementQuery struct {
	WindowStart time.Time
	WindowEnd   time.Time
	PageSize    int
	PageToken   string
}

// PlatformClient is the signed TikTok Shop API surface used by the
// application layer. Implementations raise the domain error taxonomy
// (TransportError, APIError, ParseError) and never retry internally.
type PlatformClient interface {
	GetAccessToken(ctx context.Context, authCode string) (*TokenGrant, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenGrant, error)
	GetAuthorizedShops(ctx context.Context, accessToken string) ([]AuthorizedShop, error)
	SearchStatementTransactions(ctx context.Context, accessToken, shopCipher string, q StatementQuery) (*StatementTransactionsPage, error)
	SearchOrders(ctx context.Context, accessToken, shopCipher string, q StatementQuery) (*RawPage, error)
	SearchSettlements(ctx context.Context, accessToken, shopCipher string, q StatementQuery) (*RawPage, error)
}

// RawPage is one page of a search endpoint whose records are kept as opaque
// objects. Used for the order and settlement endpoints, whose exact shapes
// vary upstream.
type RawPage struct {
	Items         []map[string]any
	NextPageToken string
}

// TokenSource yields a currently-valid access token for a connection,
// refreshing transparently when needed. A dead refresh token surfaces as
// AuthExpiredError.
type TokenSource interface {
	GetValidToken(ctx context.Context, connectionID string) (string, *domain.Connection, error)
}

// SyncLocker serializes sync runs per connection. TryLock returns false
// when another run already holds the lock.
type SyncLocker interface {
	TryLock(ctx context.Context, connectionID string) (bool, error)
	Unlock(ctx context.Context, connectionID string) error
}

// EncryptionService encrypts tokens before storage.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
