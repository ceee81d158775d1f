package ports

import (
	"context"
	"time"

	"tiktok-shop-finance-layer/internal/domain"
)

// ConnectionRepository defines persistence for merchant connections.
// Implementations return (nil, nil) when a connection does not exist.
type ConnectionRepository interface {
	// UpsertByUserAndShop saves a connection keyed on (user id, shop id) so
	// re-authorizing does not create duplicates.
	UpsertByUserAndShop(ctx context.Context, conn *domain.Connection) error
	GetByID(ctx context.Context, id string) (*domain.Connection, error)
	ListWithToken(ctx context.Context) ([]*domain.Connection, error)
	UpdateTokens(ctx context.Context, conn *domain.Connection) error
	UpdateSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error
	UpdateLastSyncedAt(ctx context.Context, id string, at time.Time) error
}

// TransactionRepository defines persistence for synced statement lines.
type TransactionRepository interface {
	// Upsert writes a record keyed on (connection id, transaction id) so
	// repeated syncs over the same window are idempotent.
	Upsert(ctx context.Context, rec *domain.TransactionRecord) error
	CountByConnection(ctx context.Context, connectionID string) (int64, error)
	ListByConnection(ctx context.Context, connectionID string, limit int64) ([]*domain.TransactionRecord, error)
}
