package application

import (
	"context"
	"fmt"
	"time"

	"tiktok-shop-finance-layer/internal/domain"
	"tiktok-shop-finance-layer/internal/infrastructure/metrics"
	"tiktok-shop-finance-layer/internal/infrastructure/pubsub"
	"tiktok-shop-finance-layer/internal/infrastructure/tiktok"
	"tiktok-shop-finance-layer/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// DefaultPageCap bounds one sync run against unbounded or looping
	// pagination from the upstream API. Reaching it is partial success,
	// not a failure.
	DefaultPageCap = 10

	defaultPageSize = 50

	// defaultLookback is the window for a connection that has never synced.
	defaultLookback = 30 * 24 * time.Hour
)

// SyncService orchestrates paginated synchronization of statement
// transactions into local storage.
type SyncService struct {
	tokens       ports.TokenSource
	client       ports.PlatformClient
	connections  ports.ConnectionRepository
	transactions ports.TransactionRepository
	locker       ports.SyncLocker
	events       *pubsub.SyncPubSub
	metrics      *metrics.Metrics
	retry        tiktok.RetryConfig
	typeFields   []string
	pageSize     int
	logger       zerolog.Logger
}

// NewSyncService creates a sync engine.
func NewSyncService(
	tokens ports.TokenSource,
	client ports.PlatformClient,
	connections ports.ConnectionRepository,
	transactions ports.TransactionRepository,
	locker ports.SyncLocker,
	events *pubsub.SyncPubSub,
	m *metrics.Metrics,
	retry tiktok.RetryConfig,
	typeFields []string,
	logger zerolog.Logger,
) *SyncService {
	if len(typeFields) == 0 {
		typeFields = []string{"statement_type", "type", "transaction_type"}
	}
	return &SyncService{
		tokens:       tokens,
		client:       client,
		connections:  connections,
		transactions: transactions,
		locker:       locker,
		events:       events,
		metrics:      m,
		retry:        retry,
		typeFields:   typeFields,
		pageSize:     defaultPageSize,
		logger:       logger,
	}
}

// SyncStatementTransactions runs one bounded sync over [windowStart,
// windowEnd). Pages are fetched strictly in cursor order; the run is
// cancellable between pages and reports partial progress rather than
// discarding it. Re-running over the same window is idempotent: records are
// upserted by (connection id, transaction id).
func (s *SyncService) SyncStatementTransactions(ctx context.Context, connectionID string, windowStart, windowEnd time.Time, pageCap int) (*domain.SyncResult, error) {
	if pageCap <= 0 {
		pageCap = DefaultPageCap
	}

	ok, err := s.locker.TryLock(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock for %s: %w", connectionID, err)
	}
	if !ok {
		return nil, domain.ErrSyncInProgress
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), connectionID); err != nil {
			s.logger.Error().Err(err).Str("connection_id", connectionID).Msg("Failed to release sync lock")
		}
	}()

	token, conn, err := s.tokens.GetValidToken(ctx, connectionID)
	if err != nil {
		// AuthExpired already marked the connection errored in the token
		// manager; everything else leaves its prior tokens intact.
		return nil, err
	}

	if !conn.CanCallShopEndpoints() {
		// Shop discovery was deferred at authorization time; try it now.
		if conn, err = s.discoverShop(ctx, conn, token); err != nil {
			return nil, err
		}
	}

	if err := s.connections.UpdateSyncStatus(ctx, connectionID, domain.SyncStatusSyncing); err != nil {
		return nil, fmt.Errorf("failed to mark connection syncing: %w", err)
	}

	result := &domain.SyncResult{
		ConnectionID: connectionID,
		Status:       domain.RunStatusSuccess,
		ByType:       make(map[string]domain.TypeAggregate),
		StartedAt:    time.Now(),
	}

	s.runPages(ctx, conn, token, windowStart, windowEnd, pageCap, result)

	result.FinishedAt = time.Now()
	s.finish(ctx, conn, windowEnd, result)
	return result, nil
}

func (s *SyncService) runPages(ctx context.Context, conn *domain.Connection, token string, windowStart, windowEnd time.Time, pageCap int, result *domain.SyncResult) {
	pageToken := ""
	for {
		// Cancellation happens between pages, never mid-request: the
		// pagination cursor is stateful and single-use.
		select {
		case <-ctx.Done():
			result.Status = domain.RunStatusPartial
			result.Errors = append(result.Errors, fmt.Sprintf("cancelled after %d pages: %v", result.PagesFetched, ctx.Err()))
			return
		default:
		}

		q := ports.StatementQuery{
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			PageSize:    s.pageSize,
			PageToken:   pageToken,
		}

		var page *ports.StatementTransactionsPage
		err := s.retry.Do(ctx, func() error {
			var ferr error
			page, ferr = s.client.SearchStatementTransactions(ctx, token, conn.ShopCipher, q)
			return ferr
		})
		if err != nil {
			// Stop pagination for this run; the error is signaled, not
			// silently truncated.
			if result.PagesFetched > 0 {
				result.Status = domain.RunStatusPartial
			} else {
				result.Status = domain.RunStatusFailed
			}
			result.Errors = append(result.Errors, fmt.Sprintf("page %d: %v", result.PagesFetched+1, err))
			return
		}

		result.PagesFetched++
		if s.metrics != nil {
			s.metrics.SyncPages.Inc()
		}
		if s.events != nil {
			s.events.Publish(&pubsub.SyncEvent{
				ConnectionID: conn.ID,
				Stage:        pubsub.StagePageFetched,
				Page:         result.PagesFetched,
			})
		}

		for _, tx := range page.Transactions {
			rec := s.buildRecord(conn.ID, tx)
			if rec.TransactionID == "" {
				result.Errors = append(result.Errors, "skipped record without transaction id")
				continue
			}
			result.AddRecord(rec)
			if err := s.transactions.Upsert(ctx, rec); err != nil {
				result.Status = domain.RunStatusPartial
				result.Errors = append(result.Errors, fmt.Sprintf("upsert %s: %v", rec.TransactionID, err))
				return
			}
			result.RecordsUpserted++
		}

		if page.NextPageToken == "" {
			return
		}
		if result.PagesFetched >= pageCap {
			result.Status = domain.RunStatusPartial
			result.Errors = append(result.Errors, fmt.Sprintf("page cap %d reached with more pages upstream", pageCap))
			return
		}
		pageToken = page.NextPageToken
	}
}

// buildRecord normalizes one wire-level statement line. The type field name
// varies across response shapes, so classification walks an ordered list of
// candidates and falls back to "unknown"; unrecognized records are retained
// and counted, never dropped.
func (s *SyncService) buildRecord(connectionID string, tx ports.StatementTransaction) *domain.TransactionRecord {
	recType := domain.TypeUnknown
	for _, field := range s.typeFields {
		if v, ok := tx.Fields[field].(string); ok && v != "" {
			recType = v
			break
		}
	}

	amount := decimal.Zero
	if tx.Amount != "" {
		if d, err := decimal.NewFromString(tx.Amount); err == nil {
			amount = d
		} else {
			s.logger.Warn().
				Str("transaction_id", tx.ID).
				Str("amount", tx.Amount).
				Msg("Unparseable amount, storing zero with raw payload intact")
		}
	}

	var occurredAt time.Time
	if tx.CreatedTime > 0 {
		occurredAt = time.Unix(tx.CreatedTime, 0)
	}

	return &domain.TransactionRecord{
		ConnectionID:  connectionID,
		TransactionID: tx.ID,
		Type:          recType,
		Amount:        amount,
		OrderID:       tx.OrderID,
		OccurredAt:    occurredAt,
		RawPayload:    tx.Fields,
	}
}

func (s *SyncService) discoverShop(ctx context.Context, conn *domain.Connection, token string) (*domain.Connection, error) {
	shops, err := s.client.GetAuthorizedShops(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("shop discovery failed for connection %s: %w", conn.ID, err)
	}
	if len(shops) == 0 {
		return nil, fmt.Errorf("connection %s has no authorized shops yet", conn.ID)
	}

	// Adopt the first shop into this connection; any further shops become
	// sibling connections for the same user.
	first := shops[0]
	conn.ShopID = first.ShopID
	conn.ShopCipher = first.Cipher
	conn.ShopName = first.Name
	conn.Region = first.Region
	if err := s.connections.UpsertByUserAndShop(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to save discovered shop: %w", err)
	}

	for _, shop := range shops[1:] {
		sibling := *conn
		sibling.ID = uuid.NewString()
		sibling.ShopID = shop.ShopID
		sibling.ShopCipher = shop.Cipher
		sibling.ShopName = shop.Name
		sibling.Region = shop.Region
		if err := s.connections.UpsertByUserAndShop(ctx, &sibling); err != nil {
			s.logger.Error().Err(err).Str("shop_id", shop.ShopID).Msg("Failed to save sibling shop connection")
		}
	}

	s.logger.Info().
		Str("connection_id", conn.ID).
		Str("shop_id", conn.ShopID).
		Int("shops", len(shops)).
		Msg("Discovered authorized shops on first sync")

	return conn, nil
}

func (s *SyncService) finish(ctx context.Context, conn *domain.Connection, windowEnd time.Time, result *domain.SyncResult) {
	if s.metrics != nil {
		s.metrics.SyncRuns.WithLabelValues(string(result.Status)).Inc()
		s.metrics.SyncRecords.Add(float64(result.RecordsUpserted))
		s.metrics.SyncDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
	}

	// A non-auth failure leaves the connection retriable; only the token
	// manager moves a connection to the error status.
	if err := s.connections.UpdateSyncStatus(ctx, conn.ID, domain.SyncStatusIdle); err != nil {
		s.logger.Error().Err(err).Str("connection_id", conn.ID).Msg("Failed to reset sync status")
	}
	if result.Status == domain.RunStatusSuccess {
		if err := s.connections.UpdateLastSyncedAt(ctx, conn.ID, windowEnd); err != nil {
			s.logger.Error().Err(err).Str("connection_id", conn.ID).Msg("Failed to advance sync watermark")
		}
	}

	stage := pubsub.StageCompleted
	if result.Status == domain.RunStatusFailed {
		stage = pubsub.StageFailed
	}
	if s.events != nil {
		s.events.Publish(&pubsub.SyncEvent{
			ConnectionID: conn.ID,
			Stage:        stage,
			Page:         result.PagesFetched,
			Result:       result,
		})
	}

	s.logger.Info().
		Str("connection_id", conn.ID).
		Str("status", string(result.Status)).
		Int("pages", result.PagesFetched).
		Int("records", result.RecordsUpserted).
		Int("errors", len(result.Errors)).
		Msg("Sync run finished")
}

// SweepAll runs an incremental sync for every connection holding an access
// token. Each connection is marked pending before its run; a failed
// connection keeps its prior tokens untouched and is reported in the
// per-connection status list.
func (s *SyncService) SweepAll(ctx context.Context) (*domain.SweepResult, error) {
	conns, err := s.connections.ListWithToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections for sweep: %w", err)
	}

	sweep := &domain.SweepResult{}
	now := time.Now()

	for _, conn := range conns {
		sweep.Processed++

		if err := s.connections.UpdateSyncStatus(ctx, conn.ID, domain.SyncStatusPending); err != nil {
			sweep.Connections = append(sweep.Connections, domain.ConnectionSyncStatus{
				ConnectionID: conn.ID,
				Status:       domain.RunStatusFailed,
				Error:        err.Error(),
			})
			continue
		}

		windowStart := conn.LastSyncedAt
		if windowStart.IsZero() {
			windowStart = now.Add(-defaultLookback)
		}

		result, err := s.SyncStatementTransactions(ctx, conn.ID, windowStart, now, DefaultPageCap)
		if err != nil {
			sweep.Connections = append(sweep.Connections, domain.ConnectionSyncStatus{
				ConnectionID: conn.ID,
				Status:       domain.RunStatusFailed,
				Error:        err.Error(),
			})
			continue
		}

		status := domain.ConnectionSyncStatus{
			ConnectionID: conn.ID,
			Status:       result.Status,
		}
		if len(result.Errors) > 0 {
			status.Error = result.Errors[0]
		}
		sweep.Connections = append(sweep.Connections, status)
	}

	return sweep, nil
}
