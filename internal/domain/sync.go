package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the outcome of one sync run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// SyncCursor is transient pagination state for one sync run.
type SyncCursor struct {
	PageToken    string
	PagesFetched int
	WindowStart  time.Time
	WindowEnd    time.Time
	PageCap      int
}

// TypeAggregate accumulates per-type counts and movement magnitude. Totals
// use the absolute value of the amount; sign semantics belong to the type.
type TypeAggregate struct {
	Count          int             `json:"count"`
	AbsAmountTotal decimal.Decimal `json:"abs_amount_total"`
}

// SyncResult is the structured outcome of one bounded sync run.
type SyncResult struct {
	ConnectionID    string                   `json:"connection_id"`
	Status          RunStatus                `json:"status"`
	PagesFetched    int                      `json:"pages_fetched"`
	RecordsFetched  int                      `json:"records_fetched"`
	RecordsUpserted int                      `json:"records_upserted"`
	ByType          map[string]TypeAggregate `json:"by_type"`
	Errors          []string                 `json:"errors,omitempty"`
	StartedAt       time.Time                `json:"started_at"`
	FinishedAt      time.Time                `json:"finished_at"`
}

// AddRecord folds one record into the per-type aggregates.
func (r *SyncResult) AddRecord(rec *TransactionRecord) {
	if r.ByType == nil {
		r.ByType = make(map[string]TypeAggregate)
	}
	agg := r.ByType[rec.Type]
	agg.Count++
	agg.AbsAmountTotal = agg.AbsAmountTotal.Add(rec.Amount.Abs())
	r.ByType[rec.Type] = agg
	r.RecordsFetched++
}

// ConnectionSyncStatus is one entry in a sweep response.
type ConnectionSyncStatus struct {
	ConnectionID string    `json:"connection_id"`
	Status       RunStatus `json:"status"`
	Error        string    `json:"error,omitempty"`
}

// SweepResult is the response contract for the scheduled sync trigger.
type SweepResult struct {
	Processed   int                    `json:"processed"`
	Connections []ConnectionSyncStatus `json:"connections"`
}
