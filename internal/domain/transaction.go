package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TypeUnknown is the fallback category for statement lines whose type field
// is missing or not yet mapped. It is a valid, common value: the platform's
// taxonomy evolves and unrecognized records are retained, not dropped.
const TypeUnknown = "unknown"

// TransactionRecord is one financial event pulled from the platform's
// statement-transactions endpoint. Identity is (connection id, transaction
// id); repeated syncs upsert on that pair.
type TransactionRecord struct {
	ConnectionID  string `json:"connection_id" bson:"connection_id"`
	TransactionID string `json:"transaction_id" bson:"transaction_id"`

	// Type is an open-ended category, not a fixed enum.
	Type    string          `json:"type" bson:"type"`
	Amount  decimal.Decimal `json:"amount" bson:"amount"`
	OrderID string          `json:"order_id,omitempty" bson:"order_id,omitempty"`

	OccurredAt time.Time `json:"occurred_at" bson:"occurred_at"`

	// RawPayload keeps fields not yet mapped so later schema changes can be
	// reprocessed without refetching.
	RawPayload map[string]any `json:"raw_payload" bson:"raw_payload"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}
