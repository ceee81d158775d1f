package entity

import (
	"time"

	"tiktok-shop-finance-layer/internal/domain"

	"github.com/shopspring/decimal"
)

// MongoTransactionDoc represents one synced statement line in MongoDB. The
// amount is stored as its decimal string to avoid float rounding in the
// database.
type MongoTransactionDoc struct {
	ConnectionID  string         `bson:"connectionId"`
	TransactionID string         `bson:"transactionId"`
	Type          string         `bson:"type"`
	Amount        string         `bson:"amount"`
	OrderID       string         `bson:"orderId,omitempty"`
	OccurredAt    time.Time      `bson:"occurredAt"`
	RawPayload    map[string]any `bson:"rawPayload"`
	CreatedAt     time.Time      `bson:"createdAt"`
	UpdatedAt     time.Time      `bson:"updatedAt"`
}

// ToDomain converts the MongoDB document to a domain entity.
func (d *MongoTransactionDoc) ToDomain() *domain.TransactionRecord {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		amount = decimal.Zero
	}
	return &domain.TransactionRecord{
		ConnectionID:  d.ConnectionID,
		TransactionID: d.TransactionID,
		Type:          d.Type,
		Amount:        amount,
		OrderID:       d.OrderID,
		OccurredAt:    d.OccurredAt,
		RawPayload:    d.RawPayload,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// MongoTransactionDocFromDomain converts a domain entity to a MongoDB
// document.
func MongoTransactionDocFromDomain(rec *domain.TransactionRecord) *MongoTransactionDoc {
	return &MongoTransactionDoc{
		ConnectionID:  rec.ConnectionID,
		TransactionID: rec.TransactionID,
		Type:          rec.Type,
		Amount:        rec.Amount.String(),
		OrderID:       rec.OrderID,
		OccurredAt:    rec.OccurredAt,
		RawPayload:    rec.RawPayload,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}
