package repository

import (
	"context"
	"fmt"
	"time"

	"tiktok-shop-finance-layer/internal/domain"
	"tiktok-shop-finance-layer/internal/infrastructure/repository/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTransactionRepository implements TransactionRepository using MongoDB.
type MongoTransactionRepository struct {
	collection *mongo.Collection
}

// NewMongoTransactionRepository creates a new MongoDB transaction
// repository.
func NewMongoTransactionRepository(db *mongo.Database) *MongoTransactionRepository {
	return &MongoTransactionRepository{
		collection: db.Collection("statement_transactions"),
	}
}

// EnsureIndexes creates the unique (connectionId, transactionId) index that
// backs idempotent upserts.
func (r *MongoTransactionRepository) EnsureIndexes(ctx context.Context) error {
	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "connectionId", Value: 1}, {Key: "transactionId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := r.collection.Indexes().CreateOne(ctx, indexModel)
	if err != nil {
		return fmt.Errorf("failed to create transaction index: %w", err)
	}
	return nil
}

// Upsert writes one record keyed on (connection id, transaction id), so
// re-running a sync over the same window never duplicates rows. createdAt is
// set only on first insert.
func (r *MongoTransactionRepository) Upsert(ctx context.Context, rec *domain.TransactionRecord) error {
	doc := entity.MongoTransactionDocFromDomain(rec)
	doc.UpdatedAt = time.Now()

	opts := options.Update().SetUpsert(true)
	filter := bson.M{"connectionId": rec.ConnectionID, "transactionId": rec.TransactionID}
	update := bson.M{"$set": bson.M{
		"type":       doc.Type,
		"amount":     doc.Amount,
		"orderId":    doc.OrderID,
		"occurredAt": doc.OccurredAt,
		"rawPayload": doc.RawPayload,
		"updatedAt":  doc.UpdatedAt,
	}, "$setOnInsert": bson.M{
		"createdAt": time.Now(),
	}}

	_, err := r.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}
	return nil
}

// CountByConnection counts stored records for a connection.
func (r *MongoTransactionRepository) CountByConnection(ctx context.Context, connectionID string) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"connectionId": connectionID})
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// ListByConnection retrieves stored records, newest first.
func (r *MongoTransactionRepository) ListByConnection(ctx context.Context, connectionID string, limit int64) ([]*domain.TransactionRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "occurredAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := r.collection.Find(ctx, bson.M{"connectionId": connectionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var recs []*domain.TransactionRecord
	for cursor.Next(ctx) {
		var doc entity.MongoTransactionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		recs = append(recs, doc.ToDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return recs, nil
}
