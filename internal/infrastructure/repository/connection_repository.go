package repository

import (
	"context"
	"fmt"
	"time"

	"tiktok-shop-finance-layer/internal/domain"
	"tiktok-shop-finance-layer/internal/infrastructure/repository/entity"
	"tiktok-shop-finance-layer/internal/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConnectionRepository implements ConnectionRepository using MongoDB.
// Tokens are encrypted before they hit the collection and decrypted on the
// way out, so plaintext credentials never reach storage.
type MongoConnectionRepository struct {
	collection *mongo.Collection
	crypto     ports.EncryptionService
}

// NewMongoConnectionRepository creates a new MongoDB connection repository.
func NewMongoConnectionRepository(db *mongo.Database, crypto ports.EncryptionService) *MongoConnectionRepository {
	return &MongoConnectionRepository{
		collection: db.Collection("connections"),
		crypto:     crypto,
	}
}

// EnsureIndexes creates the unique (userId, shopId) index so re-authorizing
// a shop updates in place instead of creating duplicates.
func (r *MongoConnectionRepository) EnsureIndexes(ctx context.Context) error {
	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "shopId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := r.collection.Indexes().CreateOne(ctx, indexModel)
	if err != nil {
		return fmt.Errorf("failed to create connection index: %w", err)
	}
	return nil
}

// UpsertByUserAndShop saves a connection keyed on (user id, shop id).
func (r *MongoConnectionRepository) UpsertByUserAndShop(ctx context.Context, conn *domain.Connection) error {
	doc := entity.MongoConnectionDocFromDomain(conn)
	doc.UpdatedAt = time.Now()
	if doc.ConnectedAt.IsZero() {
		doc.ConnectedAt = time.Now()
	}
	if err := r.encryptDoc(doc); err != nil {
		return err
	}

	opts := options.Update().SetUpsert(true)
	filter := bson.M{"userId": conn.UserID, "shopId": conn.ShopID}
	update := bson.M{"$set": bson.M{
		"userId":             doc.UserID,
		"shopId":             doc.ShopID,
		"shopCipher":         doc.ShopCipher,
		"shopName":           doc.ShopName,
		"region":             doc.Region,
		"accessToken":        doc.AccessToken,
		"accessTokenExpiry":  doc.AccessTokenExpiry,
		"refreshToken":       doc.RefreshToken,
		"refreshTokenExpiry": doc.RefreshTokenExpiry,
		"syncStatus":         doc.SyncStatus,
		"updatedAt":          doc.UpdatedAt,
	}, "$setOnInsert": bson.M{
		"_id":         doc.ID,
		"connectedAt": doc.ConnectedAt,
	}}

	_, err := r.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

// GetByID retrieves a connection by id, or (nil, nil) if absent.
func (r *MongoConnectionRepository) GetByID(ctx context.Context, id string) (*domain.Connection, error) {
	var doc entity.MongoConnectionDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if err := r.decryptDoc(&doc); err != nil {
		return nil, err
	}
	return doc.ToDomain(), nil
}

// ListWithToken retrieves every connection holding an access token. These
// are the sweep candidates for the scheduled sync trigger.
func (r *MongoConnectionRepository) ListWithToken(ctx context.Context) ([]*domain.Connection, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"accessToken": bson.M{"$ne": ""}})
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer cursor.Close(ctx)

	var conns []*domain.Connection
	for cursor.Next(ctx) {
		var doc entity.MongoConnectionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode connection: %w", err)
		}
		if err := r.decryptDoc(&doc); err != nil {
			return nil, err
		}
		conns = append(conns, doc.ToDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return conns, nil
}

// UpdateTokens persists a refreshed credential set for the connection.
func (r *MongoConnectionRepository) UpdateTokens(ctx context.Context, conn *domain.Connection) error {
	doc := entity.MongoConnectionDocFromDomain(conn)
	doc.UpdatedAt = time.Now()
	if err := r.encryptDoc(doc); err != nil {
		return err
	}

	update := bson.M{"$set": bson.M{
		"accessToken":        doc.AccessToken,
		"accessTokenExpiry":  doc.AccessTokenExpiry,
		"refreshToken":       doc.RefreshToken,
		"refreshTokenExpiry": doc.RefreshTokenExpiry,
		"updatedAt":          doc.UpdatedAt,
	}}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": conn.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	return nil
}

// UpdateSyncStatus sets the sync status field only.
func (r *MongoConnectionRepository) UpdateSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error {
	update := bson.M{"$set": bson.M{"syncStatus": string(status), "updatedAt": time.Now()}}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}

// UpdateLastSyncedAt advances the incremental-sync watermark.
func (r *MongoConnectionRepository) UpdateLastSyncedAt(ctx context.Context, id string, at time.Time) error {
	update := bson.M{"$set": bson.M{"lastSyncedAt": at, "updatedAt": time.Now()}}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update last synced at: %w", err)
	}
	return nil
}

func (r *MongoConnectionRepository) encryptDoc(doc *entity.MongoConnectionDoc) error {
	if r.crypto == nil {
		return nil
	}
	var err error
	if doc.AccessToken != "" {
		if doc.AccessToken, err = r.crypto.Encrypt(doc.AccessToken); err != nil {
			return fmt.Errorf("failed to encrypt access token: %w", err)
		}
	}
	if doc.RefreshToken != "" {
		if doc.RefreshToken, err = r.crypto.Encrypt(doc.RefreshToken); err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}
	return nil
}

func (r *MongoConnectionRepository) decryptDoc(doc *entity.MongoConnectionDoc) error {
	if r.crypto == nil {
		return nil
	}
	var err error
	if doc.AccessToken != "" {
		if doc.AccessToken, err = r.crypto.Decrypt(doc.AccessToken); err != nil {
			return fmt.Errorf("failed to decrypt access token: %w", err)
		}
	}
	if doc.RefreshToken != "" {
		if doc.RefreshToken, err = r.crypto.Decrypt(doc.RefreshToken); err != nil {
			return fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
	}
	return nil
}
