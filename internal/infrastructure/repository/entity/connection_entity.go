package entity

import (
	"time"

	"tiktok-shop-finance-layer/internal/domain"
)

// MongoConnectionDoc represents a merchant connection in MongoDB. Token
// fields hold ciphertext; the repository encrypts on write and decrypts on
// read.
type MongoConnectionDoc struct {
	ID                 string    `bson:"_id"`
	UserID             string    `bson:"userId"`
	ShopID             string    `bson:"shopId"`
	ShopCipher         string    `bson:"shopCipher"`
	ShopName           string    `bson:"shopName"`
	Region             string    `bson:"region"`
	AccessToken        string    `bson:"accessToken"`
	AccessTokenExpiry  time.Time `bson:"accessTokenExpiry"`
	RefreshToken       string    `bson:"refreshToken"`
	RefreshTokenExpiry time.Time `bson:"refreshTokenExpiry"`
	SyncStatus         string    `bson:"syncStatus"`
	LastSyncedAt       time.Time `bson:"lastSyncedAt"`
	ConnectedAt        time.Time `bson:"connectedAt"`
	UpdatedAt          time.Time `bson:"updatedAt"`
}

// ToDomain converts the MongoDB document to a domain entity.
func (d *MongoConnectionDoc) ToDomain() *domain.Connection {
	return &domain.Connection{
		ID:                 d.ID,
		UserID:             d.UserID,
		ShopID:             d.ShopID,
		ShopCipher:         d.ShopCipher,
		ShopName:           d.ShopName,
		Region:             d.Region,
		AccessToken:        d.AccessToken,
		AccessTokenExpiry:  d.AccessTokenExpiry,
		RefreshToken:       d.RefreshToken,
		RefreshTokenExpiry: d.RefreshTokenExpiry,
		SyncStatus:         domain.SyncStatus(d.SyncStatus),
		LastSyncedAt:       d.LastSyncedAt,
		ConnectedAt:        d.ConnectedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

// MongoConnectionDocFromDomain converts a domain entity to a MongoDB
// document.
func MongoConnectionDocFromDomain(conn *domain.Connection) *MongoConnectionDoc {
	return &MongoConnectionDoc{
		ID:                 conn.ID,
		UserID:             conn.UserID,
		ShopID:             conn.ShopID,
		ShopCipher:         conn.ShopCipher,
		ShopName:           conn.ShopName,
		Region:             conn.Region,
		AccessToken:        conn.AccessToken,
		AccessTokenExpiry:  conn.AccessTokenExpiry,
		RefreshToken:       conn.RefreshToken,
		RefreshTokenExpiry: conn.RefreshTokenExpiry,
		SyncStatus:         string(conn.SyncStatus),
		LastSyncedAt:       conn.LastSyncedAt,
		ConnectedAt:        conn.ConnectedAt,
		UpdatedAt:          conn.UpdatedAt,
	}
}
