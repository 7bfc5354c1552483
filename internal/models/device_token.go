package models

import (
	"time"

	"lazone/api/internal/utils"
)

// DeviceToken is one registered push destination for an account.
type DeviceToken struct {
	Base      `bson:",inline"`
	UserID    utils.SixID `bson:"user_id" json:"user_id"`
	Token     string      `bson:"token" json:"token"`
	Platform  string      `bson:"platform" json:"platform"` // ios, android, web
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updated_at"`
}
