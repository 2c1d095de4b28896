package models

import "time"

// UserBalance holds the coin counter of one user. It is only ever changed
// through an atomic increment.
type UserBalance struct {
	UserID    string    `gorm:"primaryKey;type:varchar(128)" json:"user_id"`
	Coins     int64     `gorm:"not null;default:0" json:"coins"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserBalance) TableName() string { return "user_balances" }
