package models

import (
	"time"

	"github.com/LingByte/LingMeet/pkg/constants"
)

// WaitingUser is one client looking for a partner. At most one row per handle.
type WaitingUser struct {
	UserID    string    `json:"user_id" gorm:"column:user_id;primaryKey;size:64"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;index"`
}

func (WaitingUser) TableName() string {
	return constants.TableWaitingUsers
}

// Stale reports whether the entry has outlived ttl at instant now.
func (w WaitingUser) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(w.CreatedAt) > ttl
}
