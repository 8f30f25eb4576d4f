package game

import "time"

// User is a player identity, created on first contact and never deleted.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:50;uniqueIndex;not null" json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}
