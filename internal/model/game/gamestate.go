package game

import "time"

// GameState holds the serialized stats payload for one player. At most one
// row exists per user; each save overwrites the previous payload wholesale.
type GameState struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex;not null" json:"userId"`
	Data      string    `gorm:"type:text" json:"data"`
	UpdatedAt time.Time `json:"updatedAt"`
}
