package game

import "time"

// Message roles. The player speaks, the dungeon master narrates.
const (
	RolePlayer   = "player"
	RoleNarrator = "narrator"
)

// Message is one line in a player's conversation history. Messages are
// append-only and immutable; Sequence is assigned at insert time and is
// strictly increasing within a user.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_messages_user_seq,priority:1" json:"userId"`
	Role      string    `gorm:"size:10;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Sequence  uint64    `gorm:"not null;uniqueIndex:idx_messages_user_seq,priority:2" json:"sequence"`
	CreatedAt time.Time `json:"createdAt"`
}
