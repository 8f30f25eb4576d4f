package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/antlaw0/AI-DM-v2/internal/model/game"
)

// MessageRepository is the append-only log of chat turns. Messages are never
// edited or deleted.
type MessageRepository interface {
	Append(ctx context.Context, msg *game.Message) error
	Recent(ctx context.Context, userID uint, limit int) ([]game.Message, error)
	History(ctx context.Context, userID uint) ([]game.Message, error)
}

type messageRepo struct {
	db *gorm.DB
}

// NewMessageRepository creates a sqlite-backed MessageRepository.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepo{db: db}
}

// Append assigns the next sequence position for the message's user and
// inserts the row, both inside one transaction. The unique (user, sequence)
// index backstops any race the transaction does not cover.
func (r *messageRepo) Append(ctx context.Context, msg *game.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last uint64
		err := tx.Model(&game.Message{}).
			Where("user_id = ?", msg.UserID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&last).Error
		if err != nil {
			return err
		}

		msg.Sequence = last + 1
		return tx.Create(msg).Error
	})
}

// Recent returns up to limit of the user's latest messages, oldest first.
func (r *messageRepo) Recent(ctx context.Context, userID uint, limit int) ([]game.Message, error) {
	var messages []game.Message
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sequence DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// Flip the descending page back into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// History returns the user's full conversation, oldest first.
func (r *messageRepo) History(ctx context.Context, userID uint) ([]game.Message, error) {
	var messages []game.Message
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sequence ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
