package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/antlaw0/AI-DM-v2/internal/model/game"
)

// ErrStateNotFound is returned when a user has no game state yet.
var ErrStateNotFound = errors.New("game state not found")

// GameStateRepository keeps the single live state row per user.
type GameStateRepository interface {
	Get(ctx context.Context, userID uint) (*game.GameState, error)
	Save(ctx context.Context, userID uint, data string) error
}

type gameStateRepo struct {
	db *gorm.DB
}

// NewGameStateRepository creates a sqlite-backed GameStateRepository.
func NewGameStateRepository(db *gorm.DB) GameStateRepository {
	return &gameStateRepo{db: db}
}

// Get returns the user's current state row.
func (r *gameStateRepo) Get(ctx context.Context, userID uint) (*game.GameState, error) {
	var state game.GameState
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}
	return &state, nil
}

// Save overwrites the user's state wholesale, last write wins. The unique
// user_id index guarantees at most one live row per user.
func (r *gameStateRepo) Save(ctx context.Context, userID uint, data string) error {
	state := game.GameState{
		UserID:    userID,
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&state).Error
}
