package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antlaw0/AI-DM-v2/internal/model/game"
)

func TestUserGetOrCreate(t *testing.T) {
	db := SetupTestDB()
	repo := NewUserRepository(db)
	ctx := context.Background()

	user, err := repo.GetOrCreate(ctx, "ana")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "ana", user.Username)

	again, err := repo.GetOrCreate(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	var count int64
	require.NoError(t, db.Model(&game.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUserFindByUsernameNotFound(t *testing.T) {
	db := SetupTestDB()
	repo := NewUserRepository(db)

	_, err := repo.FindByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserGetOrCreateConcurrentFirstContact(t *testing.T) {
	db := SetupTestDB()
	repo := NewUserRepository(db)
	ctx := context.Background()

	const racers = 8
	ids := make([]uint, racers)
	errs := make([]error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, err := repo.GetOrCreate(ctx, "newcomer")
			if err == nil {
				ids[i] = user.ID
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < racers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, db.Model(&game.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
