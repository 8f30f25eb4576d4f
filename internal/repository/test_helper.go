package repository

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/antlaw0/AI-DM-v2/internal/model/game"
)

// SetupTestDB opens an in-memory sqlite database with the full schema. Each
// call returns a fresh, isolated database. The pool is capped at a single
// connection because every :memory: connection is its own database.
func SetupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		panic(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&game.User{}, &game.Message{}, &game.GameState{}); err != nil {
		panic(err)
	}
	return db
}
