package main

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrPlayerNotFound is returned when no record exists for a player name.
var ErrPlayerNotFound = errors.New("player not found")

// PlayerRecord is one row of persisted player stats. Records are created
// lazily the first time a name joins a game and are never deleted.
type PlayerRecord struct {
	ID   uint   `gorm:"primarykey" json:"-"`
	Name string `gorm:"column:player_name;uniqueIndex" json:"name"`
	Wins int    `gorm:"column:player_win" json:"win"`
}

func (PlayerRecord) TableName() string {
	return "player"
}

// PlayerStore is the persistence gateway the game coordinator depends on.
// Implementations must be safe for concurrent use. IncrementWin may be
// applied more than once if a caller retries; callers accept that.
type PlayerStore interface {
	FindPlayer(ctx context.Context, name string) (*PlayerRecord, error)
	CreatePlayer(ctx context.Context, name string) (*PlayerRecord, error)
	IncrementWin(ctx context.Context, name string) error
	TopPlayers(ctx context.Context, n int) ([]PlayerRecord, error)
	Close() error
}

type gormStore struct {
	db *gorm.DB
}

// openStore connects to the configured backend and ensures the player
// table exists.
func openStore(cfg *Config) (PlayerStore, error) {
	var dialector gorm.Dialector

	switch cfg.dbDriver {
	case "mysql":
		dialector = mysql.Open(cfg.dbDsn)
	default:
		dialector = sqlite.Open(cfg.dbDsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.dbDriver, err)
	}

	if err := db.AutoMigrate(&PlayerRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate player table: %w", err)
	}

	logf(cfg, "STORE: Using %s backend at %q", cfg.dbDriver, cfg.dbDsn)

	return &gormStore{db: db}, nil
}

func (s *gormStore) FindPlayer(ctx context.Context, name string) (*PlayerRecord, error) {
	var record PlayerRecord
	if err := s.db.WithContext(ctx).First(&record, "player_name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to find player: %w", err)
	}
	return &record, nil
}

func (s *gormStore) CreatePlayer(ctx context.Context, name string) (*PlayerRecord, error) {
	record := PlayerRecord{Name: name, Wins: 0}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return &record, nil
}

func (s *gormStore) IncrementWin(ctx context.Context, name string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := PlayerRecord{Name: name}
		if err := tx.Where("player_name = ?", name).FirstOrCreate(&record).Error; err != nil {
			return err
		}

		return tx.Model(&PlayerRecord{}).
			Where("player_name = ?", name).
			UpdateColumn("player_win", gorm.Expr("player_win + ?", 1)).Error
	})
	if err != nil {
		return fmt.Errorf("failed to increment win count: %w", err)
	}
	return nil
}

func (s *gormStore) TopPlayers(ctx context.Context, n int) ([]PlayerRecord, error) {
	var records []PlayerRecord
	err := s.db.WithContext(ctx).
		Order("player_win DESC").
		Limit(n).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	return records, nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
