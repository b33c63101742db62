package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestStore creates an in-memory SQLite store for testing.
func setupTestStore(t *testing.T) *gormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(&PlayerRecord{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return &gormStore{db: db}
}

func TestStoreFindPlayerNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.FindPlayer(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestStoreCreateAndFind(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created, err := store.CreatePlayer(ctx, "Jan")
	require.NoError(t, err)
	assert.Equal(t, "Jan", created.Name)
	assert.Zero(t, created.Wins)

	found, err := store.FindPlayer(ctx, "Jan")
	require.NoError(t, err)
	assert.Equal(t, "Jan", found.Name)
	assert.Zero(t, found.Wins)
}

func TestStoreIncrementWin(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t.Run("existing player", func(t *testing.T) {
		_, err := store.CreatePlayer(ctx, "Jan")
		require.NoError(t, err)

		require.NoError(t, store.IncrementWin(ctx, "Jan"))
		require.NoError(t, store.IncrementWin(ctx, "Jan"))

		found, err := store.FindPlayer(ctx, "Jan")
		require.NoError(t, err)
		assert.Equal(t, 2, found.Wins)
	})

	t.Run("unseen player is created first", func(t *testing.T) {
		require.NoError(t, store.IncrementWin(ctx, "Piet"))

		found, err := store.FindPlayer(ctx, "Piet")
		require.NoError(t, err)
		assert.Equal(t, 1, found.Wins)
	})
}

func TestStoreTopPlayers(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("player-%02d", i)
		_, err := store.CreatePlayer(ctx, name)
		require.NoError(t, err)

		for w := 0; w < i; w++ {
			require.NoError(t, store.IncrementWin(ctx, name))
		}
	}

	top, err := store.TopPlayers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 10)

	// Ordered by win count descending, truncated to the requested size.
	assert.Equal(t, "player-11", top[0].Name)
	assert.Equal(t, 11, top[0].Wins)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Wins, top[i].Wins)
	}
}
