package repository

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

// setupTestDB opens a migrated database in a temporary directory.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	config := storage.DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	config.AutoMigrate = true

	db, err := storage.Open(config)
	require.NoError(t, err, "failed to open test database")

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db.Conn()
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

// testCard builds a minimal identified card.
func testCard(id int, name, rarity, set string, cardColors ...string) *models.Card {
	return &models.Card{
		MultiverseID: intPtr(id),
		Name:         name,
		Rarity:       strPtr(rarity),
		SetCode:      strPtr(set),
		Type:         strPtr("Instant"),
		Colors:       cardColors,
	}
}
