package engine

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ramonehamilton/cardvault/internal/cards/importer"
	"github.com/ramonehamilton/cardvault/internal/cards/mtgapi"
	"github.com/ramonehamilton/cardvault/internal/config"
	"github.com/ramonehamilton/cardvault/internal/storage"
)

// Open opens the database described by cfg, applies pending migrations and
// builds an engine with a remote client. The engine owns the database.
func Open(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	busyTimeout, err := cfg.GetBusyTimeout()
	if err != nil {
		return nil, err
	}
	apiTimeout, err := cfg.GetAPITimeout()
	if err != nil {
		return nil, err
	}

	dbConfig := storage.DefaultConfig(dbPath)
	dbConfig.JournalMode = cfg.Database.JournalMode
	dbConfig.BusyTimeout = busyTimeout
	dbConfig.AutoMigrate = true

	db, err := storage.Open(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	client := mtgapi.NewClient(mtgapi.ClientConfig{
		BaseURL:           cfg.API.BaseURL,
		UserAgent:         cfg.API.UserAgent,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Timeout:           apiTimeout,
	})

	importOptions := importer.DefaultOptions()
	importOptions.BatchSize = cfg.Import.BatchSize
	if cfg.Import.DataDir != "" {
		importOptions.DataDir = cfg.Import.DataDir
	} else {
		importOptions.DataDir = filepath.Join(filepath.Dir(dbPath), "bulk")
	}

	e, err := New(Config{
		DB:      db,
		Remote:  client,
		Search:  cfg.Search,
		Import:  importOptions,
		BulkURL: cfg.Import.SourceURL,
		Logger:  logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}
