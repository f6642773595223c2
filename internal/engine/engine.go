// Package engine is the facade UI collaborators use to reach the card store,
// the user's library and the remote card API.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ramonehamilton/cardvault/internal/cards/importer"
	"github.com/ramonehamilton/cardvault/internal/cards/mtgapi"
	"github.com/ramonehamilton/cardvault/internal/cards/query"
	"github.com/ramonehamilton/cardvault/internal/config"
	"github.com/ramonehamilton/cardvault/internal/metrics"
	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
	"github.com/ramonehamilton/cardvault/internal/storage/repository"
)

// Remote is the online card database. *mtgapi.Client implements it.
type Remote interface {
	SearchCards(ctx context.Context, term string, filters mtgapi.SearchFilters) ([]*models.Card, error)
	GetSets(ctx context.Context) ([]*models.Set, error)
	FetchBulk(ctx context.Context, url string) (io.ReadCloser, error)
}

// Config configures an Engine.
type Config struct {
	// DB is the open, migrated vault database. Required.
	DB *storage.DB

	// Remote is optional. Without it every search is local and imports
	// accept only local files.
	Remote Remote

	// Search holds the initial search settings.
	Search config.SearchConfig

	// Import configures bulk imports. BulkURL is used when StartImport is
	// given no source.
	Import  importer.Options
	BulkURL string

	Logger *slog.Logger
}

// Engine owns the repositories, the query engine and the importer.
type Engine struct {
	db       *storage.DB
	cards    repository.CardRepository
	sets     repository.SetRepository
	library  repository.CollectionRepository
	tags     *Groups
	wants    *Groups
	query    *query.Engine
	remote   Remote
	importer *importer.Importer
	backups  *storage.BackupManager
	metrics  *metrics.SearchMetrics
	bulkURL  string
	logger   *slog.Logger

	// encryption builds the key derivation settings for library exports.
	encryption func(password string) *storage.EncryptionConfig

	mu     sync.RWMutex
	search config.SearchConfig
	flight singleflight.Group
}

// New creates an engine over an open database.
func New(cfg Config) (*Engine, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Search.ResultLimit <= 0 {
		cfg.Search.ResultLimit = repository.DefaultSearchLimit
	}

	conn := cfg.DB.Conn()
	cards := repository.NewCardRepository(conn)
	sets := repository.NewSetRepository(conn)

	queryEngine, err := query.NewEngine(query.Config{Cards: cards, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("failed to create query engine: %w", err)
	}

	importOptions := cfg.Import
	if importOptions.Logger == nil {
		importOptions.Logger = cfg.Logger
	}
	var downloader importer.Downloader
	if cfg.Remote != nil {
		downloader = cfg.Remote
	}

	e := &Engine{
		db:         cfg.DB,
		cards:      cards,
		sets:       sets,
		library:    repository.NewCollectionRepository(conn),
		query:      queryEngine,
		remote:     cfg.Remote,
		importer:   importer.New(cards, sets, downloader, importOptions),
		backups:    storage.NewBackupManager(cfg.DB),
		metrics:    metrics.NewSearchMetrics(),
		bulkURL:    cfg.BulkURL,
		logger:     cfg.Logger,
		encryption: storage.DefaultEncryptionConfig,
		search:     cfg.Search,
	}
	e.tags = newGroups(repository.NewTagRepository(conn), cards, cfg.Logger)
	e.wants = newGroups(repository.NewWantListRepository(conn), cards, cfg.Logger)

	return e, nil
}

// Close stops a running import and closes the database.
func (e *Engine) Close() error {
	if e.importer.Running() {
		e.importer.Cancel()
		_, _ = e.importer.Wait()
	}
	return e.db.Close()
}

// SearchConfig returns the current search settings.
func (e *Engine) SearchConfig() config.SearchConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.search
}

// ApplySearchConfig replaces the search settings. Searches already running
// keep the settings they started with.
func (e *Engine) ApplySearchConfig(cfg config.SearchConfig) {
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = repository.DefaultSearchLimit
	}

	e.mu.Lock()
	e.search = cfg
	e.mu.Unlock()

	e.logger.Info("Search settings updated",
		"prefer_local", cfg.PreferLocal,
		"result_limit", cfg.ResultLimit,
		"hide_duplicates", cfg.HideDuplicates,
		"newest_first", cfg.NewestFirst,
		"sort_by_rarity", cfg.SortByRarity)
}

// Stats returns search and import statistics since the engine started.
func (e *Engine) Stats() *metrics.SearchStats {
	return e.metrics.Stats()
}

// Tags returns the tag groups.
func (e *Engine) Tags() *Groups {
	return e.tags
}

// WantLists returns the want-list groups.
func (e *Engine) WantLists() *Groups {
	return e.wants
}

// CardCount returns the number of stored cards, or 0 if the store is unreadable.
func (e *Engine) CardCount(ctx context.Context) int {
	count, err := e.cards.Count(ctx)
	if err != nil {
		e.logger.Warn("Failed to count cards", "error", err)
		return 0
	}
	return count
}

// ListAllCardIDs returns every stored card id, or nil if the store is unreadable.
func (e *Engine) ListAllCardIDs(ctx context.Context) []int {
	ids, err := e.cards.ListAllCardIDs(ctx)
	if err != nil {
		e.logger.Warn("Failed to list card ids", "error", err)
		return nil
	}
	return ids
}

// ClearCardData removes every card and set. The library, tags and want
// lists are kept.
func (e *Engine) ClearCardData(ctx context.Context) error {
	if err := e.cards.ClearCardData(ctx); err != nil {
		return fmt.Errorf("failed to clear card data: %w", err)
	}
	e.logger.Info("Card data cleared")
	return nil
}

// Backup writes a snapshot of the database into dir, or next to the database
// file when dir is empty.
func (e *Engine) Backup(dir string) (string, error) {
	path, err := e.backups.Backup(dir)
	if err != nil {
		return "", err
	}
	e.logger.Info("Database backed up", "path", path)
	return path, nil
}

// ListBackups lists the snapshots in dir, newest first.
func (e *Engine) ListBackups(dir string) ([]storage.BackupInfo, error) {
	return e.backups.ListBackups(dir)
}
