// Package importer loads MTGJSON bulk dumps into the local card store in a
// background goroutine.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ramonehamilton/cardvault/internal/cards/mtgapi"
	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
	"github.com/ramonehamilton/cardvault/internal/storage/repository"
)

// ErrAlreadyRunning is returned by Start while an import is in progress.
var ErrAlreadyRunning = errors.New("import already running")

// errCancelled stops the parser when Cancel was called.
var errCancelled = errors.New("import cancelled")

// CardStore is the part of the card repository the importer writes to.
type CardStore interface {
	InsertCards(ctx context.Context, cards []*models.Card) (repository.InsertResult, error)
	ClearCardData(ctx context.Context) error
}

// SetStore persists the sets of a dump.
type SetStore interface {
	SaveSets(ctx context.Context, sets []*models.Set) error
}

// Downloader opens remote bulk dumps.
type Downloader interface {
	FetchBulk(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures the import process.
type Options struct {
	// BatchSize is the number of cards to insert per transaction.
	BatchSize int

	// DataDir caches downloaded dumps. Empty streams downloads directly.
	DataDir string

	// ClearFirst deletes all card and set data before importing.
	ClearFirst bool

	// Progress is an optional callback invoked after every batch.
	Progress func(Progress)

	Logger *slog.Logger
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		BatchSize: 500,
		DataDir:   filepath.Join(os.TempDir(), "cardvault", "bulk"),
	}
}

// Progress is a snapshot of a running import.
type Progress struct {
	Sets       int
	CurrentSet string
	Processed  int
	Inserted   int
	Skipped    int
	Failed     int
}

// ImportStats contains statistics about a finished import.
type ImportStats struct {
	Sets      int
	Total     int
	Inserted  int
	Skipped   int
	Failed    int
	Duration  time.Duration
	Cancelled bool
}

// Importer imports bulk dumps. One import runs at a time.
type Importer struct {
	cards    CardStore
	sets     SetStore
	client   Downloader
	options  Options
	logger   *slog.Logger
	cancel   atomic.Bool
	running  atomic.Bool
	mu       sync.Mutex
	done     chan struct{}
	lastStat *ImportStats
	lastErr  error
}

// New creates an importer. client may be nil when only local files are imported.
func New(cards CardStore, sets SetStore, client Downloader, options Options) *Importer {
	if options.BatchSize <= 0 {
		options.BatchSize = DefaultOptions().BatchSize
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	done := make(chan struct{})
	close(done)

	return &Importer{
		cards:   cards,
		sets:    sets,
		client:  client,
		options: options,
		logger:  options.Logger,
		done:    done,
	}
}

// Start runs Import for source in a new goroutine and returns immediately.
// onDone, if not nil, is called from that goroutine with the result.
func (im *Importer) Start(ctx context.Context, source string, onDone func(*ImportStats, error)) error {
	done, err := im.begin()
	if err != nil {
		return err
	}

	go func() {
		stats, err := im.run(ctx, source)
		im.finish(done, stats, err)

		if onDone != nil {
			onDone(stats, err)
		}
	}()

	return nil
}

// Import runs an import synchronously.
func (im *Importer) Import(ctx context.Context, source string) (*ImportStats, error) {
	done, err := im.begin()
	if err != nil {
		return nil, err
	}

	stats, err := im.run(ctx, source)
	im.finish(done, stats, err)
	return stats, err
}

// begin marks an import as running and arms a fresh done channel. Both
// happen under mu so Wait never sees a running import with a stale channel.
func (im *Importer) begin() (chan struct{}, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	if !im.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	im.cancel.Store(false)
	im.done = make(chan struct{})
	return im.done, nil
}

// finish records the result and releases waiters.
func (im *Importer) finish(done chan struct{}, stats *ImportStats, err error) {
	im.mu.Lock()
	im.lastStat, im.lastErr = stats, err
	im.running.Store(false)
	im.mu.Unlock()

	close(done)
}

// Cancel asks the running import to stop after the current batch. Rows
// already written are kept. Cancelling the import's ctx has the same effect.
func (im *Importer) Cancel() {
	if im.running.Load() {
		im.cancel.Store(true)
	}
}

// Running reports whether an import is in progress.
func (im *Importer) Running() bool {
	return im.running.Load()
}

// Wait blocks until the current or most recent import finishes and returns
// its result.
func (im *Importer) Wait() (*ImportStats, error) {
	im.mu.Lock()
	done := im.done
	im.mu.Unlock()

	<-done

	im.mu.Lock()
	defer im.mu.Unlock()
	return im.lastStat, im.lastErr
}

// run performs one import. source is a local path or an http(s) URL.
func (im *Importer) run(ctx context.Context, source string) (*ImportStats, error) {
	start := time.Now()
	stats := &ImportStats{}

	im.logger.Info("Starting card import", "source", source, "clearFirst", im.options.ClearFirst)

	reader, err := im.open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	if im.options.ClearFirst {
		if err := im.cards.ClearCardData(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear card data: %w", err)
		}
	}

	b := &batcher{im: im, stats: stats}
	err = mtgapi.ParseAllSets(reader, func(set *models.Set, cards []*models.Card) error {
		stats.Sets++
		b.currentSet = set.Code
		b.sets = append(b.sets, set)

		for _, card := range cards {
			b.cards = append(b.cards, card)
			if len(b.cards) >= im.options.BatchSize {
				if err := b.flush(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		err = b.flush(ctx)
	}

	stats.Duration = time.Since(start)

	if errors.Is(err, errCancelled) || errors.Is(err, context.Canceled) {
		stats.Cancelled = true
		im.logger.Warn("Card import cancelled",
			"inserted", stats.Inserted, "skipped", stats.Skipped, "failed", stats.Failed)
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("failed to import cards: %w", err)
	}

	im.logger.Info("Card import complete",
		"sets", stats.Sets,
		"total", stats.Total,
		"inserted", stats.Inserted,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"duration", stats.Duration)

	return stats, nil
}

// batcher accumulates cards and sets between flushes.
type batcher struct {
	im         *Importer
	stats      *ImportStats
	cards      []*models.Card
	sets       []*models.Set
	currentSet string
}

// flush writes the pending batch, reports progress and then checks for
// cancellation.
func (b *batcher) flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(b.sets) > 0 {
		err := storage.RetryOnBusy(func() error { return b.im.sets.SaveSets(ctx, b.sets) })
		if err != nil {
			return fmt.Errorf("failed to save sets: %w", err)
		}
		b.sets = b.sets[:0]
	}

	if len(b.cards) > 0 {
		var result repository.InsertResult
		err := storage.RetryOnBusy(func() error {
			var err error
			result, err = b.im.cards.InsertCards(ctx, b.cards)
			return err
		})
		b.stats.Total += len(b.cards)
		b.stats.Inserted += result.Inserted
		b.stats.Skipped += result.Skipped
		b.stats.Failed += result.Failed
		if err != nil {
			// A failed batch is counted and the import carries on.
			b.im.logger.Warn("Failed to insert batch", "set", b.currentSet, "cards", len(b.cards), "error", err)
		}
		b.cards = b.cards[:0]
	}

	if b.im.options.Progress != nil {
		b.im.options.Progress(Progress{
			Sets:       b.stats.Sets,
			CurrentSet: b.currentSet,
			Processed:  b.stats.Total,
			Inserted:   b.stats.Inserted,
			Skipped:    b.stats.Skipped,
			Failed:     b.stats.Failed,
		})
	}

	if b.im.cancel.Load() {
		return errCancelled
	}
	return nil
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// open returns a reader for source, downloading it first when it is a URL.
func (im *Importer) open(ctx context.Context, source string) (io.ReadCloser, error) {
	if !isURL(source) {
		file, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		return file, nil
	}

	if im.client == nil {
		return nil, fmt.Errorf("cannot download %s: no API client configured", source)
	}

	body, err := im.client.FetchBulk(ctx, source)
	if err != nil {
		return nil, err
	}
	if im.options.DataDir == "" {
		return body, nil
	}
	defer func() { _ = body.Close() }()

	filePath, err := im.saveDownload(body, source)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open downloaded file: %w", err)
	}
	return file, nil
}

// saveDownload copies body into DataDir, replacing any earlier download of
// the same file.
func (im *Importer) saveDownload(body io.Reader, source string) (string, error) {
	if err := os.MkdirAll(im.options.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	fileName := path.Base(strings.SplitN(source, "?", 2)[0])
	if fileName == "" || fileName == "/" || fileName == "." {
		fileName = "bulk.json"
	}
	filePath := filepath.Join(im.options.DataDir, fileName)

	tmpFile, err := os.CreateTemp(im.options.DataDir, "bulk-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	written, err := io.Copy(tmpFile, body)
	if err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename file: %w", err)
	}

	im.logger.Debug("Downloaded bulk file", "path", filePath, "bytes", written)
	return filePath, nil
}
