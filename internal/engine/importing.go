package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ramonehamilton/cardvault/internal/cards/importer"
)

// StartImport imports a bulk dump in the background. source is a local file
// or URL; empty selects the configured bulk URL. onDone is called from the
// import goroutine when it finishes.
func (e *Engine) StartImport(ctx context.Context, source string, onDone func(*importer.ImportStats, error)) error {
	source, err := e.importSource(source)
	if err != nil {
		return err
	}
	if err := e.importer.Start(ctx, source, onDone); err != nil {
		return err
	}
	e.metrics.Imports.Add(1)
	return nil
}

// ImportCards imports a bulk dump and waits for it to finish.
func (e *Engine) ImportCards(ctx context.Context, source string) (*importer.ImportStats, error) {
	source, err := e.importSource(source)
	if err != nil {
		return nil, err
	}
	stats, err := e.importer.Import(ctx, source)
	if !errors.Is(err, importer.ErrAlreadyRunning) {
		e.metrics.Imports.Add(1)
	}
	return stats, err
}

// CancelImport stops a running import after its current batch.
func (e *Engine) CancelImport() {
	e.importer.Cancel()
}

// ImportRunning reports whether an import is in progress.
func (e *Engine) ImportRunning() bool {
	return e.importer.Running()
}

// WaitImport blocks until the background import finishes.
func (e *Engine) WaitImport() (*importer.ImportStats, error) {
	return e.importer.Wait()
}

func (e *Engine) importSource(source string) (string, error) {
	if source != "" {
		return source, nil
	}
	if e.bulkURL == "" {
		return "", fmt.Errorf("no import source given and no bulk URL configured")
	}
	return e.bulkURL, nil
}
