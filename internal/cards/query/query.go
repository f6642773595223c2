// Package query composes filtered card searches against the local store and
// post-processes results (duplicate printings, rarity order).
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ramonehamilton/cardvault/internal/storage/models"
	"github.com/ramonehamilton/cardvault/internal/storage/repository"
)

// CardSource is the part of the card store the engine reads from.
type CardSource interface {
	Search(ctx context.Context, criteria repository.SearchCriteria) ([]*models.Card, error)
}

// Options controls result post-processing.
type Options struct {
	// Limit caps the number of rows read from the store. Zero uses
	// repository.DefaultSearchLimit.
	Limit int

	// HideDuplicates keeps one printing per card name.
	HideDuplicates bool

	// Order tells duplicate suppression which printing is the newest.
	Order PrintingOrder

	// SortByRarity orders results from special to mythic rare.
	SortByRarity bool
}

// Engine runs searches against the local card store.
type Engine struct {
	cards  CardSource
	logger *slog.Logger
}

// Config configures the query engine.
type Config struct {
	Cards  CardSource
	Logger *slog.Logger
}

// NewEngine creates a new query engine.
func NewEngine(config Config) (*Engine, error) {
	if config.Cards == nil {
		return nil, fmt.Errorf("card source is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Engine{cards: config.Cards, logger: config.Logger}, nil
}

// Search validates the filter, queries the store and applies opts.
// It returns ErrMalformedFilter for unusable filters and translated storage
// errors otherwise.
func (e *Engine) Search(ctx context.Context, filter Filter, opts Options) ([]*models.Card, error) {
	criteria, err := filter.Criteria(opts.Limit)
	if err != nil {
		e.logger.Debug("Rejected search filter", "filter", filter, "error", err)
		return nil, err
	}

	cards, err := e.cards.Search(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search cards: %w", err)
	}

	e.logger.Debug("Local search complete",
		"name", criteria.NameTerm,
		"rarity", criteria.Rarity,
		"type", criteria.TypeTerm,
		"set", criteria.SetCode,
		"colors", criteria.FilterColor,
		"results", len(cards))

	return PostProcess(cards, opts), nil
}

// SearchByName is Search with only a name term.
func (e *Engine) SearchByName(ctx context.Context, term string, opts Options) ([]*models.Card, error) {
	return e.Search(ctx, Filter{NameTerm: term}, opts)
}

// PostProcess applies duplicate suppression, rarity ordering and the result
// cap to cards from any source.
func PostProcess(cards []*models.Card, opts Options) []*models.Card {
	if opts.HideDuplicates {
		cards = RemoveDuplicates(cards, opts.Order)
	}
	if opts.SortByRarity {
		SortByRarity(cards)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = repository.DefaultSearchLimit
	}
	if len(cards) > limit {
		cards = cards[:limit]
	}
	return cards
}

// IsMalformed reports whether err came from filter validation.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedFilter)
}
