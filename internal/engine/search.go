package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ramonehamilton/cardvault/internal/cards/mtgapi"
	"github.com/ramonehamilton/cardvault/internal/cards/query"
	"github.com/ramonehamilton/cardvault/internal/config"
	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

// Search runs filter against the local store when prefer_local is set or no
// remote is configured, and against the remote API otherwise. A failed remote
// search falls back to the local store unless ctx itself is done.
//
// The only error returned is query.ErrMalformedFilter. Storage failures are
// logged and reported as an empty result.
func (e *Engine) Search(ctx context.Context, filter query.Filter) ([]*models.Card, error) {
	cfg := e.SearchConfig()
	opts := searchOptions(cfg)

	if _, err := filter.Criteria(opts.Limit); err != nil {
		e.metrics.MalformedFilters.Add(1)
		return nil, err
	}

	if cfg.PreferLocal || e.remote == nil {
		return e.searchLocal(ctx, filter, opts)
	}

	cards, err := e.searchRemote(ctx, filter, opts)
	if err == nil {
		return cards, nil
	}
	if ctx.Err() != nil {
		return []*models.Card{}, nil
	}

	e.logger.Warn("Remote search failed, using local store", "term", filter.NameTerm, "error", err)
	return e.searchLocal(ctx, filter, opts)
}

// SearchLocal runs filter against the local store regardless of prefer_local.
func (e *Engine) SearchLocal(ctx context.Context, filter query.Filter) ([]*models.Card, error) {
	return e.searchLocal(ctx, filter, searchOptions(e.SearchConfig()))
}

// SearchByName is Search with only a name term.
func (e *Engine) SearchByName(ctx context.Context, term string) []*models.Card {
	cards, _ := e.Search(ctx, query.Filter{NameTerm: term})
	if cards == nil {
		return []*models.Card{}
	}
	return cards
}

func (e *Engine) searchLocal(ctx context.Context, filter query.Filter, opts query.Options) ([]*models.Card, error) {
	start := time.Now()
	cards, err := e.query.Search(ctx, filter, opts)
	e.metrics.RecordLocal(time.Since(start))
	if err != nil {
		if query.IsMalformed(err) {
			e.metrics.MalformedFilters.Add(1)
			return nil, err
		}
		e.logger.Warn("Local search failed", "term", filter.NameTerm, "error", err)
		return []*models.Card{}, nil
	}
	return cards, nil
}

// searchRemote queries the API. Identical concurrent searches share one
// request. Results are cached in the local store so that they can be added
// to the library and loaded by id later.
func (e *Engine) searchRemote(ctx context.Context, filter query.Filter, opts query.Options) ([]*models.Card, error) {
	filters := mtgapi.SearchFilters{
		Colors:   filter.Colors,
		Types:    wildcard(filter.TypeTerm),
		SetCode:  wildcard(filter.SetCode),
		Rarity:   wildcard(filter.Rarity),
		PageSize: opts.Limit,
	}
	term := wildcard(filter.NameTerm)
	key := fmt.Sprintf("%s|%s|%s|%s|%s|%d",
		term, filters.Types, filters.SetCode, filters.Rarity, strings.Join(filters.Colors, ","), filters.PageSize)

	// The shared request outlives any single caller; each caller stops
	// waiting when its own ctx is done.
	fetchCtx := context.WithoutCancel(ctx)

	start := time.Now()
	ch := e.flight.DoChan(key, func() (interface{}, error) {
		cards, err := e.remote.SearchCards(fetchCtx, term, filters)
		if err != nil {
			return nil, err
		}

		res, err := e.cards.InsertCards(fetchCtx, cards)
		if err != nil {
			e.logger.Warn("Failed to cache remote results", "error", err)
		} else {
			e.logger.Debug("Cached remote results", "inserted", res.Inserted, "skipped", res.Skipped)
		}
		return cards, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	e.metrics.RecordRemote(time.Since(start), res.Err, res.Shared)
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		e.logger.Debug("Shared in-flight remote search", "term", term)
	}

	// Post-processing sorts in place; the shared slice must stay untouched.
	cards := append([]*models.Card(nil), res.Val.([]*models.Card)...)
	return query.PostProcess(cards, opts), nil
}

// LoadCard returns a stored card. It returns storage.ErrNotFound for an
// unknown id.
func (e *Engine) LoadCard(ctx context.Context, id int) (*models.Card, error) {
	card, err := e.cards.LoadCard(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("Failed to load card", "id", id, "error", err)
		}
		return nil, err
	}
	return card, nil
}

// GetSet returns a stored set by code.
func (e *Engine) GetSet(ctx context.Context, code string) (*models.Set, error) {
	return e.sets.GetSet(ctx, code)
}

// ListSets returns every stored set ordered by name, or an empty list if the
// store is unreadable.
func (e *Engine) ListSets(ctx context.Context) []*models.Set {
	sets, err := e.sets.ListSets(ctx)
	if err != nil {
		e.logger.Warn("Failed to list sets", "error", err)
		return []*models.Set{}
	}
	return sets
}

// RefreshSets downloads the set list from the remote API and stores it.
func (e *Engine) RefreshSets(ctx context.Context) (int, error) {
	if e.remote == nil {
		return 0, fmt.Errorf("no remote card API configured")
	}

	sets, err := e.remote.GetSets(ctx)
	if err != nil {
		return 0, err
	}
	if err := e.sets.SaveSets(ctx, sets); err != nil {
		return 0, fmt.Errorf("failed to save sets: %w", err)
	}

	e.logger.Info("Sets refreshed", "count", len(sets))
	return len(sets), nil
}

func searchOptions(cfg config.SearchConfig) query.Options {
	order := query.NewestLast
	if cfg.NewestFirst {
		order = query.NewestFirst
	}
	return query.Options{
		Limit:          cfg.ResultLimit,
		HideDuplicates: cfg.HideDuplicates,
		Order:          order,
		SortByRarity:   cfg.SortByRarity,
	}
}

// wildcard maps the "any" filter value to the empty string.
func wildcard(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, query.Any) {
		return ""
	}
	return s
}
