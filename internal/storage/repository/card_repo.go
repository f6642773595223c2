package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/ramonehamilton/cardvault/internal/cards/colors"
	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

// DefaultSearchLimit caps name searches when the caller passes no limit.
const DefaultSearchLimit = 50

// maxIDsPerQuery bounds the number of bound parameters in an IN clause.
const maxIDsPerQuery = 500

// InsertResult counts the outcome of a bulk insert.
type InsertResult struct {
	Inserted int
	Skipped  int // no identity, or id already present
	Failed   int
}

// Add accumulates another result into r.
func (r *InsertResult) Add(other InsertResult) {
	r.Inserted += other.Inserted
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}

// SearchCriteria is a conjunctive filter over the cards table.
// Empty fields impose no constraint.
type SearchCriteria struct {
	NameTerm    string // case-insensitive substring of the name
	Rarity      string // exact, case-insensitive
	TypeTerm    string // case-insensitive substring of the type line
	SetCode     string // exact, case-insensitive
	FilterColor string // exact match against the denormalized filter_color column
	Limit       int
}

// CardRepository persists card printings together with their multi-valued
// attributes.
type CardRepository interface {
	// InsertCard stores a card. It reports false without error when the card
	// has no multiverse id or the id is already stored.
	InsertCard(ctx context.Context, card *models.Card) (bool, error)

	// InsertCards stores cards in one transaction. Duplicates and cards
	// without identity are skipped; a card whose rows fail is rolled back on
	// its own and counted as failed.
	InsertCards(ctx context.Context, cards []*models.Card) (InsertResult, error)

	// LoadCard reconstructs a card with all child relations.
	// Returns storage.ErrNotFound if the id is unknown.
	LoadCard(ctx context.Context, id int) (*models.Card, error)

	// LoadCards reconstructs the given cards in the order of ids. Unknown ids are omitted.
	LoadCards(ctx context.Context, ids []int) ([]*models.Card, error)

	// SearchByName matches a case-insensitive substring of the card name.
	SearchByName(ctx context.Context, term string, limit int) (*models.CardList, error)

	// Search applies all non-empty criteria.
	Search(ctx context.Context, criteria SearchCriteria) ([]*models.Card, error)

	// ClearCardData removes every card and set. User data is left alone.
	ClearCardData(ctx context.Context) error

	// ListAllCardIDs returns every stored multiverse id.
	ListAllCardIDs(ctx context.Context) ([]int, error)

	// Count returns the number of stored cards.
	Count(ctx context.Context) (int, error)
}

// cardRepository is the concrete implementation of CardRepository.
//
// mu keeps readers from observing the tables between the statements of a
// clear or a batch insert.
type cardRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewCardRepository creates a new card repository.
func NewCardRepository(db *sql.DB) CardRepository {
	return &cardRepository{db: db}
}

const cardColumns = `multiverse_id, name, layout, mana_cost, cmc, type, rarity, text, flavor, artist,
	number, power, toughness, loyalty, watermark, border, timeshifted, hand, life, release_date,
	starter, original_text, original_type, source, image_url, set_code, set_name, external_id`

// listTable describes a child table holding one text value per row.
type listTable struct {
	table  string
	column string
	get    func(*models.Card) []string
	set    func(*models.Card, string)
}

var listTables = []listTable{
	{"card_names", "name",
		func(c *models.Card) []string { return c.Names },
		func(c *models.Card, v string) { c.Names = append(c.Names, v) }},
	{"card_types", "type",
		func(c *models.Card) []string { return c.Types },
		func(c *models.Card, v string) { c.Types = append(c.Types, v) }},
	{"card_subtypes", "subtype",
		func(c *models.Card) []string { return c.Subtypes },
		func(c *models.Card, v string) { c.Subtypes = append(c.Subtypes, v) }},
	{"card_supertypes", "supertype",
		func(c *models.Card) []string { return c.Supertypes },
		func(c *models.Card, v string) { c.Supertypes = append(c.Supertypes, v) }},
	{"card_printings", "set_code",
		func(c *models.Card) []string { return c.Printings },
		func(c *models.Card, v string) { c.Printings = append(c.Printings, v) }},
	{"card_colors", "color",
		func(c *models.Card) []string { return c.Colors },
		func(c *models.Card, v string) { c.Colors = append(c.Colors, v) }},
}

// cardDataTables lists every table cleared by ClearCardData.
var cardDataTables = []string{
	"cards", "sets",
	"card_names", "card_types", "card_subtypes", "card_supertypes", "card_printings",
	"card_variations", "card_colors", "card_rulings", "card_legalities", "card_foreign_names",
}

// InsertCard stores a single card.
func (r *cardRepository) InsertCard(ctx context.Context, card *models.Card) (bool, error) {
	if !card.HasIdentity() {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var inserted bool
	err := storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		inserted, err = insertCardTx(ctx, tx, card)
		return err
	})
	if err != nil {
		return false, storage.Translate(fmt.Errorf("failed to insert card %d: %w", card.ID(), err))
	}
	return inserted, nil
}

// InsertCards stores many cards in one transaction.
func (r *cardRepository) InsertCards(ctx context.Context, cards []*models.Card) (InsertResult, error) {
	var result InsertResult
	if len(cards) == 0 {
		return result, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err := storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, card := range cards {
			if !card.HasIdentity() {
				result.Skipped++
				continue
			}

			if _, err := tx.ExecContext(ctx, "SAVEPOINT card_insert"); err != nil {
				return fmt.Errorf("failed to create savepoint: %w", err)
			}

			inserted, err := insertCardTx(ctx, tx, card)
			if err != nil {
				if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO card_insert"); rbErr != nil {
					return fmt.Errorf("failed to roll back card %d: %w", card.ID(), rbErr)
				}
				result.Failed++
			} else if inserted {
				result.Inserted++
			} else {
				result.Skipped++
			}

			if _, err := tx.ExecContext(ctx, "RELEASE card_insert"); err != nil {
				return fmt.Errorf("failed to release savepoint: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return InsertResult{Failed: len(cards)}, storage.Translate(fmt.Errorf("failed to insert cards: %w", err))
	}

	return result, nil
}

// insertCardTx writes the scalar row and, only when it was new, the child rows.
func insertCardTx(ctx context.Context, tx *sql.Tx, c *models.Card) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO cards (`+cardColumns+`, filter_color)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID(), c.Name, c.Layout, c.ManaCost, c.ConvertedManaCost, c.Type, c.Rarity, c.RulesText,
		c.FlavorText, c.Artist, c.CollectorNumber, c.Power, c.Toughness, c.Loyalty, c.Watermark,
		c.BorderStyle, c.IsTimeshifted, c.HandModifier, c.LifeModifier, c.ReleaseDate, c.IsStarter,
		c.OriginalText, c.OriginalType, c.Source, c.ImageURL, c.SetCode, c.SetName, c.ExternalID,
		colors.FilterString(c.Colors),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert card row: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	id := c.ID()
	for _, lt := range listTables {
		values := lt.get(c)
		if len(values) == 0 {
			continue
		}
		query := fmt.Sprintf("INSERT OR IGNORE INTO %s (multiverse_id, %s) VALUES (?, ?)", lt.table, lt.column)
		for _, v := range values {
			if _, err := tx.ExecContext(ctx, query, id, v); err != nil {
				return false, fmt.Errorf("failed to insert into %s: %w", lt.table, err)
			}
		}
	}

	for _, v := range c.Variations {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO card_variations (multiverse_id, variation) VALUES (?, ?)", id, v); err != nil {
			return false, fmt.Errorf("failed to insert variation: %w", err)
		}
	}
	for _, ruling := range c.Rulings {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO card_rulings (multiverse_id, date, text) VALUES (?, ?, ?)",
			id, ruling.Date, ruling.Text); err != nil {
			return false, fmt.Errorf("failed to insert ruling: %w", err)
		}
	}
	for _, legality := range c.Legalities {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO card_legalities (multiverse_id, format, legality) VALUES (?, ?, ?)",
			id, legality.Format, legality.Legality); err != nil {
			return false, fmt.Errorf("failed to insert legality: %w", err)
		}
	}
	for _, fn := range c.ForeignNames {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO card_foreign_names (multiverse_id, language, name) VALUES (?, ?, ?)",
			id, fn.Language, fn.Name); err != nil {
			return false, fmt.Errorf("failed to insert foreign name: %w", err)
		}
	}

	return true, nil
}

// LoadCard reconstructs one card.
func (r *cardRepository) LoadCard(ctx context.Context, id int) (*models.Card, error) {
	cards, err := r.LoadCards(ctx, []int{id})
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("card %d: %w", id, storage.ErrNotFound)
	}
	return cards[0], nil
}

// LoadCards reconstructs cards in the order of ids.
func (r *cardRepository) LoadCards(ctx context.Context, ids []int) ([]*models.Card, error) {
	if len(ids) == 0 {
		return []*models.Card{}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadCards(ctx, ids)
}

// loadCards is LoadCards for callers already holding mu.
func (r *cardRepository) loadCards(ctx context.Context, ids []int) ([]*models.Card, error) {
	byID := make(map[int]*models.Card, len(ids))
	for start := 0; start < len(ids); start += maxIDsPerQuery {
		end := min(start+maxIDsPerQuery, len(ids))
		if err := r.loadChunk(ctx, ids[start:end], byID); err != nil {
			return nil, storage.Translate(err)
		}
	}

	cards := make([]*models.Card, 0, len(byID))
	seen := make(map[int]bool, len(byID))
	for _, id := range ids {
		if card, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			cards = append(cards, card)
		}
	}
	return cards, nil
}

// loadChunk loads scalar rows and child relations for at most maxIDsPerQuery ids.
func (r *cardRepository) loadChunk(ctx context.Context, ids []int, byID map[int]*models.Card) error {
	placeholders, args := inClause(ids)

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE multiverse_id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to query cards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return err
		}
		byID[card.ID()] = card
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating cards: %w", err)
	}

	for _, lt := range listTables {
		query := fmt.Sprintf("SELECT multiverse_id, %s FROM %s WHERE multiverse_id IN (%s) ORDER BY rowid",
			lt.column, lt.table, placeholders)
		err := queryChildren(ctx, r.db, query, args, func(rows *sql.Rows) error {
			var id int
			var v string
			if err := rows.Scan(&id, &v); err != nil {
				return err
			}
			if card, ok := byID[id]; ok {
				lt.set(card, v)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", lt.table, err)
		}
	}

	err = queryChildren(ctx, r.db,
		"SELECT multiverse_id, variation FROM card_variations WHERE multiverse_id IN ("+placeholders+") ORDER BY rowid",
		args, func(rows *sql.Rows) error {
			var id, v int
			if err := rows.Scan(&id, &v); err != nil {
				return err
			}
			if card, ok := byID[id]; ok {
				card.Variations = append(card.Variations, v)
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to load variations: %w", err)
	}

	err = queryChildren(ctx, r.db,
		"SELECT multiverse_id, COALESCE(date, ''), text FROM card_rulings WHERE multiverse_id IN ("+placeholders+") ORDER BY rowid",
		args, func(rows *sql.Rows) error {
			var id int
			var ruling models.Ruling
			if err := rows.Scan(&id, &ruling.Date, &ruling.Text); err != nil {
				return err
			}
			if card, ok := byID[id]; ok {
				card.Rulings = append(card.Rulings, ruling)
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to load rulings: %w", err)
	}

	err = queryChildren(ctx, r.db,
		"SELECT multiverse_id, format, legality FROM card_legalities WHERE multiverse_id IN ("+placeholders+") ORDER BY rowid",
		args, func(rows *sql.Rows) error {
			var id int
			var legality models.Legality
			if err := rows.Scan(&id, &legality.Format, &legality.Legality); err != nil {
				return err
			}
			if card, ok := byID[id]; ok {
				card.Legalities = append(card.Legalities, legality)
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to load legalities: %w", err)
	}

	err = queryChildren(ctx, r.db,
		"SELECT multiverse_id, language, name FROM card_foreign_names WHERE multiverse_id IN ("+placeholders+") ORDER BY rowid",
		args, func(rows *sql.Rows) error {
			var id int
			var fn models.ForeignName
			if err := rows.Scan(&id, &fn.Language, &fn.Name); err != nil {
				return err
			}
			if card, ok := byID[id]; ok {
				card.ForeignNames = append(card.ForeignNames, fn)
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to load foreign names: %w", err)
	}

	return nil
}

// SearchByName matches a substring of the card name.
func (r *cardRepository) SearchByName(ctx context.Context, term string, limit int) (*models.CardList, error) {
	cards, err := r.Search(ctx, SearchCriteria{NameTerm: term, Limit: limit})
	if err != nil {
		return nil, err
	}
	return models.NewCardList(cards...), nil
}

// Search composes the non-empty criteria into one parameterized query.
func (r *cardRepository) Search(ctx context.Context, criteria SearchCriteria) ([]*models.Card, error) {
	query, args := buildSearchQuery(criteria)

	// One read lock covers the id query and the load so a concurrent clear
	// cannot drop rows in between.
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, err := queryIntColumn(ctx, r.db, query, args...)
	if err != nil {
		return nil, storage.Translate(fmt.Errorf("failed to search cards: %w", err))
	}
	if len(ids) == 0 {
		return []*models.Card{}, nil
	}
	return r.loadCards(ctx, ids)
}

// buildSearchQuery returns the id query for criteria. Results keep the
// table's natural row order.
func buildSearchQuery(criteria SearchCriteria) (string, []any) {
	var (
		where []string
		args  []any
	)

	if criteria.NameTerm != "" {
		where = append(where, `name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(criteria.NameTerm)+"%")
	}
	if criteria.Rarity != "" {
		where = append(where, "rarity = ? COLLATE NOCASE")
		args = append(args, criteria.Rarity)
	}
	if criteria.TypeTerm != "" {
		where = append(where, `type LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(criteria.TypeTerm)+"%")
	}
	if criteria.SetCode != "" {
		where = append(where, "set_code = ? COLLATE NOCASE")
		args = append(args, criteria.SetCode)
	}
	if criteria.FilterColor != "" {
		where = append(where, "filter_color = ?")
		args = append(args, criteria.FilterColor)
	}

	limit := criteria.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	query := "SELECT multiverse_id FROM cards"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid LIMIT ?"
	args = append(args, limit)

	return query, args
}

// ClearCardData deletes all card and set rows in one transaction.
func (r *cardRepository) ClearCardData(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, table := range cardDataTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return storage.Translate(err)
	}
	return nil
}

// ListAllCardIDs returns every stored multiverse id.
func (r *cardRepository) ListAllCardIDs(ctx context.Context) ([]int, error) {
	ids, err := r.queryIDs(ctx, "SELECT multiverse_id FROM cards ORDER BY multiverse_id")
	if err != nil {
		return nil, storage.Translate(fmt.Errorf("failed to list card ids: %w", err))
	}
	return ids, nil
}

// Count returns the number of stored cards.
func (r *cardRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cards").Scan(&count); err != nil {
		return 0, storage.Translate(fmt.Errorf("failed to count cards: %w", err))
	}
	return count, nil
}

func (r *cardRepository) queryIDs(ctx context.Context, query string, args ...any) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return queryIntColumn(ctx, r.db, query, args...)
}

// scanCard scans one row selected with cardColumns.
func scanCard(rows *sql.Rows) (*models.Card, error) {
	var id int
	c := &models.Card{MultiverseID: &id}
	err := rows.Scan(
		&id, &c.Name, &c.Layout, &c.ManaCost, &c.ConvertedManaCost, &c.Type, &c.Rarity, &c.RulesText,
		&c.FlavorText, &c.Artist, &c.CollectorNumber, &c.Power, &c.Toughness, &c.Loyalty, &c.Watermark,
		&c.BorderStyle, &c.IsTimeshifted, &c.HandModifier, &c.LifeModifier, &c.ReleaseDate, &c.IsStarter,
		&c.OriginalText, &c.OriginalType, &c.Source, &c.ImageURL, &c.SetCode, &c.SetName, &c.ExternalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan card: %w", err)
	}
	return c, nil
}

// queryChildren runs query and hands each row to scan.
func queryChildren(ctx context.Context, db *sql.DB, query string, args []any, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// queryIntColumn collects the first column of every row.
func queryIntColumn(ctx context.Context, db *sql.DB, query string, args ...any) ([]int, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// inClause returns "?, ?, ?" and the matching arguments.
func inClause(ids []int) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}
