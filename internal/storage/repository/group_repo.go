package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

// GroupKind selects which name-keyed grouping a GroupRepository manages.
type GroupKind int

const (
	// Tags are user-defined buckets of owned cards.
	Tags GroupKind = iota
	// WantLists are named lists of desired cards.
	WantLists
)

func (k GroupKind) String() string {
	switch k {
	case Tags:
		return "tag"
	case WantLists:
		return "want list"
	default:
		return "unknown"
	}
}

// table returns the table and name column for the kind. Both are constants
// and safe to interpolate into SQL.
func (k GroupKind) table() (table, nameColumn string) {
	if k == WantLists {
		return "wants", "list_name"
	}
	return "tags", "tag"
}

// GroupRepository manages named groups of card ids. Each group is stored as
// one marker row with a NULL card id plus one row per member.
type GroupRepository interface {
	// Kind reports which grouping the repository manages.
	Kind() GroupKind

	// Create adds an empty group. Returns storage.ErrGroupExists if the name is taken.
	Create(ctx context.Context, name string) error

	// Delete removes the group and all of its memberships. Deleting an
	// unknown group is a no-op.
	Delete(ctx context.Context, name string) error

	// Rename moves every row of oldName to newName. Returns
	// storage.ErrNotFound for an unknown group and storage.ErrGroupExists if
	// newName is taken.
	Rename(ctx context.Context, oldName, newName string) error

	// AddCard adds a card to the group, creating the group if needed.
	// Adding an existing member is a no-op.
	AddCard(ctx context.Context, name string, cardID int) error

	// RemoveCard removes a card from the group. Removing a non-member is a no-op.
	RemoveCard(ctx context.Context, name string, cardID int) error

	// RemoveCardEverywhere removes a card from every group.
	RemoveCardEverywhere(ctx context.Context, cardID int) error

	// Names returns all group names in alphabetical order.
	Names(ctx context.Context) ([]string, error)

	// Exists reports whether a group with that name exists.
	Exists(ctx context.Context, name string) (bool, error)

	// Members returns group name -> member ids in the order they were added.
	// Empty groups map to an empty slice.
	Members(ctx context.Context) (map[string][]int, error)

	// ListAll returns every group with its member cards loaded from cards.
	// Members whose card is not stored are omitted.
	ListAll(ctx context.Context, cards CardRepository) (map[string]*models.CardList, error)

	// GroupsForCard returns the names of the groups containing the card.
	GroupsForCard(ctx context.Context, cardID int) ([]string, error)

	// MemberIDs returns the union of all member ids.
	MemberIDs(ctx context.Context) (map[int]struct{}, error)

	// Clear removes every group.
	Clear(ctx context.Context) error
}

// groupRepository is the concrete implementation of GroupRepository.
type groupRepository struct {
	db         *sql.DB
	kind       GroupKind
	table      string
	nameColumn string
}

// NewGroupRepository creates a repository for tags or want lists.
func NewGroupRepository(db *sql.DB, kind GroupKind) GroupRepository {
	table, nameColumn := kind.table()
	return &groupRepository{db: db, kind: kind, table: table, nameColumn: nameColumn}
}

// NewTagRepository creates a repository for tags.
func NewTagRepository(db *sql.DB) GroupRepository {
	return NewGroupRepository(db, Tags)
}

// NewWantListRepository creates a repository for want lists.
func NewWantListRepository(db *sql.DB) GroupRepository {
	return NewGroupRepository(db, WantLists)
}

func (r *groupRepository) Kind() GroupKind {
	return r.kind
}

func (r *groupRepository) Create(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", r.kind)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s, multiverse_id) VALUES (?, NULL)", r.table, r.nameColumn)
	if _, err := r.db.ExecContext(ctx, query, name); err != nil {
		if storage.IsConstraintError(err) {
			return fmt.Errorf("%s %q: %w", r.kind, name, storage.ErrGroupExists)
		}
		return storage.Translate(fmt.Errorf("failed to create %s: %w", r.kind, err))
	}
	return nil
}

func (r *groupRepository) Delete(ctx context.Context, name string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", r.table, r.nameColumn)
	if _, err := r.db.ExecContext(ctx, query, name); err != nil {
		return storage.Translate(fmt.Errorf("failed to delete %s: %w", r.kind, err))
	}
	return nil
}

func (r *groupRepository) Rename(ctx context.Context, oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	if newName == "" {
		return fmt.Errorf("%s name cannot be empty", r.kind)
	}

	err := storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var oldCount, newCount int
		countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", r.table, r.nameColumn)
		if err := tx.QueryRowContext(ctx, countQuery, oldName).Scan(&oldCount); err != nil {
			return err
		}
		if oldCount == 0 {
			return fmt.Errorf("%s %q: %w", r.kind, oldName, storage.ErrNotFound)
		}
		if err := tx.QueryRowContext(ctx, countQuery, newName).Scan(&newCount); err != nil {
			return err
		}
		if newCount > 0 {
			return fmt.Errorf("%s %q: %w", r.kind, newName, storage.ErrGroupExists)
		}

		update := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", r.table, r.nameColumn, r.nameColumn)
		_, err := tx.ExecContext(ctx, update, newName, oldName)
		return err
	})
	if err != nil {
		return storage.Translate(fmt.Errorf("failed to rename %s: %w", r.kind, err))
	}
	return nil
}

func (r *groupRepository) AddCard(ctx context.Context, name string, cardID int) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", r.kind)
	}

	err := storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		marker := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, multiverse_id) VALUES (?, NULL)", r.table, r.nameColumn)
		if _, err := tx.ExecContext(ctx, marker, name); err != nil {
			return err
		}
		member := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, multiverse_id) VALUES (?, ?)", r.table, r.nameColumn)
		_, err := tx.ExecContext(ctx, member, name, cardID)
		return err
	})
	if err != nil {
		return storage.Translate(fmt.Errorf("failed to add card %d to %s %q: %w", cardID, r.kind, name, err))
	}
	return nil
}

func (r *groupRepository) RemoveCard(ctx context.Context, name string, cardID int) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND multiverse_id = ?", r.table, r.nameColumn)
	if _, err := r.db.ExecContext(ctx, query, name, cardID); err != nil {
		return storage.Translate(fmt.Errorf("failed to remove card %d from %s %q: %w", cardID, r.kind, name, err))
	}
	return nil
}

func (r *groupRepository) RemoveCardEverywhere(ctx context.Context, cardID int) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE multiverse_id = ?", r.table)
	if _, err := r.db.ExecContext(ctx, query, cardID); err != nil {
		return storage.Translate(fmt.Errorf("failed to remove card %d from all %ss: %w", cardID, r.kind, err))
	}
	return nil
}

func (r *groupRepository) Names(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s", r.nameColumn, r.table, r.nameColumn)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storage.Translate(fmt.Errorf("failed to list %ss: %w", r.kind, err))
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storage.Translate(fmt.Errorf("failed to scan %s: %w", r.kind, err))
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Translate(fmt.Errorf("error iterating %ss: %w", r.kind, err))
	}
	return names, nil
}

func (r *groupRepository) Exists(ctx context.Context, name string) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE %s = ?)", r.table, r.nameColumn)
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, name).Scan(&exists); err != nil {
		return false, storage.Translate(fmt.Errorf("failed to check %s: %w", r.kind, err))
	}
	return exists, nil
}

func (r *groupRepository) Members(ctx context.Context) (map[string][]int, error) {
	query := fmt.Sprintf("SELECT %s, multiverse_id FROM %s ORDER BY id", r.nameColumn, r.table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storage.Translate(fmt.Errorf("failed to load %s members: %w", r.kind, err))
	}
	defer func() { _ = rows.Close() }()

	groups := make(map[string][]int)
	for rows.Next() {
		var name string
		var cardID sql.NullInt64
		if err := rows.Scan(&name, &cardID); err != nil {
			return nil, storage.Translate(fmt.Errorf("failed to scan %s member: %w", r.kind, err))
		}
		if _, ok := groups[name]; !ok {
			groups[name] = []int{}
		}
		if cardID.Valid {
			groups[name] = append(groups[name], int(cardID.Int64))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Translate(fmt.Errorf("error iterating %s members: %w", r.kind, err))
	}
	return groups, nil
}

func (r *groupRepository) ListAll(ctx context.Context, cards CardRepository) (map[string]*models.CardList, error) {
	members, err := r.Members(ctx)
	if err != nil {
		return nil, err
	}

	// Load every distinct member once, then distribute.
	var ids []int
	seen := make(map[int]bool)
	for _, memberIDs := range members {
		for _, id := range memberIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	loaded, err := cards.LoadCards(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]*models.Card, len(loaded))
	for _, card := range loaded {
		byID[card.ID()] = card
	}

	groups := make(map[string]*models.CardList, len(members))
	for name, memberIDs := range members {
		list := &models.CardList{}
		for _, id := range memberIDs {
			if card, ok := byID[id]; ok {
				list.Add(card)
			}
		}
		groups[name] = list
	}
	return groups, nil
}

func (r *groupRepository) GroupsForCard(ctx context.Context, cardID int) ([]string, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE multiverse_id = ? ORDER BY %s", r.nameColumn, r.table, r.nameColumn)
	rows, err := r.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, storage.Translate(fmt.Errorf("failed to find %ss for card %d: %w", r.kind, cardID, err))
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storage.Translate(fmt.Errorf("failed to scan %s: %w", r.kind, err))
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Translate(fmt.Errorf("error iterating %ss: %w", r.kind, err))
	}
	return names, nil
}

func (r *groupRepository) MemberIDs(ctx context.Context) (map[int]struct{}, error) {
	query := fmt.Sprintf("SELECT DISTINCT multiverse_id FROM %s WHERE multiverse_id IS NOT NULL", r.table)
	ids, err := queryIntColumn(ctx, r.db, query)
	if err != nil {
		return nil, storage.Translate(fmt.Errorf("failed to load %s member ids: %w", r.kind, err))
	}

	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (r *groupRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM "+r.table); err != nil {
		return storage.Translate(fmt.Errorf("failed to clear %ss: %w", r.kind, err))
	}
	return nil
}
