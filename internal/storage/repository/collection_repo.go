package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

// UserData is a snapshot of everything the user curates: owned cards, tags
// and want lists. Group maps hold member ids in insertion order.
type UserData struct {
	Library   []int            `json:"library"`
	Tags      map[string][]int `json:"tags"`
	WantLists map[string][]int `json:"want_lists"`
}

// CollectionRepository handles database operations for the owned-card library.
type CollectionRepository interface {
	// Add puts a card in the library. Adding an owned card is a no-op.
	// Returns true if the card was newly added.
	Add(ctx context.Context, cardID int) (bool, error)

	// Remove takes a card out of the library and out of every tag.
	// Removing a card that is not owned is a no-op.
	Remove(ctx context.Context, cardID int) error

	// Contains reports whether the card is owned.
	Contains(ctx context.Context, cardID int) (bool, error)

	// ListIDs returns owned card ids ordered by when they were added, then by id.
	ListIDs(ctx context.Context) ([]int, error)

	// List returns the owned cards sorted by name, loaded through cards.
	// Owned ids without a stored card are omitted.
	List(ctx context.Context, cards CardRepository) (*models.CardList, error)

	// Count returns the number of owned cards.
	Count(ctx context.Context) (int, error)

	// Clear empties the library.
	Clear(ctx context.Context) error

	// ClearUserData empties the library, tags and want lists in one transaction.
	ClearUserData(ctx context.Context) error

	// Snapshot reads the library, tags and want lists.
	Snapshot(ctx context.Context) (*UserData, error)

	// ReplaceUserData swaps all user data for the snapshot in one transaction.
	ReplaceUserData(ctx context.Context, data *UserData) error
}

// collectionRepository is the concrete implementation of CollectionRepository.
type collectionRepository struct {
	db *sql.DB
}

// NewCollectionRepository creates a new collection repository.
func NewCollectionRepository(db *sql.DB) CollectionRepository {
	return &collectionRepository{db: db}
}

func (r *collectionRepository) Add(ctx context.Context, cardID int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO library (multiverse_id, copies, added_at) VALUES (?, 1, CURRENT_TIMESTAMP)`,
		cardID)
	if err != nil {
		return false, storage.Translate(fmt.Errorf("failed to add card %d to library: %w", cardID, err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, storage.Translate(fmt.Errorf("failed to add card %d to library: %w", cardID, err))
	}
	return affected > 0, nil
}

func (r *collectionRepository) Remove(ctx context.Context, cardID int) error {
	err := storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM library WHERE multiverse_id = ?`, cardID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE multiverse_id = ?`, cardID)
		return err
	})
	if err != nil {
		return storage.Translate(fmt.Errorf("failed to remove card %d from library: %w", cardID, err))
	}
	return nil
}

func (r *collectionRepository) Contains(ctx context.Context, cardID int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM library WHERE multiverse_id = ?)`, cardID).Scan(&exists)
	if err != nil {
		return false, storage.Translate(fmt.Errorf("failed to check library: %w", err))
	}
	return exists, nil
}

func (r *collectionRepository) ListIDs(ctx context.Context) ([]int, error) {
	ids, err := queryIntColumn(ctx, r.db, `SELECT multiverse_id FROM library ORDER BY added_at, rowid`)
	if err != nil {
		return nil, storage.Translate(fmt.Errorf("failed to list library: %w", err))
	}
	return ids, nil
}

func (r *collectionRepository) List(ctx context.Context, cards CardRepository) (*models.CardList, error) {
	ids, err := queryIntColumn(ctx, r.db, `
		SELECT l.multiverse_id
		FROM library l
		JOIN cards c ON c.multiverse_id = l.multiverse_id
		ORDER BY c.name COLLATE NOCASE, l.multiverse_id
	`)
	if err != nil {
		return nil, storage.Translate(fmt.Errorf("failed to list library: %w", err))
	}

	loaded, err := cards.LoadCards(ctx, ids)
	if err != nil {
		return nil, err
	}
	return models.NewCardList(loaded...), nil
}

func (r *collectionRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM library`).Scan(&count); err != nil {
		return 0, storage.Translate(fmt.Errorf("failed to count library: %w", err))
	}
	return count, nil
}

func (r *collectionRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM library`); err != nil {
		return storage.Translate(fmt.Errorf("failed to clear library: %w", err))
	}
	return nil
}

func (r *collectionRepository) ClearUserData(ctx context.Context) error {
	err := storage.WithTx(ctx, r.db, clearUserDataTx(ctx))
	if err != nil {
		return storage.Translate(fmt.Errorf("failed to clear user data: %w", err))
	}
	return nil
}

func clearUserDataTx(ctx context.Context) storage.TxFunc {
	return func(tx *sql.Tx) error {
		for _, table := range []string{"library", "tags", "wants"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	}
}

func (r *collectionRepository) Snapshot(ctx context.Context) (*UserData, error) {
	library, err := r.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := NewTagRepository(r.db).Members(ctx)
	if err != nil {
		return nil, err
	}
	wants, err := NewWantListRepository(r.db).Members(ctx)
	if err != nil {
		return nil, err
	}

	return &UserData{Library: library, Tags: tags, WantLists: wants}, nil
}

func (r *collectionRepository) ReplaceUserData(ctx context.Context, data *UserData) error {
	if data == nil {
		data = &UserData{}
	}

	err := storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := clearUserDataTx(ctx)(tx); err != nil {
			return err
		}

		for _, id := range data.Library {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO library (multiverse_id, copies, added_at) VALUES (?, 1, CURRENT_TIMESTAMP)`,
				id); err != nil {
				return fmt.Errorf("failed to restore library card %d: %w", id, err)
			}
		}
		if err := restoreGroupsTx(ctx, tx, Tags, data.Tags); err != nil {
			return err
		}
		return restoreGroupsTx(ctx, tx, WantLists, data.WantLists)
	})
	if err != nil {
		return storage.Translate(fmt.Errorf("failed to replace user data: %w", err))
	}
	return nil
}

// restoreGroupsTx writes groups in name order so row ids are deterministic.
func restoreGroupsTx(ctx context.Context, tx *sql.Tx, kind GroupKind, groups map[string][]int) error {
	table, nameColumn := kind.table()
	marker := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, multiverse_id) VALUES (?, NULL)", table, nameColumn)
	member := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, multiverse_id) VALUES (?, ?)", table, nameColumn)

	names := make([]string, 0, len(groups))
	for name := range groups {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := tx.ExecContext(ctx, marker, name); err != nil {
			return fmt.Errorf("failed to restore %s %q: %w", kind, name, err)
		}
		for _, id := range groups[name] {
			if _, err := tx.ExecContext(ctx, member, name, id); err != nil {
				return fmt.Errorf("failed to restore %s %q card %d: %w", kind, name, id, err)
			}
		}
	}
	return nil
}
