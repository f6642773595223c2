package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

// SetRepository stores expansion reference data.
type SetRepository interface {
	// SaveSets upserts sets in a single transaction.
	SaveSets(ctx context.Context, sets []*models.Set) error

	// GetSet returns the set with the given code or storage.ErrNotFound.
	GetSet(ctx context.Context, code string) (*models.Set, error)

	// ListSets returns all sets ordered by name.
	ListSets(ctx context.Context) ([]*models.Set, error)
}

type setRepository struct {
	db *sql.DB
}

// NewSetRepository creates a new set repository.
func NewSetRepository(db *sql.DB) SetRepository {
	return &setRepository{db: db}
}

const setColumns = `code, name, type, border, mkm_id, mkm_name, release_date, gatherer_code,
	magic_cards_info_code, booster, old_code, block, online_only`

func (r *setRepository) SaveSets(ctx context.Context, sets []*models.Set) error {
	if len(sets) == 0 {
		return nil
	}

	query := `
		INSERT INTO sets (` + setColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			border = excluded.border,
			mkm_id = excluded.mkm_id,
			mkm_name = excluded.mkm_name,
			release_date = excluded.release_date,
			gatherer_code = excluded.gatherer_code,
			magic_cards_info_code = excluded.magic_cards_info_code,
			booster = excluded.booster,
			old_code = excluded.old_code,
			block = excluded.block,
			online_only = excluded.online_only
	`

	err := storage.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, set := range sets {
			if set == nil || set.Code == "" {
				continue
			}

			var booster *string
			if len(set.Booster) > 0 {
				data, err := json.Marshal(set.Booster)
				if err != nil {
					return fmt.Errorf("failed to encode booster for set %s: %w", set.Code, err)
				}
				encoded := string(data)
				booster = &encoded
			}

			if _, err := stmt.ExecContext(ctx,
				set.Code, set.Name, set.Type, set.Border, set.MKMID, set.MKMName, set.ReleaseDate,
				set.GathererCode, set.MagicCardsInfoCode, booster, set.OldCode, set.Block, set.OnlineOnly,
			); err != nil {
				return fmt.Errorf("failed to save set %s: %w", set.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return storage.Translate(fmt.Errorf("failed to save sets: %w", err))
	}
	return nil
}

func (r *setRepository) GetSet(ctx context.Context, code string) (*models.Set, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+setColumns+` FROM sets WHERE code = ? COLLATE NOCASE`, code)
	set, err := scanSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("set %s: %w", code, storage.ErrNotFound)
	}
	if err != nil {
		return nil, storage.Translate(fmt.Errorf("failed to get set: %w", err))
	}
	return set, nil
}

func (r *setRepository) ListSets(ctx context.Context) ([]*models.Set, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+setColumns+` FROM sets ORDER BY name COLLATE NOCASE, code`)
	if err != nil {
		return nil, storage.Translate(fmt.Errorf("failed to list sets: %w", err))
	}
	defer func() { _ = rows.Close() }()

	sets := []*models.Set{}
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, storage.Translate(fmt.Errorf("failed to scan set: %w", err))
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Translate(fmt.Errorf("error iterating sets: %w", err))
	}
	return sets, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSet(row rowScanner) (*models.Set, error) {
	var set models.Set
	var booster sql.NullString
	var onlineOnly sql.NullBool

	if err := row.Scan(
		&set.Code, &set.Name, &set.Type, &set.Border, &set.MKMID, &set.MKMName, &set.ReleaseDate,
		&set.GathererCode, &set.MagicCardsInfoCode, &booster, &set.OldCode, &set.Block, &onlineOnly,
	); err != nil {
		return nil, err
	}

	if booster.Valid && booster.String != "" {
		if err := json.Unmarshal([]byte(booster.String), &set.Booster); err != nil {
			return nil, fmt.Errorf("failed to decode booster for set %s: %w", set.Code, err)
		}
	}
	set.OnlineOnly = onlineOnly.Bool
	return &set, nil
}
