package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
	"github.com/ramonehamilton/cardvault/internal/storage/repository"
)

// ErrPasswordRequired is returned when importing an encrypted library
// export without a password.
var ErrPasswordRequired = errors.New("library export is encrypted, password required")

// CardStatus tells whether a card is in the library or on a want list.
type CardStatus int

const (
	Unowned CardStatus = iota
	Owned
	Wanted
)

func (s CardStatus) String() string {
	switch s {
	case Owned:
		return "owned"
	case Wanted:
		return "wanted"
	default:
		return "unowned"
	}
}

// AddToCollection adds a card to the library and, when tag is not empty,
// to that tag. Adding an owned card again is a no-op.
func (e *Engine) AddToCollection(ctx context.Context, cardID int, tag string) error {
	added, err := e.library.Add(ctx, cardID)
	if err != nil {
		return fmt.Errorf("failed to add card %d to library: %w", cardID, err)
	}
	if added {
		e.logger.Info("Card added to library", "id", cardID)
	}

	if tag != "" {
		if err := e.tags.Add(ctx, tag, cardID); err != nil {
			return fmt.Errorf("failed to tag card %d: %w", cardID, err)
		}
	}
	return nil
}

// RemoveFromCollection removes a card from the library and from every tag.
// Want lists are unaffected.
func (e *Engine) RemoveFromCollection(ctx context.Context, cardID int) error {
	if err := e.library.Remove(ctx, cardID); err != nil {
		return fmt.Errorf("failed to remove card %d from library: %w", cardID, err)
	}
	e.logger.Info("Card removed from library", "id", cardID)
	return nil
}

// InCollection reports whether the card is owned.
func (e *Engine) InCollection(ctx context.Context, cardID int) bool {
	owned, err := e.library.Contains(ctx, cardID)
	if err != nil {
		e.logger.Warn("Failed to check library", "id", cardID, "error", err)
		return false
	}
	return owned
}

// ListCollection returns the owned cards sorted by name. An unreadable
// store yields an empty list.
func (e *Engine) ListCollection(ctx context.Context) *models.CardList {
	list, err := e.library.List(ctx, e.cards)
	if err != nil {
		e.logger.Warn("Failed to list library", "error", err)
		return models.NewCardList()
	}
	return list
}

// CollectionSize returns the number of owned cards.
func (e *Engine) CollectionSize(ctx context.Context) int {
	count, err := e.library.Count(ctx)
	if err != nil {
		e.logger.Warn("Failed to count library", "error", err)
		return 0
	}
	return count
}

// UntaggedCards returns the owned cards that belong to no tag, sorted by name.
func (e *Engine) UntaggedCards(ctx context.Context) *models.CardList {
	tagged := e.tags.CardIDs(ctx)

	untagged := models.NewCardList()
	for _, card := range e.ListCollection(ctx).Cards() {
		if _, ok := tagged[card.ID()]; !ok {
			untagged.Add(card)
		}
	}
	return untagged
}

// WantedCardIDs returns the union of all want lists.
func (e *Engine) WantedCardIDs(ctx context.Context) map[int]struct{} {
	return e.wants.CardIDs(ctx)
}

// CardStatus reports Owned for library cards, Wanted for cards on any want
// list and Unowned otherwise.
func (e *Engine) CardStatus(ctx context.Context, cardID int) CardStatus {
	if e.InCollection(ctx, cardID) {
		return Owned
	}
	if _, ok := e.WantedCardIDs(ctx)[cardID]; ok {
		return Wanted
	}
	return Unowned
}

// ClearUserData empties the library, the tags and the want lists.
func (e *Engine) ClearUserData(ctx context.Context) error {
	if err := e.library.ClearUserData(ctx); err != nil {
		return fmt.Errorf("failed to clear user data: %w", err)
	}
	e.logger.Info("User data cleared")
	return nil
}

// ExportLibrary writes the library, tags and want lists to w as JSON. A
// non-empty password encrypts the document.
func (e *Engine) ExportLibrary(ctx context.Context, w io.Writer, password string) error {
	snapshot, err := e.library.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read user data: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode user data: %w", err)
	}

	if password != "" {
		data, err = storage.Seal(data, e.encryption(password))
		if err != nil {
			return fmt.Errorf("failed to encrypt export: %w", err)
		}
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	e.logger.Info("Library exported",
		"cards", len(snapshot.Library),
		"tags", len(snapshot.Tags),
		"want_lists", len(snapshot.WantLists),
		"encrypted", password != "")
	return nil
}

// ImportLibrary replaces the library, tags and want lists with an export read
// from r. Nothing changes if the document cannot be read.
func (e *Engine) ImportLibrary(ctx context.Context, r io.Reader, password string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}

	if storage.IsSealed(data) {
		if password == "" {
			return ErrPasswordRequired
		}
		data, err = storage.Unseal(data, e.encryption(password))
		if err != nil {
			return err
		}
	}

	var userData repository.UserData
	if err := json.Unmarshal(data, &userData); err != nil {
		return fmt.Errorf("invalid library export: %w", err)
	}

	if err := e.library.ReplaceUserData(ctx, &userData); err != nil {
		return fmt.Errorf("failed to import user data: %w", err)
	}

	e.logger.Info("Library imported",
		"cards", len(userData.Library),
		"tags", len(userData.Tags),
		"want_lists", len(userData.WantLists))
	return nil
}
