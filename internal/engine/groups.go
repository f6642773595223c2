package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ramonehamilton/cardvault/internal/storage/models"
	"github.com/ramonehamilton/cardvault/internal/storage/repository"
)

// Groups manages the tags or the want lists. Every method trims group names
// before they reach the store.
type Groups struct {
	repo   repository.GroupRepository
	cards  repository.CardRepository
	logger *slog.Logger
}

func newGroups(repo repository.GroupRepository, cards repository.CardRepository, logger *slog.Logger) *Groups {
	return &Groups{repo: repo, cards: cards, logger: logger}
}

// Create adds an empty group. It returns storage.ErrGroupExists if the name
// is taken.
func (g *Groups) Create(ctx context.Context, name string) error {
	name, err := groupName(name)
	if err != nil {
		return err
	}
	if err := g.repo.Create(ctx, name); err != nil {
		return err
	}
	g.logger.Info("Group created", "kind", g.repo.Kind(), "name", name)
	return nil
}

// Delete removes a group and its memberships. Deleting an unknown group
// does nothing.
func (g *Groups) Delete(ctx context.Context, name string) error {
	name, err := groupName(name)
	if err != nil {
		return err
	}
	if err := g.repo.Delete(ctx, name); err != nil {
		return err
	}
	g.logger.Info("Group deleted", "kind", g.repo.Kind(), "name", name)
	return nil
}

// Rename moves every membership of oldName to newName.
func (g *Groups) Rename(ctx context.Context, oldName, newName string) error {
	oldName, err := groupName(oldName)
	if err != nil {
		return err
	}
	newName, err = groupName(newName)
	if err != nil {
		return err
	}
	if err := g.repo.Rename(ctx, oldName, newName); err != nil {
		return err
	}
	g.logger.Info("Group renamed", "kind", g.repo.Kind(), "from", oldName, "to", newName)
	return nil
}

// Add puts a card into a group, creating the group if needed.
func (g *Groups) Add(ctx context.Context, name string, cardID int) error {
	name, err := groupName(name)
	if err != nil {
		return err
	}
	return g.repo.AddCard(ctx, name, cardID)
}

// Remove takes a card out of a group.
func (g *Groups) Remove(ctx context.Context, name string, cardID int) error {
	name, err := groupName(name)
	if err != nil {
		return err
	}
	return g.repo.RemoveCard(ctx, name, cardID)
}

// Names returns the group names in order, or nil if the store is unreadable.
func (g *Groups) Names(ctx context.Context) []string {
	names, err := g.repo.Names(ctx)
	if err != nil {
		g.logger.Warn("Failed to list groups", "kind", g.repo.Kind(), "error", err)
		return nil
	}
	return names
}

// List returns every group with its cards. Cards missing from the store are
// left out. An unreadable store yields an empty map.
func (g *Groups) List(ctx context.Context) map[string]*models.CardList {
	groups, err := g.repo.ListAll(ctx, g.cards)
	if err != nil {
		g.logger.Warn("Failed to list groups", "kind", g.repo.Kind(), "error", err)
		return map[string]*models.CardList{}
	}
	return groups
}

// Get returns the cards of one group, or an empty list when it is unknown.
func (g *Groups) Get(ctx context.Context, name string) *models.CardList {
	if list, ok := g.List(ctx)[strings.TrimSpace(name)]; ok {
		return list
	}
	return models.NewCardList()
}

// ForCard returns the names of the groups containing cardID.
func (g *Groups) ForCard(ctx context.Context, cardID int) []string {
	names, err := g.repo.GroupsForCard(ctx, cardID)
	if err != nil {
		g.logger.Warn("Failed to look up groups for card", "kind", g.repo.Kind(), "id", cardID, "error", err)
		return nil
	}
	return names
}

// CardIDs returns the union of all group memberships.
func (g *Groups) CardIDs(ctx context.Context) map[int]struct{} {
	ids, err := g.repo.MemberIDs(ctx)
	if err != nil {
		g.logger.Warn("Failed to read group members", "kind", g.repo.Kind(), "error", err)
		return map[int]struct{}{}
	}
	return ids
}

func groupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("group name cannot be empty")
	}
	return name, nil
}
