package repository

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

func fullCard() *models.Card {
	cmc := 3.0
	timeshifted := true
	starter := false
	hand := -1
	life := 4

	return &models.Card{
		MultiverseID:      intPtr(409574),
		Name:              "Fire // Ice",
		Layout:            strPtr("split"),
		ManaCost:          strPtr("{1}{R}"),
		ConvertedManaCost: &cmc,
		Type:              strPtr("Instant"),
		Rarity:            strPtr("Uncommon"),
		RulesText:         strPtr("Fire deals 2 damage divided as you choose among one or two targets."),
		FlavorText:        strPtr("Hot and cold."),
		Artist:            strPtr("Franz Vohwinkel"),
		CollectorNumber:   strPtr("128a"),
		Power:             strPtr("*"),
		Toughness:         strPtr("1+*"),
		Loyalty:           strPtr("3"),
		Watermark:         strPtr("Izzet"),
		BorderStyle:       strPtr("black"),
		IsTimeshifted:     &timeshifted,
		HandModifier:      &hand,
		LifeModifier:      &life,
		ReleaseDate:       strPtr("2001-06-04"),
		IsStarter:         &starter,
		OriginalText:      strPtr("Fire deals 2 damage..."),
		OriginalType:      strPtr("Instant"),
		Source:            strPtr("Apocalypse"),
		ImageURL:          strPtr("http://example.com/409574.jpg"),
		SetCode:           strPtr("MMA"),
		SetName:           strPtr("Modern Masters"),
		ExternalID:        strPtr("a1b2c3"),
		Names:             []string{"Fire", "Ice"},
		Types:             []string{"Instant"},
		Subtypes:          []string{"Arcane"},
		Supertypes:        []string{"Legendary"},
		Printings:         []string{"APC", "MMA"},
		Variations:        []int{409575, 409576},
		Colors:            []string{"Blue", "Red"},
		Rulings: []models.Ruling{
			{Date: "2004-10-04", Text: "Each half is a separate spell."},
			{Date: "2013-06-07", Text: "Fuse lets you cast both halves."},
		},
		Legalities: []models.Legality{
			{Format: "Legacy", Legality: "Legal"},
			{Format: "Modern", Legality: "Legal"},
		},
		ForeignNames: []models.ForeignName{
			{Language: "German", Name: "Feuer // Eis"},
		},
	}
}

func TestCardRepository_RoundTrip(t *testing.T) {
	repo := NewCardRepository(setupTestDB(t))
	ctx := context.Background()

	card := fullCard()
	inserted, err := repo.InsertCard(ctx, card)
	require.NoError(t, err)
	assert.True(t, inserted)

	loaded, err := repo.LoadCard(ctx, 409574)
	require.NoError(t, err)
	assert.Equal(t, card, loaded)
}

func TestCardRepository_RoundTripMinimalCard(t *testing.T) {
	repo := NewCardRepository(setupTestDB(t))
	ctx := context.Background()

	card := &models.Card{MultiverseID: intPtr(1), Name: "Plains"}
	_, err := repo.InsertCard(ctx, card)
	require.NoError(t, err)

	loaded, err := repo.LoadCard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Plains", loaded.Name)
	assert.Nil(t, loaded.Rarity)
	assert.Nil(t, loaded.ConvertedManaCost)
	assert.Empty(t, loaded.Colors)
	assert.Empty(t, loaded.Rulings)
}

func TestCardRepository_InsertWithoutIdentityIsSkipped(t *testing.T) {
	repo := NewCardRepository(setupTestDB(t))
	ctx := context.Background()

	inserted, err := repo.InsertCard(ctx, &models.Card{Name: "Token"})
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCardRepository_DuplicateInsertIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCardRepository(db)
	ctx := context.Background()

	card := fullCard()
	_, err := repo.InsertCard(ctx, card)
	require.NoError(t, err)

	inserted, err := repo.InsertCard(ctx, card)
	require.NoError(t, err, "duplicate insert must not be an error")
	assert.False(t, inserted)

	var rows int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM cards WHERE multiverse_id = ?", 409574).Scan(&rows))
	assert.Equal(t, 1, rows)

	var rulings int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM card_rulings WHERE multiverse_id = ?", 409574).Scan(&rulings))
	assert.Equal(t, 2, rulings)

	loaded, err := repo.LoadCard(ctx, 409574)
	require.NoError(t, err)
	assert.Equal(t, []string{"APC", "MMA"}, loaded.Printings)
}

func TestCardRepository_DuplicateChildValuesAreDeduped(t *testing.T) {
	repo := NewCardRepository(setupTestDB(t))
	ctx := context.Background()

	card := testCard(7, "Twin", "common", "AAA")
	card.Types = []string{"Creature", "Creature"}
	_, err := repo.InsertCard(ctx, card)
	require.NoError(t, err)

	loaded, err := repo.LoadCard(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"Creature"}, loaded.Types)
}

func TestCardRepository_InsertCardsReportsCounts(t *testing.T) {
	repo := NewCardRepository(setupTestDB(t))
	ctx := context.Background()

	_, err := repo.InsertCard(ctx, testCard(1, "Shock", "common", "M19"))
	require.NoError(t, err)

	result, err := repo.InsertCards(ctx, []*models.Card{
		testCard(1, "Shock", "common", "M19"),
		testCard(2, "Lightning Bolt", "common", "M10"),
		{Name: "No Identity"},
		testCard(3, "Counterspell", "uncommon", "MMQ"),
	})
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 2, Skipped: 2}, result)

	ids, err := repo.ListAllCardIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ids)
}

func TestCardRepository_LoadCardNotFound(t *testing.T) {
	repo := NewCardRepository(setupTestDB(t))

	_, err := repo.LoadCard(context.Background(), 999)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCardRepository_LoadCardsKeepsRequestedOrder(t *testing.T) {
	repo := NewCardRepository(setupTestDB(t))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := repo.InsertCard(ctx, testCard(i, fmt.Sprintf("Card %d", i), "common", "AAA"))
		require.NoError(t, err)
	}

	cards, err := repo.LoadCards(ctx, []int{3, 42, 1, 3})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, 3, cards[0].ID())
	assert.Equal(t, 1, cards[1].ID())
}

func TestCardRepository_SearchByNameIsBounded(t *testing.T) {
	repo := NewCardRepository(setupTestDB(t))
	ctx := context.Background()

	cards := make([]*models.Card, 0, 200)
	for i := 1; i <= 200; i++ {
		cards = append(cards, testCard(i, fmt.Sprintf("Goblin Token %03d", i), "common", "AAA"))
	}
	result, err := repo.InsertCards(ctx, cards)
	require.NoError(t, err)
	require.Equal(t, 200, result.Inserted)

	list, err := repo.SearchByName(ctx, "goblin", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultSearchLimit, list.Len())

	// Natural row order.
	assert.Equal(t, 1, list.IDs()[0])
	assert.Equal(t, 50, list.IDs()[49])

	list, err = repo.SearchByName(ctx, "GOBLIN", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, list.Len())
}

func TestCardRepository_SearchFilters(t *testing.T) {
	repo := NewCardRepository(setupTestDB(t))
	ctx := context.Background()

	bolt := testCard(1, "Lightning Bolt", "Common", "M10", "Red")
	helix := testCard(2, "Lightning Helix", "Uncommon", "RAV", "Red", "White")
	angel := testCard(3, "Serra Angel", "Uncommon", "M10", "White")
	angel.Type = strPtr("Creature — Angel")
	golem := testCard(4, "Lightning Golem", "Common", "M10")
	golem.Type = strPtr("Artifact Creature — Golem")
	wildcard := testCard(5, "100% Lightning", "Common", "M10", "Red")

	_, err := repo.InsertCards(ctx, []*models.Card{bolt, helix, angel, golem, wildcard})
	require.NoError(t, err)

	tests := []struct {
		name     string
		criteria SearchCriteria
		want     []int
	}{
		{"name substring", SearchCriteria{NameTerm: "lightning"}, []int{1, 2, 4, 5}},
		{"rarity case insensitive", SearchCriteria{Rarity: "uncommon"}, []int{2, 3}},
		{"type substring", SearchCriteria{TypeTerm: "creature"}, []int{3, 4}},
		{"set code", SearchCriteria{SetCode: "rav"}, []int{2}},
		{"exact color identity", SearchCriteria{FilterColor: "R"}, []int{1, 5}},
		{"multicolor identity", SearchCriteria{FilterColor: "W-R"}, []int{2}},
		{"colorless", SearchCriteria{FilterColor: "C"}, []int{4}},
		{"conjunction", SearchCriteria{NameTerm: "lightning", Rarity: "common", FilterColor: "R"}, []int{1, 5}},
		{"like wildcards are literal", SearchCriteria{NameTerm: "100%"}, []int{5}},
		{"no match", SearchCriteria{NameTerm: "zzz"}, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cards, err := repo.Search(ctx, tt.criteria)
			require.NoError(t, err)

			ids := []int{}
			for _, c := range cards {
				ids = append(ids, c.ID())
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestCardRepository_SearchNeverSeesPartialReload(t *testing.T) {
	cards := NewCardRepository(setupTestDB(t))
	ctx := context.Background()

	const batchSize = 20
	batch := func() []*models.Card {
		out := make([]*models.Card, 0, batchSize)
		for i := 1; i <= batchSize; i++ {
			c := testCard(i, fmt.Sprintf("Goblin %02d", i), "common", "M19", "R")
			c.Types = []string{"Creature"}
			out = append(out, c)
		}
		return out
	}
	_, err := cards.InsertCards(ctx, batch())
	require.NoError(t, err)

	var (
		g    errgroup.Group
		done atomic.Bool
	)
	g.Go(func() error {
		defer done.Store(true)
		for range 25 {
			if err := cards.ClearCardData(ctx); err != nil {
				return err
			}
			if _, err := cards.InsertCards(ctx, batch()); err != nil {
				return err
			}
		}
		return nil
	})
	for range 4 {
		g.Go(func() error {
			for !done.Load() {
				found, err := cards.Search(ctx, SearchCriteria{NameTerm: "goblin", Limit: 100})
				if err != nil {
					return err
				}
				if len(found) != 0 && len(found) != batchSize {
					return fmt.Errorf("search saw %d of %d cards", len(found), batchSize)
				}
				for _, c := range found {
					if len(c.Types) != 1 {
						return fmt.Errorf("card %d loaded with types %v", c.ID(), c.Types)
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	count, err := cards.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, batchSize, count)
}

func TestCardRepository_ClearCardDataKeepsUserData(t *testing.T) {
	db := setupTestDB(t)
	cards := NewCardRepository(db)
	library := NewCollectionRepository(db)
	tags := NewTagRepository(db)
	sets := NewSetRepository(db)
	ctx := context.Background()

	_, err := cards.InsertCard(ctx, fullCard())
	require.NoError(t, err)
	require.NoError(t, sets.SaveSets(ctx, []*models.Set{{Code: "MMA", Name: "Modern Masters"}}))
	_, err = library.Add(ctx, 409574)
	require.NoError(t, err)
	require.NoError(t, tags.AddCard(ctx, "Burn", 409574))

	require.NoError(t, cards.ClearCardData(ctx))

	count, err := cards.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	allSets, err := sets.ListSets(ctx)
	require.NoError(t, err)
	assert.Empty(t, allSets)

	for _, table := range cardDataTables {
		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Zero(t, n, table)
	}

	owned, err := library.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{409574}, owned)

	members, err := tags.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{409574}, members["Burn"])
}

func TestBuildSearchQuery(t *testing.T) {
	query, args := buildSearchQuery(SearchCriteria{NameTerm: "a_b", Rarity: "rare", Limit: 5})

	assert.Equal(t,
		`SELECT multiverse_id FROM cards WHERE name LIKE ? ESCAPE '\' AND rarity = ? COLLATE NOCASE ORDER BY rowid LIMIT ?`,
		query)
	assert.Equal(t, []any{`%a\_b%`, "rare", 5}, args)

	query, args = buildSearchQuery(SearchCriteria{})
	assert.Equal(t, "SELECT multiverse_id FROM cards ORDER BY rowid LIMIT ?", query)
	assert.Equal(t, []any{DefaultSearchLimit}, args)
}
