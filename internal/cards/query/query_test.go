package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramonehamilton/cardvault/internal/storage/models"
	"github.com/ramonehamilton/cardvault/internal/storage/repository"
)

// mockCardSource records the criteria it was asked for.
type mockCardSource struct {
	cards    []*models.Card
	err      error
	criteria []repository.SearchCriteria
}

func (m *mockCardSource) Search(ctx context.Context, criteria repository.SearchCriteria) ([]*models.Card, error) {
	m.criteria = append(m.criteria, criteria)
	if m.err != nil {
		return nil, m.err
	}
	return m.cards, nil
}

func card(id int, name, rarity, set string) *models.Card {
	return &models.Card{MultiverseID: &id, Name: name, Rarity: &rarity, SetCode: &set}
}

func names(cards []*models.Card) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.Name)
	}
	return out
}

func TestNewEngine_RequiresSource(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)
}

func TestEngine_SearchBuildsCriteria(t *testing.T) {
	source := &mockCardSource{}
	engine, err := NewEngine(Config{Cards: source})
	require.NoError(t, err)

	_, err = engine.Search(context.Background(), Filter{
		NameTerm: "bolt",
		Rarity:   "Common",
		TypeTerm: "any",
		SetCode:  "M10",
		Colors:   []string{"red"},
	}, Options{Limit: 20})
	require.NoError(t, err)

	require.Len(t, source.criteria, 1)
	assert.Equal(t, repository.SearchCriteria{
		NameTerm:    "bolt",
		Rarity:      "Common",
		SetCode:     "M10",
		FilterColor: "R",
		Limit:       20,
	}, source.criteria[0])
}

func TestEngine_SearchRejectsMalformedFilter(t *testing.T) {
	source := &mockCardSource{}
	engine, err := NewEngine(Config{Cards: source})
	require.NoError(t, err)

	_, err = engine.Search(context.Background(), Filter{Rarity: "legendary"}, Options{})
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
	assert.Empty(t, source.criteria, "store must not be queried")
}

func TestEngine_SearchPropagatesStoreErrors(t *testing.T) {
	errStore := errors.New("disk gone")
	engine, err := NewEngine(Config{Cards: &mockCardSource{err: errStore}})
	require.NoError(t, err)

	_, err = engine.SearchByName(context.Background(), "x", Options{})
	assert.ErrorIs(t, err, errStore)
}

func TestEngine_SearchPostProcesses(t *testing.T) {
	source := &mockCardSource{cards: []*models.Card{
		card(1, "Bolt", "common", "A"),
		card(2, "Bolt", "common", "B"),
		card(3, "Shock", "rare", "A"),
		card(4, "Opt", "special", "A"),
	}}
	engine, err := NewEngine(Config{Cards: source})
	require.NoError(t, err)

	cards, err := engine.SearchByName(context.Background(), "", Options{
		HideDuplicates: true,
		SortByRarity:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Opt", "Bolt", "Shock"}, names(cards))
	assert.Equal(t, 2, cards[1].ID())
}

func TestRemoveDuplicates(t *testing.T) {
	input := []*models.Card{
		card(1, "Bolt", "common", "A"),
		card(2, "Bolt", "common", "B"),
		card(3, "Shock", "common", "A"),
	}

	t.Run("newest last keeps the last printing", func(t *testing.T) {
		out := RemoveDuplicates(input, NewestLast)
		require.Len(t, out, 2)
		assert.Equal(t, []string{"Shock", "Bolt"}, names(out))
		assert.Equal(t, "B", *out[1].SetCode)
	})

	t.Run("newest first keeps the first printing", func(t *testing.T) {
		out := RemoveDuplicates(input, NewestFirst)
		require.Len(t, out, 2)
		assert.Equal(t, []string{"Bolt", "Shock"}, names(out))
		assert.Equal(t, "A", *out[0].SetCode)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, RemoveDuplicates(nil, NewestLast))
	})

	assert.Len(t, input, 3, "input is not modified")
}

func TestSortByRarity(t *testing.T) {
	cards := []*models.Card{
		card(1, "a", "rare", "X"),
		card(2, "b", "common", "X"),
		card(3, "c", "mythic rare", "X"),
		card(4, "d", "special", "X"),
	}

	SortByRarity(cards)

	got := make([]string, 0, len(cards))
	for _, c := range cards {
		got = append(got, c.RarityName())
	}
	assert.Equal(t, []string{"special", "common", "rare", "mythic rare"}, got)
}

func TestSortByRarity_UnknownRanksLowestAndIsStable(t *testing.T) {
	cards := []*models.Card{
		card(1, "a", "Rare", "X"),
		card(2, "b", "Basic Land", "X"),
		{MultiverseID: new(int), Name: "c"},
		card(4, "d", "COMMON", "X"),
	}

	SortByRarity(cards)
	assert.Equal(t, []string{"b", "c", "d", "a"}, names(cards))
}

func TestRarityRank(t *testing.T) {
	tests := []struct {
		rarity string
		want   int
	}{
		{"special", 0},
		{"Common", 1},
		{"UNCOMMON", 2},
		{" rare ", 3},
		{"Mythic Rare", 4},
		{"timeshifted", UnknownRarityRank},
		{"", UnknownRarityRank},
	}

	for _, tt := range tests {
		t.Run(tt.rarity, func(t *testing.T) {
			assert.Equal(t, tt.want, RarityRank(tt.rarity))
		})
	}

	assert.Equal(t, -1, CompareRarity("common", "rare"))
	assert.Equal(t, 0, CompareRarity("Rare", "rare"))
	assert.Equal(t, 1, CompareRarity("mythic rare", "bogus"))
}

func TestFilterColor(t *testing.T) {
	tests := []struct {
		name    string
		colors  []string
		want    string
		wantErr bool
	}{
		{"empty means any", nil, "", false},
		{"canonical order", []string{"U", "W"}, "W-U", false},
		{"same set any order", []string{"W", "U"}, "W-U", false},
		{"full names and duplicates", []string{"green", "Red", "R"}, "R-G", false},
		{"invalid tokens ignored", []string{"U", "X"}, "U", false},
		{"colorless", []string{"C"}, "C", false},
		{"colorless by name", []string{"Colorless"}, "C", false},
		{"colors win over colorless", []string{"C", "B"}, "B", false},
		{"nothing usable", []string{"X", "purple"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FilterColor(tt.colors)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedFilter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_IsEmpty(t *testing.T) {
	assert.True(t, Filter{}.IsEmpty())
	assert.True(t, Filter{Rarity: "ANY", SetCode: " any "}.IsEmpty())
	assert.False(t, Filter{Colors: []string{"C"}}.IsEmpty())
}

func TestPostProcess_AppliesLimit(t *testing.T) {
	cards := make([]*models.Card, 0, 60)
	for i := 1; i <= 60; i++ {
		cards = append(cards, card(i, "c", "common", "X"))
	}

	assert.Len(t, PostProcess(cards, Options{}), repository.DefaultSearchLimit)
	assert.Len(t, PostProcess(cards, Options{Limit: 5}), 5)
}
