package query

import (
	"sort"
	"strings"

	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

// UnknownRarityRank sorts rarities missing from the rank table below special.
const UnknownRarityRank = -1

var rarityRanks = map[string]int{
	"special":     0,
	"common":      1,
	"uncommon":    2,
	"rare":        3,
	"mythic rare": 4,
}

// RarityRank returns the sort rank of a rarity label, case-insensitively.
func RarityRank(rarity string) int {
	if rank, ok := rarityRanks[strings.ToLower(strings.TrimSpace(rarity))]; ok {
		return rank
	}
	return UnknownRarityRank
}

// CompareRarity orders two rarity labels, returning -1, 0 or 1.
func CompareRarity(a, b string) int {
	ra, rb := RarityRank(a), RarityRank(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

// SortByRarity sorts cards from lowest to highest rarity in place. Cards of
// equal rank keep their relative order.
func SortByRarity(cards []*models.Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		return CompareRarity(cards[i].RarityName(), cards[j].RarityName()) < 0
	})
}
