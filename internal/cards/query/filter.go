package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ramonehamilton/cardvault/internal/cards/colors"
	"github.com/ramonehamilton/cardvault/internal/storage/repository"
)

// ErrMalformedFilter is returned for a filter token the engine cannot match,
// such as an unknown rarity or a color set with no valid colors.
var ErrMalformedFilter = errors.New("malformed filter")

// Any is the wildcard value accepted by every string filter field.
const Any = "any"

// Filter is a user search request. Empty or Any fields impose no constraint;
// the remaining fields are combined with AND.
type Filter struct {
	NameTerm string
	Rarity   string
	TypeTerm string
	SetCode  string

	// Colors are letters (W, U, B, R, G, C) or full color names. A card
	// matches only when its color identity is exactly this set.
	Colors []string
}

// IsEmpty reports whether the filter constrains nothing.
func (f Filter) IsEmpty() bool {
	return isAny(f.NameTerm) && isAny(f.Rarity) && isAny(f.TypeTerm) && isAny(f.SetCode) && len(f.Colors) == 0
}

// Criteria validates the filter and converts it into repository criteria.
func (f Filter) Criteria(limit int) (repository.SearchCriteria, error) {
	criteria := repository.SearchCriteria{
		NameTerm: anyToEmpty(f.NameTerm),
		TypeTerm: anyToEmpty(f.TypeTerm),
		SetCode:  anyToEmpty(f.SetCode),
		Limit:    limit,
	}

	if rarity := anyToEmpty(f.Rarity); rarity != "" {
		if RarityRank(rarity) == UnknownRarityRank {
			return repository.SearchCriteria{}, fmt.Errorf("rarity %q: %w", f.Rarity, ErrMalformedFilter)
		}
		criteria.Rarity = rarity
	}

	filterColor, err := FilterColor(f.Colors)
	if err != nil {
		return repository.SearchCriteria{}, err
	}
	criteria.FilterColor = filterColor

	return criteria, nil
}

// FilterColor converts requested colors into the stored filter_color form.
// Invalid tokens are dropped. An empty request returns "" (any color). A
// request of only colorless returns colors.Colorless, and a non-empty
// request with nothing usable returns ErrMalformedFilter.
func FilterColor(requested []string) (string, error) {
	if len(requested) == 0 {
		return "", nil
	}

	canonical := colors.Canonical(requested)
	if len(canonical) > 0 {
		return strings.Join(canonical, colors.Separator), nil
	}

	for _, c := range requested {
		if strings.EqualFold(strings.TrimSpace(c), colors.Colorless) || strings.EqualFold(strings.TrimSpace(c), "colorless") {
			return colors.Colorless, nil
		}
	}
	return "", fmt.Errorf("colors %v: %w", requested, ErrMalformedFilter)
}

func isAny(s string) bool {
	return anyToEmpty(s) == ""
}

func anyToEmpty(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, Any) {
		return ""
	}
	return s
}
