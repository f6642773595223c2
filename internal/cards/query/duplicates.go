package query

import "github.com/ramonehamilton/cardvault/internal/storage/models"

// PrintingOrder describes how a result list orders printings of a card.
type PrintingOrder int

const (
	// NewestLast means later elements are more recent printings.
	NewestLast PrintingOrder = iota
	// NewestFirst means earlier elements are more recent printings.
	NewestFirst
)

func (o PrintingOrder) String() string {
	if o == NewestFirst {
		return "newest-first"
	}
	return "newest-last"
}

// RemoveDuplicates keeps only the most recent printing of each card name.
//
// For NewestLast the input is walked from the end, so the output lists the
// survivors in reverse input order. For NewestFirst the walk is forward and
// input order is kept. Callers needing a particular order must sort after.
func RemoveDuplicates(cards []*models.Card, order PrintingOrder) []*models.Card {
	seen := make(map[string]struct{}, len(cards))
	out := make([]*models.Card, 0, len(cards))

	keep := func(c *models.Card) {
		if c == nil {
			return
		}
		if _, dup := seen[c.Name]; dup {
			return
		}
		seen[c.Name] = struct{}{}
		out = append(out, c)
	}

	if order == NewestFirst {
		for _, c := range cards {
			keep(c)
		}
		return out
	}

	for i := len(cards) - 1; i >= 0; i-- {
		keep(cards[i])
	}
	return out
}
