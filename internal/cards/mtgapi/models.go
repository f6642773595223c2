package mtgapi

import (
	"fmt"

	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

// GathererImageURL is the card image handler; the multiverse id is inserted.
const GathererImageURL = "http://gatherer.wizards.com/Handlers/Image.ashx?multiverseid=%d&type=card"

// cardsResponse is the body of /cards.
type cardsResponse struct {
	Cards []models.Card `json:"cards"`
}

// setsResponse is the body of /sets.
type setsResponse struct {
	Sets []models.Set `json:"sets"`
}

// ImageURL returns the Gatherer image URL for a multiverse id.
func ImageURL(multiverseID int) string {
	return fmt.Sprintf(GathererImageURL, multiverseID)
}

// NormalizeCard fills in fields the sources leave implicit: the image URL
// for identified cards and, when set is given, the set code and name.
func NormalizeCard(card *models.Card, set *models.Set) *models.Card {
	if card.HasIdentity() && (card.ImageURL == nil || *card.ImageURL == "") {
		u := ImageURL(card.ID())
		card.ImageURL = &u
	}
	if set != nil {
		if set.Code != "" {
			code := set.Code
			card.SetCode = &code
		}
		if set.Name != "" {
			name := set.Name
			card.SetName = &name
		}
	}
	return card
}
