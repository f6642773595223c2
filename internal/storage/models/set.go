package models

import (
	"encoding/json"
	"fmt"
)

// Set is an expansion in the card reference data.
type Set struct {
	Code               string  `json:"code"`
	Name               string  `json:"name"`
	Type               *string `json:"type,omitempty"`
	Border             *string `json:"border,omitempty"`
	MKMID              *int    `json:"mkm_id,omitempty"`
	MKMName            *string `json:"mkm_name,omitempty"`
	ReleaseDate        *string `json:"releaseDate,omitempty"`
	GathererCode       *string `json:"gathererCode,omitempty"`
	MagicCardsInfoCode *string `json:"magicCardsInfoCode,omitempty"`
	Booster            Booster `json:"booster,omitempty"`
	OldCode            *string `json:"oldCode,omitempty"`
	Block              *string `json:"block,omitempty"`
	OnlineOnly         bool    `json:"onlineOnly,omitempty"`
}

// Booster describes the slots of a booster pack.
type Booster []BoosterSlot

// BoosterSlot lists the rarities or sheets a single booster slot may draw
// from. Most slots have exactly one option.
type BoosterSlot []string

// UnmarshalJSON accepts either a single string or a list of strings.
func (s *BoosterSlot) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = BoosterSlot{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("booster slot must be a string or a list of strings: %w", err)
	}
	*s = many
	return nil
}
