package models

// Card is one printing of a Magic card, identified by its multiverse id.
// Optional attributes are pointers so that an absent value is distinct from
// an empty one.
type Card struct {
	MultiverseID *int `json:"multiverseid,omitempty"`

	Name              string   `json:"name"`
	Layout            *string  `json:"layout,omitempty"`
	ManaCost          *string  `json:"manaCost,omitempty"`
	ConvertedManaCost *float64 `json:"cmc,omitempty"`
	Type              *string  `json:"type,omitempty"`
	Rarity            *string  `json:"rarity,omitempty"`
	RulesText         *string  `json:"text,omitempty"`
	FlavorText        *string  `json:"flavor,omitempty"`
	Artist            *string  `json:"artist,omitempty"`
	CollectorNumber   *string  `json:"number,omitempty"`
	Power             *string  `json:"power,omitempty"`
	Toughness         *string  `json:"toughness,omitempty"`
	Loyalty           *string  `json:"loyalty,omitempty"`
	Watermark         *string  `json:"watermark,omitempty"`
	BorderStyle       *string  `json:"border,omitempty"`
	IsTimeshifted     *bool    `json:"timeshifted,omitempty"`
	HandModifier      *int     `json:"hand,omitempty"`
	LifeModifier      *int     `json:"life,omitempty"`
	ReleaseDate       *string  `json:"releaseDate,omitempty"`
	IsStarter         *bool    `json:"starter,omitempty"`
	OriginalText      *string  `json:"originalText,omitempty"`
	OriginalType      *string  `json:"originalType,omitempty"`
	Source            *string  `json:"source,omitempty"`
	ImageURL          *string  `json:"imageUrl,omitempty"`
	SetCode           *string  `json:"set,omitempty"`
	SetName           *string  `json:"setName,omitempty"`
	ExternalID        *string  `json:"id,omitempty"`

	// Multi-valued attributes, stored one row per value.
	Names      []string `json:"names,omitempty"`
	Types      []string `json:"types,omitempty"`
	Subtypes   []string `json:"subtypes,omitempty"`
	Supertypes []string `json:"supertypes,omitempty"`
	Printings  []string `json:"printings,omitempty"`
	Variations []int    `json:"variations,omitempty"`
	Colors     []string `json:"colors,omitempty"`

	Rulings      []Ruling      `json:"rulings,omitempty"`
	Legalities   []Legality    `json:"legalities,omitempty"`
	ForeignNames []ForeignName `json:"foreignNames,omitempty"`
}

// Ruling is a dated rules clarification for a card.
type Ruling struct {
	Date string `json:"date"`
	Text string `json:"text"`
}

// Legality is a card's status in one play format.
type Legality struct {
	Format   string `json:"format"`
	Legality string `json:"legality"`
}

// ForeignName is a card's printed name in another language.
type ForeignName struct {
	Language string `json:"language"`
	Name     string `json:"name"`
}

// ID returns the multiverse id, or 0 when the card has no identity.
func (c *Card) ID() int {
	if c == nil || c.MultiverseID == nil {
		return 0
	}
	return *c.MultiverseID
}

// HasIdentity reports whether the card carries a usable multiverse id.
func (c *Card) HasIdentity() bool {
	return c != nil && c.MultiverseID != nil && *c.MultiverseID != 0
}

// RarityName returns the rarity or an empty string.
func (c *Card) RarityName() string {
	if c == nil || c.Rarity == nil {
		return ""
	}
	return *c.Rarity
}
