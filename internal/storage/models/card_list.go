package models

// CardList is an ordered collection of cards that also supports lookup by
// multiverse id. The zero value is ready to use.
type CardList struct {
	cards []*Card
	index map[int]*Card
}

// NewCardList builds a list from cards, keeping the first card seen for
// each id.
func NewCardList(cards ...*Card) *CardList {
	l := &CardList{}
	for _, c := range cards {
		l.Add(c)
	}
	return l
}

// Add appends a card. Cards without an identity and ids already present are ignored.
func (l *CardList) Add(c *Card) bool {
	if !c.HasIdentity() {
		return false
	}
	if l.index == nil {
		l.index = make(map[int]*Card)
	}
	if _, ok := l.index[c.ID()]; ok {
		return false
	}
	l.index[c.ID()] = c
	l.cards = append(l.cards, c)
	return true
}

// Get returns the card with the given id.
func (l *CardList) Get(id int) (*Card, bool) {
	if l == nil {
		return nil, false
	}
	c, ok := l.index[id]
	return c, ok
}

// Contains reports whether the list holds the given id.
func (l *CardList) Contains(id int) bool {
	_, ok := l.Get(id)
	return ok
}

// Cards returns the cards in list order.
func (l *CardList) Cards() []*Card {
	if l == nil {
		return nil
	}
	return l.cards
}

// IDs returns the multiverse ids in list order.
func (l *CardList) IDs() []int {
	if l == nil {
		return nil
	}
	ids := make([]int, len(l.cards))
	for i, c := range l.cards {
		ids[i] = c.ID()
	}
	return ids
}

// Len returns the number of cards.
func (l *CardList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.cards)
}
