// Package colors canonicalizes Magic color identities.
package colors

import "strings"

// Color constants for WUBRG
const (
	White     = "W"
	Blue      = "U"
	Black     = "B"
	Red       = "R"
	Green     = "G"
	Colorless = "C"
)

// Separator joins color letters in a filter string.
const Separator = "-"

// Order lists all five colors in WUBRG order.
var Order = []string{White, Blue, Black, Red, Green}

var rank = map[string]int{White: 0, Blue: 1, Black: 2, Red: 3, Green: 4}

var shorthands = map[string]string{
	"white": White,
	"blue":  Blue,
	"black": Black,
	"red":   Red,
	"green": Green,
}

// Shorthand returns the single letter for a color given either as a letter
// ("u") or a full name ("Blue").
func Shorthand(color string) (string, bool) {
	c := strings.TrimSpace(color)
	if c == "" {
		return "", false
	}
	if letter := strings.ToUpper(c); len(letter) == 1 {
		_, ok := rank[letter]
		return letter, ok
	}
	letter, ok := shorthands[strings.ToLower(c)]
	return letter, ok
}

// Canonical deduplicates colors, drops anything outside WUBRG and returns
// the remaining letters in WUBRG order.
func Canonical(colors []string) []string {
	var seen [5]bool
	for _, c := range colors {
		if letter, ok := Shorthand(c); ok {
			seen[rank[letter]] = true
		}
	}

	out := make([]string, 0, len(Order))
	for i, letter := range Order {
		if seen[i] {
			out = append(out, letter)
		}
	}
	return out
}

// FilterString returns the denormalized filter_color value for a card's
// colors: canonical letters joined by Separator, or Colorless when none remain.
func FilterString(colors []string) string {
	canonical := Canonical(colors)
	if len(canonical) == 0 {
		return Colorless
	}
	return strings.Join(canonical, Separator)
}
