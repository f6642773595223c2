package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ramonehamilton/cardvault/internal/cards/importer"
	"github.com/ramonehamilton/cardvault/internal/engine"
	"github.com/ramonehamilton/cardvault/internal/metrics"
	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

// displayCards prints one line per card. status may be nil.
func displayCards(title string, cards []*models.Card, status func(id int) engine.CardStatus) {
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", len(title)))
	fmt.Println()

	if len(cards) == 0 {
		fmt.Println("No cards found.")
		return
	}

	for _, card := range cards {
		marker := " "
		if status != nil {
			switch status(card.ID()) {
			case engine.Owned:
				marker = "*"
			case engine.Wanted:
				marker = "+"
			}
		}
		fmt.Printf("%s %8d  %-32s %-6s %-12s %s\n",
			marker, card.ID(), card.Name, deref(card.SetCode), card.RarityName(), deref(card.Type))
	}
	fmt.Println()
	fmt.Printf("%d cards", len(cards))
	if status != nil {
		fmt.Print(" (* owned, + wanted)")
	}
	fmt.Println()
}

// displayCard prints the details of a single card.
func displayCard(card *models.Card, status engine.CardStatus, tags, wants []string) {
	fmt.Printf("%s [%d]\n", card.Name, card.ID())
	fmt.Printf("  Set:       %s (%s)\n", deref(card.SetName), deref(card.SetCode))
	fmt.Printf("  Type:      %s\n", deref(card.Type))
	fmt.Printf("  Rarity:    %s\n", card.RarityName())
	if card.ManaCost != nil {
		fmt.Printf("  Mana cost: %s\n", *card.ManaCost)
	}
	if len(card.Colors) > 0 {
		fmt.Printf("  Colors:    %s\n", strings.Join(card.Colors, ", "))
	}
	if card.Power != nil && card.Toughness != nil {
		fmt.Printf("  P/T:       %s/%s\n", *card.Power, *card.Toughness)
	}
	if card.RulesText != nil {
		fmt.Printf("  Text:      %s\n", strings.ReplaceAll(*card.RulesText, "\n", "\n             "))
	}
	if len(card.Printings) > 0 {
		fmt.Printf("  Printings: %s\n", strings.Join(card.Printings, ", "))
	}
	fmt.Printf("  Status:    %s\n", status)
	if len(tags) > 0 {
		fmt.Printf("  Tags:      %s\n", strings.Join(tags, ", "))
	}
	if len(wants) > 0 {
		fmt.Printf("  Wanted in: %s\n", strings.Join(wants, ", "))
	}
	fmt.Println()
}

// displayGroups prints every group with its cards.
func displayGroups(label string, groups map[string]*models.CardList) {
	if len(groups) == 0 {
		fmt.Printf("No %ss.\n", strings.ToLower(label))
		return
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		list := groups[name]
		fmt.Printf("%s: %s (%d cards)\n", label, name, list.Len())
		for _, card := range list.Cards() {
			fmt.Printf("  %8d  %s\n", card.ID(), card.Name)
		}
	}
}

func displaySets(sets []*models.Set) {
	if len(sets) == 0 {
		fmt.Println("No sets stored. Run an import or 'sets -refresh'.")
		return
	}
	for _, set := range sets {
		fmt.Printf("  %-6s %-40s %s\n", set.Code, set.Name, deref(set.ReleaseDate))
	}
	fmt.Printf("\n%d sets\n", len(sets))
}

func displayImportStats(stats *importer.ImportStats) {
	if stats.Cancelled {
		fmt.Println("Import cancelled. Cards written so far are kept.")
	} else {
		fmt.Println("Import complete.")
	}
	fmt.Printf("  Sets:     %d\n", stats.Sets)
	fmt.Printf("  Cards:    %d\n", stats.Total)
	fmt.Printf("  Inserted: %d\n", stats.Inserted)
	fmt.Printf("  Skipped:  %d\n", stats.Skipped)
	fmt.Printf("  Failed:   %d\n", stats.Failed)
	fmt.Printf("  Duration: %s\n", stats.Duration.Round(time.Millisecond))
}

func displayBackups(backups []storage.BackupInfo) {
	fmt.Println()
	fmt.Println("Backups:")
	for _, b := range backups {
		fmt.Printf("  %s  %8d bytes  %s\n", b.ModTime.Format("2006-01-02 15:04:05"), b.Size, b.Name)
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func displayStats(cards, owned int, stats *metrics.SearchStats) {
	fmt.Println("Card Vault Statistics")
	fmt.Println("=====================")
	fmt.Printf("  Cards stored:     %d\n", cards)
	fmt.Printf("  Cards owned:      %d\n", owned)
	fmt.Printf("  Local searches:   %d (p50 %.1fms, p95 %.1fms)\n",
		stats.LocalSearches, stats.Local.P50, stats.Local.P95)
	fmt.Printf("  Remote searches:  %d (p50 %.1fms, p95 %.1fms, %.0f%% ok)\n",
		stats.RemoteSearches, stats.Remote.P50, stats.Remote.P95, stats.RemoteSuccessRate)
	fmt.Printf("  Rejected filters: %d\n", stats.MalformedFilters)
	fmt.Printf("  Uptime:           %s\n", stats.Uptime)
}
