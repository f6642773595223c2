package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ramonehamilton/cardvault/internal/cards/query"
	"github.com/ramonehamilton/cardvault/internal/config"
	"github.com/ramonehamilton/cardvault/internal/engine"
	"github.com/ramonehamilton/cardvault/internal/storage/models"
)

type cli struct {
	engine     *engine.Engine
	config     *config.Config
	configFile string
	logger     *slog.Logger
}

func (c *cli) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "import":
		return c.importCards(ctx, args)
	case "sets":
		return c.sets(ctx, args)
	case "search":
		return c.search(ctx, args)
	case "card":
		return c.card(ctx, args)
	case "add":
		return c.add(ctx, args)
	case "remove":
		return c.remove(ctx, args)
	case "library":
		displayCards("Library", c.engine.ListCollection(ctx).Cards(), c.statusOf(ctx))
		return nil
	case "tags":
		return c.groups(ctx, c.engine.Tags(), "Tag", args)
	case "wants":
		return c.groups(ctx, c.engine.WantLists(), "Want list", args)
	case "untagged":
		displayCards("Untagged cards", c.engine.UntaggedCards(ctx).Cards(), nil)
		return nil
	case "export":
		return c.export(ctx, args)
	case "import-library":
		return c.importLibrary(ctx, args)
	case "backup":
		return c.backup(args)
	case "shell":
		err := c.shell(ctx)
		displayStats(c.engine.CardCount(ctx), c.engine.CollectionSize(ctx), c.engine.Stats())
		return err
	case "stats":
		displayStats(c.engine.CardCount(ctx), c.engine.CollectionSize(ctx), c.engine.Stats())
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (c *cli) importCards(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	clearFirst := fs.Bool("clear", false, "Delete all card data before importing")
	_ = fs.Parse(args)

	if *clearFirst {
		if err := c.engine.ClearCardData(ctx); err != nil {
			return err
		}
	}

	source := fs.Arg(0)
	fmt.Printf("Importing %s...\n", orDefault(source, c.config.Import.SourceURL))

	// Ctrl+C stops the import after the current batch instead of aborting
	// the batch being written.
	if err := c.engine.StartImport(context.WithoutCancel(ctx), source, nil); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.engine.CancelImport()
		case <-done:
		}
	}()

	stats, err := c.engine.WaitImport()
	close(done)
	if err != nil {
		return err
	}

	displayImportStats(stats)
	return nil
}

func (c *cli) sets(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sets", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "Download the set list from the card API first")
	_ = fs.Parse(args)

	if *refresh {
		count, err := c.engine.RefreshSets(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Downloaded %d sets.\n\n", count)
	}

	displaySets(c.engine.ListSets(ctx))
	return nil
}

func (c *cli) search(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	rarity := fs.String("rarity", "", "Exact rarity (common, uncommon, rare, mythic rare, special)")
	cardType := fs.String("type", "", "Substring of the type line")
	set := fs.String("set", "", "Set code")
	colorList := fs.String("colors", "", "Comma separated colors, e.g. W,U (exact color identity)")
	local := fs.Bool("local", false, "Search the local database even if prefer_local is off")
	sortBy := fs.String("sort", "", "Result order: rarity (special to mythic rare); default keeps store order")
	_ = fs.Parse(args)

	switch *sortBy {
	case "", "rarity":
	default:
		return fmt.Errorf("unknown sort order %q", *sortBy)
	}

	filter := query.Filter{
		NameTerm: strings.Join(fs.Args(), " "),
		Rarity:   *rarity,
		TypeTerm: *cardType,
		SetCode:  *set,
	}
	if *colorList != "" {
		filter.Colors = strings.Split(*colorList, ",")
	}

	var (
		results []*models.Card
		err     error
	)
	if *local {
		results, err = c.engine.SearchLocal(ctx, filter)
	} else {
		results, err = c.engine.Search(ctx, filter)
	}
	if err != nil {
		return err
	}
	if *sortBy == "rarity" {
		query.SortByRarity(results)
	}

	displayCards("Search results", results, c.statusOf(ctx))
	return nil
}

func (c *cli) card(ctx context.Context, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	for _, id := range ids {
		card, err := c.engine.LoadCard(ctx, id)
		if err != nil {
			return fmt.Errorf("card %d: %w", id, err)
		}
		displayCard(card, c.engine.CardStatus(ctx, id), c.engine.Tags().ForCard(ctx, id), c.engine.WantLists().ForCard(ctx, id))
	}
	return nil
}

func (c *cli) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	tag := fs.String("tag", "", "Also tag the cards")
	_ = fs.Parse(args)

	ids, err := parseIDs(fs.Args())
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.engine.AddToCollection(ctx, id, *tag); err != nil {
			return err
		}
	}
	fmt.Printf("Library now holds %d cards.\n", c.engine.CollectionSize(ctx))
	return nil
}

func (c *cli) remove(ctx context.Context, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.engine.RemoveFromCollection(ctx, id); err != nil {
			return err
		}
	}
	fmt.Printf("Library now holds %d cards.\n", c.engine.CollectionSize(ctx))
	return nil
}

// groups handles "tags" and "wants":
//
//	list | create <name> | delete <name> | rename <old> <new> | add <name> <id>... | remove <name> <id>...
func (c *cli) groups(ctx context.Context, groups *engine.Groups, label string, args []string) error {
	if len(args) == 0 || args[0] == "list" {
		displayGroups(label, groups.List(ctx))
		return nil
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "create":
		if len(rest) != 1 {
			return fmt.Errorf("create needs a name")
		}
		return groups.Create(ctx, rest[0])
	case "delete":
		if len(rest) != 1 {
			return fmt.Errorf("delete needs a name")
		}
		return groups.Delete(ctx, rest[0])
	case "rename":
		if len(rest) != 2 {
			return fmt.Errorf("rename needs the old and the new name")
		}
		return groups.Rename(ctx, rest[0], rest[1])
	case "add", "remove":
		if len(rest) < 2 {
			return fmt.Errorf("%s needs a name and card ids", sub)
		}
		ids, err := parseIDs(rest[1:])
		if err != nil {
			return err
		}
		for _, id := range ids {
			if sub == "add" {
				err = groups.Add(ctx, rest[0], id)
			} else {
				err = groups.Remove(ctx, rest[0], id)
			}
			if err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown %s command %q", strings.ToLower(label), sub)
	}
}

func (c *cli) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	password := fs.String("password", "", "Encrypt the export with this password")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("expected an output file")
	}

	f, err := os.Create(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := c.engine.ExportLibrary(ctx, f, *password); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close export file: %w", err)
	}

	fmt.Printf("Library exported to %s\n", fs.Arg(0))
	return nil
}

func (c *cli) importLibrary(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import-library", flag.ExitOnError)
	password := fs.String("password", "", "Password of an encrypted export")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("expected an export file")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open export file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := c.engine.ImportLibrary(ctx, f, *password); err != nil {
		return err
	}

	fmt.Printf("Library imported: %d cards, %d tags, %d want lists\n",
		c.engine.CollectionSize(ctx), len(c.engine.Tags().Names(ctx)), len(c.engine.WantLists().Names(ctx)))
	return nil
}

func (c *cli) backup(args []string) error {
	dir := ""
	if len(args) > 0 {
		dir = args[0]
	}

	path, err := c.engine.Backup(dir)
	if err != nil {
		return err
	}
	fmt.Printf("Backup written to %s\n", path)

	backups, err := c.engine.ListBackups(dir)
	if err != nil {
		return err
	}
	displayBackups(backups)
	return nil
}

// shell reads search terms from stdin until EOF or interrupt. Edits to the
// config file change the search settings without a restart.
func (c *cli) shell(ctx context.Context) error {
	go func() {
		err := config.Watch(ctx, c.configFile, func(updated *config.Config) {
			c.engine.ApplySearchConfig(updated.Search)
		})
		if err != nil {
			c.logger.Warn("Config watcher stopped", "error", err)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Println("Enter a card name to search, empty line to quit.")
	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "" {
				return nil
			}
			results := c.engine.SearchByName(ctx, strings.TrimSpace(line))
			displayCards("Search results", results, c.statusOf(ctx))
		}
	}
}

// statusOf returns a lookup of library and want-list membership for display.
func (c *cli) statusOf(ctx context.Context) func(id int) engine.CardStatus {
	wanted := c.engine.WantedCardIDs(ctx)
	return func(id int) engine.CardStatus {
		if c.engine.InCollection(ctx, id) {
			return engine.Owned
		}
		if _, ok := wanted[id]; ok {
			return engine.Wanted
		}
		return engine.Unowned
	}
}

func parseIDs(args []string) ([]int, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expected at least one card id")
	}

	ids := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := strconv.Atoi(arg)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid card id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
