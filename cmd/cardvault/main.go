// Package main is the cardvault command line tool. It manages a local card
// database, the owned library, tags and want lists.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ramonehamilton/cardvault/internal/config"
	"github.com/ramonehamilton/cardvault/internal/engine"
	"github.com/ramonehamilton/cardvault/internal/storage"
	"github.com/ramonehamilton/cardvault/internal/version"
)

var (
	configPath = flag.String("config", "", "Config file path (default: ~/.cardvault/config.toml)")
	dbPath     = flag.String("db-path", "", "Database path (overrides the config file)")
	debugMode  = flag.Bool("debug", false, "Enable debug logging")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: cardvault [flags] <command> [args]\n\n")
	fmt.Fprintf(out, "Commands:\n")
	fmt.Fprintf(out, "  migrate up|down|version|force N\n                              Manage the database schema\n")
	fmt.Fprintf(out, "  import [-clear] [file|url]  Import an MTGJSON all-sets dump\n")
	fmt.Fprintf(out, "  sets [-refresh]             List (or download) the card sets\n")
	fmt.Fprintf(out, "  search [flags] <term>       Search for cards\n")
	fmt.Fprintf(out, "  card <id>                   Show one card\n")
	fmt.Fprintf(out, "  add [-tag name] <id>...     Add cards to the library\n")
	fmt.Fprintf(out, "  remove <id>...              Remove cards from the library\n")
	fmt.Fprintf(out, "  library                     List the library\n")
	fmt.Fprintf(out, "  tags [subcommand]           List or edit tags\n")
	fmt.Fprintf(out, "  wants [subcommand]          List or edit want lists\n")
	fmt.Fprintf(out, "  untagged                    List library cards without a tag\n")
	fmt.Fprintf(out, "  export [-password p] <file> Export library, tags and want lists\n")
	fmt.Fprintf(out, "  import-library [-password p] <file>\n")
	fmt.Fprintf(out, "                              Replace library, tags and want lists\n")
	fmt.Fprintf(out, "  backup [dir]                Snapshot the database\n")
	fmt.Fprintf(out, "  shell                       Interactive search, reloads config on change\n")
	fmt.Fprintf(out, "  stats                       Show database counts and search statistics\n")
	fmt.Fprintf(out, "\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVer {
		fmt.Println("cardvault", version.Version)
		return
	}

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfgFile := *configPath
	if cfgFile == "" {
		path, err := config.Path()
		if err != nil {
			log.Fatalf("Failed to locate config file: %v", err)
		}
		cfgFile = path
	}

	cfg, err := config.LoadFrom(cfgFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *debugMode {
		cfg.App.DebugMode = true
	}

	logger := newLogger(cfg.App)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, args := flag.Arg(0), flag.Args()[1:]

	if command == "migrate" {
		if err := runMigrate(cfg, args); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	e, err := engine.Open(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open card vault: %v", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.Printf("Error closing card vault: %v", err)
		}
	}()

	app := &cli{engine: e, config: cfg, configFile: cfgFile, logger: logger}
	if err := app.run(ctx, command, args); err != nil {
		log.Printf("%s: %v", command, err)
		stop()
		_ = e.Close()
		os.Exit(1)
	}
}

func newLogger(app config.AppConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(app.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if app.DebugMode {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runMigrate(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("expected one of up, down, version, force")
	}

	path, err := cfg.DatabasePath()
	if err != nil {
		return err
	}

	mgr, err := storage.NewMigrationManager(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Printf("Error closing migration manager: %v", err)
		}
	}()

	switch args[0] {
	case "up":
		if err := mgr.Up(); err != nil {
			return err
		}
		fmt.Println("Migrations applied.")
	case "down":
		if err := mgr.Down(); err != nil {
			return err
		}
		fmt.Println("Rolled back one migration.")
	case "version":
		current, dirty, err := mgr.Version()
		if err != nil {
			return err
		}
		fmt.Printf("Schema version: %d of %d (dirty: %v)\n", current, storage.SchemaVersion, dirty)
		if pending, err := mgr.Pending(); err == nil && pending > 0 {
			fmt.Printf("%d migration(s) pending. Run 'cardvault migrate up'.\n", pending)
		}
	case "force":
		if len(args) != 2 {
			return fmt.Errorf("force needs a version")
		}
		target, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := mgr.Force(target); err != nil {
			return err
		}
		fmt.Printf("Schema version forced to %d.\n", target)
	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}
	return nil
}
