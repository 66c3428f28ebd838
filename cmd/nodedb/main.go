// nodedb is a simple CLI for interacting with nodedb stores.
//
// Usage:
//
//	nodedb <db-dir>              Open an existing store
//	nodedb new [opts] <db-dir>   Create a new store
//
// Options for 'new':
//
//	-f, --metadata-format   binary (default) or yaml
//	-a, --auto-flush        Persist metadata after every mutation
//
// Commands (in REPL):
//
//	get <key>            Print a key's value
//	set <key> <json>     Set a key to a JSON-encoded value
//	rm <key>             Remove a key
//	stats                Show size accounting
//	inspect              Dump the chain/index/key-map as YAML
//	help                 Show this help
//	exit / quit / q      Exit
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nodedb/nodedb"
	"github.com/nodedb/nodedb/pkg/fs"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()

		return errors.New("missing command or store directory")
	}

	if os.Args[1] == "new" {
		return runNew(os.Args[2:])
	}

	return runOpen(os.Args[1:])
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  nodedb <db-dir>              Open an existing store\n")
	fmt.Fprintf(os.Stderr, "  nodedb new [opts] <db-dir>   Create a new store\n")
	fmt.Fprintf(os.Stderr, "\nRun 'nodedb new --help' for options when creating a new store.\n")
}

func runNew(args []string) error {
	flagSet := flag.NewFlagSet("new", flag.ExitOnError)

	format := flagSet.StringP("metadata-format", "f", string(nodedb.MetadataFormatBinary), "binary or yaml")
	autoFlush := flagSet.BoolP("auto-flush", "a", false, "persist metadata after every mutation")

	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nodedb new [options] <db-dir>\n\n")
		fmt.Fprintf(os.Stderr, "Create a new store directory holding values.db and values.db.meta.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if flagSet.NArg() < 1 {
		flagSet.Usage()

		return errors.New("missing store directory")
	}

	dir := flagSet.Arg(0)

	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("store directory already exists: %s (use 'nodedb %s' to open it)", dir, dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	cfg := nodedb.DefaultConfig()
	cfg.MetadataFormat = nodedb.MetadataFormat(*format)
	cfg.AutoFlushMetadata = *autoFlush

	return openAndRun(dir, cfg)
}

func runOpen(args []string) error {
	flagSet := flag.NewFlagSet("open", flag.ExitOnError)

	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nodedb <db-dir>\n\nOpen an existing store directory.\n")
	}

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if flagSet.NArg() < 1 {
		flagSet.Usage()

		return errors.New("missing store directory")
	}

	dir := flagSet.Arg(0)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("store directory does not exist: %s (use 'nodedb new %s' to create it)", dir, dir)
	}

	cfg, err := nodedb.LoadConfig(filepath.Join(dir, "nodedb.json"))
	if err != nil {
		return err
	}

	return openAndRun(dir, cfg)
}

func openAndRun(dir string, cfg Config) error {
	cfg.ValuesPath = filepath.Join(dir, filepath.Base(cfg.ValuesPath))
	cfg.MetadataPath = filepath.Join(dir, filepath.Base(cfg.MetadataPath))

	store, err := nodedb.Open(fs.NewReal(), cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	repl := &REPL{store: store}

	return repl.Run()
}

// Config is a local alias so openAndRun reads naturally; it is exactly
// nodedb.Config.
type Config = nodedb.Config

// REPL drives an interactive nodedb session, in the same shape as the
// teacher's sloty REPL: a liner.State for readline-style input and
// history, one cmd<Name> method per command.
type REPL struct {
	store *nodedb.Store
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".nodedb_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("nodedb - embedded key-value store CLI")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("nodedb> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "get":
			r.cmdGet(args)

		case "set":
			r.cmdSet(args)

		case "rm", "del", "delete", "remove":
			r.cmdRemove(args)

		case "stats":
			r.cmdStats()

		case "inspect":
			r.cmdInspect()

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"get", "set", "rm", "del", "stats", "inspect", "help", "exit", "quit", "q"}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  get <key>            Print a key's value")
	fmt.Println("  set <key> <json>     Set a key to a JSON-encoded value")
	fmt.Println("  rm <key>             Remove a key")
	fmt.Println("  stats                Show size accounting")
	fmt.Println("  inspect              Dump the chain/index/key-map as YAML")
	fmt.Println("  help                 Show this help")
	fmt.Println("  exit / quit / q      Exit")
}

func (r *REPL) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <key>")

		return
	}

	value, ok, err := r.store.Get(args[0])
	if err != nil {
		fmt.Println("error:", err)

		return
	}

	if !ok {
		fmt.Println("(not found)")

		return
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		fmt.Println("error:", err)

		return
	}

	fmt.Println(string(encoded))
}

func (r *REPL) cmdSet(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: set <key> <json>")

		return
	}

	var value any
	if err := json.Unmarshal([]byte(strings.Join(args[1:], " ")), &value); err != nil {
		fmt.Println("error: invalid JSON value:", err)

		return
	}

	if err := r.store.Set(args[0], value); err != nil {
		fmt.Println("error:", err)

		return
	}

	fmt.Println("ok")
}

func (r *REPL) cmdRemove(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: rm <key>")

		return
	}

	if err := r.store.Remove(args[0]); err != nil {
		fmt.Println("error:", err)

		return
	}

	fmt.Println("ok")
}

func (r *REPL) cmdStats() {
	stats, err := r.store.Stats()
	if err != nil {
		fmt.Println("error:", err)

		return
	}

	fmt.Printf("file_size:         %d\n", stats.FileSize)
	fmt.Printf("live_bytes:        %d\n", stats.LiveBytes)
	fmt.Printf("live_nodes:        %d\n", stats.LiveNodes)
	fmt.Printf("reclaimable_bytes: %d\n", stats.ReclaimableBytes)
	fmt.Printf("reclaimable_nodes: %d\n", stats.ReclaimableNodes)
}

func (r *REPL) cmdInspect() {
	snapshot, err := r.store.MarshalMetadataYAML()
	if err != nil {
		fmt.Println("error:", err)

		return
	}

	os.Stdout.Write(snapshot)
}
