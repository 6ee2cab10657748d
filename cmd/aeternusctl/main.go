// Command aeternusctl is a small inspection and maintenance tool for
// AeternusDB databases.
//
// Usage:
//
//	aeternusctl --db=<path> <command> [options]
//
// Commands:
//
//	get <key>             Get the value for a key
//	put <key> <value>     Put a key/value pair
//	delete <key>          Delete a key
//	delete_range <s> <e>  Delete every key in [s, e)
//	scan                  Scan a key range
//	compact               Run a major compaction
//	info                  Print the database path
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/aeternusdb/aeternusdb"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// flags holds one invocation's parsed options. run builds a fresh
// pflag.FlagSet per call instead of binding to pflag.CommandLine, so
// repeated calls (as tests make) never see stale state from an earlier
// invocation.
type flags struct {
	dbPath    string
	hexOutput bool
	fromKey   string
	toKey     string
	limit     int
	help      bool
}

// run parses args and dispatches to the requested subcommand, writing
// to stdout/stderr and returning a process exit code. Kept separate
// from main so tests can drive it directly without forking a process.
func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("aeternusctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &flags{}
	fs.StringVar(&f.dbPath, "db", "", "path to the database (required)")
	fs.BoolVar(&f.hexOutput, "hex", false, "print keys and values as hex")
	fs.StringVar(&f.fromKey, "from", "", "scan start key (inclusive)")
	fs.StringVar(&f.toKey, "to", "", "scan end key (exclusive)")
	fs.IntVar(&f.limit, "limit", 0, "limit scan output (0 = unlimited)")
	fs.BoolVar(&f.help, "help", false, "print help")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if f.help || fs.NArg() == 0 {
		printUsage(stdout, fs)
		return 0
	}
	if f.dbPath == "" {
		fmt.Fprintln(stderr, "error: --db is required")
		return 1
	}

	command := fs.Arg(0)
	rest := fs.Args()[1:]

	db, err := aeternusdb.Open(f.dbPath, aeternusdb.DefaultConfig())
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer db.Close()

	if err := dispatch(db, f, command, rest, stdout); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func dispatch(db *aeternusdb.Engine, f *flags, command string, args []string, stdout io.Writer) error {
	switch command {
	case "get":
		return cmdGet(db, f, args, stdout)
	case "put":
		return cmdPut(db, f, args, stdout)
	case "delete":
		return cmdDelete(db, f, args, stdout)
	case "delete_range":
		return cmdDeleteRange(db, f, args, stdout)
	case "scan":
		return cmdScan(db, f, stdout)
	case "compact":
		return cmdCompact(db, stdout)
	case "info":
		return cmdInfo(db, f, stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "aeternusctl - AeternusDB inspection and maintenance tool")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: aeternusctl --db=<path> <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  get <key>             Get the value for a key")
	fmt.Fprintln(w, "  put <key> <value>     Put a key/value pair")
	fmt.Fprintln(w, "  delete <key>          Delete a key")
	fmt.Fprintln(w, "  delete_range <s> <e>  Delete every key in [s, e)")
	fmt.Fprintln(w, "  scan                  Scan a key range (--from/--to/--limit)")
	fmt.Fprintln(w, "  compact               Run a major compaction")
	fmt.Fprintln(w, "  info                  Print the database path")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func formatOutput(f *flags, data []byte) string {
	if f.hexOutput {
		return hex.EncodeToString(data)
	}
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func parseInput(s string) []byte {
	if strings.HasPrefix(s, "0x") {
		if decoded, err := hex.DecodeString(s[2:]); err == nil {
			return decoded
		}
	}
	return []byte(s)
}

func cmdGet(db *aeternusdb.Engine, f *flags, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: aeternusctl --db=<path> get <key>")
	}
	res, err := db.Get(parseInput(args[0]))
	if err != nil {
		return err
	}
	if !res.Found {
		return fmt.Errorf("key not found")
	}
	fmt.Fprintln(stdout, formatOutput(f, res.Value))
	return nil
}

func cmdPut(db *aeternusdb.Engine, f *flags, args []string, stdout io.Writer) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: aeternusctl --db=<path> put <key> <value>")
	}
	if err := db.Put(parseInput(args[0]), parseInput(args[1])); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "OK")
	return nil
}

func cmdDelete(db *aeternusdb.Engine, f *flags, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: aeternusctl --db=<path> delete <key>")
	}
	if err := db.Delete(parseInput(args[0])); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "OK")
	return nil
}

func cmdDeleteRange(db *aeternusdb.Engine, f *flags, args []string, stdout io.Writer) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: aeternusctl --db=<path> delete_range <start> <end>")
	}
	if err := db.DeleteRange(parseInput(args[0]), parseInput(args[1])); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "OK")
	return nil
}

func cmdScan(db *aeternusdb.Engine, f *flags, stdout io.Writer) error {
	if f.fromKey == "" || f.toKey == "" {
		return fmt.Errorf("usage: aeternusctl --db=<path> --from=<key> --to=<key> scan")
	}

	records, err := db.Scan(parseInput(f.fromKey), parseInput(f.toKey))
	if err != nil {
		return err
	}

	count := 0
	for _, r := range records {
		fmt.Fprintf(stdout, "%s => %s\n", formatOutput(f, r.Key), formatOutput(f, r.Value))
		count++
		if f.limit > 0 && count >= f.limit {
			break
		}
	}
	fmt.Fprintf(stdout, "\n(%d entries scanned)\n", count)
	return nil
}

func cmdCompact(db *aeternusdb.Engine, stdout io.Writer) error {
	if err := db.MajorCompact(); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "OK")
	return nil
}

func cmdInfo(db *aeternusdb.Engine, f *flags, stdout io.Writer) error {
	fmt.Fprintf(stdout, "database: %s\n", f.dbPath)
	return nil
}
