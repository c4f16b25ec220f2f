// Command logdb-dump iterates every record in a LogDB database and prints
// it as "key: value".
package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"unicode/utf8"

	"github.com/spf13/pflag"

	"github.com/chkn/logdb/pkg/logdb"
)

func main() {
	var (
		hexDump = pflag.BoolP("hex", "x", false, "hex-dump values that are not valid UTF-8")
		limit   = pflag.IntP("limit", "n", 0, "stop after this many records (0 = no limit)")
		verbose = pflag.BoolP("verbose", "v", false, "trace database open/close diagnostics")
	)

	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: logdb-dump [flags] <path>")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(pflag.Arg(0), *hexDump, *limit, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "logdb-dump: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, hexDump bool, limit int, verbose bool) error {
	opts := logdb.Options{Flags: logdb.Existing}
	if verbose {
		opts.Trace = log.Printf
	}

	conn, err := logdb.Open(path, opts)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer conn.Close()

	it := conn.Iterate()
	defer it.Close()

	count := 0

	for it.Next() {
		printRecord(it.Key(), it.Value(), hexDump)

		count++
		if limit > 0 && count >= limit {
			break
		}
	}

	if err := it.Err(); err != nil {
		return fmt.Errorf("iterate: %w", err)
	}

	return nil
}

func printRecord(key, value []byte, hexDump bool) {
	if hexDump && !utf8.Valid(value) {
		fmt.Printf("%s: %s\n", key, hex.EncodeToString(value))
		return
	}

	fmt.Printf("%s: %s\n", key, value)
}
