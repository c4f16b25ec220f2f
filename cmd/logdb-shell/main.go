// Command logdb-shell is an interactive REPL over an open LogDB database.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/chkn/logdb/pkg/logdb"
)

const helpText = `commands:
  put <key> <value>   write a record (commits immediately)
  scan                 print every record in the database
  info                 print path, section size, section count
  help                 show this message
  quit                 exit the shell
`

func main() {
	create := pflag.BoolP("create", "c", false, "create the database if it does not exist")
	verbose := pflag.BoolP("verbose", "v", false, "trace database open/close diagnostics")

	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: logdb-shell [flags] <path>")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	flags := logdb.Existing
	if *create {
		flags = logdb.Create
	}

	opts := logdb.Options{Flags: flags}
	if *verbose {
		opts.Trace = log.Printf
	}

	conn, err := logdb.Open(pflag.Arg(0), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logdb-shell: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	runRepl(conn)
}

func runRepl(conn *logdb.Conn) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("logdb> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return
			}

			fmt.Fprintf(os.Stderr, "logdb-shell: %v\n", err)

			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if !dispatch(conn, input) {
			return
		}
	}
}

// dispatch runs one command line and reports whether the shell should
// keep reading.
func dispatch(conn *logdb.Conn, input string) bool {
	fields := strings.Fields(input)
	cmd := fields[0]

	switch cmd {
	case "quit", "exit":
		return false
	case "help":
		fmt.Print(helpText)
	case "put":
		cmdPut(conn, fields[1:])
	case "scan":
		cmdScan(conn)
	case "info":
		cmdInfo(conn)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (try \"help\")\n", cmd)
	}

	return true
}

func cmdPut(conn *logdb.Conn, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: put <key> <value>")
		return
	}

	key, value := args[0], strings.Join(args[1:], " ")

	if err := conn.Put(context.Background(), []byte(key), []byte(value)); err != nil {
		fmt.Fprintf(os.Stderr, "put: %v\n", err)
	}
}

func cmdScan(conn *logdb.Conn) {
	it := conn.Iterate()
	defer it.Close()

	for it.Next() {
		fmt.Printf("%s: %s\n", it.Key(), it.Value())
	}

	if err := it.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
	}
}

func cmdInfo(conn *logdb.Conn) {
	fmt.Printf("path: %s\n", conn.Path())
	fmt.Printf("section size: %d\n", conn.SectionSize())
	fmt.Printf("sections: %d\n", conn.SectionCount())
}
