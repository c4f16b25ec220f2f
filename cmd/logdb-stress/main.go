// Command logdb-stress hammers a LogDB database with concurrent writers
// and reports throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	natomic "github.com/natefinch/atomic"
	"github.com/spf13/pflag"

	"github.com/chkn/logdb/internal/config"
	"github.com/chkn/logdb/pkg/logdb"
)

type runReport struct {
	RecordsWritten int64   `json:"recordsWritten"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	PutsPerSecond  float64 `json:"putsPerSecond"`
	Errors         int64   `json:"errors"`
}

func main() {
	var (
		threads     = pflag.IntP("threads", "t", 4, "number of concurrent writer goroutines")
		count       = pflag.IntP("count", "c", 1000, "number of Put calls per goroutine")
		sync        = pflag.Bool("sync", false, "fsync after every commit")
		sectionSize = pflag.Uint32("section-size", 0, "override section size (0 = default)")
		configPath  = pflag.StringP("config", "f", "", "optional hujson run configuration file")
		reportPath  = pflag.StringP("report", "r", "", "write a JSON run report to this path")
		verbose     = pflag.BoolP("verbose", "v", false, "trace database open/close diagnostics")
	)

	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: logdb-stress [flags] <path>")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	run := config.StressRun{
		Threads:     *threads,
		Count:       *count,
		Sync:        *sync,
		SectionSize: *sectionSize,
		KeyPrefix:   os.Getenv("LOGDB_STRESS_KEY_PREFIX"),
		KeySuffix:   os.Getenv("LOGDB_STRESS_KEY_SUFFIX"),
	}

	// A config file only overrides fields the file actually sets; flags
	// remain the baseline so the file can be a partial override.
	if *configPath != "" {
		fileRun, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logdb-stress: %v\n", err)
			os.Exit(1)
		}

		applyOverrides(&run, fileRun)
	}

	report, err := stress(pflag.Arg(0), run, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logdb-stress: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %d records in %.2fs (%.0f puts/sec), %d errors\n",
		report.RecordsWritten, report.ElapsedSeconds, report.PutsPerSecond, report.Errors)

	if *reportPath != "" {
		if err := writeReport(*reportPath, report); err != nil {
			fmt.Fprintf(os.Stderr, "logdb-stress: write report: %v\n", err)
			os.Exit(1)
		}
	}
}

func applyOverrides(base *config.StressRun, override config.StressRun) {
	if override.Threads != 0 {
		base.Threads = override.Threads
	}

	if override.Count != 0 {
		base.Count = override.Count
	}

	if override.SectionSize != 0 {
		base.SectionSize = override.SectionSize
	}

	if override.KeyPrefix != "" {
		base.KeyPrefix = override.KeyPrefix
	}

	if override.KeySuffix != "" {
		base.KeySuffix = override.KeySuffix
	}

	base.Sync = base.Sync || override.Sync
}

func stress(path string, run config.StressRun, verbose bool) (runReport, error) {
	opts := logdb.Options{
		Flags:       logdb.Create,
		SectionSize: run.SectionSize,
		Sync:        run.Sync,
	}
	if verbose {
		opts.Trace = log.Printf
	}

	conn, err := logdb.Open(path, opts)
	if err != nil {
		return runReport{}, fmt.Errorf("open: %w", err)
	}
	defer conn.Close()

	var (
		written atomic.Int64
		failed  atomic.Int64
		wg      sync.WaitGroup
	)

	start := time.Now()

	for w := range run.Threads {
		wg.Add(1)

		go func(worker int) {
			defer wg.Done()

			for i := range run.Count {
				key := fmt.Sprintf("%s%d-%d%s", run.KeyPrefix, worker, i, run.KeySuffix)
				value := fmt.Sprintf("v%d", i)

				if err := conn.Put(context.Background(), []byte(key), []byte(value)); err != nil {
					failed.Add(1)
					continue
				}

				written.Add(1)
			}
		}(w)
	}

	wg.Wait()

	elapsed := time.Since(start)

	report := runReport{
		RecordsWritten: written.Load(),
		ElapsedSeconds: elapsed.Seconds(),
		Errors:         failed.Load(),
	}

	if elapsed.Seconds() > 0 {
		report.PutsPerSecond = float64(report.RecordsWritten) / elapsed.Seconds()
	}

	return report, nil
}

func writeReport(path string, report runReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	data = append(data, '\n')

	return natomic.WriteFile(path, bytes.NewReader(data))
}
