// Command vdcsim replays a TOML scenario of binding batches against a simulated device and
// prints the resulting cache statistics.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
)

func newLogger(level string) (*slog.Logger, error) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	handler := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "vdcsim",
		Level:           parsed,
	})
	return slog.New(handler), nil
}

func run(scenarioPath string, logLevel string, detailed bool) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}

	file, err := os.Open(scenarioPath)
	if err != nil {
		return errors.Wrap(err, "failed to open scenario")
	}
	defer file.Close()

	scenario, err := LoadScenario(file)
	if err != nil {
		return err
	}

	report, err := Run(logger, scenario, detailed)
	if err != nil {
		return err
	}

	logger.Info("scenario complete",
		slog.Int("Batches", len(scenario.Batches)),
		slog.Int("ResolveCalls", report.Statistics.ResolveCalls),
		slog.Int("AllocateCalls", report.AllocateCalls),
		slog.Int("WriteCalls", report.WriteCalls),
		slog.Int("PoolsCreated", report.PoolsCreated),
		slog.Int("LayoutsCreated", report.LayoutsMade),
		slog.Int("AllocationRetries", report.Statistics.AllocationRetries),
	)
	fmt.Println(report.Stats)

	return nil
}

func main() {
	scenarioPath := flag.String("scenario", "", "path to the TOML scenario to replay")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	detailed := flag.Bool("detailed", false, "include per-pool statistics in the output")
	flag.Parse()

	if *scenarioPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	err := run(*scenarioPath, *logLevel, *detailed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vdcsim: %+v\n", err)
		os.Exit(1)
	}
}
