// Command drt solves one dispatch problem offline: a problem JSON file and a
// "from,to,time,distance" CSV in, a solution JSON file and a text report out.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"drtdispatch/internal/buildinfo"
	"drtdispatch/internal/config"
	"drtdispatch/internal/matrix"
	"drtdispatch/internal/model"
	"drtdispatch/internal/opt"
	"drtdispatch/internal/report"
)

// errInput marks failures of the inputs; they exit with status 2.
var errInput = errors.New("input")

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		if errors.Is(err, errInput) || errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	svc, err := config.Load("")
	if err != nil {
		return fmt.Errorf("%w: %v", errInput, err)
	}
	cfg, err := svc.Optimizer.Engine()
	if err != nil {
		return fmt.Errorf("%w: %v", errInput, err)
	}

	fs := flag.NewFlagSet("drt", flag.ContinueOnError)
	problemPath := fs.String("problem", "", "problem JSON file (required)")
	tdmPath := fs.String("tdm", "", "time/distance matrix CSV: from,to,time,distance (required)")
	outPath := fs.String("out", "solution.json", "solution JSON output")
	logPath := fs.String("log", "", "report output (default stdout)")
	iterations := fs.Int("iterations", cfg.Termination.MaxIterations, "ruin-and-recreate iterations")
	threads := fs.Int("threads", cfg.Workers, "parallel search workers")
	construction := fs.String("construction", cfg.Construction.String(), "regret_insertion or best_insertion")
	fastRegret := fs.Bool("fast_regret", cfg.FastRegret, "recompute regret only for routes touched by the last insertion")
	seed := fs.Int64("seed", cfg.Seed, "random seed")
	printAll := fs.Bool("print", false, "also print the problem table and the improvement history")
	version := fs.Bool("version", false, "print the build version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *version {
		fmt.Fprintln(stdout, buildinfo.Info()["version"])
		return nil
	}
	if *problemPath == "" || *tdmPath == "" {
		fs.Usage()
		return fmt.Errorf("%w: -problem and -tdm are required", errInput)
	}

	if *threads > svc.Optimizer.MaxWorkers {
		return fmt.Errorf("%w: -threads %d exceeds the limit of %d", errInput, *threads, svc.Optimizer.MaxWorkers)
	}
	cfg.Termination.MaxIterations = *iterations
	cfg.Workers = *threads
	cfg.Seed = *seed
	cfg.FastRegret = *fastRegret
	if cfg.Construction, err = opt.ParseConstruction(*construction); err != nil {
		return fmt.Errorf("%w: %v", errInput, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errInput, err)
	}
	cfg.Logger = log.Default()

	records, err := readRecords(*tdmPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errInput, err)
	}
	var in model.ProblemIn
	if err := readJSON(*problemPath, &in); err != nil {
		return fmt.Errorf("%w: %v", errInput, err)
	}
	size := matrix.SizeOf(records)
	for _, l := range in.Locations {
		size = max(size, l.Index+1)
	}
	if err := matrix.CheckSize(size, svc.Optimizer.MaxMatrixSize); err != nil {
		return fmt.Errorf("%w: %s: %v", errInput, *tdmPath, err)
	}
	m, err := matrix.FromRecords(size, records)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errInput, *tdmPath, err)
	}
	p, err := in.Build(m)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errInput, *problemPath, err)
	}
	log.Printf("problem=%s jobs=%d vehicles=%d matrix=%d workers=%d iterations=%d",
		*problemPath, len(p.Jobs), len(p.Vehicles), size, cfg.Workers, cfg.Termination.MaxIterations)

	res, err := opt.Solve(ctx, p, cfg)
	if err != nil {
		return err
	}

	if err := writeJSON(*outPath, model.ResultFrom(p, res)); err != nil {
		return err
	}

	w := stdout
	if *logPath != "" {
		f, err := os.Create(*logPath)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	if *printAll {
		if err := report.Problem(w, p); err != nil {
			return err
		}
	}
	if err := report.Solution(w, p, res, report.Verbose); err != nil {
		return err
	}
	if *printAll {
		return report.History(w, res)
	}
	return nil
}

func readRecords(path string) ([]matrix.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	recs, err := matrix.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

func readJSON(path string, dst any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
