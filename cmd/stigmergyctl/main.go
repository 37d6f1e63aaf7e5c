package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"stigmergy/internal/model"
	"stigmergy/internal/stats"
	"stigmergy/internal/storage"
	"stigmergy/pkg/stigmergy"
)

const (
	defaultDBPath = "stigmergy.db"
	exportsDir    = "exports"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// clientFlags are shared by every subcommand that opens the ledger.
type clientFlags struct {
	storeKind *string
	dbPath    *string
	runsDir   *string
	verbose   *bool
}

func registerClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		storeKind: fs.String("store", storage.DefaultStoreKind(), "run ledger backend: memory|sqlite"),
		dbPath:    fs.String("db-path", defaultDBPath, "sqlite database path"),
		runsDir:   fs.String("runs-dir", stats.DefaultBaseDir, "run artifacts directory"),
		verbose:   fs.Bool("v", false, "log run progress to stderr"),
	}
}

func (f clientFlags) open() (*stigmergy.Client, error) {
	opts := stigmergy.Options{
		StoreKind:  *f.storeKind,
		DBPath:     *f.dbPath,
		RunsDir:    *f.runsDir,
		ExportsDir: exportsDir,
	}
	if *f.verbose {
		opts.Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return stigmergy.New(opts)
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	configOut := fs.String("config-out", "", "write the default simulation config to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}
	if *configOut != "" {
		if err := writeDefaultConfig(*configOut); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote default config to=%s\n", *configOut)
	}

	fmt.Fprintf(stdout, "initialized store=%s\n", *cf.storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	removed, err := client.Reset(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "reset store=%s removed=%d\n", *cf.storeKind, removed)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	sf := registerSimFlags(fs)
	ticks := fs.Int("ticks", 0, "tick cap (0 runs until the monitor terminates)")
	sampleEvery := fs.Int("sample-every", 60, "metric sampling cadence in ticks")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ticks < 0 {
		return errors.New("ticks must be >= 0")
	}
	if *sampleEvery <= 0 {
		return errors.New("sample-every must be > 0")
	}

	cfg, err := sf.resolve(fs)
	if err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := stigmergy.RunRequest{
		Config:      cfg,
		Ticks:       *ticks,
		SampleEvery: *sampleEvery,
	}
	if !*jsonOut && isTerminal(stdout) {
		req.Progress = func(s model.MetricsSample) {
			fmt.Fprintf(stdout, "\rtick %s  t=%.1fs  deliveries=%d  following=%d  carrying=%d   ",
				humanize.Comma(int64(s.Tick)), s.Elapsed, s.Deliveries, s.Following, s.Carrying)
		}
	}

	start := time.Now()
	summary, err := client.Run(ctx, req)
	if req.Progress != nil {
		fmt.Fprintln(stdout)
	}
	if err != nil {
		return err
	}

	if *jsonOut {
		return writeJSON(stdout, summary.Record)
	}
	r := summary.Record
	fmt.Fprintf(stdout, "run completed run_id=%s reason=%s\n", r.ID, r.Reason)
	fmt.Fprintf(stdout, "  ticks=%s simulated=%.1fs wall=%s\n",
		humanize.Comma(int64(r.Ticks)), r.Elapsed, time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(stdout, "  deliveries=%s food_collected=%s failed_attempts=%d\n",
		humanize.Comma(int64(r.Deliveries)), humanize.FormatFloat("#,###.##", r.FoodCollected), r.FailedAttempts)
	fmt.Fprintf(stdout, "  avg_delivery=%.2fs avg_return=%.2fs stuck=%d oscillating=%d lost=%d lost_carriers=%d\n",
		r.AverageDeliveryTime, r.AverageReturnTime, r.Stuck, r.Oscillating, r.Lost, r.LostCarriers)
	fmt.Fprintf(stdout, "  artifacts=%s\n", summary.ArtifactsDir)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	report := fs.Bool("report", false, "print aggregate statistics over all runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *report {
		rep, err := client.Report(ctx)
		if err != nil {
			return err
		}
		if *jsonOut {
			return writeJSON(stdout, rep)
		}
		fmt.Fprintf(stdout, "runs=%d avg_deliveries=%.2f std=%.2f min=%d max=%d rate=%.2f/min avg_trip=%.2fs\n",
			rep.TotalRuns, rep.AvgDeliveries, rep.StdDeliveries, rep.MinDeliveries, rep.MaxDeliveries, rep.DeliveryRate, rep.AvgTripSeconds)
		reasons := make([]string, 0, len(rep.Reasons))
		for reason := range rep.Reasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Fprintf(stdout, "  reason=%s runs=%d\n", reason, rep.Reasons[reason])
		}
		return nil
	}

	entries, err := client.Runs(ctx, stigmergy.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(stdout, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "run_id=%s created=%s seed=%d agents=%d ticks=%s reason=%s deliveries=%d\n",
			e.RunID, createdLabel(e.CreatedAtUTC), e.Seed, e.Agents, humanize.Comma(int64(e.Ticks)), e.Reason, e.Deliveries)
	}
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run from run index")
	series := fs.Bool("series", false, "print the sampled metric series")
	jsonOut := fs.Bool("json", false, "emit run detail as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("show requires --run-id or --latest")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	detail, err := client.Show(ctx, stigmergy.ShowRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(stdout, detail)
	}

	r := detail.Record
	fmt.Fprintf(stdout, "run_id=%s started=%s reason=%s\n", r.ID, humanize.Time(r.StartedAt), r.Reason)
	fmt.Fprintf(stdout, "  seed=%d agents=%d food_sources=%d world=%g\n", r.Seed, r.Agents, r.FoodSources, r.WorldSize)
	fmt.Fprintf(stdout, "  ticks=%s simulated=%.1fs deliveries=%d nest_stored=%s\n",
		humanize.Comma(int64(r.Ticks)), r.Elapsed, r.Deliveries, humanize.FormatFloat("#,###.##", r.NestStored))
	if *series {
		for _, s := range detail.Series {
			fmt.Fprintf(stdout, "  tick=%d t=%.1f deliveries=%d exploring=%d following=%d tracking=%d carrying=%d food_peak=%.4f\n",
				s.Tick, s.Elapsed, s.Deliveries, s.Exploring, s.Following, s.Tracking, s.Carrying, s.FoodPeak)
		}
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	cf := registerClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, stigmergy.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func createdLabel(createdAtUTC string) string {
	ts, err := time.Parse(time.RFC3339Nano, createdAtUTC)
	if err != nil {
		return createdAtUTC
	}
	return humanize.Time(ts)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: stigmergyctl <init|reset|run|runs|show|export> [flags]", msg)
}
