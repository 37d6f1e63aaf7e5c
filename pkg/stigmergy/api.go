// Package stigmergy is the library surface over the colony simulation: it
// runs worlds to termination, records them in the run ledger and writes
// their artifacts to disk.
package stigmergy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"stigmergy/internal/colony"
	"stigmergy/internal/config"
	"stigmergy/internal/model"
	"stigmergy/internal/monitor"
	"stigmergy/internal/pheromone"
	"stigmergy/internal/stats"
	"stigmergy/internal/storage"
)

const (
	defaultExportsDir  = "exports"
	defaultDBPath      = "stigmergy.db"
	defaultSampleEvery = 60
	defaultRunsLimit   = 20

	// ReasonTickLimit marks a run stopped by RunRequest.Ticks before the
	// monitor terminated it.
	ReasonTickLimit = "tick_limit"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     *slog.Logger
}

type Client struct {
	store     storage.Store
	storeKind string
	log       *slog.Logger

	runsDir     string
	exportsDir  string
	initialized bool
}

type RunRequest struct {
	Config config.SimConfig
	// Ticks caps the run; 0 runs until the monitor terminates it.
	Ticks int
	// SampleEvery is the metric sampling cadence in ticks.
	SampleEvery int
	// Progress, when set, receives every metric sample as it is taken.
	Progress func(model.MetricsSample)
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	Record       model.RunRecord
	Samples      int
}

type RunsRequest struct {
	Limit int
}

type ShowRequest struct {
	RunID  string
	Latest bool
}

type RunDetail struct {
	Record model.RunRecord
	Config stats.RunConfig
	Series []model.MetricsSample
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = stats.DefaultBaseDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		storeKind:  storeKind,
		log:        logger,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureInit(ctx)
}

// Reset removes every run from the ledger and from the artifacts directory.
// It returns the number of runs removed.
func (c *Client) Reset(ctx context.Context) (int, error) {
	if err := c.ensureInit(ctx); err != nil {
		return 0, err
	}

	removed := make(map[string]struct{})
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return 0, err
	}
	for _, run := range runs {
		if err := c.store.DeleteRun(ctx, run.ID); err != nil {
			return 0, err
		}
		removed[run.ID] = struct{}{}
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := stats.RemoveRun(c.runsDir, e.RunID); err != nil {
			return 0, err
		}
		removed[e.RunID] = struct{}{}
	}

	c.log.Info("ledger reset", "runs", len(removed))
	return len(removed), nil
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Ticks < 0 {
		return RunSummary{}, errors.New("ticks must be >= 0")
	}
	if req.SampleEvery <= 0 {
		req.SampleEvery = defaultSampleEvery
	}
	if err := c.ensureInit(ctx); err != nil {
		return RunSummary{}, err
	}

	runID := uuid.NewString()
	log := c.log.With("run_id", runID)
	world, err := colony.New(req.Config, colony.WithLogger(log))
	if err != nil {
		return RunSummary{}, fmt.Errorf("build world: %w", err)
	}

	started := time.Now().UTC()
	log.Info("run started",
		"seed", req.Config.Seed,
		"agents", req.Config.InitialAnts,
		"food_sources", req.Config.FoodSources,
		"workers", req.Config.Workers,
		"horizon", req.Config.HorizonSeconds,
	)

	var (
		series []model.MetricsSample
		reason = monitor.Running
	)
	for reason == monitor.Running && (req.Ticks == 0 || world.Ticks() < req.Ticks) {
		if err := ctx.Err(); err != nil {
			log.Warn("run cancelled", "tick", world.Ticks(), "err", err)
			return RunSummary{}, fmt.Errorf("run %s cancelled at tick %d: %w", runID, world.Ticks(), err)
		}
		reason = world.Step()
		if world.Ticks()%req.SampleEvery == 0 || reason != monitor.Running {
			sample := Sample(world)
			series = append(series, sample)
			if req.Progress != nil {
				req.Progress(sample)
			}
			log.Debug("sample",
				"tick", sample.Tick,
				"deliveries", sample.Deliveries,
				"following", sample.Following,
				"carrying", sample.Carrying,
			)
		}
	}
	if len(series) == 0 || series[len(series)-1].Tick != world.Ticks() {
		series = append(series, Sample(world))
	}

	record := buildRecord(runID, started, time.Now().UTC(), world)
	if reason == monitor.Running {
		record.Reason = ReasonTickLimit
	}

	if err := c.store.SaveRun(ctx, record); err != nil {
		return RunSummary{}, fmt.Errorf("save run %s: %w", runID, err)
	}
	if err := c.store.SaveMetricsHistory(ctx, runID, series); err != nil {
		return RunSummary{}, fmt.Errorf("save metrics history %s: %w", runID, err)
	}

	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config:  stats.RunConfig{RunID: runID, Store: c.storeKind, Sim: world.Config()},
		Summary: record,
		Series:  series,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.IndexEntry(record)); err != nil {
		return RunSummary{}, err
	}

	log.Info("run finished",
		"reason", record.Reason,
		"ticks", record.Ticks,
		"elapsed", record.Elapsed,
		"deliveries", record.Deliveries,
		"food_collected", record.FoodCollected,
	)
	return RunSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Record:       record,
		Samples:      len(series),
	}, nil
}

// Runs lists finished runs newest first. The run index on disk is the source
// of truth so that runs recorded by earlier processes are listed too.
func (c *Client) Runs(_ context.Context, req RunsRequest) ([]stats.RunIndexEntry, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if req.Limit == 0 {
		req.Limit = defaultRunsLimit
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return entries, nil
}

// Report aggregates every run in the index.
func (c *Client) Report(ctx context.Context) (stats.RunsReport, error) {
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return stats.RunsReport{}, err
	}
	runs := make([]model.RunRecord, 0, len(entries))
	for _, e := range entries {
		run, err := c.loadRecord(ctx, e.RunID)
		if err != nil {
			return stats.RunsReport{}, err
		}
		runs = append(runs, run)
	}
	return stats.BuildRunsReport(runs), nil
}

func (c *Client) Show(ctx context.Context, req ShowRequest) (RunDetail, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "show")
	if err != nil {
		return RunDetail{}, err
	}

	record, err := c.loadRecord(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	cfg, _, err := stats.ReadRunConfig(c.runsDir, runID)
	if err != nil {
		return RunDetail{}, err
	}
	series, err := c.loadSeries(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{Record: record, Config: cfg, Series: series}, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Sample condenses the current world state into one metric sample.
func Sample(w *colony.World) model.MetricsSample {
	m := w.Metrics()
	s := model.MetricsSample{
		Tick:                 w.Ticks(),
		Elapsed:              w.Elapsed(),
		Deliveries:           m.SuccessfulDeliveries,
		FoodCollected:        m.TotalFoodCollected,
		Stuck:                m.Stuck,
		Oscillating:          m.Oscillating,
		Lost:                 m.Lost,
		LostCarriers:         m.LostCarriers,
		AverageTimeSinceGoal: m.AverageTimeSinceGoal,
		FoodPeak:             w.Field().Max(pheromone.Food),
		NestPeak:             w.Field().Max(pheromone.Nest),
		AlarmPeak:            w.Field().Max(pheromone.Alarm),
	}
	for _, a := range w.Agents() {
		switch a.State {
		case colony.Exploring:
			s.Exploring++
		case colony.Following:
			s.Following++
		case colony.Tracking:
			s.Tracking++
		}
		if a.Carrying {
			s.Carrying++
		}
	}
	return s
}

func buildRecord(runID string, started, finished time.Time, w *colony.World) model.RunRecord {
	cfg := w.Config()
	m := w.Metrics()
	return model.RunRecord{
		VersionedRecord:      storage.Versioned(),
		ID:                   runID,
		StartedAt:            started,
		FinishedAt:           finished,
		Seed:                 cfg.Seed,
		Agents:               cfg.InitialAnts,
		FoodSources:          cfg.FoodSources,
		WorldSize:            cfg.WorldSize,
		Ticks:                w.Ticks(),
		Elapsed:              w.Elapsed(),
		Reason:               w.Reason().String(),
		Deliveries:           m.SuccessfulDeliveries,
		FoodCollected:        m.TotalFoodCollected,
		NestStored:           w.Nest().Stored,
		FailedAttempts:       m.FailedAttempts,
		AverageDeliveryTime:  m.AverageDeliveryTime,
		AverageReturnTime:    m.AverageReturnTime,
		AverageTimeSinceGoal: m.AverageTimeSinceGoal,
		Stuck:                m.Stuck,
		Oscillating:          m.Oscillating,
		Lost:                 m.Lost,
		LostCarriers:         m.LostCarriers,
	}
}

// loadRecord prefers the ledger and falls back to summary.json.
func (c *Client) loadRecord(ctx context.Context, runID string) (model.RunRecord, error) {
	if err := c.ensureInit(ctx); err != nil {
		return model.RunRecord{}, err
	}
	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if ok {
		return record, nil
	}
	record, ok, err = stats.ReadRunSummary(c.runsDir, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	return record, nil
}

func (c *Client) loadSeries(ctx context.Context, runID string) ([]model.MetricsSample, error) {
	series, ok, err := c.store.GetMetricsHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if ok {
		return series, nil
	}
	series, _, err = stats.ReadMetricsSeries(c.runsDir, runID)
	return series, err
}

func (c *Client) resolveRunID(runID string, latest bool, op string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", fmt.Errorf("%s requires run id or latest", op)
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) ensureInit(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}
