package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"stigmergy/internal/config"
	"stigmergy/internal/model"
)

const (
	DefaultBaseDir = "stigmergy_runs"

	runIndexFile = "run_index.json"
	configFile   = "config.json"
	summaryFile  = "summary.json"
	seriesFile   = "metrics_series.csv"
)

type RunConfig struct {
	RunID string           `json:"run_id"`
	Store string           `json:"store,omitempty"`
	Sim   config.SimConfig `json:"sim"`
}

type RunArtifacts struct {
	Config  RunConfig             `json:"config"`
	Summary model.RunRecord       `json:"summary"`
	Series  []model.MetricsSample `json:"series"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Seed         int64   `json:"seed"`
	Agents       int     `json:"agents"`
	Ticks        int     `json:"ticks"`
	Reason       string  `json:"reason"`
	Deliveries   int     `json:"deliveries"`
	FoodStored   float64 `json:"food_stored"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

var seriesHeader = []string{
	"tick", "elapsed", "deliveries", "food_collected",
	"exploring", "following", "tracking", "carrying",
	"stuck", "oscillating", "lost", "lost_carriers",
	"average_time_since_goal", "food_peak", "nest_peak", "alarm_peak",
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}
	if artifacts.Summary.ID != "" && artifacts.Summary.ID != artifacts.Config.RunID {
		return "", fmt.Errorf("run summary id mismatch: got=%s want=%s", artifacts.Summary.ID, artifacts.Config.RunID)
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), artifacts.Summary); err != nil {
		return "", err
	}
	if err := WriteMetricsSeries(runDir, artifacts.Series); err != nil {
		return "", err
	}
	return runDir, nil
}

// IndexEntry condenses a finished run into its run_index.json row.
func IndexEntry(run model.RunRecord) RunIndexEntry {
	return RunIndexEntry{
		RunID:        run.ID,
		Seed:         run.Seed,
		Agents:       run.Agents,
		Ticks:        run.Ticks,
		Reason:       run.Reason,
		Deliveries:   run.Deliveries,
		FoodStored:   run.NestStored,
		CreatedAtUTC: run.StartedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
	}
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends win ties.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// RemoveRun drops a run's directory and its index row.
func RemoveRun(baseDir, runID string) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.RemoveAll(filepath.Join(baseDir, runID)); err != nil {
		return err
	}
	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}
	kept := index[:0]
	for _, entry := range index {
		if entry.RunID != runID {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(index) {
		return nil
	}
	return writeJSON(filepath.Join(baseDir, runIndexFile), kept)
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, summaryFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	seriesPath := filepath.Join(src, seriesFile)
	if _, err := os.Stat(seriesPath); err == nil {
		if err := copyFile(seriesPath, filepath.Join(dst, seriesFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadRunSummary(baseDir, runID string) (model.RunRecord, bool, error) {
	var run model.RunRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, summaryFile), &run)
	return run, ok, err
}

func WriteMetricsSeries(runDir string, series []model.MetricsSample) error {
	file, err := os.Create(filepath.Join(runDir, seriesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(seriesHeader); err != nil {
		return err
	}
	for _, s := range series {
		if err := writer.Write([]string{
			strconv.Itoa(s.Tick),
			formatFloat(s.Elapsed),
			strconv.Itoa(s.Deliveries),
			formatFloat(s.FoodCollected),
			strconv.Itoa(s.Exploring),
			strconv.Itoa(s.Following),
			strconv.Itoa(s.Tracking),
			strconv.Itoa(s.Carrying),
			strconv.Itoa(s.Stuck),
			strconv.Itoa(s.Oscillating),
			strconv.Itoa(s.Lost),
			strconv.Itoa(s.LostCarriers),
			formatFloat(s.AverageTimeSinceGoal),
			formatFloat(s.FoodPeak),
			formatFloat(s.NestPeak),
			formatFloat(s.AlarmPeak),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadMetricsSeries(baseDir, runID string) ([]model.MetricsSample, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, seriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.MetricsSample{}, true, nil
		}
		return nil, false, err
	}
	if len(header) != len(seriesHeader) {
		return nil, false, fmt.Errorf("metrics series header must have %d columns, got %d", len(seriesHeader), len(header))
	}

	series := make([]model.MetricsSample, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		sample, err := parseSample(record)
		if err != nil {
			return nil, false, err
		}
		series = append(series, sample)
	}
	return series, true, nil
}

func parseSample(record []string) (model.MetricsSample, error) {
	p := fieldParser{record: record}
	s := model.MetricsSample{
		Tick:                 p.atoi(0),
		Elapsed:              p.atof(1),
		Deliveries:           p.atoi(2),
		FoodCollected:        p.atof(3),
		Exploring:            p.atoi(4),
		Following:            p.atoi(5),
		Tracking:             p.atoi(6),
		Carrying:             p.atoi(7),
		Stuck:                p.atoi(8),
		Oscillating:          p.atoi(9),
		Lost:                 p.atoi(10),
		LostCarriers:         p.atoi(11),
		AverageTimeSinceGoal: p.atof(12),
		FoodPeak:             p.atof(13),
		NestPeak:             p.atof(14),
		AlarmPeak:            p.atof(15),
	}
	return s, p.err
}

// fieldParser keeps the first conversion error so a row decodes in one pass.
type fieldParser struct {
	record []string
	err    error
}

func (p *fieldParser) atoi(i int) int {
	if p.err != nil {
		return 0
	}
	v, err := strconv.Atoi(p.record[i])
	if err != nil {
		p.err = fmt.Errorf("metrics series column %s: %w", seriesHeader[i], err)
	}
	return v
}

func (p *fieldParser) atof(i int) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(p.record[i], 64)
	if err != nil {
		p.err = fmt.Errorf("metrics series column %s: %w", seriesHeader[i], err)
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
