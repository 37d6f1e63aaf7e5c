package stats

import (
	"math"

	"stigmergy/internal/model"
)

// RunsReport aggregates finished runs; the CLI prints it under `runs`.
type RunsReport struct {
	TotalRuns      int            `json:"total_runs"`
	Reasons        map[string]int `json:"reasons"`
	AvgDeliveries  float64        `json:"avg_deliveries"`
	StdDeliveries  float64        `json:"std_deliveries"`
	MinDeliveries  int            `json:"min_deliveries"`
	MaxDeliveries  int            `json:"max_deliveries"`
	DeliveryRate   float64        `json:"delivery_rate_per_minute"`
	AvgTripSeconds float64        `json:"avg_trip_seconds"`
}

func BuildRunsReport(runs []model.RunRecord) RunsReport {
	report := RunsReport{
		TotalRuns: len(runs),
		Reasons:   make(map[string]int),
	}
	if len(runs) == 0 {
		return report
	}

	deliveries := make([]float64, 0, len(runs))
	var (
		elapsed   float64
		delivered int
		tripSum   float64
		tripRuns  int
	)
	report.MinDeliveries = runs[0].Deliveries
	report.MaxDeliveries = runs[0].Deliveries
	for _, run := range runs {
		report.Reasons[run.Reason]++
		deliveries = append(deliveries, float64(run.Deliveries))
		if run.Deliveries < report.MinDeliveries {
			report.MinDeliveries = run.Deliveries
		}
		if run.Deliveries > report.MaxDeliveries {
			report.MaxDeliveries = run.Deliveries
		}
		elapsed += run.Elapsed
		delivered += run.Deliveries
		if run.Deliveries > 0 {
			tripSum += run.AverageDeliveryTime
			tripRuns++
		}
	}
	report.AvgDeliveries, report.StdDeliveries = meanStd(deliveries)
	if elapsed > 0 {
		report.DeliveryRate = float64(delivered) / (elapsed / 60)
	}
	if tripRuns > 0 {
		report.AvgTripSeconds = tripSum / float64(tripRuns)
	}
	return report
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	acc := 0.0
	for _, v := range values {
		d := v - mean
		acc += d * d
	}
	return mean, math.Sqrt(acc / float64(len(values)))
}
