package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord is the ledger entry for one finished simulation run.
type RunRecord struct {
	VersionedRecord
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Seed        int64   `json:"seed"`
	Agents      int     `json:"agents"`
	FoodSources int     `json:"food_sources"`
	WorldSize   float64 `json:"world_size"`

	Ticks   int     `json:"ticks"`
	Elapsed float64 `json:"elapsed"`
	Reason  string  `json:"reason"`

	Deliveries           int     `json:"deliveries"`
	FoodCollected        float64 `json:"food_collected"`
	NestStored           float64 `json:"nest_stored"`
	FailedAttempts       int     `json:"failed_attempts"`
	AverageDeliveryTime  float64 `json:"average_delivery_time"`
	AverageReturnTime    float64 `json:"average_return_time"`
	AverageTimeSinceGoal float64 `json:"average_time_since_goal"`
	Stuck                int     `json:"stuck"`
	Oscillating          int     `json:"oscillating"`
	Lost                 int     `json:"lost"`
	LostCarriers         int     `json:"lost_carriers"`
}

// MetricsSample is one point of a run's sampled metric series.
type MetricsSample struct {
	Tick                 int     `json:"tick"`
	Elapsed              float64 `json:"elapsed"`
	Deliveries           int     `json:"deliveries"`
	FoodCollected        float64 `json:"food_collected"`
	Exploring            int     `json:"exploring"`
	Following            int     `json:"following"`
	Tracking             int     `json:"tracking"`
	Carrying             int     `json:"carrying"`
	Stuck                int     `json:"stuck"`
	Oscillating          int     `json:"oscillating"`
	Lost                 int     `json:"lost"`
	LostCarriers         int     `json:"lost_carriers"`
	AverageTimeSinceGoal float64 `json:"average_time_since_goal"`
	FoodPeak             float64 `json:"food_peak"`
	NestPeak             float64 `json:"nest_peak"`
	AlarmPeak            float64 `json:"alarm_peak"`
}
