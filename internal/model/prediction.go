package model

import "time"

// Prediction is a linear trend projection derived from a stored series.
// It is recomputed on demand and only ever cached, never persisted.
type Prediction struct {
	Symbol         string    `json:"symbol"`
	GeneratedAt    time.Time `json:"generated_at"`
	HorizonDays    int       `json:"horizon_days"`
	Slope          float64   `json:"slope"`
	Intercept      float64   `json:"intercept"`
	ProjectedPrice float64   `json:"projected_price"`
	RSquared       float64   `json:"r_squared"`

	SampleSize int       `json:"sample_size"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	MSE        float64   `json:"mse"`
	RMSE       float64   `json:"rmse"`
	MAE        float64   `json:"mae"`
}

// UpsertResult reports what a store batch did.
type UpsertResult struct {
	Inserted int
	Updated  int
	Rejected []*ValidationError
}

// SyncResult summarizes one fetch-and-merge run for a symbol.
type SyncResult struct {
	Symbol     string
	From       time.Time
	To         time.Time
	Fetched    int
	Merged     int // Inserted + Updated
	Skipped    int // Fetched - Merged
	Inserted   int
	Updated    int
	Rejected   int // parse anomalies plus validation drops
	Duplicates int // in-batch duplicates collapsed
}
