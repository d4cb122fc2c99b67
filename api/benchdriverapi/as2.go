package benchdriverapi

type AS2WorkerStatus = WorkerStatus[Result[AS2RunStats]]

const (
	TaskAS2Prepare TaskName = "as2/prepare"
	TaskAS2Run     TaskName = "as2/run"
	TaskAS2Cleanup TaskName = "as2/cleanup"
)

// Result type of an AS2 benchmark run.
type AS2RunStats struct {
	RunID   string        `json:"run_id"`
	Summary TxSummary     `json:"summary"`
	Stats   []OpStats     `json:"stats"`
	Series  []SeriesPoint `json:"series"`

	// Files is nil if no report was written.
	Files *ReportFiles `json:"files,omitempty"`
}

type TxSummary struct {
	Total     int        `json:"total"`
	Committed int        `json:"committed"`
	Aborted   int        `json:"aborted"`
	AbortRate Percentage `json:"abort_rate"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`

	// Committed transactions per second over the measured period.
	Throughput float64 `json:"throughput"`
}

type SeriesPoint struct {
	TimeSec    int64   `json:"time_sec"`
	Throughput int     `json:"throughput"`
	AvgMs      float64 `json:"avg_ms"`
	MinMs      int64   `json:"min_ms"`
	MaxMs      int64   `json:"max_ms"`
	P25Ms      int64   `json:"p25_ms"`
	MedianMs   int64   `json:"median_ms"`
	P75Ms      int64   `json:"p75_ms"`
}

type ReportFiles struct {
	Summary string `json:"summary"`
	Series  string `json:"series"`
	JSON    string `json:"json,omitempty"`
}

type BenchmarkAS2Config struct {
	// Drop existing data before loading. Default: false.
	DropData *bool `json:"drop_data"`

	// Number of items loaded into the item table. Default: 100000.
	Items *int `json:"items"`

	// Batch size used while loading items. Default: 1000.
	LoadBatchSize *int `json:"load_batch_size"`

	// Number of concurrent terminals. Default: 10.
	Terminals *int `json:"terminals"`

	// Think time between two transactions of a terminal. Default: none.
	ThinkTime *JitterDuration `json:"think_time"`

	// Ratio per transaction type. Draws not covered by the ratios run
	// UPDATE_ITEM. Default: READ_ITEM 0.5.
	Mix map[string]float64 `json:"mix"`

	// Items read per READ_ITEM transaction. Default: 10.
	ReadCount *int `json:"read_count"`

	// Items updated per UPDATE_ITEM transaction. Default: 10.
	UpdateCount *int `json:"update_count"`

	// Transaction isolation level for SQL systems. Default: default.
	IsolationLevel *IsolationLevel `json:"isolation_level"`

	// Period after start during which no statistics are recorded. Default: 0.
	Warmup *Duration `json:"warmup"`

	// Duration of the measured period. Defaults to 1m.
	Duration *Duration `json:"duration"`

	// Transactions per terminal. Default: 0 (unlimited).
	Count *int `json:"count"`

	// Seed for parameter generation. Default: random.
	Seed *uint64 `json:"seed"`

	// Width of the time series buckets. Default: 5s.
	BucketWidth *Duration `json:"bucket_width"`

	// Report output directory. Default: reports.
	OutputDir *string `json:"output_dir"`

	// Optional postfix of the report file names.
	Label *string `json:"label"`

	LiveStatsPeriod *Duration `json:"live_stats_period"` // Period to publish live stats. Default: 10s.

	// Behaviour of the simulated system, only used with the sim driver.
	Sim *SimConfig `json:"sim"`
}

type SimConfig struct {
	// Latency per transaction. Default: 5ms without jitter.
	Latency *JitterDuration `json:"latency"`

	// Probability of a transaction to abort. Default: 0.
	AbortRatio *float64 `json:"abort_ratio"`
}
