package model

import "time"

// ================ Config ================
type ScrapeConfig struct {
	MinDelay        time.Duration `envconfig:"SCRAPE_MIN_DELAY" default:"3s"`
	MaxRetries      int           `envconfig:"SCRAPE_MAX_RETRIES" default:"2"`
	BackoffInitial  time.Duration `envconfig:"SCRAPE_BACKOFF_INITIAL" default:"2s"`
	BackoffMax      time.Duration `envconfig:"SCRAPE_BACKOFF_MAX" default:"20s"`
	Workers         int           `envconfig:"SCRAPE_WORKERS" default:"1"`
	DefaultCurrency string        `envconfig:"DEFAULT_CURRENCY" default:"USD"`
}

type CaptureConfig struct {
	Timeout   time.Duration `envconfig:"CAPTURE_TIMEOUT" default:"45s"`
	Settle    time.Duration `envconfig:"CAPTURE_SETTLE" default:"5s"`
	Headless  bool          `envconfig:"CAPTURE_HEADLESS" default:"true"`
	UserAgent string        `envconfig:"CAPTURE_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"`
	Width     int           `envconfig:"CAPTURE_WIDTH" default:"1366"`
	Height    int           `envconfig:"CAPTURE_HEIGHT" default:"900"`
}

type OracleConfig struct {
	Model       string        `envconfig:"ORACLE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int           `envconfig:"ORACLE_MAX_TOKENS" default:"1024"`
	Temperature float32       `envconfig:"ORACLE_TEMPERATURE" default:"0"`
	Timeout     time.Duration `envconfig:"ORACLE_TIMEOUT" default:"60s"`
}

type StoreConfig struct {
	Backend     string        `envconfig:"STORE_BACKEND" default:"json"`
	Path        string        `envconfig:"DATABASE_PATH" default:"data/price_data.json"`
	RecordEmpty bool          `envconfig:"STORE_RECORD_EMPTY" default:"true"`
	LockTTL     time.Duration `envconfig:"STORE_LOCK_TTL" default:"10m"`
}
