// Package config defines all configuration for the surveillance engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via SURVEIL_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Venue          VenueConfig          `mapstructure:"venue"`
	Discovery      DiscoveryConfig      `mapstructure:"discovery"`
	Ingest         IngestConfig         `mapstructure:"ingest"`
	Microstructure MicrostructureConfig `mapstructure:"microstructure"`
	Correlation    CorrelationConfig    `mapstructure:"correlation"`
	Perf           PerfConfig           `mapstructure:"perf"`
	Notifier       NotifierConfig       `mapstructure:"notifier"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Health         HealthConfig         `mapstructure:"health"`
}

// VenueConfig holds REST/WebSocket endpoints for the surveilled venue.
type VenueConfig struct {
	GammaBaseURL    string        `mapstructure:"gamma_base_url"`
	CLOBBaseURL     string        `mapstructure:"clob_base_url"`
	WSMarketURL     string        `mapstructure:"ws_market_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
}

// DiscoveryConfig controls market discovery, categorization, and tiering.
type DiscoveryConfig struct {
	RefreshInterval      time.Duration      `mapstructure:"refresh_interval"`
	PageSize             int                `mapstructure:"page_size"`
	MaxEvents            int                `mapstructure:"max_events"`
	MinVolumeThreshold   float64            `mapstructure:"min_volume_threshold"`
	MaxMarketsToTrack    int                `mapstructure:"max_markets_to_track"`
	CategoryVolumeFloors map[string]float64 `mapstructure:"category_volume_floors"`
	RetentionWindow      time.Duration      `mapstructure:"retention_window"`
}

// IngestConfig controls the WebSocket ingestion layer.
type IngestConfig struct {
	HandshakeTimeout          time.Duration `mapstructure:"handshake_timeout"`
	HeartbeatInterval         time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectInterval         time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectAttempts      int           `mapstructure:"max_reconnect_attempts"`
	BatchSize                 int           `mapstructure:"batch_size"`
	BatchTimeout              time.Duration `mapstructure:"batch_timeout"`
	UnknownAssetRateThreshold float64       `mapstructure:"unknown_asset_rate_threshold"`
	SubscriptionCapProbe      int           `mapstructure:"subscription_cap_probe"`
}

// MicrostructureConfig tunes the per-market rolling state and detector family.
type MicrostructureConfig struct {
	RingBufferSize              int           `mapstructure:"ring_buffer_size"`
	MinSampleSize               int           `mapstructure:"min_sample_size"`
	EWMAAlpha                   float64       `mapstructure:"ewma_alpha"`
	MicroPriceSlopeWindow       int           `mapstructure:"micro_price_slope_window"`
	DepthLevels                 int           `mapstructure:"depth_levels"`
	OrderbookImbalanceThreshold float64       `mapstructure:"orderbook_imbalance_threshold"`
	SpreadAnomalyMultiplier     float64       `mapstructure:"spread_anomaly_multiplier"`
	DepthDropThresholdPct       float64       `mapstructure:"depth_drop_threshold_pct"`
	AggressiveFlowWindow        int           `mapstructure:"aggressive_flow_window"`
	AggressiveZThreshold        float64       `mapstructure:"aggressive_z_threshold"`
	FrontRunWindow              time.Duration `mapstructure:"front_run_window"`
	VolumeSpikeMultiplier       float64       `mapstructure:"volume_spike_multiplier"`
	PriceMovementThresholdPct   float64       `mapstructure:"price_movement_threshold_pct"`
	TickBufferSize              int           `mapstructure:"tick_buffer_size"`
}

// CorrelationConfig tunes the cross-market correlation detector.
type CorrelationConfig struct {
	MinCorrelation              float64            `mapstructure:"min_correlation"`
	Windows                     []time.Duration    `mapstructure:"windows"`
	MinMarketsForSignal         int                `mapstructure:"min_markets_for_signal"`
	VolumeConfirmationThreshold float64            `mapstructure:"volume_confirmation_threshold"`
	MinPriceChangePercent       float64            `mapstructure:"min_price_change_percent"`
	BaselineWindow              time.Duration      `mapstructure:"baseline_window"`
	PreFilterCap                int                `mapstructure:"pre_filter_cap"`
	CategoryBaselines           map[string]float64 `mapstructure:"category_baselines"`
	TickInterval                time.Duration      `mapstructure:"tick_interval"`
}

// PerfConfig controls the signal performance tracker.
type PerfConfig struct {
	WorkerPoolSize   int           `mapstructure:"worker_pool_size"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxKellyFraction float64       `mapstructure:"max_kelly_fraction"`
}

// NotifierConfig controls the prioritized notifier.
type NotifierConfig struct {
	DiscordRateLimit  int           `mapstructure:"discord_rate_limit"`
	PerMarketCooldown time.Duration `mapstructure:"per_market_cooldown"`
	DedupWindow       time.Duration `mapstructure:"dedup_window"`
	WebhookURL        string        `mapstructure:"webhook_url"`
	WebhookTimeout    time.Duration `mapstructure:"webhook_timeout"`
	CriticalThreshold float64       `mapstructure:"critical_threshold"`
	HighThreshold     float64       `mapstructure:"high_threshold"`
	MediumThreshold   float64       `mapstructure:"medium_threshold"`
	LowThreshold      float64       `mapstructure:"low_threshold"`
}

// StorageConfig sets where surveillance data is persisted.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HealthConfig controls the health/metrics HTTP endpoint.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SURVEIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if url := os.Getenv("SURVEIL_WEBHOOK_URL"); url != "" {
		cfg.Notifier.WebhookURL = url
	}
	if path := os.Getenv("SURVEIL_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if lvl := os.Getenv("SURVEIL_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Venue.GammaBaseURL == "" {
		return fmt.Errorf("venue.gamma_base_url is required")
	}
	if c.Venue.RateLimitPerMin <= 0 {
		return fmt.Errorf("venue.rate_limit_per_min must be > 0")
	}
	if c.Discovery.RefreshInterval < 5*time.Second || c.Discovery.RefreshInterval > 300*time.Second {
		return fmt.Errorf("discovery.refresh_interval must be between 5s and 300s")
	}
	if c.Discovery.MaxEvents <= 0 {
		return fmt.Errorf("discovery.max_events must be > 0")
	}
	if c.Microstructure.RingBufferSize <= 0 {
		return fmt.Errorf("microstructure.ring_buffer_size must be > 0")
	}
	if c.Microstructure.MinSampleSize <= 0 {
		return fmt.Errorf("microstructure.min_sample_size must be > 0")
	}
	if c.Microstructure.EWMAAlpha <= 0 || c.Microstructure.EWMAAlpha >= 1 {
		return fmt.Errorf("microstructure.ewma_alpha must be in (0,1)")
	}
	if c.Correlation.MinCorrelation <= 0 || c.Correlation.MinCorrelation > 1 {
		return fmt.Errorf("correlation.min_correlation must be in (0,1]")
	}
	if c.Notifier.DiscordRateLimit <= 0 {
		return fmt.Errorf("notifier.discord_rate_limit must be > 0")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	return nil
}

// Default returns a Config populated with documented defaults, suitable as a
// starting point before applying file/env overrides.
func Default() Config {
	return Config{
		Venue: VenueConfig{
			GammaBaseURL:    "https://gamma-api.polymarket.com",
			CLOBBaseURL:     "https://clob.polymarket.com",
			WSMarketURL:     "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			RequestTimeout:  15 * time.Second,
			RateLimitPerMin: 100,
			MaxBackoff:      30 * time.Second,
		},
		Discovery: DiscoveryConfig{
			RefreshInterval:    30 * time.Second,
			PageSize:           1000,
			MaxEvents:          5000,
			MinVolumeThreshold: 1000,
			MaxMarketsToTrack:  500,
			RetentionWindow:    7 * 24 * time.Hour,
			CategoryVolumeFloors: map[string]float64{
				"earnings": 2000,
				"politics": 8000,
				"fed":      5000,
			},
		},
		Ingest: IngestConfig{
			HandshakeTimeout:          10 * time.Second,
			HeartbeatInterval:         10 * time.Second,
			ReconnectInterval:         time.Second,
			MaxReconnectAttempts:      10,
			BatchSize:                 50,
			BatchTimeout:              200 * time.Millisecond,
			UnknownAssetRateThreshold: 0.05,
			SubscriptionCapProbe:      1000,
		},
		Microstructure: MicrostructureConfig{
			RingBufferSize:              1000,
			MinSampleSize:               10,
			EWMAAlpha:                   0.1,
			MicroPriceSlopeWindow:       20,
			DepthLevels:                 5,
			OrderbookImbalanceThreshold: 0.15,
			SpreadAnomalyMultiplier:     2.0,
			DepthDropThresholdPct:       20,
			AggressiveFlowWindow:        20,
			AggressiveZThreshold:        2.0,
			FrontRunWindow:              60 * time.Second,
			VolumeSpikeMultiplier:       3.0,
			PriceMovementThresholdPct:   1.5,
			TickBufferSize:              500,
		},
		Correlation: CorrelationConfig{
			MinCorrelation:              0.6,
			Windows:                     []time.Duration{time.Hour, 4 * time.Hour, 8 * time.Hour},
			MinMarketsForSignal:         2,
			VolumeConfirmationThreshold: 1.5,
			MinPriceChangePercent:       2.0,
			BaselineWindow:              24 * time.Hour,
			PreFilterCap:                50,
			TickInterval:                30 * time.Second,
			CategoryBaselines: map[string]float64{
				"politics": 0.3,
				"fed":      0.4,
				"crypto":   0.5,
			},
		},
		Perf: PerfConfig{
			WorkerPoolSize:   4,
			QueueCapacity:    1000,
			PollInterval:     30 * time.Second,
			MaxKellyFraction: 0.25,
		},
		Notifier: NotifierConfig{
			DiscordRateLimit:  10,
			PerMarketCooldown: 60 * time.Second,
			DedupWindow:       60 * time.Second,
			WebhookTimeout:    5 * time.Second,
			CriticalThreshold: 0.9,
			HighThreshold:     0.75,
			MediumThreshold:   0.55,
			LowThreshold:      0.35,
		},
		Storage: StorageConfig{
			Path: "./data/surveil.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    8090,
		},
	}
}
