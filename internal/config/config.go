package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"amm-quote-engine/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Venue     VenueConfig     `mapstructure:"venue"`
	Pair      PairConfig      `mapstructure:"pair"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the snapshot refresh cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EthereumConfig covers the primary oracle's on-chain access.
type EthereumConfig struct {
	RPCURL            string        `mapstructure:"rpc_url"`
	AggregatorAddress string        `mapstructure:"aggregator_address"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// VenueConfig captures the secondary market venue.
type VenueConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Symbol         string        `mapstructure:"symbol"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// PairConfig describes the two asset legs and the starting inventory.
type PairConfig struct {
	BaseSymbol    string  `mapstructure:"base_symbol"`
	BaseDecimals  int32   `mapstructure:"base_decimals"`
	QuoteSymbol   string  `mapstructure:"quote_symbol"`
	QuoteDecimals int32   `mapstructure:"quote_decimals"`
	BaseReserves  float64 `mapstructure:"base_reserves"`
	QuoteReserves float64 `mapstructure:"quote_reserves"`
	TargetBase    float64 `mapstructure:"target_base"`
}

// EngineConfig groups the raw pricing and risk parameters. Each group is
// validated by its package's constructor; this layer only carries values.
type EngineConfig struct {
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Divergence DivergenceConfig `mapstructure:"divergence"`
	Fees       FeesConfig       `mapstructure:"fees"`
	Inventory  InventoryConfig  `mapstructure:"inventory"`
	Recenter   RecenterConfig   `mapstructure:"recenter"`
	Maker      MakerConfig      `mapstructure:"maker"`
	Aomq       AomqConfig       `mapstructure:"aomq"`
}

// OracleConfig holds raw oracle fusion parameters.
type OracleConfig struct {
	MaxAgeSec           int64   `mapstructure:"max_age_sec"`
	SecondaryMaxAgeSec  int64   `mapstructure:"secondary_max_age_sec"`
	EMAFallbackEnabled  bool    `mapstructure:"ema_fallback_enabled"`
	EMALambda           float64 `mapstructure:"ema_lambda"`
	SigmaLambda         float64 `mapstructure:"sigma_lambda"`
	ConfWeightSpread    float64 `mapstructure:"conf_weight_spread"`
	ConfWeightSigma     float64 `mapstructure:"conf_weight_sigma"`
	ConfWeightSecondary float64 `mapstructure:"conf_weight_secondary"`
	ConfCapSpreadBps    float64 `mapstructure:"conf_cap_spread_bps"`
	ConfCapSigmaBps     float64 `mapstructure:"conf_cap_sigma_bps"`
	ConfCapSecondaryBps float64 `mapstructure:"conf_cap_secondary_bps"`
	ConfStrictCapBps    float64 `mapstructure:"conf_strict_cap_bps"`
}

// DivergenceConfig holds raw divergence band parameters.
type DivergenceConfig struct {
	AcceptBps       float64 `mapstructure:"accept_bps"`
	SoftBps         float64 `mapstructure:"soft_bps"`
	HardBps         float64 `mapstructure:"hard_bps"`
	HaircutMinBps   float64 `mapstructure:"haircut_min_bps"`
	HaircutSlopeBps float64 `mapstructure:"haircut_slope_bps"`
	HealthyStreak   uint8   `mapstructure:"healthy_streak"`
}

// FeesConfig holds raw fee curve parameters.
type FeesConfig struct {
	BaseBps          float64 `mapstructure:"base_bps"`
	CapBps           float64 `mapstructure:"cap_bps"`
	AlphaConfNum     int64   `mapstructure:"alpha_conf_num"`
	AlphaConfDen     int64   `mapstructure:"alpha_conf_den"`
	BetaInvNum       int64   `mapstructure:"beta_inv_num"`
	BetaInvDen       int64   `mapstructure:"beta_inv_den"`
	GammaSizeLinBps  float64 `mapstructure:"gamma_size_lin_bps"`
	GammaSizeQuadBps float64 `mapstructure:"gamma_size_quad_bps"`
	SizeFeeCapBps    float64 `mapstructure:"size_fee_cap_bps"`
	S0Notional       float64 `mapstructure:"s0_notional"`
	LvrKappa         float64 `mapstructure:"lvr_kappa"`
	LvrCapBps        float64 `mapstructure:"lvr_cap_bps"`
	QuoteTTLSec      int64   `mapstructure:"quote_ttl_sec"`
	TiltGamma        float64 `mapstructure:"tilt_gamma"`
	TiltCapBps       float64 `mapstructure:"tilt_cap_bps"`
	AlphaBbo         float64 `mapstructure:"alpha_bbo"`
	FloorAbsBps      float64 `mapstructure:"floor_abs_bps"`
	RebateMaxBps     float64 `mapstructure:"rebate_max_bps"`
	DecayPctPerBlock float64 `mapstructure:"decay_pct_per_block"`
}

// InventoryConfig holds raw inventory parameters.
type InventoryConfig struct {
	FloorBps float64 `mapstructure:"floor_bps"`
}

// RecenterConfig holds raw recenter gate parameters.
type RecenterConfig struct {
	ThresholdPct float64       `mapstructure:"threshold_pct"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	RearmStreak  uint8         `mapstructure:"rearm_streak"`
}

// MakerConfig holds raw preview snapshot parameters.
type MakerConfig struct {
	SnapshotMaxAge  time.Duration `mapstructure:"snapshot_max_age"`
	RefreshCooldown time.Duration `mapstructure:"refresh_cooldown"`
	StalenessReject bool          `mapstructure:"staleness_reject"`
	LadderLevels    int           `mapstructure:"ladder_levels"`
}

// AomqConfig holds raw emergency quoting parameters.
type AomqConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	EmergencySpreadBps float64 `mapstructure:"emergency_spread_bps"`
	MinQuoteNotional   float64 `mapstructure:"min_quote_notional"`
	FloorEpsilonBps    float64 `mapstructure:"floor_epsilon_bps"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AMMQUOTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ammquoter")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x616d6d71))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("venue.request_timeout", "10s")
	v.SetDefault("venue.user_agent", "ammquoter/1.0")

	v.SetDefault("pair.base_symbol", "SOL")
	v.SetDefault("pair.base_decimals", 9)
	v.SetDefault("pair.quote_symbol", "USDC")
	v.SetDefault("pair.quote_decimals", 6)

	v.SetDefault("engine.oracle.max_age_sec", int64(60))
	v.SetDefault("engine.oracle.secondary_max_age_sec", int64(60))
	v.SetDefault("engine.oracle.ema_fallback_enabled", true)
	v.SetDefault("engine.oracle.ema_lambda", 0.9)
	v.SetDefault("engine.oracle.sigma_lambda", 0.9)
	v.SetDefault("engine.oracle.conf_weight_spread", 0.5)
	v.SetDefault("engine.oracle.conf_weight_sigma", 0.5)
	v.SetDefault("engine.oracle.conf_weight_secondary", 1.0)
	v.SetDefault("engine.oracle.conf_cap_spread_bps", 50.0)
	v.SetDefault("engine.oracle.conf_cap_sigma_bps", 50.0)
	v.SetDefault("engine.oracle.conf_cap_secondary_bps", 50.0)
	v.SetDefault("engine.oracle.conf_strict_cap_bps", 100.0)

	v.SetDefault("engine.divergence.accept_bps", 30.0)
	v.SetDefault("engine.divergence.soft_bps", 50.0)
	v.SetDefault("engine.divergence.hard_bps", 75.0)
	v.SetDefault("engine.divergence.haircut_min_bps", 5.0)
	v.SetDefault("engine.divergence.haircut_slope_bps", 2.0)
	v.SetDefault("engine.divergence.healthy_streak", 3)

	v.SetDefault("engine.fees.base_bps", 15.0)
	v.SetDefault("engine.fees.cap_bps", 150.0)
	v.SetDefault("engine.fees.alpha_conf_num", int64(6))
	v.SetDefault("engine.fees.alpha_conf_den", int64(10))
	v.SetDefault("engine.fees.beta_inv_num", int64(1))
	v.SetDefault("engine.fees.beta_inv_den", int64(50))
	v.SetDefault("engine.fees.gamma_size_lin_bps", 2.0)
	v.SetDefault("engine.fees.gamma_size_quad_bps", 1.0)
	v.SetDefault("engine.fees.size_fee_cap_bps", 40.0)
	v.SetDefault("engine.fees.s0_notional", 10000.0)
	v.SetDefault("engine.fees.lvr_kappa", 0.8)
	v.SetDefault("engine.fees.lvr_cap_bps", 30.0)
	v.SetDefault("engine.fees.quote_ttl_sec", int64(2))
	v.SetDefault("engine.fees.tilt_gamma", 0.1)
	v.SetDefault("engine.fees.tilt_cap_bps", 10.0)
	v.SetDefault("engine.fees.alpha_bbo", 0.25)
	v.SetDefault("engine.fees.floor_abs_bps", 5.0)
	v.SetDefault("engine.fees.rebate_max_bps", 5.0)
	v.SetDefault("engine.fees.decay_pct_per_block", 20.0)

	v.SetDefault("engine.inventory.floor_bps", 100.0)

	v.SetDefault("engine.recenter.threshold_pct", 2.5)
	v.SetDefault("engine.recenter.cooldown", "10m")
	v.SetDefault("engine.recenter.rearm_streak", 3)

	v.SetDefault("engine.maker.snapshot_max_age", "30s")
	v.SetDefault("engine.maker.refresh_cooldown", "5s")
	v.SetDefault("engine.maker.staleness_reject", true)
	v.SetDefault("engine.maker.ladder_levels", 4)

	v.SetDefault("engine.aomq.enabled", true)
	v.SetDefault("engine.aomq.emergency_spread_bps", 80.0)
	v.SetDefault("engine.aomq.min_quote_notional", 100.0)
	v.SetDefault("engine.aomq.floor_epsilon_bps", 50.0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values. Engine
// parameter groups get their full validation in the package constructors.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Pair.BaseReserves < 0 || c.Pair.QuoteReserves < 0 {
		return fmt.Errorf("pair reserves cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
