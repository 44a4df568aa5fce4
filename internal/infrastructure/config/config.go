package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the risk engine.
type Config struct {
	Environment string            `mapstructure:"environment"`
	LogLevel    string            `mapstructure:"log_level"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Alerts      AlertConfig       `mapstructure:"alerts"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// RiskConfig carries every scoring threshold and detector window. All
// monetary values are minor units (cents). Missing or inconsistent values
// fail at startup, never per request.
type RiskConfig struct {
	AutoBlockScore    float64 `mapstructure:"auto_block_score"`
	ManualReviewScore float64 `mapstructure:"manual_review_score"`

	HighAmountCents           int64 `mapstructure:"high_amount_cents"`
	CriticalAmountCents       int64 `mapstructure:"critical_amount_cents"`
	RoundAmountToleranceCents int64 `mapstructure:"round_amount_tolerance_cents"`

	HistoryWindowHours int `mapstructure:"history_window_hours"`

	Velocity     VelocityDefaults   `mapstructure:"velocity"`
	Structuring  StructuringConfig  `mapstructure:"structuring"`
	BackAndForth BackAndForthConfig `mapstructure:"back_and_forth"`
	Rapid        RapidConfig        `mapstructure:"rapid"`
	Graph        GraphConfig        `mapstructure:"graph"`
	Profile      ProfileConfig      `mapstructure:"profile"`
	Blocklist    BlocklistConfig    `mapstructure:"blocklist"`
}

type VelocityDefaults struct {
	AmountLimitCents int64 `mapstructure:"amount_limit_cents"`
	TransactionLimit int   `mapstructure:"transaction_limit"`
	WindowMinutes    int   `mapstructure:"window_minutes"`
}

type StructuringConfig struct {
	WindowHours         int     `mapstructure:"window_hours"`
	MinCount            int     `mapstructure:"min_count"`
	TotalThresholdCents int64   `mapstructure:"total_threshold_cents"`
	MeanCeilingCents    int64   `mapstructure:"mean_ceiling_cents"`
	DeviationRatio      float64 `mapstructure:"deviation_ratio"`
}

type BackAndForthConfig struct {
	WindowHours int `mapstructure:"window_hours"`
	Threshold   int `mapstructure:"threshold"`
}

type RapidConfig struct {
	WindowMinutes int `mapstructure:"window_minutes"`
	Threshold     int `mapstructure:"threshold"`
}

type GraphConfig struct {
	WindowHours int `mapstructure:"window_hours"`
	Depth       int `mapstructure:"depth"`
	MaxUsers    int `mapstructure:"max_users"`
}

type ProfileConfig struct {
	ActivityWindowDays  int     `mapstructure:"activity_window_days"`
	ActivityWeight      float64 `mapstructure:"activity_weight"`
	DailyTransactionCap int     `mapstructure:"daily_transaction_cap"`
	DailyUsageRatio     float64 `mapstructure:"daily_usage_ratio"`
	DailyUsageSurcharge float64 `mapstructure:"daily_usage_surcharge"`
	YoungAccountDays    int     `mapstructure:"young_account_days"`
	YoungAccountSurcharge float64 `mapstructure:"young_account_surcharge"`
	NewAccountDays      int     `mapstructure:"new_account_days"`
	NewAccountSurcharge float64 `mapstructure:"new_account_surcharge"`
}

type BlocklistConfig struct {
	RedisKey  string   `mapstructure:"redis_key"`
	StaticIPs []string `mapstructure:"static_ips"`
}

type AlertConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	FromEmail      string  `mapstructure:"from_email"`
	FromName       string  `mapstructure:"from_name"`
	RecipientEmail string  `mapstructure:"recipient_email"`
	Environment    string  `mapstructure:"environment"`
	ScoreThreshold float64 `mapstructure:"score_threshold"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

type MaintenanceConfig struct {
	BlocklistReloadCron  string `mapstructure:"blocklist_reload_cron"`
	ActivitySweepCron    string `mapstructure:"activity_sweep_cron"`
	EscalateAfterHours   int    `mapstructure:"escalate_after_hours"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 300)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "risk_engine")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 300)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("jwt.issuer", "risk_engine")

	// Decision thresholds
	viper.SetDefault("risk.auto_block_score", 80.0)
	viper.SetDefault("risk.manual_review_score", 60.0)
	viper.SetDefault("risk.high_amount_cents", 500_000)      // $5,000
	viper.SetDefault("risk.critical_amount_cents", 1_000_000) // $10,000
	viper.SetDefault("risk.round_amount_tolerance_cents", 1)
	viper.SetDefault("risk.history_window_hours", 24)

	// Velocity defaults applied on lazy limit creation
	viper.SetDefault("risk.velocity.amount_limit_cents", 1_000_000)
	viper.SetDefault("risk.velocity.transaction_limit", 50)
	viper.SetDefault("risk.velocity.window_minutes", 1440)

	// Structuring detector
	viper.SetDefault("risk.structuring.window_hours", 24)
	viper.SetDefault("risk.structuring.min_count", 3)
	viper.SetDefault("risk.structuring.total_threshold_cents", 100_000) // $1,000
	viper.SetDefault("risk.structuring.mean_ceiling_cents", 100_000)
	viper.SetDefault("risk.structuring.deviation_ratio", 0.1)

	// Back-and-forth detector
	viper.SetDefault("risk.back_and_forth.window_hours", 24)
	viper.SetDefault("risk.back_and_forth.threshold", 3)

	// Rapid-transaction detector
	viper.SetDefault("risk.rapid.window_minutes", 10)
	viper.SetDefault("risk.rapid.threshold", 5)

	// Transaction graph
	viper.SetDefault("risk.graph.window_hours", 168)
	viper.SetDefault("risk.graph.depth", 2)
	viper.SetDefault("risk.graph.max_users", 500)

	// Long-term user profile
	viper.SetDefault("risk.profile.activity_window_days", 30)
	viper.SetDefault("risk.profile.activity_weight", 0.3)
	viper.SetDefault("risk.profile.daily_transaction_cap", 100)
	viper.SetDefault("risk.profile.daily_usage_ratio", 0.8)
	viper.SetDefault("risk.profile.daily_usage_surcharge", 20.0)
	viper.SetDefault("risk.profile.young_account_days", 30)
	viper.SetDefault("risk.profile.young_account_surcharge", 15.0)
	viper.SetDefault("risk.profile.new_account_days", 90)
	viper.SetDefault("risk.profile.new_account_surcharge", 5.0)

	viper.SetDefault("risk.blocklist.redis_key", "risk:ip_blocklist")

	viper.SetDefault("alerts.score_threshold", 60.0)
	viper.SetDefault("alerts.from_name", "Risk Engine")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4317")

	viper.SetDefault("maintenance.blocklist_reload_cron", "@every 5m")
	viper.SetDefault("maintenance.activity_sweep_cron", "@hourly")
	viper.SetDefault("maintenance.escalate_after_hours", 72)
}

// validate rejects configurations that would make per-request behavior
// undefined. Threshold problems surface here, at startup.
func validate(config *Config) error {
	r := &config.Risk

	if r.AutoBlockScore <= 0 || r.ManualReviewScore <= 0 {
		return fmt.Errorf("risk decision thresholds must be positive")
	}
	if r.ManualReviewScore >= r.AutoBlockScore {
		return fmt.Errorf("manual_review_score (%.1f) must be below auto_block_score (%.1f)",
			r.ManualReviewScore, r.AutoBlockScore)
	}
	if r.HighAmountCents <= 0 || r.CriticalAmountCents <= 0 {
		return fmt.Errorf("amount thresholds must be positive")
	}
	if r.HighAmountCents >= r.CriticalAmountCents {
		return fmt.Errorf("high_amount_cents must be below critical_amount_cents")
	}
	if r.Structuring.MinCount < 2 {
		return fmt.Errorf("structuring.min_count must be at least 2")
	}
	if r.Structuring.DeviationRatio <= 0 || r.Structuring.DeviationRatio >= 1 {
		return fmt.Errorf("structuring.deviation_ratio must be in (0, 1)")
	}
	if r.BackAndForth.Threshold < 1 || r.Rapid.Threshold < 1 {
		return fmt.Errorf("detector thresholds must be at least 1")
	}
	if r.Graph.Depth < 1 {
		return fmt.Errorf("graph.depth must be at least 1")
	}
	if r.Profile.DailyTransactionCap < 1 {
		return fmt.Errorf("profile.daily_transaction_cap must be at least 1")
	}
	if r.Velocity.AmountLimitCents <= 0 || r.Velocity.TransactionLimit <= 0 || r.Velocity.WindowMinutes <= 0 {
		return fmt.Errorf("velocity defaults must be positive")
	}
	if config.Environment == "production" && config.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required in production")
	}
	return nil
}

// StructuringWindow returns the structuring detector window as a duration.
func (r *RiskConfig) StructuringWindow() time.Duration {
	return time.Duration(r.Structuring.WindowHours) * time.Hour
}

// BackAndForthWindow returns the reciprocal-payment window as a duration.
func (r *RiskConfig) BackAndForthWindow() time.Duration {
	return time.Duration(r.BackAndForth.WindowHours) * time.Hour
}

// RapidWindow returns the rapid-transaction window as a duration.
func (r *RiskConfig) RapidWindow() time.Duration {
	return time.Duration(r.Rapid.WindowMinutes) * time.Minute
}

// GraphWindow returns the graph edge window as a duration.
func (r *RiskConfig) GraphWindow() time.Duration {
	return time.Duration(r.Graph.WindowHours) * time.Hour
}

// HistoryWindow returns the evaluation snapshot window as a duration.
func (r *RiskConfig) HistoryWindow() time.Duration {
	return time.Duration(r.HistoryWindowHours) * time.Hour
}
