package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/xtrntr/gridledger/internal/grid"
	"github.com/xtrntr/gridledger/internal/models"
	"github.com/xtrntr/gridledger/internal/outbox"
	"github.com/xtrntr/gridledger/internal/pricing"
	"github.com/xtrntr/gridledger/internal/settlement"
)

const envPrefix = "GRIDLEDGER"

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Market     MarketConfig     `mapstructure:"market"`
	Grid       GridConfig       `mapstructure:"grid"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	GridOperatorKey   string        `mapstructure:"grid_operator_key"`
	RegulatorKey      string        `mapstructure:"regulator_key"`
	OverrideRetention time.Duration `mapstructure:"override_retention"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

type JournalConfig struct {
	Dir string `mapstructure:"dir"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type MarketConfig struct {
	// Zones maps each zone to its distance in km from the reference node
	Zones        map[string]float64 `mapstructure:"zones"`
	WindowLength time.Duration      `mapstructure:"window_length"`
	OrderCeiling string             `mapstructure:"order_ceiling"`
	TickInterval time.Duration      `mapstructure:"tick_interval"`
	Continuous   bool               `mapstructure:"continuous"`
	PartialRetry bool               `mapstructure:"partial_retry"`
	FlushBatch   int                `mapstructure:"flush_batch"`
}

type GridConfig struct {
	Tolerance               string        `mapstructure:"tolerance"`
	MeteringPlaces          int32         `mapstructure:"metering_places"`
	MaxSnapshotAge          time.Duration `mapstructure:"max_snapshot_age"`
	LossRatePerKm           float64       `mapstructure:"loss_rate_per_km"`
	MaxLossFraction         float64       `mapstructure:"max_loss_fraction"`
	NominalFrequencyHz      float64       `mapstructure:"nominal_frequency_hz"`
	MaxFrequencyDeviationHz float64       `mapstructure:"max_frequency_deviation_hz"`
}

type PricingConfig struct {
	BasePrice         string  `mapstructure:"base_price"`
	MinPrice          string  `mapstructure:"min_price"`
	MaxPrice          string  `mapstructure:"max_price"`
	PeakStartHour     int     `mapstructure:"peak_start_hour"`
	PeakEndHour       int     `mapstructure:"peak_end_hour"`
	PeakMultiplier    string  `mapstructure:"peak_multiplier"`
	OffPeakMultiplier string  `mapstructure:"off_peak_multiplier"`
	CongestionFactor  string  `mapstructure:"congestion_factor"`
	RenewableDiscount string  `mapstructure:"renewable_discount"`
	EmergencyFloor    string  `mapstructure:"emergency_floor"`
	EmergencyCeiling  string  `mapstructure:"emergency_ceiling"`
	BalancePrice      float64 `mapstructure:"balance_price"`
	Contribution      float64 `mapstructure:"contribution"`
	Steepness         float64 `mapstructure:"steepness"`
	MinRatio          float64 `mapstructure:"min_ratio"`
	Floor             float64 `mapstructure:"floor"`
}

type SettlementConfig struct {
	FeeRate           string `mapstructure:"fee_rate"`
	FeeAccount        int64  `mapstructure:"fee_account"`
	CertificatePrefix string `mapstructure:"certificate_prefix"`
}

type BreakerConfig struct {
	MaxRequests uint32        `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxFailures uint32        `mapstructure:"max_failures"`
}

type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.grid_operator_key", "")
	v.SetDefault("auth.regulator_key", "")
	v.SetDefault("auth.override_retention", 10*time.Minute)

	v.SetDefault("database.url", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "gridledger")
	v.SetDefault("journal.dir", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 72*time.Hour)

	v.SetDefault("market.window_length", 15*time.Minute)
	v.SetDefault("market.order_ceiling", "10000")
	v.SetDefault("market.tick_interval", time.Second)
	v.SetDefault("market.continuous", false)
	v.SetDefault("market.partial_retry", false)
	v.SetDefault("market.flush_batch", 256)

	v.SetDefault("grid.tolerance", "0.01")
	v.SetDefault("grid.metering_places", 6)
	v.SetDefault("grid.max_snapshot_age", 2*time.Minute)
	v.SetDefault("grid.loss_rate_per_km", 0.0005)
	v.SetDefault("grid.max_loss_fraction", 0.1)
	v.SetDefault("grid.nominal_frequency_hz", 50.0)
	v.SetDefault("grid.max_frequency_deviation_hz", 0.2)

	p := pricing.DefaultConfig()
	v.SetDefault("pricing.base_price", p.BasePrice.String())
	v.SetDefault("pricing.min_price", p.MinPrice.String())
	v.SetDefault("pricing.max_price", p.MaxPrice.String())
	v.SetDefault("pricing.peak_start_hour", p.PeakStartHour)
	v.SetDefault("pricing.peak_end_hour", p.PeakEndHour)
	v.SetDefault("pricing.peak_multiplier", p.PeakMultiplier.String())
	v.SetDefault("pricing.off_peak_multiplier", p.OffPeakMultiplier.String())
	v.SetDefault("pricing.congestion_factor", p.CongestionFactor.String())
	v.SetDefault("pricing.renewable_discount", p.RenewableDiscount.String())
	v.SetDefault("pricing.emergency_floor", p.EmergencyFloor.String())
	v.SetDefault("pricing.emergency_ceiling", p.EmergencyCeiling.String())
	v.SetDefault("pricing.balance_price", p.Indicative.BalancePrice)
	v.SetDefault("pricing.contribution", p.Indicative.Contribution)
	v.SetDefault("pricing.steepness", p.Indicative.Steepness)
	v.SetDefault("pricing.min_ratio", p.Indicative.MinRatio)
	v.SetDefault("pricing.floor", p.Indicative.Floor)

	v.SetDefault("settlement.fee_rate", "0.001")
	v.SetDefault("settlement.fee_account", 0)
	v.SetDefault("settlement.certificate_prefix", "REC")

	v.SetDefault("breaker.max_requests", 3)
	v.SetDefault("breaker.interval", 10*time.Second)
	v.SetDefault("breaker.timeout", 5*time.Second)
	v.SetDefault("breaker.max_failures", 5)

	v.SetDefault("ratelimit.per_second", 20.0)
	v.SetDefault("ratelimit.burst", 40)
}

// Load reads .env (if present), then the optional config file at path,
// then GRIDLEDGER_* environment variables, later sources winning.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// Nested map defaults would merge with the file's zones, so apply it here
	if len(cfg.Market.Zones) == 0 {
		cfg.Market.Zones = map[string]float64{"north": 10, "south": 25, "east": 40, "west": 15}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks what the exchange cannot start without
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Market.Zones) == 0 {
		return fmt.Errorf("market.zones must name at least one zone")
	}
	if c.Market.WindowLength <= 0 {
		return fmt.Errorf("market.window_length must be positive")
	}
	if _, err := c.PricingConfig(); err != nil {
		return err
	}
	if _, err := c.GridConfig(); err != nil {
		return err
	}
	if _, err := c.SettlementConfig(); err != nil {
		return err
	}
	if _, err := c.OrderCeiling(); err != nil {
		return err
	}
	return nil
}

// ZoneNames lists the configured zones
func (c *Config) ZoneNames() []models.Zone {
	out := make([]models.Zone, 0, len(c.Market.Zones))
	for z := range c.Market.Zones {
		out = append(out, models.Zone(z))
	}
	return out
}

// Distances returns the zone distances keyed by zone
func (c *Config) Distances() map[models.Zone]float64 {
	out := make(map[models.Zone]float64, len(c.Market.Zones))
	for z, km := range c.Market.Zones {
		out[models.Zone(z)] = km
	}
	return out
}

func (c *Config) OrderCeiling() (decimal.Decimal, error) {
	return parse("market.order_ceiling", c.Market.OrderCeiling)
}

func (c *Config) GridConfig() (grid.Config, error) {
	tol, err := parse("grid.tolerance", c.Grid.Tolerance)
	if err != nil {
		return grid.Config{}, err
	}
	return grid.Config{
		Tolerance:               tol,
		MeteringPlaces:          c.Grid.MeteringPlaces,
		MaxSnapshotAge:          c.Grid.MaxSnapshotAge,
		NominalFrequencyHz:      c.Grid.NominalFrequencyHz,
		MaxFrequencyDeviationHz: c.Grid.MaxFrequencyDeviationHz,
	}, nil
}

func (c *Config) PricingConfig() (pricing.Config, error) {
	p := c.Pricing
	out := pricing.Config{
		PeakStartHour: p.PeakStartHour,
		PeakEndHour:   p.PeakEndHour,
		Indicative: pricing.IndicativeConfig{
			BalancePrice: p.BalancePrice,
			Contribution: p.Contribution,
			Steepness:    p.Steepness,
			MinRatio:     p.MinRatio,
			Floor:        p.Floor,
		},
	}
	for _, f := range []struct {
		key string
		src string
		dst *decimal.Decimal
	}{
		{"pricing.base_price", p.BasePrice, &out.BasePrice},
		{"pricing.min_price", p.MinPrice, &out.MinPrice},
		{"pricing.max_price", p.MaxPrice, &out.MaxPrice},
		{"pricing.peak_multiplier", p.PeakMultiplier, &out.PeakMultiplier},
		{"pricing.off_peak_multiplier", p.OffPeakMultiplier, &out.OffPeakMultiplier},
		{"pricing.congestion_factor", p.CongestionFactor, &out.CongestionFactor},
		{"pricing.renewable_discount", p.RenewableDiscount, &out.RenewableDiscount},
		{"pricing.emergency_floor", p.EmergencyFloor, &out.EmergencyFloor},
		{"pricing.emergency_ceiling", p.EmergencyCeiling, &out.EmergencyCeiling},
	} {
		d, err := parse(f.key, f.src)
		if err != nil {
			return pricing.Config{}, err
		}
		*f.dst = d
	}
	if err := out.Validate(); err != nil {
		return pricing.Config{}, fmt.Errorf("pricing: %w", err)
	}
	return out, nil
}

func (c *Config) SettlementConfig() (settlement.Config, error) {
	rate, err := parse("settlement.fee_rate", c.Settlement.FeeRate)
	if err != nil {
		return settlement.Config{}, err
	}
	return settlement.Config{
		FeeRate:           rate,
		FeeAccount:        models.ParticipantID(c.Settlement.FeeAccount),
		CertificatePrefix: c.Settlement.CertificatePrefix,
	}, nil
}

func (c *Config) BreakerConfig() outbox.BreakerConfig {
	return outbox.BreakerConfig{
		MaxRequests: c.Breaker.MaxRequests,
		Interval:    c.Breaker.Interval,
		Timeout:     c.Breaker.Timeout,
		MaxFailures: c.Breaker.MaxFailures,
	}
}

func parse(key, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not a decimal", key, value)
	}
	return d, nil
}
