package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trade_sim/internal/domain"
	"trade_sim/internal/engine"
)

// VolumeDiscount is one row of the fee volume table.
type VolumeDiscount struct {
	Threshold decimal.Decimal `yaml:"threshold"`
	Discount  decimal.Decimal `yaml:"discount"`
}

// Config는 애플리케이션의 모든 설정을 담습니다.
// DefaultConfig 위에 YAML을 덮어쓰고, 이후 환경 변수로 다시 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		WSURL               string `yaml:"ws_url"`
		Exchange            string `yaml:"exchange"`
		Symbol              string `yaml:"symbol"`
		ReconnectDelayMS    int    `yaml:"reconnect_delay_ms"`
		MaxReconnectDelayMS int    `yaml:"max_reconnect_delay_ms"` // 0 = fixed delay
		ReadTimeoutMS       int    `yaml:"read_timeout_ms"`
		HandshakeTimeoutMS  int    `yaml:"handshake_timeout_ms"`
		HistorySize         int    `yaml:"history_size"`
		LatencyWindow       int    `yaml:"latency_window"`
	} `yaml:"feed"`

	Model struct {
		MakerFee         decimal.Decimal  `yaml:"maker_fee"`
		TakerFee         decimal.Decimal  `yaml:"taker_fee"`
		VolumeDiscounts  []VolumeDiscount `yaml:"volume_discounts"`
		TierDiscountStep decimal.Decimal  `yaml:"tier_discount_step"`
		MaxDiscount      decimal.Decimal  `yaml:"max_discount"`

		Slippage struct {
			Alpha            decimal.Decimal `yaml:"alpha"`
			Beta             decimal.Decimal `yaml:"beta"`
			DepthLevels      int             `yaml:"depth_levels"`
			LiquidityPenalty decimal.Decimal `yaml:"liquidity_penalty"`
		} `yaml:"slippage"`

		Impact struct {
			Gamma           decimal.Decimal `yaml:"gamma"`
			Eta             decimal.Decimal `yaml:"eta"`
			Alpha           decimal.Decimal `yaml:"alpha"`
			PermanentWeight decimal.Decimal `yaml:"permanent_weight"`
		} `yaml:"impact"`

		MakerTaker struct {
			K      decimal.Decimal `yaml:"k"`
			X0     decimal.Decimal `yaml:"x0"`
			Levels int             `yaml:"levels"`
		} `yaml:"maker_taker"`
	} `yaml:"model"`

	Simulation struct {
		Quantity   decimal.Decimal `yaml:"quantity"`
		FeeTier    int             `yaml:"fee_tier"`
		Volatility decimal.Decimal `yaml:"volatility"`
	} `yaml:"simulation"`

	UI struct {
		UpdateIntervalMS int `yaml:"update_interval_ms"`
	} `yaml:"ui"`

	Server struct {
		Addr      string `yaml:"addr"`
		PprofAddr string `yaml:"pprof_addr"`
	} `yaml:"server"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns a config that validates as-is.
func DefaultConfig() *Config {
	var cfg Config

	cfg.App.Name = "trade-sim"
	cfg.App.Version = "0.1.0"

	cfg.Feed.WSURL = "wss://ws.gomarket-cpp.goquant.io/ws/l2-orderbook/okx/BTC-USDT-SWAP"
	cfg.Feed.Exchange = "OKX"
	cfg.Feed.Symbol = "BTC-USDT-SWAP"
	cfg.Feed.ReconnectDelayMS = 5000
	cfg.Feed.ReadTimeoutMS = 30000
	cfg.Feed.HandshakeTimeoutMS = 10000
	cfg.Feed.HistorySize = engine.DefaultHistorySize
	cfg.Feed.LatencyWindow = 100

	p := engine.DefaultModelParams()
	cfg.Model.MakerFee = decimal.NewFromFloat(p.MakerFee)
	cfg.Model.TakerFee = decimal.NewFromFloat(p.TakerFee)
	for _, t := range p.VolumeDiscounts {
		cfg.Model.VolumeDiscounts = append(cfg.Model.VolumeDiscounts, VolumeDiscount{
			Threshold: decimal.NewFromFloat(t.Threshold),
			Discount:  decimal.NewFromFloat(t.Discount),
		})
	}
	cfg.Model.TierDiscountStep = decimal.NewFromFloat(p.TierDiscountStep)
	cfg.Model.MaxDiscount = decimal.NewFromFloat(p.MaxDiscount)
	cfg.Model.Slippage.Alpha = decimal.NewFromFloat(p.SlippageAlpha)
	cfg.Model.Slippage.Beta = decimal.NewFromFloat(p.SlippageBeta)
	cfg.Model.Slippage.DepthLevels = p.DepthLevels
	cfg.Model.Slippage.LiquidityPenalty = decimal.NewFromFloat(p.LiquidityPenalty)
	cfg.Model.Impact.Gamma = decimal.NewFromFloat(p.ImpactGamma)
	cfg.Model.Impact.Eta = decimal.NewFromFloat(p.ImpactEta)
	cfg.Model.Impact.Alpha = decimal.NewFromFloat(p.ImpactAlpha)
	cfg.Model.Impact.PermanentWeight = decimal.NewFromFloat(p.PermanentWeight)
	cfg.Model.MakerTaker.K = decimal.NewFromFloat(p.MakerTakerK)
	cfg.Model.MakerTaker.X0 = decimal.NewFromFloat(p.MakerTakerX0)
	cfg.Model.MakerTaker.Levels = p.ImbalanceLevels

	cfg.Simulation.Quantity = decimal.NewFromInt(100)
	cfg.Simulation.FeeTier = 0
	cfg.Simulation.Volatility = decimal.RequireFromString("0.01")

	cfg.UI.UpdateIntervalMS = 500

	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.PprofAddr = "localhost:6060"

	cfg.Storage.Path = "data/trade_sim.db"

	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"

	return &cfg
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
// A missing file yields an error wrapping domain.ErrConfigNotFound.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// .env is optional
	_ = godotenv.Load()
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func configErr(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	// Feed
	if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return configErr("feed.ws_url", "must start with ws:// or wss://, got %q", c.Feed.WSURL)
	}
	if c.Feed.ReconnectDelayMS <= 0 {
		return configErr("feed.reconnect_delay_ms", "must be positive")
	}
	if c.Feed.MaxReconnectDelayMS < 0 {
		return configErr("feed.max_reconnect_delay_ms", "must not be negative")
	}
	if c.Feed.ReadTimeoutMS < 0 || c.Feed.HandshakeTimeoutMS < 0 {
		return configErr("feed.read_timeout_ms", "timeouts must not be negative")
	}
	if c.Feed.HistorySize < 0 {
		return configErr("feed.history_size", "must not be negative")
	}
	if c.Feed.LatencyWindow <= 0 {
		return configErr("feed.latency_window", "must be positive")
	}

	// Model
	if c.Model.MakerFee.IsNegative() || c.Model.TakerFee.IsNegative() {
		return configErr("model.maker_fee", "fees must not be negative")
	}
	one := decimal.NewFromInt(1)
	if c.Model.MaxDiscount.IsNegative() || c.Model.MaxDiscount.GreaterThan(one) {
		return configErr("model.max_discount", "must be within [0, 1]")
	}
	if c.Model.TierDiscountStep.IsNegative() {
		return configErr("model.tier_discount_step", "must not be negative")
	}
	for i, row := range c.Model.VolumeDiscounts {
		if row.Discount.IsNegative() || row.Discount.GreaterThan(one) {
			return configErr(fmt.Sprintf("model.volume_discounts[%d]", i), "discount must be within [0, 1]")
		}
		// A larger order must never earn a smaller discount.
		for _, other := range c.Model.VolumeDiscounts {
			if other.Threshold.GreaterThan(row.Threshold) && other.Discount.LessThan(row.Discount) {
				return configErr(fmt.Sprintf("model.volume_discounts[%d]", i),
					"discount %s at %s exceeds %s at higher threshold %s",
					row.Discount, row.Threshold, other.Discount, other.Threshold)
			}
		}
	}
	if c.Model.Slippage.DepthLevels <= 0 {
		return configErr("model.slippage.depth_levels", "must be positive")
	}
	if c.Model.Slippage.LiquidityPenalty.IsNegative() {
		return configErr("model.slippage.liquidity_penalty", "must not be negative")
	}
	if c.Model.MakerTaker.Levels <= 0 {
		return configErr("model.maker_taker.levels", "must be positive")
	}

	// Simulation defaults must themselves be a valid request
	if err := c.DefaultRequest().Validate(); err != nil {
		return &domain.ConfigError{Field: "simulation", Err: err}
	}

	// UI
	if c.UI.UpdateIntervalMS <= 0 {
		return configErr("ui.update_interval_ms", "update interval must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return configErr("logging.level", "unknown level %q", c.Logging.Level)
	}

	return nil
}

// ModelParams converts the model section for the cost engine.
func (c *Config) ModelParams() engine.ModelParams {
	m := c.Model
	p := engine.ModelParams{
		MakerFee:         m.MakerFee.InexactFloat64(),
		TakerFee:         m.TakerFee.InexactFloat64(),
		TierDiscountStep: m.TierDiscountStep.InexactFloat64(),
		MaxDiscount:      m.MaxDiscount.InexactFloat64(),
		SlippageAlpha:    m.Slippage.Alpha.InexactFloat64(),
		SlippageBeta:     m.Slippage.Beta.InexactFloat64(),
		DepthLevels:      m.Slippage.DepthLevels,
		LiquidityPenalty: m.Slippage.LiquidityPenalty.InexactFloat64(),
		ImpactGamma:      m.Impact.Gamma.InexactFloat64(),
		ImpactEta:        m.Impact.Eta.InexactFloat64(),
		ImpactAlpha:      m.Impact.Alpha.InexactFloat64(),
		PermanentWeight:  m.Impact.PermanentWeight.InexactFloat64(),
		MakerTakerK:      m.MakerTaker.K.InexactFloat64(),
		MakerTakerX0:     m.MakerTaker.X0.InexactFloat64(),
		ImbalanceLevels:  m.MakerTaker.Levels,
	}
	for _, row := range m.VolumeDiscounts {
		p.VolumeDiscounts = append(p.VolumeDiscounts, engine.VolumeTier{
			Threshold: row.Threshold.InexactFloat64(),
			Discount:  row.Discount.InexactFloat64(),
		})
	}
	return p
}

// DefaultRequest is the simulation used when the caller supplies nothing.
func (c *Config) DefaultRequest() domain.SimulationRequest {
	return domain.SimulationRequest{
		Quantity:   c.Simulation.Quantity.InexactFloat64(),
		FeeTier:    c.Simulation.FeeTier,
		Volatility: c.Simulation.Volatility.InexactFloat64(),
	}
}

// ReconnectDelay returns the base and max reconnect waits.
func (c *Config) ReconnectDelay() (base, max time.Duration) {
	return time.Duration(c.Feed.ReconnectDelayMS) * time.Millisecond,
		time.Duration(c.Feed.MaxReconnectDelayMS) * time.Millisecond
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	setStr(&cfg.Feed.WSURL, "TRADESIM_WS_URL")
	setStr(&cfg.Feed.Symbol, "TRADESIM_SYMBOL")
	setInt(&cfg.Feed.ReconnectDelayMS, "TRADESIM_RECONNECT_DELAY_MS")
	setStr(&cfg.Logging.Level, "TRADESIM_LOG_LEVEL")
	setStr(&cfg.Logging.Dir, "TRADESIM_LOG_DIR")
	setStr(&cfg.Server.Addr, "TRADESIM_SERVER_ADDR")
	setStr(&cfg.Storage.Path, "TRADESIM_DB_PATH")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// ApplyEnv applies TRADESIM_* overrides to cfg. Used when running on defaults
// without a config file.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load()
	overrideWithEnv(cfg)
}
