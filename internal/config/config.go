// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Trading     TradingConfig  `mapstructure:"trading"`
	Strategy    StrategyConfig `mapstructure:"strategy"`
	Data        DataConfig     `mapstructure:"data"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	UI          UIConfig       `mapstructure:"ui"`
	Credentials Credentials    `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds trading-mode configuration.
type TradingConfig struct {
	Mode    string  `mapstructure:"mode"`    // "backtest", "paper", "live"
	Broker  string  `mapstructure:"broker"`  // "zerodha", "angelone"
	Symbol  string  `mapstructure:"symbol"`  // underlying index, e.g. NIFTY
	Capital float64 `mapstructure:"capital"` // starting paper capital
}

// StrategyConfig holds the strategy parameters.
type StrategyConfig struct {
	EntryWindowStart string `mapstructure:"entry_window_start"` // "HH:MM" IST
	EntryWindowEnd   string `mapstructure:"entry_window_end"`
	ExitWindowStart  string `mapstructure:"exit_window_start"`
	ExitWindowEnd    string `mapstructure:"exit_window_end"`

	StrikeStep       float64 `mapstructure:"strike_step"`
	StrikesAboveSpot int     `mapstructure:"strikes_above_spot"`
	StrikesBelowSpot int     `mapstructure:"strikes_below_spot"`

	InitialStopLossPct float64 `mapstructure:"initial_stop_loss_pct"` // fraction, e.g. 0.25
	ProfitThresholdPct float64 `mapstructure:"profit_threshold_pct"`  // fraction, e.g. 0.10
	TrailingStopPct    float64 `mapstructure:"trailing_stop_pct"`     // fraction, e.g. 0.10
	VWAPStopPct        float64 `mapstructure:"vwap_stop_pct"`         // fraction, e.g. 0.05
	OIIncreaseStopPct  float64 `mapstructure:"oi_increase_stop_pct"`  // percent, e.g. 10.0

	LotSize         int  `mapstructure:"lot_size"`
	Lots            int  `mapstructure:"lots"`
	MaxTradesPerDay int  `mapstructure:"max_trades_per_day"`
	StrictExits     bool `mapstructure:"strict_exits"`

	Expiry             string `mapstructure:"expiry"` // "weekly", "monthly"
	AvoidMondayTuesday bool   `mapstructure:"avoid_monday_tuesday"`

	RiskSizing   bool    `mapstructure:"risk_sizing"`
	RiskPerTrade float64 `mapstructure:"risk_per_trade"` // fraction of capital

	StrategyInterval time.Duration `mapstructure:"strategy_interval"` // paper mode outer loop
	MonitorInterval  time.Duration `mapstructure:"monitor_interval"`  // paper mode exit monitor
}

// DataConfig holds data source and persistence paths.
type DataConfig struct {
	DatabasePath string `mapstructure:"database_path"`
	BarsCSV      string `mapstructure:"bars_csv"`
	SpotCSV      string `mapstructure:"spot_csv"`
	ReportDir    string `mapstructure:"report_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// UIConfig holds output-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
	TimeFormat   string `mapstructure:"time_format"`
}

// Credentials holds API credentials.
type Credentials struct {
	Zerodha  ZerodhaCredentials  `mapstructure:"zerodha"`
	AngelOne AngelOneCredentials `mapstructure:"angelone"`
}

// ZerodhaCredentials holds Zerodha Kite Connect credentials.
type ZerodhaCredentials struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	UserID     string `mapstructure:"user_id"`
	Password   string `mapstructure:"password"`    // For auto-login
	TOTPSecret string `mapstructure:"totp_secret"` // For auto-login with 2FA
}

// AngelOneCredentials holds AngelOne SmartAPI credentials.
type AngelOneCredentials struct {
	APIKey     string `mapstructure:"api_key"`
	ClientCode string `mapstructure:"client_code"`
	PIN        string `mapstructure:"pin"`
	TOTPSecret string `mapstructure:"totp_secret"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/oi-trader"
	}
	return filepath.Join(home, ".config", "oi-trader")
}

// Redacted returns a display-safe copy with credential secrets masked.
func (c *Config) Redacted() Config {
	out := *c
	z := &out.Credentials.Zerodha
	z.APIKey = maskSecret(z.APIKey)
	z.APISecret = maskSecret(z.APISecret)
	z.Password = maskSecret(z.Password)
	z.TOTPSecret = maskSecret(z.TOTPSecret)
	a := &out.Credentials.AngelOne
	a.APIKey = maskSecret(a.APIKey)
	a.PIN = maskSecret(a.PIN)
	a.TOTPSecret = maskSecret(a.TOTPSecret)
	return out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setStrategyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateConfig(configDir)
		}
		return err
	}

	return v.Unmarshal(target)
}

func setStrategyDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "backtest")
	v.SetDefault("trading.broker", "zerodha")
	v.SetDefault("trading.symbol", "NIFTY")
	v.SetDefault("trading.capital", 100000.0)

	v.SetDefault("strategy.entry_window_start", "09:20")
	v.SetDefault("strategy.entry_window_end", "15:00")
	v.SetDefault("strategy.exit_window_start", "15:15")
	v.SetDefault("strategy.exit_window_end", "15:29")
	v.SetDefault("strategy.strike_step", 50.0)
	v.SetDefault("strategy.strikes_above_spot", 10)
	v.SetDefault("strategy.strikes_below_spot", 10)
	v.SetDefault("strategy.initial_stop_loss_pct", 0.25)
	v.SetDefault("strategy.profit_threshold_pct", 0.10)
	v.SetDefault("strategy.trailing_stop_pct", 0.10)
	v.SetDefault("strategy.vwap_stop_pct", 0.05)
	v.SetDefault("strategy.oi_increase_stop_pct", 10.0)
	v.SetDefault("strategy.lot_size", 75)
	v.SetDefault("strategy.lots", 1)
	v.SetDefault("strategy.max_trades_per_day", 1)
	v.SetDefault("strategy.strict_exits", true)
	v.SetDefault("strategy.expiry", "weekly")
	v.SetDefault("strategy.avoid_monday_tuesday", false)
	v.SetDefault("strategy.risk_sizing", false)
	v.SetDefault("strategy.risk_per_trade", 0.01)
	v.SetDefault("strategy.strategy_interval", 5*time.Minute)
	v.SetDefault("strategy.monitor_interval", 1*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "2006-01-02")
	v.SetDefault("ui.time_format", "15:04:05")
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("ZERODHA_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}
	if v := os.Getenv("ZERODHA_USER_ID"); v != "" {
		cfg.Credentials.Zerodha.UserID = v
	}
	if v := os.Getenv("ANGELONE_API_KEY"); v != "" {
		cfg.Credentials.AngelOne.APIKey = v
	}
	if v := os.Getenv("ANGELONE_CLIENT_CODE"); v != "" {
		cfg.Credentials.AngelOne.ClientCode = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
}

// Validate validates the configuration. Errors here are fatal at startup.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case "", "backtest", "paper", "live":
	default:
		return fmt.Errorf("invalid trading mode: %s (must be 'backtest', 'paper' or 'live')", c.Trading.Mode)
	}

	switch c.Trading.Broker {
	case "", "zerodha", "angelone":
	default:
		return fmt.Errorf("invalid broker: %s (must be 'zerodha' or 'angelone')", c.Trading.Broker)
	}

	s := &c.Strategy
	for _, w := range []struct {
		name, value string
	}{
		{"entry_window_start", s.EntryWindowStart},
		{"entry_window_end", s.EntryWindowEnd},
		{"exit_window_start", s.ExitWindowStart},
		{"exit_window_end", s.ExitWindowEnd},
	} {
		if _, err := ParseClock(w.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", w.name, w.value, err)
		}
	}

	entryStart, _ := ParseClock(s.EntryWindowStart)
	entryEnd, _ := ParseClock(s.EntryWindowEnd)
	if !entryStart.Before(entryEnd) {
		return fmt.Errorf("entry_window_start must precede entry_window_end")
	}
	exitStart, _ := ParseClock(s.ExitWindowStart)
	exitEnd, _ := ParseClock(s.ExitWindowEnd)
	if !exitStart.Before(exitEnd) {
		return fmt.Errorf("exit_window_start must precede exit_window_end")
	}

	for _, p := range []struct {
		name  string
		value float64
	}{
		{"initial_stop_loss_pct", s.InitialStopLossPct},
		{"profit_threshold_pct", s.ProfitThresholdPct},
		{"trailing_stop_pct", s.TrailingStopPct},
		{"vwap_stop_pct", s.VWAPStopPct},
	} {
		if p.value <= 0 || p.value >= 1 {
			return fmt.Errorf("%s must be a fraction in (0, 1), got %v", p.name, p.value)
		}
	}
	if s.OIIncreaseStopPct <= 0 {
		return fmt.Errorf("oi_increase_stop_pct must be positive, got %v", s.OIIncreaseStopPct)
	}
	if s.StrikeStep <= 0 {
		return fmt.Errorf("strike_step must be positive, got %v", s.StrikeStep)
	}
	if s.StrikesAboveSpot <= 0 || s.StrikesBelowSpot <= 0 {
		return fmt.Errorf("strikes_above_spot and strikes_below_spot must be positive")
	}
	if s.LotSize <= 0 || s.Lots <= 0 {
		return fmt.Errorf("lot_size and lots must be positive")
	}
	if s.MaxTradesPerDay <= 0 {
		return fmt.Errorf("max_trades_per_day must be positive, got %d", s.MaxTradesPerDay)
	}
	switch strings.ToLower(s.Expiry) {
	case "", "weekly", "monthly":
	default:
		return fmt.Errorf("invalid expiry: %s (must be 'weekly' or 'monthly')", s.Expiry)
	}
	if s.RiskSizing && (s.RiskPerTrade <= 0 || s.RiskPerTrade >= 1) {
		return fmt.Errorf("risk_per_trade must be a fraction in (0, 1), got %v", s.RiskPerTrade)
	}

	return nil
}

// Clock is a time-of-day without a date, minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" into a Clock.
func ParseClock(s string) (Clock, error) {
	var c Clock
	if _, err := fmt.Sscanf(s, "%d:%d", &c.Hour, &c.Minute); err != nil {
		return Clock{}, fmt.Errorf("expected HH:MM: %w", err)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return Clock{}, fmt.Errorf("out of range: %s", s)
	}
	return c, nil
}

// Before reports whether c is earlier in the day than other.
func (c Clock) Before(other Clock) bool {
	return c.Hour*60+c.Minute < other.Hour*60+other.Minute
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// At anchors the clock onto the given date in its location.
func (c Clock) At(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour, c.Minute, 0, 0, date.Location())
}

// Contains reports whether ts falls within [start, end] on ts's own date.
func Contains(start, end Clock, ts time.Time) bool {
	m := ts.Hour()*60 + ts.Minute()
	return m >= start.Minutes() && m <= end.Minutes()
}

// IsBacktest returns true if backtest mode is enabled.
func (c *Config) IsBacktest() bool {
	return c.Trading.Mode == "backtest"
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}
