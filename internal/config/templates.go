package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# OI Trader Configuration

[trading]
# Trading mode: "backtest", "paper" or "live"
mode = "backtest"
# Broker: "zerodha" or "angelone"
broker = "zerodha"
# Underlying index symbol
symbol = "NIFTY"
# Starting capital for paper trading
capital = 100000.0

[strategy]
# Entry evaluation window (IST)
entry_window_start = "09:20"
entry_window_end = "15:00"
# Forced end-of-day exit window (IST)
exit_window_start = "15:15"
exit_window_end = "15:29"

# Strike grid
strike_step = 50.0
strikes_above_spot = 10
strikes_below_spot = 10

# Stop parameters (fractions of entry price / VWAP)
initial_stop_loss_pct = 0.25
profit_threshold_pct = 0.10
trailing_stop_pct = 0.10
vwap_stop_pct = 0.05
# OI increase stop threshold (percent)
oi_increase_stop_pct = 10.0

# Position sizing
lot_size = 75
lots = 1
risk_sizing = false
risk_per_trade = 0.01

# At most this many completed trades per day
max_trades_per_day = 1
# Exit at the exact stop price instead of the observed price
strict_exits = true

# Expiry cycle: "weekly" or "monthly"
expiry = "weekly"
# Skip expiries falling on Monday or Tuesday
avoid_monday_tuesday = false

# Paper mode loop intervals
strategy_interval = "5m"
monitor_interval = "1m"

[data]
# SQLite database path (empty uses the default config dir)
database_path = ""
# CSV inputs for backtests
bars_csv = ""
spot_csv = ""
# Directory for generated reports
report_dir = ""

[logging]
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30

[ui]
# Enable colored output
color_enabled = true
# Date format
date_format = "2006-01-02"
# Time format
time_format = "15:04:05"
`

const credentialsTemplate = `# OI Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[zerodha]
api_key = ""
api_secret = ""
user_id = ""
password = ""
totp_secret = ""

[angelone]
api_key = ""
client_code = ""
pin = ""
totp_secret = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Restricted permissions, this file holds secrets
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return fmt.Errorf("credentials file not found, created template at %s", path)
}
