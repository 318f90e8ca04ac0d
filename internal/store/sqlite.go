package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"oi-trader/internal/errors"
	"oi-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Connection pool for the dual monitoring loops
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Option bars: OHLCV plus open interest per contract per timestamp
	CREATE TABLE IF NOT EXISTS option_bars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		strike REAL NOT NULL,
		option_type TEXT NOT NULL,
		expiry DATE NOT NULL,
		open REAL NOT NULL DEFAULT 0,
		high REAL NOT NULL DEFAULT 0,
		low REAL NOT NULL DEFAULT 0,
		close REAL NOT NULL,
		volume INTEGER NOT NULL DEFAULT 0,
		open_interest REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(timestamp, strike, option_type, expiry)
	);

	-- Index spot series
	CREATE TABLE IF NOT EXISTS spot_bars (
		timestamp DATETIME PRIMARY KEY,
		close REAL NOT NULL
	);

	-- Closed trades
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_time DATETIME NOT NULL,
		exit_time DATETIME NOT NULL,
		strike REAL NOT NULL,
		option_type TEXT NOT NULL,
		expiry DATE NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		size INTEGER NOT NULL,
		pnl REAL NOT NULL,
		pnl_pct REAL NOT NULL,
		vwap_at_entry REAL,
		vwap_at_exit REAL,
		oi_at_entry REAL,
		oi_change_at_entry REAL,
		oi_at_exit REAL,
		exit_reason TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Session snapshots for crash recovery, one JSON blob per trading date
	CREATE TABLE IF NOT EXISTS session_snapshots (
		date DATE PRIMARY KEY,
		snapshot TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_bars_contract
		ON option_bars(strike, option_type, expiry, timestamp);
	CREATE INDEX IF NOT EXISTS idx_bars_timestamp ON option_bars(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveBars upserts a batch of option bars in one transaction.
func (s *SQLiteStore) SaveBars(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO option_bars (timestamp, strike, option_type, expiry, open, high, low, close, volume, open_interest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(timestamp, strike, option_type, expiry) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume, open_interest=excluded.open_interest`)
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx,
			b.Timestamp.UTC(), b.Strike, string(b.Type), b.Expiry.Format("2006-01-02"),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.OpenInterest); err != nil {
			return errors.Wrap(err, "insert bar")
		}
	}
	return tx.Commit()
}

// GetBar returns the latest bar for a contract at or before the timestamp.
func (s *SQLiteStore) GetBar(ctx context.Context, key models.OptionKey, atOrBefore time.Time) (*models.Bar, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp, strike, option_type, expiry, open, high, low, close, volume, open_interest
		FROM option_bars
		WHERE strike = ? AND option_type = ? AND expiry = ? AND timestamp <= ?
		ORDER BY timestamp DESC LIMIT 1`,
		key.Strike, string(key.Type), key.Expiry.Format("2006-01-02"), atOrBefore.UTC())

	bar, err := scanBar(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewDataError("bar", key.String(), nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query bar")
	}
	return bar, nil
}

// GetBarsWindow returns the contract's bars in [from, to], time-ordered.
func (s *SQLiteStore) GetBarsWindow(ctx context.Context, key models.OptionKey, from, to time.Time) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, strike, option_type, expiry, open, high, low, close, volume, open_interest
		FROM option_bars
		WHERE strike = ? AND option_type = ? AND expiry = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`,
		key.Strike, string(key.Type), key.Expiry.Format("2006-01-02"), from.UTC(), to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "query bars window")
	}
	defer rows.Close()
	return scanBars(rows)
}

// GetChainAt returns the latest bar per strike and type at or before ts for
// one expiry, restricted to strikes in [low, high].
func (s *SQLiteStore) GetChainAt(ctx context.Context, expiry time.Time, ts time.Time, low, high float64) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.timestamp, b.strike, b.option_type, b.expiry, b.open, b.high, b.low, b.close, b.volume, b.open_interest
		FROM option_bars b
		JOIN (
			SELECT strike, option_type, MAX(timestamp) AS ts
			FROM option_bars
			WHERE expiry = ? AND timestamp <= ? AND strike >= ? AND strike <= ?
			GROUP BY strike, option_type
		) latest ON b.strike = latest.strike AND b.option_type = latest.option_type AND b.timestamp = latest.ts
		WHERE b.expiry = ?
		ORDER BY b.strike ASC, b.option_type ASC`,
		expiry.Format("2006-01-02"), ts.UTC(), low, high, expiry.Format("2006-01-02"))
	if err != nil {
		return nil, errors.Wrap(err, "query chain")
	}
	defer rows.Close()
	return scanBars(rows)
}

// TradingDates lists the distinct calendar dates covered by stored bars.
func (s *SQLiteStore) TradingDates(ctx context.Context) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT date(timestamp) FROM option_bars ORDER BY date(timestamp) ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "query trading dates")
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, errors.Wrap(err, "scan date")
		}
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, errors.Wrap(err, "parse date")
		}
		dates = append(dates, parsed)
	}
	return dates, rows.Err()
}

// SaveSpot upserts a batch of spot observations.
func (s *SQLiteStore) SaveSpot(ctx context.Context, bars []models.SpotBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO spot_bars (timestamp, close) VALUES (?, ?)
		ON CONFLICT(timestamp) DO UPDATE SET close=excluded.close`)
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Timestamp.UTC(), b.Close); err != nil {
			return errors.Wrap(err, "insert spot bar")
		}
	}
	return tx.Commit()
}

// GetSpot returns the latest spot close at or before the timestamp.
func (s *SQLiteStore) GetSpot(ctx context.Context, atOrBefore time.Time) (float64, error) {
	var close float64
	err := s.db.QueryRowContext(ctx,
		`SELECT close FROM spot_bars WHERE timestamp <= ? ORDER BY timestamp DESC LIMIT 1`,
		atOrBefore.UTC()).Scan(&close)
	if err == sql.ErrNoRows {
		return 0, errors.NewDataError("spot", atOrBefore.Format(time.RFC3339), nil)
	}
	if err != nil {
		return 0, errors.Wrap(err, "query spot")
	}
	return close, nil
}

// LogTrade appends a closed trade.
func (s *SQLiteStore) LogTrade(ctx context.Context, trade models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (entry_time, exit_time, strike, option_type, expiry,
			entry_price, exit_price, size, pnl, pnl_pct,
			vwap_at_entry, vwap_at_exit, oi_at_entry, oi_change_at_entry, oi_at_exit, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.EntryTime.UTC(), trade.ExitTime.UTC(), trade.Strike, string(trade.Type),
		trade.Expiry.Format("2006-01-02"), trade.EntryPrice, trade.ExitPrice, trade.Size,
		trade.PnL, trade.PnLPercent, trade.VWAPAtEntry, trade.VWAPAtExit,
		trade.OIAtEntry, trade.OIChangeAtEntry, trade.OIAtExit, string(trade.ExitReason))
	if err != nil {
		return errors.Wrap(err, "insert trade")
	}
	return nil
}

// GetTrades returns closed trades matching the filter, oldest first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `
		SELECT entry_time, exit_time, strike, option_type, expiry,
			entry_price, exit_price, size, pnl, pnl_pct,
			vwap_at_entry, vwap_at_exit, oi_at_entry, oi_change_at_entry, oi_at_exit, exit_reason
		FROM trades WHERE 1=1`
	var args []interface{}

	if !filter.StartDate.IsZero() {
		query += " AND entry_time >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND entry_time <= ?"
		args = append(args, filter.EndDate.UTC())
	}
	if filter.ExitReason != "" {
		query += " AND exit_reason = ?"
		args = append(args, filter.ExitReason)
	}
	query += " ORDER BY entry_time ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query trades")
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var typ, reason, expiry string
		if err := rows.Scan(&t.EntryTime, &t.ExitTime, &t.Strike, &typ, &expiry,
			&t.EntryPrice, &t.ExitPrice, &t.Size, &t.PnL, &t.PnLPercent,
			&t.VWAPAtEntry, &t.VWAPAtExit, &t.OIAtEntry, &t.OIChangeAtEntry,
			&t.OIAtExit, &reason); err != nil {
			return nil, errors.Wrap(err, "scan trade")
		}
		t.Type = models.OptionType(typ)
		t.ExitReason = models.ExitReason(reason)
		if t.Expiry, err = parseExpiry(expiry); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveSnapshot upserts the session snapshot for a date.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, date time.Time, snapshot []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (date, snapshot, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(date) DO UPDATE SET snapshot=excluded.snapshot, updated_at=CURRENT_TIMESTAMP`,
		date.Format("2006-01-02"), string(snapshot))
	if err != nil {
		return errors.Wrap(err, "save snapshot")
	}
	return nil
}

// GetSnapshot returns the snapshot stored for a date, or ErrMissingData.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, date time.Time) ([]byte, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM session_snapshots WHERE date = ?`,
		date.Format("2006-01-02")).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, errors.NewDataError("snapshot", date.Format("2006-01-02"), nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query snapshot")
	}
	return []byte(snapshot), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBar(row rowScanner) (*models.Bar, error) {
	var b models.Bar
	var typ, expiry string
	if err := row.Scan(&b.Timestamp, &b.Strike, &typ, &expiry,
		&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.OpenInterest); err != nil {
		return nil, err
	}
	b.Type = models.OptionType(typ)
	var err error
	if b.Expiry, err = parseExpiry(expiry); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBars(rows *sql.Rows) ([]models.Bar, error) {
	var bars []models.Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan bar")
		}
		bars = append(bars, *b)
	}
	return bars, rows.Err()
}

// parseExpiry accepts both bare dates and SQLite datetime strings.
func parseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parse expiry")
	}
	return t, nil
}
