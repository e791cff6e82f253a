// Package store provides durable position persistence in SQLite.
//
// Positions are upserted by id and transition Open → Resolved/Failed exactly
// once; dip lifecycle events and per-admission orderbook snapshots are
// appended for audit. Migrations are tracked in schema_version and only ever
// add nullable columns, so databases written by older builds keep working.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// Store wraps the SQLite database. Writes are serialised by the mutex; reads
// go straight to the pool.
type Store struct {
	sql *sql.DB
	mu  sync.Mutex
}

// Open opens (or creates) the database and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{sql: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	version := 0
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS positions (
				id              TEXT PRIMARY KEY,
				market          TEXT NOT NULL,
				window_key      TEXT NOT NULL,
				period_ts       INTEGER NOT NULL,
				opened_at       TEXT NOT NULL,
				resolved_at     TEXT,
				status          TEXT NOT NULL,
				cost_up         REAL NOT NULL,
				cost_down       REAL NOT NULL,
				size_up         REAL NOT NULL,
				size_down       REAL NOT NULL,
				total_cost      REAL NOT NULL,
				expected_profit REAL NOT NULL,
				ask_up          REAL,
				ask_down        REAL,
				outcome         TEXT,
				payout          REAL,
				fees            REAL,
				actual_profit   REAL
			);
			CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
			CREATE INDEX IF NOT EXISTS idx_positions_market ON positions(market);
			CREATE INDEX IF NOT EXISTS idx_positions_opened ON positions(opened_at);

			CREATE TABLE IF NOT EXISTS events (
				id        INTEGER PRIMARY KEY AUTOINCREMENT,
				type      TEXT NOT NULL,
				ts        TEXT NOT NULL,
				data_json TEXT NOT NULL DEFAULT '{}'
			);
			CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
			CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);

			CREATE TABLE IF NOT EXISTS orderbook_snapshots (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				ts               TEXT NOT NULL,
				market           TEXT NOT NULL,
				position_id      TEXT,
				best_ask_up      REAL NOT NULL,
				best_ask_down    REAL NOT NULL,
				total_cost       REAL NOT NULL,
				depth_up_json    TEXT NOT NULL DEFAULT '[]',
				depth_down_json  TEXT NOT NULL DEFAULT '[]'
			);
			CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON orderbook_snapshots(ts);
			CREATE INDEX IF NOT EXISTS idx_snapshots_market ON orderbook_snapshots(market);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}

	if version < 2 {
		// Analytical columns added after the initial schema shipped.
		// Nullable only: rows written by v1 builds stay valid.
		positionCols := []struct {
			name string
			def  string
		}{
			{name: "liquidity_up", def: "REAL"},
			{name: "liquidity_down", def: "REAL"},
			{name: "est_slippage", def: "REAL"},
			{name: "latency_detect_ms", def: "INTEGER"},
			{name: "latency_exec_ms", def: "INTEGER"},
			{name: "latency_total_ms", def: "INTEGER"},
		}
		for _, c := range positionCols {
			if err := s.ensureTableColumn("positions", c.name, c.def); err != nil {
				return fmt.Errorf("migration v2 add positions.%s: %w", c.name, err)
			}
		}

		snapshotCols := []struct {
			name string
			def  string
		}{
			{name: "liquidity_up_5pct", def: "REAL"},
			{name: "liquidity_down_5pct", def: "REAL"},
		}
		for _, c := range snapshotCols {
			if err := s.ensureTableColumn("orderbook_snapshots", c.name, c.def); err != nil {
				return fmt.Errorf("migration v2 add orderbook_snapshots.%s: %w", c.name, err)
			}
		}

		if _, err := s.sql.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (2);`); err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
	}

	return nil
}

func (s *Store) ensureTableColumn(tableName, columnName, columnDef string) error {
	rows, err := s.sql.Query("PRAGMA table_info(" + tableName + ")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, typ string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, columnName) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.sql.Exec("ALTER TABLE " + tableName + " ADD COLUMN " + columnName + " " + columnDef)
	return err
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// Save upserts a position by id.
func (s *Store) Save(pos *types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var resolvedAt sql.NullString
	if pos.ResolvedAt != nil {
		resolvedAt = sql.NullString{String: pos.ResolvedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.sql.Exec(`
		INSERT INTO positions (
			id, market, window_key, period_ts, opened_at, resolved_at, status,
			cost_up, cost_down, size_up, size_down, total_cost, expected_profit,
			ask_up, ask_down, outcome, payout, fees, actual_profit,
			liquidity_up, liquidity_down, est_slippage,
			latency_detect_ms, latency_exec_ms, latency_total_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resolved_at = excluded.resolved_at,
			status = excluded.status,
			outcome = excluded.outcome,
			payout = excluded.payout,
			fees = excluded.fees,
			actual_profit = excluded.actual_profit
	`,
		pos.ID, pos.Market, string(pos.Window), pos.PeriodTS,
		pos.OpenedAt.UTC().Format(time.RFC3339Nano), resolvedAt, string(pos.Status),
		pos.CostUp, pos.CostDown, pos.SizeUp, pos.SizeDown, pos.TotalCost, pos.ExpectedProfit,
		pos.AskUp, pos.AskDown, nullStr(pos.Outcome), nullFloat(pos.Payout), nullFloat(pos.Fees), nullFloat(pos.ActualProfit),
		nullFloat(pos.LiquidityUp), nullFloat(pos.LiquidityDown), nullFloat(pos.EstSlippage),
		nullInt(pos.LatencyDetectMS), nullInt(pos.LatencyExecMS), nullInt(pos.LatencyTotalMS),
	)
	if err != nil {
		return fmt.Errorf("save position %s: %w", pos.ID, err)
	}
	return nil
}

const positionColumns = `
	id, market, window_key, period_ts, opened_at, resolved_at, status,
	cost_up, cost_down, size_up, size_down, total_cost, expected_profit,
	ask_up, ask_down, outcome, payout, fees, actual_profit,
	liquidity_up, liquidity_down, est_slippage,
	latency_detect_ms, latency_exec_ms, latency_total_ms`

// OpenPositions returns every position still awaiting resolution.
func (s *Store) OpenPositions() ([]*types.Position, error) {
	return s.query(`SELECT `+positionColumns+` FROM positions WHERE status = ? ORDER BY opened_at`, string(types.PositionOpen))
}

// ByID fetches one position; nil when absent.
func (s *Store) ByID(id string) (*types.Position, error) {
	positions, err := s.query(`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}
	return positions[0], nil
}

// Recent returns the n most recently opened positions.
func (s *Store) Recent(n int) ([]*types.Position, error) {
	return s.query(`SELECT `+positionColumns+` FROM positions ORDER BY opened_at DESC LIMIT ?`, n)
}

// ByDateRange returns positions opened in [start, end).
func (s *Store) ByDateRange(start, end time.Time) ([]*types.Position, error) {
	return s.query(
		`SELECT `+positionColumns+` FROM positions WHERE opened_at >= ? AND opened_at < ? ORDER BY opened_at`,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano),
	)
}

// ByMarket returns up to limit positions for one symbol, newest first.
func (s *Store) ByMarket(market string, limit int) ([]*types.Position, error) {
	return s.query(
		`SELECT `+positionColumns+` FROM positions WHERE market = ? ORDER BY opened_at DESC LIMIT ?`,
		market, limit,
	)
}

func (s *Store) query(q string, args ...any) ([]*types.Position, error) {
	rows, err := s.sql.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []*types.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func scanPosition(rows *sql.Rows) (*types.Position, error) {
	var (
		pos                          types.Position
		window, openedAt, status     string
		resolvedAt, outcome          sql.NullString
		payout, fees, actualProfit   sql.NullFloat64
		liqUp, liqDn, estSlip        sql.NullFloat64
		latDetect, latExec, latTotal sql.NullInt64
	)
	err := rows.Scan(
		&pos.ID, &pos.Market, &window, &pos.PeriodTS, &openedAt, &resolvedAt, &status,
		&pos.CostUp, &pos.CostDown, &pos.SizeUp, &pos.SizeDown, &pos.TotalCost, &pos.ExpectedProfit,
		&pos.AskUp, &pos.AskDown, &outcome, &payout, &fees, &actualProfit,
		&liqUp, &liqDn, &estSlip,
		&latDetect, &latExec, &latTotal,
	)
	if err != nil {
		return nil, fmt.Errorf("scan position: %w", err)
	}

	pos.Window = types.WindowKey(window)
	pos.Status = types.PositionStatus(status)
	if pos.OpenedAt, err = time.Parse(time.RFC3339Nano, openedAt); err != nil {
		return nil, fmt.Errorf("parse opened_at: %w", err)
	}
	if resolvedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse resolved_at: %w", err)
		}
		pos.ResolvedAt = &t
	}
	pos.Outcome = strPtr(outcome)
	pos.Payout = floatPtr(payout)
	pos.Fees = floatPtr(fees)
	pos.ActualProfit = floatPtr(actualProfit)
	pos.LiquidityUp = floatPtr(liqUp)
	pos.LiquidityDown = floatPtr(liqDn)
	pos.EstSlippage = floatPtr(estSlip)
	pos.LatencyDetectMS = intPtr(latDetect)
	pos.LatencyExecMS = intPtr(latExec)
	pos.LatencyTotalMS = intPtr(latTotal)
	return &pos, nil
}

// Stats summarises the position log.
type Stats struct {
	Total     int
	Open      int
	Resolved  int
	Failed    int
	Wins      int
	WinRate   float64 // wins / resolved
	NetProfit float64 // sum of actual_profit over resolved positions
	TotalFees float64
}

// Stats computes totals, win rate and net profit.
func (s *Store) Stats() (*Stats, error) {
	var st Stats
	err := s.sql.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'open' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'resolved' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'resolved' AND actual_profit > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'resolved' THEN actual_profit ELSE 0 END), 0),
			COALESCE(SUM(COALESCE(fees, 0)), 0)
		FROM positions
	`).Scan(&st.Total, &st.Open, &st.Resolved, &st.Failed, &st.Wins, &st.NetProfit, &st.TotalFees)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	if st.Resolved > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Resolved)
	}
	return &st, nil
}

// ————————————————————————————————————————————————————————————————————————
// Events and snapshots
// ————————————————————————————————————————————————————————————————————————

// LogEvent appends one audit event; data is marshalled to JSON.
func (s *Store) LogEvent(eventType string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := []byte("{}")
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		payload = b
	}

	_, err := s.sql.Exec(
		`INSERT INTO events (type, ts, data_json) VALUES (?, ?, ?)`,
		eventType, time.Now().UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// EventCount returns how many events of one type were logged.
func (s *Store) EventCount(eventType string) (int, error) {
	var n int
	err := s.sql.QueryRow(`SELECT COUNT(*) FROM events WHERE type = ?`, eventType).Scan(&n)
	return n, err
}

// snapshotDepthLimit caps how many ladder levels a snapshot retains per side.
const snapshotDepthLimit = 10

// SnapshotRecord is the audit view of the orderbook at an admitted
// opportunity.
type SnapshotRecord struct {
	TS          time.Time
	Market      string
	PositionID  *string
	BestAskUp   float64
	BestAskDown float64
	TotalCost   float64
	LiqUp5Pct   *float64
	LiqDown5Pct *float64
	DepthUp     []types.PriceLevel
	DepthDown   []types.PriceLevel
}

// SaveSnapshot appends an orderbook snapshot, truncating depth to 10 levels
// per side.
func (s *Store) SaveSnapshot(rec *SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	depthUp, err := marshalDepth(rec.DepthUp)
	if err != nil {
		return err
	}
	depthDown, err := marshalDepth(rec.DepthDown)
	if err != nil {
		return err
	}

	_, err = s.sql.Exec(`
		INSERT INTO orderbook_snapshots (
			ts, market, position_id, best_ask_up, best_ask_down, total_cost,
			liquidity_up_5pct, liquidity_down_5pct, depth_up_json, depth_down_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.TS.UTC().Format(time.RFC3339Nano), rec.Market, nullStr(rec.PositionID),
		rec.BestAskUp, rec.BestAskDown, rec.TotalCost,
		nullFloat(rec.LiqUp5Pct), nullFloat(rec.LiqDown5Pct),
		depthUp, depthDown,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// SnapshotCount returns the number of stored snapshots for one market.
func (s *Store) SnapshotCount(market string) (int, error) {
	var n int
	err := s.sql.QueryRow(`SELECT COUNT(*) FROM orderbook_snapshots WHERE market = ?`, market).Scan(&n)
	return n, err
}

func marshalDepth(levels []types.PriceLevel) (string, error) {
	if len(levels) > snapshotDepthLimit {
		levels = levels[:snapshotDepthLimit]
	}
	type jsonLevel struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	}
	out := make([]jsonLevel, len(levels))
	for i, lvl := range levels {
		out[i] = jsonLevel{Price: lvl.Price.String(), Size: lvl.Size.String()}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal depth: %w", err)
	}
	return string(b), nil
}

// ————————————————————————————————————————————————————————————————————————
// Nullable helpers
// ————————————————————————————————————————————————————————————————————————

func nullStr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
