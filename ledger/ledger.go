// Package ledger is the append-only event log. Events are inserted with a
// server-assigned timestamp and can never be updated or deleted; the storage
// layer rejects such statements with database triggers.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Swind/go-workflow-runner/core"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	defaultBusyTimeout = 5 * time.Second
)

// Config selects and configures the storage backend.
type Config struct {
	// Driver is DriverSQLite (default) or DriverPostgres.
	Driver string
	// Path is the SQLite database file, or ":memory:".
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
	// BusyTimeout bounds how long SQLite waits on a locked database.
	BusyTimeout time.Duration
	// MaxOpenConns caps PostgreSQL connections. SQLite always uses one.
	MaxOpenConns int
}

// Ledger is safe for concurrent use.
type Ledger struct {
	db         *sql.DB
	dialect    dialect
	serializer core.Serializer
	closed     atomic.Bool
}

// Open connects to the configured backend and creates the schema if needed.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return openSQLite(ctx, cfg)
	case DriverPostgres:
		return openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.Driver)
	}
}

// OpenSQLite opens a SQLite ledger at path with default settings.
func OpenSQLite(ctx context.Context, path string) (*Ledger, error) {
	return Open(ctx, Config{Driver: DriverSQLite, Path: path})
}

func openSQLite(ctx context.Context, cfg Config) (*Ledger, error) {
	path := cfg.Path
	if path == "" {
		return nil, fmt.Errorf("sqlite ledger path is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_busy_timeout=%d", path, busy.Milliseconds())
	}

	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Ledger{db: db, dialect: sqliteDialect{}, serializer: core.NewJSONSerializer()}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure pragma %q: %w", pragma, err)
		}
	}
	if err := l.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func openPostgres(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres ledger dsn is required")
	}
	db, err := sql.Open(DriverPostgres, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	l := &Ledger{db: db, dialect: postgresDialect{}, serializer: core.NewJSONSerializer()}
	if err := l.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range l.dialect.schema() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply ledger schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Driver returns the backend driver name.
func (l *Ledger) Driver() string {
	return l.dialect.driverName()
}

// RecordEvent inserts ev and returns its id. The timestamp is assigned by the
// database; ev.ID and ev.Timestamp are ignored. The row is committed before
// RecordEvent returns.
func (l *Ledger) RecordEvent(ctx context.Context, ev Event) (int64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	if err := ev.Validate(); err != nil {
		return 0, err
	}

	var payload any
	if ev.Payload != nil {
		data, err := l.serializer.Serialize(ev.Payload)
		if err != nil {
			return 0, fmt.Errorf("encode event payload: %w", err)
		}
		payload = string(data)
	}

	var (
		id    int64
		stamp string
	)
	err := l.db.QueryRowContext(ctx, l.dialect.rebind(insertEvent),
		ev.EventType,
		ev.Actor,
		nullString(ev.Target),
		nullString(ev.Domain),
		nullString(string(ev.SignalType)),
		nullInt(ev.OracleTier),
		nullInt64(ev.RandomSeed),
		nullString(ev.CompletionPromise),
		nullString(ev.VerificationMethod),
		payload,
		nullInt64(ev.CostTokens),
		nullFloat(ev.CostUSD),
		nullFloat(ev.CostCarbon),
	).Scan(&id, &stamp)
	if err != nil {
		return 0, mapDriverError(OpInsert, err)
	}
	return id, nil
}

// QueryEvents returns events matching f, newest first. Rows sharing a
// timestamp are ordered by descending id so pagination is stable.
func (l *Ledger) QueryEvents(ctx context.Context, f Filter) ([]Event, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	where, args := buildWhere(f)

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := "SELECT " + selectColumns + " FROM events" + where +
		` ORDER BY "timestamp" DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := l.db.QueryContext(ctx, l.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		ev, err := l.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Count returns how many events match f. Limit and Offset are ignored.
func (l *Ledger) Count(ctx context.Context, f Filter) (int64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	where, args := buildWhere(f)
	var n int64
	if err := l.db.QueryRowContext(ctx, l.dialect.rebind("SELECT COUNT(*) FROM events"+where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Exec runs a raw statement against the ledger database and returns the
// number of affected rows. Statements that hit the append-only triggers or a
// column constraint fail with *ConstraintViolation.
func (l *Ledger) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	res, err := l.db.ExecContext(ctx, l.dialect.rebind(query), args...)
	if err != nil {
		return 0, mapDriverError(statementOp(query), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Ping checks the database is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.db.PingContext(ctx)
}

// Close releases the database handle. Further calls return ErrClosed.
func (l *Ledger) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.db.Close()
}

func buildWhere(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if f.EventType != "" {
		add("event_type = ?", f.EventType)
	}
	if f.Actor != "" {
		add("actor = ?", f.Actor)
	}
	if f.Target != "" {
		add("target = ?", f.Target)
	}
	if f.Domain != "" {
		add("domain = ?", f.Domain)
	}
	if f.SignalType != "" {
		add("signal_type = ?", string(f.SignalType))
	}
	if f.OracleTier != nil {
		add("oracle_tier = ?", *f.OracleTier)
	}
	if !f.Since.IsZero() {
		add(`"timestamp" >= ?`, formatTimestamp(f.Since))
	}
	if !f.Until.IsZero() {
		add(`"timestamp" <= ?`, formatTimestamp(f.Until))
	}
	if f.before != nil {
		ts := formatTimestamp(f.before.timestamp)
		conds = append(conds, `("timestamp" < ? OR ("timestamp" = ? AND id < ?))`)
		args = append(args, ts, ts, f.before.id)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (l *Ledger) scanEvent(row rowScanner) (Event, error) {
	var (
		ev                             Event
		stamp                          string
		target, domain, signal         sql.NullString
		promise, verification, payload sql.NullString
		tier                           sql.NullInt64
		seed, tokens                   sql.NullInt64
		usd, carbon                    sql.NullFloat64
	)
	if err := row.Scan(
		&ev.ID, &stamp, &ev.EventType, &ev.Actor, &target, &domain, &signal, &tier,
		&seed, &promise, &verification, &payload, &tokens, &usd, &carbon,
	); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}

	ts, err := parseTimestamp(stamp)
	if err != nil {
		return Event{}, err
	}
	ev.Timestamp = ts
	ev.Target = target.String
	ev.Domain = domain.String
	ev.SignalType = SignalType(signal.String)
	ev.CompletionPromise = promise.String
	ev.VerificationMethod = verification.String
	if tier.Valid {
		ev.OracleTier = Tier(int(tier.Int64))
	}
	if seed.Valid {
		ev.RandomSeed = Int64(seed.Int64)
	}
	if tokens.Valid {
		ev.CostTokens = Int64(tokens.Int64)
	}
	if usd.Valid {
		ev.CostUSD = Float64(usd.Float64)
	}
	if carbon.Valid {
		ev.CostCarbon = Float64(carbon.Float64)
	}
	if payload.Valid && payload.String != "" && payload.String != "null" {
		decoded := make(map[string]any)
		if err := l.serializer.Deserialize([]byte(payload.String), &decoded); err != nil {
			return Event{}, fmt.Errorf("decode payload of event %d: %w", ev.ID, err)
		}
		ev.Payload = decoded
	}
	return ev, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
