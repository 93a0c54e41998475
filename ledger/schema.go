package ledger

import (
	"strconv"
	"strings"
)

// dialect holds the driver-specific SQL the ledger needs.
type dialect interface {
	driverName() string
	schema() []string
	// rebind rewrites '?' placeholders into the driver's form.
	rebind(query string) string
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		"timestamp"         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f','now')),
		event_type          TEXT NOT NULL,
		actor               TEXT NOT NULL,
		target              TEXT,
		domain              TEXT,
		signal_type         TEXT CHECK(signal_type IN ('gravity','light','internal')),
		oracle_tier         INTEGER CHECK(oracle_tier BETWEEN 0 AND 4),
		random_seed         INTEGER,
		completion_promise  TEXT,
		verification_method TEXT,
		payload_json        TEXT,
		cost_tokens         INTEGER,
		cost_usd            REAL,
		cost_carbon         REAL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_events_actor ON events(actor)`,
	`CREATE INDEX IF NOT EXISTS idx_events_target ON events(target)`,
	`CREATE INDEX IF NOT EXISTS idx_events_domain ON events(domain)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events("timestamp")`,
	`CREATE INDEX IF NOT EXISTS idx_events_signal ON events(signal_type)`,
	`CREATE INDEX IF NOT EXISTS idx_events_oracle ON events(oracle_tier)`,
	`CREATE TRIGGER IF NOT EXISTS prevent_update_events
		BEFORE UPDATE ON events
		BEGIN
			SELECT RAISE(ABORT, 'Event ledger is append-only: UPDATE not allowed');
		END`,
	`CREATE TRIGGER IF NOT EXISTS prevent_delete_events
		BEFORE DELETE ON events
		BEGIN
			SELECT RAISE(ABORT, 'Event ledger is append-only: DELETE not allowed');
		END`,
}

type sqliteDialect struct{}

func (sqliteDialect) driverName() string         { return "sqlite3" }
func (sqliteDialect) schema() []string           { return sqliteSchema }
func (sqliteDialect) rebind(query string) string { return query }

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id                  BIGSERIAL PRIMARY KEY,
		"timestamp"         TEXT NOT NULL DEFAULT to_char(clock_timestamp() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.MS'),
		event_type          TEXT NOT NULL,
		actor               TEXT NOT NULL,
		target              TEXT,
		domain              TEXT,
		signal_type         TEXT CHECK (signal_type IN ('gravity','light','internal')),
		oracle_tier         INTEGER CHECK (oracle_tier BETWEEN 0 AND 4),
		random_seed         BIGINT,
		completion_promise  TEXT,
		verification_method TEXT,
		payload_json        TEXT,
		cost_tokens         BIGINT,
		cost_usd            DOUBLE PRECISION,
		cost_carbon         DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_events_actor ON events(actor)`,
	`CREATE INDEX IF NOT EXISTS idx_events_target ON events(target)`,
	`CREATE INDEX IF NOT EXISTS idx_events_domain ON events(domain)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events("timestamp")`,
	`CREATE INDEX IF NOT EXISTS idx_events_signal ON events(signal_type)`,
	`CREATE INDEX IF NOT EXISTS idx_events_oracle ON events(oracle_tier)`,
	`CREATE OR REPLACE FUNCTION events_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'Event ledger is append-only: % not allowed', TG_OP
			USING ERRCODE = 'restrict_violation';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS prevent_update_events ON events`,
	`CREATE TRIGGER prevent_update_events BEFORE UPDATE ON events
		FOR EACH ROW EXECUTE FUNCTION events_append_only()`,
	`DROP TRIGGER IF EXISTS prevent_delete_events ON events`,
	`CREATE TRIGGER prevent_delete_events BEFORE DELETE ON events
		FOR EACH ROW EXECUTE FUNCTION events_append_only()`,
	`DROP TRIGGER IF EXISTS prevent_truncate_events ON events`,
	`CREATE TRIGGER prevent_truncate_events BEFORE TRUNCATE ON events
		FOR EACH STATEMENT EXECUTE FUNCTION events_append_only()`,
}

type postgresDialect struct{}

func (postgresDialect) driverName() string { return "postgres" }
func (postgresDialect) schema() []string   { return postgresSchema }

func (postgresDialect) rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// eventColumns is the column order used by SELECT and by exports.
var eventColumns = []string{
	"id",
	"timestamp",
	"event_type",
	"actor",
	"target",
	"domain",
	"signal_type",
	"oracle_tier",
	"random_seed",
	"completion_promise",
	"verification_method",
	"payload_json",
	"cost_tokens",
	"cost_usd",
	"cost_carbon",
}

const selectColumns = `id, "timestamp", event_type, actor, target, domain, signal_type, oracle_tier,
	random_seed, completion_promise, verification_method, payload_json, cost_tokens, cost_usd, cost_carbon`

const insertEvent = `INSERT INTO events (
	event_type, actor, target, domain, signal_type, oracle_tier,
	random_seed, completion_promise, verification_method, payload_json,
	cost_tokens, cost_usd, cost_carbon
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id, "timestamp"`
