package ledger

import (
	"fmt"
	"time"
)

// TimestampLayout is the server-assigned timestamp format: UTC, millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000"

// SignalType classifies an event. The zero value means unset.
type SignalType string

const (
	SignalGravity  SignalType = "gravity"
	SignalLight    SignalType = "light"
	SignalInternal SignalType = "internal"
)

// Valid reports whether s is unset or one of the known signal types.
func (s SignalType) Valid() bool {
	switch s {
	case "", SignalGravity, SignalLight, SignalInternal:
		return true
	}
	return false
}

const (
	MinOracleTier = 0
	MaxOracleTier = 4
)

// Event is one ledger row. Pointer fields are optional; empty strings are stored as NULL.
type Event struct {
	ID                 int64          `json:"id"`
	Timestamp          time.Time      `json:"timestamp"`
	EventType          string         `json:"event_type"`
	Actor              string         `json:"actor"`
	Target             string         `json:"target,omitempty"`
	Domain             string         `json:"domain,omitempty"`
	SignalType         SignalType     `json:"signal_type,omitempty"`
	OracleTier         *int           `json:"oracle_tier,omitempty"`
	RandomSeed         *int64         `json:"random_seed,omitempty"`
	CompletionPromise  string         `json:"completion_promise,omitempty"`
	VerificationMethod string         `json:"verification_method,omitempty"`
	Payload            map[string]any `json:"payload,omitempty"`
	CostTokens         *int64         `json:"cost_tokens,omitempty"`
	CostUSD            *float64       `json:"cost_usd,omitempty"`
	CostCarbon         *float64       `json:"cost_carbon,omitempty"`
}

// Validate checks the column constraints the database also enforces.
func (e Event) Validate() error {
	if e.EventType == "" {
		return &ConstraintViolation{Field: "event_type", Op: OpInsert, Message: "event_type is required"}
	}
	if e.Actor == "" {
		return &ConstraintViolation{Field: "actor", Op: OpInsert, Message: "actor is required"}
	}
	if !e.SignalType.Valid() {
		return &ConstraintViolation{
			Field:   "signal_type",
			Op:      OpInsert,
			Message: fmt.Sprintf("signal_type %q must be one of gravity, light, internal", e.SignalType),
		}
	}
	if e.OracleTier != nil && (*e.OracleTier < MinOracleTier || *e.OracleTier > MaxOracleTier) {
		return &ConstraintViolation{
			Field:   "oracle_tier",
			Op:      OpInsert,
			Message: fmt.Sprintf("oracle_tier %d must be between %d and %d", *e.OracleTier, MinOracleTier, MaxOracleTier),
		}
	}
	return nil
}

// Filter selects events. Zero-valued fields do not constrain the query.
// Since and Until are inclusive.
type Filter struct {
	EventType  string
	Actor      string
	Target     string
	Domain     string
	SignalType SignalType
	OracleTier *int
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int

	before *cursor
}

// cursor is a keyset position in timestamp DESC, id DESC order.
type cursor struct {
	timestamp time.Time
	id        int64
}

const DefaultLimit = 100

// Tier returns a pointer to v, for OracleTier fields.
func Tier(v int) *int { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse event timestamp %q: %w", s, err)
	}
	return t, nil
}
