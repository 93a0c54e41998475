package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Swind/go-workflow-runner/ledger"
)

const (
	maxQueryLimit   = 1000
	maxRequestBytes = 1 << 20

	headerRequestID = "X-Request-ID"
)

// EventStore is the ledger surface served over HTTP.
type EventStore interface {
	RecordEvent(ctx context.Context, ev ledger.Event) (int64, error)
	QueryEvents(ctx context.Context, f ledger.Filter) ([]ledger.Event, error)
	Export(ctx context.Context, format ledger.Format, w io.Writer) error
	Ping(ctx context.Context) error
}

// Server exposes the event ledger over HTTP.
type Server struct {
	store    EventStore
	logger   *slog.Logger
	gatherer prom.Gatherer
	mux      *http.ServeMux
}

type Option func(*Server)

// WithLogger sets the request logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics serves g on /metrics.
func WithMetrics(g prom.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func NewServer(store EventStore, opts ...Option) *Server {
	s := &Server{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("POST /api/events", s.handleRecordEvent)
	s.mux.HandleFunc("GET /api/events", s.handleQueryEvents)
	s.mux.HandleFunc("GET /api/events/export", s.handleExport)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the routed handler wrapped in request id and logging middleware.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.mux)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = ulid.Make().String()
		}
		w.Header().Set(headerRequestID, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// eventRequest is the POST body. payload_json is accepted as an alias of payload.
type eventRequest struct {
	EventType          string            `json:"event_type"`
	Actor              string            `json:"actor"`
	Target             string            `json:"target"`
	Domain             string            `json:"domain"`
	SignalType         ledger.SignalType `json:"signal_type"`
	OracleTier         *int              `json:"oracle_tier"`
	RandomSeed         *int64            `json:"random_seed"`
	CompletionPromise  string            `json:"completion_promise"`
	VerificationMethod string            `json:"verification_method"`
	Payload            map[string]any    `json:"payload"`
	PayloadJSON        map[string]any    `json:"payload_json"`
	CostTokens         *int64            `json:"cost_tokens"`
	CostUSD            *float64          `json:"cost_usd"`
	CostCarbon         *float64          `json:"cost_carbon"`
}

func (r eventRequest) event() ledger.Event {
	payload := r.Payload
	if payload == nil {
		payload = r.PayloadJSON
	}
	return ledger.Event{
		EventType:          r.EventType,
		Actor:              r.Actor,
		Target:             r.Target,
		Domain:             r.Domain,
		SignalType:         r.SignalType,
		OracleTier:         r.OracleTier,
		RandomSeed:         r.RandomSeed,
		CompletionPromise:  r.CompletionPromise,
		VerificationMethod: r.VerificationMethod,
		Payload:            payload,
		CostTokens:         r.CostTokens,
		CostUSD:            r.CostUSD,
		CostCarbon:         r.CostCarbon,
	}
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}

	id, err := s.store.RecordEvent(r.Context(), req.event())
	if err != nil {
		if ledger.IsConstraintViolation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "event_id": id})
}

func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.store.QueryEvents(r.Context(), f)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "data": events})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := ledger.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Export fully before writing anything so a failure can still be a 500.
	var body bytes.Buffer
	if err := s.store.Export(r.Context(), format, &body); err != nil {
		s.internalError(w, r, fmt.Errorf("%s export: %w", format, err))
		return
	}

	if format == ledger.FormatCSV {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=events.csv")
		_, _ = body.WriteTo(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"status":"ok","data":`)
	_, _ = body.WriteTo(w)
	_, _ = io.WriteString(w, "}\n")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "API is healthy"})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, fmt.Sprintf("internal server error: %v", err))
}

func parseFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	f := ledger.Filter{
		EventType:  q.Get("event_type"),
		Actor:      q.Get("actor"),
		Target:     q.Get("target"),
		Domain:     q.Get("domain"),
		SignalType: ledger.SignalType(q.Get("signal_type")),
		Limit:      ledger.DefaultLimit,
	}
	if !f.SignalType.Valid() {
		return f, fmt.Errorf("signal_type must be one of gravity, light, internal")
	}

	if v := q.Get("oracle_tier"); v != "" {
		tier, err := strconv.Atoi(v)
		if err != nil || tier < ledger.MinOracleTier || tier > ledger.MaxOracleTier {
			return f, fmt.Errorf("oracle_tier must be an integer between %d and %d", ledger.MinOracleTier, ledger.MaxOracleTier)
		}
		f.OracleTier = &tier
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxQueryLimit {
			return f, fmt.Errorf("limit must be an integer between 1 and %d", maxQueryLimit)
		}
		f.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
		f.Offset = offset
	}

	var err error
	if f.Since, err = parseTime(q.Get("start")); err != nil {
		return f, fmt.Errorf("start: %w", err)
	}
	if f.Until, err = parseTime(q.Get("end")); err != nil {
		return f, fmt.Errorf("end: %w", err)
	}
	return f, nil
}

// parseTime accepts RFC 3339 and the ledger's own zone-less layout (read as UTC).
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(ledger.TimestampLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": "error", "detail": msg})
}
