package ledger

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"

	exportPageSize = 500
)

// ParseFormat accepts "json" or "csv". An empty string means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// Export writes every event, newest first, to w.
func (l *Ledger) Export(ctx context.Context, format Format, w io.Writer) error {
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(eventColumns); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		err := l.eachPage(ctx, exportPageSize, func(events []Event) error {
			for _, ev := range events {
				if err := cw.Write(csvRecord(ev)); err != nil {
					return fmt.Errorf("write csv row: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	case FormatJSON, "":
		var all []Event
		if err := l.eachPage(ctx, exportPageSize, func(events []Event) error {
			all = append(all, events...)
			return nil
		}); err != nil {
			return err
		}
		return ExportJSON(w, all)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// eachPage walks every event newest first. Pages are keyed on the last row
// seen, so events recorded mid-walk are neither repeated nor shift the walk.
func (l *Ledger) eachPage(ctx context.Context, pageSize int, fn func([]Event) error) error {
	f := Filter{Limit: pageSize}
	for {
		page, err := l.QueryEvents(ctx, f)
		if err != nil {
			return err
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		last := page[len(page)-1]
		f.before = &cursor{timestamp: last.Timestamp, id: last.ID}
	}
}

// ExportJSON writes events as an indented JSON array. A nil slice is written as [].
func ExportJSON(w io.Writer, events []Event) error {
	if events == nil {
		events = []Event{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	return nil
}

// ExportCSV writes events as CSV with one column per ledger field.
func ExportCSV(w io.Writer, events []Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(eventColumns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, ev := range events {
		if err := cw.Write(csvRecord(ev)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRecord(ev Event) []string {
	payload := ""
	if ev.Payload != nil {
		if data, err := json.Marshal(ev.Payload); err == nil {
			payload = string(data)
		}
	}
	return []string{
		strconv.FormatInt(ev.ID, 10),
		formatTimestamp(ev.Timestamp),
		ev.EventType,
		ev.Actor,
		ev.Target,
		ev.Domain,
		string(ev.SignalType),
		optInt(ev.OracleTier),
		optInt64(ev.RandomSeed),
		ev.CompletionPromise,
		ev.VerificationMethod,
		payload,
		optInt64(ev.CostTokens),
		optFloat(ev.CostUSD),
		optFloat(ev.CostCarbon),
	}
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optInt64(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
