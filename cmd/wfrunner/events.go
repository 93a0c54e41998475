package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-workflow-runner/ledger"
)

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Query ledger events, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "event type"},
			&cli.StringFlag{Name: "actor"},
			&cli.StringFlag{Name: "target"},
			&cli.StringFlag{Name: "domain"},
			&cli.StringFlag{Name: "signal", Usage: "gravity, light or internal"},
			&cli.IntFlag{Name: "tier", Value: -1, Usage: "oracle tier 0-4"},
			&cli.TimestampFlag{Name: "since", Layout: time.RFC3339},
			&cli.TimestampFlag{Name: "until", Layout: time.RFC3339},
			&cli.IntFlag{Name: "limit", Value: ledger.DefaultLimit},
			&cli.IntFlag{Name: "offset"},
		},
		Action: withSession(eventsAction),
	}
}

func eventsAction(c *cli.Context, rt *session) error {
	f := ledger.Filter{
		EventType:  c.String("type"),
		Actor:      c.String("actor"),
		Target:     c.String("target"),
		Domain:     c.String("domain"),
		SignalType: ledger.SignalType(c.String("signal")),
		Limit:      c.Int("limit"),
		Offset:     c.Int("offset"),
	}
	if tier := c.Int("tier"); tier >= 0 {
		f.OracleTier = ledger.Tier(tier)
	}
	if ts := c.Timestamp("since"); ts != nil {
		f.Since = *ts
	}
	if ts := c.Timestamp("until"); ts != nil {
		f.Until = *ts
	}

	events, err := rt.ledger.QueryEvents(c.Context, f)
	if err != nil {
		return cli.Exit(fmt.Sprintf("query events: %v", err), 1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export every ledger event as JSON or CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "json or csv"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"},
		},
		Action: withSession(exportAction),
	}
}

func exportAction(c *cli.Context, rt *session) error {
	format, err := ledger.ParseFormat(c.String("format"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	out := os.Stdout
	if path := c.String("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("create %s: %v", path, err), 1)
		}
		defer f.Close()
		out = f
	}

	if err := rt.ledger.Export(c.Context, format, out); err != nil {
		return cli.Exit(fmt.Sprintf("export: %v", err), 1)
	}
	return nil
}
