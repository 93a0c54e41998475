package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-workflow-runner/ledger"
	"github.com/Swind/go-workflow-runner/workflow"
)

func testApp() *cli.App {
	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func countEvents(t *testing.T, path, eventType string) int64 {
	t.Helper()
	l, err := ledger.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer l.Close()
	n, err := l.Count(context.Background(), ledger.Filter{EventType: eventType})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	return n
}

// TestRunDemo tests the run-demo command end to end
// Main test items:
// 1. A successful run exits cleanly and records workflow_succeeded
// 2. --fail exits with an error and records task retries and workflow_failed
func TestRunDemo(t *testing.T) {
	db := filepath.Join(t.TempDir(), "events.db")

	if err := testApp().Run([]string{"wfrunner", "--db", db, "--log-level", "error", "run-demo", "--backoff", "1ms"}); err != nil {
		t.Fatalf("run-demo failed: %v", err)
	}
	if n := countEvents(t, db, workflow.EventWorkflowSucceeded); n != 1 {
		t.Fatalf("workflow_succeeded events = %d, want 1", n)
	}
	if n := countEvents(t, db, workflow.EventTaskSucceeded); n != 5 {
		t.Fatalf("task_succeeded events = %d, want 5", n)
	}

	err := testApp().Run([]string{"wfrunner", "--db", db, "--log-level", "error", "run-demo", "--backoff", "1ms", "--fail"})
	if err == nil {
		t.Fatal("expected run-demo --fail to return an error")
	}
	if n := countEvents(t, db, workflow.EventTaskRetrying); n != 2 {
		t.Fatalf("task_retrying events = %d, want 2", n)
	}
	if n := countEvents(t, db, workflow.EventWorkflowFailed); n != 1 {
		t.Fatalf("workflow_failed events = %d, want 1", n)
	}
}

// TestExportAndEvents tests the read-side commands against a seeded ledger
func TestExportAndEvents(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "events.db")

	l, err := ledger.OpenSQLite(context.Background(), db)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if _, err := l.RecordEvent(context.Background(), ledger.Event{EventType: "seed", Actor: "test"}); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}
	l.Close()

	out := filepath.Join(dir, "events.csv")
	if err := testApp().Run([]string{"wfrunner", "--db", db, "export", "--format", "csv", "--out", out}); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if err := testApp().Run([]string{"wfrunner", "--db", db, "events", "--type", "seed", "--limit", "5"}); err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if err := testApp().Run([]string{"wfrunner", "--db", db, "export", "--format", "xml"}); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

// TestLoadConfigRejectsBadFlags tests that invalid flag values fail before the ledger opens
func TestLoadConfigRejectsBadFlags(t *testing.T) {
	db := filepath.Join(t.TempDir(), "events.db")
	err := testApp().Run([]string{"wfrunner", "--db", db, "--log-level", "chatty", "run-demo"})
	if err == nil {
		t.Fatal("expected an error for an unsupported log level")
	}
}

func TestDemoWorkflowBuilds(t *testing.T) {
	def, err := demoWorkflow(false)
	if err != nil {
		t.Fatalf("demoWorkflow failed: %v", err)
	}
	if len(def.Tasks) != 5 || def.StartTask != "fetch" {
		t.Fatalf("unexpected demo workflow: %d tasks, start %q", len(def.Tasks), def.StartTask)
	}
}
