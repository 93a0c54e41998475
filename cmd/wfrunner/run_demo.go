package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-workflow-runner/workflow"
)

func runDemoCommand() *cli.Command {
	return &cli.Command{
		Name:  "run-demo",
		Usage: "Run a sample workflow and record its events in the ledger",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "maximum concurrent tasks"},
			&cli.DurationFlag{Name: "backoff", Usage: "delay between retries"},
			&cli.BoolFlag{Name: "fail", Usage: "make the publish task fail"},
			&cli.BoolFlag{Name: "json", Usage: "print the execution snapshot as JSON"},
		},
		Action: withSession(runDemoAction),
	}
}

func runDemoAction(c *cli.Context, rt *session) error {
	def, err := demoWorkflow(c.Bool("fail"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("build workflow: %v", err), 1)
	}

	monitor := workflow.NewMonitor(rt.cfg.MonitorCapacity)
	exec := workflow.NewExecutor(
		workflow.WithMaxWorkers(rt.cfg.MaxWorkers),
		workflow.WithBackoff(rt.cfg.Backoff),
		workflow.WithLedger(rt.ledger),
		workflow.WithLogger(rt.coreLogger()),
		workflow.WithMonitor(monitor),
	)
	defer exec.Close()

	run := exec.Execute(c.Context, def)

	if c.Bool("json") {
		data, err := workflow.ToJSON(run)
		if err != nil {
			return cli.Exit(fmt.Sprintf("encode execution: %v", err), 1)
		}
		fmt.Println(string(data))
	} else {
		printExecution(run)
		fmt.Print(monitor.Report())
	}

	if run.Status != workflow.WorkflowSuccess {
		return cli.Exit(fmt.Sprintf("workflow %s", run.Status), 1)
	}
	return nil
}

func printExecution(run *workflow.WorkflowExecution) {
	fmt.Printf("execution %s: %s in %s\n", run.ExecutionID, run.Status, run.Duration().Round(time.Millisecond))
	ids := make([]string, 0, len(run.Tasks))
	for id := range run.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := run.Tasks[id]
		line := fmt.Sprintf("  %-10s %-8s attempts=%d", id, t.Status, t.Attempts)
		if t.Error != "" {
			line += " error=" + t.Error
		}
		fmt.Println(line)
	}
	if len(run.Blocked) > 0 {
		fmt.Printf("  blocked: %s\n", strings.Join(run.Blocked, ", "))
	}

	counts := run.TaskCounts()
	var summary []string
	for s := workflow.TaskPending; s <= workflow.TaskSkipped; s++ {
		if n := counts[s]; n > 0 {
			summary = append(summary, fmt.Sprintf("%s=%d", s, n))
		}
	}
	fmt.Printf("  tasks: %s\n", strings.Join(summary, " "))
}

// demoWorkflow is a small fan-out/fan-in pipeline:
//
//	fetch -> parse -> {validate, enrich} -> publish
func demoWorkflow(fail bool) (*workflow.WorkflowDefinition, error) {
	step := func(d time.Duration, result any) workflow.Handler {
		return func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
				return result, nil
			}
		}
	}

	publish := step(20*time.Millisecond, "published")
	if fail {
		publish = func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("publish target rejected the report")
		}
	}

	return workflow.NewBuilder("", "demo-pipeline").
		WithDescription("sample fan-out/fan-in pipeline").
		AddTask("fetch", "Fetch source", step(30*time.Millisecond, 128), workflow.InDomain("io")).
		AddTask("parse", "Parse records", func(_ context.Context, in map[string]any) (any, error) {
			n, _ := in["fetch"].(int)
			return n * 2, nil
		}, workflow.DependsOn("fetch"), workflow.InDomain("compute")).
		AddTask("validate", "Validate records", step(10*time.Millisecond, true),
			workflow.DependsOn("parse"), workflow.InDomain("compute")).
		AddTask("enrich", "Enrich records", step(15*time.Millisecond, "enriched"),
			workflow.DependsOn("parse"), workflow.InDomain("compute"), workflow.Timeout(time.Second)).
		AddTask("publish", "Publish report", publish,
			workflow.DependsOn("validate", "enrich"),
			workflow.InDomain("io"),
			workflow.Retries(2),
			workflow.When(func(out map[string]any) bool { return out["validate"] == true })).
		Build()
}
