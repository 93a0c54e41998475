package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"

	"github.com/Swind/go-workflow-runner/core"
	"github.com/Swind/go-workflow-runner/internal/api"
	obs "github.com/Swind/go-workflow-runner/observability/prometheus"
	"github.com/Swind/go-workflow-runner/workflow"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the ledger HTTP API, Prometheus metrics and gRPC health",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address (default :8080)"},
			&cli.StringFlag{Name: "grpc-addr", Usage: "gRPC health listen address (default :9090)"},
			&cli.IntFlag{Name: "workers", Usage: "executor pool size"},
			&cli.DurationFlag{Name: "demo-every", Usage: "run the demo workflow on this interval (0 disables)"},
		},
		Action: withSession(serveAction),
	}
}

func serveAction(c *cli.Context, rt *session) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	exporter, err := obs.NewMetricsExporter(rt.cfg.MetricsNamespace, reg, obs.ExporterOptions{})
	if err != nil {
		return cli.Exit(fmt.Sprintf("metrics exporter: %v", err), 1)
	}
	poller, err := obs.NewSnapshotPoller(reg, rt.cfg.PollInterval)
	if err != nil {
		return cli.Exit(fmt.Sprintf("snapshot poller: %v", err), 1)
	}

	logger := rt.coreLogger()
	poolConfig := &core.TaskSchedulerConfig{
		PanicHandler:        &core.LoggingPanicHandler{Logger: logger},
		Metrics:             exporter,
		RejectedTaskHandler: &core.LoggingRejectedTaskHandler{Logger: logger},
		Logger:              logger,
	}
	exec := workflow.NewExecutor(
		workflow.WithMaxWorkers(rt.cfg.MaxWorkers),
		workflow.WithBackoff(rt.cfg.Backoff),
		workflow.WithLedger(rt.ledger),
		workflow.WithLogger(logger),
		workflow.WithMetrics(exporter),
		workflow.WithPoolConfig(poolConfig),
	)
	defer exec.Close()

	poller.AddExecutor("default", exec)
	poller.AddPool("default", exec.Pool())
	poller.Start(ctx)
	defer poller.Stop()

	httpServer := &http.Server{
		Addr:    rt.cfg.HTTPAddr,
		Handler: api.NewServer(rt.ledger, api.WithLogger(rt.logger), api.WithMetrics(reg)).Handler(),
	}

	grpcListener, err := net.Listen("tcp", rt.cfg.GRPCAddr)
	if err != nil {
		return cli.Exit(fmt.Sprintf("listen %s: %v", rt.cfg.GRPCAddr, err), 1)
	}
	grpcServer := grpc.NewServer()
	health := api.NewHealthReporter(rt.ledger, rt.cfg.PollInterval, rt.logger)
	health.Register(grpcServer)
	go health.Run(ctx)

	if every := c.Duration("demo-every"); every > 0 {
		go runDemoLoop(ctx, exec, every, rt)
	}

	errCh := make(chan error, 2)
	go func() {
		rt.logger.Info("http listening", "addr", rt.cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		rt.logger.Info("grpc listening", "addr", rt.cfg.GRPCAddr)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		rt.logger.Info("shutting down")
	case serveErr = <-errCh:
		rt.logger.Error("server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn("http shutdown", "error", err)
	}
	grpcServer.GracefulStop()

	if serveErr != nil {
		return cli.Exit(serveErr.Error(), 1)
	}
	return nil
}

func runDemoLoop(ctx context.Context, exec *workflow.Executor, every time.Duration, rt *session) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			def, err := demoWorkflow(false)
			if err != nil {
				rt.logger.Error("build demo workflow", "error", err)
				return
			}
			run := exec.Execute(ctx, def)
			rt.logger.Info("demo workflow finished", "execution_id", run.ExecutionID, "status", run.Status.String())
		}
	}
}
