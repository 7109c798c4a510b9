package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aaravM123/goalkeeper/internal/config"
	"github.com/aaravM123/goalkeeper/internal/eventbus"
	"github.com/aaravM123/goalkeeper/internal/gateway"
	goalrepo "github.com/aaravM123/goalkeeper/internal/goal/repositoryimpl"
	"github.com/aaravM123/goalkeeper/internal/orchestrator"
	"github.com/aaravM123/goalkeeper/internal/planner"
	"github.com/aaravM123/goalkeeper/internal/progress"
	"github.com/aaravM123/goalkeeper/internal/scheduler"
	"github.com/aaravM123/goalkeeper/internal/server"
	"github.com/aaravM123/goalkeeper/pkg/cerr"
	"github.com/aaravM123/goalkeeper/pkg/clog"
	"github.com/aaravM123/goalkeeper/pkg/lockfile"
	"github.com/aaravM123/goalkeeper/pkg/sentinel"
	"github.com/aaravM123/goalkeeper/pkg/storage"
)

func main() {
	// When invoked as "goalkeeper-server run" this process is the real
	// server. Without the subcommand it acts as the supervising
	// sentinel and re-execs itself with "run" as a child.
	if len(os.Args) > 1 && os.Args[1] == "run" {
		runServer()
		return
	}

	s, err := sentinel.New()
	if err != nil {
		slog.Error("failed to create sentinel", "error", err)
		os.Exit(1)
	}
	if err := s.Run(); err != nil {
		slog.Error("sentinel error", "error", err)
		os.Exit(1)
	}
}

func runServer() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup storage
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	bus := eventbus.New()
	repo := goalrepo.NewYAMLRepository(store)
	gw := gateway.NewClaudeGateway(env.GatewayTimeout, env.GatewayMaxRetries)
	pl := planner.New(gw)
	engine := progress.New(gw, env.StallThreshold)
	lock := lockfile.New(filepath.Join(env.StorageEnv.BaseDir, "agent.lock"))
	orch := orchestrator.New(repo, pl, engine, bus, lock)
	sched := scheduler.New(orch, env.TickInterval)
	srv := server.New(env, orch)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Log lifecycle events as they flow through the bus.
	subID, events := bus.Subscribe(16)
	defer bus.Unsubscribe(subID)
	go func() {
		for {
			select {
			case ev := <-events:
				slog.Info("goal event", "type", ev.Type, "status", ev.Status, "day", ev.Day)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Seed the initial goal from the environment if nothing is planned yet.
	if env.Goal != "" {
		if _, err := orch.RunOnce(ctx, env.Goal); err != nil {
			if cerr.IsCode(err, cerr.FailedPrecondition) {
				slog.Debug("goal already planned, ignoring GOALKEEPER_GOAL")
			} else {
				slog.Error("failed to plan initial goal", "error", err)
				os.Exit(1)
			}
		}
	}

	go sched.Start(ctx)

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	if st, err := orch.State(context.Background()); err == nil {
		slog.Info("final goal state", "status", st.Status, "day", st.CurrentDay, "subtasks_done", st.Plan.DoneCount())
	} else if !cerr.IsCode(err, cerr.NotFound) {
		slog.Warn("failed to read final goal state", "error", err)
	}
}
