package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aaravM123/goalkeeper/internal/eventbus"
	goalrepo "github.com/aaravM123/goalkeeper/internal/goal/repositoryimpl"
	"github.com/aaravM123/goalkeeper/internal/orchestrator"
	"github.com/aaravM123/goalkeeper/internal/planner"
	"github.com/aaravM123/goalkeeper/internal/progress"
	"github.com/aaravM123/goalkeeper/pkg/lockfile"
	"github.com/aaravM123/goalkeeper/pkg/storage"
)

type fakeGateway struct{ plan string }

func (g *fakeGateway) Complete(_ context.Context, prompt string) (string, error) {
	if strings.HasPrefix(prompt, "Plan the following goal") {
		return g.plan, nil
	}
	return "wrote the draft", nil
}

func newCLIOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	gw := &fakeGateway{plan: "DAYS: 2\n1. write the outline\n2. write the draft\n"}
	repo := goalrepo.NewYAMLRepository(store)
	lock := lockfile.New(filepath.Join(dir, "agent.lock"))
	return orchestrator.New(repo, planner.New(gw), progress.New(gw, 3), eventbus.New(), lock)
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read captured output: %v", err)
	}
	return string(out)
}

func TestHandleTickPrintsOneBasedDay(t *testing.T) {
	orch := newCLIOrchestrator(t)
	ctx := context.Background()
	if _, err := orch.RunOnce(ctx, "write a short story"); err != nil {
		t.Fatalf("run once failed: %v", err)
	}

	out := captureStdout(t, func() { handleTick(ctx, orch) })
	if !strings.Contains(out, "Day 1:") {
		t.Errorf("tick output %q does not report the first day as Day 1", out)
	}
}

func TestHandleLogPrintsOneBasedDays(t *testing.T) {
	orch := newCLIOrchestrator(t)
	ctx := context.Background()
	if _, err := orch.RunOnce(ctx, "write a short story"); err != nil {
		t.Fatalf("run once failed: %v", err)
	}
	if _, err := orch.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	out := captureStdout(t, func() { handleLog(ctx, orch) })
	if !strings.Contains(out, "day 1") {
		t.Errorf("log output %q does not report the first entry as day 1", out)
	}
	if strings.Contains(out, "day 0") {
		t.Errorf("log output %q still renders zero-based days", out)
	}
}
