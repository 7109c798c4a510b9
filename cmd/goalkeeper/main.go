// Command goalkeeper is a local CLI for driving a goal agent against
// the same storage the server uses: plan a goal, advance a day by
// hand, and inspect status and history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/aaravM123/goalkeeper/internal/config"
	"github.com/aaravM123/goalkeeper/internal/eventbus"
	"github.com/aaravM123/goalkeeper/internal/gateway"
	"github.com/aaravM123/goalkeeper/internal/goal"
	goalrepo "github.com/aaravM123/goalkeeper/internal/goal/repositoryimpl"
	"github.com/aaravM123/goalkeeper/internal/orchestrator"
	"github.com/aaravM123/goalkeeper/internal/planner"
	"github.com/aaravM123/goalkeeper/internal/progress"
	"github.com/aaravM123/goalkeeper/pkg/cerr"
	"github.com/aaravM123/goalkeeper/pkg/lockfile"
	"github.com/aaravM123/goalkeeper/pkg/storage"
)

var (
	app = kingpin.New("goalkeeper", "Autonomous goal execution agent")

	runCmd  = app.Command("run", "Plan a new goal")
	runGoal = runCmd.Arg("goal", "Goal description").Required().String()

	tickCmd = app.Command("tick", "Advance the goal by one day")

	statusCmd = app.Command("status", "Show the current goal status")

	logCmd = app.Command("log", "Show the daily progress log")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, err := buildOrchestrator(ctx)
	if err != nil {
		fatalf("setup error: %v", err)
	}

	switch command {
	case runCmd.FullCommand():
		handleRun(ctx, orch, *runGoal)
	case tickCmd.FullCommand():
		handleTick(ctx, orch)
	case statusCmd.FullCommand():
		handleStatus(ctx, orch)
	case logCmd.FullCommand():
		handleLog(ctx, orch)
	}
}

func buildOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}

	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(ctx, env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
	}
	if err != nil {
		return nil, err
	}

	repo := goalrepo.NewYAMLRepository(store)
	gw := gateway.NewClaudeGateway(env.GatewayTimeout, env.GatewayMaxRetries)
	engine := progress.New(gw, env.StallThreshold)
	lock := lockfile.New(filepath.Join(env.StorageEnv.BaseDir, "agent.lock"))
	return orchestrator.New(repo, planner.New(gw), engine, eventbus.New(), lock), nil
}

func handleRun(ctx context.Context, orch *orchestrator.Orchestrator, goalText string) {
	state, err := orch.RunOnce(ctx, goalText)
	if err != nil {
		fatalf("failed to plan goal: %v", err)
	}
	color.Green("Goal planned: %s", state.Goal.Text)
	fmt.Printf("Estimated days: %d\n", state.Plan.EstimatedDays)
	for _, st := range state.Plan.Subtasks {
		fmt.Printf("  %d. %s\n", st.ID+1, st.Description)
	}
}

func handleTick(ctx context.Context, orch *orchestrator.Orchestrator) {
	state, err := orch.Tick(ctx)
	if err != nil {
		if cerr.IsCode(err, cerr.FailedPrecondition) && state == nil {
			fatalf("no goal has been planned yet, run 'goalkeeper run <goal>' first")
		}
		// A failed day still updates the failure counter.
		color.Red("day advance failed: %v", err)
		if state != nil && state.Status == goal.StatusStalled {
			color.Red("goal stalled after %d consecutive failures", state.ConsecutiveFailures)
		}
		os.Exit(1)
	}
	printStatusLine(state)
	if last := state.LastEntry(); last != nil {
		fmt.Printf("Day %d: %s\n", last.Day+1, last.Summary)
	}
}

func handleStatus(ctx context.Context, orch *orchestrator.Orchestrator) {
	state, err := orch.State(ctx)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			fmt.Println("No goal planned.")
			return
		}
		fatalf("failed to load state: %v", err)
	}

	printStatusLine(state)
	fmt.Printf("Goal: %s\n", state.Goal.Text)
	fmt.Printf("Day %d of %d\n", state.CurrentDay, state.Plan.EstimatedDays)
	for _, st := range state.Plan.Subtasks {
		marker := " "
		switch st.Status {
		case goal.SubtaskStatusDone:
			marker = color.GreenString("x")
		case goal.SubtaskStatusInProgress:
			marker = color.YellowString(">")
		case goal.SubtaskStatusSkipped:
			marker = color.HiBlackString("-")
		}
		fmt.Printf("  [%s] %s\n", marker, st.Description)
	}
}

func handleLog(ctx context.Context, orch *orchestrator.Orchestrator) {
	state, err := orch.State(ctx)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			fmt.Println("No goal planned.")
			return
		}
		fatalf("failed to load state: %v", err)
	}
	if len(state.Log) == 0 {
		fmt.Println("No progress recorded yet.")
		return
	}
	for _, entry := range state.Log {
		fmt.Printf("%s  day %d  %s\n",
			entry.Timestamp.Format("2006-01-02"), entry.Day+1, entry.Summary)
	}
}

func printStatusLine(state *goal.AgentState) {
	switch state.Status {
	case goal.StatusCompleted:
		color.Green("Status: %s", state.Status)
	case goal.StatusStalled:
		color.Red("Status: %s", state.Status)
	default:
		color.Cyan("Status: %s", state.Status)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
