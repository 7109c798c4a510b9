package planner

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aaravM123/goalkeeper/internal/gateway"
	"github.com/aaravM123/goalkeeper/internal/goal"
	"github.com/aaravM123/goalkeeper/pkg/cerr"
)

// Planner turns a goal into an estimated duration and an ordered subtask
// decomposition with a single gateway call.
type Planner struct {
	gw gateway.Gateway
}

func New(gw gateway.Gateway) *Planner {
	return &Planner{gw: gw}
}

// Plan requests a day estimate and one subtask per day-equivalent unit of
// work. A response that cannot be parsed strictly is an error; a silently
// wrong plan is worse than a visible failure. Content quality is not retried
// here; only gateway-level transient failures are (inside the gateway).
func (p *Planner) Plan(ctx context.Context, g goal.Goal) (*goal.Plan, error) {
	out, err := p.gw.Complete(ctx, buildPrompt(g))
	if err != nil {
		return nil, err
	}
	plan, err := parsePlan(out)
	if err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "unparsable plan response", err)
	}
	return plan, nil
}

func buildPrompt(g goal.Goal) string {
	var b strings.Builder
	b.WriteString("Plan the following goal as a sequence of daily subtasks.\n\n")
	fmt.Fprintf(&b, "Goal: %s\n\n", g.Text)
	b.WriteString("Respond in exactly this format, with no extra commentary:\n")
	b.WriteString("DAYS: <number of days needed, an integer between 1 and 10>\n")
	b.WriteString("1. <first subtask, achievable in one day>\n")
	b.WriteString("2. <second subtask>\n")
	b.WriteString("... one numbered line per day.\n")
	return b.String()
}

// parsePlan extracts the day estimate and numbered subtask lines. It requires
// a positive integer estimate and at least one subtask.
func parsePlan(response string) (*goal.Plan, error) {
	var (
		days     int
		haveDays bool
		subtasks []goal.Subtask
	)

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !haveDays {
			rest, ok := cutPrefixFold(line, "DAYS:")
			if ok {
				n, err := strconv.Atoi(strings.TrimSpace(rest))
				if err != nil {
					return nil, fmt.Errorf("day estimate %q is not an integer", strings.TrimSpace(rest))
				}
				if n <= 0 {
					return nil, fmt.Errorf("day estimate must be positive, got %d", n)
				}
				days = n
				haveDays = true
				continue
			}
		}

		if desc, ok := parseNumberedLine(line); ok {
			subtasks = append(subtasks, goal.Subtask{
				ID:          len(subtasks),
				Description: desc,
				Status:      goal.SubtaskStatusPending,
			})
		}
	}

	if !haveDays {
		return nil, fmt.Errorf("no day estimate found")
	}
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("no subtask lines found")
	}
	return &goal.Plan{EstimatedDays: days, Subtasks: subtasks}, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return "", false
}

// parseNumberedLine matches "1. do something" or "1) do something".
func parseNumberedLine(line string) (string, bool) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(line) {
		return "", false
	}
	if line[i] != '.' && line[i] != ')' {
		return "", false
	}
	desc := strings.TrimSpace(line[i+1:])
	if desc == "" {
		return "", false
	}
	return desc, true
}
