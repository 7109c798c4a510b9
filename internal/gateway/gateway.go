package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	claudeagent "github.com/kazz187/claude-agent-sdk-go"

	"github.com/aaravM123/goalkeeper/pkg/cerr"
)

// Gateway is the single model capability everything above builds on: one
// prompt in, one non-empty completion out, or an error. No internal state.
type Gateway interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

const (
	defaultInitialBackoff = 5 * time.Second
	maxBackoff            = 5 * time.Minute

	systemPrompt = "You are an autonomous planning agent. Follow the instructions in the prompt exactly and output only what is requested."
)

// ClaudeGateway implements Gateway on top of the Claude agent SDK, adding a
// hard per-call timeout and retry with exponential backoff for transient
// failures. Permanent failures (bad request, auth) surface immediately.
type ClaudeGateway struct {
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	query          func(ctx context.Context, prompt string) (string, error)
}

func NewClaudeGateway(timeout time.Duration, maxRetries int) *ClaudeGateway {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	g := &ClaudeGateway{
		timeout:        timeout,
		maxRetries:     maxRetries,
		initialBackoff: defaultInitialBackoff,
	}
	g.query = g.queryClaude
	return g
}

// WithQuery overrides the SDK call and the backoff base. Tests only.
func (g *ClaudeGateway) WithQuery(query func(ctx context.Context, prompt string) (string, error), backoff time.Duration) *ClaudeGateway {
	g.query = query
	g.initialBackoff = backoff
	return g
}

func (g *ClaudeGateway) Complete(ctx context.Context, prompt string) (string, error) {
	backoff := g.initialBackoff
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", cerr.NewError(cerr.Canceled, "completion canceled", ctx.Err())
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		out, err := g.query(ctx, prompt)
		if err == nil {
			return out, nil
		}
		if !cerr.IsTransient(err) {
			return "", err
		}
		lastErr = err
	}
	return "", cerr.NewError(cerr.Unavailable, "completion retries exhausted",
		fmt.Errorf("gave up after %d attempts: %w", g.maxRetries+1, lastErr))
}

func (g *ClaudeGateway) queryClaude(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	maxTurns := 1
	opts := &claudeagent.ClaudeAgentOptions{
		SystemPrompt: systemPrompt,
		MaxTurns:     &maxTurns,
	}

	result, err := claudeagent.RunQuerySync(callCtx, prompt, opts)
	if err != nil {
		return "", classify(err)
	}
	if result.Result == nil {
		return "", cerr.NewError(cerr.Unavailable, "model returned no result", nil)
	}
	if result.Result.IsError {
		return "", classify(errors.New(result.Result.Result))
	}
	text := strings.TrimSpace(result.Result.Result)
	if text == "" {
		// Never report an empty completion as success.
		return "", cerr.NewError(cerr.Unavailable, "model returned an empty completion", nil)
	}
	return text, nil
}

// classify maps a raw SDK failure onto an error code so that callers can tell
// retryable failures from permanent ones.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return cerr.NewError(cerr.DeadlineExceeded, "completion timed out", err)
	case errors.Is(err, context.Canceled):
		return cerr.NewError(cerr.Canceled, "completion canceled", err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "429"), strings.Contains(msg, "529"):
		return cerr.NewError(cerr.ResourceExhausted, "model is rate limiting", err)
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "authentication"),
		strings.Contains(msg, "api key"):
		return cerr.NewError(cerr.Unauthenticated, "model authentication failed", err)
	case strings.Contains(msg, "invalid"):
		return cerr.NewError(cerr.InvalidArgument, "model rejected the request", err)
	default:
		return cerr.NewError(cerr.Unavailable, "model call failed", err)
	}
}
