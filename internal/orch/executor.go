package orch

import (
	"context"
	"fmt"
	"strings"

	"prpipe/pkg/backlog"
	"prpipe/pkg/config"
	"prpipe/pkg/logx"
	"prpipe/pkg/scheduler"
	"prpipe/pkg/utils"
)

// newExecutor returns the executor for the configured kind. Only the no-op
// executor ships in-tree; real executors are external agent processes bound
// by whoever embeds the orchestrator.
func newExecutor(kind string) (scheduler.Executor, error) {
	switch kind {
	case config.ExecutorNoop:
		return &noopExecutor{log: logx.NewLogger("executor")}, nil
	default:
		return nil, fmt.Errorf("unknown executor type %q", kind)
	}
}

// noopExecutor acknowledges each unit without performing work, which keeps
// the full pipeline runnable end to end before any real executor is wired.
type noopExecutor struct {
	log *logx.Logger
}

func (e *noopExecutor) Execute(ctx context.Context, req scheduler.ExecRequest) (scheduler.ExecResult, error) {
	if err := ctx.Err(); err != nil {
		return scheduler.ExecResult{}, err
	}
	logx.Debug("executor", "noop execution for %s", req.Unit.ID)
	return scheduler.ExecResult{Detail: "noop"}, nil
}

// newScopeResearcher builds the in-tree researcher, which distills a unit's
// context scope contract into findings text. External research agents replace
// it in production; the distillation keeps the research stage, its queue, and
// its artifacts exercised without one.
func newScopeResearcher(maxScopeTokens int) scheduler.Researcher {
	return &scopeResearcher{maxTokens: maxScopeTokens, log: logx.NewLogger("research")}
}

type scopeResearcher struct {
	maxTokens int
	log       *logx.Logger
}

func (r *scopeResearcher) Research(ctx context.Context, unit *backlog.Subtask) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	scope, err := backlog.ParseScope(unit.ContextScope)
	if err != nil {
		// Validation runs before any unit is scheduled, so a malformed
		// scope here means the working copy was corrupted in memory.
		return "", fmt.Errorf("failed to parse context scope for %s: %w", unit.ID, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Findings for %s\n\n", unit.ID)
	fmt.Fprintf(&sb, "## Objective\n\n%s\n\n", scope.Objective)
	fmt.Fprintf(&sb, "## Inputs\n\n%s\n\n", scope.Inputs)
	fmt.Fprintf(&sb, "## Deliverables\n\n%s\n\n", scope.Deliverables)
	fmt.Fprintf(&sb, "## Verification\n\n%s\n", scope.Verification)

	if tokens := utils.EstimateTokens(unit.ContextScope); r.maxTokens > 0 && tokens > r.maxTokens {
		fmt.Fprintf(&sb, "\nNote: context scope is %d tokens, over the %d budget.\n", tokens, r.maxTokens)
		r.log.Warn("context scope for %s is %d tokens (budget %d)", unit.ID, tokens, r.maxTokens)
	}
	return sb.String(), nil
}
