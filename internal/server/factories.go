package server

import (
	"github.com/sageclinic/orchestrator/internal/application/generate"
	"github.com/sageclinic/orchestrator/internal/application/tools"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// newExecutor builds one session's Tool Executor (C9) over the shared
// registry/limiter/audit/breaker/store collaborators, but a confirmation
// channel scoped to the one socket asking for approval.
func newExecutor(d *Dependencies, confirm ports.ConfirmationChannel) ports.ToolExecutor {
	return tools.New(d.ToolRegistry, d.PHI, d.RateLimiter, confirm, d.Audit, d.Breakers, d.ToolCalls, d.IDs)
}

// newGenerator wraps the executor into the Answer Generator (C7), whose
// only collaborator is the executor itself (spec §4.7: suspend mid-stream
// for a model-initiated tool call, resume once it resolves).
func newGenerator(executor ports.ToolExecutor) ports.AnswerGenerator {
	return generate.New(executor)
}
