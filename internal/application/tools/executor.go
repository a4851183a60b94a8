// Package tools implements the Tool Executor (C9): the closed state machine
// that validates, authorizes, rate-limits, confirms, and runs one tool call,
// auditing every transition. Grounded on the teacher's handle_tool.go
// timeout-via-context idiom and tools/coordinator.go's iteration-bounded
// execution loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sageclinic/orchestrator/internal/domain"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// ConfirmationTimeout bounds how long the executor waits for a user's
// approve/deny decision before treating the call as cancelled (spec §4.9).
const ConfirmationTimeout = 60 * time.Second

// BreakerKeyPrefix namespaces per-tool circuit breaker keys so one
// misbehaving tool's breaker can't mask another's availability.
const BreakerKeyPrefix = "tool:"

// idGenerator is the narrow slice of the id.Generator the executor needs.
type idGenerator interface {
	GenerateToolUseID() string
}

// Executor implements ports.ToolExecutor.
type Executor struct {
	registry     ports.ToolRegistry
	phi          ports.PHIDetector
	limiter      ports.RateLimiter
	confirmation ports.ConfirmationChannel
	audit        ports.AuditSink
	breakers     ports.CircuitBreakerRegistry
	calls        ports.ToolCallStore
	ids          idGenerator
	now          func() time.Time
}

// calls may be nil, in which case ToolCall/ToolResult persistence is
// skipped and the executor relies on audit events alone.
func New(registry ports.ToolRegistry, phiDetector ports.PHIDetector, limiter ports.RateLimiter, confirmation ports.ConfirmationChannel, audit ports.AuditSink, breakers ports.CircuitBreakerRegistry, calls ports.ToolCallStore, ids idGenerator) *Executor {
	return &Executor{
		registry:     registry,
		phi:          phiDetector,
		limiter:      limiter,
		confirmation: confirmation,
		audit:        audit,
		breakers:     breakers,
		calls:        calls,
		ids:          ids,
		now:          time.Now,
	}
}

func (e *Executor) saveCall(ctx context.Context, call *models.ToolCall) {
	if e.calls == nil {
		return
	}
	_ = e.calls.Save(ctx, call)
}

func (e *Executor) saveResult(ctx context.Context, result models.ToolResult) {
	if e.calls == nil {
		return
	}
	_ = e.calls.SaveResult(ctx, result)
}

// Execute drives one call through received -> validated -> authorized ->
// rate_checked -> [awaiting_confirmation] -> executing -> a terminal state,
// auditing the outcome (spec §4.9).
func (e *Executor) Execute(ctx context.Context, name string, rawArgs map[string]any, userID, sessionID, traceID string) (models.ToolResult, error) {
	call := models.NewToolCall(e.ids.GenerateToolUseID(), name, rawArgs, sessionID, userID, traceID, e.now())
	e.saveCall(ctx, call)

	def, handler, ok := e.registry.Get(name)
	if !ok {
		return e.deny(ctx, call, models.ToolErrValidation, domain.ErrToolNotRegistered, domain.CodeValidationError)
	}

	if err := validateArgs(def, rawArgs); err != nil {
		return e.deny(ctx, call, models.ToolErrValidation, err, domain.CodeValidationError)
	}
	call.Validate(e.now())
	e.saveCall(ctx, call)

	phiInvolved, err := e.checkPHI(ctx, def, rawArgs)
	if err != nil {
		return e.deny(ctx, call, models.ToolErrPHI, err, domain.CodePHIViolation)
	}
	call.PHIInvolved = phiInvolved
	call.Authorize(e.now())
	e.saveCall(ctx, call)

	allowed, err := e.limiter.Allow(ctx, rateLimitKey(name, userID), rateLimit(def), 60)
	if err != nil || !allowed {
		if err == nil {
			err = domain.ErrToolRateLimited
		}
		return e.deny(ctx, call, models.ToolErrRateLimit, err, domain.CodeRateLimitExceeded)
	}
	call.RateCheck(e.now())
	e.saveCall(ctx, call)

	if def.RequiresConfirmation {
		approved, err := e.awaitConfirmation(ctx, call, rawArgs)
		if err != nil {
			call.Cancel(e.now())
			e.saveCall(ctx, call)
			e.emitAudit(ctx, call, "denied")
			result := models.ToolResult{ToolCallID: call.ID, Success: false, ErrorKind: models.ToolErrPermission, ErrorMessage: err.Error()}
			e.saveResult(ctx, result)
			return result, err
		}
		if !approved {
			call.Cancel(e.now())
			e.saveCall(ctx, call)
			e.emitAudit(ctx, call, "denied")
			result := models.ToolResult{ToolCallID: call.ID, Success: false, ErrorKind: models.ToolErrPermission, ErrorMessage: domain.ErrConfirmationDenied.Error()}
			e.saveResult(ctx, result)
			return result, domain.ErrConfirmationDenied
		}
	}

	return e.run(ctx, call, def, handler, rawArgs, userID)
}

func (e *Executor) checkPHI(ctx context.Context, def models.ToolDefinition, args map[string]any) (bool, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", args))
	}

	verdict, err := e.phi.Detect(ctx, string(encoded))
	if err != nil {
		// The classifier already fails conservatively (models.ConservativeVerdict);
		// a non-nil error here means it could not even do that, so treat as PHI.
		verdict = models.ConservativeVerdict()
	}

	if verdict.HasPHI && !def.RequiresPHI {
		return true, domain.ErrToolPHIViolation
	}
	return verdict.HasPHI, nil
}

func (e *Executor) awaitConfirmation(ctx context.Context, call *models.ToolCall, args map[string]any) (bool, error) {
	call.AwaitConfirmation(e.now())

	waitCtx, cancel := context.WithTimeout(ctx, ConfirmationTimeout)
	defer cancel()

	approved, err := e.confirmation.Request(waitCtx, call.ID, args)
	if err != nil {
		if waitCtx.Err() != nil {
			return false, domain.ErrConfirmationTimeout
		}
		return false, err
	}
	return approved, nil
}

func (e *Executor) run(ctx context.Context, call *models.ToolCall, def models.ToolDefinition, handler ports.ToolHandler, args map[string]any, userID string) (models.ToolResult, error) {
	call.Execute(e.now())
	started := e.now()

	timeout := time.Duration(def.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result models.ToolResult
	breakerErr := e.breakers.Guard(runCtx, BreakerKeyPrefix+def.Name, func(ctx context.Context) error {
		r, err := handler(ctx, args, userID)
		result = r
		return err
	})

	result.ToolCallID = call.ID
	result.DurationMS = e.now().Sub(started).Milliseconds()

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		call.Fail(models.ToolErrTimeout, e.now())
		result.Success = false
		result.ErrorKind = models.ToolErrTimeout
		result.ErrorMessage = domain.ErrToolTimeout.Error()
		e.saveCall(ctx, call)
		e.saveResult(ctx, result)
		e.emitAudit(ctx, call, "timeout")
		return result, domain.ErrToolTimeout
	case breakerErr != nil:
		call.Fail(models.ToolErrInternal, e.now())
		result.Success = false
		result.ErrorKind = models.ToolErrInternal
		result.ErrorMessage = breakerErr.Error()
		e.saveCall(ctx, call)
		e.saveResult(ctx, result)
		e.emitAudit(ctx, call, "error")
		return result, breakerErr
	case !result.Success:
		call.Fail(errorKindOrDefault(result.ErrorKind), e.now())
		e.saveCall(ctx, call)
		e.saveResult(ctx, result)
		e.emitAudit(ctx, call, "error")
		return result, nil
	default:
		call.Complete(e.now())
		e.saveCall(ctx, call)
		e.saveResult(ctx, result)
		e.emitAudit(ctx, call, "ok")
		return result, nil
	}
}

func (e *Executor) deny(ctx context.Context, call *models.ToolCall, kind models.ToolErrorKind, cause error, code string) (models.ToolResult, error) {
	call.Fail(kind, e.now())
	e.saveCall(ctx, call)
	result := models.ToolResult{ToolCallID: call.ID, Success: false, ErrorKind: kind, ErrorMessage: cause.Error()}
	e.saveResult(ctx, result)
	e.emitAudit(ctx, call, "denied")
	return result, domain.NewDomainErrorWithCode(cause, cause.Error(), code)
}

func (e *Executor) emitAudit(ctx context.Context, call *models.ToolCall, outcome string) {
	payload, err := json.Marshal(call.Arguments)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", call.Arguments))
	}

	_ = e.audit.Append(ctx, ports.AuditEvent{
		TraceID:     call.TraceID,
		UserIDHash:  call.UserID,
		SessionID:   call.SessionID,
		ActionKind:  "tool:" + call.Name,
		SubjectID:   call.ID,
		Outcome:     outcome,
		PHIInvolved: call.PHIInvolved,
		DurationMS:  call.UpdatedAt.Sub(call.CreatedAt).Milliseconds(),
		Payload:     string(payload),
	})
}

func errorKindOrDefault(kind models.ToolErrorKind) models.ToolErrorKind {
	if kind == "" {
		return models.ToolErrInternal
	}
	return kind
}

func rateLimitKey(tool, userID string) string {
	return tool + ":" + userID
}

func rateLimit(def models.ToolDefinition) int {
	if def.RateLimitPerMinute <= 0 {
		return 60
	}
	return def.RateLimitPerMinute
}

// validateArgs checks that every key named in the argument schema's
// top-level "required" list is present. Property types are not checked
// (spec §9: tools are closed-set records, not free-form JSON Schema
// validators).
func validateArgs(def models.ToolDefinition, args map[string]any) error {
	var required []string
	switch list := def.ArgumentSchema["required"].(type) {
	case []string:
		required = list
	case []any:
		for _, v := range list {
			if key, ok := v.(string); ok {
				required = append(required, key)
			}
		}
	}
	for _, key := range required {
		if _, present := args[key]; !present {
			return fmt.Errorf("%w: missing required argument %q", domain.ErrToolValidation, key)
		}
	}
	return nil
}
