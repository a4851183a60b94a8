package tools

import (
	"context"
	"fmt"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

// RegisterBuiltins wires the deployment's default tool set into r. Grounded
// on the spec's own worked example (model-initiated create_calendar_event
// with a confirmation round trip) plus one read-only, no-confirmation tool
// exercising the requires_phi=true local-only execution path.
func RegisterBuiltins(r *Registry) {
	r.Register(models.ToolDefinition{
		Name:     "create_calendar_event",
		Category: "scheduling",
		ArgumentSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":     map[string]any{"type": "string"},
				"start_time": map[string]any{"type": "string", "description": "RFC3339 timestamp"},
			},
			"required": []string{"title", "start_time"},
		},
		RequiresPHI:          true,
		RequiresConfirmation: true,
		RiskLevel:            models.RiskMedium,
		RateLimitPerMinute:   10,
		TimeoutSeconds:       10,
	}, createCalendarEvent)

	r.Register(models.ToolDefinition{
		Name:     "drug_lookup",
		Category: "reference",
		ArgumentSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"drug_name": map[string]any{"type": "string"},
			},
			"required": []string{"drug_name"},
		},
		RequiresPHI:          false,
		RequiresConfirmation: false,
		RiskLevel:            models.RiskLow,
		RateLimitPerMinute:   60,
		TimeoutSeconds:       5,
	}, drugLookup)
}

func createCalendarEvent(ctx context.Context, args map[string]any, userID string) (models.ToolResult, error) {
	title, _ := args["title"].(string)
	startTime, _ := args["start_time"].(string)
	if title == "" || startTime == "" {
		return models.ToolResult{Success: false, ErrorKind: models.ToolErrValidation, ErrorMessage: "title and start_time are required"}, nil
	}

	return models.ToolResult{
		Success: true,
		Payload: map[string]any{
			"event_id":   fmt.Sprintf("evt_%s", startTime),
			"title":      title,
			"start_time": startTime,
		},
	}, nil
}

// drugLookup is a placeholder stand-in for a real formulary lookup; a
// production deployment would satisfy this with an HTTP client against the
// institution's drug reference service.
func drugLookup(ctx context.Context, args map[string]any, userID string) (models.ToolResult, error) {
	name, _ := args["drug_name"].(string)
	if name == "" {
		return models.ToolResult{Success: false, ErrorKind: models.ToolErrValidation, ErrorMessage: "drug_name is required"}, nil
	}

	return models.ToolResult{
		Success: true,
		Payload: map[string]any{"drug_name": name, "found": false},
	}, nil
}
