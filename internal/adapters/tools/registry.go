// Package tools implements ports.ToolRegistry: a closed, statically
// registered set of ToolDefinition/ToolHandler pairs (spec §9's "tools
// registered as records" redesign, away from dynamic dispatch). Grounded
// on the teacher's builtin tool registration shape
// (_examples/longregen-alicia/internal/application/tools/builtin), adapted
// from its toolService.EnsureTool/RegisterExecutor round-trip into one
// in-memory map built once at startup.
package tools

import (
	"sync"

	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

type entry struct {
	def     models.ToolDefinition
	handler ports.ToolHandler
}

// Registry implements ports.ToolRegistry over a fixed set of tools
// registered at construction time.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds one tool. Not safe to call concurrently with Get/List; all
// registration is expected to happen during startup wiring.
func (r *Registry) Register(def models.ToolDefinition, handler ports.ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = entry{def: def, handler: handler}
}

func (r *Registry) Get(name string) (models.ToolDefinition, ports.ToolHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return models.ToolDefinition{}, nil, false
	}
	return e.def, e.handler, true
}

func (r *Registry) List() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	return defs
}

var _ ports.ToolRegistry = (*Registry)(nil)
