// Package router implements the Model Router (C6): PHI-gated local/cloud
// LLM selection, grounded on the teacher's breaker-wrapped adapter-selection
// idiom (internal/adapters/speech's per-backend breaker).
package router

import (
	"context"

	"github.com/sageclinic/orchestrator/internal/domain"
	"github.com/sageclinic/orchestrator/internal/domain/models"
	"github.com/sageclinic/orchestrator/internal/ports"
)

// Policy mirrors the router_mode config option (spec §6).
type Policy string

const (
	PolicyHybrid     Policy = "hybrid"
	PolicyLocalOnly  Policy = "local_only"
	PolicyCloudOnly  Policy = "cloud_only"
)

const (
	LocalBreakerKey = "llm_local"
	CloudBreakerKey = "llm_cloud"
)

// Router chooses between a local-capable and a cloud LLMClient.
type Router struct {
	local    ports.LLMClient
	cloud    ports.LLMClient
	policy   Policy
	breakers ports.CircuitBreakerRegistry
}

func New(local, cloud ports.LLMClient, policy Policy, breakers ports.CircuitBreakerRegistry) *Router {
	return &Router{local: local, cloud: cloud, policy: policy, breakers: breakers}
}

// Choose implements ports.ModelRouter per spec §4.6's policy table.
func (r *Router) Choose(ctx context.Context, verdict models.PHIVerdict) (ports.LLMClient, error) {
	preferred, fallback, fallbackAllowed := r.resolvePreference(verdict)

	if preferred != nil && r.breakerOK(preferred) {
		return preferred, nil
	}

	if fallbackAllowed && fallback != nil && r.breakerOK(fallback) {
		return fallback, nil
	}

	return nil, domain.NewDomainErrorWithCode(domain.ErrNoModelAvailable, "no model available under current PHI/circuit constraints", domain.CodeLLMUnavailable)
}

// resolvePreference returns the preferred client, a fallback client, and
// whether falling back is permitted without violating the PHI boundary
// (spec §4.6: "fall back to the other only when doing so does not violate
// a PHI boundary").
func (r *Router) resolvePreference(verdict models.PHIVerdict) (preferred, fallback ports.LLMClient, fallbackAllowed bool) {
	switch r.policy {
	case PolicyLocalOnly:
		return r.local, nil, false
	case PolicyCloudOnly:
		return r.cloud, nil, false
	default: // hybrid
		if verdict.HasPHI {
			// PHI must stay local; falling back to cloud would violate the
			// boundary, so no fallback is offered.
			return r.local, nil, false
		}
		return r.cloud, r.local, true
	}
}

func (r *Router) breakerOK(client ports.LLMClient) bool {
	key := CloudBreakerKey
	if client.LocalCapable() {
		key = LocalBreakerKey
	}
	state := r.breakers.State(key)
	return state.Mode != models.BreakerOpen
}

// ValidatePolicy rejects cloud_only under HIPAA mode at config load,
// resolving the spec's Open Question on cloud-only routing (DESIGN.md).
func ValidatePolicy(policy Policy, hipaaMode bool) error {
	if hipaaMode && policy == PolicyCloudOnly {
		return domain.NewDomainErrorWithCode(domain.ErrNoModelAvailable, "router_mode=cloud_only is forbidden under HIPAA mode", domain.CodeValidationError)
	}
	return nil
}
