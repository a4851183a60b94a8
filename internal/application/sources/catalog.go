package sources

import "github.com/sageclinic/orchestrator/internal/domain/models"

// DefaultCatalog seeds the four backend kinds the policy matrix routes
// between; a deployment's config.Sources.BaseURLs decides which of these
// actually have a reachable client (sourceclient.BuildSourceClients skips
// any name with no configured base URL).
func DefaultCatalog() []models.SourceDescriptor {
	return []models.SourceDescriptor{
		{
			Name:         "internal_kb",
			Kind:         models.SourceInternalKB,
			Capabilities: []models.SourceCapability{models.CapabilityHybrid},
			SLA:          models.SourceSLA{DeadlineMS: 5000},
		},
		{
			Name:         "literature",
			Kind:         models.SourceLiterature,
			Capabilities: []models.SourceCapability{models.CapabilitySemantic},
			SLA:          models.SourceSLA{DeadlineMS: 5000},
		},
		{
			Name:         "guidelines",
			Kind:         models.SourceGuidelines,
			Capabilities: []models.SourceCapability{models.CapabilityKeyword, models.CapabilitySemantic},
			SLA:          models.SourceSLA{DeadlineMS: 5000},
		},
		{
			Name:         "notes",
			Kind:         models.SourceNotes,
			Capabilities: []models.SourceCapability{models.CapabilityKeyword},
			SLA:          models.SourceSLA{DeadlineMS: 5000},
		},
	}
}
