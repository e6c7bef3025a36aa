package engine

// PolicyConfig represents per-project pipeline configuration.
// Loaded from the policies table's config JSONB column.
type PolicyConfig struct {
	PIIEntities        []string `json:"pii_entities"`
	ConsensusThreshold *float64 `json:"consensus_threshold"`
	ConsensusSamples   *int     `json:"consensus_samples"`
	ExpertModel        *string  `json:"expert_model"`
}

// EffectiveEntities returns the PII entity categories to scan for.
// A nil or empty list falls back to the provided server defaults.
func (pc *PolicyConfig) EffectiveEntities(serverDefault []string) []string {
	if pc == nil || len(pc.PIIEntities) == 0 {
		return serverDefault
	}
	return pc.PIIEntities
}

// EffectiveConsensusThreshold returns the minimum pairwise similarity for an
// answer to count as consistent. A nil field falls back to the server default.
func (pc *PolicyConfig) EffectiveConsensusThreshold(serverDefault float64) float64 {
	if pc == nil || pc.ConsensusThreshold == nil {
		return serverDefault
	}
	return *pc.ConsensusThreshold
}

// EffectiveConsensusSamples returns how many candidate answers to generate.
// Values below two are meaningless for a pairwise check and fall back to the
// server default.
func (pc *PolicyConfig) EffectiveConsensusSamples(serverDefault int) int {
	if pc == nil || pc.ConsensusSamples == nil || *pc.ConsensusSamples < 2 {
		return serverDefault
	}
	return *pc.ConsensusSamples
}

// EffectiveExpertModel returns the remote reviewer model for this project.
// A nil field falls back to the server default.
func (pc *PolicyConfig) EffectiveExpertModel(serverDefault string) string {
	if pc == nil || pc.ExpertModel == nil {
		return serverDefault
	}
	return *pc.ExpertModel
}
