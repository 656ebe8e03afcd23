package identity

// StrategyApplicationReport summarizes one strategy's effect on one run.
// Reports are aggregated in the order strategies were evaluated.
type StrategyApplicationReport struct {
	StrategyName     string   `json:"strategy_name"`
	MatchedResources []string `json:"matched_resources,omitempty"`
	ActionsApplied   []string `json:"actions_applied,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

// Outcome is the terminal state of one resource in a run.
type Outcome string

const (
	// OutcomePreserved keeps the resource's recorded identity.
	OutcomePreserved Outcome = "preserved"

	// OutcomeRenamed rewrites the identity deterministically.
	OutcomeRenamed Outcome = "renamed"

	// OutcomeReplaced lets the synthesizer replace the resource. Never
	// silent: every replacement carries a warning.
	OutcomeReplaced Outcome = "replaced"
)

// Decision is the engine's verdict for one resource.
type Decision struct {
	CurrentID    string                 `json:"current_id"`
	ResourceType string                 `json:"resource_type"`
	Outcome      Outcome                `json:"outcome"`
	NewID        string                 `json:"new_id,omitempty"`
	Preservation PreservationStrategy   `json:"preservation_strategy,omitempty"`
	Overrides    map[string]interface{} `json:"overrides,omitempty"`
}

// ApplyResult is the outcome of one drift avoidance run.
type ApplyResult struct {
	// Reports holds one report per evaluated strategy, in evaluation order.
	Reports []StrategyApplicationReport `json:"reports"`

	// Decisions maps current IDs to their verdicts.
	Decisions map[string]Decision `json:"decisions"`

	// Substitution is the currentId -> newId rewrite handed back to the
	// synthesis layer before resource IDs are finalized.
	Substitution map[string]string `json:"substitution"`

	// OrderedIDs lists current IDs in original relative order. Populated
	// only when the config demands order preservation.
	OrderedIDs []string `json:"ordered_ids,omitempty"`

	// Warnings collects engine-level warnings (blocked types, forced
	// replacements) not attributable to a single strategy.
	Warnings []string `json:"warnings,omitempty"`
}
