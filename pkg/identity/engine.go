package identity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Engine applies drift avoidance strategies over a run's resource set.
//
// Strategies are evaluated in descending priority; ties are broken by
// registration order. The engine stages every decision first and commits the
// identity map all-or-nothing: a failed run leaves the map untouched.
type Engine struct {
	logger     zerolog.Logger
	strategies []Strategy
}

// NewEngine creates a drift avoidance engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		logger: logger.With().Str("component", "drift-engine").Logger(),
	}
}

// RegisterStrategy appends a strategy. Registration order is the tie-break
// between equal priorities.
func (e *Engine) RegisterStrategy(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// RegisterStrategies appends strategies preserving the given order.
func (e *Engine) RegisterStrategies(strategies []Strategy) {
	e.strategies = append(e.strategies, strategies...)
}

// Strategies returns registered strategies in registration order.
func (e *Engine) Strategies() []Strategy {
	out := make([]Strategy, len(e.strategies))
	copy(out, e.strategies)
	return out
}

// stagedDecision accumulates the per-resource verdict while strategies run.
type stagedDecision struct {
	resource       *Resource
	outcome        Outcome
	newID          string
	preservation   PreservationStrategy
	overrides      map[string]interface{}
	identityFixed  bool // an identity action (preserve/rename) has decided
	forcedReplaced bool // blocked type or unsatisfiable precondition
}

// Apply evaluates every registered strategy over the resource set and
// commits the resulting identity decisions into the map.
//
// The map is mutated only after the full run validates; on any fatal error
// the map is exactly as the caller passed it.
func (e *Engine) Apply(m *LogicalIDMap, resources []Resource) (*ApplyResult, error) {
	cfg := m.Config

	ordered := make([]Strategy, len(e.strategies))
	copy(ordered, e.strategies)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	reports := make([]StrategyApplicationReport, len(ordered))
	for i := range ordered {
		reports[i] = StrategyApplicationReport{StrategyName: ordered[i].Name}
	}

	result := &ApplyResult{
		Decisions:    make(map[string]Decision, len(resources)),
		Substitution: make(map[string]string),
	}

	staged := make([]*stagedDecision, 0, len(resources))
	var execErrors []string

	for ri := range resources {
		r := &resources[ri]
		sd := &stagedDecision{resource: r}
		blocked := cfg.TypeBlocked(r.Type)

		for si := range ordered {
			s := &ordered[si]
			report := &reports[si]

			matched, err := s.Matches(r)
			if err != nil {
				execErr := &ExecutionError{Strategy: s.Name, Err: err}
				report.Errors = append(report.Errors, execErr.Error())
				execErrors = append(execErrors, execErr.Error())
				continue
			}
			if !matched {
				continue
			}
			report.MatchedResources = append(report.MatchedResources, r.CurrentID)

			for ai := range s.Actions {
				e.applyAction(&s.Actions[ai], sd, m, report, blocked)
			}
		}

		e.resolveDefault(sd, m, blocked, result)
		staged = append(staged, sd)
	}

	// Validation gate: strategy failures become fatal before any mutation.
	if cfg.ValidateBeforeApply && len(execErrors) > 0 {
		return nil, fmt.Errorf("drift avoidance aborted by validation gate: %s", strings.Join(execErrors, "; "))
	}

	// Identity conflicts always abort the whole run, gate or no gate.
	if err := e.detectConflicts(m, staged); err != nil {
		return nil, err
	}

	e.commit(m, staged)

	for _, sd := range staged {
		decision := Decision{
			CurrentID:    sd.resource.CurrentID,
			ResourceType: sd.resource.Type,
			Outcome:      sd.outcome,
			NewID:        sd.newID,
			Preservation: sd.preservation,
			Overrides:    sd.overrides,
		}
		result.Decisions[sd.resource.CurrentID] = decision
		if sd.outcome == OutcomePreserved || sd.outcome == OutcomeRenamed {
			result.Substitution[sd.resource.CurrentID] = sd.newID
		}
		if cfg.PreserveResourceOrder {
			result.OrderedIDs = append(result.OrderedIDs, sd.resource.CurrentID)
		}
	}
	result.Reports = reports

	e.logger.Debug().
		Str("stack", m.StackName).
		Int("resources", len(resources)).
		Int("preserved", countOutcome(result, OutcomePreserved)).
		Int("renamed", countOutcome(result, OutcomeRenamed)).
		Int("replaced", countOutcome(result, OutcomeReplaced)).
		Msg("Drift avoidance applied")

	return result, nil
}

// applyAction folds one matched action into the staged decision.
func (e *Engine) applyAction(a *Action, sd *stagedDecision, m *LogicalIDMap, report *StrategyApplicationReport, blocked bool) {
	r := sd.resource

	switch a.Type {
	case ActionPreserveLogicalID:
		if blocked {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: resource type %s is blocked; preserve-logical-id not applied", r.CurrentID, r.Type))
			return
		}
		if sd.identityFixed {
			if sd.outcome != OutcomePreserved {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("%s: preserve-logical-id conflicts with an earlier higher-priority action; ignored", r.CurrentID))
			}
			return
		}
		sd.identityFixed = true
		sd.outcome = OutcomePreserved
		if entry, ok := m.Mappings[r.CurrentID]; ok {
			sd.newID = entry.NewID
			sd.preservation = entry.Preservation
		} else {
			sd.newID = r.CurrentID
			sd.preservation = PreservationExactMatch
		}
		report.ActionsApplied = append(report.ActionsApplied, "preserve-logical-id:"+r.CurrentID)

	case ActionDeterministicNaming:
		if blocked {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: resource type %s is blocked; deterministic-naming not applied", r.CurrentID, r.Type))
			return
		}
		if !m.Config.EnableDeterministicNaming {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: deterministic naming is disabled by configuration", r.CurrentID))
			return
		}
		if entry, ok := m.Mappings[r.CurrentID]; ok && !entry.Preservation.AllowsRename() {
			// Never rename an exact-match (or hash-suffix) entry; the
			// rejection is reported, not silently applied.
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: entry uses %s preservation; deterministic-naming rejected", r.CurrentID, entry.Preservation))
			return
		}
		if sd.identityFixed {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: deterministic-naming conflicts with an earlier higher-priority action; ignored", r.CurrentID))
			return
		}

		newID := DeterministicName(r.ComponentName, r.ComponentType, r.Type)
		preservation := PreservationDeterministic
		if mode, ok := a.Parameters["mode"].(string); ok && mode == string(PreservationHashSuffix) {
			originalID := r.CurrentID
			if entry, ok := m.Mappings[r.CurrentID]; ok {
				originalID = entry.OriginalID
			}
			newID = HashSuffix(originalID, r.ComponentName, r.ComponentType, r.Type)
			preservation = PreservationNamingConvention
		}

		// A different resource already pinned to the computed name means
		// the precondition fails: the rename is abandoned and the resource
		// falls through to replacement, reported as a warning.
		if other := findByNewID(m, newID); other != nil && other.OriginalID != r.CurrentID {
			if !other.Preservation.AllowsRename() {
				sd.identityFixed = true
				sd.forcedReplaced = true
				sd.outcome = OutcomeReplaced
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("%s: computed id %s conflicts with pinned entry %s; resource will be replaced", r.CurrentID, newID, other.OriginalID))
				return
			}
		}

		sd.identityFixed = true
		sd.outcome = OutcomeRenamed
		sd.newID = newID
		sd.preservation = preservation
		report.ActionsApplied = append(report.ActionsApplied,
			fmt.Sprintf("deterministic-naming:%s->%s", r.CurrentID, newID))

	case ActionPropertyOverride:
		if sd.overrides == nil {
			sd.overrides = make(map[string]interface{})
		}
		for k, v := range a.Parameters {
			sd.overrides[k] = v
		}
		report.ActionsApplied = append(report.ActionsApplied, "property-override:"+r.CurrentID)

	default:
		report.Errors = append(report.Errors,
			fmt.Sprintf("%s: unknown action type %q", r.CurrentID, a.Type))
	}
}

// resolveDefault settles resources no identity action decided. The default
// is preserve; replacement is opt-in through the type lists.
func (e *Engine) resolveDefault(sd *stagedDecision, m *LogicalIDMap, blocked bool, result *ApplyResult) {
	r := sd.resource

	if blocked {
		// Block precedence: even a strategy-preserved resource is replaced.
		if sd.identityFixed && sd.outcome != OutcomeReplaced {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: resource type %s is blocked; overriding %s with replacement", r.CurrentID, r.Type, sd.outcome))
		} else if !sd.forcedReplaced {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: resource type %s is blocked; resource will be replaced", r.CurrentID, r.Type))
		}
		sd.identityFixed = true
		sd.outcome = OutcomeReplaced
		sd.newID = ""
		return
	}

	if sd.identityFixed {
		return
	}

	if !m.Config.TypeAllowed(r.Type) {
		sd.outcome = OutcomeReplaced
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%s: resource type %s is not allowed for preservation; resource will be replaced", r.CurrentID, r.Type))
		return
	}

	sd.outcome = OutcomePreserved
	if entry, ok := m.Mappings[r.CurrentID]; ok {
		sd.newID = entry.NewID
		sd.preservation = entry.Preservation
	} else {
		sd.newID = r.CurrentID
		sd.preservation = PreservationExactMatch
	}
}

// detectConflicts finds rewritten identifiers claimed by more than one
// original identifier, including entries carried over from prior runs.
func (e *Engine) detectConflicts(m *LogicalIDMap, staged []*stagedDecision) error {
	claims := make(map[string][]string)

	observed := make(map[string]bool, len(staged))
	for _, sd := range staged {
		observed[sd.resource.CurrentID] = true
	}

	for _, sd := range staged {
		if sd.outcome == OutcomeReplaced || sd.newID == "" {
			continue
		}
		originalID := sd.resource.CurrentID
		if entry, ok := m.Mappings[sd.resource.CurrentID]; ok {
			originalID = entry.OriginalID
		}
		claims[sd.newID] = append(claims[sd.newID], originalID)
	}

	// Entries not observed this run still occupy the identifier space.
	for currentID, entry := range m.Mappings {
		if observed[currentID] {
			continue
		}
		claims[entry.NewID] = append(claims[entry.NewID], entry.OriginalID)
	}

	var conflicts []Conflict
	for newID, originals := range claims {
		distinct := uniqueStrings(originals)
		if len(distinct) > 1 {
			sort.Strings(distinct)
			conflicts = append(conflicts, Conflict{NewID: newID, OriginalIDs: distinct})
		}
	}
	if len(conflicts) == 0 {
		return nil
	}

	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].NewID < conflicts[j].NewID })
	return &ConflictError{StackName: m.StackName, Conflicts: conflicts}
}

// commit writes the staged decisions into the map. Entries are created on
// first observation and updated, never re-created, afterwards.
func (e *Engine) commit(m *LogicalIDMap, staged []*stagedDecision) {
	now := time.Now().UTC()

	for _, sd := range staged {
		if sd.outcome == OutcomeReplaced {
			continue
		}
		r := sd.resource

		if entry, ok := m.Mappings[r.CurrentID]; ok {
			if entry.NewID != sd.newID {
				entry.NewID = sd.newID
				entry.Preservation = sd.preservation
			}
			entry.Metadata.UpdatedAt = now
			continue
		}

		m.Mappings[r.CurrentID] = &IdentityEntry{
			OriginalID:    r.CurrentID,
			NewID:         sd.newID,
			ResourceType:  r.Type,
			ComponentName: r.ComponentName,
			ComponentType: r.ComponentType,
			Preservation:  sd.preservation,
			Metadata: EntryMetadata{
				StackName:   m.StackName,
				Environment: m.Environment,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
		}
	}
	m.UpdatedAt = now
}

func findByNewID(m *LogicalIDMap, newID string) *IdentityEntry {
	for _, entry := range m.Mappings {
		if entry.NewID == newID {
			return entry
		}
	}
	return nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func countOutcome(result *ApplyResult, outcome Outcome) int {
	n := 0
	for _, d := range result.Decisions {
		if d.Outcome == outcome {
			n++
		}
	}
	return n
}
