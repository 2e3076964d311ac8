// Package project holds the external collaborator data the core engine
// reads but does not own the lifecycle of: project settings, discovered
// build/test/lint skills, and the cost-tier escalation chain. The CRUD
// surface for projects/templates is out of scope (spec §1); this package
// only models the fields the Task Runner and Agent Manager consult.
package project

import "strings"

// Tier is a cost bucket, T0 (cheapest) through T3 (most capable/expensive).
type Tier string

const (
	T0 Tier = "T0"
	T1 Tier = "T1"
	T2 Tier = "T2"
	T3 Tier = "T3"
)

// Multiplier returns the cost weight for a tier, used by cost-ceiling
// pre-flight checks and cost summary bucketing.
func (t Tier) Multiplier() float64 {
	switch t {
	case T0:
		return 0
	case T1:
		return 1
	case T2:
		return 2
	case T3:
		return 3
	default:
		return 1
	}
}

// Escalation is an ordered list of tiers indexed by retry count, clamped at
// the chain's length (spec §9 Open Question #2: maxRetriesTotal is enforced
// by the runner's blocking decision, never by clamping here).
type Escalation []Tier

// DefaultEscalation is used when a project does not configure one.
var DefaultEscalation = Escalation{T0, T0, T1, T2, T3}

// TierForRetry returns the tier for the given zero-based retry index,
// clamped to the chain's last entry.
func (e Escalation) TierForRetry(retry int) Tier {
	if len(e) == 0 {
		e = DefaultEscalation
	}
	if retry < 0 {
		retry = 0
	}
	if retry >= len(e) {
		retry = len(e) - 1
	}
	return e[retry]
}

// PinnedModel overrides the tier-derived model by a label substring match.
// The first entry whose Substring is contained in the task label (matched
// case-insensitively) wins.
type PinnedModel struct {
	Substring string
	Model     string
}

// Settings are the per-project knobs the runner/agent manager consult.
type Settings struct {
	Escalation       Escalation
	MaxRetriesTotal  int
	MaxConcurrency   int
	PinnedModels     []PinnedModel
	CostCeiling      float64 // 0 means unlimited
}

// Skills are build/test/lint commands discovered across prior sessions plus
// project-specific output patterns, fed into agent prompts.
type Skills struct {
	BuildCommands []string
	TestCommands  []string
	LintCommands  []string
	Patterns      []string
}

// Merge set-unions other into s, preserving s's existing order and
// appending only genuinely new entries (spec §4.4 step 8: "merge into
// project skills (set-union)").
func (s *Skills) Merge(other Skills) {
	s.BuildCommands = mergeUnique(s.BuildCommands, other.BuildCommands)
	s.TestCommands = mergeUnique(s.TestCommands, other.TestCommands)
	s.LintCommands = mergeUnique(s.LintCommands, other.LintCommands)
	s.Patterns = mergeUnique(s.Patterns, other.Patterns)
}

func mergeUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, v := range base {
		seen[v] = true
	}
	for _, v := range extra {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		base = append(base, v)
	}
	return base
}

// WorkspaceAnalysis is the optional tech-stack summary computed by the
// external workspace analyzer (spec §1, §4.4 step 3).
type WorkspaceAnalysis struct {
	Summary      string
	Languages    []string
	BuildCommand string
	TestCommand  string
}

// Project is the subset of project state the core engine reads.
type Project struct {
	Slug     string
	Dir      string
	Settings Settings
	Skills   Skills
}

// ModelForRetry resolves the model string for a given task label and retry
// index: a pinned-model substring match wins outright; otherwise the tier's
// default model name is returned alongside the tier.
func (p *Project) ModelForRetry(label string, retry int) (tier Tier, model string) {
	tier = p.Settings.Escalation.TierForRetry(retry)
	lower := strings.ToLower(label)
	for _, pin := range p.Settings.PinnedModels {
		if pin.Substring == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(pin.Substring)) {
			return tier, pin.Model
		}
	}
	return tier, defaultModelForTier(tier)
}

func defaultModelForTier(t Tier) string {
	switch t {
	case T0:
		return "haiku"
	case T1:
		return "sonnet"
	case T2:
		return "sonnet-thinking"
	case T3:
		return "opus"
	default:
		return "sonnet"
	}
}
