package task

import "strings"

// dataDepKeywords is the closed set of phrases the stall heuristic scans a
// dependent's description for (spec §4.3 "True-data-dependency heuristic").
var dataDepKeywords = []string{
	"uses output of",
	"reads from",
	"depends on data from",
	"imports from",
	"requires result",
	"consumes",
	"reads output",
	"needs file from",
	"generated by",
}

// hasTrueDataDependency reports whether dependentDescription should be
// treated as a genuine data dependency on the staller, preserving the edge
// instead of letting the stall detector remove it.
//
// Per spec §4.3: "If any keyword is present alongside the staller's label,
// or any keyword is present at all, treat as true data dependency and
// preserve the edge." This is the aggressive reading of the spec's Open
// Question #1 — any keyword anywhere in the description wins, regardless of
// whether the staller's label co-occurs with it — implemented as specified
// rather than tightened, since the spec says behavior here is as observed.
func hasTrueDataDependency(dependentDescription, stallerLabel string) bool {
	lower := strings.ToLower(dependentDescription)
	for _, kw := range dataDepKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
