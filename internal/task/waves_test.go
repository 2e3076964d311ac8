package task

import "testing"

func TestComputeWavesLinearChain(t *testing.T) {
	a := NewTask("A", "a", "", nil, TypeWork, false, nil)
	b := NewTask("B", "b", "", []string{"A"}, TypeWork, false, nil)
	c := NewTask("C", "c", "", []string{"B"}, TypeWork, false, nil)
	tasks := map[string]*Task{"A": a, "B": b, "C": c}

	waves, total, err := computeWaves(tasks)
	if err != nil {
		t.Fatalf("computeWaves: %v", err)
	}
	if total != 3 {
		t.Fatalf("total waves = %d, want 3", total)
	}
	if waves["A"] != 0 || waves["B"] != 1 || waves["C"] != 2 {
		t.Fatalf("waves = %+v, want A:0 B:1 C:2", waves)
	}
}

func TestComputeWavesFanInTakesLongestPath(t *testing.T) {
	a := NewTask("A", "a", "", nil, TypeWork, false, nil)
	b := NewTask("B", "b", "", []string{"A"}, TypeWork, false, nil)
	c := NewTask("C", "c", "", nil, TypeWork, false, nil)
	d := NewTask("D", "d", "", []string{"B", "C"}, TypeWork, false, nil)
	tasks := map[string]*Task{"A": a, "B": b, "C": c, "D": d}

	waves, total, err := computeWaves(tasks)
	if err != nil {
		t.Fatalf("computeWaves: %v", err)
	}
	if total != 3 {
		t.Fatalf("total waves = %d, want 3", total)
	}
	if waves["D"] != 2 {
		t.Fatalf("D's wave = %d, want 2 (longest path through B)", waves["D"])
	}
}

func TestComputeWavesDetectsCycle(t *testing.T) {
	a := NewTask("A", "a", "", []string{"B"}, TypeWork, false, nil)
	b := NewTask("B", "b", "", []string{"A"}, TypeWork, false, nil)
	tasks := map[string]*Task{"A": a, "B": b}

	if _, _, err := computeWaves(tasks); err == nil {
		t.Fatal("expected a cycle-detection error, got nil")
	}
}

func TestComputeWavesToleratesDanglingDependency(t *testing.T) {
	a := NewTask("A", "a", "", []string{"ghost"}, TypeWork, false, nil)
	tasks := map[string]*Task{"A": a}

	waves, total, err := computeWaves(tasks)
	if err != nil {
		t.Fatalf("computeWaves: %v", err)
	}
	if total != 1 || waves["A"] != 0 {
		t.Fatalf("waves = %+v total=%d, want A:0 total:1", waves, total)
	}
}

func TestHasTrueDataDependencyKeywordAnywhereWins(t *testing.T) {
	cases := []struct {
		desc string
		want bool
	}{
		{"this task reads from the output file", true},
		{"generated by the previous step", true},
		{"implement the widget UI", false},
		{"consumes the staging config", true},
	}
	for _, c := range cases {
		if got := hasTrueDataDependency(c.desc, "unrelated label"); got != c.want {
			t.Errorf("hasTrueDataDependency(%q) = %v, want %v", c.desc, got, c.want)
		}
	}
}

func TestDynamicConcurrencyLimitClampsToSwarmMax(t *testing.T) {
	if got := dynamicConcurrencyLimit(3, 4, 50); got != 4 {
		t.Fatalf("dynamicConcurrencyLimit = %d, want 4 (clamped to swarmMax)", got)
	}
	if got := dynamicConcurrencyLimit(3, 0, 0); got < 1 {
		t.Fatalf("dynamicConcurrencyLimit = %d, want >= 1", got)
	}
}

func TestTaskReplaceDependencySubstitutesInPlace(t *testing.T) {
	tsk := NewTask("X", "x", "", []string{"A", "B"}, TypeWork, false, nil)
	tsk.ReplaceDependency("A", []string{"A1", "A2"})
	deps := tsk.Dependencies()
	want := map[string]bool{"A1": true, "A2": true, "B": true}
	if len(deps) != 3 {
		t.Fatalf("deps = %v, want 3 entries", deps)
	}
	for _, d := range deps {
		if !want[d] {
			t.Fatalf("unexpected dependency %q in %v", d, deps)
		}
	}
}

func TestTaskAppendHumanFeedbackNoOpOnEmpty(t *testing.T) {
	tsk := NewTask("X", "x", "original", nil, TypeWork, false, nil)
	tsk.AppendHumanFeedback("")
	if tsk.Description() != "original" {
		t.Fatalf("Description = %q, want unchanged", tsk.Description())
	}
	tsk.AppendHumanFeedback("please retry with caution")
	if got := tsk.Description(); got == "original" {
		t.Fatal("Description did not change after non-empty feedback")
	}
}
