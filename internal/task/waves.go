package task

import "fmt"

// computeWaves assigns each task a wave number by longest-path-from-root
// topological assignment (spec §4.3/SPEC_FULL.md §4.3): wave 0 has no
// dependencies; wave N's tasks have every dependency in a wave < N.
// Dependencies pointing at unknown ids are ignored (dangling refs are
// tolerated, matching the divinesense scheduler's in-degree build which
// errors instead — here we degrade gracefully since splits can leave
// transient references during recomputation).
func computeWaves(tasks map[string]*Task) (map[string]int, int, error) {
	waves := make(map[string]int, len(tasks))
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(tasks))

	var visit func(id string) (int, error)
	visit = func(id string) (int, error) {
		if w, ok := waves[id]; ok {
			return w, nil
		}
		if state[id] == visiting {
			return 0, fmt.Errorf("task: dependency cycle detected at %q", id)
		}
		state[id] = visiting
		t, ok := tasks[id]
		if !ok {
			state[id] = done
			waves[id] = 0
			return 0, nil
		}
		max := -1
		for _, dep := range t.Dependencies() {
			if _, ok := tasks[dep]; !ok {
				continue
			}
			w, err := visit(dep)
			if err != nil {
				return 0, err
			}
			if w > max {
				max = w
			}
		}
		w := max + 1
		waves[id] = w
		state[id] = done
		return w, nil
	}

	total := 0
	for id := range tasks {
		w, err := visit(id)
		if err != nil {
			return nil, 0, err
		}
		if w+1 > total {
			total = w + 1
		}
	}
	return waves, total, nil
}
