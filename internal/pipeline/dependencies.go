package pipeline

import "sort"

// Dependencies is the read-only, per-tick view of dependency resolution:
// entity and program ids mapped to whether any holder is Fielded or
// Terminated. Ids absent from the map are unknown and count as satisfied.
type Dependencies map[string]bool

// BuildDependencies snapshots the population. It must be called once per
// tick before any researcher steps.
func BuildDependencies(rs []*Researcher) Dependencies {
	deps := make(Dependencies, 2*len(rs))
	for _, r := range rs {
		done := r.Context.Status.Terminal()
		deps[r.ID] = deps[r.ID] || done
		if pid := r.Context.ProgramID; pid != "" {
			deps[pid] = deps[pid] || done
		}
	}
	return deps
}

// Unsatisfied counts ids that are known and not yet resolved.
func (d Dependencies) Unsatisfied(ids []string) int {
	n := 0
	for _, id := range ids {
		if done, known := d[id]; known && !done {
			n++
		}
	}
	return n
}

// UnknownDependencies lists, sorted and de-duplicated, dependency ids that
// match no entity or program in the population.
func UnknownDependencies(rs []*Researcher) []string {
	known := BuildDependencies(rs)
	seen := make(map[string]bool)
	var out []string
	for _, r := range rs {
		for _, id := range r.Context.Dependencies {
			if _, ok := known[id]; ok || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
