package registry

import (
	"github.com/tim-br/diakonos/internal/dkerr"
	"github.com/tim-br/diakonos/internal/unit"
)

// depSnapshot is a read-only view of the units known to the registry at
// the moment a resolution began — the resolver never touches the registry
// itself, only this copy, per spec: "pure over a read-snapshot... does not
// mutate state."
type depSnapshot map[string]*unit.Unit

// resolveActivationOrder walks target's activation dependencies
// (requires ++ wants) depth-first, post-order, and returns a slice that
// contains every transitive dependency before the dependent that needs it,
// target included exactly once.
//
// inStack marks names currently on the recursion stack and is cleared on
// unwind — a persistent "ever seen" set would spuriously report a cycle on
// a diamond (a→b, a→c, b→d, c→d), which is the bug this implementation
// deliberately avoids.
//
// A missing `requires` target is a hard DependencyNotMet. A missing
// `wants` target is logged by the caller and skipped — soft-miss, not a
// failure — which is this implementation's resolution of the open
// question spec.md §9 leaves to the implementer.
func resolveActivationOrder(snap depSnapshot, target string) ([]string, []string, error) {
	var resolved []string
	resolvedSet := make(map[string]bool)
	inStack := make(map[string]bool)
	var skippedWants []string

	var visit func(name string) error
	visit = func(name string) error {
		if inStack[name] {
			return dkerr.DependencyCycle(name)
		}
		inStack[name] = true
		defer func() { inStack[name] = false }()

		u, ok := snap[name]
		if !ok {
			// Only reachable for the initial target; dependency misses
			// are filtered before recursing.
			return dkerr.ServiceNotFound(name)
		}

		for _, d := range u.Requires {
			if resolvedSet[d] {
				continue
			}
			if _, ok := snap[d]; !ok {
				return dkerr.DependencyNotMet(name, d)
			}
			if err := visit(d); err != nil {
				return err
			}
		}
		for _, d := range u.Wants {
			if resolvedSet[d] {
				continue
			}
			if _, ok := snap[d]; !ok {
				skippedWants = append(skippedWants, d)
				continue
			}
			if err := visit(d); err != nil {
				return err
			}
		}

		if !resolvedSet[name] {
			resolvedSet[name] = true
			resolved = append(resolved, name)
		}
		return nil
	}

	if err := visit(target); err != nil {
		return nil, nil, err
	}
	return resolved, skippedWants, nil
}
