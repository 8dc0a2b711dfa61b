package formula

import "sort"

// Node is one calculated field in a dependency graph: its variable key and
// the variable keys its formula references.
type Node struct {
	Name string
	Deps []string
}

// ResolveOrder computes a safe evaluation order for a set of calculated
// fields via topological sort. Dependencies pointing outside the set (plain
// fields, measures) are leaves and impose no ordering. The returned order is
// deterministic: ties break on field name.
//
// Cycles are tolerated, never fatal: members of a cycle are excluded from the
// order and reported in cyclic so the caller can leave them unresolved while
// the rest of the pass completes.
func ResolveOrder(nodes []Node) (order []string, cyclic []string) {
	inSet := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		inSet[n.Name] = true
	}

	// indegree counts unresolved dependencies within the set;
	// dependents is the reverse adjacency.
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string)
	for _, n := range nodes {
		indegree[n.Name] = 0
	}
	for _, n := range nodes {
		seen := map[string]bool{}
		for _, dep := range n.Deps {
			if !inSet[dep] || dep == n.Name || seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[n.Name]++
			dependents[dep] = append(dependents[dep], n.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		var unblocked []string
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unblocked = append(unblocked, dep)
			}
		}
		if len(unblocked) > 0 {
			sort.Strings(unblocked)
			ready = mergeSorted(ready, unblocked)
		}
	}

	for name, deg := range indegree {
		if deg > 0 {
			cyclic = append(cyclic, name)
		}
	}
	sort.Strings(cyclic)
	return order, cyclic
}

func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
