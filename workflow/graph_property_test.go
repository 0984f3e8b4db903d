package workflow

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// randomGraph decodes each edge code as (from, to) over n nodes.
func randomGraph(n int, codes []int) *Definition {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%d", i)
	}
	edges := make([][2]string, 0, len(codes))
	for _, c := range codes {
		edges = append(edges, [2]string{ids[(c/8)%n], ids[(c%8)%n]})
	}
	return graphDef(ids, edges...)
}

// DFS cycle detection reports a cycle iff Kahn's order is shorter than the
// node count.
func TestProperty_CycleDetectionAgreement(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("kahn and dfs agree on cycles", prop.ForAll(
		func(n int, codes []int) bool {
			g := BuildGraph(randomGraph(n, codes))
			kahnCycle := len(g.TopologicalOrder()) < len(g.Nodes())
			dfsCycle := g.FindCycle() != nil
			if kahnCycle != dfsCycle {
				t.Logf("n=%d codes=%v kahn=%v dfs=%v", n, codes, kahnCycle, dfsCycle)
				return false
			}
			return kahnCycle == g.HasCycle()
		},
		gen.IntRange(1, 8),
		gen.SliceOf(gen.IntRange(0, 63)),
	))

	properties.Property("every reported cycle is a closed path of real edges", prop.ForAll(
		func(n int, codes []int) bool {
			g := BuildGraph(randomGraph(n, codes))
			for _, cycle := range g.FindCycles() {
				if len(cycle) < 2 || cycle[0] != cycle[len(cycle)-1] {
					return false
				}
				for i := 0; i+1 < len(cycle); i++ {
					if !contains(g.Dependents(cycle[i]), cycle[i+1]) {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.SliceOf(gen.IntRange(0, 63)),
	))

	properties.Property("acyclic order respects every edge", prop.ForAll(
		func(n int, codes []int) bool {
			// 只保留 from < to 的边，保证无环
			var forward []int
			for _, c := range codes {
				if (c/8)%n < (c%8)%n {
					forward = append(forward, c)
				}
			}
			g := BuildGraph(randomGraph(n, forward))
			order := g.TopologicalOrder()
			if len(order) != n {
				return false
			}
			pos := make(map[string]int, n)
			for i, id := range order {
				pos[id] = i
			}
			for _, id := range g.Nodes() {
				for _, dep := range g.Dependents(id) {
					if pos[id] >= pos[dep] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.SliceOf(gen.IntRange(0, 63)),
	))

	properties.TestingRun(t)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
