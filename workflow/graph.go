package workflow

// Graph is the dependency structure derived from a Definition. It is rebuilt
// on every validation or execution pass and never mutated afterwards.
//
// Only connections whose endpoints name existing nodes contribute edges;
// repeated connections between the same pair of nodes form one edge.
type Graph struct {
	nodes        []string
	known        map[string]bool
	dependents   map[string][]string
	dependencies map[string][]string
	order        []string
}

// BuildGraph derives the graph of def. Duplicate node ids collapse to one
// vertex; the validator reports them separately.
func BuildGraph(def *Definition) *Graph {
	g := &Graph{
		known:        make(map[string]bool, len(def.Nodes)),
		dependents:   make(map[string][]string, len(def.Nodes)),
		dependencies: make(map[string][]string, len(def.Nodes)),
	}
	for _, n := range def.Nodes {
		if n.ID == "" || g.known[n.ID] {
			continue
		}
		g.known[n.ID] = true
		g.nodes = append(g.nodes, n.ID)
	}

	type edge struct{ from, to string }
	seen := make(map[edge]bool, len(def.Connections))
	for _, c := range def.Connections {
		if !g.known[c.SourceNodeID] || !g.known[c.TargetNodeID] {
			continue
		}
		e := edge{c.SourceNodeID, c.TargetNodeID}
		if seen[e] {
			continue
		}
		seen[e] = true
		g.dependents[e.from] = append(g.dependents[e.from], e.to)
		g.dependencies[e.to] = append(g.dependencies[e.to], e.from)
	}

	g.order = g.kahn()
	return g
}

// kahn computes a topological order. The ready queue is FIFO and seeded in
// definition order, which makes the result deterministic for a given
// definition. Nodes on or behind a cycle never reach in-degree zero and are
// left out.
func (g *Graph) kahn() []string {
	inDegree := make(map[string]int, len(g.nodes))
	for _, id := range g.nodes {
		inDegree[id] = len(g.dependencies[id])
	}

	queue := make([]string, 0, len(g.nodes))
	for _, id := range g.nodes {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, dep := range g.dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	return order
}

// Nodes returns node ids in definition order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// TopologicalOrder returns the Kahn order. It is shorter than Nodes() iff the
// graph has a cycle.
func (g *Graph) TopologicalOrder() []string {
	return append([]string(nil), g.order...)
}

// HasCycle reports whether Kahn's algorithm could not order every node.
func (g *Graph) HasCycle() bool {
	return len(g.order) < len(g.nodes)
}

// Dependents returns the direct dependents of id.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.dependencies[id]...)
}

// EntryNodes returns nodes without dependencies, in definition order.
func (g *Graph) EntryNodes() []string {
	var out []string
	for _, id := range g.nodes {
		if len(g.dependencies[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// ExitNodes returns nodes without dependents, in definition order.
func (g *Graph) ExitNodes() []string {
	var out []string
	for _, id := range g.nodes {
		if len(g.dependents[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// InOrder reports whether id appears in the topological order.
func (g *Graph) InOrder(id string) bool {
	for _, o := range g.order {
		if o == id {
			return true
		}
	}
	return false
}

// FindCycle returns the first cycle found by depth-first search as a closed
// path (first element repeated at the end), or nil when the graph is acyclic.
func (g *Graph) FindCycle() []string {
	cycles := g.FindCycles()
	if len(cycles) == 0 {
		return nil
	}
	return cycles[0]
}

// FindCycles runs a depth-first search with a recursion stack from every
// unvisited node in definition order and returns one closed path per back
// edge found. Each back edge is reported once.
func (g *Graph) FindCycles() [][]string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))
	var (
		stack  []string
		cycles [][]string
	)

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)

		for _, next := range g.dependents[id] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				start := len(stack) - 1
				for stack[start] != next {
					start--
				}
				path := make([]string, 0, len(stack)-start+1)
				path = append(path, stack[start:]...)
				path = append(path, next)
				cycles = append(cycles, path)
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range g.nodes {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}
