package detect

import "sort"

// transferGraph is the directed account-to-account flow graph built
// from transfer rows. Adjacency is kept sorted for deterministic
// cycle enumeration.
type transferGraph struct {
	nodes []string
	adj   map[string][]string
}

func newTransferGraph() *transferGraph {
	return &transferGraph{adj: make(map[string][]string)}
}

func (g *transferGraph) addEdge(from, to string) {
	if from == "" || to == "" || from == to {
		return
	}
	if _, ok := g.adj[from]; !ok {
		g.nodes = append(g.nodes, from)
	}
	for _, existing := range g.adj[from] {
		if existing == to {
			return
		}
	}
	g.adj[from] = append(g.adj[from], to)
	if _, ok := g.adj[to]; !ok {
		g.nodes = append(g.nodes, to)
		g.adj[to] = nil
	}
}

// simpleCycles enumerates every elementary cycle of length 2..maxLen.
// Each cycle is reported once, rooted at its lexicographically
// smallest account: a depth-first search runs from each root and only
// descends into accounts ordered after the root, so a cycle cannot be
// discovered twice through rotation.
func (g *transferGraph) simpleCycles(maxLen int) [][]string {
	sort.Strings(g.nodes)
	for _, n := range g.nodes {
		sort.Strings(g.adj[n])
	}

	var cycles [][]string
	path := make([]string, 0, maxLen)
	onPath := make(map[string]bool, len(g.nodes))

	var dfs func(root, node string)
	dfs = func(root, node string) {
		path = append(path, node)
		onPath[node] = true

		for _, next := range g.adj[node] {
			if next == root && len(path) >= 2 {
				cycle := make([]string, len(path))
				copy(cycle, path)
				cycles = append(cycles, cycle)
				continue
			}
			if next < root || onPath[next] || len(path) >= maxLen {
				continue
			}
			dfs(root, next)
		}

		path = path[:len(path)-1]
		onPath[node] = false
	}

	for _, root := range g.nodes {
		dfs(root, root)
	}
	return cycles
}
