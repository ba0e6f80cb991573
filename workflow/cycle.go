package workflow

// WouldCreateCycle reports whether adding fromID -> toID closes a loop.
//
// It runs a depth-first search from toID along outgoing connections and returns
// true when the search reaches fromID or revisits a node on the current path.
// Graphs are small and edits interactive, so the O(V+E) walk per call is fine.
func WouldCreateCycle(fromID, toID string, connections []Connection) bool {
	if fromID == toID {
		return true
	}
	adj := adjacency(connections)
	onPath := make(map[string]bool)
	done := make(map[string]bool)

	var visit func(id string) bool
	visit = func(id string) bool {
		if id == fromID || onPath[id] {
			return true
		}
		if done[id] {
			return false
		}
		onPath[id] = true
		for _, next := range adj[id] {
			if visit(next) {
				return true
			}
		}
		onPath[id] = false
		done[id] = true
		return false
	}
	return visit(toID)
}

// DetectCycle checks the whole graph and returns one cycle's node path if any.
func DetectCycle(w *Workflow) ([]string, bool) {
	adj := adjacency(w.Connections)
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(w.Nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch color[next] {
			case grey:
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string(nil), stack[i:]...), next)
						break
					}
				}
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	// Walk nodes in declaration order, then any ids only referenced by edges.
	ids := make([]string, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		if n != nil {
			ids = append(ids, n.ID)
		}
	}
	for _, c := range w.Connections {
		ids = append(ids, c.From)
	}
	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle, true
		}
	}
	return nil, false
}

func adjacency(connections []Connection) map[string][]string {
	adj := make(map[string][]string)
	for _, c := range connections {
		adj[c.From] = append(adj[c.From], c.To)
	}
	return adj
}
