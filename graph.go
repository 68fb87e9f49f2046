package xsynth

import "sort"

// depGraph is the dependency graph of one batch. deps[i] lists the items
// that item i references by qualified name.
type depGraph struct {
	deps [][]int
}

// buildGraph links each item to every in-batch item whose module it
// references. Modules outside the batch resolve against existing records
// and add no edges.
func buildGraph(items []*workItem) *depGraph {
	byModule := make(map[string][]int)
	for i, it := range items {
		byModule[it.module] = append(byModule[it.module], i)
	}
	g := &depGraph{deps: make([][]int, len(items))}
	for i, it := range items {
		seen := make(map[int]bool)
		for _, mod := range it.uses {
			for _, j := range byModule[mod] {
				if !seen[j] {
					seen[j] = true
					g.deps[i] = append(g.deps[i], j)
				}
			}
		}
		sort.Ints(g.deps[i])
	}
	return g
}

// schedule groups items into levels: every item's dependencies sit in
// earlier levels. Items on a cycle (including a file referencing its own
// module) are returned separately and excluded from the levels; items
// that depend on a cycle are still scheduled. Uses Tarjan's algorithm,
// which emits each strongly connected component after everything it
// depends on.
func (g *depGraph) schedule() (levels [][]int, cycles [][]int) {
	n := len(g.deps)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	inCycle := make([]bool, n)
	level := make([]int, n)
	for i := range index {
		index[i] = -1
	}

	var (
		stack []int
		next  int
	)
	var connect func(v int)
	connect = func(v int) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.deps[v] {
			if index[w] < 0 {
				connect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] != index[v] {
			return
		}

		var comp []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		if len(comp) > 1 || g.selfLoop(v) {
			sort.Ints(comp)
			for _, w := range comp {
				inCycle[w] = true
			}
			cycles = append(cycles, comp)
			return
		}

		lvl := 0
		for _, w := range g.deps[v] {
			if !inCycle[w] {
				lvl = max(lvl, level[w]+1)
			}
		}
		level[v] = lvl
		for len(levels) <= lvl {
			levels = append(levels, nil)
		}
		levels[lvl] = append(levels[lvl], v)
	}

	for v := 0; v < n; v++ {
		if index[v] < 0 {
			connect(v)
		}
	}
	for _, l := range levels {
		sort.Ints(l)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return levels, cycles
}

func (g *depGraph) selfLoop(v int) bool {
	for _, w := range g.deps[v] {
		if w == v {
			return true
		}
	}
	return false
}
