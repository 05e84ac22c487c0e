package core

import (
	"sort"

	"conda-pypi/internal/types"
)

// DependencyGraph is the node set discovered for one tree run. Edges
// point from a node to the nodes it requires and may form cycles.
type DependencyGraph struct {
	Nodes map[types.NodeKey]*types.DependencyNode
}

func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{Nodes: map[types.NodeKey]*types.DependencyNode{}}
}

// Keys returns the node keys in a stable order.
func (g *DependencyGraph) Keys() []types.NodeKey {
	keys := make([]types.NodeKey, 0, len(g.Nodes))
	for key := range g.Nodes {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys
}

// AddEdge records that from requires to, ignoring duplicates and
// self-references.
func (g *DependencyGraph) AddEdge(from types.NodeKey, to types.NodeKey) {
	if from == to {
		return
	}
	node, ok := g.Nodes[from]
	if !ok {
		return
	}
	for _, existing := range node.Requires {
		if existing == to {
			return
		}
	}
	node.Requires = append(node.Requires, to)
}

// Component is a strongly connected set of nodes. Members of a cycle
// are converted together by one worker.
type Component struct {
	ID      int
	Members []types.NodeKey
	Deps    []int
	Users   []int
}

// Condense computes the strongly connected components with an iterative
// Tarjan walk and returns them with their component-level edges.
// Components are ordered so that dependencies precede their users.
func (g *DependencyGraph) Condense() []Component {
	keys := g.Keys()
	index := map[types.NodeKey]int{}
	lowlink := map[types.NodeKey]int{}
	onStack := map[types.NodeKey]bool{}
	componentOf := map[types.NodeKey]int{}
	var stack []types.NodeKey
	var components []Component
	next := 0

	type frame struct {
		key  types.NodeKey
		edge int
	}
	for _, root := range keys {
		if _, seen := index[root]; seen {
			continue
		}
		work := []frame{{key: root}}
		index[root], lowlink[root] = next, next
		next++
		stack = append(stack, root)
		onStack[root] = true
		for len(work) > 0 {
			top := &work[len(work)-1]
			edges := g.edges(top.key)
			if top.edge < len(edges) {
				child := edges[top.edge]
				top.edge++
				if _, seen := index[child]; !seen {
					index[child], lowlink[child] = next, next
					next++
					stack = append(stack, child)
					onStack[child] = true
					work = append(work, frame{key: child})
				} else if onStack[child] && index[child] < lowlink[top.key] {
					lowlink[top.key] = index[child]
				}
				continue
			}
			key := top.key
			work = work[:len(work)-1]
			if len(work) > 0 {
				parent := work[len(work)-1].key
				if lowlink[key] < lowlink[parent] {
					lowlink[parent] = lowlink[key]
				}
			}
			if lowlink[key] != index[key] {
				continue
			}
			component := Component{ID: len(components)}
			for {
				member := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[member] = false
				componentOf[member] = component.ID
				component.Members = append(component.Members, member)
				if member == key {
					break
				}
			}
			sortKeys(component.Members)
			components = append(components, component)
		}
	}

	for i := range components {
		deps := map[int]struct{}{}
		for _, member := range components[i].Members {
			for _, dep := range g.edges(member) {
				if target := componentOf[dep]; target != i {
					deps[target] = struct{}{}
				}
			}
		}
		for dep := range deps {
			components[i].Deps = append(components[i].Deps, dep)
			components[dep].Users = append(components[dep].Users, i)
		}
		sort.Ints(components[i].Deps)
	}
	for i := range components {
		sort.Ints(components[i].Users)
	}
	return components
}

// edges returns the requirements of key that exist in the graph.
func (g *DependencyGraph) edges(key types.NodeKey) []types.NodeKey {
	node, ok := g.Nodes[key]
	if !ok {
		return nil
	}
	out := make([]types.NodeKey, 0, len(node.Requires))
	for _, dep := range node.Requires {
		if _, ok := g.Nodes[dep]; ok {
			out = append(out, dep)
		}
	}
	return out
}

// Dependents returns every component that transitively depends on id.
func Dependents(components []Component, id int) []int {
	seen := map[int]bool{id: true}
	queue := []int{id}
	var out []int
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, user := range components[current].Users {
			if seen[user] {
				continue
			}
			seen[user] = true
			out = append(out, user)
			queue = append(queue, user)
		}
	}
	sort.Ints(out)
	return out
}

func sortKeys(keys []types.NodeKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Version < keys[j].Version
	})
}
