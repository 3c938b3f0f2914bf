package qcast

// graph.go holds the abstract topology graph, the input to network
// construction: named nodes and a weighted adjacency structure whose
// edge weights are physical link lengths in km.

import (
	"fmt"
	"sort"

	"golang.org/x/exp/slices"
)

// InvalidTopologyError reports a structural problem found when a
// graph is constructed.  Topology problems are configuration errors,
// they are returned to the caller and abort the run before any
// network resources are built.
type InvalidTopologyError struct {
	GraphName string
	Problem   string
}

func (ite *InvalidTopologyError) Error() string {
	return fmt.Sprintf("invalid topology %s: %s", ite.GraphName, ite.Problem)
}

// Graph describes the abstract network: a set of named nodes and for
// each node a mapping from neighbor name to link length.  A Graph is
// immutable once constructed; the simulation only queries it.
type Graph struct {
	Name  string
	nodes []string
	edges map[string]map[string]float64
}

// CreateGraph validates the offered node and adjacency lists and builds
// a Graph from them.  Validation requires that every neighbor named in
// an edge mapping is itself a known node, that no node carries an edge
// to itself, that every link length is positive, that adjacency is
// symmetric (an edge u->v of length L implies v->u of length L), and
// that every node has degree at least one.  Any violation is returned
// as an InvalidTopologyError.
func CreateGraph(name string, nodes []string, edges map[string]map[string]float64) (*Graph, error) {
	g := new(Graph)
	g.Name = name
	g.nodes = make([]string, len(nodes))
	copy(g.nodes, nodes)
	sort.Strings(g.nodes)

	// reject duplicate node names
	for idx := 1; idx < len(g.nodes); idx++ {
		if g.nodes[idx] == g.nodes[idx-1] {
			return nil, &InvalidTopologyError{GraphName: name,
				Problem: fmt.Sprintf("node name %s repeated", g.nodes[idx])}
		}
	}

	g.edges = make(map[string]map[string]float64)
	for nodeName, nbrs := range edges {
		if !slices.Contains(g.nodes, nodeName) {
			return nil, &InvalidTopologyError{GraphName: name,
				Problem: fmt.Sprintf("edge list names unknown node %s", nodeName)}
		}
		g.edges[nodeName] = make(map[string]float64)
		for nbr, length := range nbrs {
			if nbr == nodeName {
				return nil, &InvalidTopologyError{GraphName: name,
					Problem: fmt.Sprintf("self loop on node %s", nodeName)}
			}
			if !slices.Contains(g.nodes, nbr) {
				return nil, &InvalidTopologyError{GraphName: name,
					Problem: fmt.Sprintf("node %s has edge to unknown node %s", nodeName, nbr)}
			}
			if !(length > 0.0) {
				return nil, &InvalidTopologyError{GraphName: name,
					Problem: fmt.Sprintf("edge %s-%s has non-positive length", nodeName, nbr)}
			}
			g.edges[nodeName][nbr] = length
		}
	}

	// links are bidirectional, each endpoint sees the same length
	for nodeName, nbrs := range g.edges {
		for nbr, length := range nbrs {
			back, present := g.edges[nbr][nodeName]
			if !present {
				return nil, &InvalidTopologyError{GraphName: name,
					Problem: fmt.Sprintf("edge %s-%s has no reverse entry", nodeName, nbr)}
			}
			if back != length {
				return nil, &InvalidTopologyError{GraphName: name,
					Problem: fmt.Sprintf("edge %s-%s lengths disagree", nodeName, nbr)}
			}
		}
	}

	// a node without any edge can neither generate nor receive
	// entanglement, so it cannot participate in any round
	for _, nodeName := range g.nodes {
		if len(g.edges[nodeName]) == 0 {
			return nil, &InvalidTopologyError{GraphName: name,
				Problem: fmt.Sprintf("node %s has degree zero", nodeName)}
		}
	}
	return g, nil
}

// Nodes returns the node names, sorted.
func (g *Graph) Nodes() []string {
	return g.nodes
}

// EdgesOf returns the neighbor->length mapping of the named node,
// nil if the node is unknown.
func (g *Graph) EdgesOf(nodeName string) map[string]float64 {
	return g.edges[nodeName]
}

// Degree returns the number of links the named node terminates.
func (g *Graph) Degree(nodeName string) int {
	return len(g.edges[nodeName])
}

// Neighbors returns the neighbor names of the named node, sorted, so
// that iteration over a node's edges is deterministic across runs.
func (g *Graph) Neighbors(nodeName string) []string {
	nbrs := make([]string, 0, len(g.edges[nodeName]))
	for nbr := range g.edges[nodeName] {
		nbrs = append(nbrs, nbr)
	}
	sort.Strings(nbrs)
	return nbrs
}

// symmetrize fills in the reverse direction of every offered edge,
// used by the graph library constructors below
func symmetrize(edges map[string]map[string]float64) map[string]map[string]float64 {
	for nodeName, nbrs := range edges {
		for nbr, length := range nbrs {
			_, present := edges[nbr]
			if !present {
				edges[nbr] = make(map[string]float64)
			}
			_, present = edges[nbr][nodeName]
			if !present {
				edges[nbr][nodeName] = length
			}
		}
	}
	return edges
}

// TwinGraph builds the smallest useful topology, two nodes joined by
// one link of the given length.
func TwinGraph(length float64) (*Graph, error) {
	edges := symmetrize(map[string]map[string]float64{
		"0": {"1": length},
	})
	return CreateGraph("twin", []string{"0", "1"}, edges)
}

// StarGraph builds a hub node "0" joined to leaves "1".."n" by links
// of the given length.
func StarGraph(leaves int, length float64) (*Graph, error) {
	if leaves < 1 {
		return nil, &InvalidTopologyError{GraphName: "star", Problem: "needs at least one leaf"}
	}
	nodes := []string{"0"}
	hub := make(map[string]float64)
	for idx := 1; idx <= leaves; idx++ {
		leaf := fmt.Sprintf("%d", idx)
		nodes = append(nodes, leaf)
		hub[leaf] = length
	}
	edges := symmetrize(map[string]map[string]float64{"0": hub})
	return CreateGraph("star", nodes, edges)
}

// RepeaterGraph builds a chain of n nodes "0".."n-1", consecutive
// nodes joined by links of the given length.
func RepeaterGraph(n int, length float64) (*Graph, error) {
	if n < 2 {
		return nil, &InvalidTopologyError{GraphName: "repeater", Problem: "needs at least two nodes"}
	}
	nodes := make([]string, 0, n)
	edges := make(map[string]map[string]float64)
	for idx := 0; idx < n; idx++ {
		nodes = append(nodes, fmt.Sprintf("%d", idx))
	}
	for idx := 0; idx < n-1; idx++ {
		u := fmt.Sprintf("%d", idx)
		v := fmt.Sprintf("%d", idx+1)
		_, present := edges[u]
		if !present {
			edges[u] = make(map[string]float64)
		}
		edges[u][v] = length
	}
	return CreateGraph("repeater", nodes, symmetrize(edges))
}

// ButterflyGraph builds the 2x2 butterfly: two sources "0","1" joined
// to a relay "2", relay joined to "3", and "3" joined to sinks "4","5".
func ButterflyGraph(length float64) (*Graph, error) {
	edges := symmetrize(map[string]map[string]float64{
		"0": {"2": length},
		"1": {"2": length},
		"2": {"3": length},
		"3": {"4": length, "5": length},
	})
	return CreateGraph("butterfly", []string{"0", "1", "2", "3", "4", "5"}, edges)
}
