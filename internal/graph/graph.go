// Package graph implements the Graph Orchestrator (C6): the team modeled as
// a directed graph of named nodes with a fixed routing table, realized as an
// arena of nodes plus an adjacency table rather than a class hierarchy per
// node kind.
package graph

// TerminalNode is the name of the graph's terminal sink. Resolving to it
// ends a run.
const TerminalNode = "TERM"

// ActionContinue is the decision action every node's linear (default)
// successor is registered under.
const ActionContinue = "continue"

// ActionEnd short-circuits any node directly to TerminalNode.
const ActionEnd = "end"

// Node is one named vertex of the team graph, bound to an agent role by
// name so the Streaming Runtime can resolve it to a concrete agent.Agent.
type Node struct {
	Name string
	Role string
}

// Graph is an arena of nodes plus an adjacency table of
// (node, next_action) -> next_node edges.
type Graph struct {
	Nodes map[string]*Node
	Edges map[string]map[string]string
	Start string
}

// New constructs an empty graph rooted at start.
func New(start string) *Graph {
	return &Graph{Nodes: make(map[string]*Node), Edges: make(map[string]map[string]string), Start: start}
}

// AddNode registers a node bound to role.
func (g *Graph) AddNode(name, role string) {
	g.Nodes[name] = &Node{Name: name, Role: role}
	if _, ok := g.Edges[name]; !ok {
		g.Edges[name] = make(map[string]string)
	}
}

// AddEdge registers the transition (from, action) -> to. Resolve adds no
// implicit end edge: a node without an ActionEnd entry treats end like any
// other unknown action, so NewTeamTable registers (node, ActionEnd,
// TerminalNode) explicitly for every node.
func (g *Graph) AddEdge(from, action, to string) {
	if _, ok := g.Edges[from]; !ok {
		g.Edges[from] = make(map[string]string)
	}
	g.Edges[from][action] = to
}

// Resolve maps (current, action) to the next node per §4.6: an action with
// no registered edge from current falls back to the node's ActionContinue
// edge (its linear successor) with fellBack=true, so the caller can emit a
// warning event; a current node with no edges at all resolves to
// TerminalNode.
func (g *Graph) Resolve(current, action string) (next string, fellBack bool) {
	edges, ok := g.Edges[current]
	if !ok {
		return TerminalNode, true
	}
	if to, ok := edges[action]; ok {
		return to, false
	}
	if to, ok := edges[ActionContinue]; ok {
		return to, true
	}
	return TerminalNode, true
}

// NewTeamTable builds the fixed six-role routing table.
func NewTeamTable() *Graph {
	g := New("boss")

	g.AddNode("boss", "boss")
	g.AddNode("product_manager", "product_manager")
	g.AddNode("architect", "architect")
	g.AddNode("project_manager", "project_manager")
	g.AddNode("engineer", "engineer")
	g.AddNode("qa", "qa")

	g.AddEdge("boss", ActionContinue, "product_manager")
	g.AddEdge("boss", ActionEnd, TerminalNode)

	g.AddEdge("product_manager", ActionContinue, "architect")
	g.AddEdge("product_manager", "back_to_boss", "boss")
	g.AddEdge("product_manager", ActionEnd, TerminalNode)

	g.AddEdge("architect", ActionContinue, "project_manager")
	g.AddEdge("architect", "back_to_pm", "product_manager")
	g.AddEdge("architect", ActionEnd, TerminalNode)

	g.AddEdge("project_manager", ActionContinue, "engineer")
	g.AddEdge("project_manager", "back_to_architect", "architect")
	g.AddEdge("project_manager", "back_to_pm", "product_manager")
	g.AddEdge("project_manager", ActionEnd, TerminalNode)

	g.AddEdge("engineer", ActionContinue, "qa")
	g.AddEdge("engineer", "continue_development", "engineer")
	g.AddEdge("engineer", "back_to_architect", "architect")
	g.AddEdge("engineer", ActionEnd, TerminalNode)

	g.AddEdge("qa", ActionContinue, TerminalNode)
	g.AddEdge("qa", "back_to_engineer", "engineer")
	g.AddEdge("qa", ActionEnd, TerminalNode)

	return g
}
