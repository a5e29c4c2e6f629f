package workflow

// NodeKind classifies a compiled graph node.
type NodeKind string

const (
	NodeAction        NodeKind = "action"
	NodeCondition     NodeKind = "condition"
	NodeLoopInit      NodeKind = "loop_init"
	NodeLoopCheck     NodeKind = "loop_check"
	NodeLoopBody      NodeKind = "loop_body"
	NodeLoopAdvance   NodeKind = "loop_advance"
	NodeLoopFinalize  NodeKind = "loop_finalize"
	NodeCleanup       NodeKind = "cleanup"
)

// Transition guards movement from one node to another. An empty Guard means
// "always take this transition if reached" (the default/fallthrough case).
// Transitions on a node are evaluated in declared order; the first whose
// guard is true (or empty) wins.
type Transition struct {
	Guard  string
	Target string
}

// Node is one vertex of the compiled graph. Step points at the step the node
// was lowered from (action, condition and every loop_* node); it is nil only
// for the synthetic __cleanup__ and __end__ nodes.
type Node struct {
	ID          string
	Kind        NodeKind
	Step        *Step
	Transitions []Transition

	// LoopID links a loop_* node back to the originating step id; internal
	// loop state (policy, frame) is keyed by LoopID at runtime.
	LoopID string

	// CleanupSteps holds the finally: steps folded into the synthetic
	// __cleanup__ node.
	CleanupSteps []Step

	// TerminalOnFailure marks an action node whose only failure route is the
	// implicit one: no on_failure target was compiled for it, so the runtime
	// must set __workflow_failed itself on a failed outcome instead of
	// relying on a guarded transition to notice.
	TerminalOnFailure bool
}

// Graph is the compiled, executable form of a Workflow.
// Compilation is pure: the same Workflow always compiles to an equal Graph.
type Graph struct {
	Nodes      map[string]*Node
	Entry      string
	InputDecls map[string]InputDecl
}

// NodeOrNil looks up a node by id.
func (g *Graph) NodeOrNil(id string) *Node {
	return g.Nodes[id]
}

// CleanupNodeID/EndNodeID are the synthetic node ids every compiled Graph
// carries: the folded `finally:` node and the terminal sink
// every path eventually reaches.
const (
	CleanupNodeID = "__cleanup__"
	EndNodeID     = "__end__"
)

// kept for in-package brevity
const (
	cleanupNodeID = CleanupNodeID
	endNodeID     = EndNodeID
)
