// Package funnel implements the deterministic dialogue engine: a static
// node graph traversed by exact-input transitions, with a persisted
// per-identity cursor.
package funnel

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Action is what visiting a node does beyond replying.
type Action string

const (
	// ActionNone replies and moves the cursor.
	ActionNone Action = "NONE"
	// ActionHandoff suppresses the engine until the reset keyword arrives.
	ActionHandoff Action = "HANDOFF"
	// ActionClose replies with the visited node, then resets to the root.
	ActionClose Action = "CLOSE"
)

// HandoffActiveID is the sentinel cursor value while a human owns the
// conversation. It is not a graph node.
const HandoffActiveID = "HANDOFF_ACTIVE"

// Node is one dialogue step.
type Node struct {
	ID       string            `toml:"-"`
	Message  string            `toml:"message"`
	Options  map[string]string `toml:"options"`
	Fallback string            `toml:"fallback"`
	Action   Action            `toml:"action"`
}

// Graph is the static dialogue graph. Read-only after construction.
type Graph struct {
	root  string
	nodes map[string]Node
}

// NewGraph builds and validates a graph. The root must exist, every
// option and fallback must point at a known node, and no node may reuse
// the handoff sentinel id.
func NewGraph(root string, nodes map[string]Node) (*Graph, error) {
	if root == "" {
		return nil, fmt.Errorf("funnel graph: empty root node id")
	}
	if _, ok := nodes[root]; !ok {
		return nil, fmt.Errorf("funnel graph: root node %q not defined", root)
	}
	for id, node := range nodes {
		if id == HandoffActiveID {
			return nil, fmt.Errorf("funnel graph: node id %q is reserved", id)
		}
		if node.Message == "" {
			return nil, fmt.Errorf("funnel graph: node %q has no message", id)
		}
		for input, next := range node.Options {
			if _, ok := nodes[next]; !ok {
				return nil, fmt.Errorf("funnel graph: node %q option %q points at unknown node %q", id, input, next)
			}
		}
		if node.Fallback != "" {
			if _, ok := nodes[node.Fallback]; !ok {
				return nil, fmt.Errorf("funnel graph: node %q fallback points at unknown node %q", id, node.Fallback)
			}
		}
		switch node.Action {
		case ActionNone, ActionHandoff, ActionClose, "":
		default:
			return nil, fmt.Errorf("funnel graph: node %q has unknown action %q", id, node.Action)
		}
		node.ID = id
		nodes[id] = node
	}
	return &Graph{root: root, nodes: nodes}, nil
}

// Root returns the root node id.
func (g *Graph) Root() string { return g.root }

// Node returns the node for id.
func (g *Graph) Node(id string) (Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

type graphFile struct {
	Root  string          `toml:"root"`
	Nodes map[string]Node `toml:"nodes"`
}

// LoadGraph reads a graph definition from a TOML file.
func LoadGraph(path string) (*Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read funnel graph: %w", err)
	}
	var file graphFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse funnel graph: %w", err)
	}
	return NewGraph(file.Root, file.Nodes)
}

// DefaultGraph is the built-in dialogue used when no graph file is
// configured: a small support menu with a human handoff branch.
func DefaultGraph() *Graph {
	g, err := NewGraph("START", map[string]Node{
		"START": {
			Message: "Hi! I'm the virtual assistant. How can I help?\n\n" +
				"1 - Billing\n2 - Technical support\n3 - Talk to a human",
			Options: map[string]string{
				"1": "BILLING_MENU",
				"2": "SUPPORT_MENU",
				"3": "HUMAN_HANDOFF",
			},
		},
		"BILLING_MENU": {
			Message: "Billing options:\n\n1 - Resend latest invoice\n2 - Talk to a human\n0 - Back",
			Options: map[string]string{
				"1": "INVOICE_SENT",
				"2": "HUMAN_HANDOFF",
				"0": "START",
			},
		},
		"SUPPORT_MENU": {
			Message: "Technical support:\n\n1 - I can't access my account\n2 - Talk to a human\n0 - Back",
			Options: map[string]string{
				"1": "ACCESS_ISSUE",
				"2": "HUMAN_HANDOFF",
				"0": "START",
			},
		},
		"ACCESS_ISSUE": {
			Message: "Try resetting your password from the login page. If that doesn't work, reply 2 to reach a human.",
			Options: map[string]string{
				"2": "HUMAN_HANDOFF",
				"0": "START",
			},
			Fallback: "START",
		},
		"INVOICE_SENT": {
			Message: "Done! Your latest invoice is on its way to your registered email. Anything else, just say hi.",
			Action:  ActionClose,
		},
		"HUMAN_HANDOFF": {
			Message: "Got it, transferring you to a human attendant. They'll reply here shortly.",
			Action:  ActionHandoff,
		},
	})
	if err != nil {
		panic(err)
	}
	return g
}
