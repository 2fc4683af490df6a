package funnel

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Conversation is the persisted per-identity cursor into the graph.
type Conversation struct {
	ID                string
	Identity          string
	CurrentNode       string
	Context           map[string]string
	LastInteractionAt time.Time
}

// ConversationStore persists conversation cursors.
type ConversationStore interface {
	// GetOrCreate returns the conversation for identity, creating it at
	// rootNode on first contact.
	GetOrCreate(ctx context.Context, identity, rootNode string) (Conversation, error)
	// SetNode moves the cursor and refreshes the interaction timestamp.
	SetNode(ctx context.Context, identity, nodeID string) error
}

// FlowEntry is one audit record of a processed message.
type FlowEntry struct {
	Identity  string
	FromNode  string
	ToNode    string
	Action    Action
	UserInput string
}

// FlowLogger appends audit records. Append failures must not abort
// message processing; implementations log and swallow.
type FlowLogger interface {
	Append(ctx context.Context, entry FlowEntry)
}

// Result is the outcome of processing one inbound message. An empty Reply
// means the engine is suppressed and nothing should be sent.
type Result struct {
	Reply    string
	FromNode string
	ToNode   string
	Action   Action
}

const invalidOptionPrefix = "Sorry, I didn't understand that option.\n\n"

const configErrorReply = "Something is off with this menu right now. Please try again in a moment."

// Engine traverses the graph for inbound messages. The traversal itself
// is a pure function of (current node, trimmed input); persistence of the
// resulting cursor is the only side effect.
type Engine struct {
	graph        *Graph
	store        ConversationStore
	flog         FlowLogger
	resetKeyword string
	logger       *slog.Logger
}

// NewEngine creates the funnel engine. resetKeyword ends a human handoff
// and returns the conversation to the root menu.
func NewEngine(log *slog.Logger, graph *Graph, store ConversationStore, flog FlowLogger, resetKeyword string) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		graph:        graph,
		store:        store,
		flog:         flog,
		resetKeyword: resetKeyword,
		logger:       log.With(slog.String("service", "funnel")),
	}
}

// Process runs one inbound message through the graph for identity.
func (e *Engine) Process(ctx context.Context, identity, rawInput string) (Result, error) {
	input := strings.TrimSpace(rawInput)

	conv, err := e.store.GetOrCreate(ctx, identity, e.graph.Root())
	if err != nil {
		return Result{}, err
	}

	// A human owns the conversation: stay silent unless the reset keyword
	// arrives.
	if conv.CurrentNode == HandoffActiveID {
		if strings.EqualFold(input, e.resetKeyword) {
			return e.transition(ctx, identity, HandoffActiveID, e.graph.Root(), ActionNone, input)
		}
		return Result{FromNode: HandoffActiveID, ToNode: HandoffActiveID}, nil
	}

	current, ok := e.graph.Node(conv.CurrentNode)
	if !ok {
		// Stale cursor, e.g. the graph changed across a deploy.
		e.logger.Warn("unknown cursor node, resetting",
			slog.String("identity", identity),
			slog.String("node", conv.CurrentNode))
		return e.transition(ctx, identity, conv.CurrentNode, e.graph.Root(), ActionNone, input)
	}

	nextID, matched := current.Options[input]
	if !matched {
		if current.Fallback != "" && current.Fallback != current.ID {
			// Silent redirect, no "invalid" framing.
			nextID = current.Fallback
		} else {
			// Pure query: reprompt without moving the cursor.
			e.flog.Append(ctx, FlowEntry{
				Identity:  identity,
				FromNode:  current.ID,
				ToNode:    current.ID,
				Action:    ActionNone,
				UserInput: input,
			})
			return Result{
				Reply:    invalidOptionPrefix + current.Message,
				FromNode: current.ID,
				ToNode:   current.ID,
			}, nil
		}
	}

	next, ok := e.graph.Node(nextID)
	if !ok {
		e.logger.Error("option points at missing node",
			slog.String("from", current.ID),
			slog.String("to", nextID))
		return Result{
			Reply:    configErrorReply,
			FromNode: current.ID,
			ToNode:   current.ID,
		}, nil
	}

	return e.visit(ctx, identity, current.ID, next, input)
}

// visit applies next's action and persists the final cursor.
func (e *Engine) visit(ctx context.Context, identity, fromID string, next Node, input string) (Result, error) {
	action := next.Action
	if action == "" {
		action = ActionNone
	}

	switch action {
	case ActionHandoff:
		if err := e.store.SetNode(ctx, identity, HandoffActiveID); err != nil {
			return Result{}, err
		}
	case ActionClose:
		// Persist the visit first so the audit trail shows the terminal
		// node, then leave the cursor at the root for the next contact.
		if err := e.store.SetNode(ctx, identity, next.ID); err != nil {
			return Result{}, err
		}
		if err := e.store.SetNode(ctx, identity, e.graph.Root()); err != nil {
			return Result{}, err
		}
	default:
		if err := e.store.SetNode(ctx, identity, next.ID); err != nil {
			return Result{}, err
		}
	}

	e.flog.Append(ctx, FlowEntry{
		Identity:  identity,
		FromNode:  fromID,
		ToNode:    next.ID,
		Action:    action,
		UserInput: input,
	})
	return Result{
		Reply:    next.Message,
		FromNode: fromID,
		ToNode:   next.ID,
		Action:   action,
	}, nil
}

// transition moves the cursor to toID and replies with that node's
// message. Used for resets where no option lookup happened.
func (e *Engine) transition(ctx context.Context, identity, fromID, toID string, action Action, input string) (Result, error) {
	if err := e.store.SetNode(ctx, identity, toID); err != nil {
		return Result{}, err
	}
	node, _ := e.graph.Node(toID)
	e.flog.Append(ctx, FlowEntry{
		Identity:  identity,
		FromNode:  fromID,
		ToNode:    toID,
		Action:    action,
		UserInput: input,
	})
	return Result{
		Reply:    node.Message,
		FromNode: fromID,
		ToNode:   toID,
		Action:   action,
	}, nil
}
