package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Node is one step of a pipeline. Run writes its outcome into the state. Fail
// records a panic from Run as the node's own error marker.
type Node struct {
	Name string
	Run  func(ctx context.Context, s *State)
	Fail func(s *State, reason string)
}

// Graph runs its nodes in order from start to end. There are no branches:
// a failing node records a marker and the next node decides what to do with it.
type Graph struct {
	name   string
	nodes  []Node
	logger zerolog.Logger
}

// NewGraph builds a linear graph.
func NewGraph(name string, logger zerolog.Logger, nodes ...Node) *Graph {
	return &Graph{
		name:   name,
		nodes:  nodes,
		logger: logger.With().Str("component", "pipeline").Str("graph", name).Logger(),
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Nodes returns the node names in execution order.
func (g *Graph) Nodes() []string {
	names := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		names[i] = n.Name
	}
	return names
}

// Run executes every node against s. It always reaches the end.
func (g *Graph) Run(ctx context.Context, s *State) {
	start := time.Now()
	g.logger.Info().Str("trace_id", s.TraceID).Msg("pipeline started")

	for _, node := range g.nodes {
		g.runNode(ctx, node, s)
	}

	g.logger.Info().
		Str("trace_id", s.TraceID).
		Dur("duration", time.Since(start)).
		Msg("pipeline finished")
}

func (g *Graph) runNode(ctx context.Context, node Node, s *State) {
	log := g.logger.With().Str("trace_id", s.TraceID).Str("node", node.Name).Logger()
	start := time.Now()
	log.Debug().Msg("node started")

	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("node %s panicked: %v", node.Name, r)
			log.Error().Str("panic", fmt.Sprint(r)).Msg("node panicked")
			if node.Fail != nil {
				node.Fail(s, reason)
			}
		}
		log.Debug().Dur("duration", time.Since(start)).Msg("node finished")
	}()

	node.Run(ctx, s)
}
