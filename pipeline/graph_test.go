package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_RunsNodesInOrder(t *testing.T) {
	var order []string
	node := func(name string) Node {
		return Node{Name: name, Run: func(context.Context, *State) { order = append(order, name) }}
	}
	g := NewGraph("test", zerolog.Nop(), node("a"), node("b"), node("c"))

	g.Run(context.Background(), &State{})

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, []string{"a", "b", "c"}, g.Nodes())
	assert.Equal(t, "test", g.Name())
}

func TestGraph_PanicBecomesMarkerAndRunContinues(t *testing.T) {
	reached := false
	g := NewGraph("test", zerolog.Nop(),
		Node{
			Name: "explode",
			Run:  func(context.Context, *State) { panic("bad input") },
			Fail: func(s *State, reason string) { s.Analysis = Failed{Reason: reason} },
		},
		Node{
			Name: "after",
			Run:  func(context.Context, *State) { reached = true },
		},
	)

	s := &State{}
	require.NotPanics(t, func() { g.Run(context.Background(), s) })

	failed, ok := s.Analysis.(Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Reason, "explode")
	assert.Contains(t, failed.Reason, "bad input")
	assert.True(t, reached)
}
