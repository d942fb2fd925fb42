package scheduling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickNextServesTwoRegularsThenOnePriority(t *testing.T) {
	priority := []string{"p1"}
	regular := []string{"r1", "r2", "r3"}

	id, cycle, ok := PickNext(priority, regular, 0)
	require.True(t, ok)
	assert.Equal(t, "r1", id)
	assert.Equal(t, 1, cycle)

	id, cycle, ok = PickNext(priority, regular[1:], cycle)
	require.True(t, ok)
	assert.Equal(t, "r2", id)
	assert.Equal(t, 2, cycle)

	id, cycle, ok = PickNext(priority, regular[2:], cycle)
	require.True(t, ok)
	assert.Equal(t, "p1", id)
	assert.Equal(t, 0, cycle)

	id, cycle, ok = PickNext(nil, regular[2:], cycle)
	require.True(t, ok)
	assert.Equal(t, "r3", id)
	assert.Equal(t, 1, cycle)
}

func TestPickNextFallsBackToPriorityWhenRegularsRunOut(t *testing.T) {
	id, cycle, ok := PickNext([]string{"p1", "p2"}, nil, 1)
	require.True(t, ok)
	assert.Equal(t, "p1", id)
	assert.Equal(t, 0, cycle)
}

func TestPickNextCapsCycleAtLimit(t *testing.T) {
	_, cycle, ok := PickNext(nil, []string{"r1"}, RegularsPerCycle)
	require.True(t, ok)
	assert.Equal(t, RegularsPerCycle, cycle)
}

func TestPickNextEmptyQueues(t *testing.T) {
	_, _, ok := PickNext(nil, nil, 0)
	assert.False(t, ok)
}

func TestSimulateOrderInterleavesClasses(t *testing.T) {
	entrants := []Entrant{
		{ID: "r1"},
		{ID: "r2"},
		{ID: "p1", Priority: true},
		{ID: "r3"},
	}

	order := SimulateOrder(entrants, 0)
	assert.Equal(t, []string{"r1", "r2", "p1", "r3"}, order)
}

func TestSimulateOrderRespectsInitialCycle(t *testing.T) {
	entrants := []Entrant{
		{ID: "r1"},
		{ID: "p1", Priority: true},
	}

	order := SimulateOrder(entrants, RegularsPerCycle)
	assert.Equal(t, []string{"p1", "r1"}, order)
}

func TestSimulateOrderOnlyPriority(t *testing.T) {
	entrants := []Entrant{
		{ID: "p1", Priority: true},
		{ID: "p2", Priority: true},
	}

	order := SimulateOrder(entrants, 0)
	assert.Equal(t, []string{"p1", "p2"}, order)
}

func TestPosition(t *testing.T) {
	entrants := []Entrant{
		{ID: "r1"},
		{ID: "p1", Priority: true},
	}

	assert.Equal(t, 2, Position(entrants, "p1", 0))
	assert.Equal(t, 1, Position(entrants, "r1", 0))
	assert.Equal(t, 0, Position(entrants, "absent", 0))
}

func TestRotateAfter(t *testing.T) {
	ids := []string{"w1", "w2", "w3"}

	assert.Equal(t, []string{"w3", "w1", "w2"}, RotateAfter(ids, "w2"))
	assert.Equal(t, []string{"w1", "w2", "w3"}, RotateAfter(ids, "w3"))
	assert.Equal(t, []string{"w1", "w2", "w3"}, RotateAfter(ids, ""))
	assert.Equal(t, []string{"w1", "w2", "w3"}, RotateAfter(ids, "unknown"))
}

func TestSlotsAhead(t *testing.T) {
	assert.InDelta(t, 0.6*3+1, SlotsAhead(true, 3, 1, 0), 1e-9)
	assert.InDelta(t, 3+1.25*2, SlotsAhead(false, 3, 2, 0), 1e-9)
	assert.InDelta(t, 2.0, SlotsAhead(false, 1, 0, 1), 1e-9)
	assert.Zero(t, SlotsAhead(false, 0, 0, 0))
}

func TestEtaMinutes(t *testing.T) {
	assert.Equal(t, 3, EtaMinutes(1, 180, 1))
	assert.Equal(t, 5, EtaMinutes(2, 300, 2))
	assert.Equal(t, 0, EtaMinutes(0, 300, 1))
	assert.Equal(t, 5, EtaMinutes(1, 300, 0))
}
