package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/task"
)

func TestAddEdge_RejectsSelfEdge(t *testing.T) {
	g := New()
	id := task.NewID()

	err := g.AddEdge(id, id, true)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidOperation, errs.KindOf(err))
}

func TestAddEdge_RejectsMissingTarget(t *testing.T) {
	g := New()
	from, to := task.NewID(), task.NewID()

	err := g.AddEdge(from, to, false)
	require.Error(t, err)
	assert.Equal(t, errs.TaskNotFound, errs.KindOf(err))
	assert.Empty(t, g.GetDependencies(from))
}

func TestAddEdge_RejectsCycle(t *testing.T) {
	g := New()
	a, b, c := task.NewID(), task.NewID(), task.NewID()

	require.NoError(t, g.AddEdge(a, b, true)) // a depends on b
	require.NoError(t, g.AddEdge(b, c, true)) // b depends on c

	err := g.AddEdge(c, a, true) // c depends on a would close the cycle
	require.Error(t, err)
	assert.Equal(t, errs.InvalidOperation, errs.KindOf(err))
}

func TestGetDependenciesAndDependents(t *testing.T) {
	g := New()
	from, to := task.NewID(), task.NewID()
	require.NoError(t, g.AddEdge(from, to, true))

	assert.Equal(t, []task.ID{to}, g.GetDependencies(from))
	assert.Equal(t, []task.ID{from}, g.GetDependents(to))
}

func TestIsBlocked(t *testing.T) {
	g := New()
	from, to := task.NewID(), task.NewID()

	assert.False(t, g.IsBlocked(from))

	require.NoError(t, g.AddEdge(from, to, true))
	assert.True(t, g.IsBlocked(from))

	g.ResolveDependency(from, to, task.Completed)
	assert.False(t, g.IsBlocked(from))
}

func TestResolveDependency_UnblocksOnlyWhenAllResolved(t *testing.T) {
	g := New()
	from, dep1, dep2 := task.NewID(), task.NewID(), task.NewID()
	require.NoError(t, g.AddEdge(from, dep1, true))
	require.NoError(t, g.AddEdge(from, dep2, true))

	unblocked, failed := g.ResolveDependency(from, dep1, task.Completed)
	assert.False(t, unblocked)
	assert.False(t, failed)
	assert.True(t, g.IsBlocked(from))

	unblocked, failed = g.ResolveDependency(from, dep2, task.Completed)
	assert.True(t, unblocked)
	assert.False(t, failed)
	assert.False(t, g.IsBlocked(from))
}

func TestResolveDependency_PropagatesFailure(t *testing.T) {
	g := New()
	from, dep := task.NewID(), task.NewID()
	require.NoError(t, g.AddEdge(from, dep, true))

	unblocked, failed := g.ResolveDependency(from, dep, task.Failed)
	assert.True(t, unblocked)
	assert.True(t, failed)
}

func TestResolveDependency_CancelledAlsoPropagates(t *testing.T) {
	g := New()
	from, dep := task.NewID(), task.NewID()
	require.NoError(t, g.AddEdge(from, dep, true))

	_, failed := g.ResolveDependency(from, dep, task.Cancelled)
	assert.True(t, failed)
}

func TestResolveDependency_UnknownEdgeIsNoop(t *testing.T) {
	g := New()
	from, dep := task.NewID(), task.NewID()

	unblocked, failed := g.ResolveDependency(from, dep, task.Completed)
	assert.False(t, unblocked)
	assert.False(t, failed)
}

func TestRemoveTask_PurgesEdgesBothDirections(t *testing.T) {
	g := New()
	from, to := task.NewID(), task.NewID()
	require.NoError(t, g.AddEdge(from, to, true))

	g.RemoveTask(to)
	assert.Empty(t, g.GetDependencies(from))
	assert.Empty(t, g.GetDependents(to))

	from2, to2 := task.NewID(), task.NewID()
	require.NoError(t, g.AddEdge(from2, to2, true))
	g.RemoveTask(from2)
	assert.Empty(t, g.GetDependents(to2))
	assert.Empty(t, g.GetDependencies(from2))
}
