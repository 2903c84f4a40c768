package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
)

func requireCode(t *testing.T, err error, code ferrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, ferrors.New(code, "")))
}

func TestPlanAddRecordPreservesOrder(t *testing.T) {
	p := New()
	require.NoError(t, p.AddRecord("h1", "m1", "final", nil))
	require.NoError(t, p.AddRecord("h1", "m2", "final", nil))
	require.NoError(t, p.AddRecord("h2", "m3", "final", nil))

	units := p.Units("final")
	require.Equal(t, []Unit{
		{Host: "h1", Manifest: "m1"},
		{Host: "h1", Manifest: "m2"},
		{Host: "h2", Manifest: "m3"},
	}, units)
}

func TestPlanDependencyFanInFixture(t *testing.T) {
	// Mirrors the seed planning fixture: two independent prerequisites
	// gate a shared final marker.
	p := New()
	require.NoError(t, p.AddRecord("h1", "m1", "prerequisite_1", nil))
	require.NoError(t, p.AddRecord("h2", "m2", "prerequisite_2", nil))
	require.NoError(t, p.AddRecord("h1", "m3", "final", []string{"prerequisite_1", "prerequisite_2"}))
	require.NoError(t, p.Finalize())

	require.ElementsMatch(t, []string{"prerequisite_1", "prerequisite_2", "final"}, p.Markers())
	require.ElementsMatch(t, []string{"prerequisite_1", "prerequisite_2"}, p.Unblocked())

	p.MarkInProgress("prerequisite_1")
	p.MarkInProgress("prerequisite_2")
	require.Empty(t, p.Unblocked())

	p.MarkFinished("prerequisite_1")
	require.Empty(t, p.Unblocked(), "final still waits on prerequisite_2")

	p.MarkFinished("prerequisite_2")
	require.Equal(t, []string{"final"}, p.Unblocked())

	require.True(t, p.Pending())
	p.MarkInProgress("final")
	p.MarkFinished("final")
	require.False(t, p.Pending())
}

func TestPlanFinalizeRejectsCycle(t *testing.T) {
	p := New()
	require.NoError(t, p.AddRecord("h", "a", "A", []string{"B"}))
	require.NoError(t, p.AddRecord("h", "b", "B", []string{"C"}))
	require.NoError(t, p.AddRecord("h", "c", "C", []string{"A"}))

	err := p.Finalize()
	requireCode(t, err, ferrors.CodePlanCycle)
}

func TestPlanAddRecordAfterFinalizeIsRejected(t *testing.T) {
	p := New()
	require.NoError(t, p.AddRecord("h", "a", "A", nil))
	require.NoError(t, p.Finalize())

	err := p.AddRecord("h", "b", "B", nil)
	requireCode(t, err, ferrors.CodeConfig)
}

func TestPlanTopologicalOrderConsistentWithDependencies(t *testing.T) {
	p := New()
	require.NoError(t, p.AddRecord("h", "c", "C", []string{"A", "B"}))
	require.NoError(t, p.AddRecord("h", "b", "B", []string{"A"}))
	require.NoError(t, p.AddRecord("h", "a", "A", nil))
	require.NoError(t, p.Finalize())

	order, err := p.TopologicalOrder()
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, order)
}

func TestPlanTopologicalOrderDetectsCycleWithoutFinalize(t *testing.T) {
	p := New()
	require.NoError(t, p.AddRecord("h", "a", "A", []string{"B"}))
	require.NoError(t, p.AddRecord("h", "b", "B", []string{"A"}))

	_, err := p.TopologicalOrder()
	requireCode(t, err, ferrors.CodePlanCycle)
}

func TestPlanPrerequisitesAndState(t *testing.T) {
	p := New()
	require.NoError(t, p.AddRecord("h", "a", "A", []string{"B", "C"}))

	require.Equal(t, []string{"B", "C"}, p.Prerequisites("A"))
	require.Equal(t, StateWaiting, p.State("A"))
	p.MarkInProgress("A")
	require.Equal(t, StateInProgress, p.State("A"))
	p.MarkFinished("A")
	require.Equal(t, StateFinished, p.State("A"))
	require.Equal(t, "finished", p.State("A").String())
}
