package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST PLAN: ComputeDelta
//
// The delta computation diffs nodes over the full key union first, then
// inspects only the functions that node-level changes marked dirty. Key
// properties:
// - nil baseline classifies every node and function as added
// - A removed function surfaces its own removal and all its nodes'
// - A node-level change surfaces the owning function as modified
// - A function-level-only change (rename) never surfaces, because the
//   node diff is the only dirtiness oracle (known, documented gap)

func addressSet(addresses ...uint64) AddressSet {
	set := make(AddressSet, len(addresses))
	for _, address := range addresses {
		set.Add(address)
	}
	return set
}

func TestComputeDelta_NoBaselineMeansEverythingAdded(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha",
		BlockRange{Start: 0x1000, End: 0x1004},
		BlockRange{Start: 0x1010, End: 0x1012},
	)

	m := buildMetadata(t, provider)
	delta := ComputeDelta(m, nil)

	assert.Equal(t, addressSet(0x1000, 0x1010), delta.NodesAdded)
	assert.Equal(t, addressSet(0x1000), delta.FunctionsAdded)
	assert.Empty(t, delta.NodesRemoved)
	assert.Empty(t, delta.NodesModified)
	assert.Empty(t, delta.FunctionsRemoved)
	assert.Empty(t, delta.FunctionsModified)
}

func TestComputeDelta_PureRemoval(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1004})
	provider.addFunction(0x2000, "beta",
		BlockRange{Start: 0x2000, End: 0x2002},
		BlockRange{Start: 0x2010, End: 0x2014},
	)

	old := buildMetadata(t, provider)

	provider.removeFunction(0x2000)
	updated := buildMetadata(t, provider)

	delta := ComputeDelta(updated, old)
	assert.Equal(t, addressSet(0x2000), delta.FunctionsRemoved)
	assert.Equal(t, addressSet(0x2000, 0x2010), delta.NodesRemoved)
	assert.Empty(t, delta.NodesAdded)
	assert.Empty(t, delta.NodesModified)
	assert.Empty(t, delta.FunctionsAdded)
	assert.Empty(t, delta.FunctionsModified)
}

func TestComputeDelta_NodeChangeMarksOwnerModified(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1004})

	old := buildMetadata(t, provider)

	// The block grows by two bytes; same node address, different size.
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1006})
	updated := buildMetadata(t, provider)

	delta := ComputeDelta(updated, old)
	assert.Equal(t, addressSet(0x1000), delta.NodesModified)
	assert.Equal(t, addressSet(0x1000), delta.FunctionsModified)
	assert.Empty(t, delta.NodesAdded)
	assert.Empty(t, delta.NodesRemoved)
}

func TestComputeDelta_AddedFunction(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1004})

	old := buildMetadata(t, provider)

	provider.addFunction(0x2000, "beta", BlockRange{Start: 0x2000, End: 0x2002})
	updated := buildMetadata(t, provider)

	delta := ComputeDelta(updated, old)
	assert.Equal(t, addressSet(0x2000), delta.FunctionsAdded)
	assert.Equal(t, addressSet(0x2000), delta.NodesAdded)
	assert.Empty(t, delta.FunctionsModified)
}

func TestComputeDelta_RenameDoesNotSurface(t *testing.T) {
	t.Parallel()

	// Known limitation: the function diff only inspects functions made
	// dirty by the node diff, so a name change with identical nodes is
	// invisible. This test pins the behavior rather than endorsing it.
	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1004})

	old := buildMetadata(t, provider)

	provider.addFunction(0x1000, "renamed_alpha", BlockRange{Start: 0x1000, End: 0x1004})
	updated := buildMetadata(t, provider)

	delta := ComputeDelta(updated, old)
	assert.True(t, delta.Empty())
}

func TestComputeDelta_IdenticalSnapshotsAreEmpty(t *testing.T) {
	t.Parallel()

	provider := newFakeProvider()
	provider.addFunction(0x1000, "alpha", BlockRange{Start: 0x1000, End: 0x1004})

	m := buildMetadata(t, provider)
	delta := ComputeDelta(m, m.Copy())
	assert.True(t, delta.Empty())
}

func TestAddressSet_Sorted(t *testing.T) {
	t.Parallel()

	set := addressSet(0x30, 0x10, 0x20)
	require.Equal(t, []uint64{0x10, 0x20, 0x30}, set.Sorted())
	assert.True(t, set.Contains(0x20))
	assert.False(t, set.Contains(0x40))
}
