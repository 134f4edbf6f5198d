package sandbox_test

import (
	"testing"

	"github.com/owinebar/v8/sandbox"
	"github.com/stretchr/testify/require"
)

func TestSweepFreesUnmarkedEntries(t *testing.T) {
	table := newTestTable(8, 32)

	handles := make([]sandbox.Handle, 5)
	for i := range handles {
		handles[i] = table.AllocateAndInitializeEntry(nil, sandbox.Address(0x1000*uint64(i+1)), tagNative)
	}
	table.SweepAndCompact()

	// Keep handles[0] and handles[3] for the next cycle.
	homes := []sandbox.Handle{handles[0], handles[3]}
	table.Mark(handles[0], &homes[0])
	table.Mark(handles[3], &homes[1])

	stats := table.SweepAndCompact()
	require.Equal(t, 2, stats.LiveEntries)
	require.Equal(t, 5, stats.FreedEntries)
	require.Equal(t, 0, stats.RelocatedEntries)

	require.Equal(t, sandbox.Address(0x1000), table.Get(handles[0], tagNative))
	require.Equal(t, sandbox.Address(0x4000), table.Get(handles[3], tagNative))
	require.Equal(t, uint32(5), table.FreelistSize())
	require.NoError(t, table.Validate())
}

func TestSweepRebuildsFreelistBottomUp(t *testing.T) {
	table := newTestTable(8, 32)

	for i := 0; i < 7; i++ {
		table.AllocateAndInitializeEntry(nil, 0x1000, tagNative)
	}
	table.SweepAndCompact()
	table.SweepAndCompact()

	// With everything dead the freelist head sits at slot 1, so the table
	// refills from the bottom.
	h := table.AllocateAndInitializeEntry(nil, 0x2000, tagNative)
	require.Equal(t, uint32(1), sandbox.HandleToIndex(h))
	require.NoError(t, table.Validate())
}

func TestSweepResolvesEvacuatedEntries(t *testing.T) {
	table := newTestTable(8, 32)

	// Build: slots 1..3 free, slots 4..7 live.
	handles := make([]sandbox.Handle, 7)
	for i := range handles {
		handles[i] = table.AllocateAndInitializeEntry(nil, sandbox.Address(0x1000*uint64(i+1)), tagNative)
	}
	table.SweepAndCompact()
	homes := make([]sandbox.Handle, 7)
	copy(homes, handles)
	for i := 3; i < 7; i++ {
		table.Mark(handles[i], &homes[i])
	}
	table.SweepAndCompact()
	require.Equal(t, uint32(3), table.FreelistSize())

	// Evacuate the live tail. Three entries fit below the boundary; the
	// fourth drains the freelist and aborts compaction.
	table.StartCompacting(4)
	for i := 3; i < 7; i++ {
		table.Mark(handles[i], &homes[i])
	}
	require.True(t, table.CompactingWasAbortedDuringMarking())

	stats := table.SweepAndCompact()
	require.Equal(t, 3, stats.RelocatedEntries)
	require.Equal(t, 4, stats.LiveEntries)
	require.Equal(t, 3, stats.FreedEntries)
	require.False(t, table.IsCompacting())

	// Each evacuated handle's home was rewritten to a slot below the
	// boundary and still resolves to its value.
	relocated := 0
	for i := 3; i < 7; i++ {
		value := sandbox.Address(0x1000 * uint64(i+1))
		require.Equal(t, value, table.Get(homes[i], tagNative))
		if sandbox.HandleToIndex(homes[i]) < 4 {
			relocated++
		}
	}
	require.Equal(t, 3, relocated)
	require.NoError(t, table.Validate())

	// The next cycle can reuse the reclaimed tail.
	require.Equal(t, uint32(3), table.FreelistSize())
}

func TestSweepCompletesCompactionWhenSpaceSuffices(t *testing.T) {
	table := newTestTable(4, 16)

	handles := make([]sandbox.Handle, 3)
	for i := range handles {
		handles[i] = table.AllocateAndInitializeEntry(nil, sandbox.Address(0x1000*uint64(i+1)), tagNative)
	}
	table.SweepAndCompact()

	// Only the entry at slot 3 survives; slots 1 and 2 free up.
	home := handles[2]
	table.Mark(handles[2], &home)
	table.SweepAndCompact()

	table.StartCompacting(3)
	home2 := home
	table.Mark(home, &home2)
	require.False(t, table.CompactingWasAbortedDuringMarking())

	stats := table.SweepAndCompact()
	require.Equal(t, 1, stats.RelocatedEntries)
	require.Less(t, sandbox.HandleToIndex(home2), uint32(3))
	require.Equal(t, sandbox.Address(0x3000), table.Get(home2, tagNative))

	// Nothing live remains at or above the boundary.
	var statsAfter sandbox.TableStatistics
	table.AddStatistics(&statsAfter)
	require.Equal(t, 1, statsAfter.LiveEntries)
	require.Equal(t, 0, statsAfter.EvacuationEntries)
	require.NoError(t, table.Validate())
}

func TestSweepOnEmptyTable(t *testing.T) {
	table := newTestTable(8, 32)
	stats := table.SweepAndCompact()
	require.Zero(t, stats.LiveEntries)
	require.Zero(t, stats.FreedEntries)
	require.NoError(t, table.Validate())
}
