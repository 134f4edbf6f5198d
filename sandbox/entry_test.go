package sandbox_test

import (
	"testing"

	"github.com/owinebar/v8/sandbox"
	"github.com/stretchr/testify/require"
)

const (
	tagNative  sandbox.Tag = sandbox.MarkBit | 0x0001<<48
	tagForeign sandbox.Tag = sandbox.MarkBit | 0x0002<<48
)

func TestRegularEntryRoundTrip(t *testing.T) {
	addresses := []sandbox.Address{0, 0x1000, 0xdeadbeef0, 0x0000_7fff_ffff_f000}

	for _, address := range addresses {
		entry := sandbox.MakeRegularEntry(address, tagNative)
		require.True(t, entry.IsRegularEntry())
		require.False(t, entry.IsFreelistEntry())
		require.False(t, entry.IsEvacuationEntry())
		require.True(t, entry.IsMarked())
		require.Equal(t, address, entry.Untag(tagNative))
	}
}

func TestUntagWithWrongTagYieldsGarbage(t *testing.T) {
	address := sandbox.Address(0x1000)
	entry := sandbox.MakeRegularEntry(address, tagNative)

	// The wrong tag leaves stray bits in the tag region, so the result is
	// not a usable address.
	garbage := entry.Untag(tagForeign)
	require.NotEqual(t, address, garbage)
	require.NotZero(t, uint64(garbage)&uint64(sandbox.TagMask))
}

func TestMarkBitManipulation(t *testing.T) {
	entry := sandbox.MakeRegularEntry(0x2000, tagNative)
	require.True(t, entry.IsMarked())

	entry.ClearMarkBit()
	require.False(t, entry.IsMarked())
	require.True(t, entry.IsRegularEntry())

	entry.SetMarkBit()
	require.True(t, entry.IsMarked())
	require.Equal(t, sandbox.Address(0x2000), entry.Untag(tagNative))
}

func TestFreelistEntryCodec(t *testing.T) {
	entry := sandbox.MakeFreelistEntry(42, 17)
	require.True(t, entry.IsFreelistEntry())
	require.False(t, entry.IsRegularEntry())
	require.False(t, entry.IsEvacuationEntry())
	require.False(t, entry.IsMarked())
	require.Equal(t, uint32(42), entry.ExtractNextFreelistEntry())
	require.Equal(t, uint32(17), entry.ExtractFreelistSize())

	// A terminating link.
	last := sandbox.MakeFreelistEntry(0, 1)
	require.Equal(t, uint32(0), last.ExtractNextFreelistEntry())
	require.Equal(t, uint32(1), last.ExtractFreelistSize())
}

func TestEvacuationEntryCodec(t *testing.T) {
	home := new(sandbox.Handle)
	entry := sandbox.MakeEvacuationEntry(home)
	require.True(t, entry.IsEvacuationEntry())
	require.False(t, entry.IsRegularEntry())
	require.False(t, entry.IsFreelistEntry())
	require.False(t, entry.IsMarked())
	require.Same(t, home, entry.ExtractEvacuationLocation())
}

func TestHandleCodecRoundTrip(t *testing.T) {
	require.Equal(t, sandbox.NullHandle, sandbox.IndexToHandle(0))
	require.Equal(t, uint32(0), sandbox.HandleToIndex(sandbox.NullHandle))

	for _, index := range []uint32{1, 2, 255, 4096, 1 << 20} {
		handle := sandbox.IndexToHandle(index)
		require.NotEqual(t, sandbox.NullHandle, handle)
		require.Equal(t, index, sandbox.HandleToIndex(handle))
	}
}
