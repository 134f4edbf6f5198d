package sandbox_test

import (
	"testing"

	"github.com/owinebar/v8/sandbox"
)

func BenchmarkGet(b *testing.B) {
	table := sandbox.NewTable(sandbox.CreateOptions{})
	handle := table.AllocateAndInitializeEntry(nil, 0x1000, tagNative)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = table.Get(handle, tagNative)
	}
}

func BenchmarkSet(b *testing.B) {
	table := sandbox.NewTable(sandbox.CreateOptions{})
	handle := table.AllocateAndInitializeEntry(nil, 0x1000, tagNative)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		table.Set(handle, sandbox.Address(uint64(i)&0xFFFF_FFFF), tagNative)
	}
}

func BenchmarkAllocateAndSweep(b *testing.B) {
	table := sandbox.NewTable(sandbox.CreateOptions{GrowthStep: 1 << 14, MaxEntries: 1 << 15})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := 0; j < 1<<14-1; j++ {
			table.AllocateAndInitializeEntry(nil, 0x1000, tagNative)
		}
		table.SweepAndCompact()
		table.SweepAndCompact()
	}
}

func BenchmarkParallelAccess(b *testing.B) {
	table := sandbox.NewTable(sandbox.CreateOptions{})
	handle := table.AllocateAndInitializeEntry(nil, 0x1000, tagNative)

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			table.Set(handle, 0x2000, tagNative)
			_ = table.Get(handle, tagNative)
		}
	})
}
