// sandbox-stress exercises an external pointer table with concurrent
// mutators and marking goroutines across repeated collection cycles, and
// verifies that no live reference is ever lost, duplicated, or resolved to
// the wrong value.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/owinebar/v8/sandbox"
	flag "github.com/spf13/pflag"
	"golang.org/x/exp/slog"
)

const stressTag sandbox.Tag = sandbox.MarkBit | 0x0007<<48

var (
	workers      = flag.Int("workers", 8, "number of mutator goroutines")
	cycles       = flag.Int("cycles", 32, "number of collection cycles to run")
	opsPerCycle  = flag.Int("ops-per-cycle", 10000, "mutator operations per worker per cycle")
	maxEntries   = flag.Uint32("max-entries", 1<<18, "table reservation in slots")
	growthStep   = flag.Uint32("growth-step", 1<<12, "slots committed per growth")
	compactEvery = flag.Int("compact-every", 4, "start compacting every Nth cycle (0 disables)")
	dropPercent  = flag.Int("drop-percent", 25, "percentage of live references dropped per cycle")
	dumpStats    = flag.Bool("stats", false, "dump table statistics as JSON on exit")
	verbose      = flag.Bool("verbose", false, "log at debug level")
)

// liveRef is one reference held outside the table. The handle field is the
// handle's home: compaction rewrites it in place during a sweep.
type liveRef struct {
	handle sandbox.Handle
	value  sandbox.Address
}

// worker owns a disjoint set of live references and mutates them through
// the shared table.
type worker struct {
	rng   *rand.Rand
	table *sandbox.Table
	refs  []*liveRef
}

func (w *worker) runOps(count int) error {
	for i := 0; i < count; i++ {
		switch op := w.rng.Intn(10); {
		case op < 3 || len(w.refs) == 0:
			value := sandbox.Address(w.rng.Uint64()) &^ sandbox.Address(sandbox.TagMask)
			handle := w.table.AllocateAndInitializeEntry(nil, value, stressTag)
			w.refs = append(w.refs, &liveRef{handle: handle, value: value})
		case op < 6:
			ref := w.refs[w.rng.Intn(len(w.refs))]
			got := w.table.Get(ref.handle, stressTag)
			if got != ref.value {
				return fmt.Errorf("handle %#x resolved to %#x, want %#x", ref.handle, got, ref.value)
			}
		case op < 8:
			ref := w.refs[w.rng.Intn(len(w.refs))]
			ref.value = sandbox.Address(w.rng.Uint64()) &^ sandbox.Address(sandbox.TagMask)
			w.table.Set(ref.handle, ref.value, stressTag)
		default:
			ref := w.refs[w.rng.Intn(len(w.refs))]
			next := sandbox.Address(w.rng.Uint64()) &^ sandbox.Address(sandbox.TagMask)
			previous := w.table.Exchange(ref.handle, next, stressTag)
			if previous != ref.value {
				return fmt.Errorf("exchange on handle %#x returned %#x, want %#x", ref.handle, previous, ref.value)
			}
			ref.value = next
		}
	}
	return nil
}

// dropRefs forgets a fraction of the live references; the next sweep must
// reclaim their slots.
func (w *worker) dropRefs(percent int) {
	kept := w.refs[:0]
	for _, ref := range w.refs {
		if w.rng.Intn(100) >= percent {
			kept = append(kept, ref)
		}
	}
	w.refs = kept
}

// markRefs reports every live reference to the table, as a GC marking pass
// would.
func (w *worker) markRefs() {
	for _, ref := range w.refs {
		w.table.Mark(ref.handle, &ref.handle)
	}
}

// verifyRefs checks every reference after a sweep, and that no two
// references share a handle.
func (w *worker) verifyRefs(seen *swiss.Map[sandbox.Handle, *liveRef]) error {
	for _, ref := range w.refs {
		if other, ok := seen.Get(ref.handle); ok {
			return fmt.Errorf("handle %#x is shared by two live references (%p, %p)", ref.handle, ref, other)
		}
		seen.Put(ref.handle, ref)
		got := w.table.Get(ref.handle, stressTag)
		if got != ref.value {
			return fmt.Errorf("after sweep, handle %#x resolved to %#x, want %#x", ref.handle, got, ref.value)
		}
	}
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(os.Stderr))

	table := sandbox.NewTable(sandbox.CreateOptions{
		Logger:     logger,
		MaxEntries: *maxEntries,
		GrowthStep: *growthStep,
	})

	mutators := make([]*worker, *workers)
	for i := range mutators {
		mutators[i] = &worker{
			rng:   rand.New(rand.NewSource(int64(i) + 1)),
			table: table,
		}
	}

	for cycle := 1; cycle <= *cycles; cycle++ {
		// Mutator phase: all workers allocate and access concurrently.
		errs := make([]error, len(mutators))
		var wg sync.WaitGroup
		for i, m := range mutators {
			i, m := i, m
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = m.runOps(*opsPerCycle)
			}()
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				logger.Error("mutator phase failed", slog.Int("cycle", cycle), slog.Any("error", err))
				return 1
			}
		}

		for _, m := range mutators {
			m.dropRefs(*dropPercent)
		}

		if *compactEvery > 0 && cycle%*compactEvery == 0 {
			if boundary := table.Capacity() / 2; boundary > 0 {
				table.StartCompacting(boundary)
			}
		}

		// Marking phase: one marking goroutine per worker, concurrently, so
		// evacuation allocation and the abort path see real contention.
		for _, m := range mutators {
			m := m
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.markRefs()
			}()
		}
		wg.Wait()

		swept := table.SweepAndCompact()

		seen := swiss.NewMap[sandbox.Handle, *liveRef](uint32(swept.LiveEntries) + 1)
		for _, m := range mutators {
			if err := m.verifyRefs(seen); err != nil {
				logger.Error("verification failed", slog.Int("cycle", cycle), slog.Any("error", err))
				return 1
			}
		}
		if err := table.Validate(); err != nil {
			logger.Error("table validation failed", slog.Int("cycle", cycle), slog.Any("error", err))
			return 1
		}

		logger.Info("cycle complete",
			slog.Int("cycle", cycle),
			slog.Int("liveEntries", swept.LiveEntries),
			slog.Int("freedEntries", swept.FreedEntries),
			slog.Int("relocatedEntries", swept.RelocatedEntries),
			slog.Int("capacity", int(table.Capacity())))
	}

	if *dumpStats {
		writer := jwriter.NewWriter()
		table.PrintDetailedMap(&writer)
		if err := writer.Error(); err != nil {
			logger.Error("stats dump failed", slog.Any("error", err))
			return 1
		}
		fmt.Println(string(writer.Bytes()))
	}
	return 0
}
