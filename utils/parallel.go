package utils

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor is the most groups GroupWorkParallel splits work into. Tests may lower it.
var ParallelFactor = defaultParallelFactor(runtime.GOMAXPROCS(0))

// defaultParallelFactor uses every proc on small machines and a quarter of them past 32.
func defaultParallelFactor(procs int) int {
	if procs <= 0 {
		return 1
	}
	if procs > 32 {
		return procs / 4
	}
	return procs
}

type (
	// BeforeParallelGroupWorkFunc executes before any work starts with the calculated group size.
	BeforeParallelGroupWorkFunc func(groupSize int)
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// workRange is the half open span [from, to) of items handled by one group.
type workRange struct{ from, to int }

// splitWork cuts totalSize items into n contiguous ranges. The last range also takes the remainder.
func splitWork(totalSize, n int) []workRange {
	ranges := make([]workRange, n)
	size := totalSize / n
	for i := range ranges {
		ranges[i] = workRange{from: i * size, to: (i + 1) * size}
	}
	ranges[n-1].to = totalSize
	return ranges
}

// GroupWorkParallel spreads totalSize work items over at most ParallelFactor groups running
// concurrently. A panic in a group is returned as an error once every group has finished.
func GroupWorkParallel(ctx context.Context, totalSize int, before BeforeParallelGroupWorkFunc, groupWork GroupWorkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	numGroups := ParallelFactor
	if totalSize < numGroups {
		numGroups = totalSize
	}
	before(numGroups)
	if numGroups == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for groupNum, r := range splitWork(totalSize, numGroups) {
		groupNum, r := groupNum, r
		wg.Add(1)
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					mu.Lock()
					errs = multierr.Append(errs, fmt.Errorf("panic in work group %d: %v", groupNum, p))
					mu.Unlock()
				}
			}()
			memberWork, done := groupWork(groupNum, r.to-r.from, r.from, r.to)
			if memberWork != nil {
				for workNum := r.from; workNum < r.to; workNum++ {
					memberWork(workNum-r.from, workNum)
				}
			}
			if done != nil {
				done()
			}
		})
	}
	wg.Wait()
	return errs
}

// SimpleFunc is for RunInParallel.
type SimpleFunc func(ctx context.Context) error

// RunInParallel runs every function on its own goroutine and returns their combined errors. The first
// failure or panic cancels the context the others see.
func RunInParallel(ctx context.Context, fs []SimpleFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	fail := func(err error) {
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
		cancel()
	}

	wg.Add(len(fs))
	for i, f := range fs {
		i, f := i, f
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					fail(fmt.Errorf("panic in parallel func %d: %v", i, p))
				}
			}()
			if err := f(ctx); err != nil {
				fail(err)
			}
		}()
	}
	wg.Wait()
	return errs
}
