package fetch

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/fusionbase/fusionbase-go/internal/plan"
)

// maxParallelism caps the download pool regardless of core count.
const maxParallelism = 10

// Parallelism returns the bounded pool size: min(cores-1, 10), at least 1.
// A false parallel flag forces sequential downloads.
func Parallelism(parallel bool) int {
	if !parallel {
		return 1
	}
	n := runtime.NumCPU() - 1
	if n > maxParallelism {
		n = maxParallelism
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Result is the outcome for a single partition: the cached file path on
// success, or the captured error.
type Result struct {
	Partition plan.Partition
	Path      string
	Err       error
}

// ProgressFunc observes completion: done counts finished partitions
// (successful or failed) and only ever increases.
type ProgressFunc func(done, total int)

// Run fetches all partitions with bounded parallelism. Partition-local
// failures are captured in the corresponding Result and do not stop other
// partitions. A terminal error (see Terminal) cancels in-flight work and is
// returned; already-completed cache files stay valid.
func Run(ctx context.Context, parts []plan.Partition, parallelism int, fn func(context.Context, plan.Partition) (string, error), onProgress ProgressFunc) ([]Result, error) {
	if parallelism < 1 {
		parallelism = 1
	}

	results := make([]Result, len(parts))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			path, err := fn(gctx, p)
			results[i] = Result{Partition: p, Path: path, Err: err}
			if onProgress != nil {
				onProgress(int(done.Add(1)), len(parts))
			}
			if IsTerminal(err) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
