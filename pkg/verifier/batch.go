package verifier

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/sealpack/pkg/evidence"
)

// VerifyBatch verifies packs concurrently with at most workers goroutines
// (GOMAXPROCS when workers <= 0). Results are returned in input order. A
// tampered pack never stops the batch; only ctx cancellation does.
func VerifyBatch(ctx context.Context, packs []*evidence.EvidencePack, opts Options, workers int) ([]*Result, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]*Result, len(packs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range packs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = VerifyWith(p, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
