package plan

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// Executor runs a batch plan. Batches run strictly one after another; the
// calls inside a batch run concurrently. There is no synchronization beyond
// the join at each batch boundary: the analyzer already guaranteed the calls
// inside a batch cannot interfere.
type Executor struct {
	// Workers caps concurrent calls within a batch. 0 means no cap beyond
	// the batch size, which is safe because batches are small by
	// construction.
	Workers int
}

// Execute runs plan and returns one Result per call, in the original
// request order regardless of completion order. A failing call never
// aborts its siblings or later batches; its error is carried in the
// result. If ctx is cancelled, the running batch drains, no further batch
// starts, and the partial results are returned with ctx.Err().
func (e *Executor) Execute(ctx context.Context, p Plan, invoke InvokeFunc) ([]Result, error) {
	results := make([]Result, 0, p.Len())

	for i, batch := range p.Batches {
		// Cancellation is only observed here, between batches. In-flight
		// calls always finish naturally.
		if err := ctx.Err(); err != nil {
			log.Printf("[Plan] cancelled after %d/%d batches", i, len(p.Batches))
			return results, err
		}

		if len(batch.Calls) == 1 {
			// Solo batch: run inline, no pool overhead.
			results = append(results, e.runOne(ctx, batch.Calls[0], invoke))
			continue
		}

		log.Printf("[Plan] batch %d/%d: %d concurrent calls", i+1, len(p.Batches), len(batch.Calls))
		batchResults := make([]Result, len(batch.Calls))
		g := new(errgroup.Group)
		if e.Workers > 0 {
			g.SetLimit(e.Workers)
		}
		for j, call := range batch.Calls {
			g.Go(func() error {
				batchResults[j] = e.runOne(ctx, call, invoke)
				return nil
			})
		}
		// Workers never return errors; a non-nil error here means the
		// harness itself broke, and the batching guarantees with it.
		if err := g.Wait(); err != nil {
			return results, fmt.Errorf("batch %d harness failure: %w", i, err)
		}
		results = append(results, batchResults...)
	}

	return results, nil
}

// runOne invokes a single call, capturing errors and panics as the call's
// result rather than letting them escape the batch.
func (e *Executor) runOne(ctx context.Context, call Call, invoke InvokeFunc) (res Result) {
	start := time.Now()
	res.CallID = call.ID

	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			log.Printf("[Plan] tool %s panicked: %v", call.Name, r)
			res.Output = nil
			res.Err = fmt.Errorf("tool %s panicked: %v", call.Name, r)
		}
	}()

	// The cancellation token stops at the batch boundary: a tool that
	// honors its context must still finish naturally when the turn is
	// cancelled mid-batch.
	out, err := invoke(context.WithoutCancel(ctx), call)
	res.Output = out
	res.Err = err
	return res
}
