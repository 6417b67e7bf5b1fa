package plan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func planOf(batches ...[]Call) Plan {
	p := Plan{}
	for _, calls := range batches {
		p.Batches = append(p.Batches, Batch{Calls: calls})
	}
	return p
}

func TestExecuteResultOrder(t *testing.T) {
	// Later calls in the batch finish first; results must still come back
	// in request order.
	p := planOf([]Call{{ID: "1", Name: "slow"}, {ID: "2", Name: "fast"}, {ID: "3", Name: "fast"}})

	e := &Executor{}
	results, err := e.Execute(context.Background(), p, func(ctx context.Context, c Call) (interface{}, error) {
		if c.Name == "slow" {
			time.Sleep(50 * time.Millisecond)
		}
		return c.ID, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"1", "2", "3"} {
		if results[i].CallID != want {
			t.Errorf("Position %d: expected call %s, got %s", i, want, results[i].CallID)
		}
		if results[i].Output != want {
			t.Errorf("Position %d: expected output %q, got %v", i, want, results[i].Output)
		}
	}
}

func TestExecuteSequentialBatches(t *testing.T) {
	// Batch k+1 must not start before every call in batch k finished.
	var concurrent, peak int32
	p := planOf(
		[]Call{{ID: "1"}, {ID: "2"}},
		[]Call{{ID: "3"}, {ID: "4"}},
	)

	e := &Executor{}
	_, err := e.Execute(context.Background(), p, func(ctx context.Context, c Call) (interface{}, error) {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Errorf("Batches overlapped: peak concurrency %d, expected <= 2", got)
	}
}

func TestExecuteErrorIsolation(t *testing.T) {
	p := planOf([]Call{{ID: "1"}, {ID: "2"}, {ID: "3"}})

	e := &Executor{}
	results, err := e.Execute(context.Background(), p, func(ctx context.Context, c Call) (interface{}, error) {
		if c.ID == "2" {
			return nil, errors.New("boom")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if results[0].Err != nil || results[2].Err != nil {
		t.Error("Sibling calls should not be affected by a failing call")
	}
	if results[1].Err == nil {
		t.Error("Failing call should carry its error in the result")
	}
}

func TestExecutePanicIsolation(t *testing.T) {
	p := planOf([]Call{{ID: "1", Name: "bad"}, {ID: "2", Name: "good"}})

	e := &Executor{}
	results, err := e.Execute(context.Background(), p, func(ctx context.Context, c Call) (interface{}, error) {
		if c.Name == "bad" {
			panic("tool blew up")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if results[0].Err == nil {
		t.Error("Panicking call should surface as an error result")
	}
	if results[1].Err != nil || results[1].Output != "ok" {
		t.Errorf("Sibling call should succeed, got %v / %v", results[1].Output, results[1].Err)
	}
}

func TestExecuteCancellationBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := planOf(
		[]Call{{ID: "1"}},
		[]Call{{ID: "2"}},
		[]Call{{ID: "3"}},
	)

	e := &Executor{}
	var ran int32
	results, err := e.Execute(ctx, p, func(ctx context.Context, c Call) (interface{}, error) {
		atomic.AddInt32(&ran, 1)
		if c.ID == "1" {
			cancel()
		}
		return c.ID, nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if got := atomic.LoadInt32(&ran); got != 1 {
		t.Errorf("Expected only batch 1 to run, %d calls ran", got)
	}
	if len(results) != 1 || results[0].CallID != "1" {
		t.Errorf("Expected partial results for batch 1, got %v", results)
	}
}

func TestExecuteInFlightCallsDrainOnCancel(t *testing.T) {
	// Cancellation mid-batch must not reach the running calls: a sibling
	// that honors its context still completes, and the plan stops at the
	// next batch boundary.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := planOf(
		[]Call{{ID: "1"}, {ID: "2"}},
		[]Call{{ID: "3"}},
	)

	started := make(chan struct{})
	release := make(chan struct{})
	e := &Executor{}
	results, err := e.Execute(ctx, p, func(ctx context.Context, c Call) (interface{}, error) {
		switch c.ID {
		case "1":
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return "done", nil
		case "2":
			<-started
			cancel()
			close(release)
			return "done", nil
		}
		t.Errorf("Call %s should not run after cancellation", c.ID)
		return nil, nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 partial results, got %d", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("Call %d should finish naturally, got %v", i+1, r.Err)
		}
		if r.Output != "done" {
			t.Errorf("Call %d: expected completed output, got %v", i+1, r.Output)
		}
	}
}

func TestExecuteWorkerLimit(t *testing.T) {
	var concurrent, peak int32
	calls := make([]Call, 8)
	for i := range calls {
		calls[i] = Call{ID: fmt.Sprintf("%d", i)}
	}
	p := planOf(calls)

	e := &Executor{Workers: 2}
	_, err := e.Execute(context.Background(), p, func(ctx context.Context, c Call) (interface{}, error) {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Errorf("Worker limit ignored: peak concurrency %d", got)
	}
}

func TestExecuteEmptyPlan(t *testing.T) {
	e := &Executor{}
	results, err := e.Execute(context.Background(), Plan{}, func(ctx context.Context, c Call) (interface{}, error) {
		t.Error("Invoke should not be called for an empty plan")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
}

func TestExecuteDurationRecorded(t *testing.T) {
	p := planOf([]Call{{ID: "1"}})
	e := &Executor{}
	results, err := e.Execute(context.Background(), p, func(ctx context.Context, c Call) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if results[0].Duration < 10*time.Millisecond {
		t.Errorf("Expected duration >= 10ms, got %v", results[0].Duration)
	}
}

func TestEngineAnalyzeAndExecute(t *testing.T) {
	eng := NewEngine(EngineConfig{Catalog: testCatalog(), Root: "/ws"})

	calls := []Call{
		call("1", "read", "/a"),
		call("2", "write", "/a"),
		call("3", "read", "/a"),
	}
	results, err := eng.AnalyzeAndExecute(context.Background(), calls, func(ctx context.Context, c Call) (interface{}, error) {
		return c.Name, nil
	})
	if err != nil {
		t.Fatalf("AnalyzeAndExecute failed: %v", err)
	}

	if len(results) != len(calls) {
		t.Fatalf("Expected %d results, got %d", len(calls), len(results))
	}
	for i := range calls {
		if results[i].CallID != calls[i].ID {
			t.Errorf("Position %d: expected call %s, got %s", i, calls[i].ID, results[i].CallID)
		}
	}
}
