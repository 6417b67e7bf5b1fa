// Plan module - dependency analysis and batched execution of tool calls
//
// Given the ordered tool calls from one model turn, the analyzer partitions
// them into batches that are safe to run concurrently, and the executor runs
// the batches strictly in sequence. There are no runtime locks: correctness
// comes from static classification plus the batch barrier.
package plan

import (
	"context"
	"time"
)

// Call is one model-requested tool invocation. Calls live for a single
// orchestrator turn and are never persisted here.
type Call struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Batch is a group of calls judged safe to execute concurrently.
type Batch struct {
	Calls []Call
}

// Plan is an ordered list of batches. Flattened, it equals the input call
// list: same calls, same order, each exactly once.
type Plan struct {
	Batches []Batch
}

// Flatten returns the calls in original request order.
func (p Plan) Flatten() []Call {
	out := make([]Call, 0, p.Len())
	for _, b := range p.Batches {
		out = append(out, b.Calls...)
	}
	return out
}

// Len returns the total number of calls across all batches.
func (p Plan) Len() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b.Calls)
	}
	return n
}

// Result is the outcome of one call. Exactly one Result is produced per
// input call, in input order.
type Result struct {
	CallID   string        `json:"call_id"`
	Output   interface{}   `json:"output,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// InvokeFunc performs the actual side-effecting tool invocation. The
// executor never interprets the output; errors are captured per call.
type InvokeFunc func(ctx context.Context, call Call) (interface{}, error)

// Engine bundles the analyzer and executor behind the single entry point
// the orchestrator uses.
type Engine struct {
	analyzer *Analyzer
	executor *Executor
}

// EngineConfig holds engine construction parameters.
type EngineConfig struct {
	Catalog *Catalog // tool classification source (nil: empty catalog, all defaults)
	Root    string   // workspace root for path normalization
	Workers int      // max concurrent calls per batch (0: no limit beyond batch size)
}

// NewEngine creates an Engine with the given configuration.
func NewEngine(cfg EngineConfig) *Engine {
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Engine{
		analyzer: NewAnalyzer(catalog, cfg.Root),
		executor: &Executor{Workers: cfg.Workers},
	}
}

// Analyze partitions calls into the batch plan without executing anything.
func (e *Engine) Analyze(calls []Call) Plan {
	return e.analyzer.Analyze(calls)
}

// Execute runs a previously analyzed plan.
func (e *Engine) Execute(ctx context.Context, p Plan, invoke InvokeFunc) ([]Result, error) {
	return e.executor.Execute(ctx, p, invoke)
}

// AnalyzeAndExecute plans and runs one turn's tool calls. The returned
// results match the input order exactly. On cancellation the in-flight
// batch drains, no further batches start, and the partial results are
// returned together with the context error.
func (e *Engine) AnalyzeAndExecute(ctx context.Context, calls []Call, invoke InvokeFunc) ([]Result, error) {
	return e.executor.Execute(ctx, e.analyzer.Analyze(calls), invoke)
}
