package plan

// Analyzer partitions one turn's tool calls into the batch plan. The
// algorithm is a single greedy pass over the input: coarser than optimal
// graph coloring on some inputs, but deterministic and easy to reason about
// when a batch comes out unexpectedly serialized.
type Analyzer struct {
	catalog *Catalog
	paths   *PathExtractor
}

// NewAnalyzer creates an analyzer using catalog for classification and root
// for path normalization.
func NewAnalyzer(catalog *Catalog, root string) *Analyzer {
	return &Analyzer{
		catalog: catalog,
		paths:   NewPathExtractor(catalog, root),
	}
}

// pending is an open batch under assembly plus what it touches.
type pending struct {
	calls      []Call
	touched    map[string]bool // all paths read or written by calls in the batch
	hasBarrier bool            // batch holds an unconfined write
}

func (b *pending) add(call Call, paths []string, barrier bool) {
	b.calls = append(b.calls, call)
	for _, p := range paths {
		b.touched[p] = true
	}
	if barrier {
		b.hasBarrier = true
	}
}

// Analyze produces the batch plan for calls. Total function: never fails,
// empty input yields an empty plan, and the flattened plan always equals the
// input in order and multiplicity.
func (a *Analyzer) Analyze(calls []Call) Plan {
	var p Plan
	if len(calls) == 0 {
		return p
	}

	current := &pending{touched: make(map[string]bool)}
	// lastWriter accumulates across the whole turn, not per batch: a read
	// only conflicts when the write it depends on is in the batch still
	// being assembled. Writes in already-closed batches are durable before
	// any later batch starts, so they need no tracking here.
	lastWriter := make(map[string]string) // path -> call ID

	flush := func() {
		if len(current.calls) > 0 {
			p.Batches = append(p.Batches, Batch{Calls: current.calls})
			current = &pending{touched: make(map[string]bool)}
		}
	}

	for _, call := range calls {
		md := a.catalog.MetadataFor(call.Name)
		paths := a.paths.Extract(call.Name, call.Args)
		barrier := md.IsBarrier()

		if a.blocked(current, md, paths, barrier, lastWriter) {
			flush()
		}
		current.add(call, paths, barrier)

		if md.Op == OpWrite {
			for _, path := range paths {
				lastWriter[path] = call.ID
			}
		}
	}
	flush()

	return p
}

// blocked reports whether call (with the given classification) may not join
// the open batch.
func (a *Analyzer) blocked(current *pending, md Metadata, paths []string, barrier bool, lastWriter map[string]string) bool {
	if len(current.calls) == 0 {
		return false
	}
	// Barrier rule: an unconfined write never shares a batch, in either
	// direction.
	if barrier || current.hasBarrier {
		return true
	}
	switch md.Op {
	case OpWrite:
		// A write conflicts with any touch of the same path in the batch.
		for _, p := range paths {
			if current.touched[p] {
				return true
			}
		}
	case OpRead:
		// A read conflicts only when the path's last writer is in the open
		// batch itself.
		for _, p := range paths {
			writer, ok := lastWriter[p]
			if ok && inBatch(current, writer) {
				return true
			}
		}
	}
	return false
}

func inBatch(b *pending, callID string) bool {
	for _, c := range b.calls {
		if c.ID == callID {
			return true
		}
	}
	return false
}
