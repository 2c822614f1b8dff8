package nuagent

// callClass is the scheduling classification of a tool call.
type callClass int

const (
	classRead callClass = iota
	classWrite
	classBarrier // unconfined write
)

// classify determines how a tool call participates in batching. Tools
// with nil affected paths behave as reads with no path conflicts.
func classify(reg *ToolRegistry, tc ToolCall) (callClass, []string) {
	def, ok := reg.Definition(tc.Name)
	if !ok {
		return classRead, nil
	}
	if def.Scope == ScopeUnconfined && def.OperationType == OpWrite {
		return classBarrier, nil
	}
	paths := reg.AffectedPaths(tc)
	if def.OperationType == OpWrite && def.Scope == ScopeConfined {
		return classWrite, paths
	}
	return classRead, paths
}

// PlanBatches groups an ordered tool-call list into sequential batches
// whose members can run concurrently. The concatenation of the returned
// batches equals calls in order. Unconfined writes run alone; a confined
// write conflicts with any prior call in the batch touching one of its
// paths; a read conflicts only with a prior write to one of its paths.
// Greedy single pass, O(n·k) over calls and their paths.
func PlanBatches(reg *ToolRegistry, calls []ToolCall) [][]ToolCall {
	if len(calls) == 0 {
		return nil
	}

	var batches [][]ToolCall
	var batch []ToolCall
	batchPaths := map[string]bool{} // every path touched in the current batch
	writePaths := map[string]bool{} // paths written in the current batch

	flush := func() {
		if len(batch) > 0 {
			batches = append(batches, batch)
		}
		batch = nil
		batchPaths = map[string]bool{}
		writePaths = map[string]bool{}
	}

	add := func(tc ToolCall, class callClass, paths []string) {
		batch = append(batch, tc)
		for _, p := range paths {
			batchPaths[p] = true
			if class == classWrite {
				writePaths[p] = true
			}
		}
	}

	for _, tc := range calls {
		class, paths := classify(reg, tc)

		// An unconfined write is a barrier: it runs alone.
		if class == classBarrier {
			flush()
			add(tc, class, paths)
			flush()
			continue
		}
		if len(batch) == 0 {
			add(tc, class, paths)
			continue
		}

		conflict := false
		for _, p := range paths {
			if class == classWrite && batchPaths[p] {
				conflict = true
				break
			}
			if class == classRead && writePaths[p] {
				conflict = true
				break
			}
		}
		if conflict {
			flush()
		}
		add(tc, class, paths)
	}
	flush()
	return batches
}
