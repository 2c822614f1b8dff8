package nuagent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// maxBatchWorkers bounds the goroutines spawned for one tool batch.
const maxBatchWorkers = 10

// ExecutedCall pairs a tool call with its outcome.
type ExecutedCall struct {
	Call   ToolCall
	Result ToolResult
}

// ExecuteBatch runs every call in the batch concurrently and returns
// results in input order: out[i].Call == batch[i]. Failures and panics
// are captured into the corresponding slot; nothing escapes the batch.
// When ctx is cancelled, in-flight calls are abandoned to their own
// cancellation handling and unstarted slots receive a cancellation
// result.
func ExecuteBatch(ctx context.Context, reg *ToolRegistry, batch []ToolCall) []ExecutedCall {
	out := make([]ExecutedCall, len(batch))
	for i, tc := range batch {
		out[i].Call = tc
	}
	if len(batch) == 0 {
		return out
	}
	if len(batch) == 1 {
		out[0].Result = runCall(ctx, reg, batch[0])
		return out
	}

	workCh := make(chan int)
	var wg sync.WaitGroup
	workers := min(len(batch), maxBatchWorkers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workCh {
				out[i].Result = runCall(ctx, reg, batch[i])
			}
		}()
	}

feed:
	for i := range batch {
		select {
		case workCh <- i:
		case <-ctx.Done():
			// Indices from i onward were never handed to a worker.
			for j := i; j < len(batch); j++ {
				out[j].Result = cancelResult(ctx)
			}
			break feed
		}
	}
	close(workCh)
	wg.Wait()
	return out
}

// runCall executes one tool call, trapping panics into a structured
// error result.
func runCall(ctx context.Context, reg *ToolRegistry, tc ToolCall) (result ToolResult) {
	defer func() {
		if p := recover(); p != nil {
			result = ToolResult{
				Error:          fmt.Sprintf("tool %q panic: %v\n%s", tc.Name, p, debug.Stack()),
				ExceptionClass: "panic",
			}
		}
	}()
	if err := ctx.Err(); err != nil {
		return cancelResult(ctx)
	}
	res, err := reg.Execute(ctx, tc.Name, tc.Args)
	if err != nil {
		return ToolResult{
			Error:          err.Error(),
			ExceptionClass: fmt.Sprintf("%T", err),
		}
	}
	return res
}

func cancelResult(ctx context.Context) ToolResult {
	return ToolResult{
		Error:          "cancelled: " + context.Cause(ctx).Error(),
		ExceptionClass: "cancelled",
	}
}
