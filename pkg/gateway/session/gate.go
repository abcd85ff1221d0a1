package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aRaikoFunakami/copilot-automotive/pkg/gateway/tools"
)

// PendingCall is one backend-requested tool invocation awaiting dispatch.
type PendingCall struct {
	CallID    string
	Name      string
	Arguments string
}

// ToolResult is the outcome of one tool invocation. Output is always a JSON
// document; failures are encoded as `{"error": ...}` so the backend can be
// informed under the original call id.
type ToolResult struct {
	CallID string
	Output string
	IsErr  bool
}

// ReturnDirect reports whether the result payload asks to bypass the
// backend's verbal response and go straight to the client.
func (r ToolResult) ReturnDirect() bool {
	var flag struct {
		ReturnDirect bool `json:"return_direct"`
	}
	if err := json.Unmarshal([]byte(r.Output), &flag); err != nil {
		return false
	}
	return flag.ReturnDirect
}

// ConcurrentCallError reports a second tool call arriving while one is still
// waiting to be picked up. The pending call is unaffected.
type ConcurrentCallError struct {
	CallID string
}

func (e *ConcurrentCallError) Error() string {
	return fmt.Sprintf("tool call %s submitted while another call is pending dispatch", e.CallID)
}

// DispatchGate is a single-slot handoff between the backend event stream and
// tool execution. At most one call may wait for pickup at a time; once the
// run loop picks it up the slot re-arms immediately, so executions overlap
// freely while arrival stays serialized.
type DispatchGate struct {
	tools   *tools.Registry
	logger  *slog.Logger
	pending chan PendingCall
}

func NewDispatchGate(registry *tools.Registry, logger *slog.Logger) *DispatchGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &DispatchGate{
		tools:   registry,
		logger:  logger,
		pending: make(chan PendingCall, 1),
	}
}

// Submit hands one call to the gate. It never blocks: if the slot is still
// occupied the call is rejected with a *ConcurrentCallError.
func (g *DispatchGate) Submit(call PendingCall) error {
	select {
	case g.pending <- call:
		return nil
	default:
		return &ConcurrentCallError{CallID: call.CallID}
	}
}

// Run starts the dispatch loop and returns its result stream. Unknown tools
// and unparseable arguments become error results, not failures of the loop.
// The stream closes after the context is cancelled and all in-flight
// executions have finished.
func (g *DispatchGate) Run(ctx context.Context) <-chan ToolResult {
	out := make(chan ToolResult)
	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case call := <-g.pending:
				tool, ok := g.tools.Get(call.Name)
				if !ok {
					g.logger.Error("unknown tool requested", "tool", call.Name, "call_id", call.CallID)
					g.send(ctx, out, errorResult(call.CallID, fmt.Sprintf("tool %q is not available", call.Name)))
					continue
				}
				args, err := decodeArguments(call.Arguments)
				if err != nil {
					g.logger.Error("undecodable tool arguments", "tool", call.Name, "call_id", call.CallID, "error", err)
					g.send(ctx, out, errorResult(call.CallID, fmt.Sprintf("invalid arguments for %q", call.Name)))
					continue
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					g.send(ctx, out, g.execute(ctx, tool, call, args))
				}()
			}
		}
	}()
	return out
}

func (g *DispatchGate) execute(ctx context.Context, tool tools.Tool, call PendingCall, args map[string]any) ToolResult {
	result, err := tool.Execute(ctx, args)
	if err != nil {
		g.logger.Error("tool execution failed", "tool", call.Name, "call_id", call.CallID, "error", err)
		return errorResult(call.CallID, err.Error())
	}
	output, err := json.Marshal(result)
	if err != nil {
		g.logger.Error("tool result not serializable", "tool", call.Name, "call_id", call.CallID, "error", err)
		return errorResult(call.CallID, fmt.Sprintf("result of %q is not serializable", call.Name))
	}
	return ToolResult{CallID: call.CallID, Output: string(output)}
}

func (g *DispatchGate) send(ctx context.Context, out chan<- ToolResult, result ToolResult) {
	select {
	case out <- result:
	case <-ctx.Done():
	}
}

func errorResult(callID, message string) ToolResult {
	output, _ := json.Marshal(map[string]string{"error": message})
	return ToolResult{CallID: callID, Output: string(output), IsErr: true}
}

func decodeArguments(arguments string) (map[string]any, error) {
	if arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, err
	}
	return args, nil
}
