// Package session implements the per-client orchestration core: the merged
// event stream, the tool dispatch gate, the backend-facing agent loop, and
// the session registry that owns their lifecycles.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aRaikoFunakami/copilot-automotive/pkg/core/realtime"
)

// Label identifies which producer an item came from.
type Label string

const (
	LabelUserInput     Label = "user_input"
	LabelBackendOutput Label = "backend_output"
	LabelToolResult    Label = "tool_result"
)

// Item is one element of the merged stream. Exactly one payload field is set,
// matching the label.
type Item struct {
	Label  Label
	Input  json.RawMessage
	Event  realtime.ServerEvent
	Result ToolResult
}

// Multiplex merges the three session producers into a single stream. Per-source
// order is preserved; across sources, whichever item is ready first is yielded
// first. The returned channel closes once every source channel has closed or
// the context is cancelled.
func Multiplex(ctx context.Context, input <-chan json.RawMessage, backend <-chan realtime.ServerEvent, results <-chan ToolResult) <-chan Item {
	out := make(chan Item)
	var wg sync.WaitGroup

	forward := func(recv func() (Item, bool)) {
		defer wg.Done()
		for {
			item, ok := recv()
			if !ok {
				return
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}

	wg.Add(3)
	go forward(func() (Item, bool) {
		select {
		case raw, ok := <-input:
			return Item{Label: LabelUserInput, Input: raw}, ok
		case <-ctx.Done():
			return Item{}, false
		}
	})
	go forward(func() (Item, bool) {
		select {
		case ev, ok := <-backend:
			return Item{Label: LabelBackendOutput, Event: ev}, ok
		case <-ctx.Done():
			return Item{}, false
		}
	})
	go forward(func() (Item, bool) {
		select {
		case result, ok := <-results:
			return Item{Label: LabelToolResult, Result: result}, ok
		case <-ctx.Done():
			return Item{}, false
		}
	})

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
