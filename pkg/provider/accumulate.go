package provider

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// toolCallDelta is one partial tool-call fragment from the delta wire,
// keyed by index within the response.
type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// toolCallAccumulator folds per-index deltas into complete tool-call
// requests. The first delta for an index establishes id and name with
// empty arguments; every delta appends its argument fragment; name is
// filled later only if still empty.
type toolCallAccumulator struct {
	calls map[int]*pendingCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*pendingCall)}
}

func (a *toolCallAccumulator) add(d toolCallDelta) {
	pc, ok := a.calls[d.Index]
	if !ok {
		pc = &pendingCall{id: d.ID, name: d.Function.Name}
		a.calls[d.Index] = pc
	} else {
		if pc.id == "" {
			pc.id = d.ID
		}
		if pc.name == "" {
			pc.name = d.Function.Name
		}
	}
	pc.args.WriteString(d.Function.Arguments)
}

// requests returns the accumulated calls in index order. Calls that
// arrived without an id get a generated one so tool results stay
// addressable in the follow-up.
func (a *toolCallAccumulator) requests() []ToolCallRequest {
	if len(a.calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]ToolCallRequest, 0, len(indexes))
	for _, idx := range indexes {
		pc := a.calls[idx]
		id := pc.id
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out = append(out, ToolCallRequest{ID: id, Name: pc.name, Arguments: pc.args.String()})
	}
	return out
}
