package budget

import (
	"sort"

	"github.com/arkestra-ai/arkestra/core"
)

// Result is Trim's output: the allocation plan plus the truncated inputs.
// History stays in chronological order, hits in descending score order,
// metadata in its original order.
type Result struct {
	Plan     core.BudgetPlan
	History  []core.Message
	Hits     []core.RetrievalHit
	Metadata []string
}

// Allocator trims prompt inputs to a token budget.
type Allocator struct {
	counter TokenCounter
}

// NewAllocator creates an allocator over the given counter. A nil counter
// falls back to the heuristic word counter.
func NewAllocator(counter TokenCounter) *Allocator {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	return &Allocator{counter: counter}
}

// Trim allocates maxTokens across the inputs with inclusion priority
// recent history > retrieval (highest score first) > metadata, truncating
// each class at a unit boundary once the running total would exceed the
// budget.
//
// History is never dropped entirely: the most recent message is kept even
// when it alone exceeds maxTokens, so the senior stage always sees the turn
// it is answering. The plan invariant Total() <= maxTokens therefore bends
// in exactly that one degenerate case, matching the behavior of keeping the
// last user turn over serving an empty prompt.
func (a *Allocator) Trim(history []core.Message, hits []core.RetrievalHit, metadata []string, maxTokens int) Result {
	res := Result{
		History:  []core.Message{},
		Hits:     []core.RetrievalHit{},
		Metadata: []string{},
	}
	if maxTokens < 0 {
		maxTokens = 0
	}
	used := 0

	// History: walk newest to oldest, keeping the newest message
	// unconditionally.
	kept := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := a.messageCost(history[i])
		if i < len(history)-1 && used+cost > maxTokens {
			break
		}
		res.History = append(res.History, history[i])
		used += cost
		kept += cost
	}
	reverse(res.History)
	res.Plan.HistoryTokens = kept

	// Retrieval: highest score first.
	ordered := append([]core.RetrievalHit(nil), hits...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })
	for _, h := range ordered {
		cost := a.counter.Count(h.Text)
		if used+cost > maxTokens {
			break
		}
		res.Hits = append(res.Hits, h)
		used += cost
		res.Plan.RetrievalTokens += cost
	}

	// Metadata last, in caller order.
	for _, m := range metadata {
		cost := a.counter.Count(m)
		if used+cost > maxTokens {
			break
		}
		res.Metadata = append(res.Metadata, m)
		used += cost
		res.Plan.MetadataTokens += cost
	}

	return res
}

// messageCost counts a message as "role: text", the unit the prompt builder
// emits per turn.
func (a *Allocator) messageCost(m core.Message) int {
	return a.counter.Count(m.Role + ": " + m.Text)
}

func reverse(msgs []core.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
