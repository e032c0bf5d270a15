package walletstate

import (
	"context"
	"fmt"

	dErrors "wwwallet/pkg/domain-errors"
)

// FoldAll passed as keepCount folds every tail event.
const FoldAll = -1

// FoldOldEventsIntoBaseState absorbs every tail event except the newest
// keepCount into the base state and advances LastFoldedEventHash to the id of
// the last absorbed event. keepCount FoldAll folds everything; a keepCount at
// or above the tail length returns c unchanged.
//
// Folding is irreversible: only events already propagated to every live
// replica should be folded, or divergence against them can no longer be
// detected.
//
// The fold stops early in two cases. Events of unknown kind cannot be
// absorbed, so folding ends before the first one. And after a merge, the
// remaining tail must still chain onto the new anchor: if the natural cut
// would leave an event pointing at an already folded predecessor, the cut
// moves back until every remaining event points at the anchor or at another
// remaining event.
func (e *Engine) FoldOldEventsIntoBaseState(ctx context.Context, c Container, keepCount int) (Container, error) {
	if keepCount < FoldAll {
		return Container{}, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("keepCount must be %d or greater, got %d", FoldAll, keepCount))
	}
	n := len(c.TailEvents)
	limit := n
	if keepCount != FoldAll {
		limit = n - keepCount
	}
	if limit <= 0 {
		return c, nil
	}

	for i, ev := range c.TailEvents[:limit] {
		if !ev.Kind.Known() {
			e.logger.WarnContext(ctx, "fold stopped at event of unknown kind",
				"event_id", ev.ID,
				"kind", string(ev.Kind),
			)
			limit = i
			break
		}
	}
	for limit > 0 && !validFoldBoundary(c.TailEvents, limit) {
		limit--
	}
	if limit == 0 {
		return c, nil
	}

	state := c.BaseState
	for _, ev := range c.TailEvents[:limit] {
		next, err := Reduce(state, ev)
		if err != nil {
			return Container{}, err
		}
		state = next
	}

	tail := make([]Event, n-limit)
	for i, ev := range c.TailEvents[limit:] {
		tail[i] = ev.clone()
	}
	folded := Container{
		BaseState:           state,
		TailEvents:          tail,
		LastFoldedEventHash: c.TailEvents[limit-1].ID,
	}

	e.metrics.AddFolded(limit)
	e.metrics.ObserveTailLength(len(tail))
	e.logger.DebugContext(ctx, "folded events into base state",
		"folded", limit,
		"remaining", len(tail),
		"anchor", folded.LastFoldedEventHash,
	)
	return folded, nil
}

// validFoldBoundary reports whether folding tail[:k] leaves a tail whose
// every event chains onto the new anchor tail[k-1] or onto a remaining event.
func validFoldBoundary(tail []Event, k int) bool {
	if k >= len(tail) {
		return true
	}
	reachable := map[string]struct{}{tail[k-1].ID: {}}
	for _, ev := range tail[k:] {
		if _, ok := reachable[ev.PrevHash]; !ok {
			return false
		}
		reachable[ev.ID] = struct{}{}
	}
	return true
}
