package walletstate

import (
	"context"

	dErrors "wwwallet/pkg/domain-errors"
)

// Merge outcomes reported in MergeResult.Outcome and the merge metric.
const (
	MergeIdentical    = "identical"
	MergeFastForward  = "fast_forward"
	MergeMerged       = "merged"
	mergeIncompatible = "incompatible"
)

// MergeResult describes a merge of two containers.
type MergeResult struct {
	// Container holds the shared base state and the merged tail.
	Container Container
	// DivergencePoint is the last event both inputs agreed on, nil when they
	// diverged at the root.
	DivergencePoint *Event
	// CommonPrefix is the number of tail events both inputs shared.
	CommonPrefix int
	// FromA and FromB count the events each input contributed past the
	// common prefix.
	FromA, FromB int
	// Unknown lists merged events whose kind this build cannot fold. They
	// stay in the tail so a newer build can fold them later.
	Unknown []Event
	// Outcome is one of MergeIdentical, MergeFastForward or MergeMerged.
	Outcome string
}

// Merge combines two containers that evolved from the same origin.
//
// The merged tail is the common prefix followed by both unique suffixes. The
// suffix whose first event has the smaller id goes first, which makes
// Merge(a, b) and Merge(b, a) produce the same tail. Events keep their
// original ids and predecessor hashes, so past the divergence point the tail
// preserves causal order within each branch rather than forming one linear
// chain. An event present in both suffixes appears once.
//
// Both containers must share LastFoldedEventHash; otherwise one side was
// compacted past the other's history and the merge is refused with
// CodeIncompatibleHistories. The caller materialises the merged state by
// replaying the merged tail over the shared base state.
func (e *Engine) Merge(ctx context.Context, a, b Container) (MergeResult, error) {
	if a.LastFoldedEventHash != b.LastFoldedEventHash {
		e.metrics.IncrementMergeOutcome(mergeIncompatible)
		return MergeResult{}, dErrors.New(dErrors.CodeIncompatibleHistories, "containers were folded to different anchors")
	}
	point, err := FindDivergencePoint(a.TailEvents, b.TailEvents)
	if err != nil {
		e.metrics.IncrementMergeOutcome(mergeIncompatible)
		return MergeResult{}, err
	}

	prefix := commonPrefixLen(a.TailEvents, b.TailEvents)
	suffixA, suffixB := a.TailEvents[prefix:], b.TailEvents[prefix:]
	first, second := orderBranches(suffixA, suffixB)

	merged := make([]Event, 0, prefix+len(suffixA)+len(suffixB))
	seen := make(map[string]struct{}, cap(merged))
	for _, ev := range a.TailEvents[:prefix] {
		merged = append(merged, ev.clone())
		seen[ev.ID] = struct{}{}
	}
	added := func(events []Event) int {
		n := 0
		for _, ev := range events {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			merged = append(merged, ev.clone())
			n++
		}
		return n
	}
	firstAdded := added(first)
	secondAdded := added(second)

	result := MergeResult{
		Container:       Container{BaseState: a.BaseState.Clone(), TailEvents: merged, LastFoldedEventHash: a.LastFoldedEventHash},
		DivergencePoint: point,
		CommonPrefix:    prefix,
	}
	if len(first) > 0 && len(suffixA) > 0 && first[0].ID == suffixA[0].ID {
		result.FromA, result.FromB = firstAdded, secondAdded
	} else {
		result.FromA, result.FromB = secondAdded, firstAdded
	}

	for _, ev := range merged[prefix:] {
		if !ev.Kind.Known() {
			result.Unknown = append(result.Unknown, ev)
			e.logger.WarnContext(ctx, "preserving event of unknown kind in merged history",
				"event_id", ev.ID,
				"kind", string(ev.Kind),
			)
		}
	}
	e.metrics.AddUnknownKinds(len(result.Unknown))

	switch {
	case len(suffixA) == 0 && len(suffixB) == 0:
		result.Outcome = MergeIdentical
	case len(suffixA) == 0 || len(suffixB) == 0:
		result.Outcome = MergeFastForward
	default:
		result.Outcome = MergeMerged
	}
	e.metrics.IncrementMergeOutcome(result.Outcome)
	e.logger.DebugContext(ctx, "merged event histories",
		"outcome", result.Outcome,
		"common_prefix", prefix,
		"from_a", result.FromA,
		"from_b", result.FromB,
	)
	return result, nil
}

// orderBranches puts the suffix whose first event id sorts lower first.
func orderBranches(a, b []Event) ([]Event, []Event) {
	if len(a) == 0 {
		return b, a
	}
	if len(b) == 0 {
		return a, b
	}
	if b[0].ID < a[0].ID {
		return b, a
	}
	return a, b
}
