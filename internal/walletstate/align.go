package walletstate

import (
	"bytes"
	"context"
	"encoding/json"

	dErrors "wwwallet/pkg/domain-errors"
)

// AlignAnchors brings two containers folded to different anchors onto the
// same one so they can be merged.
//
// When b's anchor is an event still in a's tail, a is folded up to that event
// (and the other way round). The result is accepted only if both base states
// then agree; any other difference is reported as CodeIncompatibleHistories.
// Containers that already share an anchor are returned unchanged.
func (e *Engine) AlignAnchors(ctx context.Context, a, b Container) (Container, Container, error) {
	if a.LastFoldedEventHash == b.LastFoldedEventHash {
		return a, b, nil
	}

	if alignedA, ok, err := e.foldTo(ctx, a, b.LastFoldedEventHash); err != nil {
		return Container{}, Container{}, err
	} else if ok && sameState(alignedA.BaseState, b.BaseState) {
		return alignedA, b, nil
	}
	if alignedB, ok, err := e.foldTo(ctx, b, a.LastFoldedEventHash); err != nil {
		return Container{}, Container{}, err
	} else if ok && sameState(a.BaseState, alignedB.BaseState) {
		return a, alignedB, nil
	}

	e.logger.WarnContext(ctx, "cannot align fold anchors",
		"anchor_a", a.LastFoldedEventHash,
		"anchor_b", b.LastFoldedEventHash,
	)
	return Container{}, Container{}, dErrors.New(dErrors.CodeIncompatibleHistories, "containers were folded to different anchors")
}

// foldTo folds c through the tail event with id anchor. ok is false when the
// anchor is not in the tail or the fold could not reach it.
func (e *Engine) foldTo(ctx context.Context, c Container, anchor string) (Container, bool, error) {
	if anchor == "" {
		return Container{}, false, nil
	}
	for i, ev := range c.TailEvents {
		if ev.ID != anchor {
			continue
		}
		folded, err := e.FoldOldEventsIntoBaseState(ctx, c, len(c.TailEvents)-i-1)
		if err != nil {
			return Container{}, false, err
		}
		return folded, folded.LastFoldedEventHash == anchor, nil
	}
	return Container{}, false, nil
}

func sameState(a, b WalletState) bool {
	ja, errA := json.Marshal(a.normalize())
	jb, errB := json.Marshal(b.normalize())
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
