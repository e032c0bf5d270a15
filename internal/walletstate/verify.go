package walletstate

import (
	"context"
	"fmt"

	dErrors "wwwallet/pkg/domain-errors"
)

// VerifyHistory recomputes the hash chain of c's tail. It returns a
// CodeCorruptHistory error when an event id does not match the event's
// content, when the first event does not chain onto LastFoldedEventHash, when
// an id repeats, or when an event points at anything other than its
// predecessor, the anchor, or (at a merge join) an earlier tail event.
//
// Callers run this on every container loaded from storage and must not trust
// a container that fails it.
func (e *Engine) VerifyHistory(ctx context.Context, c Container) error {
	err := verifyChain(ctx, e, c)
	if err != nil {
		e.metrics.IncrementCorrupt()
		e.logger.WarnContext(ctx, "event history failed verification", "error", err)
	}
	return err
}

// EventHistoryIsConsistent is VerifyHistory reduced to a boolean.
func (e *Engine) EventHistoryIsConsistent(ctx context.Context, c Container) bool {
	return e.VerifyHistory(ctx, c) == nil
}

func verifyChain(ctx context.Context, e *Engine, c Container) error {
	anchor := c.LastFoldedEventHash
	seen := make(map[string]struct{}, len(c.TailEvents))
	for i, ev := range c.TailEvents {
		want, err := e.eventID(ctx, ev)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "recompute event id")
		}
		if want != ev.ID {
			return corrupt("event %d: id %q does not match its content", i, ev.ID)
		}
		if _, dup := seen[ev.ID]; dup {
			return corrupt("event %d: id %q appears twice", i, ev.ID)
		}

		switch {
		case i == 0:
			if ev.PrevHash != anchor {
				return corrupt("event 0: chains onto %q, expected fold anchor %q", ev.PrevHash, anchor)
			}
		case ev.PrevHash == c.TailEvents[i-1].ID, ev.PrevHash == anchor:
		default:
			if _, ok := seen[ev.PrevHash]; !ok {
				return corrupt("event %d: predecessor %q is not in the history", i, ev.PrevHash)
			}
		}
		seen[ev.ID] = struct{}{}
	}
	return nil
}

func corrupt(format string, args ...any) error {
	return dErrors.New(dErrors.CodeCorruptHistory, fmt.Sprintf(format, args...))
}
