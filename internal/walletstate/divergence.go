package walletstate

import (
	"fmt"

	dErrors "wwwallet/pkg/domain-errors"
)

// FindDivergencePoint returns the last event both sequences agree on, walking
// them position by position. A nil event means the histories diverged at the
// root: either sequence is empty, or their first events differ but chain onto
// the same predecessor.
//
// When one sequence is a prefix of the other (including identical sequences)
// the result is the last event of the shorter one. First events that differ
// and do not even share a predecessor have no common origin; that is
// reported as CodeIncompatibleHistories and the histories must not be merged.
func FindDivergencePoint(a, b []Event) (*Event, error) {
	n := commonPrefixLen(a, b)
	if n > 0 {
		point := a[n-1].clone()
		return &point, nil
	}
	if len(a) == 0 || len(b) == 0 {
		return nil, nil
	}
	if a[0].PrevHash != b[0].PrevHash {
		return nil, dErrors.New(dErrors.CodeIncompatibleHistories,
			fmt.Sprintf("histories share no origin: first events chain onto %q and %q", a[0].PrevHash, b[0].PrevHash))
	}
	return nil, nil
}

// commonPrefixLen counts the leading positions whose event ids agree.
func commonPrefixLen(a, b []Event) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i].ID != b[i].ID {
			return i
		}
	}
	return n
}
