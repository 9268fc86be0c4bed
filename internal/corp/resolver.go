// ABOUTME: Membership conflict policy for linking a wallet into a group
// ABOUTME: Pure decision table with no storage or crypto dependencies

package corp

// Disposition is the accepted outcome of Resolve.
type Disposition int

const (
	// JoinFresh means the wallet has no prior membership.
	JoinFresh Disposition = iota + 1

	// MigrateSolo means the wallet's prior group has only this wallet and is dissolved.
	MigrateSolo
)

func (d Disposition) String() string {
	switch d {
	case JoinFresh:
		return "join_fresh"
	case MigrateSolo:
		return "migrate_solo"
	default:
		return "unknown"
	}
}

// Conflict describes the wallet being linked relative to the target group.
type Conflict struct {
	// TargetGroupID identifies the group the wallet is joining.
	TargetGroupID string

	// CurrentGroupID is the wallet's present group, empty when it has none.
	CurrentGroupID string

	// CurrentGroupSize is the member count of CurrentGroupID.
	CurrentGroupSize int
}

// Resolve applies the conflict policy. It returns exactly one of JoinFresh,
// MigrateSolo, ErrAlreadyInSameGroup or ErrWalletBelongsToOtherGroup.
func Resolve(c Conflict) (Disposition, error) {
	switch {
	case c.CurrentGroupID == "":
		return JoinFresh, nil
	case c.CurrentGroupID == c.TargetGroupID:
		return 0, ErrAlreadyInSameGroup
	case c.CurrentGroupSize == 1:
		return MigrateSolo, nil
	default:
		return 0, ErrWalletBelongsToOtherGroup
	}
}

// CheckCapacity rejects adding one more wallet to a group of the given size.
// A non-positive limit means unbounded.
func CheckCapacity(size, limit int) error {
	if limit > 0 && size >= limit {
		return ErrGroupSizeLimitExceeded
	}
	return nil
}
