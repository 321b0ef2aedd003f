package app

// Role assignment and winner computation for a completed reveal. Both are
// pure functions of the two revealed values, so neither player can steer the
// outcome by choosing their own number: the values are committed before
// either is disclosed.

type Role string

const (
	RoleA Role = "A"
	RoleB Role = "B"
)

// slot0Role returns slot 0's role. Slot 0 is role A iff both values fall on
// the same side of maxBid/2 (integer division); otherwise slot 0 is role B.
func slot0Role(v0, v1, maxBid uint64) Role {
	half := maxBid / 2
	if (v0 <= half) == (v1 <= half) {
		return RoleA
	}
	return RoleB
}

// roleOfSlot returns the role of the given slot (0 or 1) for revealed values
// v0 and v1. The two slots always hold opposite roles.
func roleOfSlot(slot int, v0, v1, maxBid uint64) Role {
	r := slot0Role(v0, v1, maxBid)
	if slot == 0 {
		return r
	}
	if r == RoleA {
		return RoleB
	}
	return RoleA
}

// winningRole returns the role that wins for the given bid sum: A on an even
// sum, B on an odd one.
func winningRole(bidSum uint64) Role {
	if bidSum%2 == 0 {
		return RoleA
	}
	return RoleB
}
