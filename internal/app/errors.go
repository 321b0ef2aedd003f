package app

import "errors"

// Closed rejection taxonomy: each duel operation aborts with exactly one of
// these per violated precondition, with no state mutation and no fund
// movement. The strings are stable; clients match on them.
var (
	errAlreadyRegistered  = errors.New("already registered")
	errSessionFull        = errors.New("session full")
	errSessionUnsettled   = errors.New("session unsettled")
	errWrongFeeAmount     = errors.New("wrong fee amount")
	errNotRegistered      = errors.New("not registered")
	errCannotQuitNow      = errors.New("cannot quit now")
	errOpponentMissing    = errors.New("opponent missing")
	errDuplicateBid       = errors.New("duplicate bid")
	errTimedOut           = errors.New("phase deadline passed")
	errBidsIncomplete     = errors.New("bids incomplete")
	errInvalidRange       = errors.New("value out of range")
	errCommitmentMismatch = errors.New("commitment mismatch")
	errAlreadyRevealed    = errors.New("already revealed")
	errRevealIncomplete   = errors.New("reveal incomplete")
	errPhaseNotExpired    = errors.New("phase not expired")
	errCannotClaimNow     = errors.New("cannot claim now")
	errNobodyTimedOut     = errors.New("nobody timed out")
)
