package app

import (
	"testing"

	"parityduel/chain/internal/commitment"
	"parityduel/chain/internal/state"
)

// setupBidPhase registers alice and bob into a fresh session at height.
func setupBidPhase(t *testing.T, height int64) *DuelApp {
	t.Helper()
	a := newTestApp(t)
	setupFundedAccounts(t, a, height)
	mustOk(t, duelRegister(t, a, height, "alice", 200))
	mustOk(t, duelRegister(t, a, height, "bob", 200))
	return a
}

// setupWithdrawPhase walks both players through commit and reveal with the
// given values.
func setupWithdrawPhase(t *testing.T, a *DuelApp, height int64, vAlice, vBob uint64) {
	t.Helper()
	mustOk(t, duelCommit(t, a, height, "alice", commitment.Digest(vAlice, "nA")))
	mustOk(t, duelCommit(t, a, height, "bob", commitment.Digest(vBob, "nB")))
	mustOk(t, duelReveal(t, a, height, "alice", vAlice, "nA"))
	mustOk(t, duelReveal(t, a, height, "bob", vBob, "nB"))
}

func TestFullDuel_EvenSumSlot0Wins(t *testing.T) {
	// Both 40 and 34 are at or below half=50, so slot0 (alice) is role A;
	// 74 is even, so A wins. Payouts: 200+74 and 200-74.
	const height = int64(1)
	a := setupBidPhase(t, height)

	mustOk(t, duelCommit(t, a, height+1, "alice", commitment.Digest(40, "nA")))
	res := mustOk(t, duelCommit(t, a, height+2, "bob", commitment.Digest(34, "nB")))
	if findEvent(res.Events, "CommitmentPlaced") == nil {
		t.Fatalf("expected CommitmentPlaced event")
	}
	if a.st.Session.Phase != state.PhaseReveal {
		t.Fatalf("expected reveal phase, got %q", a.st.Session.Phase)
	}
	if a.st.Session.Deadline != height+2+25 {
		t.Fatalf("expected deadline re-armed at %d, got %d", height+2+25, a.st.Session.Deadline)
	}

	mustOk(t, duelReveal(t, a, height+3, "alice", 40, "nA"))
	mustOk(t, duelReveal(t, a, height+4, "bob", 34, "nB"))
	s := a.st.Session
	if s.Phase != state.PhaseWithdraw || s.BidSum != 74 {
		t.Fatalf("expected withdraw phase with bidSum=74, got phase=%q bidSum=%d", s.Phase, s.BidSum)
	}
	if s.Deadline != height+4+25 {
		t.Fatalf("expected deadline re-armed at %d, got %d", height+4+25, s.Deadline)
	}

	resA := mustOk(t, duelWithdraw(t, a, height+5, "alice"))
	ev := findEvent(resA.Events, "RewardWithdrawn")
	if attr(ev, "outcome") != "win" || parseU64(t, attr(ev, "payout")) != 274 {
		t.Fatalf("unexpected alice settlement: outcome=%q payout=%q", attr(ev, "outcome"), attr(ev, "payout"))
	}

	resB := mustOk(t, duelWithdraw(t, a, height+6, "bob"))
	ev = findEvent(resB.Events, "RewardWithdrawn")
	if attr(ev, "outcome") != "lose" || parseU64(t, attr(ev, "payout")) != 126 {
		t.Fatalf("unexpected bob settlement: outcome=%q payout=%q", attr(ev, "outcome"), attr(ev, "payout"))
	}

	if a.st.Balance("alice") != 1074 || a.st.Balance("bob") != 926 {
		t.Fatalf("unexpected balances: alice=%d bob=%d", a.st.Balance("alice"), a.st.Balance("bob"))
	}
	requirePristineSession(t, a)
}

func TestFullDuel_OddSumSplitHalves(t *testing.T) {
	// 30 <= half < 75: values straddle half, so slot0 is role B; 105 is odd,
	// so B wins and alice collects.
	const height = int64(1)
	a := setupBidPhase(t, height)
	setupWithdrawPhase(t, a, height+1, 30, 75)

	mustOk(t, duelWithdraw(t, a, height+2, "bob"))
	mustOk(t, duelWithdraw(t, a, height+2, "alice"))

	if a.st.Balance("alice") != 1000+105 || a.st.Balance("bob") != 1000-105 {
		t.Fatalf("unexpected balances: alice=%d bob=%d", a.st.Balance("alice"), a.st.Balance("bob"))
	}
	requirePristineSession(t, a)
}

func TestCommit_Rejections(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	setupFundedAccounts(t, a, height)
	c := commitment.Digest(40, "nA")

	mustFail(t, duelCommit(t, a, height, "alice", c), "not registered")

	mustOk(t, duelRegister(t, a, height, "alice", 200))
	mustFail(t, duelCommit(t, a, height, "alice", c), "opponent missing")

	mustOk(t, duelRegister(t, a, height, "bob", 200))
	mustFail(t, duelCommit(t, a, height, "alice", c[:16]), "commitment must be 32 bytes")
	mustOk(t, duelCommit(t, a, height, "alice", c))
	mustFail(t, duelCommit(t, a, height, "alice", c), "duplicate bid")

	// Bid-phase deadline armed at the second registration.
	deadline := a.st.Session.Deadline
	mustFail(t, duelCommit(t, a, deadline+1, "bob", commitment.Digest(34, "nB")), "phase deadline passed")
}

func TestReveal_MismatchReportedAndRetryable(t *testing.T) {
	const height = int64(1)
	a := setupBidPhase(t, height)
	mustOk(t, duelCommit(t, a, height, "alice", commitment.Digest(40, "nA")))
	mustOk(t, duelCommit(t, a, height, "bob", commitment.Digest(34, "nB")))

	nonceBefore := a.st.NonceMax["alice"]
	mustFail(t, duelReveal(t, a, height, "alice", 40, "wrong"), "commitment mismatch")
	mustFail(t, duelReveal(t, a, height, "alice", 41, "nA"), "commitment mismatch")

	s := a.st.Session
	if s.Players[0].Revealed != 0 || s.Players[0].Phase != state.PhaseReveal {
		t.Fatalf("failed reveal mutated slot0: %+v", s.Players[0])
	}
	// The staged state was discarded wholesale: not even the nonce moved.
	if a.st.NonceMax["alice"] != nonceBefore {
		t.Fatalf("failed reveal consumed a nonce")
	}

	// Retrying with the correct arguments before the deadline succeeds.
	mustOk(t, duelReveal(t, a, height, "alice", 40, "nA"))
	if a.st.Session.Players[0].Revealed != 40 {
		t.Fatalf("expected revealed=40, got %d", a.st.Session.Players[0].Revealed)
	}
}

func TestReveal_Rejections(t *testing.T) {
	const height = int64(1)
	a := setupBidPhase(t, height)

	mustFail(t, duelReveal(t, a, height, "alice", 40, "nA"), "bids incomplete")

	mustOk(t, duelCommit(t, a, height, "alice", commitment.Digest(40, "nA")))
	mustFail(t, duelReveal(t, a, height, "alice", 40, "nA"), "bids incomplete")

	mustOk(t, duelCommit(t, a, height, "bob", commitment.Digest(34, "nB")))
	mustFail(t, duelReveal(t, a, height, "alice", 0, "nA"), "value out of range")
	mustFail(t, duelReveal(t, a, height, "alice", 101, "nA"), "value out of range")

	mustOk(t, duelReveal(t, a, height, "alice", 40, "nA"))
	mustFail(t, duelReveal(t, a, height, "alice", 40, "nA"), "already revealed")

	deadline := a.st.Session.Deadline
	mustFail(t, duelReveal(t, a, deadline+1, "bob", 34, "nB"), "phase deadline passed")
}

func TestWithdraw_Rejections(t *testing.T) {
	const height = int64(1)
	a := setupBidPhase(t, height)

	mustFail(t, duelWithdraw(t, a, height, "alice"), "reveal incomplete")

	mustOk(t, duelCommit(t, a, height, "alice", commitment.Digest(40, "nA")))
	mustOk(t, duelCommit(t, a, height, "bob", commitment.Digest(34, "nB")))
	mustOk(t, duelReveal(t, a, height, "alice", 40, "nA"))
	mustFail(t, duelWithdraw(t, a, height, "alice"), "reveal incomplete")

	mustOk(t, duelReveal(t, a, height, "bob", 34, "nB"))
	deadline := a.st.Session.Deadline
	mustFail(t, duelWithdraw(t, a, deadline+1, "alice"), "phase deadline passed")
	mustFail(t, duelWithdraw(t, a, deadline, "charlie"), "not registered")
}

func TestWithdraw_SecondSettlerUsesLingeringReveal(t *testing.T) {
	// The first withdrawal empties that player's slot but keeps the revealed
	// values around; the second settlement still computes roles from them.
	const height = int64(1)
	a := setupBidPhase(t, height)
	setupWithdrawPhase(t, a, height, 40, 34)

	mustOk(t, duelWithdraw(t, a, height, "alice"))

	s := a.st.Session
	if s.Players[0].Occupied() {
		t.Fatalf("expected slot0 emptied")
	}
	if s.Players[0].Revealed != 40 {
		t.Fatalf("expected lingering reveal on slot0, got %d", s.Players[0].Revealed)
	}
	if s.Phase != state.PhaseWithdraw {
		t.Fatalf("expected session to stay in withdraw, got %q", s.Phase)
	}
	if s.Bank != 126 {
		t.Fatalf("expected bank=126 pending bob, got %d", s.Bank)
	}

	mustOk(t, duelWithdraw(t, a, height, "bob"))
	requirePristineSession(t, a)
}

func TestRegister_RejectedWhileSettlementPending(t *testing.T) {
	const height = int64(1)
	a := setupBidPhase(t, height)
	setupWithdrawPhase(t, a, height, 40, 34)
	mintTestTokens(t, a, height, "charlie", 1000)
	registerTestAccount(t, a, height, "charlie")

	mustOk(t, duelWithdraw(t, a, height, "alice"))
	// Bank holds bob's pending 126: neither 0 nor one fee.
	mustFail(t, duelRegister(t, a, height, "charlie", 200), "session unsettled")

	mustOk(t, duelWithdraw(t, a, height, "bob"))
	mustOk(t, duelRegister(t, a, height, "charlie", 200))
}

func TestRegister_RejectedDuringZeroBankExitWindow(t *testing.T) {
	// Both bid maxBid, so the winner's payout drains the bank to 0 while the
	// zero-payout loser still occupies a slot. A newcomer must not be able to
	// slip into that half-open session and bid against the stale reveal.
	const height = int64(1)
	a := setupBidPhase(t, height)
	setupWithdrawPhase(t, a, height, 100, 100)
	mintTestTokens(t, a, height, "charlie", 1000)
	registerTestAccount(t, a, height, "charlie")

	mustOk(t, duelWithdraw(t, a, height, "alice"))
	if a.st.Session.Bank != 0 || !a.st.Session.Players[1].Occupied() {
		t.Fatalf("expected drained bank with bob still seated: %+v", a.st.Session)
	}

	mustFail(t, duelRegister(t, a, height, "charlie", 200), "session unsettled")
	if a.st.Balance("charlie") != 1000 {
		t.Fatalf("rejected register moved funds: %d", a.st.Balance("charlie"))
	}

	mustOk(t, duelWithdraw(t, a, height, "bob"))
	mustOk(t, duelRegister(t, a, height, "charlie", 200))
}

func TestSessionReset_SupportsBackToBackDuels(t *testing.T) {
	const height = int64(1)
	a := setupBidPhase(t, height)
	setupWithdrawPhase(t, a, height, 40, 34)
	mustOk(t, duelWithdraw(t, a, height, "alice"))
	mustOk(t, duelWithdraw(t, a, height, "bob"))

	// Second duel in the same state: stale fields must not leak through.
	const h2 = height + 10
	mustOk(t, duelRegister(t, a, h2, "bob", 200))
	mustOk(t, duelRegister(t, a, h2, "alice", 200))
	s := a.st.Session
	if s.Players[0].Addr != "bob" || s.Players[1].Addr != "alice" {
		t.Fatalf("unexpected slot assignment: %+v", s.Players)
	}
	if s.Players[0].Commitment != nil || s.Players[0].Revealed != 0 {
		t.Fatalf("stale fields leaked into new session: %+v", s.Players[0])
	}
	setupWithdrawPhase(t, a, h2, 10, 11)
	mustOk(t, duelWithdraw(t, a, h2, "alice"))
	mustOk(t, duelWithdraw(t, a, h2, "bob"))
	requirePristineSession(t, a)
}

func TestWithdraw_ZeroPayoutLoserStillClearsSlot(t *testing.T) {
	// Both bid maxBid: bidSum=200=fee, so the loser's payout is exactly 0 and
	// the winner drains the whole bank.
	const height = int64(1)
	a := setupBidPhase(t, height)
	setupWithdrawPhase(t, a, height, 100, 100)

	// half=50, both above: slot0 is A; 200 even: A wins.
	resA := mustOk(t, duelWithdraw(t, a, height, "alice"))
	if parseU64(t, attr(findEvent(resA.Events, "RewardWithdrawn"), "payout")) != 400 {
		t.Fatalf("expected alice payout=400")
	}
	resB := mustOk(t, duelWithdraw(t, a, height, "bob"))
	if parseU64(t, attr(findEvent(resB.Events, "RewardWithdrawn"), "payout")) != 0 {
		t.Fatalf("expected bob payout=0")
	}
	if a.st.Balance("alice") != 1200 || a.st.Balance("bob") != 800 {
		t.Fatalf("unexpected balances: alice=%d bob=%d", a.st.Balance("alice"), a.st.Balance("bob"))
	}
	requirePristineSession(t, a)
}
