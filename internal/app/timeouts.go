package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"parityduel/chain/internal/codec"
	"parityduel/chain/internal/state"
)

// applyDuelClaimTimeout forfeits a stalled opponent. The caller must be
// exactly one phase ahead of the opponent after the global deadline has
// expired: the opponent owed an action that never came, so the caller takes
// the whole bank.
func applyDuelClaimTimeout(st *state.State, msg codec.DuelClaimTimeoutTx, height int64) *abci.ExecTxResult {
	s := &st.Session
	if !deadlinePassed(s, height) {
		return fail(errPhaseNotExpired)
	}
	slot := s.SlotOf(msg.Player)
	if slot < 0 {
		return fail(errCannotClaimNow)
	}
	opp := &s.Players[1-slot]
	if !opp.Occupied() {
		return fail(errCannotClaimNow)
	}

	caller := s.Players[slot].Phase
	waited := (caller == state.PhaseReveal && opp.Phase == state.PhaseBid) ||
		(caller == state.PhaseWithdraw && opp.Phase == state.PhaseReveal)
	if !waited {
		return fail(errCannotClaimNow)
	}

	payout := s.Bank
	s.Reset()
	if err := st.Credit(msg.Player, payout); err != nil {
		return fail(err)
	}

	return okEvent("TimeoutClaimed", map[string]string{
		"player": msg.Player,
		"payout": fmt.Sprintf("%d", payout),
	})
}

// applyDuelForceResolve is the admin fallback for a session stuck past its
// deadline. The laggards are the occupied slots at the (derived) global
// phase; whoever is ahead of them is the honest recipient of the bank. When
// no honest on-session recipient exists, or when crediting the honest player
// fails, the bank goes to the admin so the session never stays stuck.
func applyDuelForceResolve(st *state.State, height int64) *abci.ExecTxResult {
	s := &st.Session
	if !deadlinePassed(s, height) {
		return fail(errPhaseNotExpired)
	}

	var laggards []string
	recipient := ""
	minRank := -1
	for i := range s.Players {
		p := &s.Players[i]
		if !p.Occupied() {
			continue
		}
		r := p.Phase.Rank()
		switch {
		case minRank < 0 || r == minRank:
			if minRank < 0 {
				minRank = r
			}
			laggards = append(laggards, p.Addr)
		case r < minRank:
			// The previous minimum was actually ahead.
			minRank = r
			recipient = laggards[len(laggards)-1]
			laggards = []string{p.Addr}
		default:
			recipient = p.Addr
		}
	}
	if len(laggards) == 0 {
		return fail(errNobodyTimedOut)
	}
	if len(laggards) > 1 {
		// Both parties stalled; nobody on the session deserves the bank.
		recipient = ""
	}

	admin := st.Params.Admin
	payout := s.Bank
	s.Reset()

	paidTo := admin
	if payout > 0 {
		if recipient != "" && st.Credit(recipient, payout) == nil {
			paidTo = recipient
		} else if err := st.Credit(admin, payout); err != nil {
			// A failed credit to the admin aborts the tx; the staged state is
			// discarded and the admin may re-submit.
			return fail(err)
		}
	}

	attrs := map[string]string{
		"recipient": paidTo,
		"payout":    fmt.Sprintf("%d", payout),
	}
	for i, addr := range laggards {
		attrs[fmt.Sprintf("timedOut%d", i)] = addr
	}
	return okEvent("SessionForceResolved", attrs)
}
