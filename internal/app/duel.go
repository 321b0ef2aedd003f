package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"parityduel/chain/internal/codec"
	"parityduel/chain/internal/commitment"
	"parityduel/chain/internal/state"
)

// syncSession re-derives the global phase from the slots and re-arms the
// phase deadline iff the global phase advanced. Deadlines are never shortened
// by one player getting ahead; only a global advance recomputes the window.
func syncSession(st *state.State, height int64) error {
	s := &st.Session
	if s.Recompute(st.Params.Fee()) {
		deadline, err := addInt64AndU64Checked(height, st.Params.TimeoutBlocks, "phase deadline")
		if err != nil {
			return err
		}
		s.Deadline = deadline
	}
	return nil
}

// deadlinePassed reports whether the armed global deadline has expired.
// An unarmed deadline (0) never expires.
func deadlinePassed(s *state.Session, height int64) bool {
	return s.Deadline != 0 && height > s.Deadline
}

func applyDuelRegister(st *state.State, msg codec.DuelRegisterTx, height int64) *abci.ExecTxResult {
	if msg.Player == "" {
		return failMsg("missing player")
	}
	s := &st.Session
	fee := st.Params.Fee()

	if s.SlotOf(msg.Player) >= 0 {
		return fail(errAlreadyRegistered)
	}
	slot := s.FirstEmptySlot()
	if slot < 0 {
		return fail(errSessionFull)
	}
	// New registrations may only join a pristine session or a lone registrant
	// still waiting for an opponent (one slot, bank holds exactly one fee).
	// Any other occupancy/bank combination is a finished session still
	// draining its payouts; that includes a drained bank with a zero-payout
	// loser yet to withdraw.
	if s.Bank != 0 && s.Bank != fee {
		return fail(errSessionUnsettled)
	}
	if s.OccupiedCount() == 1 && s.Bank != fee {
		return fail(errSessionUnsettled)
	}
	if msg.Payment != fee {
		return fail(errWrongFeeAmount)
	}
	if err := st.Debit(msg.Player, msg.Payment); err != nil {
		return fail(err)
	}

	// Claiming a slot wipes any stale commitment/reveal left by a previous
	// session's occupant.
	s.Players[slot] = state.Player{Addr: msg.Player, Phase: state.PhaseBid}
	bank, err := addUint64Checked(s.Bank, fee, "session bank")
	if err != nil {
		return fail(err)
	}
	s.Bank = bank
	if err := syncSession(st, height); err != nil {
		return fail(err)
	}

	return okEvent("PlayerRegistered", map[string]string{
		"player": msg.Player,
		"slot":   fmt.Sprintf("%d", slot),
		"amount": fmt.Sprintf("%d", msg.Payment),
		"bank":   fmt.Sprintf("%d", s.Bank),
	})
}

func applyDuelQuit(st *state.State, msg codec.DuelQuitTx) *abci.ExecTxResult {
	s := &st.Session
	slot := s.SlotOf(msg.Player)
	if slot < 0 {
		return fail(errNotRegistered)
	}
	// Only a solo registrant still waiting for an opponent may quit.
	if s.Players[1-slot].Occupied() || s.Players[slot].Phase != state.PhaseBid {
		return fail(errCannotQuitNow)
	}

	refund := s.Bank
	s.Reset()
	if err := st.Credit(msg.Player, refund); err != nil {
		return fail(err)
	}

	return okEvent("PlayerQuit", map[string]string{
		"player": msg.Player,
		"refund": fmt.Sprintf("%d", refund),
	})
}

func applyDuelCommit(st *state.State, msg codec.DuelCommitTx, height int64) *abci.ExecTxResult {
	s := &st.Session
	slot := s.SlotOf(msg.Player)
	if slot < 0 {
		return fail(errNotRegistered)
	}
	if !s.Players[1-slot].Occupied() {
		return fail(errOpponentMissing)
	}
	if len(s.Players[slot].Commitment) != 0 {
		return fail(errDuplicateBid)
	}
	if deadlinePassed(s, height) {
		return fail(errTimedOut)
	}
	if len(msg.Commitment) != commitment.Size {
		return failMsg(fmt.Sprintf("commitment must be %d bytes", commitment.Size))
	}

	s.Players[slot].Commitment = append([]byte(nil), msg.Commitment...)
	s.Players[slot].Phase = state.PhaseReveal
	if err := syncSession(st, height); err != nil {
		return fail(err)
	}

	return okEvent("CommitmentPlaced", map[string]string{
		"player": msg.Player,
		"slot":   fmt.Sprintf("%d", slot),
	})
}

func applyDuelReveal(st *state.State, msg codec.DuelRevealTx, height int64) *abci.ExecTxResult {
	s := &st.Session
	p := st.Params
	slot := s.SlotOf(msg.Player)
	if slot < 0 {
		return fail(errNotRegistered)
	}
	if len(s.Players[0].Commitment) == 0 || len(s.Players[1].Commitment) == 0 {
		return fail(errBidsIncomplete)
	}
	if msg.Value < p.MinBid || msg.Value > p.MaxBid {
		return fail(errInvalidRange)
	}
	if deadlinePassed(s, height) {
		return fail(errTimedOut)
	}
	if !commitment.Verify(s.Players[slot].Commitment, msg.Value, msg.Secret) {
		return fail(errCommitmentMismatch)
	}
	if s.Players[slot].Revealed != 0 {
		return fail(errAlreadyRevealed)
	}

	s.Players[slot].Revealed = msg.Value
	s.Players[slot].Phase = state.PhaseWithdraw
	if s.Players[0].Revealed != 0 && s.Players[1].Revealed != 0 {
		sum, err := addUint64Checked(s.Players[0].Revealed, s.Players[1].Revealed, "bid sum")
		if err != nil {
			return fail(err)
		}
		s.BidSum = sum
	}
	if err := syncSession(st, height); err != nil {
		return fail(err)
	}

	return okEvent("BidRevealed", map[string]string{
		"player": msg.Player,
		"slot":   fmt.Sprintf("%d", slot),
		"value":  fmt.Sprintf("%d", msg.Value),
	})
}

func applyDuelWithdraw(st *state.State, msg codec.DuelWithdrawTx, height int64) *abci.ExecTxResult {
	s := &st.Session
	p := st.Params
	slot := s.SlotOf(msg.Player)
	if slot < 0 {
		return fail(errNotRegistered)
	}
	// Revealed values survive a departed opponent's slot until the session
	// resets, so this check holds for the second withdrawer too.
	if s.Players[0].Revealed == 0 || s.Players[1].Revealed == 0 {
		return fail(errRevealIncomplete)
	}
	if deadlinePassed(s, height) {
		return fail(errTimedOut)
	}

	fee := p.Fee()
	role := roleOfSlot(slot, s.Players[0].Revealed, s.Players[1].Revealed, p.MaxBid)
	winner := winningRole(s.BidSum)

	// bidSum <= 2*maxBid = fee, so both payouts are non-negative and the two
	// sum to exactly 2*fee: the winner's gain equals the loser's loss.
	var payout uint64
	outcome := "lose"
	if role == winner {
		payout = fee + s.BidSum
		outcome = "win"
	} else {
		payout = fee - s.BidSum
	}
	if s.Bank < payout {
		return failMsg(fmt.Sprintf("bank underflow: bank=%d payout=%d", s.Bank, payout))
	}

	s.Bank -= payout
	s.ClearSlot(slot)
	if !s.Players[1-slot].Occupied() {
		s.Reset()
	} else if err := syncSession(st, height); err != nil {
		return fail(err)
	}
	if payout > 0 {
		if err := st.Credit(msg.Player, payout); err != nil {
			return fail(err)
		}
	}

	return okEvent("RewardWithdrawn", map[string]string{
		"player":  msg.Player,
		"role":    string(role),
		"outcome": outcome,
		"payout":  fmt.Sprintf("%d", payout),
	})
}
