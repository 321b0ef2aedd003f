package codec

import (
	"encoding/json"
	"fmt"
)

// TxEnvelope is the v0 transaction container.
//
// CometBFT transactions are opaque bytes. For v0 localnet we use JSON-encoded
// txs to move fast; this is NOT the final protocol encoding.
type TxEnvelope struct {
	// Basic routing.
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// v0 tx auth:
	// - Nonce: included in the signed message for replay protection (must increase per signer).
	// - Signer: logical signer id (the acting account for duel txs).
	// - Sig: Ed25519 signature over (type, nonce, signer, sha256(value)).
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// ---- Bank ----

type BankMintTx struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type BankSendTx struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ---- Auth (v0) ----

// v0: account pubkey registration for tx authentication.
type AuthRegisterAccountTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // base64 (32 bytes)
}

// ---- Duel ----

// DuelRegisterTx escrows the registration fee and claims a session slot.
// Payment must equal the fixed fee (2*maxBid).
type DuelRegisterTx struct {
	Player  string `json:"player"`
	Payment uint64 `json:"payment"`
}

// DuelQuitTx lets a solo registrant abandon the session and reclaim the fee.
type DuelQuitTx struct {
	Player string `json:"player"`
}

// DuelCommitTx places the bid commitment: sha256 of the decimal bid, a dash,
// and a caller-chosen secret string.
type DuelCommitTx struct {
	Player     string `json:"player"`
	Commitment []byte `json:"commitment"` // base64 (32 bytes)
}

// DuelRevealTx discloses the committed bid and the secret that binds it.
type DuelRevealTx struct {
	Player string `json:"player"`
	Value  uint64 `json:"value"`
	Secret string `json:"secret"`
}

type DuelWithdrawTx struct {
	Player string `json:"player"`
}

// DuelClaimTimeoutTx forfeits a stalled opponent: the caller must be strictly
// ahead of the opponent after the phase deadline has passed.
type DuelClaimTimeoutTx struct {
	Player string `json:"player"`
}

// DuelForceResolveTx is the admin fallback for a session stuck past its
// deadline. The envelope must be signed by the configured admin account;
// the payload carries no fields.
type DuelForceResolveTx struct{}
