package app

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"parityduel/chain/internal/codec"
)

func TestReplayProtection_AccountSigned(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)

	mintTestTokens(t, a, height, "alice", 100)
	mintTestTokens(t, a, height, "bob", 100)
	registerTestAccount(t, a, height, "alice")

	tx := txBytesSigned(t, "bank/send", map[string]any{"from": "alice", "to": "bob", "amount": 1}, "alice")
	mustOk(t, a.deliverTx(tx, height))

	res := a.deliverTx(tx, height)
	if res.Code == 0 {
		t.Fatalf("expected replay to be rejected")
	}
	if !strings.Contains(res.Log, "replayed tx.nonce") {
		t.Fatalf("expected replay log to mention nonce, got %q", res.Log)
	}
}

func TestReplayProtection_DuelTx(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	setupFundedAccounts(t, a, height)

	tx := txBytesSigned(t, "duel/register", map[string]any{"player": "alice", "payment": 200}, "alice")
	mustOk(t, a.deliverTx(tx, height))

	// Replaying the register would double-debit alice if it slipped through.
	res := a.deliverTx(tx, height)
	if res.Code == 0 {
		t.Fatalf("expected replay to be rejected")
	}
	if !strings.Contains(res.Log, "replayed tx.nonce") {
		t.Fatalf("expected replay log to mention nonce, got %q", res.Log)
	}
	if a.st.Balance("alice") != 800 {
		t.Fatalf("replay moved funds: alice=%d", a.st.Balance("alice"))
	}
}

func TestReplayProtection_RejectsNonNumericNonce(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)

	pub, priv := testEd25519Key("alice")
	value := map[string]any{"account": "alice", "pubKey": []byte(pub)}
	valueBytes := mustMarshal(t, value)

	nonce := "not-a-number"
	msg := txAuthSignBytesV0("auth/register_account", valueBytes, nonce, "alice")
	sig := ed25519.Sign(priv, msg)
	env := codec.TxEnvelope{
		Type:   "auth/register_account",
		Value:  valueBytes,
		Nonce:  nonce,
		Signer: "alice",
		Sig:    sig,
	}

	res := a.deliverTx(mustMarshal(t, env), height)
	if res.Code == 0 {
		t.Fatalf("expected non-numeric nonce to be rejected")
	}
	if !strings.Contains(res.Log, "invalid tx.nonce") {
		t.Fatalf("expected log to mention invalid tx.nonce, got %q", res.Log)
	}
}

func TestAuth_RejectsForeignSigner(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	setupFundedAccounts(t, a, height)

	// bob cannot register alice into the duel, even with a valid signature of
	// his own.
	res := a.deliverTx(txBytesSigned(t, "duel/register", map[string]any{
		"player":  "alice",
		"payment": 200,
	}, "bob"), height)
	if res.Code == 0 {
		t.Fatalf("expected signer mismatch to be rejected")
	}
	if !strings.Contains(res.Log, "tx signer mismatch") {
		t.Fatalf("expected signer mismatch log, got %q", res.Log)
	}
}

func TestAuth_RejectsTamperedValue(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	mintTestTokens(t, a, height, "alice", 100)
	registerTestAccount(t, a, height, "alice")

	// Take a validly signed send and rewrite the recipient.
	tx := txBytesSigned(t, "bank/send", map[string]any{"from": "alice", "to": "bob", "amount": 5}, "alice")
	env, err := codec.DecodeTxEnvelope(tx)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	env.Value = mustMarshal(t, map[string]any{"from": "alice", "to": "mallory", "amount": 5})

	res := a.deliverTx(mustMarshal(t, env), height)
	if res.Code == 0 {
		t.Fatalf("expected tampered value to be rejected")
	}
	if !strings.Contains(res.Log, "invalid signature") {
		t.Fatalf("expected invalid signature log, got %q", res.Log)
	}
}
