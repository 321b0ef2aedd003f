package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	abci "github.com/cometbft/cometbft/abci/types"

	"parityduel/chain/internal/codec"
	"parityduel/chain/internal/state"
)

const (
	AppVersion uint64 = 1
)

type DuelApp struct {
	*abci.BaseApplication

	home string

	mu       sync.Mutex
	st       *state.State
	lastHash []byte
}

func New(home string) (*DuelApp, error) {
	appHome := filepath.Join(home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	a := &DuelApp{
		BaseApplication: abci.NewBaseApplication(),
		home:            home,
		st:              st,
		lastHash:        st.AppHash(),
	}
	return a, nil
}

func (a *DuelApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "ParityDuel (v0)",
		Version:          "v0",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *DuelApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	_, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: 1, Log: err.Error()}, nil
	}
	// v0: only structural validation; signatures are checked at delivery.
	return &abci.CheckTxResponse{Code: 0}, nil
}

// GenesisAppState configures the immutable duel parameters. Zero fields fall
// back to the defaults; the registration fee is always derived as 2*maxBid.
type GenesisAppState struct {
	Admin         string `json:"admin,omitempty"`
	MinBid        uint64 `json:"minBid,omitempty"`
	MaxBid        uint64 `json:"maxBid,omitempty"`
	TimeoutBlocks uint64 `json:"timeoutBlocks,omitempty"`
}

func (a *DuelApp) InitChain(_ context.Context, req *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(req.AppStateBytes) > 0 {
		var gen GenesisAppState
		if err := json.Unmarshal(req.AppStateBytes, &gen); err != nil {
			return nil, fmt.Errorf("decode genesis app state: %w", err)
		}
		p := state.DefaultParams()
		if gen.Admin != "" {
			p.Admin = gen.Admin
		}
		if gen.MinBid != 0 {
			p.MinBid = gen.MinBid
		}
		if gen.MaxBid != 0 {
			p.MaxBid = gen.MaxBid
		}
		if gen.TimeoutBlocks != 0 {
			p.TimeoutBlocks = gen.TimeoutBlocks
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("genesis duel params: %w", err)
		}
		a.st.Params = p
	}
	a.lastHash = a.st.AppHash()
	return &abci.InitChainResponse{AppHash: a.lastHash}, nil
}

func (a *DuelApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *DuelApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	// Persist after each block for devnet durability.
	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		// CometBFT expects Commit to not crash; return error so node halts loudly.
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}

func (a *DuelApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Paths:
	// - /account/<addr>
	// - /session
	// - /params
	path := strings.TrimSpace(req.Path)
	switch {
	case path == "/session":
		b, _ := json.Marshal(a.st.Session)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case path == "/params":
		b, _ := json.Marshal(a.st.Params)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/account/"):
		addr := strings.TrimPrefix(path, "/account/")
		bal := a.st.Balance(addr)
		b, _ := json.Marshal(map[string]any{"addr": addr, "balance": bal})
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
	default:
		return &abci.QueryResponse{Code: 1, Log: "unknown query path", Height: a.st.Height}, nil
	}
}

// deliverTx stages each tx against a deep clone of state and installs the
// clone only on success, so a rejected tx never partially applies. Handlers
// still order internal effects before bank credits; the staging is the
// backstop, not the contract.
func (a *DuelApp) deliverTx(txBytes []byte, height int64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return fail(err)
	}
	staged, err := a.st.Clone()
	if err != nil {
		return fail(err)
	}
	res := applyTx(staged, env, height)
	if res.Code == 0 {
		a.st = staged
	}
	return res
}

func applyTx(st *state.State, env codec.TxEnvelope, height int64) *abci.ExecTxResult {
	switch env.Type {
	case "bank/mint":
		var msg codec.BankMintTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return failMsg("bad bank/mint value")
		}
		if msg.To == "" || msg.Amount == 0 {
			return failMsg("missing to/amount")
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return fail(err)
		}
		return okEvent("FundsReceived", map[string]string{
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "bank/send":
		var msg codec.BankSendTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return failMsg("bad bank/send value")
		}
		if msg.From == "" || msg.To == "" || msg.Amount == 0 {
			return failMsg("missing from/to/amount")
		}
		if err := requireAccountAuth(st, env, msg.From); err != nil {
			return fail(err)
		}
		if err := bumpNonce(st, env); err != nil {
			return fail(err)
		}
		if err := st.Debit(msg.From, msg.Amount); err != nil {
			return fail(err)
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return fail(err)
		}
		return okEvent("BankSent", map[string]string{
			"from":   msg.From,
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "auth/register_account":
		var msg codec.AuthRegisterAccountTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return failMsg("bad auth/register_account value")
		}
		if err := requireRegisterAccountAuth(env, msg); err != nil {
			return fail(err)
		}
		if err := bumpNonce(st, env); err != nil {
			return fail(err)
		}
		st.AccountKeys[msg.Account] = append([]byte(nil), msg.PubKey...)
		return okEvent("AccountRegistered", map[string]string{
			"account": msg.Account,
		})

	case "duel/register":
		var msg codec.DuelRegisterTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return failMsg("bad duel/register value")
		}
		if err := requireAccountAuth(st, env, msg.Player); err != nil {
			return fail(err)
		}
		if err := bumpNonce(st, env); err != nil {
			return fail(err)
		}
		return applyDuelRegister(st, msg, height)

	case "duel/quit":
		var msg codec.DuelQuitTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return failMsg("bad duel/quit value")
		}
		if err := requireAccountAuth(st, env, msg.Player); err != nil {
			return fail(err)
		}
		if err := bumpNonce(st, env); err != nil {
			return fail(err)
		}
		return applyDuelQuit(st, msg)

	case "duel/commit":
		var msg codec.DuelCommitTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return failMsg("bad duel/commit value")
		}
		if err := requireAccountAuth(st, env, msg.Player); err != nil {
			return fail(err)
		}
		if err := bumpNonce(st, env); err != nil {
			return fail(err)
		}
		return applyDuelCommit(st, msg, height)

	case "duel/reveal":
		var msg codec.DuelRevealTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return failMsg("bad duel/reveal value")
		}
		if err := requireAccountAuth(st, env, msg.Player); err != nil {
			return fail(err)
		}
		if err := bumpNonce(st, env); err != nil {
			return fail(err)
		}
		return applyDuelReveal(st, msg, height)

	case "duel/withdraw":
		var msg codec.DuelWithdrawTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return failMsg("bad duel/withdraw value")
		}
		if err := requireAccountAuth(st, env, msg.Player); err != nil {
			return fail(err)
		}
		if err := bumpNonce(st, env); err != nil {
			return fail(err)
		}
		return applyDuelWithdraw(st, msg, height)

	case "duel/claim_timeout":
		var msg codec.DuelClaimTimeoutTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return failMsg("bad duel/claim_timeout value")
		}
		if err := requireAccountAuth(st, env, msg.Player); err != nil {
			return fail(err)
		}
		if err := bumpNonce(st, env); err != nil {
			return fail(err)
		}
		return applyDuelClaimTimeout(st, msg, height)

	case "duel/force_resolve":
		if err := requireAccountAuth(st, env, st.Params.Admin); err != nil {
			return fail(err)
		}
		if err := bumpNonce(st, env); err != nil {
			return fail(err)
		}
		return applyDuelForceResolve(st, height)

	default:
		return failMsg("unknown tx type: " + env.Type)
	}
}

func fail(err error) *abci.ExecTxResult {
	return &abci.ExecTxResult{Code: 1, Log: err.Error()}
}

func failMsg(msg string) *abci.ExecTxResult {
	return &abci.ExecTxResult{Code: 1, Log: msg}
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return &abci.ExecTxResult{
		Code:   0,
		Events: []abci.Event{ev},
	}
}
