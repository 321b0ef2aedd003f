package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Params are the duel parameters fixed at genesis. The registration fee is
// always derived as 2*MaxBid and is never configured independently.
type Params struct {
	Admin         string `json:"admin"`
	MinBid        uint64 `json:"minBid"`
	MaxBid        uint64 `json:"maxBid"`
	TimeoutBlocks uint64 `json:"timeoutBlocks"`
}

const (
	DefaultAdmin                = "duel/admin"
	DefaultMinBid        uint64 = 1
	DefaultMaxBid        uint64 = 100
	DefaultTimeoutBlocks uint64 = 25
)

func DefaultParams() Params {
	return Params{
		Admin:         DefaultAdmin,
		MinBid:        DefaultMinBid,
		MaxBid:        DefaultMaxBid,
		TimeoutBlocks: DefaultTimeoutBlocks,
	}
}

// Fee is the registration fee escrowed per player.
func (p Params) Fee() uint64 {
	return 2 * p.MaxBid
}

func (p Params) Validate() error {
	if p.Admin == "" {
		return fmt.Errorf("missing admin")
	}
	if p.MinBid == 0 {
		return fmt.Errorf("minBid must be positive")
	}
	if p.MaxBid < p.MinBid {
		return fmt.Errorf("maxBid %d below minBid %d", p.MaxBid, p.MinBid)
	}
	if p.MaxBid > ^uint64(0)/4 {
		return fmt.Errorf("maxBid too large")
	}
	if p.TimeoutBlocks == 0 {
		return fmt.Errorf("timeoutBlocks must be positive")
	}
	return nil
}

// Phase names the next action a player (or the session as a whole) is ready
// to perform. Phases only ever advance Register -> Bid -> Reveal -> Withdraw,
// then reset to Register when the session ends.
type Phase string

const (
	PhaseRegister Phase = "register"
	PhaseBid      Phase = "bid"
	PhaseReveal   Phase = "reveal"
	PhaseWithdraw Phase = "withdraw"
)

// Rank orders phases for "is ahead of" comparisons.
func (p Phase) Rank() int {
	switch p {
	case PhaseBid:
		return 1
	case PhaseReveal:
		return 2
	case PhaseWithdraw:
		return 3
	default:
		return 0
	}
}

// Player is one of exactly two session slots. A zero Addr means the slot is
// unoccupied; a zero Revealed means the bid has not been revealed yet.
type Player struct {
	Addr       string `json:"addr,omitempty"`
	Commitment []byte `json:"commitment,omitempty"` // 32-byte sha256, nil until placed
	Revealed   uint64 `json:"revealed,omitempty"`
	Phase      Phase  `json:"phase"`
}

func (p *Player) Occupied() bool {
	return p.Addr != ""
}

// Session is the single in-progress duel. It is reset in place on every
// terminal path; a pristine session has Bank=0, both slots empty and the
// phase at Register.
type Session struct {
	Players [2]Player `json:"players"`

	// Phase is the global phase, derived from the two slots (see Recompute).
	Phase Phase `json:"phase"`

	// Bank is the pooled escrow of both registration fees.
	Bank uint64 `json:"bank"`

	// Deadline is the block height after which the current global phase is
	// expired. 0 means no armed deadline.
	Deadline int64 `json:"deadline,omitempty"`

	// BidSum caches the sum of both revealed values; valid only once the
	// session has reached the withdraw phase.
	BidSum uint64 `json:"bidSum,omitempty"`
}

// SlotOf returns the slot index holding addr, or -1.
func (s *Session) SlotOf(addr string) int {
	if addr == "" {
		return -1
	}
	for i := range s.Players {
		if s.Players[i].Addr == addr {
			return i
		}
	}
	return -1
}

// FirstEmptySlot returns the lowest unoccupied slot index, or -1 if full.
func (s *Session) FirstEmptySlot() int {
	for i := range s.Players {
		if !s.Players[i].Occupied() {
			return i
		}
	}
	return -1
}

func (s *Session) OccupiedCount() int {
	n := 0
	for i := range s.Players {
		if s.Players[i].Occupied() {
			n++
		}
	}
	return n
}

// Recompute derives the global phase from the two slots and reports whether
// it advanced in rank. The global phase is the minimum occupied-slot phase;
// with no occupied slot it is Register, and with exactly one occupied slot it
// is Register while the solo registrant is still waiting for an opponent
// (bank holds exactly one fee) or the remaining player's own phase after the
// opponent has already settled and left.
func (s *Session) Recompute(fee uint64) (advanced bool) {
	prev := s.Phase
	var next Phase
	switch s.OccupiedCount() {
	case 0:
		next = PhaseRegister
	case 1:
		i := 0
		if !s.Players[0].Occupied() {
			i = 1
		}
		if s.Bank == fee {
			next = PhaseRegister
		} else {
			next = s.Players[i].Phase
		}
	default:
		next = s.Players[0].Phase
		if s.Players[1].Phase.Rank() < next.Rank() {
			next = s.Players[1].Phase
		}
	}
	s.Phase = next
	return next.Rank() > prev.Rank()
}

// ClearSlot empties a single slot without touching the rest of the session.
// Stale commitment/reveal fields are left behind on purpose: the remaining
// player still needs the departed opponent's revealed value to compute roles,
// and a fresh registration wipes them before reusing the slot.
func (s *Session) ClearSlot(i int) {
	s.Players[i].Addr = ""
	s.Players[i].Phase = PhaseRegister
}

// Reset restores the pristine no-session state.
func (s *Session) Reset() {
	*s = Session{
		Players: [2]Player{
			{Phase: PhaseRegister},
			{Phase: PhaseRegister},
		},
		Phase: PhaseRegister,
	}
}

type State struct {
	Height int64 `json:"height"`

	Params Params `json:"params"`

	Accounts    map[string]uint64 `json:"accounts"`
	AccountKeys map[string][]byte `json:"accountKeys,omitempty"` // addr -> ed25519 pubkey (32 bytes)
	NonceMax    map[string]uint64 `json:"nonceMax,omitempty"`    // signer -> last accepted tx.nonce (u64), for replay protection

	Session Session `json:"session"`
}

func NewState() *State {
	st := &State{
		Height:      0,
		Params:      DefaultParams(),
		Accounts:    map[string]uint64{},
		AccountKeys: map[string][]byte{},
		NonceMax:    map[string]uint64{},
	}
	st.Session.Reset()
	return st
}

func normalize(st *State) {
	if st.Accounts == nil {
		st.Accounts = map[string]uint64{}
	}
	if st.AccountKeys == nil {
		st.AccountKeys = map[string][]byte{}
	}
	if st.NonceMax == nil {
		st.NonceMax = map[string]uint64{}
	}
	if st.Params == (Params{}) {
		st.Params = DefaultParams()
	}
	if st.Session.Phase == "" {
		st.Session.Phase = PhaseRegister
	}
	for i := range st.Session.Players {
		if st.Session.Players[i].Phase == "" {
			st.Session.Players[i].Phase = PhaseRegister
		}
	}
}

func Load(home string) (*State, error) {
	path := filepath.Join(home, "state.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	normalize(&st)
	return &st, nil
}

func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("mkdir home: %w", err)
	}
	path := filepath.Join(home, "state.json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Clone returns a deep copy of state suitable for staged tx execution.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	normalize(&out)
	return &out, nil
}

func (s *State) AppHash() []byte {
	// Deterministic JSON hash: marshal with stable key ordering by serializing
	// a normalized view.
	//
	// Note: encoding/json does NOT guarantee map key order, so we manually
	// normalize maps into slices.
	type accountKV struct {
		Addr    string `json:"addr"`
		Balance uint64 `json:"balance"`
	}
	type accountKeyKV struct {
		Addr   string `json:"addr"`
		PubKey []byte `json:"pubKey"`
	}
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}

	accounts := make([]accountKV, 0, len(s.Accounts))
	for k, v := range s.Accounts {
		accounts = append(accounts, accountKV{Addr: k, Balance: v})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Addr < accounts[j].Addr })

	accountKeys := make([]accountKeyKV, 0, len(s.AccountKeys))
	for k, v := range s.AccountKeys {
		accountKeys = append(accountKeys, accountKeyKV{Addr: k, PubKey: v})
	}
	sort.Slice(accountKeys, func(i, j int) bool { return accountKeys[i].Addr < accountKeys[j].Addr })

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	normalized := struct {
		Height      int64          `json:"height"`
		Params      Params         `json:"params"`
		Accounts    []accountKV    `json:"accounts"`
		AccountKeys []accountKeyKV `json:"accountKeys,omitempty"`
		NonceMax    []nonceKV      `json:"nonceMax,omitempty"`
		Session     Session        `json:"session"`
	}{
		Height:      s.Height,
		Params:      s.Params,
		Accounts:    accounts,
		AccountKeys: accountKeys,
		NonceMax:    nonces,
		Session:     s.Session,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

// ---- Bank ----

func (s *State) Balance(addr string) uint64 {
	return s.Accounts[addr]
}

func (s *State) Credit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("balance overflow: have=%d add=%d", bal, amount)
	}
	s.Accounts[addr] = bal + amount
	return nil
}

func (s *State) Debit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal < amount {
		return fmt.Errorf("insufficient funds: have=%d need=%d", bal, amount)
	}
	s.Accounts[addr] = bal - amount
	return nil
}
