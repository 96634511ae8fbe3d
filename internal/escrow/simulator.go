package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"claimcode/internal/claim"
	"claimcode/internal/contracts"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrNotAttested = errors.New("recipient identifier lacks required attestations")

// EntryState is the lifecycle of an escrow entry as seen from outside.
type EntryState string

const (
	StateNonexistent EntryState = "nonexistent"
	StateFunded      EntryState = "funded"
	StateClaimed     EntryState = "claimed"
	StateRevoked     EntryState = "revoked"
)

// DefaultSimulatedFee is the native fee charged per simulated transaction.
var DefaultSimulatedFee = big.NewInt(1_000_000_000_000_000) // 0.001

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Simulator is an in-memory stand-in for the chain: the escrow contract, the
// CELO and cUSD tokens and native balances. Claimed and revoked entries are
// terminal and their payment IDs are never accepted again.
type Simulator struct {
	mu sync.Mutex

	now    func() time.Time
	offset time.Duration
	fee    *big.Int
	block  uint64

	escrow common.Address
	tokens map[string]common.Address

	native     map[common.Address]*big.Int
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int

	payments map[common.Address]*EscrowedPayment
	states   map[common.Address]EntryState
	sent     map[common.Address][]common.Address
	received map[[32]byte][]common.Address
}

// SimulatorOption customises a Simulator.
type SimulatorOption func(*Simulator)

// WithClock replaces the wall clock the simulated chain time is based on.
func WithClock(now func() time.Time) SimulatorOption {
	return func(s *Simulator) { s.now = now }
}

// WithFee sets the native fee charged per transaction.
func WithFee(fee *big.Int) SimulatorOption {
	return func(s *Simulator) { s.fee = new(big.Int).Set(fee) }
}

func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		now:        time.Now,
		fee:        new(big.Int).Set(DefaultSimulatedFee),
		escrow:     simulatedAddress(contracts.EscrowRegistryID),
		native:     make(map[common.Address]*big.Int),
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		payments:   make(map[common.Address]*EscrowedPayment),
		states:     make(map[common.Address]EntryState),
		sent:       make(map[common.Address][]common.Address),
		received:   make(map[[32]byte][]common.Address),
	}
	s.tokens = map[string]common.Address{
		contracts.GoldTokenRegistryID:   simulatedAddress(contracts.GoldTokenRegistryID),
		contracts.StableTokenRegistryID: simulatedAddress(contracts.StableTokenRegistryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func simulatedAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("claimcode-simulator:" + name))[12:])
}

// Fund credits native currency to addr.
func (s *Simulator) Fund(addr common.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credit(s.native, addr, amount)
}

// Mint credits amount of the token with the given symbol to addr.
func (s *Simulator) Mint(symbol string, addr common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, err := s.tokenBySymbol(symbol)
	if err != nil {
		return err
	}
	s.credit(s.ledger(token), addr, amount)
	return nil
}

// Advance moves chain time forward.
func (s *Simulator) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset += d
}

// State reports the lifecycle state of paymentID.
func (s *Simulator) State(paymentID common.Address) EntryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[paymentID]; ok {
		return st
	}
	return StateNonexistent
}

func (s *Simulator) Ping(context.Context) error { return nil }

func (s *Simulator) EscrowAddress(context.Context) (common.Address, error) {
	return s.escrow, nil
}

func (s *Simulator) TokenAddress(_ context.Context, symbol string) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenBySymbol(symbol)
}

func (s *Simulator) Approve(_ context.Context, owner Account, token, spender common.Address, amount *big.Int) (TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireToken(token); err != nil {
		return TxResult{}, err
	}
	if err := s.chargeFee(owner.Address, nil); err != nil {
		return TxResult{}, fmt.Errorf("approve tx: %w", err)
	}
	s.allowances[allowanceKey{token, owner.Address, spender}] = new(big.Int).Set(amount)
	return s.mine("approve", owner.Address), nil
}

func (s *Simulator) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireToken(token); err != nil {
		return nil, err
	}
	return s.allowance(token, owner, spender), nil
}

func (s *Simulator) Transfer(_ context.Context, sender Account, req TransferRequest) (TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateTransfer(req); err != nil {
		return TxResult{}, fmt.Errorf("transfer tx: %w", err)
	}
	if err := s.requireToken(req.Token); err != nil {
		return TxResult{}, err
	}
	if _, used := s.states[req.PaymentID]; used {
		return TxResult{}, fmt.Errorf("transfer tx: %w: %s", ErrPaymentIDInUse, req.PaymentID.Hex())
	}
	allowed := s.allowance(req.Token, sender.Address, s.escrow)
	if allowed.Cmp(req.Amount) < 0 {
		return TxResult{}, fmt.Errorf("transfer tx: %w: have %s want %s", ErrInsufficientAllowance, allowed, req.Amount)
	}
	ledger := s.ledger(req.Token)
	fee := s.fee
	if s.isGold(req.Token) {
		fee = new(big.Int).Add(fee, req.Amount)
	}
	if balanceOf(ledger, sender.Address).Cmp(req.Amount) < 0 {
		return TxResult{}, fmt.Errorf("transfer tx: %w", ErrInsufficientBalance)
	}
	if balanceOf(s.native, sender.Address).Cmp(fee) < 0 {
		return TxResult{}, fmt.Errorf("transfer tx: %w", ErrInsufficientFee)
	}

	_ = s.chargeFee(sender.Address, nil)
	s.debit(ledger, sender.Address, req.Amount)
	s.credit(ledger, s.escrow, req.Amount)
	s.allowances[allowanceKey{req.Token, sender.Address, s.escrow}] = new(big.Int).Sub(allowed, req.Amount)

	s.payments[req.PaymentID] = &EscrowedPayment{
		PaymentID:           req.PaymentID,
		RecipientIdentifier: req.Identifier,
		Sender:              sender.Address,
		Token:               req.Token,
		Value:               new(big.Int).Set(req.Amount),
		SentIndex:           uint64(len(s.sent[sender.Address])),
		ReceivedIndex:       uint64(len(s.received[req.Identifier])),
		Timestamp:           s.chainTime(),
		ExpirySeconds:       req.ExpirySeconds,
		MinAttestations:     req.MinAttestations,
	}
	s.states[req.PaymentID] = StateFunded
	s.sent[sender.Address] = append(s.sent[sender.Address], req.PaymentID)
	s.received[req.Identifier] = append(s.received[req.Identifier], req.PaymentID)
	return s.mine("transfer", sender.Address), nil
}

func (s *Simulator) Withdraw(_ context.Context, claimant Account, paymentID common.Address, sig claim.Signature) (TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !claim.Verify(paymentID, claimant.Address, sig) {
		return TxResult{}, fmt.Errorf("withdraw tx: %w", ErrInvalidSignature)
	}
	payment, err := s.funded(paymentID)
	if err != nil {
		return TxResult{}, fmt.Errorf("withdraw tx: %w", err)
	}
	if payment.RecipientIdentifier != [32]byte{} && payment.MinAttestations > 0 {
		return TxResult{}, fmt.Errorf("withdraw tx: %w", ErrNotAttested)
	}
	if err := s.chargeFee(claimant.Address, nil); err != nil {
		return TxResult{}, fmt.Errorf("withdraw tx: %w", err)
	}

	s.settle(payment, StateClaimed)
	s.move(payment.Token, s.escrow, claimant.Address, payment.Value)
	return s.mine("withdraw", claimant.Address), nil
}

func (s *Simulator) Revoke(_ context.Context, sender Account, paymentID common.Address) (TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, err := s.funded(paymentID)
	if err != nil {
		return TxResult{}, fmt.Errorf("revoke tx: %w", err)
	}
	if payment.Sender != sender.Address {
		return TxResult{}, fmt.Errorf("revoke tx: %w", ErrNotSender)
	}
	if s.chainTime().Before(payment.ExpiresAt()) {
		return TxResult{}, fmt.Errorf("revoke tx: %w: expires at %s", ErrNotExpired, payment.ExpiresAt().Format(time.RFC3339))
	}
	if err := s.chargeFee(sender.Address, nil); err != nil {
		return TxResult{}, fmt.Errorf("revoke tx: %w", err)
	}

	s.settle(payment, StateRevoked)
	s.move(payment.Token, s.escrow, payment.Sender, payment.Value)
	return s.mine("revoke", sender.Address), nil
}

func (s *Simulator) EscrowedPayment(_ context.Context, paymentID common.Address) (EscrowedPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return EscrowedPayment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID.Hex())
	}
	out := *payment
	out.Value = new(big.Int).Set(payment.Value)
	return out, nil
}

func (s *Simulator) SentPaymentIDs(_ context.Context, sender common.Address) ([]common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Address(nil), s.sent[sender]...), nil
}

func (s *Simulator) ReceivedPaymentIDs(_ context.Context, identifier [32]byte) ([]common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Address(nil), s.received[identifier]...), nil
}

func (s *Simulator) TokenBalance(_ context.Context, token, owner common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireToken(token); err != nil {
		return nil, err
	}
	return new(big.Int).Set(balanceOf(s.ledger(token), owner)), nil
}

func (s *Simulator) NativeBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(balanceOf(s.native, owner)), nil
}

func (s *Simulator) TransferToken(_ context.Context, from Account, token, to common.Address, amount *big.Int) (TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireToken(token); err != nil {
		return TxResult{}, err
	}
	if balanceOf(s.ledger(token), from.Address).Cmp(amount) < 0 {
		return TxResult{}, fmt.Errorf("transfer tx: %w", ErrInsufficientBalance)
	}
	extra := new(big.Int)
	if s.isGold(token) {
		extra = amount
	}
	if err := s.chargeFee(from.Address, extra); err != nil {
		return TxResult{}, fmt.Errorf("transfer tx: %w", err)
	}
	s.move(token, from.Address, to, amount)
	return s.mine("token transfer", from.Address), nil
}

func (s *Simulator) TransferNative(_ context.Context, from Account, to common.Address, amount *big.Int) (TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.chargeFee(from.Address, amount); err != nil {
		return TxResult{}, fmt.Errorf("native transfer tx: %w", err)
	}
	s.debit(s.native, from.Address, amount)
	s.credit(s.native, to, amount)
	return s.mine("native transfer", from.Address), nil
}

func (s *Simulator) ChainTime(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainTime(), nil
}

func (s *Simulator) chainTime() time.Time {
	return s.now().Add(s.offset).Truncate(time.Second).UTC()
}

func (s *Simulator) tokenBySymbol(symbol string) (common.Address, error) {
	id, ok := RegistryID(symbol)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return s.tokens[id], nil
}

func (s *Simulator) requireToken(token common.Address) error {
	for _, addr := range s.tokens {
		if addr == token {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
}

// CELO is both the native currency and an ERC20, backed by one ledger.
func (s *Simulator) isGold(token common.Address) bool {
	return token == s.tokens[contracts.GoldTokenRegistryID]
}

func (s *Simulator) ledger(token common.Address) map[common.Address]*big.Int {
	if s.isGold(token) {
		return s.native
	}
	l, ok := s.balances[token]
	if !ok {
		l = make(map[common.Address]*big.Int)
		s.balances[token] = l
	}
	return l
}

func (s *Simulator) allowance(token, owner, spender common.Address) *big.Int {
	if a, ok := s.allowances[allowanceKey{token, owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

func (s *Simulator) funded(paymentID common.Address) (*EscrowedPayment, error) {
	payment, ok := s.payments[paymentID]
	if ok {
		return payment, nil
	}
	switch s.states[paymentID] {
	case StateClaimed, StateRevoked:
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadySettled, paymentID.Hex(), s.states[paymentID])
	}
	return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID.Hex())
}

func (s *Simulator) settle(payment *EscrowedPayment, state EntryState) {
	delete(s.payments, payment.PaymentID)
	s.states[payment.PaymentID] = state
	s.sent[payment.Sender] = without(s.sent[payment.Sender], payment.PaymentID)
	s.received[payment.RecipientIdentifier] = without(s.received[payment.RecipientIdentifier], payment.PaymentID)
}

func (s *Simulator) move(token, from, to common.Address, amount *big.Int) {
	ledger := s.ledger(token)
	s.debit(ledger, from, amount)
	s.credit(ledger, to, amount)
}

// chargeFee debits the per-transaction fee after checking that fee plus
// extra native spend is covered.
func (s *Simulator) chargeFee(addr common.Address, extra *big.Int) error {
	need := new(big.Int).Set(s.fee)
	if extra != nil {
		need.Add(need, extra)
	}
	if balanceOf(s.native, addr).Cmp(need) < 0 {
		return ErrInsufficientFee
	}
	s.debit(s.native, addr, s.fee)
	return nil
}

func (s *Simulator) mine(op string, from common.Address) TxResult {
	s.block++
	return TxResult{
		Hash:        crypto.Keccak256Hash([]byte(fmt.Sprintf("%d:%s:%s", s.block, op, from.Hex()))),
		BlockNumber: s.block,
		GasUsed:     21_000,
	}
}

func (s *Simulator) credit(ledger map[common.Address]*big.Int, addr common.Address, amount *big.Int) {
	ledger[addr] = new(big.Int).Add(balanceOf(ledger, addr), amount)
}

func (s *Simulator) debit(ledger map[common.Address]*big.Int, addr common.Address, amount *big.Int) {
	ledger[addr] = new(big.Int).Sub(balanceOf(ledger, addr), amount)
}

func balanceOf(ledger map[common.Address]*big.Int, addr common.Address) *big.Int {
	if b, ok := ledger[addr]; ok {
		return b
	}
	return new(big.Int)
}

func without(ids []common.Address, id common.Address) []common.Address {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
