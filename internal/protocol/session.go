// Package protocol sequences the claim-code escrow flow: deposit, claim,
// revoke and the optional gas funding of a recipient. Every step waits for
// its transaction to confirm before the next one starts.
package protocol

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"claimcode/internal/claim"
	"claimcode/internal/credential"
	"claimcode/internal/escrow"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Waiter blocks until the chain clock reaches a deadline.
type Waiter interface {
	WaitUntil(ctx context.Context, deadline time.Time) error
}

type Options struct {
	// Token is the settlement token symbol, CELO or cUSD.
	Token  string
	Waiter Waiter
	Logger log.FieldLogger
}

// Session owns the escrow client and the settlement token for one run.
type Session struct {
	client escrow.Client
	token  string
	waiter Waiter
	log    log.FieldLogger
}

func NewSession(client escrow.Client, opts Options) (*Session, error) {
	if client == nil {
		return nil, fmt.Errorf("escrow client is required")
	}
	token := opts.Token
	if token == "" {
		token = escrow.TokenCUSD
	}
	if _, ok := escrow.RegistryID(token); !ok {
		return nil, fmt.Errorf("%w: %s", escrow.ErrUnknownToken, token)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{
		client: client,
		token:  token,
		waiter: opts.Waiter,
		log:    logger.WithField("token", token),
	}, nil
}

func (s *Session) Token() string { return s.token }

func (s *Session) Client() escrow.Client { return s.client }

// NewCredential generates a fresh claim code.
func (s *Session) NewCredential() (*credential.Credential, error) {
	cred, err := credential.Generate()
	if err != nil {
		return nil, err
	}
	s.log.WithField("paymentId", cred.PaymentID.Hex()).Info("generated claim credential")
	return cred, nil
}

type DepositRequest struct {
	PaymentID       common.Address
	Amount          decimal.Decimal
	ExpirySeconds   uint64
	MinAttestations uint64
	// Identifier is an optional recipient identifier such as a phone number.
	Identifier string
}

type Deposit struct {
	PaymentID  common.Address
	Token      common.Address
	Amount     *big.Int
	ApproveTx  escrow.TxResult
	TransferTx escrow.TxResult
}

// Deposit approves the escrow contract for the amount and then transfers it
// into escrow under req.PaymentID.
func (s *Session) Deposit(ctx context.Context, sender escrow.Account, req DepositRequest) (Deposit, error) {
	if !req.Amount.IsPositive() {
		return Deposit{}, fmt.Errorf("%w: amount must be positive", escrow.ErrInvalidTransfer)
	}
	amount, err := escrow.ExactWei(req.Amount)
	if err != nil {
		return Deposit{}, err
	}
	token, err := s.client.TokenAddress(ctx, s.token)
	if err != nil {
		return Deposit{}, err
	}
	escrowAddr, err := s.client.EscrowAddress(ctx)
	if err != nil {
		return Deposit{}, err
	}

	balance, err := s.client.TokenBalance(ctx, token, sender.Address)
	if err != nil {
		return Deposit{}, fmt.Errorf("sender balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return Deposit{}, fmt.Errorf("%w: have %s %s, need %s", escrow.ErrInsufficientBalance,
			escrow.FromWei(balance).String(), s.token, req.Amount.String())
	}

	logger := s.log.WithFields(log.Fields{
		"paymentId": req.PaymentID.Hex(),
		"sender":    sender.Address.Hex(),
		"amount":    escrow.FromWei(amount).String(),
	})

	approveTx, err := s.client.Approve(ctx, sender, token, escrowAddr, amount)
	if err != nil {
		return Deposit{}, err
	}
	logger.WithField("tx", approveTx.Hash.Hex()).Info("approved escrow allowance")

	transferTx, err := s.client.Transfer(ctx, sender, escrow.TransferRequest{
		Identifier:      escrow.Identifier(req.Identifier),
		Token:           token,
		Amount:          amount,
		ExpirySeconds:   req.ExpirySeconds,
		PaymentID:       req.PaymentID,
		MinAttestations: req.MinAttestations,
	})
	if err != nil {
		return Deposit{}, err
	}
	logger.WithField("tx", transferTx.Hash.Hex()).Info("deposited into escrow")

	return Deposit{
		PaymentID:  req.PaymentID,
		Token:      token,
		Amount:     amount,
		ApproveTx:  approveTx,
		TransferTx: transferTx,
	}, nil
}

type ClaimResult struct {
	PaymentID common.Address
	Claimant  common.Address
	Token     common.Address
	Amount    *big.Int
	Tx        escrow.TxResult
}

// Claim signs the claimant's address with the credential secret and
// withdraws the payment to the claimant.
func (s *Session) Claim(ctx context.Context, claimant escrow.Account, cred *credential.Credential) (ClaimResult, error) {
	if cred == nil || cred.Secret == nil {
		return ClaimResult{}, credential.ErrInvalidSecret
	}
	if derived := credential.PaymentIDFromPublicKey(&cred.Secret.PublicKey); derived != cred.PaymentID {
		return ClaimResult{}, fmt.Errorf("%w: secret belongs to %s", credential.ErrPaymentIDMismatch, derived.Hex())
	}

	payment, err := s.client.EscrowedPayment(ctx, cred.PaymentID)
	if err != nil {
		return ClaimResult{}, err
	}

	sig, err := claim.Sign(cred.Secret, claimant.Address)
	if err != nil {
		return ClaimResult{}, err
	}
	tx, err := s.client.Withdraw(ctx, claimant, cred.PaymentID, sig)
	if err != nil {
		return ClaimResult{}, err
	}
	s.log.WithFields(log.Fields{
		"paymentId": cred.PaymentID.Hex(),
		"claimant":  claimant.Address.Hex(),
		"amount":    escrow.FromWei(payment.Value).String(),
		"tx":        tx.Hash.Hex(),
	}).Info("claimed escrowed payment")

	return ClaimResult{
		PaymentID: cred.PaymentID,
		Claimant:  claimant.Address,
		Token:     payment.Token,
		Amount:    payment.Value,
		Tx:        tx,
	}, nil
}

// Revoke waits until the payment has expired on chain and then returns it to
// the sender. The revoke is submitted once.
func (s *Session) Revoke(ctx context.Context, sender escrow.Account, paymentID common.Address) (escrow.TxResult, error) {
	payment, err := s.client.EscrowedPayment(ctx, paymentID)
	if err != nil {
		return escrow.TxResult{}, err
	}
	if payment.Sender != sender.Address {
		return escrow.TxResult{}, fmt.Errorf("%w: payment %s was sent by %s", escrow.ErrNotSender, paymentID.Hex(), payment.Sender.Hex())
	}

	if s.waiter != nil {
		s.log.WithFields(log.Fields{
			"paymentId": paymentID.Hex(),
			"expiresAt": payment.ExpiresAt().Format(time.RFC3339),
		}).Info("waiting for payment expiry")
		if err := s.waiter.WaitUntil(ctx, payment.ExpiresAt()); err != nil {
			return escrow.TxResult{}, fmt.Errorf("wait for expiry: %w", err)
		}
	}
	return s.RevokeNow(ctx, sender, paymentID)
}

// RevokeNow submits the revoke immediately and leaves the expiry check to
// the contract.
func (s *Session) RevokeNow(ctx context.Context, sender escrow.Account, paymentID common.Address) (escrow.TxResult, error) {
	tx, err := s.client.Revoke(ctx, sender, paymentID)
	if err != nil {
		return escrow.TxResult{}, err
	}
	s.log.WithFields(log.Fields{
		"paymentId": paymentID.Hex(),
		"tx":        tx.Hash.Hex(),
	}).Info("revoked escrowed payment")
	return tx, nil
}

type Funding struct {
	NativeTx *escrow.TxResult
	TokenTx  *escrow.TxResult
}

// FundRecipient sends native currency and settlement token from the relayer
// so the recipient can pay for its claim. Zero amounts are skipped.
func (s *Session) FundRecipient(ctx context.Context, relayer escrow.Account, recipient common.Address, native, token decimal.Decimal) (Funding, error) {
	if native.IsNegative() || token.IsNegative() {
		return Funding{}, fmt.Errorf("%w: negative funding amount", escrow.ErrInvalidTransfer)
	}
	nativeWei, err := escrow.ExactWei(native)
	if err != nil {
		return Funding{}, err
	}
	tokenWei, err := escrow.ExactWei(token)
	if err != nil {
		return Funding{}, err
	}
	logger := s.log.WithFields(log.Fields{
		"relayer":   relayer.Address.Hex(),
		"recipient": recipient.Hex(),
	})

	var out Funding
	if native.IsPositive() {
		tx, err := s.client.TransferNative(ctx, relayer, recipient, nativeWei)
		if err != nil {
			return Funding{}, fmt.Errorf("fund native: %w", err)
		}
		out.NativeTx = &tx
		logger.WithFields(log.Fields{"amount": native.String(), "tx": tx.Hash.Hex()}).Info("funded recipient with CELO")
	}
	if token.IsPositive() {
		tokenAddr, err := s.client.TokenAddress(ctx, s.token)
		if err != nil {
			return out, err
		}
		tx, err := s.client.TransferToken(ctx, relayer, tokenAddr, recipient, tokenWei)
		if err != nil {
			return out, fmt.Errorf("fund token: %w", err)
		}
		out.TokenTx = &tx
		logger.WithFields(log.Fields{"amount": token.String(), "tx": tx.Hash.Hex()}).Infof("funded recipient with %s", s.token)
	}
	return out, nil
}

// SentPayments lists the outstanding payments of sender.
func (s *Session) SentPayments(ctx context.Context, sender common.Address) ([]escrow.EscrowedPayment, error) {
	ids, err := s.client.SentPaymentIDs(ctx, sender)
	if err != nil {
		return nil, err
	}
	out := make([]escrow.EscrowedPayment, 0, len(ids))
	for _, id := range ids {
		payment, err := s.client.EscrowedPayment(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, payment)
	}
	return out, nil
}

type Balances struct {
	Owner  common.Address
	Native decimal.Decimal
	Token  decimal.Decimal
	Symbol string
}

// Balances reports the native and settlement token balances of owner.
func (s *Session) Balances(ctx context.Context, owner common.Address) (Balances, error) {
	native, err := s.client.NativeBalance(ctx, owner)
	if err != nil {
		return Balances{}, err
	}
	tokenAddr, err := s.client.TokenAddress(ctx, s.token)
	if err != nil {
		return Balances{}, err
	}
	token, err := s.client.TokenBalance(ctx, tokenAddr, owner)
	if err != nil {
		return Balances{}, err
	}
	return Balances{
		Owner:  owner,
		Native: escrow.FromWei(native),
		Token:  escrow.FromWei(token),
		Symbol: s.token,
	}, nil
}

// Ping checks the underlying RPC endpoint when the client has one.
func (s *Session) Ping(ctx context.Context) error {
	if checker, ok := s.client.(escrow.HealthChecker); ok {
		return checker.Ping(ctx)
	}
	return nil
}
