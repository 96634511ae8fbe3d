package escrow

import (
	"context"
	"math/big"
	"time"

	"claimcode/internal/claim"

	"github.com/ethereum/go-ethereum/common"
)

// Client abstracts the on-chain escrow interaction and the token plumbing
// around it. Every write blocks until its transaction is confirmed.
type Client interface {
	EscrowAddress(ctx context.Context) (common.Address, error)
	TokenAddress(ctx context.Context, symbol string) (common.Address, error)

	Approve(ctx context.Context, owner Account, token, spender common.Address, amount *big.Int) (TxResult, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)

	Transfer(ctx context.Context, sender Account, req TransferRequest) (TxResult, error)
	Withdraw(ctx context.Context, claimant Account, paymentID common.Address, sig claim.Signature) (TxResult, error)
	Revoke(ctx context.Context, sender Account, paymentID common.Address) (TxResult, error)

	EscrowedPayment(ctx context.Context, paymentID common.Address) (EscrowedPayment, error)
	SentPaymentIDs(ctx context.Context, sender common.Address) ([]common.Address, error)
	ReceivedPaymentIDs(ctx context.Context, identifier [32]byte) ([]common.Address, error)

	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	TransferToken(ctx context.Context, from Account, token, to common.Address, amount *big.Int) (TxResult, error)
	TransferNative(ctx context.Context, from Account, to common.Address, amount *big.Int) (TxResult, error)

	// ChainTime is the timestamp of the latest block.
	ChainTime(ctx context.Context) (time.Time, error)
}

// HealthChecker is implemented by clients backed by a live RPC endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// TransferRequest mirrors the arguments of the escrow transfer call.
type TransferRequest struct {
	Identifier      [32]byte
	Token           common.Address
	Amount          *big.Int
	ExpirySeconds   uint64
	PaymentID       common.Address
	MinAttestations uint64
}

// TxResult describes a confirmed transaction.
type TxResult struct {
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// EscrowedPayment is the contract's record for a payment ID.
type EscrowedPayment struct {
	PaymentID           common.Address
	RecipientIdentifier [32]byte
	Sender              common.Address
	Token               common.Address
	Value               *big.Int
	SentIndex           uint64
	ReceivedIndex       uint64
	Timestamp           time.Time
	ExpirySeconds       uint64
	MinAttestations     uint64
}

// ExpiresAt is the earliest time the sender may revoke the payment.
func (p EscrowedPayment) ExpiresAt() time.Time {
	return p.Timestamp.Add(time.Duration(p.ExpirySeconds) * time.Second)
}
