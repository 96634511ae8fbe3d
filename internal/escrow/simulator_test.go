package escrow

import (
	"context"
	"math/big"
	"testing"
	"time"

	"claimcode/internal/claim"
	"claimcode/internal/credential"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newSimFixture(t *testing.T) (*Simulator, Account, Account) {
	t.Helper()
	sim := NewSimulator()
	sender, err := GenerateAccount()
	require.NoError(t, err)
	recipient, err := GenerateAccount()
	require.NoError(t, err)

	sim.Fund(sender.Address, ToWei(decimal.NewFromInt(1)))
	sim.Fund(recipient.Address, ToWei(decimal.RequireFromString("0.01")))
	require.NoError(t, sim.Mint(TokenCUSD, sender.Address, ToWei(decimal.NewFromInt(5))))
	return sim, sender, recipient
}

func deposit(t *testing.T, sim *Simulator, sender Account, cred *credential.Credential, amount *big.Int, expiry uint64) TxResult {
	t.Helper()
	ctx := context.Background()
	token, err := sim.TokenAddress(ctx, TokenCUSD)
	require.NoError(t, err)
	escrowAddr, err := sim.EscrowAddress(ctx)
	require.NoError(t, err)

	_, err = sim.Approve(ctx, sender, token, escrowAddr, amount)
	require.NoError(t, err)
	res, err := sim.Transfer(ctx, sender, TransferRequest{
		Token:         token,
		Amount:        amount,
		ExpirySeconds: expiry,
		PaymentID:     cred.PaymentID,
	})
	require.NoError(t, err)
	return res
}

func TestSimulatorClaimPaysOutExactlyOnce(t *testing.T) {
	ctx := context.Background()
	sim, sender, recipient := newSimFixture(t)
	cred, err := credential.Generate()
	require.NoError(t, err)

	amount := ToWei(decimal.RequireFromString("0.1"))
	deposit(t, sim, sender, cred, amount, 3600)
	require.Equal(t, StateFunded, sim.State(cred.PaymentID))

	token, _ := sim.TokenAddress(ctx, TokenCUSD)
	before, err := sim.TokenBalance(ctx, token, recipient.Address)
	require.NoError(t, err)

	sig, err := claim.Sign(cred.Secret, recipient.Address)
	require.NoError(t, err)
	_, err = sim.Withdraw(ctx, recipient, cred.PaymentID, sig)
	require.NoError(t, err)

	after, err := sim.TokenBalance(ctx, token, recipient.Address)
	require.NoError(t, err)
	require.Equal(t, amount, new(big.Int).Sub(after, before))
	require.Equal(t, StateClaimed, sim.State(cred.PaymentID))

	_, err = sim.Withdraw(ctx, recipient, cred.PaymentID, sig)
	require.ErrorIs(t, err, ErrAlreadySettled)

	ids, err := sim.SentPaymentIDs(ctx, sender.Address)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestSimulatorRejectsMismatchedSecret(t *testing.T) {
	ctx := context.Background()
	sim, sender, recipient := newSimFixture(t)
	cred, err := credential.Generate()
	require.NoError(t, err)
	wrong, err := credential.Generate()
	require.NoError(t, err)

	deposit(t, sim, sender, cred, ToWei(decimal.RequireFromString("0.1")), 3600)

	// Plenty of gas does not help a bad signature.
	sim.Fund(recipient.Address, ToWei(decimal.NewFromInt(100)))
	sig, err := claim.Sign(wrong.Secret, recipient.Address)
	require.NoError(t, err)

	_, err = sim.Withdraw(ctx, recipient, cred.PaymentID, sig)
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.Equal(t, StateFunded, sim.State(cred.PaymentID))
}

func TestSimulatorSignatureBoundToClaimant(t *testing.T) {
	ctx := context.Background()
	sim, sender, recipient := newSimFixture(t)
	thief, err := GenerateAccount()
	require.NoError(t, err)
	sim.Fund(thief.Address, ToWei(decimal.NewFromInt(1)))

	cred, err := credential.Generate()
	require.NoError(t, err)
	deposit(t, sim, sender, cred, ToWei(decimal.RequireFromString("0.1")), 3600)

	sig, err := claim.Sign(cred.Secret, recipient.Address)
	require.NoError(t, err)
	_, err = sim.Withdraw(ctx, thief, cred.PaymentID, sig)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSimulatorRevokeRespectsExpiryAndSender(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	sim := NewSimulator(WithClock(func() time.Time { return now }))
	sender, err := GenerateAccount()
	require.NoError(t, err)
	other, err := GenerateAccount()
	require.NoError(t, err)
	sim.Fund(sender.Address, ToWei(decimal.NewFromInt(1)))
	sim.Fund(other.Address, ToWei(decimal.NewFromInt(1)))
	require.NoError(t, sim.Mint(TokenCUSD, sender.Address, ToWei(decimal.NewFromInt(1))))

	cred, err := credential.Generate()
	require.NoError(t, err)
	amount := ToWei(decimal.RequireFromString("0.1"))
	deposit(t, sim, sender, cred, amount, 60)

	token, _ := sim.TokenAddress(ctx, TokenCUSD)
	afterDeposit, _ := sim.TokenBalance(ctx, token, sender.Address)

	_, err = sim.Revoke(ctx, sender, cred.PaymentID)
	require.ErrorIs(t, err, ErrNotExpired)

	sim.Advance(61 * time.Second)

	_, err = sim.Revoke(ctx, other, cred.PaymentID)
	require.ErrorIs(t, err, ErrNotSender)

	_, err = sim.Revoke(ctx, sender, cred.PaymentID)
	require.NoError(t, err)
	require.Equal(t, StateRevoked, sim.State(cred.PaymentID))

	refunded, _ := sim.TokenBalance(ctx, token, sender.Address)
	require.Equal(t, amount, new(big.Int).Sub(refunded, afterDeposit))
	otherBal, _ := sim.TokenBalance(ctx, token, other.Address)
	require.Zero(t, otherBal.Sign())

	_, err = sim.Revoke(ctx, sender, cred.PaymentID)
	require.ErrorIs(t, err, ErrAlreadySettled)
}

func TestSimulatorTerminalPaymentIDCannotBeReused(t *testing.T) {
	ctx := context.Background()
	sim, sender, recipient := newSimFixture(t)
	cred, err := credential.Generate()
	require.NoError(t, err)
	amount := ToWei(decimal.RequireFromString("0.1"))
	deposit(t, sim, sender, cred, amount, 3600)

	sig, err := claim.Sign(cred.Secret, recipient.Address)
	require.NoError(t, err)
	_, err = sim.Withdraw(ctx, recipient, cred.PaymentID, sig)
	require.NoError(t, err)

	token, _ := sim.TokenAddress(ctx, TokenCUSD)
	escrowAddr, _ := sim.EscrowAddress(ctx)
	_, err = sim.Approve(ctx, sender, token, escrowAddr, amount)
	require.NoError(t, err)
	_, err = sim.Transfer(ctx, sender, TransferRequest{Token: token, Amount: amount, ExpirySeconds: 60, PaymentID: cred.PaymentID})
	require.ErrorIs(t, err, ErrPaymentIDInUse)
}

func TestSimulatorTransferPreconditions(t *testing.T) {
	ctx := context.Background()
	sim, sender, _ := newSimFixture(t)
	cred, err := credential.Generate()
	require.NoError(t, err)
	token, _ := sim.TokenAddress(ctx, TokenCUSD)
	escrowAddr, _ := sim.EscrowAddress(ctx)
	amount := ToWei(decimal.NewFromInt(1))

	req := TransferRequest{Token: token, Amount: amount, ExpirySeconds: 60, PaymentID: cred.PaymentID}

	_, err = sim.Transfer(ctx, sender, req)
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	zeroExpiry := req
	zeroExpiry.ExpirySeconds = 0
	_, err = sim.Transfer(ctx, sender, zeroExpiry)
	require.ErrorIs(t, err, ErrInvalidTransfer)

	attest := req
	attest.MinAttestations = 3
	_, err = sim.Transfer(ctx, sender, attest)
	require.ErrorIs(t, err, ErrInvalidTransfer)

	tooMuch := req
	tooMuch.Amount = ToWei(decimal.NewFromInt(50))
	_, err = sim.Approve(ctx, sender, token, escrowAddr, tooMuch.Amount)
	require.NoError(t, err)
	_, err = sim.Transfer(ctx, sender, tooMuch)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, StateNonexistent, sim.State(cred.PaymentID))
}

func TestSimulatorZeroBalanceRecipientNeedsFee(t *testing.T) {
	ctx := context.Background()
	sim, sender, _ := newSimFixture(t)
	broke, err := GenerateAccount()
	require.NoError(t, err)

	cred, err := credential.Generate()
	require.NoError(t, err)
	deposit(t, sim, sender, cred, ToWei(decimal.RequireFromString("0.1")), 3600)

	sig, err := claim.Sign(cred.Secret, broke.Address)
	require.NoError(t, err)
	_, err = sim.Withdraw(ctx, broke, cred.PaymentID, sig)
	require.ErrorIs(t, err, ErrInsufficientFee)

	_, err = sim.TransferNative(ctx, sender, broke.Address, ToWei(decimal.RequireFromString("0.01")))
	require.NoError(t, err)
	_, err = sim.Withdraw(ctx, broke, cred.PaymentID, sig)
	require.NoError(t, err)
}

func TestSimulatorCeloIsNativeAndToken(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()
	acct, err := GenerateAccount()
	require.NoError(t, err)
	sim.Fund(acct.Address, ToWei(decimal.NewFromInt(2)))

	gold, err := sim.TokenAddress(ctx, TokenCELO)
	require.NoError(t, err)
	tokenBal, err := sim.TokenBalance(ctx, gold, acct.Address)
	require.NoError(t, err)
	nativeBal, err := sim.NativeBalance(ctx, acct.Address)
	require.NoError(t, err)
	require.Equal(t, nativeBal, tokenBal)

	_, err = sim.TokenAddress(ctx, "DOGE")
	require.ErrorIs(t, err, ErrUnknownToken)
}
