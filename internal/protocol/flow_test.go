package protocol

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"claimcode/internal/escrow"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFlowRunsDepositFundClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, escrow.TokenCUSD)

	flow := Flow{
		Session:   f.session,
		Sender:    f.sender,
		Recipient: f.recipient,
		Fund: func(ctx context.Context, recipient common.Address) error {
			_, err := f.session.FundRecipient(ctx, f.relayer, recipient, decimal.RequireFromString("0.01"), decimal.Zero)
			return err
		},
	}
	res, err := flow.Run(ctx, DepositRequest{Amount: decimal.RequireFromString("0.1"), ExpirySeconds: 300})
	require.NoError(t, err)
	require.Equal(t, res.Credential.PaymentID, res.Deposit.PaymentID)
	require.Equal(t, res.Credential.PaymentID, res.Claim.PaymentID)
	require.Equal(t, escrow.StateClaimed, f.sim.State(res.Credential.PaymentID))
	require.Equal(t, 0, f.tokenBalance(t, f.recipient.Address).Cmp(wei("0.1")))
}

func TestFlowStopsWhenFundingFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, escrow.TokenCUSD)
	boom := errors.New("relayer down")

	flow := Flow{
		Session:   f.session,
		Sender:    f.sender,
		Recipient: f.recipient,
		Fund:      func(context.Context, common.Address) error { return boom },
	}
	res, err := flow.Run(ctx, DepositRequest{Amount: decimal.RequireFromString("0.1"), ExpirySeconds: 300})
	require.ErrorIs(t, err, boom)
	require.NotNil(t, res.Credential)
	require.Equal(t, escrow.StateFunded, f.sim.State(res.Credential.PaymentID))
	require.Zero(t, f.tokenBalance(t, f.recipient.Address).Cmp(big.NewInt(0)))
}

func TestFlowWithoutFundingFailsForEmptyRecipient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, escrow.TokenCUSD)

	flow := Flow{Session: f.session, Sender: f.sender, Recipient: f.recipient}
	_, err := flow.Run(ctx, DepositRequest{Amount: decimal.RequireFromString("0.1"), ExpirySeconds: 300})
	require.ErrorIs(t, err, escrow.ErrInsufficientFee)
}
