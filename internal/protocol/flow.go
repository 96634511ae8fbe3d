package protocol

import (
	"context"
	"fmt"

	"claimcode/internal/credential"
	"claimcode/internal/escrow"

	"github.com/ethereum/go-ethereum/common"
)

// FundFunc tops up a recipient before it claims.
type FundFunc func(ctx context.Context, recipient common.Address) error

// Flow runs the whole claim-code sequence for one sender and one recipient:
// credential, deposit, optional funding, claim.
type Flow struct {
	Session   *Session
	Sender    escrow.Account
	Recipient escrow.Account
	Fund      FundFunc
}

type FlowResult struct {
	Credential *credential.Credential
	Deposit    Deposit
	Claim      ClaimResult
}

func (f Flow) Run(ctx context.Context, req DepositRequest) (FlowResult, error) {
	cred, err := f.Session.NewCredential()
	if err != nil {
		return FlowResult{}, err
	}
	req.PaymentID = cred.PaymentID

	dep, err := f.Session.Deposit(ctx, f.Sender, req)
	if err != nil {
		return FlowResult{}, fmt.Errorf("deposit: %w", err)
	}

	// The secret crosses over to the recipient here; in a single process
	// that is just handing over the credential.
	if f.Fund != nil {
		if err := f.Fund(ctx, f.Recipient.Address); err != nil {
			return FlowResult{Credential: cred, Deposit: dep}, fmt.Errorf("fund recipient: %w", err)
		}
	}

	res, err := f.Session.Claim(ctx, f.Recipient, cred)
	if err != nil {
		return FlowResult{Credential: cred, Deposit: dep}, fmt.Errorf("claim: %w", err)
	}
	return FlowResult{Credential: cred, Deposit: dep, Claim: res}, nil
}
