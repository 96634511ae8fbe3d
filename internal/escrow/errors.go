package escrow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTxReverted            = errors.New("transaction reverted")
	ErrPaymentNotFound       = errors.New("escrowed payment not found")
	ErrAlreadySettled        = errors.New("escrowed payment already settled")
	ErrPaymentIDInUse        = errors.New("payment id already used")
	ErrInvalidSignature      = errors.New("signature does not prove ownership of the payment id")
	ErrNotExpired            = errors.New("payment not yet revocable")
	ErrNotSender             = errors.New("only the sender can revoke the payment")
	ErrInvalidTransfer       = errors.New("invalid transfer inputs")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientFee       = errors.New("insufficient funds for transaction fee")
	ErrUnknownToken          = errors.New("unknown token")
)

// revertReasons maps fragments of contract revert messages and node errors
// onto the sentinel errors above.
var revertReasons = []struct {
	fragment string
	err      error
}{
	{"failed to prove ownership", ErrInvalidSignature},
	{"invalid withdraw value", ErrPaymentNotFound},
	{"only sender of payment", ErrNotSender},
	{"not redeemable for sender yet", ErrNotExpired},
	{"paymentid already used", ErrPaymentIDInUse},
	{"invalid transfer inputs", ErrInvalidTransfer},
	{"can't require attestations", ErrInvalidTransfer},
	{"exceeded sender's allowance", ErrInsufficientAllowance},
	{"exceeds allowance", ErrInsufficientAllowance},
	{"exceeded balance of sender", ErrInsufficientBalance},
	{"exceeds balance", ErrInsufficientBalance},
	{"insufficient funds", ErrInsufficientFee},
}

// classify wraps err with the matching sentinel, if any.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, r := range revertReasons {
		if strings.Contains(msg, r.fragment) {
			return fmt.Errorf("%s: %w: %v", op, r.err, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
