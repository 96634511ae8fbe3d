package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"claimcode/internal/contracts"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// Decimals of CELO and the Celo stable tokens.
const Decimals = 18

// Settlement token symbols.
const (
	TokenCELO = "CELO"
	TokenCUSD = "cUSD"
)

// RegistryID returns the registry identifier of a settlement token symbol.
func RegistryID(symbol string) (string, bool) {
	switch strings.ToLower(symbol) {
	case "celo", "gold":
		return contracts.GoldTokenRegistryID, true
	case "cusd", "stable":
		return contracts.StableTokenRegistryID, true
	}
	return "", false
}

// ToWei converts a human amount into base units, truncating extra precision.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(Decimals).BigInt()
}

// ExactWei converts amount into base units and fails when amount has more
// decimal places than the token can represent.
func ExactWei(amount decimal.Decimal) (*big.Int, error) {
	wei := ToWei(amount)
	if !FromWei(wei).Equal(amount) {
		return nil, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidTransfer, amount.String(), Decimals)
	}
	return wei, nil
}

// FromWei converts base units into a human amount.
func FromWei(amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -Decimals)
}

// Identifier hashes a recipient identifier (for example a phone number)
// into the bytes32 the contract stores. An empty string yields the zero
// identifier used by pure claim-code payments.
func Identifier(value string) [32]byte {
	var out [32]byte
	if value == "" {
		return out
	}
	copy(out[:], crypto.Keccak256([]byte(value)))
	return out
}
