package escrow

import (
	"crypto/ecdsa"

	"claimcode/internal/credential"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account is an address together with the key that authorizes its
// transactions.
type Account struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// NewAccount parses a hex private key.
func NewAccount(hexKey string) (Account, error) {
	key, err := credential.ParsePrivateKey(hexKey)
	if err != nil {
		return Account{}, err
	}
	return AccountFromKey(key), nil
}

// AccountFromKey wraps an existing key.
func AccountFromKey(key *ecdsa.PrivateKey) Account {
	return Account{Address: crypto.PubkeyToAddress(key.PublicKey), Key: key}
}

// GenerateAccount creates a throwaway account.
func GenerateAccount() (Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Account{}, err
	}
	return AccountFromKey(key), nil
}
