// Package credential creates the ephemeral keypairs behind claim codes.
//
// The public half of a credential is reduced to an address-shaped payment ID
// that keys the escrow entry; the private half is the secret handed to the
// recipient out of band.
package credential

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// DerivationPath is the Celo account path used for generated keys.
const DerivationPath = "m/44'/52752'/0'/0/0"

// entropyBits yields a 24 word mnemonic.
const entropyBits = 256

var (
	ErrInvalidMnemonic   = errors.New("invalid mnemonic")
	ErrInvalidSecret     = errors.New("invalid secret")
	ErrPaymentIDMismatch = errors.New("payment id does not match secret")
)

var derivationPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 52752,
	bip32.FirstHardenedChild + 0,
	0,
	0,
}

// Credential is a single-use claim code.
type Credential struct {
	// Mnemonic is empty when the credential was rebuilt from its secret.
	Mnemonic  string
	PaymentID common.Address
	Secret    *ecdsa.PrivateKey
}

// Generate creates a credential from a fresh mnemonic.
func Generate() (*Credential, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, fmt.Errorf("entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("mnemonic: %w", err)
	}
	return FromMnemonic(mnemonic)
}

// FromMnemonic derives the credential for mnemonic along DerivationPath.
func FromMnemonic(mnemonic string) (*Credential, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	next, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	for _, idx := range derivationPath {
		if next, err = next.NewChildKey(idx); err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
	}

	secret, err := crypto.ToECDSA(next.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return &Credential{
		Mnemonic:  mnemonic,
		PaymentID: PaymentIDFromPublicKey(&secret.PublicKey),
		Secret:    secret,
	}, nil
}

// FromSecret rebuilds a credential from a hex private key, with or without
// the 0x prefix.
func FromSecret(hexKey string) (*Credential, error) {
	secret, err := ParsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &Credential{
		PaymentID: PaymentIDFromPublicKey(&secret.PublicKey),
		Secret:    secret,
	}, nil
}

// Parse rebuilds a credential handed over out of band and checks that the
// payment ID belongs to the secret.
func Parse(paymentID, secret string) (*Credential, error) {
	if !common.IsHexAddress(paymentID) {
		return nil, fmt.Errorf("invalid payment id %q", paymentID)
	}
	cred, err := FromSecret(secret)
	if err != nil {
		return nil, err
	}
	if cred.PaymentID != common.HexToAddress(paymentID) {
		return nil, fmt.Errorf("%w: %s", ErrPaymentIDMismatch, paymentID)
	}
	return cred, nil
}

// PaymentIDFromPublicKey is the address of pub.
func PaymentIDFromPublicKey(pub *ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(*pub)
}

// SecretHex returns the 0x-prefixed private key for the out-of-band handoff.
func (c *Credential) SecretHex() string {
	return "0x" + hex.EncodeToString(crypto.FromECDSA(c.Secret))
}

// PublicKeyHex returns the uncompressed public key.
func (c *Credential) PublicKeyHex() string {
	return "0x" + hex.EncodeToString(crypto.FromECDSAPub(&c.Secret.PublicKey))
}

// ParsePrivateKey decodes a hex secp256k1 key.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return key, nil
}
