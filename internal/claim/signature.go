// Package claim builds and checks the signature a recipient presents to the
// escrow contract to withdraw a claim-code payment.
//
// The signed message is fixed by the contract: keccak256 of the claimant's
// 20 byte address, wrapped in the "\x19Ethereum Signed Message:\n32" prefix,
// so a signature only pays out to the claimant it was produced for.
package claim

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrMalformedSignature = errors.New("malformed signature")

// Signature is the (v, r, s) triple passed to withdraw. V is 27 or 28.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// Message is keccak256(abi.encodePacked(claimant)).
func Message(claimant common.Address) common.Hash {
	return crypto.Keccak256Hash(claimant.Bytes())
}

// Digest is the prefixed hash the contract recovers the signer from.
func Digest(claimant common.Address) common.Hash {
	msg := Message(claimant)
	return common.BytesToHash(accounts.TextHash(msg.Bytes()))
}

// Sign produces the withdraw signature for claimant using the claim secret.
func Sign(secret *ecdsa.PrivateKey, claimant common.Address) (Signature, error) {
	if secret == nil {
		return Signature{}, errors.New("nil secret")
	}
	digest := Digest(claimant)
	raw, err := crypto.Sign(digest.Bytes(), secret)
	if err != nil {
		return Signature{}, fmt.Errorf("sign claim message: %w", err)
	}
	var sig Signature
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64] + 27
	return sig, nil
}

// Recover returns the payment ID whose secret produced sig for claimant.
func Recover(claimant common.Address, sig Signature) (common.Address, error) {
	if sig.V != 27 && sig.V != 28 {
		return common.Address{}, fmt.Errorf("%w: v=%d", ErrMalformedSignature, sig.V)
	}
	raw := sig.Bytes()
	raw[64] -= 27
	pub, err := crypto.SigToPub(Digest(claimant).Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sig proves ownership of paymentID for claimant.
func Verify(paymentID, claimant common.Address, sig Signature) bool {
	signer, err := Recover(claimant, sig)
	if err != nil {
		return false
	}
	return signer == paymentID
}

// Bytes returns r || s || v.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}
