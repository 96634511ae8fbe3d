package claim

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestMessageMatchesSolidityPackedAddress(t *testing.T) {
	claimant := common.HexToAddress("0x5409ED021D9299bf6814279A6A1411A7e866A631")
	want := crypto.Keccak256Hash(common.FromHex("0x5409ED021D9299bf6814279A6A1411A7e866A631"))
	require.Equal(t, want, Message(claimant))

	prefixed := crypto.Keccak256Hash(append([]byte("\x19Ethereum Signed Message:\n32"), want.Bytes()...))
	require.Equal(t, prefixed, Digest(claimant))
}

func TestSignVerifiesOnlyForMatchingSecret(t *testing.T) {
	secret, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	paymentID := crypto.PubkeyToAddress(secret.PublicKey)
	claimant := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	sig, err := Sign(secret, claimant)
	require.NoError(t, err)
	require.Contains(t, []uint8{27, 28}, sig.V)
	require.True(t, Verify(paymentID, claimant, sig))

	signer, err := Recover(claimant, sig)
	require.NoError(t, err)
	require.Equal(t, paymentID, signer)

	forged, err := Sign(other, claimant)
	require.NoError(t, err)
	require.False(t, Verify(paymentID, claimant, forged))
}

func TestSignatureIsBoundToClaimant(t *testing.T) {
	secret, err := crypto.GenerateKey()
	require.NoError(t, err)
	paymentID := crypto.PubkeyToAddress(secret.PublicKey)

	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	mallory := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	sig, err := Sign(secret, alice)
	require.NoError(t, err)
	require.True(t, Verify(paymentID, alice, sig))
	require.False(t, Verify(paymentID, mallory, sig))
}

func TestRecoverRejectsMalformedV(t *testing.T) {
	secret, err := crypto.GenerateKey()
	require.NoError(t, err)
	claimant := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	sig, err := Sign(secret, claimant)
	require.NoError(t, err)
	sig.V = 3

	_, err = Recover(claimant, sig)
	require.ErrorIs(t, err, ErrMalformedSignature)
	require.False(t, Verify(crypto.PubkeyToAddress(secret.PublicKey), claimant, sig))
}

func TestSignRejectsNilSecret(t *testing.T) {
	_, err := Sign(nil, common.Address{})
	require.Error(t, err)
}
