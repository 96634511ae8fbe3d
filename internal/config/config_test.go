package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"claimcode/internal/escrow"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v, err := NewViper(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	t.Setenv(KeyNetwork, "")

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, Alfajores, cfg.Network)
	require.Equal(t, Alfajores.RPCURL, cfg.Chain.RPCURL)
	require.Equal(t, "cUSD", cfg.Payment.Token)
	require.Equal(t, "0.1", cfg.Payment.Amount.String())
	require.EqualValues(t, 300, cfg.Payment.ExpirySeconds)
	require.Equal(t, 2*time.Second, cfg.Chain.PollInterval)
	require.Nil(t, cfg.Deployment)
}

func TestLoadReadsDotEnvAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "NETWORK=mainnet\nPRIVATE_KEY=0xabc\nESCROW_AMOUNT=2.5\nESCROW_TOKEN=CELO\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	t.Setenv(KeyEscrowAmount, "0.75")

	v, err := NewViper(envFile)
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, Mainnet, cfg.Network)
	require.Equal(t, "0xabc", cfg.Accounts.SenderKey)
	require.Equal(t, "CELO", cfg.Payment.Token)
	require.Equal(t, "0.75", cfg.Payment.Amount.String())
	require.NoError(t, cfg.RequireSender())
}

func TestLoadRejectsUnknownNetwork(t *testing.T) {
	t.Setenv(KeyNetwork, "baklava")
	v, err := NewViper(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)

	_, err = Load(v)
	require.True(t, errors.Is(err, ErrUnknownNetwork))
}

func TestLoadRejectsBadAmount(t *testing.T) {
	t.Setenv(KeyNetwork, "alfajores")
	t.Setenv(KeyEscrowAmount, "-1")
	v, err := NewViper(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)

	_, err = Load(v)
	require.Error(t, err)
}

func TestLoadRejectsSubWeiPrecision(t *testing.T) {
	t.Setenv(KeyNetwork, "alfajores")
	t.Setenv(KeyFundNativeAmount, "0.0100000000000000001")
	v, err := NewViper(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)

	_, err = Load(v)
	require.ErrorContains(t, err, KeyFundNativeAmount)
	require.ErrorIs(t, err, escrow.ErrInvalidTransfer)
}

func TestLoadDeploymentsOverridesEscrow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployments.json")
	blob := `{"chainId": 44787, "contracts": {"Escrow": "0x00000000000000000000000000000000000000e5", "StableToken": "0x00000000000000000000000000000000000000c5"}}`
	require.NoError(t, os.WriteFile(path, []byte(blob), 0o600))

	t.Setenv(KeyNetwork, "alfajores")
	t.Setenv(KeyDeploymentsPath, path)
	v, err := NewViper(filepath.Join(dir, "none"))
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "0x00000000000000000000000000000000000000e5", cfg.Chain.EscrowAddress)
	require.Equal(t, "0x00000000000000000000000000000000000000c5", cfg.ContractOverride("StableToken"))
}

func TestLoadDeploymentsChainMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployments.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"chainId": 1, "contracts": {}}`), 0o600))

	t.Setenv(KeyNetwork, "alfajores")
	t.Setenv(KeyDeploymentsPath, path)
	v, err := NewViper(filepath.Join(dir, "none"))
	require.NoError(t, err)

	_, err = Load(v)
	require.Error(t, err)
}

func TestRequireListsMissingKeys(t *testing.T) {
	cfg := &AppConfig{}
	cfg.Payment.PaymentID = "0x1"

	err := cfg.RequireClaim()
	require.True(t, errors.Is(err, ErrMissingConfig))
	require.Contains(t, err.Error(), KeyRecipientKey)
	require.Contains(t, err.Error(), KeySecret)
	require.NotContains(t, err.Error(), KeyPaymentID)

	require.True(t, errors.Is(cfg.RequireRelayer(), ErrMissingConfig))
}

func TestCheckChainID(t *testing.T) {
	cfg := &AppConfig{Network: Mainnet}
	cfg.Chain.RPCURL = Alfajores.RPCURL

	require.NoError(t, cfg.CheckChainID(Mainnet.ChainID))

	err := cfg.CheckChainID(Alfajores.ChainID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "44787")
	require.Contains(t, err.Error(), Mainnet.Name)
}
