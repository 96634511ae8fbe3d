package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"claimcode/internal/escrow"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var (
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrUnknownNetwork = errors.New("unknown network")
)

// Network describes one of the named RPC endpoints the client can talk to.
type Network struct {
	Name    string
	ChainID int64
	RPCURL  string
}

var (
	Alfajores = Network{
		Name:    "alfajores",
		ChainID: 44787,
		RPCURL:  "https://alfajores-forno.celo-testnet.org",
	}
	Mainnet = Network{
		Name:    "mainnet",
		ChainID: 42220,
		RPCURL:  "https://forno.celo.org",
	}
)

// NamedNetworks maps the NETWORK selector to its endpoint.
var NamedNetworks = map[string]Network{
	Alfajores.Name: Alfajores,
	Mainnet.Name:   Mainnet,
}

// DeploymentConfig represents an optional deployments.json with contract
// addresses that bypass the on-chain registry lookup.
type DeploymentConfig struct {
	ChainID   int64             `json:"chainId"`
	Contracts map[string]string `json:"contracts"`
}

// AppConfig ties together the selected network, account keys and the
// parameters of a claim-code payment.
type AppConfig struct {
	Network    Network
	Chain      ChainConfig
	Accounts   AccountsConfig
	Payment    PaymentConfig
	Funding    FundingConfig
	Relayer    RelayerConfig
	Deployment *DeploymentConfig
	LogLevel   string
}

type ChainConfig struct {
	RPCURL          string
	RegistryAddress string
	EscrowAddress   string
	RPCTimeout      time.Duration
	PollInterval    time.Duration
}

type AccountsConfig struct {
	SenderKey    string
	RecipientKey string
	RelayerKey   string
}

type PaymentConfig struct {
	Token           string
	Amount          decimal.Decimal
	ExpirySeconds   uint64
	MinAttestations uint64
	PaymentID       string
	Secret          string
}

type FundingConfig struct {
	NativeAmount decimal.Decimal
	TokenAmount  decimal.Decimal
}

type RelayerConfig struct {
	URL               string
	HMACSecret        string
	HTTPPort          int
	HMACClockSkew     time.Duration
	IdempotencyWindow time.Duration
}

// Keys understood by Load. They double as environment variable names.
const (
	KeyNetwork           = "NETWORK"
	KeyRPCURL            = "RPC_URL"
	KeyRegistryAddress   = "REGISTRY_ADDRESS"
	KeyEscrowAddress     = "ESCROW_ADDRESS"
	KeyDeploymentsPath   = "DEPLOYMENTS_PATH"
	KeyRPCTimeout        = "RPC_TIMEOUT_SECONDS"
	KeyPollInterval      = "POLL_INTERVAL_SECONDS"
	KeyPrivateKey        = "PRIVATE_KEY"
	KeyRecipientKey      = "RECIPIENT_PRIVATE_KEY"
	KeyRelayerKey        = "RELAYER_PRIVATE_KEY"
	KeyEscrowToken       = "ESCROW_TOKEN"
	KeyEscrowAmount      = "ESCROW_AMOUNT"
	KeyExpirySeconds     = "EXPIRY_SECONDS"
	KeyMinAttestations   = "MIN_ATTESTATIONS"
	KeyPaymentID         = "PAYMENT_ID"
	KeySecret            = "SECRET"
	KeyFundNativeAmount  = "FUND_NATIVE_AMOUNT"
	KeyFundTokenAmount   = "FUND_TOKEN_AMOUNT"
	KeyRelayerURL        = "RELAYER_URL"
	KeyRelayerHMACSecret = "RELAYER_HMAC_SECRET"
	KeyRelayerHTTPPort   = "RELAYER_HTTP_PORT"
	KeyHMACClockSkew     = "HMAC_CLOCK_SKEW_SECONDS"
	KeyIdempotencyWindow = "IDEMPOTENCY_WINDOW_SECONDS"
	KeyLogLevel          = "LOG_LEVEL"
)

const defaultEnvFile = ".env"

// NewViper returns a viper instance reading the process environment and,
// when it exists, a dotenv file. An empty envFile means ".env".
func NewViper(envFile string) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(KeyNetwork, Alfajores.Name)
	v.SetDefault(KeyRPCTimeout, 60)
	v.SetDefault(KeyPollInterval, 2)
	v.SetDefault(KeyEscrowToken, "cUSD")
	v.SetDefault(KeyEscrowAmount, "0.1")
	v.SetDefault(KeyExpirySeconds, 300)
	v.SetDefault(KeyMinAttestations, 0)
	v.SetDefault(KeyFundNativeAmount, "0.01")
	v.SetDefault(KeyFundTokenAmount, "0")
	v.SetDefault(KeyRelayerHTTPPort, 3000)
	v.SetDefault(KeyHMACClockSkew, 60)
	v.SetDefault(KeyIdempotencyWindow, 3600)
	v.SetDefault(KeyLogLevel, "info")

	if envFile == "" {
		envFile = defaultEnvFile
	}
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	return v, nil
}

// Load aggregates configuration from the viper instance and the optional
// deployments file.
func Load(v *viper.Viper) (*AppConfig, error) {
	networkName := strings.ToLower(strings.TrimSpace(v.GetString(KeyNetwork)))
	network, ok := NamedNetworks[networkName]
	if !ok {
		return nil, fmt.Errorf("%w: %q (set NETWORK to alfajores or mainnet)", ErrUnknownNetwork, networkName)
	}

	amount, err := decimalValue(v, KeyEscrowAmount)
	if err != nil {
		return nil, err
	}
	fundNative, err := decimalValue(v, KeyFundNativeAmount)
	if err != nil {
		return nil, err
	}
	fundToken, err := decimalValue(v, KeyFundTokenAmount)
	if err != nil {
		return nil, err
	}

	var deployCfg *DeploymentConfig
	if path := v.GetString(KeyDeploymentsPath); path != "" {
		deployCfg, err = loadDeployments(path)
		if err != nil {
			return nil, fmt.Errorf("load deployments: %w", err)
		}
		if deployCfg.ChainID != 0 && deployCfg.ChainID != network.ChainID {
			return nil, fmt.Errorf("deployments chain id %d does not match %s (%d)", deployCfg.ChainID, network.Name, network.ChainID)
		}
	}

	chainCfg := ChainConfig{
		RPCURL:          envOr(v, KeyRPCURL, network.RPCURL),
		RegistryAddress: v.GetString(KeyRegistryAddress),
		EscrowAddress:   v.GetString(KeyEscrowAddress),
		RPCTimeout:      time.Duration(v.GetInt(KeyRPCTimeout)) * time.Second,
		PollInterval:    time.Duration(v.GetInt(KeyPollInterval)) * time.Second,
	}
	if chainCfg.EscrowAddress == "" && deployCfg != nil {
		chainCfg.EscrowAddress = deployCfg.Contracts["Escrow"]
	}

	return &AppConfig{
		Network: network,
		Chain:   chainCfg,
		Accounts: AccountsConfig{
			SenderKey:    v.GetString(KeyPrivateKey),
			RecipientKey: v.GetString(KeyRecipientKey),
			RelayerKey:   v.GetString(KeyRelayerKey),
		},
		Payment: PaymentConfig{
			Token:           v.GetString(KeyEscrowToken),
			Amount:          amount,
			ExpirySeconds:   v.GetUint64(KeyExpirySeconds),
			MinAttestations: v.GetUint64(KeyMinAttestations),
			PaymentID:       v.GetString(KeyPaymentID),
			Secret:          v.GetString(KeySecret),
		},
		Funding: FundingConfig{
			NativeAmount: fundNative,
			TokenAmount:  fundToken,
		},
		Relayer: RelayerConfig{
			URL:               v.GetString(KeyRelayerURL),
			HMACSecret:        v.GetString(KeyRelayerHMACSecret),
			HTTPPort:          v.GetInt(KeyRelayerHTTPPort),
			HMACClockSkew:     time.Duration(v.GetInt(KeyHMACClockSkew)) * time.Second,
			IdempotencyWindow: time.Duration(v.GetInt(KeyIdempotencyWindow)) * time.Second,
		},
		Deployment: deployCfg,
		LogLevel:   v.GetString(KeyLogLevel),
	}, nil
}

// Require fails with ErrMissingConfig naming every absent key.
func Require(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

// RequireSender checks the keys needed to deposit, revoke or list payments.
func (c *AppConfig) RequireSender() error {
	return Require(KeyPrivateKey, c.Accounts.SenderKey)
}

// RequireClaim checks the keys needed for a claim-only run.
func (c *AppConfig) RequireClaim() error {
	return Require(
		KeyRecipientKey, c.Accounts.RecipientKey,
		KeyPaymentID, c.Payment.PaymentID,
		KeySecret, c.Payment.Secret,
	)
}

// RequireRelayer checks the keys needed to fund recipients.
func (c *AppConfig) RequireRelayer() error {
	return Require(KeyRelayerKey, c.Accounts.RelayerKey)
}

// CheckChainID fails when the RPC endpoint serves a different chain than the
// configured network.
func (c *AppConfig) CheckChainID(got int64) error {
	if got != c.Network.ChainID {
		return fmt.Errorf("rpc %s reports chain id %d, expected %d for %s", c.Chain.RPCURL, got, c.Network.ChainID, c.Network.Name)
	}
	return nil
}

// ContractOverride returns the deployments.json address for name, if any.
func (c *AppConfig) ContractOverride(name string) string {
	if c.Deployment == nil {
		return ""
	}
	return c.Deployment.Contracts[name]
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decimalValue(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid %s %q: must not be negative", key, raw)
	}
	if _, err := escrow.ExactWei(d); err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envOr(v *viper.Viper, key, fallback string) string {
	if val := strings.TrimSpace(v.GetString(key)); val != "" {
		return val
	}
	return fallback
}
