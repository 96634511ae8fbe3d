package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"claimcode/internal/claim"
	"claimcode/internal/contracts"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
)

const defaultPollInterval = 2 * time.Second

// EthClient talks to the escrow and token contracts over JSON-RPC.
type EthClient struct {
	client       *ethclient.Client
	chainID      *big.Int
	registry     common.Address
	registryABI  abi.ABI
	escrowABI    abi.ABI
	erc20ABI     abi.ABI
	pollInterval time.Duration

	mu        sync.Mutex
	addresses map[string]common.Address
}

type EthClientConfig struct {
	RPCURL          string
	RegistryAddress string
	EscrowAddress   string
	// Contracts holds registry-id -> address overrides.
	Contracts    map[string]string
	PollInterval time.Duration
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	registryABI, err := abi.JSON(strings.NewReader(string(contracts.RegistryABI)))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	escrowABI, err := abi.JSON(strings.NewReader(string(contracts.EscrowABI)))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(string(contracts.ERC20ABI)))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	registry := common.HexToAddress(contracts.RegistryAddress)
	if cfg.RegistryAddress != "" {
		if !common.IsHexAddress(cfg.RegistryAddress) {
			return nil, fmt.Errorf("invalid registry address %q", cfg.RegistryAddress)
		}
		registry = common.HexToAddress(cfg.RegistryAddress)
	}

	addresses := make(map[string]common.Address)
	for name, addr := range cfg.Contracts {
		if addr == "" {
			continue
		}
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid %s address %q", name, addr)
		}
		addresses[name] = common.HexToAddress(addr)
	}
	if cfg.EscrowAddress != "" {
		if !common.IsHexAddress(cfg.EscrowAddress) {
			return nil, fmt.Errorf("invalid escrow address %q", cfg.EscrowAddress)
		}
		addresses[contracts.EscrowRegistryID] = common.HexToAddress(cfg.EscrowAddress)
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	return &EthClient{
		client:       cli,
		chainID:      chainID,
		registry:     registry,
		registryABI:  registryABI,
		escrowABI:    escrowABI,
		erc20ABI:     erc20ABI,
		pollInterval: poll,
		addresses:    addresses,
	}, nil
}

func (c *EthClient) Close() {
	c.client.Close()
}

// ChainID returns the id reported by the node.
func (c *EthClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

func (c *EthClient) EscrowAddress(ctx context.Context) (common.Address, error) {
	return c.resolve(ctx, contracts.EscrowRegistryID)
}

func (c *EthClient) TokenAddress(ctx context.Context, symbol string) (common.Address, error) {
	id, ok := RegistryID(symbol)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return c.resolve(ctx, id)
}

// resolve looks a core contract up in the registry once and caches it.
func (c *EthClient) resolve(ctx context.Context, id string) (common.Address, error) {
	c.mu.Lock()
	addr, ok := c.addresses[id]
	c.mu.Unlock()
	if ok {
		return addr, nil
	}

	out, err := c.call(ctx, c.registry, c.registryABI, "getAddressForString", id)
	if err != nil {
		return common.Address{}, fmt.Errorf("registry lookup %s: %w", id, err)
	}
	addr = out[0].(common.Address)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("registry has no address for %s", id)
	}

	c.mu.Lock()
	c.addresses[id] = addr
	c.mu.Unlock()
	return addr, nil
}

func (c *EthClient) Approve(ctx context.Context, owner Account, token, spender common.Address, amount *big.Int) (TxResult, error) {
	return c.transact(ctx, owner, token, c.erc20ABI, "approve", spender, amount)
}

func (c *EthClient) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, c.erc20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *EthClient) Transfer(ctx context.Context, sender Account, req TransferRequest) (TxResult, error) {
	if err := validateTransfer(req); err != nil {
		return TxResult{}, err
	}
	escrowAddr, err := c.EscrowAddress(ctx)
	if err != nil {
		return TxResult{}, err
	}
	return c.transact(ctx, sender, escrowAddr, c.escrowABI, "transfer",
		req.Identifier,
		req.Token,
		req.Amount,
		new(big.Int).SetUint64(req.ExpirySeconds),
		req.PaymentID,
		new(big.Int).SetUint64(req.MinAttestations),
	)
}

func (c *EthClient) Withdraw(ctx context.Context, claimant Account, paymentID common.Address, sig claim.Signature) (TxResult, error) {
	escrowAddr, err := c.EscrowAddress(ctx)
	if err != nil {
		return TxResult{}, err
	}
	return c.transact(ctx, claimant, escrowAddr, c.escrowABI, "withdraw", paymentID, sig.V, sig.R, sig.S)
}

func (c *EthClient) Revoke(ctx context.Context, sender Account, paymentID common.Address) (TxResult, error) {
	escrowAddr, err := c.EscrowAddress(ctx)
	if err != nil {
		return TxResult{}, err
	}
	return c.transact(ctx, sender, escrowAddr, c.escrowABI, "revoke", paymentID)
}

func (c *EthClient) EscrowedPayment(ctx context.Context, paymentID common.Address) (EscrowedPayment, error) {
	escrowAddr, err := c.EscrowAddress(ctx)
	if err != nil {
		return EscrowedPayment{}, err
	}
	out, err := c.call(ctx, escrowAddr, c.escrowABI, "escrowedPayments", paymentID)
	if err != nil {
		return EscrowedPayment{}, err
	}
	payment := EscrowedPayment{
		PaymentID:           paymentID,
		RecipientIdentifier: out[0].([32]byte),
		Sender:              out[1].(common.Address),
		Token:               out[2].(common.Address),
		Value:               out[3].(*big.Int),
		SentIndex:           out[4].(*big.Int).Uint64(),
		ReceivedIndex:       out[5].(*big.Int).Uint64(),
		Timestamp:           time.Unix(out[6].(*big.Int).Int64(), 0).UTC(),
		ExpirySeconds:       out[7].(*big.Int).Uint64(),
		MinAttestations:     out[8].(*big.Int).Uint64(),
	}
	if payment.Sender == (common.Address{}) {
		return EscrowedPayment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID.Hex())
	}
	return payment, nil
}

func (c *EthClient) SentPaymentIDs(ctx context.Context, sender common.Address) ([]common.Address, error) {
	escrowAddr, err := c.EscrowAddress(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, escrowAddr, c.escrowABI, "getSentPaymentIds", sender)
	if err != nil {
		return nil, err
	}
	return out[0].([]common.Address), nil
}

func (c *EthClient) ReceivedPaymentIDs(ctx context.Context, identifier [32]byte) ([]common.Address, error) {
	escrowAddr, err := c.EscrowAddress(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, escrowAddr, c.escrowABI, "getReceivedPaymentIds", identifier)
	if err != nil {
		return nil, err
	}
	return out[0].([]common.Address), nil
}

func (c *EthClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, c.erc20ABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *EthClient) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	bal, err := c.client.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("native balance: %w", err)
	}
	return bal, nil
}

func (c *EthClient) TransferToken(ctx context.Context, from Account, token, to common.Address, amount *big.Int) (TxResult, error) {
	return c.transact(ctx, from, token, c.erc20ABI, "transfer", to, amount)
}

func (c *EthClient) TransferNative(ctx context.Context, from Account, to common.Address, amount *big.Int) (TxResult, error) {
	opts, err := c.transactor(ctx, from)
	if err != nil {
		return TxResult{}, err
	}
	opts.Value = amount
	// Plain value transfer to an externally owned account.
	opts.GasLimit = params.TxGas

	bound := bind.NewBoundContract(to, abi.ABI{}, c.client, c.client, c.client)
	tx, err := bound.Transfer(opts)
	if err != nil {
		return TxResult{}, classify("native transfer tx", err)
	}
	return c.confirm(ctx, "native transfer", tx)
}

func (c *EthClient) ChainTime(ctx context.Context) (time.Time, error) {
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest header: %w", err)
	}
	return time.Unix(int64(head.Time), 0).UTC(), nil
}

func (c *EthClient) transactor(ctx context.Context, from Account) (*bind.TransactOpts, error) {
	if from.Key == nil {
		return nil, fmt.Errorf("account %s has no signing key", from.Address.Hex())
	}
	opts, err := bind.NewKeyedTransactorWithChainID(from.Key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = 0 // let node estimate
	return opts, nil
}

func (c *EthClient) transact(ctx context.Context, from Account, contract common.Address, parsed abi.ABI, method string, args ...interface{}) (TxResult, error) {
	opts, err := c.transactor(ctx, from)
	if err != nil {
		return TxResult{}, err
	}
	bound := bind.NewBoundContract(contract, parsed, c.client, c.client, c.client)
	tx, err := bound.Transact(opts, method, args...)
	if err != nil {
		return TxResult{}, classify(method+" tx", err)
	}
	return c.confirm(ctx, method, tx)
}

func (c *EthClient) confirm(ctx context.Context, op string, tx *types.Transaction) (TxResult, error) {
	receipt, err := WaitForReceipt(ctx, c.client, tx, c.pollInterval)
	if err != nil {
		return TxResult{}, fmt.Errorf("%s %s: wait receipt: %w", op, tx.Hash().Hex(), err)
	}
	result := TxResult{
		Hash:        tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return result, fmt.Errorf("%s %s: %w", op, tx.Hash().Hex(), ErrTxReverted)
	}
	return result, nil
}

func (c *EthClient) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	bound := bind.NewBoundContract(contract, parsed, c.client, c.client, c.client)
	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, classify(method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func validateTransfer(req TransferRequest) error {
	switch {
	case req.Token == (common.Address{}):
		return fmt.Errorf("%w: token required", ErrInvalidTransfer)
	case req.Amount == nil || req.Amount.Sign() <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	case req.ExpirySeconds == 0:
		return fmt.Errorf("%w: expiry must be positive", ErrInvalidTransfer)
	case req.PaymentID == (common.Address{}):
		return fmt.Errorf("%w: payment id required", ErrInvalidTransfer)
	case req.Identifier == [32]byte{} && req.MinAttestations != 0:
		return fmt.Errorf("%w: attestations require an identifier", ErrInvalidTransfer)
	}
	return nil
}

// ReceiptReader is the part of ethclient WaitForReceipt needs.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WaitForReceipt polls until the transaction is mined or context cancelled.
func WaitForReceipt(ctx context.Context, client ReceiptReader, tx *types.Transaction, interval time.Duration) (*types.Receipt, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
