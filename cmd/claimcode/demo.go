package main

import (
	"context"
	"fmt"

	"claimcode/internal/config"
	"claimcode/internal/escrow"
	"claimcode/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

func runDemo(ctx context.Context, args []string) error {
	fs := newFlagSet("demo")
	simulate := fs.Bool("simulate", false, "run against an in-memory chain with throwaway accounts")
	amount := fs.String("amount", "", "amount to escrow (default ESCROW_AMOUNT)")
	expiry := fs.Uint64("expiry", 0, "seconds until the sender may revoke (default EXPIRY_SECONDS)")
	relayerURL := fs.String("relayer-url", "", "fund through a relayer service")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	req, err := depositRequest(cfg, *amount, *expiry, "")
	if err != nil {
		return err
	}

	var (
		e                 *env
		sender, recipient escrow.Account
		fund              protocol.FundFunc
	)
	if *simulate {
		e, sender, recipient, fund, err = simulatedEnv(cfg, req.Amount)
	} else {
		e, sender, recipient, fund, err = liveEnv(ctx, cfg, *relayerURL)
	}
	if err != nil {
		return err
	}
	defer e.Close()

	flow := protocol.Flow{Session: e.session, Sender: sender, Recipient: recipient, Fund: fund}
	res, err := flow.Run(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("payment %s claimed by %s (tx %s)\n", res.Claim.PaymentID.Hex(), res.Claim.Claimant.Hex(), res.Claim.Tx.Hash.Hex())
	for _, acct := range []struct {
		label string
		addr  common.Address
	}{{"sender", sender.Address}, {"recipient", recipient.Address}} {
		bal, err := e.session.Balances(ctx, acct.addr)
		if err != nil {
			return err
		}
		fmt.Printf("%-9s %s CELO=%s %s=%s\n", acct.label, acct.addr.Hex(), bal.Native.String(), bal.Symbol, bal.Token.String())
	}
	return nil
}

func liveEnv(ctx context.Context, cfg *config.AppConfig, relayerURL string) (*env, escrow.Account, escrow.Account, protocol.FundFunc, error) {
	var none escrow.Account
	if relayerURL == "" {
		relayerURL = cfg.Relayer.URL
	}
	if err := config.Require(
		config.KeyPrivateKey, cfg.Accounts.SenderKey,
		config.KeyRecipientKey, cfg.Accounts.RecipientKey,
	); err != nil {
		return nil, none, none, nil, err
	}
	sender, err := parseAccount(config.KeyPrivateKey, cfg.Accounts.SenderKey)
	if err != nil {
		return nil, none, none, nil, err
	}
	recipient, err := parseAccount(config.KeyRecipientKey, cfg.Accounts.RecipientKey)
	if err != nil {
		return nil, none, none, nil, err
	}

	e, err := connect(ctx, cfg)
	if err != nil {
		return nil, none, none, nil, err
	}
	var fund protocol.FundFunc
	if relayerURL != "" || cfg.Accounts.RelayerKey != "" {
		fund, err = funder(cfg, e.session, relayerURL)
		if err != nil {
			e.Close()
			return nil, none, none, nil, err
		}
	}
	return e, sender, recipient, fund, nil
}

// simulatedEnv funds a throwaway sender and relayer on a Simulator. The
// recipient starts empty so the funding step is exercised.
func simulatedEnv(cfg *config.AppConfig, amount decimal.Decimal) (*env, escrow.Account, escrow.Account, protocol.FundFunc, error) {
	var none escrow.Account
	sim := escrow.NewSimulator()

	var accts [3]escrow.Account
	for i := range accts {
		acct, err := escrow.GenerateAccount()
		if err != nil {
			return nil, none, none, nil, err
		}
		accts[i] = acct
	}
	sender, recipient, relayerAcct := accts[0], accts[1], accts[2]

	stake := escrow.ToWei(amount.Add(decimal.NewFromInt(1)))
	sim.Fund(sender.Address, stake)
	sim.Fund(relayerAcct.Address, stake)
	if err := sim.Mint(escrow.TokenCUSD, sender.Address, stake); err != nil {
		return nil, none, none, nil, err
	}
	if err := sim.Mint(escrow.TokenCUSD, relayerAcct.Address, stake); err != nil {
		return nil, none, none, nil, err
	}
	log.WithFields(log.Fields{
		"sender":    sender.Address.Hex(),
		"recipient": recipient.Address.Hex(),
		"relayer":   relayerAcct.Address.Hex(),
	}).Info("simulated chain ready")

	e, err := newEnv(cfg, sim)
	if err != nil {
		return nil, none, none, nil, err
	}
	native := cfg.Funding.NativeAmount
	if !native.IsPositive() {
		native = decimal.RequireFromString("0.01")
	}
	fund := func(ctx context.Context, to common.Address) error {
		_, err := e.session.FundRecipient(ctx, relayerAcct, to, native, cfg.Funding.TokenAmount)
		return err
	}
	return e, sender, recipient, fund, nil
}
