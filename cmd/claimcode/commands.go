package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"claimcode/internal/config"
	"claimcode/internal/credential"
	"claimcode/internal/escrow"
	"claimcode/internal/protocol"
	"claimcode/internal/relayer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

func runKeys(_ context.Context, args []string) error {
	fs := newFlagSet("keys")
	mnemonic := fs.String("mnemonic", "", "derive from an existing mnemonic instead of a fresh one")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		cred *credential.Credential
		err  error
	)
	if *mnemonic != "" {
		cred, err = credential.FromMnemonic(*mnemonic)
	} else {
		cred, err = credential.Generate()
	}
	if err != nil {
		return err
	}

	fmt.Printf("MNEMONIC=%q\n", cred.Mnemonic)
	fmt.Printf("PAYMENT_ID=%s\n", cred.PaymentID.Hex())
	fmt.Printf("SECRET=%s\n", cred.SecretHex())
	return nil
}

func runBalances(ctx context.Context, args []string) error {
	fs := newFlagSet("balances")
	addresses := fs.StringSlice("address", nil, "addresses to report (default: configured accounts)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}

	type labelled struct {
		label string
		addr  common.Address
	}
	var targets []labelled
	for _, a := range *addresses {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("invalid address %q", a)
		}
		targets = append(targets, labelled{label: "address", addr: common.HexToAddress(a)})
	}
	if len(targets) == 0 {
		for _, k := range []struct{ label, key string }{
			{"sender", cfg.Accounts.SenderKey},
			{"recipient", cfg.Accounts.RecipientKey},
			{"relayer", cfg.Accounts.RelayerKey},
		} {
			if k.key == "" {
				continue
			}
			acct, err := parseAccount(k.label, k.key)
			if err != nil {
				return err
			}
			targets = append(targets, labelled{label: k.label, addr: acct.Address})
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: pass --address or set %s", config.ErrMissingConfig, config.KeyPrivateKey)
	}

	e, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ACCOUNT\tADDRESS\tCELO\t%s\n", e.session.Token())
	for _, t := range targets {
		bal, err := e.session.Balances(ctx, t.addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.label, t.addr.Hex(), bal.Native.String(), bal.Token.String())
	}
	return w.Flush()
}

func runDeposit(ctx context.Context, args []string) error {
	fs := newFlagSet("deposit")
	amount := fs.String("amount", "", "amount to escrow (default ESCROW_AMOUNT)")
	expiry := fs.Uint64("expiry", 0, "seconds until the sender may revoke (default EXPIRY_SECONDS)")
	identifier := fs.String("identifier", "", "optional recipient identifier, e.g. a phone number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	if err := cfg.RequireSender(); err != nil {
		return err
	}
	sender, err := parseAccount(config.KeyPrivateKey, cfg.Accounts.SenderKey)
	if err != nil {
		return err
	}
	req, err := depositRequest(cfg, *amount, *expiry, *identifier)
	if err != nil {
		return err
	}

	e, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	cred, err := e.session.NewCredential()
	if err != nil {
		return err
	}
	req.PaymentID = cred.PaymentID

	dep, err := e.session.Deposit(ctx, sender, req)
	if err != nil {
		return err
	}

	fmt.Printf("deposited %s %s (tx %s)\n", escrow.FromWei(dep.Amount).String(), e.session.Token(), dep.TransferTx.Hash.Hex())
	fmt.Println("hand these to the recipient:")
	fmt.Printf("PAYMENT_ID=%s\n", cred.PaymentID.Hex())
	fmt.Printf("SECRET=%s\n", cred.SecretHex())
	return nil
}

func depositRequest(cfg *config.AppConfig, amount string, expiry uint64, identifier string) (protocol.DepositRequest, error) {
	req := protocol.DepositRequest{
		Amount:          cfg.Payment.Amount,
		ExpirySeconds:   cfg.Payment.ExpirySeconds,
		MinAttestations: cfg.Payment.MinAttestations,
		Identifier:      identifier,
	}
	if amount != "" {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return req, fmt.Errorf("invalid --amount %q: %w", amount, err)
		}
		if _, err := escrow.ExactWei(d); err != nil {
			return req, fmt.Errorf("invalid --amount: %w", err)
		}
		req.Amount = d
	}
	if expiry != 0 {
		req.ExpirySeconds = expiry
	}
	return req, nil
}

func runClaim(ctx context.Context, args []string) error {
	fs := newFlagSet("claim")
	fund := fs.Bool("fund", false, "top up the recipient with gas before claiming")
	relayerURL := fs.String("relayer-url", "", "fund through a relayer service instead of RELAYER_PRIVATE_KEY")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	if err := cfg.RequireClaim(); err != nil {
		return err
	}
	recipient, err := parseAccount(config.KeyRecipientKey, cfg.Accounts.RecipientKey)
	if err != nil {
		return err
	}
	cred, err := credential.Parse(cfg.Payment.PaymentID, cfg.Payment.Secret)
	if err != nil {
		return err
	}
	if *relayerURL == "" {
		*relayerURL = cfg.Relayer.URL
	}

	e, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if *fund {
		fundFn, err := funder(cfg, e.session, *relayerURL)
		if err != nil {
			return err
		}
		if err := fundFn(ctx, recipient.Address); err != nil {
			return fmt.Errorf("fund recipient: %w", err)
		}
	}

	res, err := e.session.Claim(ctx, recipient, cred)
	if err != nil {
		return err
	}
	fmt.Printf("claimed %s to %s (tx %s)\n", escrow.FromWei(res.Amount).String(), res.Claimant.Hex(), res.Tx.Hash.Hex())
	return nil
}

// funder picks remote funding when a relayer URL is configured and local
// funding with RELAYER_PRIVATE_KEY otherwise.
func funder(cfg *config.AppConfig, session *protocol.Session, relayerURL string) (protocol.FundFunc, error) {
	if relayerURL != "" {
		client := relayer.NewClient(relayerURL, cfg.Relayer.HMACSecret)
		return func(ctx context.Context, recipient common.Address) error {
			resp, err := client.RequestFunding(ctx, recipient, "")
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"recipient":  resp.Address,
				"native_tx":  resp.NativeTxHash,
				"token_tx":   resp.TokenTxHash,
				"request_id": resp.RequestID,
			}).Info("relayer funded recipient")
			return nil
		}, nil
	}

	if err := cfg.RequireRelayer(); err != nil {
		return nil, err
	}
	account, err := parseAccount(config.KeyRelayerKey, cfg.Accounts.RelayerKey)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, recipient common.Address) error {
		_, err := session.FundRecipient(ctx, account, recipient, cfg.Funding.NativeAmount, cfg.Funding.TokenAmount)
		return err
	}, nil
}

func runRevoke(ctx context.Context, args []string) error {
	fs := newFlagSet("revoke")
	paymentID := fs.String("payment-id", "", "payment to revoke (default PAYMENT_ID)")
	now := fs.Bool("now", false, "submit immediately instead of waiting for expiry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	if *paymentID == "" {
		*paymentID = cfg.Payment.PaymentID
	}
	if err := config.Require(config.KeyPrivateKey, cfg.Accounts.SenderKey, config.KeyPaymentID, *paymentID); err != nil {
		return err
	}
	if !common.IsHexAddress(*paymentID) {
		return fmt.Errorf("invalid payment id %q", *paymentID)
	}
	sender, err := parseAccount(config.KeyPrivateKey, cfg.Accounts.SenderKey)
	if err != nil {
		return err
	}

	e, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	id := common.HexToAddress(*paymentID)
	var tx escrow.TxResult
	if *now {
		tx, err = e.session.RevokeNow(ctx, sender, id)
	} else {
		tx, err = e.session.Revoke(ctx, sender, id)
	}
	if err != nil {
		return err
	}
	fmt.Printf("revoked %s (tx %s)\n", id.Hex(), tx.Hash.Hex())
	return nil
}

func runSent(ctx context.Context, args []string) error {
	fs := newFlagSet("sent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	if err := cfg.RequireSender(); err != nil {
		return err
	}
	sender, err := parseAccount(config.KeyPrivateKey, cfg.Accounts.SenderKey)
	if err != nil {
		return err
	}

	e, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	payments, err := e.session.SentPayments(ctx, sender.Address)
	if err != nil {
		return err
	}
	if len(payments) == 0 {
		fmt.Println("no outstanding payments")
		return nil
	}
	printPayments(payments)
	return nil
}

func printPayments(payments []escrow.EscrowedPayment) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PAYMENT ID\tTOKEN\tAMOUNT\tSENT\tREVOCABLE AT")
	for _, p := range payments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.PaymentID.Hex(),
			p.Token.Hex(),
			escrow.FromWei(p.Value).String(),
			p.Timestamp.Format(time.RFC3339),
			p.ExpiresAt().Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}
