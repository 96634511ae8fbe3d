package main

import (
	"context"
	"fmt"

	"claimcode/internal/config"
	"claimcode/internal/contracts"
	"claimcode/internal/escrow"
	"claimcode/internal/protocol"
	"claimcode/internal/scheduler"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// env is everything a subcommand needs after flags and config are parsed.
type env struct {
	cfg     *config.AppConfig
	client  escrow.Client
	session *protocol.Session
	waiter  *scheduler.ExpiryWaiter
	closeFn func()
}

func (e *env) Close() {
	if e.waiter != nil {
		e.waiter.Stop()
	}
	if e.closeFn != nil {
		e.closeFn()
	}
}

// newFlagSet returns a flag set carrying the flags every command shares.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("env-file", "", "dotenv file to read (default .env)")
	fs.String("network", "", "alfajores or mainnet")
	fs.String("token", "", "settlement token, CELO or cUSD")
	fs.String("log-level", "", "logrus level")
	return fs
}

// loadConfig builds the viper instance, binds the shared flags over the
// environment and loads the application config.
func loadConfig(fs *pflag.FlagSet) (*config.AppConfig, error) {
	envFile, _ := fs.GetString("env-file")
	v, err := config.NewViper(envFile)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(v, fs, map[string]string{
		"network":   config.KeyNetwork,
		"token":     config.KeyEscrowToken,
		"log-level": config.KeyLogLevel,
	}); err != nil {
		return nil, err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", config.KeyLogLevel, err)
	}
	log.SetLevel(level)
	return cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// connect dials the configured network and opens a session on it.
func connect(ctx context.Context, cfg *config.AppConfig) (*env, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.RPCTimeout)
	defer cancel()

	contractsOverride := map[string]string{}
	for _, name := range []string{contracts.EscrowRegistryID, contracts.GoldTokenRegistryID, contracts.StableTokenRegistryID} {
		if addr := cfg.ContractOverride(name); addr != "" {
			contractsOverride[name] = addr
		}
	}

	client, err := escrow.NewEthClient(dialCtx, escrow.EthClientConfig{
		RPCURL:          cfg.Chain.RPCURL,
		RegistryAddress: cfg.Chain.RegistryAddress,
		EscrowAddress:   cfg.Chain.EscrowAddress,
		Contracts:       contractsOverride,
		PollInterval:    cfg.Chain.PollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Network.Name, err)
	}
	if err := cfg.CheckChainID(client.ChainID().Int64()); err != nil {
		client.Close()
		return nil, err
	}
	log.WithFields(log.Fields{"network": cfg.Network.Name, "rpc": cfg.Chain.RPCURL}).Debug("connected")

	e, err := newEnv(cfg, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	e.closeFn = client.Close
	return e, nil
}

func newEnv(cfg *config.AppConfig, client escrow.Client) (*env, error) {
	waiter := scheduler.NewExpiryWaiter(client, cfg.Chain.PollInterval)
	session, err := protocol.NewSession(client, protocol.Options{
		Token:  cfg.Payment.Token,
		Waiter: waiter,
		Logger: log.WithField("network", cfg.Network.Name),
	})
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, client: client, session: session, waiter: waiter}, nil
}

func parseAccount(key, hexKey string) (escrow.Account, error) {
	acct, err := escrow.NewAccount(hexKey)
	if err != nil {
		return escrow.Account{}, fmt.Errorf("%s: %w", key, err)
	}
	return acct, nil
}
