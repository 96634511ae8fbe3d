package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"claimcode/internal/config"
	"claimcode/internal/contracts"
	"claimcode/internal/escrow"
	"claimcode/internal/idempotency"
	"claimcode/internal/protocol"
	"claimcode/internal/relayer"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	envFile := pflag.String("env-file", "", "dotenv file to read (default .env)")
	port := pflag.Int("port", 0, "listen port (default RELAYER_HTTP_PORT)")
	pflag.Parse()

	v, err := config.NewViper(*envFile)
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	if f := pflag.Lookup("port"); f != nil && *port != 0 {
		if err := v.BindPFlag(config.KeyRelayerHTTPPort, f); err != nil {
			log.WithError(err).Fatal("invalid config")
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	if err := cfg.RequireRelayer(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	log.SetLevel(level)

	account, err := escrow.NewAccount(cfg.Accounts.RelayerKey)
	if err != nil {
		log.WithError(err).Fatal("invalid relayer key")
	}
	if cfg.Relayer.HMACSecret == "" {
		log.Warnf("%s is empty, funding requests are not authenticated", config.KeyRelayerHMACSecret)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), cfg.Chain.RPCTimeout)
	ethClient, err := escrow.NewEthClient(dialCtx, escrow.EthClientConfig{
		RPCURL:          cfg.Chain.RPCURL,
		RegistryAddress: cfg.Chain.RegistryAddress,
		EscrowAddress:   cfg.Chain.EscrowAddress,
		Contracts: map[string]string{
			contracts.GoldTokenRegistryID:   cfg.ContractOverride(contracts.GoldTokenRegistryID),
			contracts.StableTokenRegistryID: cfg.ContractOverride(contracts.StableTokenRegistryID),
		},
		PollInterval: cfg.Chain.PollInterval,
	})
	cancel()
	if err != nil {
		log.WithError(err).Fatal("escrow client error")
	}
	defer ethClient.Close()
	if err := cfg.CheckChainID(ethClient.ChainID().Int64()); err != nil {
		ethClient.Close()
		log.WithError(err).Fatal("wrong network")
	}

	session, err := protocol.NewSession(ethClient, protocol.Options{
		Token:  cfg.Payment.Token,
		Logger: log.WithField("network", cfg.Network.Name),
	})
	if err != nil {
		log.WithError(err).Fatal("session error")
	}

	srv := relayer.NewServer(cfg, session, account, idempotency.NewMemoryStore())

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("relayer stopped")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
}
