package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

type command struct {
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = map[string]command{
	"keys":     {"generate a claim credential", runKeys},
	"balances": {"show CELO and settlement token balances", runBalances},
	"deposit":  {"escrow a payment under a fresh claim code", runDeposit},
	"claim":    {"withdraw a payment with PAYMENT_ID and SECRET", runClaim},
	"revoke":   {"return an expired payment to the sender", runRevoke},
	"sent":     {"list outstanding payments of the sender", runSent},
	"demo":     {"deposit, fund and claim in one run", runDemo},
}

var errUsage = errors.New("usage")

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, pflag.ErrHelp) {
			os.Exit(2)
		}
		log.WithError(err).Fatal("claimcode failed")
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage()
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		return errUsage
	}
	return cmd.run(ctx, args[1:])
}

func usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("usage: claimcode <command> [flags]\n\ncommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-9s %s\n", name, commands[name].summary)
	}
	b.WriteString("\nconfiguration is read from the environment and ./.env\n")
	fmt.Fprint(os.Stderr, b.String())
}
