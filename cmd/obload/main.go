// Command obload drives load and one-shot instructions against an OpenBook v2
// deployment and serves the resulting metrics and run history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/config"
	"github.com/gateway-fm/openbook-loadgen/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewCLI().Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// CLI is the cobra command tree. Configuration and the logger are loaded
// once before any subcommand runs.
type CLI struct {
	root *cobra.Command
	v    *viper.Viper

	envFile    string
	configFile string

	cfg    *config.Config
	logger *zap.Logger

	closers []func() error
}

// NewCLI builds the command tree.
func NewCLI() *CLI {
	cli := &CLI{v: viper.New()}
	cli.root = &cobra.Command{
		Use:           "obload",
		Short:         "OpenBook v2 load generator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cli.v, cli.envFile, cli.configFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			cli.cfg = cfg
			cli.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cli.logger != nil {
				_ = cli.logger.Sync()
			}
		},
	}

	flags := cli.root.PersistentFlags()
	flags.StringVar(&cli.envFile, "env-file", "", "dotenv file (default .env)")
	flags.StringVar(&cli.configFile, "config", "", "config file (yaml, toml or json)")
	flags.String("rpc-url", config.DefaultRPCURL, "Solana RPC URL")
	flags.String("ws-url", config.AutoWSURL, `Solana websocket URL for signature subscriptions ("auto" derives it from --rpc-url, "" polls)`)
	flags.String("program-id", config.DefaultProgramID, "OpenBook v2 program id")
	flags.String("market", "", "market address for one-shot commands")
	flags.String("open-orders", "", "open-orders account for one-shot commands")
	flags.String("wallet", config.DefaultWalletPath, "keypair file used when no maker key is set")
	flags.Float64("tx-rate", 0, "transactions per second, 0 = unpaced")
	flags.String("listen", config.DefaultListenAddr, "HTTP listen address")
	flags.String("database", config.DefaultDatabasePath, "SQLite run history path, empty disables history")
	flags.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("log-format", config.DefaultLogFormat, "log format (console, json)")
	cli.bind(flags, map[string]string{
		"rpc_url":       "rpc-url",
		"ws_url":        "ws-url",
		"program_id":    "program-id",
		"market":        "market",
		"open_orders":   "open-orders",
		"wallet_path":   "wallet",
		"tx_rate":       "tx-rate",
		"listen_addr":   "listen",
		"database_path": "database",
		"log_level":     "log-level",
		"log_format":    "log-format",
	})

	cli.root.AddCommand(
		cli.tradingLoadCmd(),
		cli.limitOrdersCmd(),
		cli.serveCmd(),
		cli.createMarketCmd(),
		cli.createOpenOrdersCmd(),
		cli.placeOrderCmd(),
		cli.placeTakeOrderCmd(),
		cli.cancelOrderCmd(),
		cli.cancelAllOrdersCmd(),
		cli.consumeSettleCmd(),
		cli.depositCmd(),
		cli.marketsCmd(),
		cli.openOrdersCmd(),
		cli.freeBalanceCmd(),
		cli.marketTotalsCmd(),
		cli.historyCmd(),
	)
	return cli
}

// Execute runs the command selected by os.Args.
func (cli *CLI) Execute(ctx context.Context) error {
	err := cli.root.ExecuteContext(ctx)
	for _, closeFn := range cli.closers {
		_ = closeFn()
	}
	return err
}

// bind maps config keys to flags so that an explicitly set flag wins over
// env and config file values.
func (cli *CLI) bind(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := cli.v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}
