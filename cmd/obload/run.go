package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/openbook-loadgen/internal/config"
	"github.com/gateway-fm/openbook-loadgen/internal/storage"
	"github.com/gateway-fm/openbook-loadgen/internal/trading"
	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// limitOrdersRecord is the configuration stored with a limit-orders run.
type limitOrdersRecord struct {
	Orders  int                  `json:"orders"`
	Trading config.TradingConfig `json:"trading"`
}

func (cli *CLI) tradingLoadCmd() *cobra.Command {
	var keepServing bool
	cmd := &cobra.Command{
		Use:   "trading-load",
		Short: "Run the maker/taker trading load and verify balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.runScenario(cmd.Context(), types.KindTradingLoad, cli.cfg.Trading, keepServing,
				func(c trading.Config) trading.Scenario { return trading.NewDriver(c) })
		},
	}

	flags := cmd.Flags()
	flags.Int("makers", config.DefaultMakers, "number of makers")
	flags.Int("markets", config.DefaultMarkets, "markets per maker")
	flags.Int("accounts-per-market", config.DefaultAccountsPerMarket, "open-orders accounts per market")
	flags.Int("orders-per-account", config.DefaultOrdersPerAccount, "asks per open-orders account")
	flags.BoolVar(&keepServing, "keep-serving", true, "keep serving metrics after the run until interrupted")
	cli.bind(flags, map[string]string{
		"trading.makers":              "makers",
		"trading.markets":             "markets",
		"trading.accounts_per_market": "accounts-per-market",
		"trading.orders_per_account":  "orders-per-account",
	})
	return cmd
}

func (cli *CLI) limitOrdersCmd() *cobra.Command {
	var (
		orders      int
		keepServing bool
	)
	cmd := &cobra.Command{
		Use:   "limit-orders",
		Short: "Fill one open-orders account with limit orders, list, take and settle them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orders <= 0 || orders >= config.MaxOrdersPerAccount {
				return fmt.Errorf("number of orders must be in [1, %d)", config.MaxOrdersPerAccount)
			}
			record := limitOrdersRecord{Orders: orders, Trading: cli.cfg.Trading}
			return cli.runScenario(cmd.Context(), types.KindLimitOrders, record, keepServing,
				func(c trading.Config) trading.Scenario { return trading.NewLimitOrdersScenario(c, orders) })
		},
	}
	cmd.Flags().IntVarP(&orders, "number-of-orders", "n", trading.DefaultLimitOrders, "orders to place")
	cmd.Flags().BoolVar(&keepServing, "keep-serving", true, "keep serving metrics after the run until interrupted")
	return cmd
}

func (cli *CLI) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve run history, health and metrics without running a scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cli.newDeps()
			if err != nil {
				return err
			}
			store, err := cli.openStore()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}
			return cli.newServer(d, store).ListenAndServe(cmd.Context(), cli.cfg.ListenAddr)
		},
	}
}

// runScenario serves the HTTP API while the Runner executes the scenario.
// A failed run stops the server; a successful one leaves it up until ctx is
// done when keepServing is set.
func (cli *CLI) runScenario(ctx context.Context, kind types.RunKind, record any, keepServing bool, build func(trading.Config) trading.Scenario) error {
	d, err := cli.newDeps()
	if err != nil {
		return err
	}
	store, err := cli.openStore()
	if err != nil {
		return err
	}
	var runStore trading.RunStore
	if store != nil {
		defer store.Close()
		runStore = store
	}

	scenario := build(trading.Config{
		Load:    trading.LoadConfigFrom(cli.cfg.Trading),
		Chain:   d.chain,
		Clients: d.clients,
		Metrics: d.collector,
		Logger:  cli.logger,
	})
	runner := trading.NewRunner(d.collector, runStore, cli.logger)
	server := cli.newServer(d, store)

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	g.Go(func() error {
		return server.ListenAndServe(serveCtx, cli.cfg.ListenAddr)
	})
	g.Go(func() error {
		summary, err := runner.Run(gctx, kind, record, scenario)
		if err != nil {
			return err
		}
		cli.logger.Info("run finished",
			zap.String("run_id", summary.ID),
			zap.Int64("duration_ms", summary.DurationMs),
			zap.Any("counts", summary.Counts),
		)
		if keepServing {
			cli.logger.Info("serving metrics until interrupted", zap.String("addr", cli.cfg.ListenAddr))
			return nil
		}
		stopServing()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

var _ trading.RunStore = (*storage.SQLiteStorage)(nil)
