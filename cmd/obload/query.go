package main

import (
	"encoding/json"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/spf13/cobra"

	"github.com/gateway-fm/openbook-loadgen/internal/trading"
	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// orderView is the printed form of a resting order.
type orderView struct {
	ID          string `json:"id"`
	ClientID    uint64 `json:"client_id"`
	Side        string `json:"side"`
	LockedPrice int64  `json:"locked_price"`
	Price       string `json:"price"`
}

func newOrderView(o trading.PricedOrder) orderView {
	return orderView{
		ID:          formatOrderID(o.ID),
		ClientID:    o.ClientID,
		Side:        o.Side().String(),
		LockedPrice: o.LockedPrice,
		Price:       o.Price.String(),
	}
}

func (cli *CLI) marketsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "markets",
		Short: "List every market of the program",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := cli.newDeps()
			if err != nil {
				return err
			}
			ex, err := cli.exchange(d)
			if err != nil {
				return err
			}
			markets, err := d.actions.GetMarkets(cmd.Context(), ex)
			if err != nil {
				return err
			}
			return printJSON(cmd, markets)
		},
	}
}

func (cli *CLI) openOrdersCmd() *cobra.Command {
	var accounts bool
	cmd := &cobra.Command{
		Use:   "open-orders",
		Short: "List the resting orders of the open-orders account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := cli.newDeps()
			if err != nil {
				return err
			}
			ex, err := cli.exchange(d)
			if err != nil {
				return err
			}

			if accounts {
				market, err := cli.market()
				if err != nil {
					return err
				}
				addrs, err := d.actions.GetMarketOpenOrders(ctx, ex, ex.Wallet(), market)
				if err != nil {
					return err
				}
				return printJSON(cmd, addrs)
			}

			openOrders, err := requireKey("open-orders", cli.cfg.OpenOrders)
			if err != nil {
				return err
			}
			orders, err := d.actions.GetUserOpenOrdersWithPrices(ctx, ex, openOrders)
			if err != nil {
				return err
			}
			views := make([]orderView, 0, len(orders))
			for _, o := range orders {
				views = append(views, newOrderView(o))
			}
			return printJSON(cmd, views)
		},
	}
	cmd.Flags().BoolVar(&accounts, "accounts", false, "list the wallet's open-orders accounts on the market instead")
	return cmd
}

func (cli *CLI) freeBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "free-balance",
		Short: "Show the unsettled balances of the open-orders account",
		RunE: func(cmd *cobra.Command, args []string) error {
			openOrders, err := requireKey("open-orders", cli.cfg.OpenOrders)
			if err != nil {
				return err
			}
			d, err := cli.newDeps()
			if err != nil {
				return err
			}
			ex, err := cli.exchange(d)
			if err != nil {
				return err
			}
			fb, err := d.actions.GetOpenOrdersFreeBalances(cmd.Context(), ex, openOrders)
			if err != nil {
				return err
			}
			return printJSON(cmd, fb)
		},
	}
}

func (cli *CLI) marketTotalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "market-totals",
		Short: "Show the lots locked in the wallet's open-orders accounts on the market",
		RunE: func(cmd *cobra.Command, args []string) error {
			market, err := cli.market()
			if err != nil {
				return err
			}
			d, err := cli.newDeps()
			if err != nil {
				return err
			}
			ex, err := cli.exchange(d)
			if err != nil {
				return err
			}
			totals, err := d.actions.GetTotalAmountsForOpenOrders(cmd.Context(), ex, ex.Wallet(), market)
			if err != nil {
				return err
			}
			return printJSON(cmd, totals)
		},
	}
}

func (cli *CLI) historyCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or show one run with its markets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := cli.openStore()
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("run history is disabled")
			}
			defer store.Close()

			if len(args) == 0 {
				list, err := store.ListRuns(ctx, limit, offset)
				if err != nil {
					return err
				}
				return printJSON(cmd, list)
			}

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			markets, err := store.ListMarkets(ctx, run.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd, types.RunDetail{RunSummary: *run, Markets: markets})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatOrderID(id bin.Uint128) string {
	n := new(big.Int).SetUint64(id.Hi)
	n.Lsh(n, 64)
	n.Or(n, new(big.Int).SetUint64(id.Lo))
	return n.String()
}
