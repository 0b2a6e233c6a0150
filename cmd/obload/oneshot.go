package main

import (
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/openbook"
	"github.com/gateway-fm/openbook-loadgen/internal/trading"
)

// Token amounts minted to the wallet by create-market.
const createMarketMintAmount = 1000

// market returns the configured market address.
func (cli *CLI) market() (solana.PublicKey, error) {
	return requireKey("market", cli.cfg.Market)
}

// marketAndOpenOrders returns the configured market and open-orders account.
func (cli *CLI) marketAndOpenOrders() (market, openOrders solana.PublicKey, err error) {
	if market, err = cli.market(); err != nil {
		return
	}
	openOrders, err = requireKey("open-orders", cli.cfg.OpenOrders)
	return
}

func (cli *CLI) createMarketCmd() *cobra.Command {
	var (
		name                      string
		quoteDecimals             uint8
		baseDecimals              uint8
		quoteLotSize, baseLotSize int64
		makerFee, takerFee        int64
	)
	cmd := &cobra.Command{
		Use:   "create-market",
		Short: "Deploy a quote and a base token and create a market for them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := cli.newDeps()
			if err != nil {
				return err
			}
			key, err := cli.wallet()
			if err != nil {
				return err
			}
			payers := []solana.PrivateKey{key}

			quoteMint, err := d.chain.DeploySPLToken(ctx, payers, quoteDecimals, createMarketMintAmount)
			if err != nil {
				return fmt.Errorf("deploy quote token: %w", err)
			}
			baseMint, err := d.chain.DeploySPLToken(ctx, payers, baseDecimals, createMarketMintAmount)
			if err != nil {
				return fmt.Errorf("deploy base token: %w", err)
			}

			maker := &trading.Maker{Key: key, Client: d.clients(key)}
			m, err := d.actions.CreateMarket(ctx, "create_market", maker, name, quoteMint, baseMint, trading.MarketParams{
				BaseLotSize:  baseLotSize,
				QuoteLotSize: quoteLotSize,
				MakerFee:     makerFee,
				TakerFee:     takerFee,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, m.Info())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&name, "name", "pSOL-TEST", "market name")
	flags.Uint8Var(&quoteDecimals, "quote-decimals", 6, "quote token decimals")
	flags.Uint8Var(&baseDecimals, "base-decimals", 9, "base token decimals")
	flags.Int64Var(&quoteLotSize, "quote-lot-size", 10000, "quote lot size in native units")
	flags.Int64Var(&baseLotSize, "base-lot-size", 1_000_000, "base lot size in native units")
	flags.Int64Var(&makerFee, "maker-fee", 1000, "maker fee in parts per million")
	flags.Int64Var(&takerFee, "taker-fee", 1000, "taker fee in parts per million")
	return cmd
}

func (cli *CLI) createOpenOrdersCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create-open-orders",
		Short: "Create an open-orders account on the configured market",
		RunE: func(cmd *cobra.Command, args []string) error {
			market, err := cli.market()
			if err != nil {
				return err
			}
			d, err := cli.newDeps()
			if err != nil {
				return err
			}
			key, err := cli.wallet()
			if err != nil {
				return err
			}
			maker := &trading.Maker{Key: key, Client: d.clients(key)}
			acc, err := d.actions.CreateOpenOrders(cmd.Context(), "create_open_orders", maker, &trading.Market{Address: market, Name: name})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"open_orders": acc.Address.String()})
		},
	}
	cmd.Flags().StringVar(&name, "name", "name", "open-orders account name")
	return cmd
}

func (cli *CLI) placeOrderCmd() *cobra.Command {
	var (
		side                      string
		price, quantity, maxQuote float64
		clientOrderID             uint64
	)
	cmd := &cobra.Command{
		Use:   "place-order",
		Short: "Place one limit order from the configured open-orders account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := parseSide(side)
			if err != nil {
				return err
			}
			market, openOrders, err := cli.marketAndOpenOrders()
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
			state, err := ex.FetchMarket(ctx, market)
			if err != nil {
				return fmt.Errorf("fetch market %s: %w", market, err)
			}

			lots := state.Lots()
			sig, err := ex.PlaceOrder(ctx, state, openOrders, openbook.PlaceOrderArgs{
				Side:                      s,
				PriceLots:                 lots.PriceToLots(decimal.NewFromFloat(price)),
				MaxBaseLots:               lots.BaseToLots(decimal.NewFromFloat(quantity)),
				MaxQuoteLotsIncludingFees: lots.QuoteToLots(decimal.NewFromFloat(maxQuote)),
				ClientOrderID:             clientOrderID,
				OrderType:                 openbook.OrderTypeLimit,
				SelfTradeBehavior:         openbook.SelfTradeDecrementTake,
				Limit:                     255,
			})
			if err != nil {
				return fmt.Errorf("place order: %w", err)
			}
			d.collector.RecordOrder(s.String(), ex.Wallet().String(), market.String(), openOrders.String())
			cli.logger.Info("order placed", zap.Stringer("signature", sig))
			return printJSON(cmd, map[string]string{"signature": sig.String()})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&side, "side", "bid", "order side (bid, ask)")
	flags.Float64Var(&price, "price", 20, "price in quote tokens per base token")
	flags.Float64Var(&quantity, "quantity", 1_000_000, "base tokens")
	flags.Float64Var(&maxQuote, "max-quote", 100, "max quote tokens including fees")
	flags.Uint64Var(&clientOrderID, "client-order-id", 123, "client order id")
	return cmd
}

func (cli *CLI) placeTakeOrderCmd() *cobra.Command {
	var (
		side                                 string
		priceLots, maxBaseLots, maxQuoteLots int64
	)
	cmd := &cobra.Command{
		Use:   "place-take-order",
		Short: "Place one market take order on the configured market",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := parseSide(side)
			if err != nil {
				return err
			}
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
			state, err := ex.FetchMarket(ctx, market)
			if err != nil {
				return fmt.Errorf("fetch market %s: %w", market, err)
			}
			sig, err := ex.PlaceTakeOrder(ctx, state, openbook.PlaceTakeOrderArgs{
				Side:                      s,
				PriceLots:                 priceLots,
				MaxBaseLots:               maxBaseLots,
				MaxQuoteLotsIncludingFees: maxQuoteLots,
				OrderType:                 openbook.OrderTypeMarket,
				Limit:                     255,
			})
			if err != nil {
				return fmt.Errorf("place take order: %w", err)
			}
			d.collector.RecordTakeOrder(s.String(), ex.Wallet().String(), state.MarketName())
			cli.logger.Info("take order placed", zap.Stringer("signature", sig))
			return printJSON(cmd, map[string]string{"signature": sig.String()})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&side, "side", "bid", "order side (bid, ask)")
	flags.Int64Var(&priceLots, "price-lots", 2000, "limit price in lots")
	flags.Int64Var(&maxBaseLots, "max-base-lots", 1000, "max base lots")
	flags.Int64Var(&maxQuoteLots, "max-quote-lots", 100_000_000, "max quote lots including fees")
	return cmd
}

func (cli *CLI) cancelOrderCmd() *cobra.Command {
	var orderID string
	cmd := &cobra.Command{
		Use:   "cancel-order",
		Short: "Cancel one resting order, by default the first one of the open-orders account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			market, openOrders, err := cli.marketAndOpenOrders()
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

			var id bin.Uint128
			if orderID != "" {
				if id, err = parseOrderID(orderID); err != nil {
					return err
				}
			} else {
				orders, err := d.actions.GetUserOpenOrders(ctx, ex, openOrders)
				if err != nil {
					return err
				}
				if len(orders) == 0 {
					return fmt.Errorf("open-orders account %s has no resting orders", openOrders)
				}
				id = orders[0].ID
			}

			sig, err := d.actions.CancelOrder(ctx, "cancel_order", ex, market, openOrders, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"signature": sig.String()})
		},
	}
	cmd.Flags().StringVar(&orderID, "order-id", "", "order id (decimal u128)")
	return cmd
}

func (cli *CLI) cancelAllOrdersCmd() *cobra.Command {
	var (
		side  string
		limit uint8
	)
	cmd := &cobra.Command{
		Use:   "cancel-all-orders",
		Short: "Cancel the resting orders of the open-orders account",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sidePtr *openbook.Side
			if side != "" {
				s, err := parseSide(side)
				if err != nil {
					return err
				}
				sidePtr = &s
			}
			market, openOrders, err := cli.marketAndOpenOrders()
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
			sig, err := d.actions.CancelAllOrders(cmd.Context(), "cancel_all_orders", ex, market, openOrders, sidePtr, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"signature": sig.String()})
		},
	}
	cmd.Flags().StringVar(&side, "side", "", "only cancel this side (bid, ask); both when empty")
	cmd.Flags().Uint8Var(&limit, "limit", 255, "max orders to cancel")
	return cmd
}

// settleReport is the consume-settle output.
type settleReport struct {
	Before         trading.FreeBalances `json:"before"`
	After          trading.FreeBalances `json:"after"`
	WalletBase     uint64               `json:"wallet_base"`
	WalletQuote    uint64               `json:"wallet_quote"`
	WalletLamports uint64               `json:"wallet_lamports"`
	SettleMillis   int64                `json:"settle_ms"`
}

func (cli *CLI) consumeSettleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume-settle",
		Short: "Consume the market events for the open-orders account and settle its funds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			market, openOrders, err := cli.marketAndOpenOrders()
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

			var report settleReport
			if report.Before, err = d.actions.GetOpenOrdersFreeBalances(ctx, ex, openOrders); err != nil {
				return err
			}
			elapsed, err := d.actions.ConsumeAndSettle(ctx, "consume_settle", ex, market, openOrders)
			if err != nil {
				return err
			}
			report.SettleMillis = elapsed.Milliseconds()
			if report.After, err = d.actions.GetOpenOrdersFreeBalances(ctx, ex, openOrders); err != nil {
				return err
			}

			state, err := ex.FetchMarket(ctx, market)
			if err != nil {
				return fmt.Errorf("fetch market %s: %w", market, err)
			}
			if report.WalletBase, err = d.chain.TokenBalance(ctx, ex.Wallet(), state.BaseMint); err != nil {
				return err
			}
			if report.WalletQuote, err = d.chain.TokenBalance(ctx, ex.Wallet(), state.QuoteMint); err != nil {
				return err
			}
			if report.WalletLamports, err = d.chain.Balance(ctx, ex.Wallet()); err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func (cli *CLI) depositCmd() *cobra.Command {
	var base, quote uint64
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit native base and quote amounts into the open-orders account",
		RunE: func(cmd *cobra.Command, args []string) error {
			market, openOrders, err := cli.marketAndOpenOrders()
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
			sig, err := d.actions.Deposit(cmd.Context(), "deposit", ex, market, openOrders, base, quote)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"signature": sig.String()})
		},
	}
	cmd.Flags().Uint64Var(&base, "base", 1000, "native base amount")
	cmd.Flags().Uint64Var(&quote, "quote", 1000, "native quote amount")
	return cmd
}

func parseSide(s string) (openbook.Side, error) {
	switch s {
	case "bid":
		return openbook.SideBid, nil
	case "ask":
		return openbook.SideAsk, nil
	default:
		return 0, fmt.Errorf("invalid side %q, want bid or ask", s)
	}
}

// parseOrderID parses a decimal u128 order id.
func parseOrderID(s string) (bin.Uint128, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 128 {
		return bin.Uint128{}, fmt.Errorf("invalid order id %q", s)
	}
	lo := new(big.Int).And(n, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(n, 64)
	return bin.Uint128{Lo: lo.Uint64(), Hi: hi.Uint64()}, nil
}
