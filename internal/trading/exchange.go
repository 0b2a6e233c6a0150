package trading

import (
	"context"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/chain"
	"github.com/gateway-fm/openbook-loadgen/internal/openbook"
)

// Exchange is an OpenBook client bound to one wallet.
type Exchange interface {
	Wallet() solana.PublicKey

	CreateMarket(ctx context.Context, p openbook.CreateMarketParams) (solana.PublicKey, solana.Signature, error)
	CreateOpenOrders(ctx context.Context, market solana.PublicKey, name string) (solana.PublicKey, error)

	PlaceOrder(ctx context.Context, m *openbook.Market, openOrders solana.PublicKey, args openbook.PlaceOrderArgs) (solana.Signature, error)
	PlaceTakeOrder(ctx context.Context, m *openbook.Market, args openbook.PlaceTakeOrderArgs) (solana.Signature, error)
	CancelOrder(ctx context.Context, m *openbook.Market, openOrders solana.PublicKey, orderID bin.Uint128) (solana.Signature, error)
	CancelAllOrders(ctx context.Context, m *openbook.Market, openOrders solana.PublicKey, side *openbook.Side, limit uint8) (solana.Signature, error)
	ConsumeEvents(ctx context.Context, m *openbook.Market, limit uint64, openOrders []solana.PublicKey) (solana.Signature, error)
	SettleFunds(ctx context.Context, m *openbook.Market, openOrders solana.PublicKey) (solana.Signature, error)
	Deposit(ctx context.Context, m *openbook.Market, openOrders solana.PublicKey, base, quote uint64) (solana.Signature, error)

	FetchMarket(ctx context.Context, address solana.PublicKey) (*openbook.Market, error)
	FetchOpenOrders(ctx context.Context, address solana.PublicKey) (*openbook.OpenOrdersAccount, error)
	FindOpenOrdersForMarket(ctx context.Context, owner, market solana.PublicKey) ([]solana.PublicKey, error)
	FindAllMarkets(ctx context.Context) ([]openbook.MarketSummary, error)
}

var _ Exchange = (*openbook.Client)(nil)

// Chain funds actors, deploys tokens and reads token balances.
type Chain interface {
	CreateAccountWithBalance(ctx context.Context, sol float64) (solana.PrivateKey, error)
	CreateToken(ctx context.Context, payers []solana.PrivateKey, decimals uint8, mintAmount uint64) (*chain.Token, error)
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
}

var _ Chain = (*chain.Client)(nil)

// ClientFactory returns an Exchange signing with wallet.
type ClientFactory func(wallet solana.PrivateKey) Exchange

// OpenBookClients returns a factory of OpenBook clients sharing one chain connection.
func OpenBookClients(ch openbook.Chain, programID solana.PublicKey, logger *zap.Logger) ClientFactory {
	return func(wallet solana.PrivateKey) Exchange {
		return openbook.NewClient(ch, programID, wallet, logger)
	}
}
