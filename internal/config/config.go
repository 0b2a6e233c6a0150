// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AutoWSURL derives the websocket endpoint from rpc_url.
const AutoWSURL = "auto"

// EnvPrefix is prepended to every environment override (OBLOAD_RPC_URL, ...).
const EnvPrefix = "OBLOAD"

// Config holds load generator configuration.
type Config struct {
	RPCURL     string `mapstructure:"rpc_url"`
	WSURL      string `mapstructure:"ws_url"` // signatureSubscribe endpoint; AutoWSURL derives it, empty = poll statuses
	Commitment string `mapstructure:"commitment"`

	ProgramID  string `mapstructure:"program_id"`
	Market     string `mapstructure:"market"`
	BaseMint   string `mapstructure:"base_mint"`
	QuoteMint  string `mapstructure:"quote_mint"`
	OpenOrders string `mapstructure:"open_orders"` // maker position account used by one-shot commands

	MakerKey   string `mapstructure:"maker_pk"` // base58 secret key
	WalletPath string `mapstructure:"wallet_path"`

	ListenAddr         string `mapstructure:"listen_addr"`
	CORSAllowedOrigins string `mapstructure:"cors_allowed_origins"` // comma-separated, empty = any
	DatabasePath       string `mapstructure:"database_path"`        // empty disables run history
	LogLevel           string `mapstructure:"log_level"`
	LogFormat          string `mapstructure:"log_format"`

	TxRate         float64       `mapstructure:"tx_rate"` // transactions per second, 0 = unpaced
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MintRetries    int           `mapstructure:"mint_retries"`

	Trading TradingConfig `mapstructure:"trading"`
}

// TradingConfig holds the trading-load parameters.
type TradingConfig struct {
	Makers            int    `mapstructure:"makers"`
	Markets           int    `mapstructure:"markets"` // per maker
	AccountsPerMarket int    `mapstructure:"accounts_per_market"`
	OrdersPerAccount  int    `mapstructure:"orders_per_account"`
	Strategy          string `mapstructure:"strategy"`

	InitialAccountBalance float64 `mapstructure:"initial_account_balance"` // SOL
	TakerAccountBalance   float64 `mapstructure:"taker_account_balance"`   // SOL
	InitialMintAmount     uint64  `mapstructure:"initial_mint_amount"`     // tokens
	MarketCreationCost    float64 `mapstructure:"market_creation_cost"`    // SOL
	TokenCreationCost     float64 `mapstructure:"token_creation_cost"`     // SOL
	TokenDecimals         uint8   `mapstructure:"token_decimals"`

	TradeQuantity   float64 `mapstructure:"trade_quantity"`
	TradePrice      float64 `mapstructure:"trade_price"`
	TakerPriceLimit float64 `mapstructure:"taker_price_limit"`
	TakerMaxQuote   float64 `mapstructure:"taker_max_quote"`
	BaseLotSize     int64   `mapstructure:"base_lot_size"`  // native units
	QuoteLotSize    int64   `mapstructure:"quote_lot_size"` // native units
	MakerFee        int64   `mapstructure:"maker_fee"`      // parts per million of notional
	TakerFee        int64   `mapstructure:"taker_fee"`
	EventLimit      uint64  `mapstructure:"event_limit"`
}

// StrategyHalfSellHalfBuy has makers post every ask and takers lift them.
const StrategyHalfSellHalfBuy = "HalfSellHalfBuy"

// MaxOrdersPerAccount is the number of order slots in an open-orders account.
const MaxOrdersPerAccount = 24

// Defaults
const (
	DefaultRPCURL         = "http://localhost:8899"
	DefaultCommitment     = "confirmed"
	DefaultProgramID      = "opnb2LAfJYbRMAHHvqjCwQxanZn7ReEHp1k81EohpZb"
	DefaultWalletPath     = "~/.config/solana/id.json"
	DefaultListenAddr     = ":8080"
	DefaultDatabasePath   = "./data/obload.db"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultConfirmTimeout = 60 * time.Second
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultMintRetries    = 3

	DefaultMakers                = 2
	DefaultMarkets               = 1
	DefaultAccountsPerMarket     = 2
	DefaultOrdersPerAccount      = 2
	DefaultInitialAccountBalance = 100
	DefaultTakerAccountBalance   = 10
	DefaultInitialMintAmount     = 10000
	DefaultMarketCreationCost    = 2
	DefaultTokenCreationCost     = 0.6
	DefaultTokenDecimals         = 9
	DefaultTradeQuantity         = 10
	DefaultTradePrice            = 25
	DefaultTakerPriceLimit       = 30
	DefaultTakerMaxQuote         = 1000
	DefaultLotSize               = 1_000_000
	DefaultMakerFee              = 1000
	DefaultTakerFee              = 1000
	DefaultEventLimit            = 10
)

// SetDefaults registers every default on v so that env overrides
// and Unmarshal see the full key set.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("rpc_url", DefaultRPCURL)
	v.SetDefault("ws_url", AutoWSURL)
	v.SetDefault("commitment", DefaultCommitment)
	v.SetDefault("program_id", DefaultProgramID)
	v.SetDefault("market", "")
	v.SetDefault("base_mint", "")
	v.SetDefault("quote_mint", "")
	v.SetDefault("open_orders", "")
	v.SetDefault("maker_pk", "")
	v.SetDefault("wallet_path", DefaultWalletPath)
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("cors_allowed_origins", "")
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
	v.SetDefault("tx_rate", 0)
	v.SetDefault("confirm_timeout", DefaultConfirmTimeout)
	v.SetDefault("retry_delay", DefaultRetryDelay)
	v.SetDefault("mint_retries", DefaultMintRetries)

	v.SetDefault("trading.makers", DefaultMakers)
	v.SetDefault("trading.markets", DefaultMarkets)
	v.SetDefault("trading.accounts_per_market", DefaultAccountsPerMarket)
	v.SetDefault("trading.orders_per_account", DefaultOrdersPerAccount)
	v.SetDefault("trading.strategy", StrategyHalfSellHalfBuy)
	v.SetDefault("trading.initial_account_balance", DefaultInitialAccountBalance)
	v.SetDefault("trading.taker_account_balance", DefaultTakerAccountBalance)
	v.SetDefault("trading.initial_mint_amount", DefaultInitialMintAmount)
	v.SetDefault("trading.market_creation_cost", DefaultMarketCreationCost)
	v.SetDefault("trading.token_creation_cost", DefaultTokenCreationCost)
	v.SetDefault("trading.token_decimals", DefaultTokenDecimals)
	v.SetDefault("trading.trade_quantity", DefaultTradeQuantity)
	v.SetDefault("trading.trade_price", DefaultTradePrice)
	v.SetDefault("trading.taker_price_limit", DefaultTakerPriceLimit)
	v.SetDefault("trading.taker_max_quote", DefaultTakerMaxQuote)
	v.SetDefault("trading.base_lot_size", DefaultLotSize)
	v.SetDefault("trading.quote_lot_size", DefaultLotSize)
	v.SetDefault("trading.maker_fee", DefaultMakerFee)
	v.SetDefault("trading.taker_fee", DefaultTakerFee)
	v.SetDefault("trading.event_limit", DefaultEventLimit)
}

// Load reads configuration with the priority flags > env > config file > .env > defaults.
// Flags must already be bound to v by the caller. envPath and configFile are optional.
func Load(v *viper.Viper, envPath, configFile string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	var err error
	if envPath != "" {
		err = godotenv.Load(envPath)
	} else {
		err = godotenv.Load()
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The one-shot scripts historically read the maker key from MAKER_PK.
	if err := v.BindEnv("maker_pk", EnvPrefix+"_MAKER_PK", "MAKER_PK"); err != nil {
		return nil, fmt.Errorf("bind MAKER_PK: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.ProgramID == "" {
		return fmt.Errorf("program ID is required")
	}
	switch c.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("invalid commitment: %s", c.Commitment)
	}
	if c.TxRate < 0 {
		return fmt.Errorf("tx rate cannot be negative")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm timeout must be positive")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if c.MintRetries < 0 {
		return fmt.Errorf("mint retries cannot be negative")
	}
	return c.Trading.Validate()
}

// Validate validates the trading parameters.
func (t *TradingConfig) Validate() error {
	if t.Makers <= 0 {
		return fmt.Errorf("makers must be positive")
	}
	if t.Markets <= 0 {
		return fmt.Errorf("markets must be positive")
	}
	if t.AccountsPerMarket <= 0 {
		return fmt.Errorf("accounts per market must be positive")
	}
	if t.OrdersPerAccount < 0 || t.OrdersPerAccount >= MaxOrdersPerAccount {
		return fmt.Errorf("orders per account must be in [0, %d)", MaxOrdersPerAccount)
	}
	if t.Strategy != StrategyHalfSellHalfBuy {
		return fmt.Errorf("invalid order distribution strategy: %s", t.Strategy)
	}
	if t.TradeQuantity <= 0 || t.TradePrice <= 0 {
		return fmt.Errorf("trade quantity and price must be positive")
	}
	if t.TakerPriceLimit < t.TradePrice {
		return fmt.Errorf("taker price limit %.4f is below trade price %.4f", t.TakerPriceLimit, t.TradePrice)
	}
	if t.BaseLotSize <= 0 || t.QuoteLotSize <= 0 {
		return fmt.Errorf("lot sizes must be positive")
	}
	if t.MakerFee < 0 || t.TakerFee < 0 {
		return fmt.Errorf("fees cannot be negative")
	}
	if t.TokenDecimals > 18 {
		return fmt.Errorf("token decimals must be at most 18")
	}
	if t.EventLimit == 0 {
		return fmt.Errorf("event limit must be positive")
	}
	return nil
}

// Takers returns the number of taker actors: one per maker open-orders account.
func (t *TradingConfig) Takers() int {
	return t.Makers * t.Markets * t.AccountsPerMarket
}

// MakerFunding returns the SOL airdropped to each maker: token and market
// creation rent for every market plus the base balance.
func (t *TradingConfig) MakerFunding() float64 {
	m := float64(t.Markets)
	return 2*m*t.TokenCreationCost + m*t.MarketCreationCost + t.InitialAccountBalance
}
