package main

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gateway-fm/openbook-loadgen/internal/chain"
	"github.com/gateway-fm/openbook-loadgen/internal/config"
	"github.com/gateway-fm/openbook-loadgen/internal/metrics"
	"github.com/gateway-fm/openbook-loadgen/internal/storage"
	"github.com/gateway-fm/openbook-loadgen/internal/trading"
	"github.com/gateway-fm/openbook-loadgen/internal/transport"
)

// deps are the components shared by every command that talks to the chain.
type deps struct {
	registry  *prometheus.Registry
	collector *metrics.Collector
	chain     *chain.Client
	programID solana.PublicKey
	clients   trading.ClientFactory
	actions   *trading.Actions
}

func (cli *CLI) newDeps() (*deps, error) {
	programID, err := solana.PublicKeyFromBase58(cli.cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id %q: %w", cli.cfg.ProgramID, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(metrics.NewPrometheusMetrics(registry))

	wsURL, err := cli.wsURL()
	if err != nil {
		return nil, err
	}

	cc := chain.DefaultClientConfig(cli.cfg.RPCURL)
	cc.WSURL = wsURL
	cc.Commitment = rpc.CommitmentType(cli.cfg.Commitment)
	cc.ConfirmTimeout = cli.cfg.ConfirmTimeout
	cc.TxRate = cli.cfg.TxRate
	cc.MintRetries = cli.cfg.MintRetries
	cc.RetryDelay = cli.cfg.RetryDelay
	cc.Logger = cli.logger
	cc.Observer = collector
	ch := chain.NewClient(cc)
	cli.closers = append(cli.closers, ch.Close)

	load := trading.LoadConfigFrom(cli.cfg.Trading)
	return &deps{
		registry:  registry,
		collector: collector,
		chain:     ch,
		programID: programID,
		clients:   trading.OpenBookClients(ch, programID, cli.logger),
		actions:   trading.NewActions(load.Orders, collector, cli.logger),
	}, nil
}

// wsURL resolves the websocket endpoint used to confirm signatures.
func (cli *CLI) wsURL() (string, error) {
	if cli.cfg.WSURL != config.AutoWSURL {
		return cli.cfg.WSURL, nil
	}
	u, err := chain.DeriveWSURL(cli.cfg.RPCURL)
	if err != nil {
		return "", fmt.Errorf("derive websocket url from %s: %w", cli.cfg.RPCURL, err)
	}
	return u, nil
}

// wallet returns the maker key when one is configured, otherwise the
// keypair file.
func (cli *CLI) wallet() (solana.PrivateKey, error) {
	if cli.cfg.MakerKey != "" {
		return chain.LoadPrivateKey(cli.cfg.MakerKey)
	}
	return chain.LoadPrivateKey(cli.cfg.WalletPath)
}

// exchange returns an OpenBook client signing with the configured wallet.
func (cli *CLI) exchange(d *deps) (trading.Exchange, error) {
	key, err := cli.wallet()
	if err != nil {
		return nil, err
	}
	return d.clients(key), nil
}

// openStore opens the run history, or returns nil when it is disabled.
func (cli *CLI) openStore() (*storage.SQLiteStorage, error) {
	if cli.cfg.DatabasePath == "" {
		return nil, nil
	}
	store, err := storage.NewSQLiteStorage(cli.cfg.DatabasePath, cli.logger)
	if err != nil {
		return nil, fmt.Errorf("open run history %s: %w", cli.cfg.DatabasePath, err)
	}
	return store, nil
}

// newServer builds the HTTP server over the live collector and store.
func (cli *CLI) newServer(d *deps, store *storage.SQLiteStorage) *transport.Server {
	var history transport.RunHistory
	if store != nil {
		history = store
	}
	return transport.NewServer(transport.NewBackend(d.collector, history), d.chain, transport.ServerConfig{
		CORSAllowedOrigins: cli.cfg.CORSAllowedOrigins,
		Gatherer:           d.registry,
		Logger:             cli.logger,
	})
}

// requireKey parses a configured address that a command cannot run without.
func requireKey(name, value string) (solana.PublicKey, error) {
	if value == "" {
		return solana.PublicKey{}, fmt.Errorf("%s is required", name)
	}
	key, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return key, nil
}
