// Package chain wraps the Solana RPC with the operations the load generator
// needs: funding, transaction submission and confirmation, SPL token setup,
// and account reads.
package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/logging"
	"github.com/gateway-fm/openbook-loadgen/internal/ratelimit"
	"github.com/gateway-fm/openbook-loadgen/internal/retry"
)

// RPC is the subset of the Solana JSON-RPC API used by Client.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64, commitment rpc.CommitmentType) (solana.Signature, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

var _ RPC = (*rpc.Client)(nil)

// ClientConfig holds chain client configuration.
type ClientConfig struct {
	RPCURL         string
	WSURL          string // empty disables websocket confirmation
	Commitment     rpc.CommitmentType
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	TxRate         float64 // 0 = unpaced
	MintRetries    int
	RetryDelay     time.Duration
	Logger         *zap.Logger
	Observer       TxObserver // optional
}

// TxObserver is notified of every submitted transaction with its send to
// confirmation latency. err is nil for confirmed transactions.
type TxObserver interface {
	ObserveTx(op string, latency time.Duration, err error)
}

// DefaultClientConfig returns a ClientConfig for a local test validator.
func DefaultClientConfig(rpcURL string) ClientConfig {
	return ClientConfig{
		RPCURL:         rpcURL,
		Commitment:     rpc.CommitmentConfirmed,
		ConfirmTimeout: 60 * time.Second,
		PollInterval:   400 * time.Millisecond,
		MintRetries:    3,
		RetryDelay:     retry.DefaultDelay,
	}
}

// Client submits transactions and reads accounts.
type Client struct {
	rpc        RPC
	confirmer  Confirmer
	limiter    *ratelimit.Limiter
	commitment rpc.CommitmentType
	mintRetry  retry.Policy
	observer   TxObserver
	logger     *zap.Logger
}

// NewClient creates a Client talking to cfg.RPCURL.
func NewClient(cfg ClientConfig) *Client {
	return NewClientWithRPC(rpc.New(cfg.RPCURL), cfg)
}

// NewClientWithRPC creates a Client over an existing RPC implementation.
func NewClientWithRPC(r RPC, cfg ClientConfig) *Client {
	logger := logging.OrNop(cfg.Logger).Named("chain")
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}

	poller := NewPollConfirmer(r, cfg.Commitment, cfg.PollInterval, cfg.ConfirmTimeout)
	var confirmer Confirmer = poller
	if cfg.WSURL != "" {
		confirmer = NewWSConfirmer(cfg.WSURL, cfg.Commitment, cfg.ConfirmTimeout, poller, logger)
	}

	limiter := ratelimit.New(cfg.TxRate)
	if !limiter.Unlimited() {
		logger.Info("pacing transactions", zap.Float64("tx_per_sec", limiter.Rate()))
	}

	return &Client{
		rpc:        r,
		confirmer:  confirmer,
		limiter:    limiter,
		commitment: cfg.Commitment,
		mintRetry: retry.Policy{
			MaxRetries: cfg.MintRetries,
			Delay:      cfg.RetryDelay,
			Logger:     logger,
		},
		observer: cfg.Observer,
		logger:   logger,
	}
}

// Close releases the confirmation websocket, if any.
func (c *Client) Close() error {
	if closer, ok := c.confirmer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// SendAndConfirm builds a transaction from ixs paid by payer, signs it with
// signers, submits it and waits for confirmation. op names the transaction
// in errors and logs.
func (c *Client) SendAndConfirm(ctx context.Context, op string, ixs []solana.Instruction, payer solana.PublicKey, signers ...solana.PrivateKey) (solana.Signature, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return solana.Signature{}, &TxError{Op: op, Err: err}
	}

	latest, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, &TxError{Op: op, Err: fmt.Errorf("get latest blockhash: %w", err)}
	}

	tx, err := solana.NewTransaction(ixs, latest.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, &TxError{Op: op, Err: fmt.Errorf("build transaction: %w", err)}
	}
	if _, err := tx.Sign(signerLookup(signers)); err != nil {
		return solana.Signature{}, &TxError{Op: op, Err: fmt.Errorf("sign transaction: %w", err)}
	}

	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		err = &TxError{Op: op, Err: fmt.Errorf("send transaction: %w", err)}
		c.observe(op, start, err)
		return solana.Signature{}, err
	}

	if err := c.confirmer.Confirm(ctx, sig); err != nil {
		txErr := &TxError{Op: op, Signature: sig, Err: err}
		c.observe(op, start, txErr)
		return sig, txErr
	}
	c.observe(op, start, nil)

	c.logger.Debug("transaction confirmed", zap.String("op", op), zap.Stringer("signature", sig))
	return sig, nil
}

func (c *Client) observe(op string, start time.Time, err error) {
	if c.observer != nil {
		c.observer.ObserveTx(op, time.Since(start), err)
	}
}

func signerLookup(signers []solana.PrivateKey) func(solana.PublicKey) *solana.PrivateKey {
	return func(pk solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(pk) {
				return &signers[i]
			}
		}
		return nil
	}
}

// FundAccount airdrops sol to account and waits for confirmation.
func (c *Client) FundAccount(ctx context.Context, account solana.PublicKey, sol float64) error {
	sig, err := c.rpc.RequestAirdrop(ctx, account, SolToLamports(sol), c.commitment)
	if err != nil {
		return &TxError{Op: "airdrop", Err: err}
	}
	if err := c.confirmer.Confirm(ctx, sig); err != nil {
		return &TxError{Op: "airdrop", Signature: sig, Err: err}
	}
	return nil
}

// CreateAccountWithBalance generates a new keypair and funds it with sol.
func (c *Client) CreateAccountWithBalance(ctx context.Context, sol float64) (solana.PrivateKey, error) {
	kp, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	if err := c.FundAccount(ctx, kp.PublicKey(), sol); err != nil {
		return nil, err
	}
	c.logger.Debug("funded account", zap.Stringer("account", kp.PublicKey()), zap.Float64("sol", sol))
	return kp, nil
}

// AccountData returns the raw data of account, or ErrAccountNotFound.
func (c *Client) AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	res, err := c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Commitment: c.commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
		}
		return nil, fmt.Errorf("get account %s: %w", account, err)
	}
	if res == nil || res.Value == nil || res.Value.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	return res.Value.Data.GetBinary(), nil
}

// KeyedData is an account address with its raw data.
type KeyedData struct {
	Address solana.PublicKey
	Data    []byte
}

// ProgramAccounts returns every account owned by program matching filters.
func (c *Client) ProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) ([]KeyedData, error) {
	res, err := c.rpc.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
		Commitment: c.commitment,
		Filters:    filters,
	})
	if err != nil {
		return nil, fmt.Errorf("get program accounts: %w", err)
	}

	out := make([]KeyedData, 0, len(res))
	for _, acc := range res {
		if acc == nil || acc.Account == nil || acc.Account.Data == nil {
			continue
		}
		out = append(out, KeyedData{Address: acc.Pubkey, Data: acc.Account.Data.GetBinary()})
	}
	return out, nil
}

// RentExemption returns the minimum lamports for an account of size bytes.
func (c *Client) RentExemption(ctx context.Context, size uint64) (uint64, error) {
	lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, size, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("get rent exemption for %d bytes: %w", size, err)
	}
	return lamports, nil
}

// Balance returns the lamport balance of account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	res, err := c.rpc.GetBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", account, err)
	}
	return res.Value, nil
}

// Ping checks that the RPC node answers by fetching a recent blockhash.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.rpc.GetLatestBlockhash(ctx, c.commitment); err != nil {
		return fmt.Errorf("get latest blockhash: %w", err)
	}
	return nil
}
