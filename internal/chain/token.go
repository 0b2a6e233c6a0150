package chain

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gateway-fm/openbook-loadgen/internal/retry"
)

// mintBatchSize bounds the ATA+mint-to pairs per transaction to stay under
// the packet size limit.
const mintBatchSize = 4

// Token is a freshly deployed SPL token.
type Token struct {
	Name     string
	Mint     solana.PublicKey
	Decimals uint8
}

// CreateToken deploys an SPL token funded by payers[0] and gives it a random
// ticker-style name.
func (c *Client) CreateToken(ctx context.Context, payers []solana.PrivateKey, decimals uint8, mintAmount uint64) (*Token, error) {
	mint, err := c.DeploySPLToken(ctx, payers, decimals, mintAmount)
	if err != nil {
		return nil, err
	}
	return &Token{Name: RandomTokenName(), Mint: mint, Decimals: decimals}, nil
}

// DeploySPLToken creates a mint with payers[0] as mint and freeze authority,
// then creates an associated token account for every payer and mints
// mintAmount whole tokens into it. Minting transactions go through the
// linear retry policy.
func (c *Client) DeploySPLToken(ctx context.Context, payers []solana.PrivateKey, decimals uint8, mintAmount uint64) (solana.PublicKey, error) {
	if len(payers) == 0 {
		return solana.PublicKey{}, errors.New("deploy token: at least one payer required")
	}
	authority := payers[0]

	mintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("generate mint keypair: %w", err)
	}
	mint := mintKey.PublicKey()

	rent, err := c.RentExemption(ctx, token.MINT_SIZE)
	if err != nil {
		return solana.PublicKey{}, err
	}

	createMint := []solana.Instruction{
		system.NewCreateAccountInstruction(rent, token.MINT_SIZE, solana.TokenProgramID, authority.PublicKey(), mint).Build(),
		token.NewInitializeMintInstruction(decimals, authority.PublicKey(), authority.PublicKey(), mint, solana.SysVarRentPubkey).Build(),
	}
	if _, err := c.SendAndConfirm(ctx, "create_mint", createMint, authority.PublicKey(), authority, mintKey); err != nil {
		return solana.PublicKey{}, err
	}

	amount := ToNative(decimal.NewFromUint64(mintAmount), decimals)
	for start := 0; start < len(payers); start += mintBatchSize {
		batch := payers[start:min(start+mintBatchSize, len(payers))]
		ixs, err := mintToInstructions(authority.PublicKey(), mint, batch, amount)
		if err != nil {
			return solana.PublicKey{}, err
		}

		sig, err := retry.Do(ctx, c.mintRetry, "mint_to", func(ctx context.Context) (solana.Signature, error) {
			return c.SendAndConfirm(ctx, "mint_to", ixs, authority.PublicKey(), authority)
		})
		if err != nil {
			return solana.PublicKey{}, err
		}
		c.logger.Info("token deployed",
			zap.Stringer("mint", mint),
			zap.Int("holders", len(batch)),
			zap.Stringer("signature", sig),
		)
	}

	return mint, nil
}

func mintToInstructions(authority, mint solana.PublicKey, holders []solana.PrivateKey, amount uint64) ([]solana.Instruction, error) {
	ixs := make([]solana.Instruction, 0, 2*len(holders))
	for _, h := range holders {
		ata, _, err := solana.FindAssociatedTokenAddress(h.PublicKey(), mint)
		if err != nil {
			return nil, fmt.Errorf("derive token account for %s: %w", h.PublicKey(), err)
		}
		ixs = append(ixs,
			createIdempotentATA(authority, h.PublicKey(), mint),
			token.NewMintToInstruction(amount, mint, ata, authority, nil).Build(),
		)
	}
	return ixs, nil
}

// createIdempotentATA is the associated token account create that succeeds
// when the account already exists, so a mint batch can be resent after a
// confirmation error even if the first attempt landed.
func createIdempotentATA(payer, wallet, mint solana.PublicKey) solana.Instruction {
	create := associatedtokenaccount.NewCreateInstruction(payer, wallet, mint).Build()
	return solana.NewInstruction(associatedtokenaccount.ProgramID, create.Accounts(), []byte{ataCreateIdempotent})
}

const ataCreateIdempotent = 1

// TokenBalance returns the native balance of owner's associated token
// account for mint, or 0 when the account does not exist.
func (c *Client) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("derive token account: %w", err)
	}

	if _, err := c.AccountData(ctx, ata); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}

	res, err := c.rpc.GetTokenAccountBalance(ctx, ata, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("get token balance %s: %w", ata, err)
	}
	if res == nil || res.Value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token amount %q: %w", res.Value.Amount, err)
	}
	return amount, nil
}

const tokenNameAlphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ" // no O

// RandomTokenName returns a 3 or 4 letter uppercase ticker.
func RandomTokenName() string {
	n := 3 + rand.IntN(2)
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenNameAlphabet[rand.IntN(len(tokenNameAlphabet))]
	}
	return string(b)
}
