package chain

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// fakeRPC is an in-memory RPC. Sent transactions confirm immediately unless
// sendErrs or txErr say otherwise.
type fakeRPC struct {
	mu sync.Mutex

	sent     []*solana.Transaction
	sendErrs []error // consumed one per send
	txErr    interface{}
	status   rpc.ConfirmationStatusType
	// lost is consumed one per landed send; true leaves the transaction
	// on chain without a visible status.
	lost   []bool
	hidden map[solana.Signature]bool
	atas   map[solana.PublicKey]bool

	airdrops map[solana.PublicKey]uint64
	accounts map[solana.PublicKey][]byte
	tokens   map[solana.PublicKey]uint64
	program  rpc.GetProgramAccountsResult
}

var _ RPC = (*fakeRPC)(nil)

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		status:   rpc.ConfirmationStatusConfirmed,
		hidden:   make(map[solana.Signature]bool),
		atas:     make(map[solana.PublicKey]bool),
		airdrops: make(map[solana.PublicKey]uint64),
		accounts: make(map[solana.PublicKey][]byte),
		tokens:   make(map[solana.PublicKey]uint64),
	}
}

func (f *fakeRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1, 2, 3}},
	}, nil
}

func (f *fakeRPC) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return solana.Signature{}, err
		}
	}
	if err := f.createATAs(tx); err != nil {
		return solana.Signature{}, err
	}
	f.sent = append(f.sent, tx)
	if len(f.lost) > 0 {
		f.hidden[tx.Signatures[0]] = f.lost[0]
		f.lost = f.lost[1:]
	}
	return tx.Signatures[0], nil
}

// createATAs applies the associated token account creates in tx, failing
// a plain create of an existing account like the program does.
func (f *fakeRPC) createATAs(tx *solana.Transaction) error {
	keys := tx.Message.AccountKeys
	var created []solana.PublicKey
	for _, ix := range tx.Message.Instructions {
		if !keys[ix.ProgramIDIndex].Equals(solana.SPLAssociatedTokenAccountProgramID) {
			continue
		}
		ata := keys[ix.Accounts[1]]
		if f.atas[ata] && len(ix.Data) == 0 {
			return errors.New("account already in use")
		}
		created = append(created, ata)
	}
	for _, ata := range created {
		f.atas[ata] = true
	}
	return nil
}

func (f *fakeRPC) GetSignatureStatuses(_ context.Context, _ bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := &rpc.GetSignatureStatusesResult{}
	for _, sig := range sigs {
		if f.status == "" || f.hidden[sig] {
			res.Value = append(res.Value, nil)
			continue
		}
		res.Value = append(res.Value, &rpc.SignatureStatusesResult{
			ConfirmationStatus: f.status,
			Err:                f.txErr,
		})
	}
	return res, nil
}

func (f *fakeRPC) RequestAirdrop(_ context.Context, account solana.PublicKey, lamports uint64, _ rpc.CommitmentType) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.airdrops[account] += lamports
	return solana.Signature{9}, nil
}

func (f *fakeRPC) GetAccountInfoWithOpts(_ context.Context, account solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)},
	}, nil
}

func (f *fakeRPC) GetMinimumBalanceForRentExemption(_ context.Context, size uint64, _ rpc.CommitmentType) (uint64, error) {
	return 1000 + size, nil
}

func (f *fakeRPC) GetTokenAccountBalance(_ context.Context, account solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	amount, ok := f.tokens[account]
	if !ok {
		return nil, errors.New("could not find account")
	}
	return &rpc.GetTokenAccountBalanceResult{
		Value: &rpc.UiTokenAmount{Amount: strconv.FormatUint(amount, 10)},
	}, nil
}

func (f *fakeRPC) GetBalance(_ context.Context, account solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &rpc.GetBalanceResult{Value: f.airdrops[account]}, nil
}

func (f *fakeRPC) GetProgramAccountsWithOpts(context.Context, solana.PublicKey, *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	return f.program, nil
}

func (f *fakeRPC) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
