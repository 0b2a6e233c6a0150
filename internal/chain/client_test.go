package chain

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(r RPC) *Client {
	cfg := DefaultClientConfig("http://unused")
	cfg.PollInterval = time.Millisecond
	cfg.ConfirmTimeout = 200 * time.Millisecond
	cfg.RetryDelay = time.Millisecond
	return NewClientWithRPC(r, cfg)
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k
}

func TestSendAndConfirmSignsWithAllSigners(t *testing.T) {
	f := newFakeRPC()
	c := testClient(f)
	payer, extra := newKey(t), newKey(t)

	ix := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.Meta(payer.PublicKey()).WRITE().SIGNER(),
		solana.Meta(extra.PublicKey()).WRITE().SIGNER(),
	}, []byte{1})

	sig, err := c.SendAndConfirm(context.Background(), "test", []solana.Instruction{ix}, payer.PublicKey(), payer, extra)
	require.NoError(t, err)
	require.Len(t, f.sent, 1)

	tx := f.sent[0]
	assert.Len(t, tx.Signatures, 2)
	assert.Equal(t, tx.Signatures[0], sig)
	assert.True(t, tx.Message.AccountKeys[0].Equals(payer.PublicKey()))
}

func TestSendAndConfirmMissingSigner(t *testing.T) {
	f := newFakeRPC()
	c := testClient(f)
	payer, other := newKey(t), newKey(t)

	ix := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.Meta(other.PublicKey()).SIGNER(),
	}, nil)

	_, err := c.SendAndConfirm(context.Background(), "test", []solana.Instruction{ix}, payer.PublicKey(), payer)
	require.Error(t, err)
	var txErr *TxError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "test", txErr.Op)
	assert.Zero(t, f.sentCount())
}

func TestSendAndConfirmFailedTransaction(t *testing.T) {
	f := newFakeRPC()
	f.txErr = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	c := testClient(f)
	payer := newKey(t)

	ix := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.Meta(payer.PublicKey()).WRITE().SIGNER(),
	}, nil)

	sig, err := c.SendAndConfirm(context.Background(), "place_order", []solana.Instruction{ix}, payer.PublicKey(), payer)
	assert.ErrorIs(t, err, ErrTransactionFailed)
	assert.NotEqual(t, solana.Signature{}, sig)
	assert.Contains(t, err.Error(), "place_order")
}

func TestPollConfirmer(t *testing.T) {
	tests := []struct {
		name    string
		status  rpc.ConfirmationStatusType
		want    rpc.CommitmentType
		txErr   interface{}
		wantErr error
	}{
		{name: "confirmed meets confirmed", status: rpc.ConfirmationStatusConfirmed, want: rpc.CommitmentConfirmed},
		{name: "finalized meets confirmed", status: rpc.ConfirmationStatusFinalized, want: rpc.CommitmentConfirmed},
		{name: "processed never meets finalized", status: rpc.ConfirmationStatusProcessed, want: rpc.CommitmentFinalized, wantErr: ErrConfirmTimeout},
		{name: "unknown signature times out", status: "", want: rpc.CommitmentConfirmed, wantErr: ErrConfirmTimeout},
		{name: "error status fails", status: rpc.ConfirmationStatusProcessed, want: rpc.CommitmentConfirmed, txErr: "boom", wantErr: ErrTransactionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeRPC()
			f.status = tt.status
			f.txErr = tt.txErr
			p := NewPollConfirmer(f, tt.want, time.Millisecond, 30*time.Millisecond)

			err := p.Confirm(context.Background(), solana.Signature{1})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// sigServer acknowledges every signatureSubscribe on a connection and
// follows each with a notification carrying notifyErr.
type sigServer struct {
	*httptest.Server
	conns        atomic.Int32
	unsubscribes atomic.Int32
}

type sigServerOpts struct {
	notifyErr interface{}
	silent    bool // acknowledge but never notify
	dropAfter bool // close the connection after the first notification
}

func newSigServer(t *testing.T, opts sigServerOpts) *sigServer {
	t.Helper()
	s := &sigServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.conns.Add(1)

		var subID uint64
		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			switch req.Method {
			case "signatureUnsubscribe":
				s.unsubscribes.Add(1)
				_ = conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "result": true, "id": req.ID})
			case "signatureSubscribe":
				subID++
				_ = conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "result": subID, "id": req.ID})
				if opts.silent {
					continue
				}
				_ = conn.WriteJSON(map[string]interface{}{
					"jsonrpc": "2.0",
					"method":  "signatureNotification",
					"params": map[string]interface{}{
						"result":       map[string]interface{}{"context": map[string]int{"slot": 5}, "value": map[string]interface{}{"err": opts.notifyErr}},
						"subscription": subID,
					},
				})
				if opts.dropAfter {
					return
				}
			}
		}
	}))
	return s
}

func (s *sigServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// newTestWSConfirmer confirms over srv; the fake RPC never reports a status
// so only the socket can confirm.
func newTestWSConfirmer(t *testing.T, url string, timeout time.Duration) *WSConfirmer {
	t.Helper()
	f := newFakeRPC()
	f.status = ""
	poll := NewPollConfirmer(f, rpc.CommitmentConfirmed, time.Millisecond, 50*time.Millisecond)
	w := NewWSConfirmer(url, rpc.CommitmentConfirmed, timeout, poll, testClient(f).logger)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWSConfirmer(t *testing.T) {
	t.Run("notification confirms", func(t *testing.T) {
		srv := newSigServer(t, sigServerOpts{})
		defer srv.Close()
		w := newTestWSConfirmer(t, srv.wsURL(), time.Second)

		assert.NoError(t, w.Confirm(context.Background(), solana.Signature{2}))
	})

	t.Run("notification with error fails", func(t *testing.T) {
		srv := newSigServer(t, sigServerOpts{notifyErr: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}})
		defer srv.Close()
		w := newTestWSConfirmer(t, srv.wsURL(), time.Second)

		assert.ErrorIs(t, w.Confirm(context.Background(), solana.Signature{2}), ErrTransactionFailed)
	})

	t.Run("signatures share one connection", func(t *testing.T) {
		srv := newSigServer(t, sigServerOpts{})
		defer srv.Close()
		w := newTestWSConfirmer(t, srv.wsURL(), time.Second)

		for i := byte(1); i <= 5; i++ {
			require.NoError(t, w.Confirm(context.Background(), solana.Signature{i}))
		}
		assert.Equal(t, int32(1), srv.conns.Load())
	})

	t.Run("dropped connection is redialled", func(t *testing.T) {
		srv := newSigServer(t, sigServerOpts{dropAfter: true})
		defer srv.Close()
		w := newTestWSConfirmer(t, srv.wsURL(), time.Second)

		require.NoError(t, w.Confirm(context.Background(), solana.Signature{1}))
		first := w.conn
		require.Eventually(t, func() bool { return !first.alive() }, time.Second, time.Millisecond)

		require.NoError(t, w.Confirm(context.Background(), solana.Signature{2}))
		assert.Equal(t, int32(2), srv.conns.Load())
	})

	t.Run("missing notification times out and unsubscribes", func(t *testing.T) {
		srv := newSigServer(t, sigServerOpts{silent: true})
		defer srv.Close()
		w := newTestWSConfirmer(t, srv.wsURL(), 50*time.Millisecond)

		assert.ErrorIs(t, w.Confirm(context.Background(), solana.Signature{2}), ErrConfirmTimeout)
		assert.Eventually(t, func() bool { return srv.unsubscribes.Load() == 1 }, time.Second, time.Millisecond)
	})

	t.Run("unreachable socket falls back to polling", func(t *testing.T) {
		f := newFakeRPC()
		poll := NewPollConfirmer(f, rpc.CommitmentConfirmed, time.Millisecond, 50*time.Millisecond)
		w := NewWSConfirmer("ws://127.0.0.1:1", rpc.CommitmentConfirmed, time.Second, poll, testClient(f).logger)

		assert.NoError(t, w.Confirm(context.Background(), solana.Signature{2}))
	})

	t.Run("closed confirmer polls", func(t *testing.T) {
		srv := newSigServer(t, sigServerOpts{silent: true})
		defer srv.Close()

		f := newFakeRPC()
		poll := NewPollConfirmer(f, rpc.CommitmentConfirmed, time.Millisecond, 50*time.Millisecond)
		w := NewWSConfirmer(srv.wsURL(), rpc.CommitmentConfirmed, time.Second, poll, testClient(f).logger)
		require.NoError(t, w.Close())

		assert.NoError(t, w.Confirm(context.Background(), solana.Signature{2}))
		assert.Zero(t, srv.conns.Load())
	})
}

func TestFundAndCreateAccount(t *testing.T) {
	f := newFakeRPC()
	c := testClient(f)

	kp, err := c.CreateAccountWithBalance(context.Background(), 2.5)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_500_000_000), f.airdrops[kp.PublicKey()])

	bal, err := c.Balance(context.Background(), kp.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(2_500_000_000), bal)
}

func TestAccountDataNotFound(t *testing.T) {
	f := newFakeRPC()
	c := testClient(f)

	_, err := c.AccountData(context.Background(), solana.PublicKey{7})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	f.accounts[solana.PublicKey{7}] = []byte{1, 2}
	data, err := c.AccountData(context.Background(), solana.PublicKey{7})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, data)
}

func TestDeploySPLToken(t *testing.T) {
	f := newFakeRPC()
	c := testClient(f)

	payers := make([]solana.PrivateKey, 6)
	for i := range payers {
		payers[i] = newKey(t)
	}

	mint, err := c.DeploySPLToken(context.Background(), payers, 9, 1000)
	require.NoError(t, err)
	assert.False(t, mint.IsZero())

	// create mint + two mint-to batches (4 + 2 holders)
	require.Len(t, f.sent, 3)
	assert.Len(t, f.sent[0].Message.Instructions, 2)
	assert.Len(t, f.sent[1].Message.Instructions, 2*mintBatchSize)
	assert.Len(t, f.sent[2].Message.Instructions, 2*2)
}

func TestDeploySPLTokenRetriesMint(t *testing.T) {
	f := newFakeRPC()
	// create mint succeeds, first two mint-to sends fail
	f.sendErrs = []error{nil, errors.New("node busy"), errors.New("node busy")}
	c := testClient(f)

	_, err := c.DeploySPLToken(context.Background(), []solana.PrivateKey{newKey(t)}, 6, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, f.sentCount())
}

func TestDeploySPLTokenRetriesLandedMint(t *testing.T) {
	f := newFakeRPC()
	// the first mint-to lands but its status never shows up
	f.lost = []bool{false, true}
	c := testClient(f)
	holder := newKey(t)

	_, err := c.DeploySPLToken(context.Background(), []solana.PrivateKey{holder}, 6, 10)
	require.NoError(t, err)
	require.Len(t, f.sent, 3)

	for _, tx := range f.sent[1:] {
		ix := tx.Message.Instructions[0]
		require.True(t, tx.Message.AccountKeys[ix.ProgramIDIndex].Equals(solana.SPLAssociatedTokenAccountProgramID))
		assert.Equal(t, []byte{ataCreateIdempotent}, []byte(ix.Data))
	}
}

func TestFakeRejectsRepeatedATACreate(t *testing.T) {
	f := newFakeRPC()
	c := testClient(f)
	payer, holder := newKey(t), newKey(t)
	mint := solana.PublicKey{5}

	plain := []solana.Instruction{associatedtokenaccount.NewCreateInstruction(payer.PublicKey(), holder.PublicKey(), mint).Build()}
	_, err := c.SendAndConfirm(context.Background(), "create_ata", plain, payer.PublicKey(), payer)
	require.NoError(t, err)
	_, err = c.SendAndConfirm(context.Background(), "create_ata", plain, payer.PublicKey(), payer)
	assert.ErrorContains(t, err, "account already in use")

	idempotent := []solana.Instruction{createIdempotentATA(payer.PublicKey(), holder.PublicKey(), mint)}
	_, err = c.SendAndConfirm(context.Background(), "create_ata", idempotent, payer.PublicKey(), payer)
	assert.NoError(t, err)
}

func TestDeploySPLTokenRetriesExhausted(t *testing.T) {
	f := newFakeRPC()
	busy := errors.New("node busy")
	f.sendErrs = []error{nil, busy, busy, busy, busy}
	c := testClient(f) // 3 retries = 4 attempts

	_, err := c.DeploySPLToken(context.Background(), []solana.PrivateKey{newKey(t)}, 6, 10)
	assert.ErrorIs(t, err, busy)
}

func TestDeploySPLTokenNoPayers(t *testing.T) {
	_, err := testClient(newFakeRPC()).DeploySPLToken(context.Background(), nil, 9, 1)
	assert.Error(t, err)
}

func TestTokenBalance(t *testing.T) {
	f := newFakeRPC()
	c := testClient(f)
	owner, mint := newKey(t).PublicKey(), newKey(t).PublicKey()

	bal, err := c.TokenBalance(context.Background(), owner, mint)
	require.NoError(t, err)
	assert.Zero(t, bal)

	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	f.accounts[ata] = make([]byte, 165)
	f.tokens[ata] = 42_000_000_000

	bal, err = c.TokenBalance(context.Background(), owner, mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(42_000_000_000), bal)
}

func TestAmounts(t *testing.T) {
	assert.Equal(t, uint64(10_000_000_000), ToNative(decimal.NewFromInt(10), 9))
	assert.Equal(t, uint64(1_500_000), ToNative(decimal.RequireFromString("1.5"), 6))
	assert.Equal(t, uint64(1), ToNative(decimal.RequireFromString("1.9"), 0))
	assert.True(t, FromNative(2_500_000_000, 9).Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, uint64(600_000_000), SolToLamports(0.6))
	assert.Equal(t, uint64(103_200_000_000), SolToLamports(2*0.6+2+100))
}

func TestDeriveWSURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:8899", want: "ws://localhost:8900"},
		{in: "https://api.devnet.solana.com", want: "wss://api.devnet.solana.com"},
		{in: "http://10.0.0.1:8899/rpc", want: "ws://10.0.0.1:8900/rpc"},
		{in: "ftp://host", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DeriveWSURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRandomTokenName(t *testing.T) {
	for i := 0; i < 100; i++ {
		name := RandomTokenName()
		assert.GreaterOrEqual(t, len(name), 3)
		assert.LessOrEqual(t, len(name), 4)
		assert.NotContains(t, name, "O")
		assert.Equal(t, strings.ToUpper(name), name)
	}
}

func TestLoadPrivateKey(t *testing.T) {
	key := newKey(t)

	got, err := LoadPrivateKey(key.String())
	require.NoError(t, err)
	assert.True(t, got.PublicKey().Equals(key.PublicKey()))

	_, err = LoadPrivateKey("")
	assert.Error(t, err)

	_, err = LoadPrivateKey(t.TempDir() + "/missing.json")
	assert.Error(t, err)
}

type recordedTx struct {
	op  string
	err error
}

type recordingObserver struct {
	txs []recordedTx
}

func (o *recordingObserver) ObserveTx(op string, _ time.Duration, err error) {
	o.txs = append(o.txs, recordedTx{op: op, err: err})
}

func TestSendAndConfirmNotifiesObserver(t *testing.T) {
	f := newFakeRPC()
	f.sendErrs = []error{nil, errors.New("node is behind")}
	obs := &recordingObserver{}
	cfg := DefaultClientConfig("http://unused")
	cfg.PollInterval = time.Millisecond
	cfg.Observer = obs
	c := NewClientWithRPC(f, cfg)
	payer := newKey(t)

	ix := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.Meta(payer.PublicKey()).WRITE().SIGNER(),
	}, nil)

	_, err := c.SendAndConfirm(context.Background(), "settle_funds", []solana.Instruction{ix}, payer.PublicKey(), payer)
	require.NoError(t, err)
	_, err = c.SendAndConfirm(context.Background(), "consume_events", []solana.Instruction{ix}, payer.PublicKey(), payer)
	require.Error(t, err)

	require.Len(t, obs.txs, 2)
	assert.Equal(t, "settle_funds", obs.txs[0].op)
	assert.NoError(t, obs.txs[0].err)
	assert.Equal(t, "consume_events", obs.txs[1].op)
	assert.ErrorContains(t, obs.txs[1].err, "node is behind")
}

func TestPing(t *testing.T) {
	c := testClient(newFakeRPC())
	assert.NoError(t, c.Ping(context.Background()))
}
