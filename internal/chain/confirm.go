package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Confirmer waits for a signature to reach a commitment level.
type Confirmer interface {
	Confirm(ctx context.Context, sig solana.Signature) error
}

func commitmentRank(s rpc.ConfirmationStatusType) int {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	}
	return 0
}

func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	return commitmentRank(status) >= commitmentRank(rpc.ConfirmationStatusType(want))
}

// PollConfirmer confirms signatures by polling getSignatureStatuses.
type PollConfirmer struct {
	rpc        RPC
	commitment rpc.CommitmentType
	interval   time.Duration
	timeout    time.Duration
}

// NewPollConfirmer creates a PollConfirmer. Zero interval or timeout use defaults.
func NewPollConfirmer(r RPC, commitment rpc.CommitmentType, interval, timeout time.Duration) *PollConfirmer {
	if interval <= 0 {
		interval = 400 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &PollConfirmer{rpc: r, commitment: commitment, interval: interval, timeout: timeout}
}

// Confirm implements Confirmer.
func (p *PollConfirmer) Confirm(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		done, err := p.check(ctx, sig)
		if err != nil || done {
			return err
		}

		select {
		case <-ctx.Done():
			return confirmCtxErr(ctx)
		case <-ticker.C:
		}
	}
}

// check reports whether sig has reached the commitment. RPC errors are
// treated as "not yet" so a flaky node does not fail the transaction.
func (p *PollConfirmer) check(ctx context.Context, sig solana.Signature) (bool, error) {
	res, err := p.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil || res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return false, nil
	}
	st := res.Value[0]
	if st.Err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransactionFailed, st.Err)
	}
	return reached(st.ConfirmationStatus, p.commitment), nil
}

// WSConfirmer confirms signatures with signatureSubscribe and falls back to
// polling when the socket is unavailable. All subscriptions share one
// connection, dialled on first use and redialled after it drops.
type WSConfirmer struct {
	url        string
	commitment rpc.CommitmentType
	timeout    time.Duration
	fallback   *PollConfirmer
	dialer     *websocket.Dialer
	logger     *zap.Logger

	mu     sync.Mutex
	conn   *wsConn
	closed bool
}

// NewWSConfirmer creates a WSConfirmer for the websocket endpoint wsURL.
func NewWSConfirmer(wsURL string, commitment rpc.CommitmentType, timeout time.Duration, fallback *PollConfirmer, logger *zap.Logger) *WSConfirmer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WSConfirmer{
		url:        wsURL,
		commitment: commitment,
		timeout:    timeout,
		fallback:   fallback,
		dialer:     websocket.DefaultDialer,
		logger:     logger,
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wsMessage struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string `json:"method"`
	Params *struct {
		Result struct {
			Value struct {
				Err interface{} `json:"err"`
			} `json:"value"`
		} `json:"result"`
		Subscription uint64 `json:"subscription"`
	} `json:"params"`
}

// wsSub is one pending signatureSubscribe. ack receives the subscribe
// response and note the notification; both are buffered so the reader
// never blocks on a caller that gave up.
type wsSub struct {
	req  int
	id   uint64
	ack  chan wsMessage
	note chan wsMessage
}

// wsConn is a websocket with its request and subscription routing.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int
	pending map[int]*wsSub
	subs    map[uint64]*wsSub

	done chan struct{}
	err  error
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:      ws,
		pending: make(map[int]*wsSub),
		subs:    make(map[uint64]*wsSub),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *wsConn) readLoop() {
	defer close(c.done)
	for {
		var msg wsMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		switch {
		case msg.ID != nil:
			if sub, ok := c.pending[*msg.ID]; ok {
				delete(c.pending, *msg.ID)
				// Register before acking: the notification can follow at once.
				if msg.Error == nil && json.Unmarshal(msg.Result, &sub.id) == nil {
					c.subs[sub.id] = sub
				}
				sub.ack <- msg
			}
		case msg.Method == "signatureNotification" && msg.Params != nil:
			if sub, ok := c.subs[msg.Params.Subscription]; ok {
				delete(c.subs, msg.Params.Subscription)
				sub.note <- msg
			}
		}
		c.mu.Unlock()
	}
}

func (c *wsConn) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *wsConn) write(method string, params ...interface{}) (int, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return id, c.ws.WriteJSON(wsRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
}

func (c *wsConn) subscribe(sig solana.Signature, commitment rpc.CommitmentType) (*wsSub, error) {
	sub := &wsSub{ack: make(chan wsMessage, 1), note: make(chan wsMessage, 1)}

	c.writeMu.Lock()
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	sub.req = id
	c.pending[id] = sub
	c.mu.Unlock()
	err := c.ws.WriteJSON(wsRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "signatureSubscribe",
		Params:  []interface{}{sig.String(), map[string]string{"commitment": string(commitment)}},
	})
	c.writeMu.Unlock()

	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// unsubscribe drops a subscription that will not be waited on any more.
func (c *wsConn) unsubscribe(sub *wsSub) {
	c.mu.Lock()
	delete(c.pending, sub.req)
	active := c.subs[sub.id] == sub
	if active {
		delete(c.subs, sub.id)
	}
	c.mu.Unlock()
	if active {
		_, _ = c.write("signatureUnsubscribe", sub.id)
	}
}

// connect returns the shared connection, dialling a new one when there is
// none or the previous one dropped.
func (w *WSConfirmer) connect(ctx context.Context) (*wsConn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, net.ErrClosed
	}
	if w.conn != nil && w.conn.alive() {
		return w.conn, nil
	}
	ws, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, err
	}
	w.conn = newWSConn(ws)
	w.logger.Debug("signature websocket connected", zap.String("url", w.url))
	return w.conn, nil
}

// Close closes the shared connection. Later confirmations poll.
func (w *WSConfirmer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.conn == nil {
		return nil
	}
	err := w.conn.ws.Close()
	w.conn = nil
	return err
}

// Confirm implements Confirmer.
func (w *WSConfirmer) Confirm(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	conn, err := w.connect(ctx)
	if err != nil {
		w.logger.Debug("websocket unavailable, polling signature status", zap.String("url", w.url), zap.Error(err))
		return w.fallback.Confirm(ctx, sig)
	}

	sub, err := conn.subscribe(sig, w.commitment)
	if err != nil {
		w.logger.Debug("signatureSubscribe write failed, polling", zap.Error(err))
		_ = conn.ws.Close()
		return w.fallback.Confirm(ctx, sig)
	}

	select {
	case msg := <-sub.ack:
		if msg.Error != nil {
			w.logger.Debug("signatureSubscribe rejected, polling",
				zap.Int("code", msg.Error.Code), zap.String("message", msg.Error.Message))
			return w.fallback.Confirm(ctx, sig)
		}
	case <-conn.done:
		w.logger.Debug("signature websocket dropped, polling", zap.Error(conn.err))
		return w.fallback.Confirm(ctx, sig)
	case <-ctx.Done():
		conn.unsubscribe(sub)
		return confirmCtxErr(ctx)
	}

	// The signature may have landed before the subscription existed.
	if done, err := w.fallback.check(ctx, sig); err != nil || done {
		conn.unsubscribe(sub)
		return err
	}

	select {
	case msg := <-sub.note:
		if e := msg.Params.Result.Value.Err; e != nil {
			return fmt.Errorf("%w: %v", ErrTransactionFailed, e)
		}
		return nil
	case <-conn.done:
		w.logger.Debug("signature websocket dropped, polling", zap.Error(conn.err))
		return w.fallback.Confirm(ctx, sig)
	case <-ctx.Done():
		conn.unsubscribe(sub)
		return confirmCtxErr(ctx)
	}
}

func confirmCtxErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return ErrConfirmTimeout
	}
	return ctx.Err()
}

// DeriveWSURL maps an http(s) RPC URL to the validator's default websocket
// endpoint: ws(s) scheme on the next port.
func DeriveWSURL(rpcURL string) (string, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return "", fmt.Errorf("parse rpc url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported rpc url scheme %q", u.Scheme)
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return "", fmt.Errorf("invalid port %q: %w", port, err)
		}
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(n+1))
	}
	return u.String(), nil
}
