package transfer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/jask/dotsend/internal/chain"
	"github.com/jask/dotsend/internal/wallet"
)

const (
	alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	bob   = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"
)

type fakeProvider struct {
	conn  *fakeConn
	dials atomic.Int32
	fail  error
}

func (p *fakeProvider) Connect(context.Context, string) (chain.Connection, error) {
	p.dials.Add(1)
	if p.fail != nil {
		return nil, p.fail
	}
	return p.conn, nil
}

// fakeConn serves accounts from memory and replays a scripted status stream
// for every transfer.
type fakeConn struct {
	decimals int

	mu       sync.Mutex
	accounts map[string]*big.Int
	queries  map[string]int
	gates    map[string]chan struct{}
	queryErr error
	feeds    map[string]chan chain.Account
	watchErr map[string]chan error
	sent     []sentTransfer

	// broadcast behaviour
	script        []chain.StatusEvent
	streamErr     error
	hold          bool
	broadcastErr  error
	broadcastGate chan struct{}
	broadcasts    atomic.Int32
}

type sentTransfer struct {
	sender   string
	receiver string
	amount   *big.Int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		decimals: 12,
		accounts: map[string]*big.Int{},
		queries:  map[string]int{},
		gates:    map[string]chan struct{}{},
		feeds:    map[string]chan chain.Account{},
		watchErr: map[string]chan error{},
	}
}

func (c *fakeConn) Endpoint() string { return "ws://fake" }
func (c *fakeConn) Decimals() int    { return c.decimals }
func (c *fakeConn) Symbol() string   { return "DOT" }
func (c *fakeConn) Close() error     { return nil }

func (c *fakeConn) setFree(address, base string) {
	v, _ := new(big.Int).SetString(base, 10)
	c.mu.Lock()
	c.accounts[address] = v
	c.mu.Unlock()
}

func (c *fakeConn) gate(address string) chan struct{} {
	g := make(chan struct{})
	c.mu.Lock()
	c.gates[address] = g
	c.mu.Unlock()
	return g
}

func (c *fakeConn) ungate(address string) {
	c.mu.Lock()
	delete(c.gates, address)
	c.mu.Unlock()
}

func (c *fakeConn) queryCount(address string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries[address]
}

func (c *fakeConn) account(address string) chain.Account {
	free := c.accounts[address]
	if free == nil {
		free = big.NewInt(0)
	}
	return chain.Account{Address: address, Free: new(big.Int).Set(free)}
}

// QueryAccount answers with the state at the time of the call, after any
// gate for address opens.
func (c *fakeConn) QueryAccount(ctx context.Context, address string) (chain.Account, error) {
	c.mu.Lock()
	c.queries[address]++
	gate := c.gates[address]
	acct := c.account(address)
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return chain.Account{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queryErr != nil {
		return chain.Account{}, c.queryErr
	}
	return acct, nil
}

func (c *fakeConn) WatchAccount(ctx context.Context, address string) (*chain.Subscription[chain.Account], error) {
	c.mu.Lock()
	if c.queryErr != nil {
		defer c.mu.Unlock()
		return nil, c.queryErr
	}
	feed := make(chan chain.Account, 8)
	errFeed := make(chan error, 1)
	feed <- c.account(address)
	c.feeds[address] = feed
	c.watchErr[address] = errFeed
	c.mu.Unlock()

	out := make(chan chain.Account)
	errs := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case v := <-feed:
				select {
				case out <- v:
				case <-stop:
					return
				}
			case err := <-errFeed:
				errs <- err
				return
			case <-stop:
				return
			}
		}
	}()
	return chain.NewSubscription[chain.Account](out, errs, func() { close(stop) }), nil
}

// emit pushes a new free balance to the watcher of address.
func (c *fakeConn) emit(address, base string) {
	c.setFree(address, base)
	c.mu.Lock()
	feed := c.feeds[address]
	acct := c.account(address)
	c.mu.Unlock()
	feed <- acct
}

func (c *fakeConn) failWatch(address string, err error) {
	c.mu.Lock()
	ch := c.watchErr[address]
	c.mu.Unlock()
	ch <- err
}

func (c *fakeConn) Transfer(receiver string, amount *big.Int) chain.Transfer {
	return &fakeTransfer{conn: c, receiver: receiver, amount: amount}
}

func (c *fakeConn) transfers() []sentTransfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentTransfer(nil), c.sent...)
}

type fakeTransfer struct {
	conn     *fakeConn
	receiver string
	amount   *big.Int
}

func (t *fakeTransfer) SignAndBroadcast(ctx context.Context, sender string, signer chain.Signer) (*chain.Subscription[chain.StatusEvent], error) {
	c := t.conn
	c.broadcasts.Add(1)
	if c.broadcastGate != nil {
		select {
		case <-c.broadcastGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if _, err := signer.SignPayload(ctx, []byte("payload")); err != nil {
		return nil, err
	}
	if c.broadcastErr != nil {
		return nil, c.broadcastErr
	}
	c.mu.Lock()
	c.sent = append(c.sent, sentTransfer{sender: sender, receiver: t.receiver, amount: t.amount})
	c.mu.Unlock()
	return stream(c.script, c.streamErr, c.hold), nil
}

func stream[T any](events []T, tail error, hold bool) *chain.Subscription[T] {
	out := make(chan T)
	errs := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		defer close(out)
		for _, ev := range events {
			select {
			case out <- ev:
			case <-stop:
				return
			}
		}
		if tail != nil {
			errs <- tail
			return
		}
		if hold {
			<-stop
		}
	}()
	return chain.NewSubscription[T](out, errs, func() { close(stop) })
}

type fakeSigner struct{ address string }

func (s fakeSigner) Address() string   { return s.address }
func (s fakeSigner) PublicKey() []byte { return make([]byte, 32) }
func (s fakeSigner) SignPayload(ctx context.Context, payload []byte) ([]byte, error) {
	return make([]byte, 64), ctx.Err()
}

type fakeWallet struct {
	exts      []wallet.Extension
	authErr   error
	signerErr error
	panics    bool

	authRequests   atomic.Int32
	signerRequests atomic.Int32
}

func grantedWallet() *fakeWallet {
	return &fakeWallet{exts: []wallet.Extension{{Name: "test", Accounts: []string{alice}}}}
}

func (w *fakeWallet) RequestAuthorization(context.Context, string) ([]wallet.Extension, error) {
	w.authRequests.Add(1)
	return w.exts, w.authErr
}

func (w *fakeWallet) SignerFor(_ context.Context, address string) (chain.Signer, error) {
	w.signerRequests.Add(1)
	if w.panics {
		panic("signer exploded")
	}
	if w.signerErr != nil {
		return nil, w.signerErr
	}
	if address != alice {
		return nil, errors.Join(wallet.ErrNoSigner, errors.New(address))
	}
	return fakeSigner{address: address}, nil
}

// stateLog records every state the controller publishes.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

// loadingEdges counts transitions into and out of the loading state.
func (l *stateLog) loadingEdges() (started, finished int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := false
	for _, s := range l.states {
		switch {
		case s.Button.Loading && !prev:
			started++
		case !s.Button.Loading && prev:
			finished++
		}
		prev = s.Button.Loading
	}
	return started, finished
}
