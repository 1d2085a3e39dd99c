package transfer

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/jask/dotsend/internal/chain"
)

// Update is one balance observation, or the error that ended a watch.
type Update struct {
	Account chain.Account
	Err     error
}

// BalanceStrategy decides how account state reaches the balance view.
type BalanceStrategy interface {
	// Balance delivers the current state of address to update before it
	// returns nil. Strategies that keep watching call update again later,
	// from another goroutine, until the next Balance call or Close.
	Balance(ctx context.Context, conn chain.Connection, address string, update func(Update)) error
	// Forget makes the next Balance call for address read state that is at
	// least as new as the call itself.
	Forget(address string)
	Mode() string
	Close()
}

const (
	ModePull = "pull"
	ModePush = "push"
)

// NewStrategy returns the strategy for mode. ratePerSecond only applies to
// pull.
func NewStrategy(mode string, ratePerSecond float64, log *zap.Logger) (BalanceStrategy, error) {
	switch mode {
	case "", ModePull:
		return NewPull(ratePerSecond, log), nil
	case ModePush:
		return NewPush(log), nil
	}
	return nil, errors.New("unknown balance mode " + mode + " (want pull or push)")
}

// balanceKey scopes in-flight balance reads; one per address.
const balanceKey = "fetch-balance"

// Pull reads the account once per call. Calls for an address already being
// read share that read, and the latest result per address is kept.
type Pull struct {
	group   singleflight.Group
	limiter *rate.Limiter
	log     *zap.Logger

	mu     sync.Mutex
	seq    uint64
	latest map[string]reading
}

type reading struct {
	acct chain.Account
	seq  uint64
}

func NewPull(ratePerSecond float64, log *zap.Logger) *Pull {
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &Pull{
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		latest:  map[string]reading{},
	}
}

func (p *Pull) Mode() string { return ModePull }

func (p *Pull) Balance(ctx context.Context, conn chain.Connection, address string, update func(Update)) error {
	queryCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(balanceKey+"/"+address, func() (any, error) {
		if err := p.limiter.Wait(queryCtx); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.seq++
		seq := p.seq
		p.mu.Unlock()
		acct, err := conn.QueryAccount(queryCtx, address)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		if prev, ok := p.latest[address]; !ok || prev.seq < seq {
			p.latest[address] = reading{acct: acct, seq: seq}
		}
		p.mu.Unlock()
		p.log.Debug("Balance fetched", zap.String("address", address), zap.Uint64("nonce", acct.Nonce))
		return acct, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		// A read started later may already have finished; never go back.
		acct, ok := p.Latest(address)
		if !ok {
			acct = res.Val.(chain.Account)
		}
		update(Update{Account: acct})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forget detaches any read of address already in flight, so the next
// Balance call starts its own.
func (p *Pull) Forget(address string) {
	p.group.Forget(balanceKey + "/" + address)
}

// Latest returns the newest account state read for address.
func (p *Pull) Latest(address string) (chain.Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.latest[address]
	return r.acct, ok
}

func (p *Pull) Close() {}

// Push keeps one standing account subscription. The first value the node
// sends is the current state; every later value is a change.
type Push struct {
	log *zap.Logger

	mu  sync.Mutex
	cur *watch
}

type watch struct {
	address string
	conn    chain.Connection
	sub     *chain.Subscription[chain.Account]
	done    chan struct{}
	latest  chain.Account
}

func (w *watch) stop() {
	w.sub.Unsubscribe()
	<-w.done
}

func NewPush(log *zap.Logger) *Push {
	if log == nil {
		log = zap.NewNop()
	}
	return &Push{log: log}
}

func (p *Push) Mode() string { return ModePush }

// Forget is a no-op: watched values are already live.
func (p *Push) Forget(string) {}

func (p *Push) Balance(ctx context.Context, conn chain.Connection, address string, update func(Update)) error {
	p.mu.Lock()
	if w := p.cur; w != nil && w.address == address && w.conn == conn {
		acct := w.latest
		p.mu.Unlock()
		update(Update{Account: acct})
		return nil
	}
	p.mu.Unlock()

	sub, err := conn.WatchAccount(ctx, address)
	if err != nil {
		return err
	}
	first, err := firstValue(ctx, sub)
	if err != nil {
		sub.Unsubscribe()
		return err
	}

	w := &watch{address: address, conn: conn, sub: sub, done: make(chan struct{}), latest: first}
	p.mu.Lock()
	prev := p.cur
	p.cur = w
	p.mu.Unlock()
	if prev != nil {
		prev.stop()
	}
	p.log.Info("Watching balance", zap.String("address", address))

	update(Update{Account: first})
	go p.run(w, update)
	return nil
}

func firstValue(ctx context.Context, sub *chain.Subscription[chain.Account]) (chain.Account, error) {
	select {
	case v, ok := <-sub.Values():
		if ok {
			return v, nil
		}
		select {
		case err := <-sub.Err():
			return chain.Account{}, err
		default:
			return chain.Account{}, errors.New("account subscription ended before the first value")
		}
	case err := <-sub.Err():
		return chain.Account{}, err
	case <-ctx.Done():
		return chain.Account{}, ctx.Err()
	}
}

func (p *Push) run(w *watch, update func(Update)) {
	defer close(w.done)
	for {
		select {
		case v, ok := <-w.sub.Values():
			if !ok {
				select {
				case err := <-w.sub.Err():
					p.ended(w, err, update)
				default:
					p.forget(w)
				}
				return
			}
			p.mu.Lock()
			w.latest = v
			p.mu.Unlock()
			update(Update{Account: v})
		case err := <-w.sub.Err():
			p.ended(w, err, update)
			return
		}
	}
}

func (p *Push) ended(w *watch, err error, update func(Update)) {
	p.log.Warn("Balance watch ended", zap.String("address", w.address), zap.Error(err))
	p.forget(w)
	w.sub.Unsubscribe()
	update(Update{Err: err})
}

func (p *Push) forget(w *watch) {
	p.mu.Lock()
	if p.cur == w {
		p.cur = nil
	}
	p.mu.Unlock()
}

func (p *Push) Close() {
	p.mu.Lock()
	w := p.cur
	p.cur = nil
	p.mu.Unlock()
	if w != nil {
		w.stop()
	}
}
