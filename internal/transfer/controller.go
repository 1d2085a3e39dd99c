// Package transfer holds the transfer form controller: form and button
// state, the balance view, and the submit flow from wallet authorization to
// block inclusion.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jask/dotsend/internal/chain"
	"github.com/jask/dotsend/internal/database/repository"
	"github.com/jask/dotsend/internal/notify"
	"github.com/jask/dotsend/internal/wallet"
)

const (
	DefaultOrigin           = "PolkaDot.JS Extension"
	DefaultInclusionTimeout = 2 * time.Minute

	MsgCompleted = "Transaction completed. Updating Balance...."
)

// Form is what the user typed.
type Form struct {
	Sender   string
	Receiver string
	Amount   string
}

// Button is the submit control. It is disabled while Loading.
type Button struct {
	Loading      bool
	Label        string
	LoadingLabel string
}

func (b Button) Text() string {
	if b.Loading {
		return b.LoadingLabel
	}
	return b.Label
}

// State is a snapshot of everything the view renders.
type State struct {
	Form    Form
	Button  Button
	Balance string
}

// Receipt describes a transfer that made it into a block.
type Receipt struct {
	ID       string
	Sender   string
	Receiver string
	Amount   *big.Int
	Display  string
	Block    string
}

type Options struct {
	Origin           string
	InclusionTimeout time.Duration
	// NearMissDistance enables the receiver typo warning when > 0.
	NearMissDistance int
}

type Deps struct {
	Conn     *chain.Lazy
	Wallet   wallet.Authority
	Notify   notify.Sink
	Balances BalanceStrategy
	// Journal is optional.
	Journal Journal
	Log     *zap.Logger
	// OnChange is called with the new state after every change, outside any
	// lock, possibly from a background goroutine.
	OnChange func(State)
}

type Controller struct {
	conn     *chain.Lazy
	wallet   wallet.Authority
	sink     notify.Sink
	balances BalanceStrategy
	journal  Journal
	log      *zap.Logger
	onChange func(State)
	opts     Options

	mu         sync.Mutex
	form       Form
	button     Button
	balance    string
	balanceFor string
}

func New(d Deps, opts Options) *Controller {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Balances == nil {
		d.Balances = NewPull(0, d.Log)
	}
	if opts.Origin == "" {
		opts.Origin = DefaultOrigin
	}
	if opts.InclusionTimeout == 0 {
		opts.InclusionTimeout = DefaultInclusionTimeout
	}
	return &Controller{
		conn:     d.Conn,
		wallet:   d.Wallet,
		sink:     d.Notify,
		balances: d.Balances,
		journal:  d.Journal,
		log:      d.Log,
		onChange: d.OnChange,
		opts:     opts,
		form:     Form{Amount: "0"},
		button:   Button{Label: "Make Transfer", LoadingLabel: "Making Transfer . . . ."},
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Form: c.form, Button: c.button, Balance: c.balance}
}

func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.button.Loading
}

func (c *Controller) SetForm(f Form) {
	c.mu.Lock()
	c.form = f
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange(c.State())
	}
}

// QueryBalance refreshes the balance view for address. A blank address is
// ignored. Failures are notified and returned.
func (c *Controller) QueryBalance(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}
	c.mu.Lock()
	c.balanceFor = address
	c.mu.Unlock()

	conn, err := c.conn.Get(ctx)
	if err != nil {
		c.sink.Error(err.Error())
		return err
	}
	err = c.balances.Balance(ctx, conn, address, func(u Update) {
		c.applyBalance(conn, address, u)
	})
	if err != nil {
		c.conn.InvalidateOn(conn, err)
		if !errors.Is(err, context.Canceled) {
			c.sink.Error(err.Error())
		}
		return err
	}
	return nil
}

func (c *Controller) applyBalance(conn chain.Connection, address string, u Update) {
	if u.Err != nil {
		c.conn.InvalidateOn(conn, u.Err)
		c.sink.Error(u.Err.Error())
		return
	}
	view := chain.FormatBalance(u.Account.Free, conn.Decimals(), conn.Symbol())
	c.mu.Lock()
	if c.balanceFor != address {
		c.mu.Unlock()
		return
	}
	c.balance = view
	c.mu.Unlock()
	c.log.Debug("Balance", zap.String("address", address), zap.String("free", view), zap.Uint64("nonce", u.Account.Nonce))
	c.changed()
}

// SubmitTransfer fills the form and submits it. The form is only replaced
// when no submission is in flight.
func (c *Controller) SubmitTransfer(ctx context.Context, sender, receiver, amount string) (Receipt, error) {
	form, ok := c.start(&Form{Sender: sender, Receiver: receiver, Amount: amount})
	if !ok {
		return Receipt{}, ErrSubmitInFlight
	}
	return c.run(ctx, form)
}

// Submit sends the form's transfer and waits until it is in a block. At most
// one submission runs at a time; a second call returns ErrSubmitInFlight and
// does nothing else. Every other failure is notified and returned as a
// *Failure, and the button always ends up idle.
func (c *Controller) Submit(ctx context.Context) (Receipt, error) {
	form, ok := c.start(nil)
	if !ok {
		return Receipt{}, ErrSubmitInFlight
	}
	return c.run(ctx, form)
}

// start claims the button and returns the form to submit. When set is not
// nil it replaces the form in the same critical section.
func (c *Controller) start(set *Form) (Form, bool) {
	c.mu.Lock()
	if c.button.Loading {
		c.mu.Unlock()
		return Form{}, false
	}
	if set != nil {
		c.form = *set
	}
	c.button.Loading = true
	form := c.form
	c.mu.Unlock()
	c.changed()
	return form, true
}

func (c *Controller) run(ctx context.Context, form Form) (receipt Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Submit panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = &Failure{Kind: KindUnexpected, Err: fmt.Errorf("%v", r)}
		}
		if err != nil {
			f := fail(KindUnexpected, err)
			err = f
			if f.Kind == KindWalletUnavailable {
				c.sink.Info(f.Error())
			} else {
				c.sink.Error(f.Error())
			}
		}
		c.mu.Lock()
		c.button.Loading = false
		c.mu.Unlock()
		c.changed()
	}()

	return c.submit(ctx, form)
}

func (c *Controller) submit(ctx context.Context, form Form) (Receipt, error) {
	sender := strings.TrimSpace(form.Sender)
	receiver := strings.TrimSpace(form.Receiver)

	conn, err := c.conn.Get(ctx)
	if err != nil {
		return Receipt{}, fail(KindUnexpected, err)
	}

	exts, err := c.wallet.RequestAuthorization(ctx, c.opts.Origin)
	if err != nil {
		return Receipt{}, fail(KindUnexpected, err)
	}
	if len(exts) == 0 {
		return Receipt{}, fail(KindWalletUnavailable, ErrWalletUnavailable)
	}

	signer, err := c.wallet.SignerFor(ctx, sender)
	if err != nil {
		return Receipt{}, fail(KindSubmission, err)
	}

	decimals := conn.Decimals()
	amount, err := chain.ToBaseUnits(form.Amount, decimals)
	if err != nil {
		return Receipt{}, fail(KindSubmission, err)
	}
	receipt := Receipt{
		ID:       uuid.NewString(),
		Sender:   sender,
		Receiver: receiver,
		Amount:   amount,
		Display:  chain.FormatUnits(amount, decimals) + " " + conn.Symbol(),
	}

	c.warnNearMiss(ctx, sender, receiver)
	c.record(ctx, conn, receipt)

	sub, err := conn.Transfer(receiver, amount).SignAndBroadcast(ctx, sender, signer)
	if err != nil {
		c.conn.InvalidateOn(conn, err)
		c.finish(ctx, receipt.ID, "", err)
		return Receipt{}, fail(KindSubmission, err)
	}
	defer sub.Unsubscribe()
	c.log.Info("Transfer broadcast",
		zap.String("id", receipt.ID),
		zap.String("sender", sender),
		zap.String("receiver", receiver),
		zap.String("amount", amount.String()))

	block, err := c.awaitInclusion(ctx, conn, sub)
	c.finish(ctx, receipt.ID, block, err)
	if err != nil {
		return Receipt{}, err
	}
	receipt.Block = block

	c.sink.Info(MsgCompleted)
	c.balances.Forget(sender)
	_ = c.QueryBalance(ctx, sender)
	return receipt, nil
}

// awaitInclusion follows the status stream until the transaction is in a
// block, fails, or the inclusion timeout passes.
func (c *Controller) awaitInclusion(ctx context.Context, conn chain.Connection, sub *chain.Subscription[chain.StatusEvent]) (string, error) {
	timer := time.NewTimer(c.opts.InclusionTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-sub.Values():
			if !ok {
				select {
				case err := <-sub.Err():
					c.conn.InvalidateOn(conn, err)
					return "", fail(KindSubmission, err)
				default:
					return "", fail(KindSubmission, errors.New("status stream ended before the transaction was included"))
				}
			}
			switch {
			case ev.Status.Included():
				c.log.Info("Completed at block hash", zap.String("block", ev.Block))
				return ev.Block, nil
			case ev.Status.Failed():
				return "", fail(KindSubmission, fmt.Errorf("transaction %s", ev.Status))
			default:
				c.log.Info("Current status", zap.Stringer("status", ev.Status), zap.String("block", ev.Block))
			}
		case err := <-sub.Err():
			c.conn.InvalidateOn(conn, err)
			return "", fail(KindSubmission, err)
		case <-timer.C:
			return "", fail(KindSubmission, ErrInclusionTimeout)
		case <-ctx.Done():
			return "", fail(KindUnexpected, ctx.Err())
		}
	}
}

func (c *Controller) warnNearMiss(ctx context.Context, sender, receiver string) {
	if c.journal == nil || c.opts.NearMissDistance <= 0 {
		return
	}
	known, err := c.journal.Receivers(ctx, sender)
	if err != nil {
		c.log.Warn("Read journal receivers", zap.Error(err))
		return
	}
	if prev, d, ok := NearMiss(receiver, known, c.opts.NearMissDistance); ok {
		c.sink.Info(fmt.Sprintf("Receiver is %d edit(s) away from %s, used before. Check for a typo.", d, prev))
	}
}

func (c *Controller) record(ctx context.Context, conn chain.Connection, r Receipt) {
	if c.journal == nil {
		return
	}
	err := c.journal.Record(context.WithoutCancel(ctx), repository.Transfer{
		ID:            r.ID,
		Endpoint:      conn.Endpoint(),
		Sender:        r.Sender,
		Receiver:      r.Receiver,
		Amount:        r.Amount.String(),
		DisplayAmount: r.Display,
		Status:        repository.TransferSubmitted,
	})
	if err != nil {
		c.log.Warn("Record transfer", zap.String("id", r.ID), zap.Error(err))
	}
}

func (c *Controller) finish(ctx context.Context, id, block string, cause error) {
	if c.journal == nil {
		return
	}
	status, blockHash, errMsg := repository.TransferInBlock, &block, (*string)(nil)
	if cause != nil {
		msg := cause.Error()
		status, blockHash, errMsg = repository.TransferFailed, nil, &msg
	}
	if err := c.journal.Finish(context.WithoutCancel(ctx), id, status, blockHash, errMsg); err != nil {
		c.log.Warn("Finish transfer", zap.String("id", id), zap.Error(err))
	}
}

// Close stops any standing balance watch.
func (c *Controller) Close() {
	c.balances.Close()
}
