package transfer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jask/dotsend/internal/chain"
	"github.com/jask/dotsend/internal/database"
	"github.com/jask/dotsend/internal/database/repository"
	"github.com/jask/dotsend/internal/notify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	ctrl     *Controller
	conn     *fakeConn
	provider *fakeProvider
	wallet   *fakeWallet
	sink     *notify.Recorder
	states   *stateLog
	// onState, when set before the first change, sees every published state.
	onState func(State)
}

func newHarness(t *testing.T, strategy BalanceStrategy, opts Options, journal Journal) *harness {
	t.Helper()
	conn := newFakeConn()
	conn.script = []chain.StatusEvent{
		{Status: chain.StatusFuture},
		{Status: chain.StatusReady},
		{Status: chain.StatusBroadcast},
		{Status: chain.StatusInBlock, Block: "0xfeed"},
	}
	h := &harness{
		conn:     conn,
		provider: &fakeProvider{conn: conn},
		wallet:   grantedWallet(),
		sink:     &notify.Recorder{},
		states:   &stateLog{},
	}
	lazy := chain.NewLazy(h.provider, "ws://fake", nil)
	if strategy == nil {
		strategy = NewPull(0, nil)
	}
	h.ctrl = New(Deps{
		Conn:     lazy,
		Wallet:   h.wallet,
		Notify:   h.sink,
		Balances: strategy,
		Journal:  journal,
		OnChange: func(s State) {
			h.states.record(s)
			if h.onState != nil {
				h.onState(s)
			}
		},
	}, opts)
	t.Cleanup(func() {
		h.ctrl.Close()
		_ = lazy.Close()
	})
	return h
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewControllerDefaults(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	st := h.ctrl.State()
	require.Equal(t, "0", st.Form.Amount)
	require.Equal(t, "Make Transfer", st.Button.Text())
	require.Empty(t, st.Balance)

	st.Button.Loading = true
	require.Equal(t, "Making Transfer . . . .", st.Button.Text())
}

func TestQueryBalanceIgnoresBlankAddress(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	for _, addr := range []string{"", " ", "\t\n  "} {
		require.NoError(t, h.ctrl.QueryBalance(testCtx(t), addr))
	}
	require.Zero(t, h.provider.dials.Load())
	require.Empty(t, h.ctrl.State().Balance)
	require.Empty(t, h.sink.Notices())
}

func TestQueryBalanceFormatsWithChainDecimals(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.conn.setFree(alice, "2500000000000")

	require.NoError(t, h.ctrl.QueryBalance(testCtx(t), "  "+alice+" "))
	require.Equal(t, "2.5000 DOT", h.ctrl.State().Balance)
	require.EqualValues(t, 1, h.provider.dials.Load())

	// The connection is reused.
	require.NoError(t, h.ctrl.QueryBalance(testCtx(t), alice))
	require.EqualValues(t, 1, h.provider.dials.Load())
	require.Equal(t, 2, h.conn.queryCount(alice))
}

func TestQueryBalanceReportsFailures(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.conn.queryErr = errors.New("rpc: state_getStorage failed")

	err := h.ctrl.QueryBalance(testCtx(t), alice)
	require.ErrorContains(t, err, "state_getStorage")
	require.Equal(t, []string{"rpc: state_getStorage failed"}, h.sink.Messages(notify.LevelError))
	require.Empty(t, h.ctrl.State().Balance)
}

func TestQueryBalanceDropsConnectionOnDisconnect(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.conn.queryErr = fmt.Errorf("%w: EOF", chain.ErrDisconnected)
	require.Error(t, h.ctrl.QueryBalance(testCtx(t), alice))

	h.conn.mu.Lock()
	h.conn.queryErr = nil
	h.conn.mu.Unlock()
	require.NoError(t, h.ctrl.QueryBalance(testCtx(t), alice))
	require.EqualValues(t, 2, h.provider.dials.Load())
}

func TestQueryBalanceIgnoresStaleAddress(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.conn.setFree(alice, "1000000000000")
	h.conn.setFree(bob, "3000000000000")
	gate := h.conn.gate(alice)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.QueryBalance(testCtx(t), alice) }()
	require.Eventually(t, func() bool { return h.conn.queryCount(alice) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.ctrl.QueryBalance(testCtx(t), bob))
	require.Equal(t, "3.0000 DOT", h.ctrl.State().Balance)

	close(gate)
	require.NoError(t, <-done)
	require.Equal(t, "3.0000 DOT", h.ctrl.State().Balance)
}

func TestSubmitScalesAmountAndCompletesOnInBlock(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.conn.setFree(alice, "7000000000000")

	receipt, err := h.ctrl.SubmitTransfer(testCtx(t), alice, bob, "2.5")
	require.NoError(t, err)
	require.Equal(t, "2500000000000", receipt.Amount.String())
	require.Equal(t, "2.5 DOT", receipt.Display)
	require.Equal(t, "0xfeed", receipt.Block)

	sent := h.conn.transfers()
	require.Len(t, sent, 1)
	require.Equal(t, "2500000000000", sent[0].amount.String())
	require.Equal(t, bob, sent[0].receiver)
	require.Equal(t, alice, sent[0].sender)

	// Exactly one balance refresh and one loading cycle, whatever the number
	// of statuses before inclusion.
	require.Equal(t, 1, h.conn.queryCount(alice))
	started, finished := h.states.loadingEdges()
	require.Equal(t, 1, started)
	require.Equal(t, 1, finished)
	require.False(t, h.ctrl.Loading())

	require.Equal(t, []notify.Notice{{Level: notify.LevelInfo, Message: MsgCompleted}}, h.sink.Notices())
	require.Equal(t, "7.0000 DOT", h.ctrl.State().Balance)
}

func TestSubmitRefreshDoesNotJoinOlderRead(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.conn.setFree(alice, "7000000000000")
	gate := h.conn.gate(alice)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.QueryBalance(testCtx(t), alice) }()
	require.Eventually(t, func() bool { return h.conn.queryCount(alice) == 1 }, time.Second, 5*time.Millisecond)

	h.conn.ungate(alice)
	h.conn.setFree(alice, "5000000000000")
	_, err := h.ctrl.SubmitTransfer(testCtx(t), alice, bob, "2")
	require.NoError(t, err)
	require.Equal(t, 2, h.conn.queryCount(alice))
	require.Equal(t, "5.0000 DOT", h.ctrl.State().Balance)

	close(gate)
	require.NoError(t, <-done)
	require.Equal(t, "5.0000 DOT", h.ctrl.State().Balance)
}

func TestSubmitZeroAmountIsLeftToTheNode(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)

	receipt, err := h.ctrl.SubmitTransfer(testCtx(t), alice, bob, "0")
	require.NoError(t, err)
	require.Equal(t, "0 DOT", receipt.Display)
	sent := h.conn.transfers()
	require.Len(t, sent, 1)
	require.Zero(t, sent[0].amount.Sign())
}

func TestSubmitWhileLoadingIsNoop(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.conn.broadcastGate = make(chan struct{})
	h.ctrl.SetForm(Form{Sender: alice, Receiver: bob, Amount: "1"})

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Submit(testCtx(t))
		done <- err
	}()
	require.Eventually(t, func() bool { return h.conn.broadcasts.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, h.ctrl.Loading())

	_, err := h.ctrl.Submit(testCtx(t))
	require.ErrorIs(t, err, ErrSubmitInFlight)
	_, err = h.ctrl.SubmitTransfer(testCtx(t), alice, bob, "9")
	require.ErrorIs(t, err, ErrSubmitInFlight)
	require.EqualValues(t, 1, h.wallet.authRequests.Load())
	require.Equal(t, "1", h.ctrl.State().Form.Amount)

	close(h.conn.broadcastGate)
	require.NoError(t, <-done)
	require.False(t, h.ctrl.Loading())
	require.Len(t, h.conn.transfers(), 1)
}

func TestSubmitTransferKeepsItsOwnForm(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	// Another writer edits the form as soon as the submission is visible.
	var edited atomic.Bool
	h.onState = func(s State) {
		if s.Form.Receiver == bob && edited.CompareAndSwap(false, true) {
			h.ctrl.SetForm(Form{Sender: alice, Receiver: alice, Amount: "9"})
		}
	}

	receipt, err := h.ctrl.SubmitTransfer(testCtx(t), alice, bob, "1")
	require.NoError(t, err)
	require.Equal(t, bob, receipt.Receiver)
	sent := h.conn.transfers()
	require.Len(t, sent, 1)
	require.Equal(t, bob, sent[0].receiver)
	require.Equal(t, "1000000000000", sent[0].amount.String())
	require.True(t, edited.Load())
}

func TestConcurrentSubmitTransferBroadcastsCallerForm(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	amounts := map[string]string{bob: "1000000000000", alice: "2000000000000"}

	ctx := testCtx(t)
	succeeded := map[string]int{}
	for round := 0; round < 50; round++ {
		var wg sync.WaitGroup
		receipts := make([]Receipt, 2)
		errs := make([]error, 2)
		for i, tc := range []struct{ receiver, amount string }{{bob, "1"}, {alice, "2"}} {
			wg.Add(1)
			go func(i int, receiver, amount string) {
				defer wg.Done()
				receipts[i], errs[i] = h.ctrl.SubmitTransfer(ctx, alice, receiver, amount)
			}(i, tc.receiver, tc.amount)
		}
		wg.Wait()
		for i, want := range []string{bob, alice} {
			if errs[i] != nil {
				require.ErrorIs(t, errs[i], ErrSubmitInFlight)
				continue
			}
			require.Equal(t, want, receipts[i].Receiver)
			require.Equal(t, amounts[want], receipts[i].Amount.String())
			succeeded[want]++
		}
	}

	broadcast := map[string]int{}
	for _, s := range h.conn.transfers() {
		require.Equal(t, amounts[s.receiver], s.amount.String(), "receiver %s", s.receiver)
		broadcast[s.receiver]++
	}
	require.Equal(t, succeeded, broadcast)
	require.False(t, h.ctrl.Loading())
}

func TestSubmitWithoutWalletResetsLoading(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.wallet.exts = nil

	_, err := h.ctrl.SubmitTransfer(testCtx(t), alice, bob, "1")
	require.ErrorIs(t, err, ErrWalletUnavailable)
	require.Equal(t, KindWalletUnavailable, KindOf(err))

	require.False(t, h.ctrl.Loading())
	require.Equal(t, []notify.Notice{{Level: notify.LevelInfo, Message: "No extension found"}}, h.sink.Notices())
	require.Zero(t, h.wallet.signerRequests.Load())
	require.Zero(t, h.conn.broadcasts.Load())
	_, finished := h.states.loadingEdges()
	require.Equal(t, 1, finished)
}

func TestSubmitBroadcastRejected(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.conn.setFree(alice, "1000000000000")
	require.NoError(t, h.ctrl.QueryBalance(testCtx(t), alice))
	h.conn.broadcastErr = errors.New("Inability to pay fees")

	_, err := h.ctrl.SubmitTransfer(testCtx(t), alice, bob, "1")
	require.Equal(t, KindSubmission, KindOf(err))
	require.Equal(t, "Inability to pay fees", err.Error())
	require.Equal(t, []string{"Inability to pay fees"}, h.sink.Messages(notify.LevelError))
	require.False(t, h.ctrl.Loading())
	require.Equal(t, "1.0000 DOT", h.ctrl.State().Balance)
	require.Equal(t, 1, h.conn.queryCount(alice))
}

func TestSubmitFailures(t *testing.T) {
	cases := map[string]struct {
		setup func(h *harness)
		kind  Kind
		want  string
	}{
		"signer unavailable": {
			setup: func(h *harness) { h.wallet.signerErr = errors.New("account locked") },
			kind:  KindSubmission,
			want:  "account locked",
		},
		"authorization error": {
			setup: func(h *harness) { h.wallet.authErr = errors.New("keystore unreadable") },
			kind:  KindUnexpected,
			want:  "keystore unreadable",
		},
		"invalid amount": {
			setup: func(h *harness) { h.ctrl.SetForm(Form{Sender: alice, Receiver: bob, Amount: "0.0000000000001"}) },
			kind:  KindSubmission,
			want:  "invalid amount",
		},
		"dropped": {
			setup: func(h *harness) {
				h.conn.script = []chain.StatusEvent{{Status: chain.StatusReady}, {Status: chain.StatusDropped}}
			},
			kind: KindSubmission,
			want: "transaction dropped",
		},
		"stream error": {
			setup: func(h *harness) {
				h.conn.script = []chain.StatusEvent{{Status: chain.StatusReady}}
				h.conn.streamErr = errors.New("subscription aborted")
			},
			kind: KindSubmission,
			want: "subscription aborted",
		},
		"stream ends early": {
			setup: func(h *harness) { h.conn.script = []chain.StatusEvent{{Status: chain.StatusBroadcast}} },
			kind:  KindSubmission,
			want:  "status stream ended",
		},
		"connect fails": {
			setup: func(h *harness) { h.provider.fail = errors.New("dial tcp: connection refused") },
			kind:  KindUnexpected,
			want:  "connection refused",
		},
		"panic": {
			setup: func(h *harness) { h.wallet.panics = true },
			kind:  KindUnexpected,
			want:  "signer exploded",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil, Options{}, nil)
			h.ctrl.SetForm(Form{Sender: alice, Receiver: bob, Amount: "1"})
			tc.setup(h)

			_, err := h.ctrl.Submit(testCtx(t))
			require.Error(t, err)
			require.Equal(t, tc.kind, KindOf(err))
			require.Contains(t, err.Error(), tc.want)

			errs := h.sink.Messages(notify.LevelError)
			require.Len(t, errs, 1)
			require.Equal(t, err.Error(), errs[0])
			require.False(t, h.ctrl.Loading())
			require.Zero(t, h.conn.queryCount(alice), "no balance refresh on failure")
		})
	}
}

func TestSubmitInclusionTimeout(t *testing.T) {
	h := newHarness(t, nil, Options{InclusionTimeout: 30 * time.Millisecond}, nil)
	h.conn.script = []chain.StatusEvent{{Status: chain.StatusReady}}
	h.conn.hold = true

	_, err := h.ctrl.SubmitTransfer(testCtx(t), alice, bob, "1")
	require.ErrorIs(t, err, ErrInclusionTimeout)
	require.False(t, h.ctrl.Loading())
	require.Len(t, h.sink.Messages(notify.LevelError), 1)
}

func TestSubmitDisconnectDropsConnection(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.conn.broadcastErr = fmt.Errorf("%w: write: broken pipe", chain.ErrDisconnected)

	_, err := h.ctrl.SubmitTransfer(testCtx(t), alice, bob, "1")
	require.ErrorIs(t, err, chain.ErrDisconnected)

	require.NoError(t, h.ctrl.QueryBalance(testCtx(t), alice))
	require.EqualValues(t, 2, h.provider.dials.Load())
}

func TestSubmitCancelled(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.conn.script = nil
	h.conn.hold = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.SubmitTransfer(ctx, alice, bob, "1")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(h.conn.transfers()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.False(t, h.ctrl.Loading())
}

func TestSubmitJournalAndNearMiss(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	require.NoError(t, database.RunMigrations(dbPath))
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := repository.NewTransferRepo(db)

	h := newHarness(t, nil, Options{NearMissDistance: 3}, repo)
	ctx := testCtx(t)

	first, err := h.ctrl.SubmitTransfer(ctx, alice, bob, "1.5")
	require.NoError(t, err)
	row, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, repository.TransferInBlock, row.Status)
	require.Equal(t, "0xfeed", *row.BlockHash)
	require.Equal(t, "1500000000000", row.Amount)
	require.Equal(t, "ws://fake", row.Endpoint)

	typo := bob[:len(bob)-1] + "x"
	h.conn.broadcastErr = errors.New("1010: Invalid Transaction")
	_, err = h.ctrl.SubmitTransfer(ctx, alice, typo, "1")
	require.Error(t, err)

	infos := h.sink.Messages(notify.LevelInfo)
	require.Len(t, infos, 2)
	require.Contains(t, infos[1], bob)

	failed, err := repo.List(ctx, repository.TransferFilters{Status: repository.TransferFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, typo, failed[0].Receiver)
	require.Equal(t, "1010: Invalid Transaction", *failed[0].Error)
}

func TestSubmitWithPushRefreshesFromWatch(t *testing.T) {
	h := newHarness(t, NewPush(nil), Options{}, nil)
	h.conn.setFree(alice, "5000000000000")
	require.NoError(t, h.ctrl.QueryBalance(testCtx(t), alice))
	require.Equal(t, "5.0000 DOT", h.ctrl.State().Balance)

	_, err := h.ctrl.SubmitTransfer(testCtx(t), alice, bob, "1")
	require.NoError(t, err)

	h.conn.emit(alice, "3900000000000")
	require.Eventually(t, func() bool { return h.ctrl.State().Balance == "3.9000 DOT" }, time.Second, 5*time.Millisecond)
}

func TestPushWatchErrorIsNotified(t *testing.T) {
	h := newHarness(t, NewPush(nil), Options{}, nil)
	require.NoError(t, h.ctrl.QueryBalance(testCtx(t), alice))

	h.conn.failWatch(alice, fmt.Errorf("%w: EOF", chain.ErrDisconnected))
	require.Eventually(t, func() bool { return len(h.sink.Messages(notify.LevelError)) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.ctrl.QueryBalance(testCtx(t), alice))
	require.EqualValues(t, 2, h.provider.dials.Load())
}
