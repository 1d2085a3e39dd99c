// Package substrate implements chain.Provider on top of
// go-substrate-rpc-client. Storage encoding, extrinsic construction and the
// RPC transport all stay inside that library.
package substrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/vedhavyas/go-subkey/v2"
	"go.uber.org/zap"

	"github.com/jask/dotsend/internal/chain"
)

// DefaultTransferCalls are tried in order until one exists in the runtime
// metadata. Older runtimes only know Balances.transfer.
var DefaultTransferCalls = []string{
	"Balances.transfer_allow_death",
	"Balances.transfer",
	"Balances.transfer_keep_alive",
}

// Options tune how chain properties are read.
type Options struct {
	// Decimals overrides the chain's tokenDecimals when > 0.
	Decimals int
	// Unit overrides the chain's tokenSymbol when set.
	Unit          string
	TransferCalls []string
}

// Provider dials Substrate nodes over websocket.
type Provider struct {
	opts Options
	log  *zap.Logger
}

func NewProvider(opts Options, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	if len(opts.TransferCalls) == 0 {
		opts.TransferCalls = DefaultTransferCalls
	}
	return &Provider{opts: opts, log: log}
}

// Connect dials endpoint and loads the metadata, properties and genesis hash
// the connection needs for reads and transfers.
func (p *Provider) Connect(ctx context.Context, endpoint string) (chain.Connection, error) {
	conn, err := call(ctx, func() (*Conn, error) { return p.dial(endpoint) }, func(c *Conn) { _ = c.Close() })
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (p *Provider) dial(endpoint string) (*Conn, error) {
	api, err := gsrpc.NewSubstrateAPI(endpoint)
	if err != nil {
		return nil, classify(err)
	}
	conn := &Conn{api: api, endpoint: endpoint, calls: p.opts.TransferCalls, log: p.log}

	if conn.meta, err = api.RPC.State.GetMetadataLatest(); err != nil {
		api.Client.Close()
		return nil, fmt.Errorf("load metadata: %w", classify(err))
	}
	if conn.genesis, err = api.RPC.Chain.GetBlockHash(0); err != nil {
		api.Client.Close()
		return nil, fmt.Errorf("load genesis hash: %w", classify(err))
	}
	props, err := api.RPC.System.Properties()
	if err != nil {
		p.log.Warn("Chain properties unavailable", zap.String("endpoint", endpoint), zap.Error(err))
	}

	conn.decimals = p.opts.Decimals
	if conn.decimals <= 0 && props.IsTokenDecimals {
		conn.decimals = int(props.AsTokenDecimals)
	}
	conn.symbol = p.opts.Unit
	if conn.symbol == "" && props.IsTokenSymbol {
		conn.symbol = string(props.AsTokenSymbol)
	}
	return conn, nil
}

// Conn is one websocket session with a node.
type Conn struct {
	api      *gsrpc.SubstrateAPI
	endpoint string
	meta     *types.Metadata
	genesis  types.Hash
	decimals int
	symbol   string
	calls    []string
	log      *zap.Logger
}

func (c *Conn) Endpoint() string { return c.endpoint }
func (c *Conn) Decimals() int    { return c.decimals }
func (c *Conn) Symbol() string   { return c.symbol }

func (c *Conn) Close() error {
	c.api.Client.Close()
	return nil
}

// QueryAccount reads System.Account for address. Accounts that do not exist
// yet read as zero.
func (c *Conn) QueryAccount(ctx context.Context, address string) (chain.Account, error) {
	key, err := c.accountKey(address)
	if err != nil {
		return chain.Account{}, err
	}
	return call(ctx, func() (chain.Account, error) {
		var info types.AccountInfo
		ok, err := c.api.RPC.State.GetStorageLatest(key, &info)
		if err != nil {
			return chain.Account{}, classify(err)
		}
		if !ok {
			return emptyAccount(address), nil
		}
		return accountFromInfo(address, info), nil
	}, nil)
}

// WatchAccount subscribes to System.Account for address. The node answers a
// storage subscription with the current value first.
func (c *Conn) WatchAccount(ctx context.Context, address string) (*chain.Subscription[chain.Account], error) {
	key, err := c.accountKey(address)
	if err != nil {
		return nil, err
	}
	sub, err := c.api.RPC.State.SubscribeStorageRaw([]types.StorageKey{key})
	if err != nil {
		return nil, fmt.Errorf("subscribe account %s: %w", address, classify(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan chain.Account)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case set, ok := <-sub.Chan():
				if !ok {
					return
				}
				acct, found, err := accountFromChangeSet(address, key, set)
				if err != nil {
					errs <- err
					return
				}
				if !found {
					continue
				}
				select {
				case out <- acct:
				case <-ctx.Done():
					return
				}
			case err := <-sub.Err():
				errs <- classify(err)
				return
			}
		}
	}()
	return chain.NewSubscription[chain.Account](out, errs, cancel), nil
}

func (c *Conn) accountKey(address string) (types.StorageKey, error) {
	pub, err := DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	key, err := types.CreateStorageKey(c.meta, "System", "Account", pub)
	if err != nil {
		return nil, fmt.Errorf("storage key for %s: %w", address, err)
	}
	return key, nil
}

func (c *Conn) Transfer(receiver string, amount *big.Int) chain.Transfer {
	return &transfer{conn: c, receiver: receiver, amount: new(big.Int).Set(amount)}
}

// DecodeAddress returns the public key behind an SS58 address or a 0x-prefixed
// hex account id.
func DecodeAddress(address string) ([]byte, error) {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "0x") {
		pub, err := codec.HexDecodeString(address)
		if err != nil || len(pub) != 32 {
			return nil, fmt.Errorf("decode address %q: expected 32-byte hex account id", address)
		}
		return pub, nil
	}
	_, pub, err := subkey.SS58Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	return pub, nil
}

func emptyAccount(address string) chain.Account {
	return chain.Account{Address: address, Free: big.NewInt(0)}
}

func accountFromInfo(address string, info types.AccountInfo) chain.Account {
	acct := emptyAccount(address)
	if info.Data.Free.Int != nil {
		acct.Free = new(big.Int).Set(info.Data.Free.Int)
	}
	acct.Nonce = uint64(info.Nonce)
	return acct
}

func accountFromChangeSet(address string, key types.StorageKey, set types.StorageChangeSet) (chain.Account, bool, error) {
	for _, change := range set.Changes {
		if !bytes.Equal(change.StorageKey, key) {
			continue
		}
		if !change.HasStorageData {
			return emptyAccount(address), true, nil
		}
		var info types.AccountInfo
		if err := codec.Decode(change.StorageData, &info); err != nil {
			return chain.Account{}, false, fmt.Errorf("decode account %s: %w", address, err)
		}
		return accountFromInfo(address, info), true, nil
	}
	return chain.Account{}, false, nil
}

// classify tags transport failures with chain.ErrDisconnected.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var opErr *net.OpError
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.As(err, &opErr),
		strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "client is closed"):
		return fmt.Errorf("%w: %v", chain.ErrDisconnected, err)
	}
	return err
}

// call runs a blocking library call while honouring ctx. If ctx ends first,
// the result is handed to discard once it arrives.
func call[T any](ctx context.Context, fn func() (T, error), discard func(T)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		if discard != nil {
			go func() {
				if r := <-done; r.err == nil {
					discard(r.val)
				}
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}
