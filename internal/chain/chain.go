// Package chain describes the contracts dotsend relies on to talk to a
// Substrate-style network: a Provider that opens Connections, account reads,
// account watches and signed balance transfers observed as a status stream.
package chain

import (
	"context"
	"errors"
	"math/big"
)

// ErrDisconnected marks failures caused by the transport going away. Holders
// of a Connection drop it when they see this error.
var ErrDisconnected = errors.New("chain: connection lost")

// Provider opens connections to a network endpoint.
type Provider interface {
	Connect(ctx context.Context, endpoint string) (Connection, error)
}

// Connection is a live handle to one endpoint.
type Connection interface {
	Endpoint() string
	// Decimals is the number of base units per display unit, as a power of ten.
	Decimals() int
	Symbol() string
	QueryAccount(ctx context.Context, address string) (Account, error)
	// WatchAccount streams account state. The first value delivered is the
	// state at subscription time, later values are changes.
	WatchAccount(ctx context.Context, address string) (*Subscription[Account], error)
	Transfer(receiver string, amount *big.Int) Transfer
	Close() error
}

// Transfer is a balance transfer intent waiting for a signature.
type Transfer interface {
	SignAndBroadcast(ctx context.Context, sender string, signer Signer) (*Subscription[StatusEvent], error)
}

// Signer signs transaction payloads on behalf of one account. Implementations
// keep their key material to themselves.
type Signer interface {
	Address() string
	PublicKey() []byte
	SignPayload(ctx context.Context, payload []byte) ([]byte, error)
}

// Account is the balance-relevant part of an account's on-chain state.
type Account struct {
	Address string
	Free    *big.Int
	Nonce   uint64
}

// Status is the lifecycle state of a broadcast transaction.
type Status int

const (
	StatusUnknown Status = iota
	StatusFuture
	StatusReady
	StatusBroadcast
	StatusInBlock
	StatusRetracted
	StatusFinalityTimeout
	StatusFinalized
	StatusUsurped
	StatusDropped
	StatusInvalid
)

var statusNames = map[Status]string{
	StatusUnknown:         "unknown",
	StatusFuture:          "future",
	StatusReady:           "ready",
	StatusBroadcast:       "broadcast",
	StatusInBlock:         "inBlock",
	StatusRetracted:       "retracted",
	StatusFinalityTimeout: "finalityTimeout",
	StatusFinalized:       "finalized",
	StatusUsurped:         "usurped",
	StatusDropped:         "dropped",
	StatusInvalid:         "invalid",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Included reports whether the transaction made it into a block.
func (s Status) Included() bool { return s == StatusInBlock }

// Failed reports whether the pool gave up on the transaction.
func (s Status) Failed() bool {
	return s == StatusUsurped || s == StatusDropped || s == StatusInvalid
}

// Pending reports whether the transaction is still waiting in the pool.
func (s Status) Pending() bool {
	return s == StatusFuture || s == StatusReady || s == StatusBroadcast
}

// StatusEvent is one step of a broadcast transaction. Block is set for
// statuses that refer to a block.
type StatusEvent struct {
	Status Status
	Block  string
}
