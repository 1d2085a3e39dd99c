package substrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"go.uber.org/zap"

	"github.com/jask/dotsend/internal/chain"
)

type transfer struct {
	conn     *Conn
	receiver string
	amount   *big.Int
}

// SignAndBroadcast builds the balance transfer, has signer sign the payload
// and submits it, returning the extrinsic status stream.
func (t *transfer) SignAndBroadcast(ctx context.Context, sender string, signer chain.Signer) (*chain.Subscription[chain.StatusEvent], error) {
	c := t.conn
	senderPub, err := DecodeAddress(sender)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(senderPub, signer.PublicKey()) {
		return nil, fmt.Errorf("signer %s does not match sender %s", signer.Address(), sender)
	}
	dest, err := DecodeAddress(t.receiver)
	if err != nil {
		return nil, err
	}
	to, err := types.NewMultiAddressFromAccountID(dest)
	if err != nil {
		return nil, fmt.Errorf("receiver %s: %w", t.receiver, err)
	}

	method, err := c.transferCall(to, t.amount)
	if err != nil {
		return nil, err
	}
	ext := types.NewExtrinsic(method)

	rv, err := call(ctx, func() (*types.RuntimeVersion, error) { return c.api.RPC.State.GetRuntimeVersionLatest() }, nil)
	if err != nil {
		return nil, fmt.Errorf("runtime version: %w", classify(err))
	}
	acct, err := c.QueryAccount(ctx, sender)
	if err != nil {
		return nil, err
	}

	opts := types.SignatureOptions{
		BlockHash:          c.genesis,
		Era:                types.ExtrinsicEra{IsImmortalEra: true},
		GenesisHash:        c.genesis,
		Nonce:              types.NewUCompactFromUInt(acct.Nonce),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	}
	if err := signExtrinsic(ctx, &ext, opts, signer); err != nil {
		return nil, err
	}

	sub, err := c.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return nil, classify(err)
	}
	c.log.Info("Transfer submitted",
		zap.String("sender", sender),
		zap.String("receiver", t.receiver),
		zap.String("amount", t.amount.String()),
		zap.Uint64("nonce", acct.Nonce))

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	out := make(chan chain.StatusEvent)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case status, ok := <-sub.Chan():
				if !ok {
					return
				}
				select {
				case out <- statusEvent(status):
				case <-ctx.Done():
					return
				}
			case err := <-sub.Err():
				errs <- classify(err)
				return
			}
		}
	}()
	return chain.NewSubscription[chain.StatusEvent](out, errs, cancel), nil
}

func (c *Conn) transferCall(to types.MultiAddress, amount *big.Int) (types.Call, error) {
	var errs []error
	for _, name := range c.calls {
		method, err := types.NewCall(c.meta, name, to, types.NewUCompact(amount))
		if err == nil {
			return method, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return types.Call{}, fmt.Errorf("no transfer call in runtime metadata: %w", errors.Join(errs...))
}

// signExtrinsic assembles the v4 signing payload, hands it to signer and
// attaches the resulting sr25519 signature.
func signExtrinsic(ctx context.Context, ext *types.Extrinsic, o types.SignatureOptions, signer chain.Signer) error {
	method, err := codec.Encode(ext.Method)
	if err != nil {
		return fmt.Errorf("encode call: %w", err)
	}
	payload := types.ExtrinsicPayloadV4{
		ExtrinsicPayloadV3: types.ExtrinsicPayloadV3{
			Method:      types.BytesBare(method),
			Era:         o.Era,
			Nonce:       o.Nonce,
			Tip:         o.Tip,
			SpecVersion: o.SpecVersion,
			GenesisHash: o.GenesisHash,
			BlockHash:   o.BlockHash,
		},
		TransactionVersion: o.TransactionVersion,
	}
	raw, err := codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	sig, err := signer.SignPayload(ctx, raw)
	if err != nil {
		return err
	}
	from, err := types.NewMultiAddressFromAccountID(signer.PublicKey())
	if err != nil {
		return fmt.Errorf("signer address: %w", err)
	}

	ext.Signature = types.ExtrinsicSignatureV4{
		Signer:    from,
		Signature: types.MultiSignature{IsSr25519: true, AsSr25519: types.NewSignature(sig)},
		Era:       o.Era,
		Nonce:     o.Nonce,
		Tip:       o.Tip,
	}
	ext.Version |= types.ExtrinsicBitSigned
	return nil
}

func statusEvent(s types.ExtrinsicStatus) chain.StatusEvent {
	switch {
	case s.IsInBlock:
		return chain.StatusEvent{Status: chain.StatusInBlock, Block: s.AsInBlock.Hex()}
	case s.IsFinalized:
		return chain.StatusEvent{Status: chain.StatusFinalized, Block: s.AsFinalized.Hex()}
	case s.IsRetracted:
		return chain.StatusEvent{Status: chain.StatusRetracted, Block: s.AsRetracted.Hex()}
	case s.IsFinalityTimeout:
		return chain.StatusEvent{Status: chain.StatusFinalityTimeout, Block: s.AsFinalityTimeout.Hex()}
	case s.IsUsurped:
		return chain.StatusEvent{Status: chain.StatusUsurped}
	case s.IsFuture:
		return chain.StatusEvent{Status: chain.StatusFuture}
	case s.IsReady:
		return chain.StatusEvent{Status: chain.StatusReady}
	case s.IsBroadcast:
		return chain.StatusEvent{Status: chain.StatusBroadcast}
	case s.IsDropped:
		return chain.StatusEvent{Status: chain.StatusDropped}
	case s.IsInvalid:
		return chain.StatusEvent{Status: chain.StatusInvalid}
	}
	return chain.StatusEvent{Status: chain.StatusUnknown}
}
