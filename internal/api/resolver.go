package api

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/jask/dotsend/internal/chain"
	"github.com/jask/dotsend/internal/database/repository"
	"github.com/jask/dotsend/internal/transfer"
)

// Connections hands out the shared chain connection. *chain.Lazy satisfies it.
type Connections interface {
	Get(ctx context.Context) (chain.Connection, error)
	InvalidateOn(conn chain.Connection, err error)
}

// Submitter sends transfers. *transfer.Controller satisfies it.
type Submitter interface {
	SubmitTransfer(ctx context.Context, sender, receiver, amount string) (transfer.Receipt, error)
}

// History lists recorded transfers. *repository.TransferRepo satisfies it.
type History interface {
	List(ctx context.Context, f repository.TransferFilters) ([]repository.Transfer, error)
}

type Wallet struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Free    string `json:"free"`
	Nonce   int    `json:"nonce"`
}

type TransferResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Block  string `json:"block"`
	Amount string `json:"amount"`
}

type TransferRecord struct {
	ID        string  `json:"id"`
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Amount    string  `json:"amount"`
	Status    string  `json:"status"`
	Block     *string `json:"block"`
	Error     *string `json:"error"`
	CreatedAt string  `json:"created_at"`
}

type TransferArgs struct {
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	Amount      string `json:"amount"`
}

var errNoHistory = errors.New("transfer history is disabled")

type Resolver struct {
	Conns     Connections
	Transfers Submitter
	// History is optional.
	History History
	Log     *zap.Logger
}

func (r *Resolver) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("address is required")
	}
	conn, err := r.Conns.Get(ctx)
	if err != nil {
		return nil, err
	}
	acct, err := conn.QueryAccount(ctx, address)
	if err != nil {
		r.Conns.InvalidateOn(conn, err)
		return nil, err
	}
	return &Wallet{
		Address: address,
		Balance: chain.FormatBalance(acct.Free, conn.Decimals(), conn.Symbol()),
		Free:    chain.FormatUnits(acct.Free, conn.Decimals()),
		Nonce:   int(acct.Nonce),
	}, nil
}

func (r *Resolver) Transfer(ctx context.Context, args TransferArgs) (*TransferResult, error) {
	receipt, err := r.Transfers.SubmitTransfer(ctx, args.FromAddress, args.ToAddress, args.Amount)
	if err != nil {
		r.Log.Info("Transfer rejected", zap.String("from", args.FromAddress), zap.Error(err))
		return nil, err
	}
	return &TransferResult{
		ID:     receipt.ID,
		Status: repository.TransferInBlock,
		Block:  receipt.Block,
		Amount: receipt.Display,
	}, nil
}

func (r *Resolver) TransferHistory(ctx context.Context, sender string, limit int) ([]TransferRecord, error) {
	if r.History == nil {
		return nil, errNoHistory
	}
	rows, err := r.History.List(ctx, repository.TransferFilters{Sender: strings.TrimSpace(sender), Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]TransferRecord, 0, len(rows))
	for _, t := range rows {
		amount := t.DisplayAmount
		if amount == "" {
			amount = t.Amount
		}
		out = append(out, TransferRecord{
			ID:        t.ID,
			Sender:    t.Sender,
			Receiver:  t.Receiver,
			Amount:    amount,
			Status:    t.Status,
			Block:     t.BlockHash,
			Error:     t.Error,
			CreatedAt: t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return out, nil
}
