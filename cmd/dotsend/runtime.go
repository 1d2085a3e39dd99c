package main

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jask/dotsend/internal/chain"
	"github.com/jask/dotsend/internal/chain/substrate"
	"github.com/jask/dotsend/internal/config"
	"github.com/jask/dotsend/internal/database"
	"github.com/jask/dotsend/internal/database/repository"
	"github.com/jask/dotsend/internal/notify"
	"github.com/jask/dotsend/internal/transfer"
	"github.com/jask/dotsend/internal/wallet"
)

// runtime is everything a command needs to talk to the network.
type runtime struct {
	cfg     config.Config
	log     *zap.Logger
	conns   *chain.Lazy
	keys    *wallet.Keystore
	db      *sql.DB
	journal *repository.TransferRepo
}

func openKeystore(cfg config.Config) (*wallet.Keystore, error) {
	return wallet.OpenKeystore(cfg.Wallet.KeystorePath, cfg.Passphrase(), cfg.Chain.SS58Format)
}

func openJournal(cfg config.Config) (*sql.DB, *repository.TransferRepo, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.RunMigrations(cfg.Database.Path); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, repository.NewTransferRepo(db), nil
}

func openRuntime(cfg config.Config, log *zap.Logger) (*runtime, error) {
	keys, err := openKeystore(cfg)
	if err != nil {
		return nil, err
	}
	provider := substrate.NewProvider(substrate.Options{
		Decimals:      cfg.Chain.Decimals,
		Unit:          cfg.Chain.Unit,
		TransferCalls: cfg.Chain.TransferCalls,
	}, log)
	rt := &runtime{
		cfg:   cfg,
		log:   log,
		conns: chain.NewLazy(provider, cfg.Chain.Endpoint, log),
		keys:  keys,
	}
	if cfg.Database.Enabled {
		rt.db, rt.journal, err = openJournal(cfg)
		if err != nil {
			// The journal is a convenience; transfers work without it.
			log.Warn("Transfer journal unavailable", zap.Error(err))
		}
	}
	return rt, nil
}

// controller builds a transfer controller reporting to sink. An empty mode
// uses the configured balance mode.
func (rt *runtime) controller(sink notify.Sink, mode string, onChange func(transfer.State)) (*transfer.Controller, error) {
	if mode == "" {
		mode = rt.cfg.Transfer.BalanceMode
	}
	balances, err := transfer.NewStrategy(mode, rt.cfg.Transfer.BalanceRate, rt.log)
	if err != nil {
		return nil, err
	}
	deps := transfer.Deps{
		Conn:     rt.conns,
		Wallet:   rt.keys,
		Notify:   notify.Logged(sink, rt.log),
		Balances: balances,
		Log:      rt.log,
		OnChange: onChange,
	}
	if rt.journal != nil {
		deps.Journal = rt.journal
	}
	return transfer.New(deps, transfer.Options{
		Origin:           rt.cfg.Wallet.Origin,
		InclusionTimeout: rt.cfg.Transfer.InclusionTimeout,
		NearMissDistance: rt.cfg.Transfer.NearMissDistance,
	}), nil
}

func (rt *runtime) Close() error {
	var errs []error
	if err := rt.conns.Close(); err != nil {
		errs = append(errs, err)
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
