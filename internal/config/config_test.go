package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("DOTSEND_CONFIG", filepath.Join(home, "cfg", "config.toml"))
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "wss://blockchain.polkadex.trade", cfg.Chain.Endpoint)
	require.Equal(t, "DOT", cfg.Chain.Unit)
	require.EqualValues(t, 42, cfg.Chain.SS58Format)
	require.Len(t, cfg.Chain.TransferCalls, 3)
	require.Equal(t, "PolkaDot.JS Extension", cfg.Wallet.Origin)
	require.Equal(t, "pull", cfg.Transfer.BalanceMode)
	require.Equal(t, 2*time.Minute, cfg.Transfer.InclusionTimeout)
	require.Equal(t, 400*time.Millisecond, cfg.UI.Debounce)
	require.True(t, cfg.Database.Enabled)
	require.Equal(t, filepath.Join(home, ".local", "share", "dotsend", "dotsend.db"), cfg.Database.Path)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("DOTSEND_CHAIN_ENDPOINT", "ws://127.0.0.1:9944")
	t.Setenv("DOTSEND_TRANSFER_BALANCE_MODE", "push")
	t.Setenv("DOTSEND_TRANSFER_INCLUSION_TIMEOUT", "45s")
	t.Setenv("MY_PASS", "hunter2")
	t.Setenv("DOTSEND_WALLET_PASSPHRASE_ENV", "MY_PASS")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:9944", cfg.Chain.Endpoint)
	require.Equal(t, "push", cfg.Transfer.BalanceMode)
	require.Equal(t, 45*time.Second, cfg.Transfer.InclusionTimeout)
	require.Equal(t, "hunter2", cfg.Passphrase())
}

func TestSaveThenLoad(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Chain.Endpoint = "ws://node.local:9944"
	cfg.Chain.Decimals = 10
	cfg.Transfer.BalanceMode = "push"
	cfg.UI.ToastTTL = 2 * time.Second
	require.NoError(t, Save(cfg))
	_, err = os.Stat(Path())
	require.NoError(t, err)

	again, err := Load()
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadRejectsBadValues(t *testing.T) {
	isolate(t)
	t.Setenv("DOTSEND_TRANSFER_BALANCE_MODE", "poll")
	_, err := Load()
	require.ErrorContains(t, err, "balance_mode")
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(Path()), 0o755))
	require.NoError(t, os.WriteFile(Path(), []byte("chain = [broken"), 0o600))
	_, err := Load()
	require.ErrorContains(t, err, "read config")
}
