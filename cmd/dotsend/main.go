package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jask/dotsend/internal/config"
	"github.com/jask/dotsend/internal/logging"
)

// errReported marks errors the user has already seen as a notice.
type errReported struct{ error }

func (e errReported) Unwrap() error { return e.error }

type cli struct {
	verbose bool
	envFile string

	cfg config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "dotsend",
		Short: "Send balance transfers on a Substrate network",
		Long: `dotsend checks balances and sends balance transfers on a Substrate-based
network, signing with keys from a local keystore.

Run without arguments to open the transfer form.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
		RunE: c.runTUI,
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file read before the environment")

	root.AddCommand(c.balanceCmd())
	root.AddCommand(c.sendCmd())
	root.AddCommand(c.keysCmd())
	root.AddCommand(c.historyCmd())
	root.AddCommand(c.serveCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", c.envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Path, cfg.Log.Level, c.verbose)
	if err != nil {
		return err
	}
	c.cfg, c.log = cfg, log
	log.Debug("Config loaded",
		zap.String("path", config.Path()),
		zap.String("endpoint", cfg.Chain.Endpoint),
		zap.String("balance_mode", cfg.Transfer.BalanceMode))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		var reported errReported
		if !errors.As(err, &reported) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
