package main

import (
	"fmt"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jask/dotsend/internal/notify"
	"github.com/jask/dotsend/internal/prefs"
	"github.com/jask/dotsend/internal/transfer"
	"github.com/jask/dotsend/internal/tui"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (c *cli) runTUI(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(c.cfg, c.log)
	if err != nil {
		return err
	}
	defer rt.Close()

	bridge := tui.NewBridge()
	defer bridge.Close()

	ctl, err := rt.controller(bridge, "", bridge.OnChange)
	if err != nil {
		return err
	}
	defer ctl.Close()

	saved, err := prefs.LoadForm()
	if err != nil {
		c.log.Warn("Load saved form", zap.Error(err))
	}
	ctl.SetForm(transfer.Form{Sender: saved.Sender, Receiver: saved.Receiver, Amount: "0"})

	app := tui.NewApp(cmd.Context(), ctl, tui.Options{
		Endpoint: c.cfg.Chain.Endpoint,
		Debounce: c.cfg.UI.Debounce,
		ToastTTL: c.cfg.UI.ToastTTL,
		Remember: prefs.SaveForm,
		Log:      c.log,
	})
	p := tea.NewProgram(app, tea.WithAltScreen())
	bridge.Attach(p.Send)
	_, err = p.Run()
	return err
}

func (c *cli) balanceCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "balance ADDRESS",
		Short: "Print the free balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(c.cfg, c.log)
			if err != nil {
				return err
			}
			defer rt.Close()

			mode := ""
			if watch {
				mode = transfer.ModePush
			}
			out := cmd.OutOrStdout()
			address := strings.TrimSpace(args[0])
			printer := &balancePrinter{print: func(balance string) {
				fmt.Fprintf(out, "%s %s\n", mutedStyle.Render(address), okStyle.Render(balance))
			}}
			ctl, err := rt.controller(notify.NewWriter(cmd.ErrOrStderr()), mode, printer.onChange)
			if err != nil {
				return err
			}
			defer ctl.Close()

			if err := ctl.QueryBalance(cmd.Context(), address); err != nil {
				return errReported{err}
			}
			if watch {
				<-cmd.Context().Done()
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep printing the balance as it changes")
	return cmd
}

// balancePrinter prints each new balance once.
type balancePrinter struct {
	print func(string)

	mu   sync.Mutex
	last string
}

func (p *balancePrinter) onChange(s transfer.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Balance == "" || s.Balance == p.last {
		return
	}
	p.last = s.Balance
	p.print(s.Balance)
}

func (c *cli) sendCmd() *cobra.Command {
	var from, to, amount string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a balance transfer and wait until it is in a block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(c.cfg, c.log)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			printer := &balancePrinter{print: func(balance string) {
				fmt.Fprintf(out, "%s %s\n", mutedStyle.Render("balance"), okStyle.Render(balance))
			}}
			ctl, err := rt.controller(notify.NewWriter(cmd.ErrOrStderr()), transfer.ModePull, printer.onChange)
			if err != nil {
				return err
			}
			defer ctl.Close()

			receipt, err := ctl.SubmitTransfer(cmd.Context(), from, to, amount)
			if err != nil {
				return errReported{err}
			}
			fmt.Fprintf(out, "%s %s to %s\n%s %s\n",
				okStyle.Render("sent"), receipt.Display, receipt.Receiver,
				mutedStyle.Render("block"), receipt.Block)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Sender address (must be in the keystore)")
	cmd.Flags().StringVar(&to, "to", "", "Receiver address")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount in display units, e.g. 1.5")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
