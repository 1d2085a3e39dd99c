// Package tui is the terminal front end for the transfer form.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/jask/dotsend/internal/notify"
	"github.com/jask/dotsend/internal/prefs"
	"github.com/jask/dotsend/internal/transfer"
)

// Controller is the part of *transfer.Controller the form drives.
type Controller interface {
	State() transfer.State
	SetForm(transfer.Form)
	QueryBalance(ctx context.Context, address string) error
	Submit(ctx context.Context) (transfer.Receipt, error)
}

const (
	fieldSender = iota
	fieldReceiver
	fieldAmount
	fieldCount
)

const maxToasts = 4

type Options struct {
	// Endpoint is shown in the header.
	Endpoint string
	// Debounce delays the balance query while the sender is being typed.
	Debounce time.Duration
	ToastTTL time.Duration
	// Remember persists sender and receiver after a submit. Optional.
	Remember func(prefs.Form) error
	Log      *zap.Logger
}

type (
	stateMsg  struct{ State transfer.State }
	noticeMsg struct{ Notice notify.Notice }

	toastExpiredMsg struct{ id int }
	debounceMsg     struct {
		seq     int
		address string
	}
	balanceDoneMsg struct{ err error }
	submitDoneMsg  struct {
		receipt transfer.Receipt
		err     error
	}
)

type toast struct {
	id     int
	notice notify.Notice
}

// App is the bubbletea model for the transfer form.
type App struct {
	ctx  context.Context
	ctl  Controller
	opts Options
	keys keyMap
	help help.Model

	inputs [fieldCount]textinput.Model
	focus  int
	spin   spinner.Model

	state      transfer.State
	submitting bool
	receipt    *transfer.Receipt

	toasts    []toast
	nextToast int
	seq       int
	width     int
}

func NewApp(ctx context.Context, ctl Controller, opts Options) App {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.ToastTTL <= 0 {
		opts.ToastTTL = 4 * time.Second
	}

	state := ctl.State()
	labels := [fieldCount]string{"5Grw… sender address", "receiver address", "0"}
	values := [fieldCount]string{state.Form.Sender, state.Form.Receiver, state.Form.Amount}
	var inputs [fieldCount]textinput.Model
	for i := range inputs {
		inp := textinput.New()
		inp.Prompt = ""
		inp.Placeholder = labels[i]
		inp.CharLimit = 64
		inp.Width = 50
		inp.SetValue(values[i])
		inputs[i] = inp
	}
	inputs[fieldAmount].CharLimit = 40
	inputs[fieldSender].Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return App{
		ctx:    ctx,
		ctl:    ctl,
		opts:   opts,
		keys:   defaultKeys(),
		help:   help.New(),
		inputs: inputs,
		spin:   sp,
		state:  state,
	}
}

func (m App) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if addr := strings.TrimSpace(m.inputs[fieldSender].Value()); addr != "" {
		cmds = append(cmds, m.queryBalance(addr))
	}
	return tea.Batch(cmds...)
}

func (m App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)

	case stateMsg:
		m.state = msg.State
		return m, nil

	case noticeMsg:
		return m.addToast(msg.Notice)

	case toastExpiredMsg:
		for i, t := range m.toasts {
			if t.id == msg.id {
				m.toasts = append(m.toasts[:i:i], m.toasts[i+1:]...)
				break
			}
		}
		return m, nil

	case debounceMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		return m, m.queryBalance(msg.address)

	case balanceDoneMsg:
		// Failures already reached the user as a notice.
		if msg.err != nil {
			m.opts.Log.Debug("Balance query failed", zap.Error(msg.err))
		}
		return m, nil

	case submitDoneMsg:
		m.submitting = false
		m.state = m.ctl.State()
		if msg.err == nil {
			r := msg.receipt
			m.receipt = &r
		} else if !errors.Is(msg.err, transfer.ErrSubmitInFlight) {
			m.receipt = nil
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m App) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Next):
		m.setFocus(m.focus + 1)
		return m, textinput.Blink
	case key.Matches(msg, m.keys.Prev):
		m.setFocus(m.focus - 1)
		return m, textinput.Blink
	case key.Matches(msg, m.keys.Submit):
		return m.submit()
	case key.Matches(msg, m.keys.Refresh):
		m.seq++
		return m, m.queryBalance(m.inputs[fieldSender].Value())
	}

	before := m.inputs[m.focus].Value()
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	if m.inputs[m.focus].Value() == before {
		return m, cmd
	}
	m.syncForm()
	if m.focus != fieldSender {
		return m, cmd
	}
	m.seq++
	return m, tea.Batch(cmd, m.debounce(m.inputs[fieldSender].Value()))
}

func (m *App) setFocus(i int) {
	m.inputs[m.focus].Blur()
	m.focus = (i + fieldCount) % fieldCount
	m.inputs[m.focus].Focus()
}

func (m *App) syncForm() {
	m.ctl.SetForm(m.form())
	m.state = m.ctl.State()
}

func (m App) form() transfer.Form {
	return transfer.Form{
		Sender:   m.inputs[fieldSender].Value(),
		Receiver: m.inputs[fieldReceiver].Value(),
		Amount:   m.inputs[fieldAmount].Value(),
	}
}

func (m App) busy() bool {
	return m.submitting || m.state.Button.Loading
}

func (m App) submit() (tea.Model, tea.Cmd) {
	if m.busy() {
		return m, nil
	}
	m.syncForm()
	m.submitting = true
	m.receipt = nil

	if m.opts.Remember != nil {
		f := m.form()
		if err := m.opts.Remember(prefs.Form{Sender: f.Sender, Receiver: f.Receiver}); err != nil {
			m.opts.Log.Warn("Save form", zap.Error(err))
		}
	}

	ctx, ctl := m.ctx, m.ctl
	return m, tea.Batch(m.spin.Tick, func() tea.Msg {
		r, err := ctl.Submit(ctx)
		return submitDoneMsg{receipt: r, err: err}
	})
}

func (m App) debounce(address string) tea.Cmd {
	seq := m.seq
	if m.opts.Debounce <= 0 {
		return func() tea.Msg { return debounceMsg{seq: seq, address: address} }
	}
	return tea.Tick(m.opts.Debounce, func(time.Time) tea.Msg {
		return debounceMsg{seq: seq, address: address}
	})
}

func (m App) queryBalance(address string) tea.Cmd {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}
	ctx, ctl := m.ctx, m.ctl
	return func() tea.Msg {
		return balanceDoneMsg{err: ctl.QueryBalance(ctx, address)}
	}
}

func (m App) addToast(n notify.Notice) (tea.Model, tea.Cmd) {
	m.nextToast++
	id := m.nextToast
	m.toasts = append(m.toasts, toast{id: id, notice: n})
	if len(m.toasts) > maxToasts {
		m.toasts = m.toasts[len(m.toasts)-maxToasts:]
	}
	return m, tea.Tick(m.opts.ToastTTL, func(time.Time) tea.Msg { return toastExpiredMsg{id: id} })
}

func (m App) View() string {
	var b strings.Builder

	header := titleStyle.Render("dotsend")
	if m.opts.Endpoint != "" {
		header += mutedStyle.Render("  " + m.opts.Endpoint)
	}
	b.WriteString(header + "\n\n")

	balance := mutedStyle.Render("-")
	if m.state.Balance != "" {
		balance = balanceStyle.Render(m.state.Balance)
	}
	b.WriteString(labelStyle.Render("Balance") + balance + "\n\n")

	names := [fieldCount]string{"Sender", "Receiver", "Amount"}
	for i, inp := range m.inputs {
		label := labelStyle.Render(names[i])
		if i == m.focus {
			label = focusLabel.Render(names[i])
		}
		b.WriteString(label + inp.View() + "\n")
	}
	b.WriteString("\n")

	btn := m.state.Button
	btn.Loading = m.busy()
	if btn.Loading {
		b.WriteString(buttonDisabledStyle.Render(btn.Text()) + " " + m.spin.View())
	} else {
		b.WriteString(buttonStyle.Render(btn.Text()))
	}
	b.WriteString("\n")

	if m.receipt != nil {
		b.WriteString("\n" + receiptStyle.Render(fmt.Sprintf("Sent %s to %s in block %s",
			m.receipt.Display, shorten(m.receipt.Receiver), shorten(m.receipt.Block))) + "\n")
	}

	if len(m.toasts) > 0 {
		rendered := make([]string, 0, len(m.toasts))
		for _, t := range m.toasts {
			style := toastInfoStyle
			if t.notice.Level == notify.LevelError {
				style = toastErrorStyle
			}
			rendered = append(rendered, style.Render(t.notice.Message))
		}
		b.WriteString("\n" + lipgloss.JoinVertical(lipgloss.Left, rendered...) + "\n")
	}

	b.WriteString("\n" + m.help.View(m.keys))
	return frameStyle.Render(b.String())
}

func shorten(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:8] + "…" + s[len(s)-6:]
}
