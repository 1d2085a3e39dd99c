// Package notify carries user-facing notifications (toasts in the TUI, lines
// on stderr for the CLI). Sinks are fire-and-forget.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

type Level int

const (
	LevelInfo Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "info"
}

type Notice struct {
	Level   Level
	Message string
}

// Sink receives notifications. Implementations must not block the caller.
type Sink interface {
	Info(msg string)
	Error(msg string)
}

// Func adapts a function to Sink.
type Func func(Notice)

func (f Func) Info(msg string)  { f(Notice{Level: LevelInfo, Message: msg}) }
func (f Func) Error(msg string) { f(Notice{Level: LevelError, Message: msg}) }

// Logged forwards to next after writing the notice to log.
func Logged(next Sink, log *zap.Logger) Sink {
	if log == nil {
		return next
	}
	return Func(func(n Notice) {
		switch n.Level {
		case LevelError:
			log.Warn("Notify", zap.String("level", n.Level.String()), zap.String("message", n.Message))
			next.Error(n.Message)
		default:
			log.Info("Notify", zap.String("level", n.Level.String()), zap.String("message", n.Message))
			next.Info(n.Message)
		}
	})
}

var (
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// Writer prints notices as styled lines, for the headless commands.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) Info(msg string)  { w.write(infoStyle.Render("i"), msg) }
func (w *Writer) Error(msg string) { w.write(errorStyle.Render("x"), msg) }

func (w *Writer) write(mark, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s %s\n", mark, msg)
}

// Recorder keeps every notice in order.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Info(msg string)  { r.add(Notice{Level: LevelInfo, Message: msg}) }
func (r *Recorder) Error(msg string) { r.add(Notice{Level: LevelError, Message: msg}) }

func (r *Recorder) add(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Messages returns the recorded messages of level l.
func (r *Recorder) Messages(l Level) []string {
	var out []string
	for _, n := range r.Notices() {
		if n.Level == l {
			out = append(out, n.Message)
		}
	}
	return out
}
