package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jask/dotsend/internal/notify"
	"github.com/jask/dotsend/internal/transfer"
)

// Bridge turns controller callbacks into program messages. The controller
// calls it from any goroutine, including from inside a tea.Cmd, so it never
// sends to the program directly: messages are queued and a pump goroutine
// delivers them.
type Bridge struct {
	mu      sync.Mutex
	queue   []tea.Msg
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	attached bool
}

func NewBridge() *Bridge {
	return &Bridge{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// OnChange is meant for transfer.Deps.OnChange.
func (b *Bridge) OnChange(s transfer.State) { b.push(stateMsg{State: s}) }

func (b *Bridge) Info(msg string) {
	b.push(noticeMsg{Notice: notify.Notice{Level: notify.LevelInfo, Message: msg}})
}

func (b *Bridge) Error(msg string) {
	b.push(noticeMsg{Notice: notify.Notice{Level: notify.LevelError, Message: msg}})
}

func (b *Bridge) push(msg tea.Msg) {
	select {
	case <-b.done:
		return
	default:
	}
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Attach starts delivering queued and future messages to send, usually
// (*tea.Program).Send. Call it once.
func (b *Bridge) Attach(send func(tea.Msg)) {
	b.mu.Lock()
	b.attached = true
	b.mu.Unlock()
	go func() {
		defer close(b.stopped)
		for {
			select {
			case <-b.wake:
			case <-b.done:
				return
			}
			for _, msg := range b.drain() {
				select {
				case <-b.done:
					return
				default:
				}
				send(msg)
			}
		}
	}()
}

func (b *Bridge) drain() []tea.Msg {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queue
	b.queue = nil
	return out
}

// Close stops the pump and drops anything still queued.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.done) })
	b.mu.Lock()
	attached := b.attached
	b.mu.Unlock()
	if attached {
		<-b.stopped
	}
}
