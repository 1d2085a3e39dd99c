package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Lazy owns at most one Connection to an endpoint. The connection is opened
// on first use; concurrent callers wait on the same dial. After a transport
// failure the holder calls Invalidate and the next Get dials again.
type Lazy struct {
	provider Provider
	endpoint string
	log      *zap.Logger

	group singleflight.Group

	mu     sync.Mutex
	conn   Connection
	closed bool
}

var errLazyClosed = errors.New("chain: connection holder closed")

func NewLazy(provider Provider, endpoint string, log *zap.Logger) *Lazy {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lazy{provider: provider, endpoint: endpoint, log: log}
}

func (l *Lazy) Endpoint() string { return l.endpoint }

// Get returns the open connection, dialling it if needed. A caller giving up
// through ctx does not abort the shared dial for the others.
func (l *Lazy) Get(ctx context.Context) (Connection, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, errLazyClosed
	}
	if l.conn != nil {
		conn := l.conn
		l.mu.Unlock()
		return conn, nil
	}
	l.mu.Unlock()

	dialCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan("connect", func() (any, error) {
		l.mu.Lock()
		if l.conn != nil {
			conn := l.conn
			l.mu.Unlock()
			return conn, nil
		}
		l.mu.Unlock()

		l.log.Info("Connecting", zap.String("endpoint", l.endpoint))
		conn, err := l.provider.Connect(dialCtx, l.endpoint)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", l.endpoint, err)
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			_ = conn.Close()
			return nil, errLazyClosed
		}
		l.conn = conn
		l.log.Info("Connected", zap.String("endpoint", l.endpoint), zap.Int("decimals", conn.Decimals()))
		return conn, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Connection), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate forgets conn if it is still the current connection and closes
// it. Later calls to Get open a fresh one.
func (l *Lazy) Invalidate(conn Connection) {
	l.mu.Lock()
	if conn == nil || l.conn != conn {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	l.mu.Unlock()

	l.log.Warn("Dropping connection", zap.String("endpoint", l.endpoint))
	if err := conn.Close(); err != nil {
		l.log.Debug("Close dropped connection", zap.Error(err))
	}
}

// InvalidateOn drops conn when err signals a lost transport.
func (l *Lazy) InvalidateOn(conn Connection, err error) {
	if errors.Is(err, ErrDisconnected) {
		l.Invalidate(conn)
	}
}

func (l *Lazy) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.closed = true
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
