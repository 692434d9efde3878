package channel

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// LazySocket は最初の Subscribe で /socket に接続するテナントチャンネルです。
// ログイン直後はセッションCookieが jar に入った状態で呼ばれるため、その時点まで接続を遅らせます。
// 購読を全て抜けると接続を閉じます。
type LazySocket struct {
	baseURL   string
	jar       http.CookieJar
	onMessage func(Message)
	logger    zerolog.Logger

	mu      sync.Mutex
	sock    *Socket
	tenants map[string]struct{}
}

// NewLazySocket は LazySocket を作成します。onMessage は受信ごとに別 goroutine から呼ばれます。
func NewLazySocket(baseURL string, jar http.CookieJar, onMessage func(Message), logger zerolog.Logger) *LazySocket {
	return &LazySocket{
		baseURL:   baseURL,
		jar:       jar,
		onMessage: onMessage,
		logger:    logger,
		tenants:   make(map[string]struct{}),
	}
}

// Subscribe は必要なら接続してからテナントに参加します。
func (l *LazySocket) Subscribe(ctx context.Context, tenant string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sock == nil {
		sock, err := Dial(ctx, l.baseURL, l.jar)
		if err != nil {
			return err
		}
		l.sock = sock
		go l.readLoop(sock)
	}
	if err := l.sock.Subscribe(ctx, tenant); err != nil {
		return err
	}
	l.tenants[tenant] = struct{}{}
	return nil
}

// Unsubscribe はテナントから抜け、購読が無くなれば接続を閉じます。
func (l *LazySocket) Unsubscribe(ctx context.Context, tenant string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sock == nil {
		return nil
	}
	err := l.sock.Unsubscribe(ctx, tenant)
	delete(l.tenants, tenant)
	if len(l.tenants) == 0 {
		err = errors.Join(err, l.closeLocked())
	}
	return err
}

// Connected は接続中かどうかを返します。
func (l *LazySocket) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sock != nil
}

// Close は接続を閉じます。
func (l *LazySocket) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *LazySocket) closeLocked() error {
	if l.sock == nil {
		return nil
	}
	err := l.sock.Close()
	l.sock = nil
	clear(l.tenants)
	return err
}

func (l *LazySocket) readLoop(sock *Socket) {
	for {
		msg, err := sock.Receive()
		if err != nil {
			l.logger.Debug().Err(err).Msg("tenant channel closed")
			l.mu.Lock()
			if l.sock == sock {
				l.sock = nil
				clear(l.tenants)
			}
			l.mu.Unlock()
			return
		}
		if l.onMessage != nil {
			l.onMessage(msg)
		}
	}
}
