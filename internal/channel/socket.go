package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// Socket はクライアント側のテナントチャンネル接続です。
type Socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial は baseURL の /socket に接続します。
// jar に保存されたセッションCookieをそのまま転送します。
func Dial(ctx context.Context, baseURL string, jar http.CookieJar) (*Socket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}

	target := *base
	switch base.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}
	target.Path = strings.TrimRight(base.Path, "/") + "/socket"

	cfg, err := websocket.NewConfig(target.String(), base.Scheme+"://"+base.Host)
	if err != nil {
		return nil, err
	}
	if jar != nil {
		var pairs []string
		for _, c := range jar.Cookies(base) {
			pairs = append(pairs, c.Name+"="+c.Value)
		}
		if len(pairs) > 0 {
			cfg.Header.Set("Cookie", strings.Join(pairs, "; "))
		}
	}

	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("dialing tenant channel: %w", err)
	}
	return &Socket{conn: conn}, nil
}

// Subscribe はテナントのルームに参加します。
func (s *Socket) Subscribe(ctx context.Context, tenant string) error {
	return s.send(ctx, Message{Event: EventSubscribe, Tenant: tenant})
}

// Unsubscribe はテナントのルームから抜けます。
func (s *Socket) Unsubscribe(ctx context.Context, tenant string) error {
	return s.send(ctx, Message{Event: EventUnsubscribe, Tenant: tenant})
}

// Receive はサーバーからのメッセージを1件待ちます。
func (s *Socket) Receive() (Message, error) {
	var msg Message
	err := websocket.JSON.Receive(s.conn, &msg)
	return msg, err
}

// Close は接続を閉じます。
func (s *Socket) Close() error {
	return s.conn.Close()
}

func (s *Socket) send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return websocket.JSON.Send(s.conn, msg)
}
