// Package client はブラウザー側のセッションクライアントです。
//
// サーバーの /api/authenticate と通信し、現在のユーザーとテナントを State に保持します。
// セッションCookieの値は読まず、cookiejar 経由でそのまま転送します。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const authPath = "/api/authenticate"

// ErrInvalidCredentials はログインで資格情報が拒否されたことを表します。
var ErrInvalidCredentials = errors.New("invalid username or password")

// ResponseError はサーバーが 2xx 以外を返したときのエラーです。
// Body にはサーバーのペイロードをそのまま保持します。
type ResponseError struct {
	StatusCode int
	Body       []byte
}

func (e *ResponseError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if body == "" {
		return fmt.Sprintf("server responded %d", e.StatusCode)
	}
	return fmt.Sprintf("server responded %d: %s", e.StatusCode, body)
}

// User はサーバーが返すユーザーレコードです。
type User struct {
	Username string   `json:"username"`
	Tenants  []string `json:"tenants"`
}

// ActiveTenant は先頭のテナントを返します。無ければ空文字です。
func (u *User) ActiveTenant() string {
	if u == nil || len(u.Tenants) == 0 {
		return ""
	}
	return u.Tenants[0]
}

// TenantChannel はテナント単位の通知チャンネルです。
type TenantChannel interface {
	Subscribe(ctx context.Context, tenant string) error
	Unsubscribe(ctx context.Context, tenant string) error
}

// Option は Client の任意設定です。
type Option func(*Client)

// WithHTTPClient は HTTP クライアントを差し替えます。
// Jar が無ければ複製したクライアントに付与し、渡されたものは変更しません。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithChannel はテナントチャンネルを設定します。
func WithChannel(ch TenantChannel) Option {
	return func(c *Client) { c.channel = ch }
}

// WithLogger はロガーを設定します。
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client はセッションクライアントです。
type Client struct {
	baseURL string
	http    *http.Client
	state   *State
	channel TenantChannel
	logger  zerolog.Logger
}

// New はクライアントを作成します。state が nil なら新しく作ります。
func New(baseURL string, state *State, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("baseURL is required")
	}
	if state == nil {
		state = NewState()
	}
	c := &Client{
		baseURL: baseURL,
		state:   state,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc := *c.http
		hc.Jar = jar
		c.http = &hc
	}
	return c, nil
}

// State は保持している State を返します。
func (c *Client) State() *State {
	return c.state
}

// Jar はセッションCookieを保持する CookieJar を返します。
func (c *Client) Jar() http.CookieJar {
	return c.http.Jar
}

// BaseURL は接続先のベースURLを返します。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetChannel はテナントチャンネルを後から設定します。
// チャンネル接続にはログイン済みのCookieが必要なため、ログイン後に呼ばれることがあります。
func (c *Client) SetChannel(ch TenantChannel) {
	c.channel = ch
}

// IsAuthenticated はログイン済みかどうかを返します。通信はしません。
func (c *Client) IsAuthenticated() bool {
	return c.state.Snapshot().Authenticated()
}

// CheckStatus はサーバーに現在のセッションを問い合わせ、State に反映します。
func (c *Client) CheckStatus(ctx context.Context) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, authPath, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// サーバーがセッション無しと確定させたので手元の状態も捨てる
		c.state.destroy()
	}
	if !resp.ok() {
		return nil, resp.asError()
	}

	user, err := resp.user()
	if err != nil {
		return nil, err
	}
	c.state.create(user.Username, user.ActiveTenant())
	return user, nil
}

// CurrentUser は現在のユーザー名を返します。
// ログイン済みなら通信せずに State の値を返し、そうでなければ CheckStatus に委ねます。
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	if username := c.state.Username(); username != "" {
		return username, nil
	}
	user, err := c.CheckStatus(ctx)
	if err != nil {
		return "", err
	}
	return user.Username, nil
}

// Login は資格情報を送信し、成功したら State を更新してテナントチャンネルに参加します。
func (c *Client) Login(ctx context.Context, username, password string) (*User, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, authPath, body)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrInvalidCredentials
		}
		return nil, resp.asError()
	}

	user, err := resp.user()
	if err != nil {
		return nil, err
	}
	tenant := user.ActiveTenant()
	c.state.create(user.Username, tenant)

	if c.channel != nil && tenant != "" {
		if err := c.channel.Subscribe(ctx, tenant); err != nil {
			c.logger.Warn().Err(err).Str("tenant", tenant).Msg("failed to subscribe tenant channel")
		}
	}
	return user, nil
}

// Logout はログアウトを要求し、成功したらテナントチャンネルを抜けて State を破棄します。
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, authPath+"/logout", nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.asError()
	}

	// State を消す前のテナントで抜ける
	tenant := c.state.Tenant()
	if c.channel != nil && tenant != "" {
		if err := c.channel.Unsubscribe(ctx, tenant); err != nil {
			c.logger.Warn().Err(err).Str("tenant", tenant).Msg("failed to unsubscribe tenant channel")
		}
	}
	c.state.destroy()
	return nil
}

type response struct {
	StatusCode int
	Body       []byte
}

func (r *response) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *response) asError() error {
	return &ResponseError{StatusCode: r.StatusCode, Body: r.Body}
}

func (r *response) user() (*User, error) {
	var user User
	if err := json.Unmarshal(r.Body, &user); err != nil {
		return nil, fmt.Errorf("decoding user record: %w", err)
	}
	if user.Username == "" {
		return nil, errors.New("user record without username")
	}
	return &user, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("auth request")
	return &response{StatusCode: resp.StatusCode, Body: data}, nil
}
