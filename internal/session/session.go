// Package session はサーバー側セッションのモデルと保存先を提供します。
//
// Cookie にはセッションIDだけを載せ、ユーザー名・テナントはストア側に保持します。
// 期限切れのセッションは存在しないものとして扱われます。
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidSession は保存できないセッションが渡されたことを表します。
var ErrInvalidSession = errors.New("session: invalid session")

// Session はログイン済みブラウザーセッションの状態です。
type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Tenant    string    `json:"tenant,omitempty"`
	Tenants   []string  `json:"tenants"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// New は新しいIDを採番したセッションを作成します。
// 有効テナントは tenants の先頭で、空なら未設定です。
func New(username string, tenants []string, ttl time.Duration) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		Username:  username,
		Tenants:   append([]string{}, tenants...),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if len(s.Tenants) > 0 {
		s.Tenant = s.Tenants[0]
	}
	return s
}

// Expired は now 時点で期限切れかどうかを返します。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s *Session) validate() error {
	if s == nil || s.ID == "" || s.Username == "" {
		return ErrInvalidSession
	}
	return nil
}

// Store はセッションIDをキーにセッションを保存します。
// 実装は並行呼び出しに対して安全でなければなりません。
type Store interface {
	// Save はセッションを保存します。
	Save(ctx context.Context, s *Session) error
	// Get はセッションを取得します。存在しない・期限切れの場合は nil, nil を返します。
	Get(ctx context.Context, id string) (*Session, error)
	// Delete はセッションを削除し、削除前に存在していたかを返します。
	Delete(ctx context.Context, id string) (bool, error)
}

type ctxKey struct{}

// NewContext はセッションを埋め込んだ context を返します。
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext は context からセッションを取り出します。
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
