// Package directory はユーザー名/パスワードを検証し、ユーザーレコードを返す検証先を提供します。
package directory

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrRejected はユーザー名またはパスワードが一致しないことを表します。
// それ以外のエラーは検証先の内部障害として扱われます。
var ErrRejected = errors.New("directory: credentials rejected")

// User は検証済みユーザーのレコードです。
// Tenants の先頭がセッションの有効テナントになります。
type User struct {
	Username string   `json:"username"`
	Tenants  []string `json:"tenants"`
}

// ActiveTenant は先頭のテナントを返します。テナントが無い場合は空文字です。
func (u *User) ActiveTenant() string {
	if u == nil || len(u.Tenants) == 0 {
		return ""
	}
	return u.Tenants[0]
}

// Static は設定ファイルで与えられた単一アカウントを検証します。
type Static struct {
	username     string
	passwordHash []byte
	tenants      []string
}

// NewStatic は単一アカウントの検証先を作成します。
func NewStatic(username, passwordHash string, tenants []string) *Static {
	return &Static{
		username:     username,
		passwordHash: []byte(passwordHash),
		tenants:      append([]string{}, tenants...),
	}
}

// Verify は資格情報を検証します。
func (s *Static) Verify(ctx context.Context, username, password string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.username == "" || len(s.passwordHash) == 0 {
		return nil, errors.New("directory: static account is not configured")
	}
	if username != s.username {
		return nil, ErrRejected
	}
	if err := comparePassword(s.passwordHash, password); err != nil {
		return nil, err
	}
	return &User{
		Username: s.username,
		Tenants:  append([]string{}, s.tenants...),
	}, nil
}

// HashPassword は bcrypt のハッシュを生成します。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func comparePassword(hash []byte, password string) error {
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrRejected
	default:
		// ハッシュ自体が壊れている場合は拒否ではなく障害
		return err
	}
}
