package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLite は SQLite に保存されたユーザーとテナントの一覧で資格情報を検証します。
type SQLite struct {
	db *sql.DB
}

// OpenSQLite はデータベースを開き、マイグレーションを実行します。
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening directory: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating directory: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close はデータベース接続を閉じます。
func (d *SQLite) Close() error {
	return d.db.Close()
}

// Verify は資格情報を検証し、テナントを登録順に並べたユーザーレコードを返します。
// 未登録ユーザーとパスワード不一致はどちらも ErrRejected です。
func (d *SQLite) Verify(ctx context.Context, username, password string) (*User, error) {
	var hash string
	err := d.db.QueryRowContext(ctx,
		`SELECT password_hash FROM users WHERE username = ?`, username,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRejected
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}

	if err := comparePassword([]byte(hash), password); err != nil {
		return nil, err
	}

	tenants, err := d.tenants(ctx, username)
	if err != nil {
		return nil, err
	}
	return &User{Username: username, Tenants: tenants}, nil
}

// PutUser はユーザーを作成または更新し、テナント一覧を指定順で置き換えます。
func (d *SQLite) PutUser(ctx context.Context, username, password string, tenants []string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is required")
	}
	if password == "" {
		return errors.New("password is required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)
		 ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash`,
		username, hash,
	); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_tenants WHERE username = ?`, username); err != nil {
		return fmt.Errorf("clearing tenants: %w", err)
	}
	for i, tenant := range tenants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_tenants (username, tenant, position) VALUES (?, ?, ?)`,
			username, tenant, i,
		); err != nil {
			return fmt.Errorf("saving tenant %q: %w", tenant, err)
		}
	}
	return tx.Commit()
}

func (d *SQLite) tenants(ctx context.Context, username string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT tenant FROM user_tenants WHERE username = ? ORDER BY position`, username,
	)
	if err != nil {
		return nil, fmt.Errorf("loading tenants: %w", err)
	}
	defer rows.Close()

	tenants := []string{}
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

func migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_tenants (
			username TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
			tenant TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (username, tenant)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_tenants_position ON user_tenants(username, position)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
