package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	activityKeyPrefix = "activity:"
	rejectedKeyPrefix = "login_rejected:"
)

// Store はユーザーごとの履歴を Redis のリストに保存します。
type Store struct {
	rdb   *redis.Client
	limit int64
	ttl   time.Duration
}

// NewStore は Store を作成します。limit は1ユーザーあたりの保持件数です。
func NewStore(rdb *redis.Client, limit int, ttl time.Duration) *Store {
	if limit <= 0 {
		limit = 50
	}
	return &Store{
		rdb:   rdb,
		limit: int64(limit),
		ttl:   ttl,
	}
}

// Append は履歴の先頭にイベントを追加し、古いものを切り詰めます。
func (s *Store) Append(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	if event.Username == "" {
		return fmt.Errorf("event.Username is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := keyFor(event)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, s.limit-1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// List は新しい順に最大 n 件の履歴を返します。
func (s *Store) List(ctx context.Context, username string, n int) ([]Event, error) {
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	return s.list(ctx, activityKey(username), n)
}

func (s *Store) list(ctx context.Context, key string, n int) ([]Event, error) {
	if n <= 0 || int64(n) > s.limit {
		n = int(s.limit)
	}
	items, err := s.rdb.LRange(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(items))
	for _, item := range items {
		var event Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("decoding activity: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

func activityKey(username string) string {
	return activityKeyPrefix + username
}

func rejectedKey(clientIP string) string {
	if clientIP == "" {
		clientIP = "unknown"
	}
	return rejectedKeyPrefix + clientIP
}

// keyFor はイベントの保存先を決めます。
// 拒否されたログインのユーザー名は送信者の自己申告なので、ユーザーの履歴ではなく接続元IPに紐付ける。
func keyFor(event *Event) string {
	if event.Type == EventLoginRejected {
		return rejectedKey(event.ClientIP)
	}
	return activityKey(event.Username)
}
