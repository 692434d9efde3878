package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内にセッションを保持します。単一インスタンスの開発用です。
// 期限切れのセッションは読み出し時と保存時に破棄します。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// Save はセッションを保存します。
func (s *MemoryStore) Save(ctx context.Context, sess *Session) error {
	if err := sess.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// pruneLocked は読み出されないまま期限切れになったセッションを破棄します。
func (s *MemoryStore) pruneLocked() {
	now := s.now()
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
		}
	}
}

// Get はセッションを取得します。期限切れのものはその場で破棄します。
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if sess.Expired(s.now()) {
		s.mu.Lock()
		if current, ok := s.sessions[id]; ok && current.Expired(s.now()) {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		return nil, nil
	}
	out := copySession(&sess)
	return &out, nil
}

// Delete はセッションを削除します。
func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return !sess.Expired(s.now()), nil
}

// Len は保持しているセッション数を返します（期限切れを含む）。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IDs は保持しているセッションIDを返します。
func (s *MemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

func copySession(sess *Session) Session {
	out := *sess
	out.Tenants = append([]string{}, sess.Tenants...)
	return out
}
