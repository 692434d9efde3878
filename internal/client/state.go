package client

import (
	"context"
	"sync"
)

// Snapshot は State のある時点の値です。
type Snapshot struct {
	Username string
	Tenant   string
}

// Authenticated はユーザー名があるかどうかを返します。
func (s Snapshot) Authenticated() bool {
	return s.Username != ""
}

// State はクライアントが認識している現在のユーザーとテナントです。
// UI コンポーネントへはコンストラクタか context で渡し、変更は Subscribe で受け取ります。
type State struct {
	mu        sync.RWMutex
	current   Snapshot
	nextID    int
	listeners map[int]func(Snapshot)
}

// NewState は未認証の State を作成します。
func NewState() *State {
	return &State{listeners: make(map[int]func(Snapshot))}
}

// Snapshot は現在の値を返します。
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Username は現在のユーザー名を返します。
func (s *State) Username() string {
	return s.Snapshot().Username
}

// Tenant は現在の有効テナントを返します。
func (s *State) Tenant() string {
	return s.Snapshot().Tenant
}

// Subscribe は変更通知を登録し、解除用の関数を返します。
func (s *State) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *State) set(next Snapshot) {
	s.mu.Lock()
	if s.current == next {
		s.mu.Unlock()
		return
	}
	s.current = next
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	// ロックの外で通知する
	for _, fn := range listeners {
		fn(next)
	}
}

func (s *State) create(username, tenant string) {
	s.set(Snapshot{Username: username, Tenant: tenant})
}

func (s *State) destroy() {
	s.set(Snapshot{})
}

type stateKey struct{}

// WithState は State を埋め込んだ context を返します。
func WithState(ctx context.Context, state *State) context.Context {
	return context.WithValue(ctx, stateKey{}, state)
}

// StateFromContext は context から State を取り出します。
func StateFromContext(ctx context.Context) *State {
	v, _ := ctx.Value(stateKey{}).(*State)
	return v
}
