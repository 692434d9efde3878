// Package channel はテナント単位のリアルタイム通知チャンネルを提供します。
//
// ブラウザー（またはクライアント）は /socket に接続し、
// {"event":"subscribe","tenant":"..."} でテナントのルームに参加します。
package channel

import (
	"errors"
	"net/http"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/yourusername/groundtruth/internal/session"
)

// チャンネルで扱うイベント名
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventError       = "error"
	EventActivity    = "activity"
)

var errOriginNotAllowed = errors.New("origin not allowed")

// Message はチャンネル上でやり取りする JSON フレームです。
type Message struct {
	Event  string `json:"event"`
	Tenant string `json:"tenant,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type member struct {
	conn     *websocket.Conn
	username string
	tenants  []string
	sendMu   sync.Mutex
}

func (m *member) send(msg Message) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return websocket.JSON.Send(m.conn, msg)
}

// Hub はテナントごとのルームと接続を管理します。
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]map[*member]struct{}
	originCheck func(*http.Request) bool
	logger      zerolog.Logger
}

// NewHub は Hub を作成します。
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*member]struct{}),
		logger: logger,
	}
}

// SetOriginCheck はハンドシェイク時のオリジン検証を設定します。
func (h *Hub) SetOriginCheck(fn func(*http.Request) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.originCheck = fn
}

// Handler は WebSocket のハンドラーを返します。
// リクエストの context にセッションが入っている前提です（RequireLogin の後段に置く）。
func (h *Hub) Handler() http.Handler {
	return websocket.Server{
		Handshake: h.handshake,
		Handler:   h.serve,
	}
}

func (h *Hub) handshake(cfg *websocket.Config, req *http.Request) error {
	h.mu.RLock()
	check := h.originCheck
	h.mu.RUnlock()
	if check != nil && !check(req) {
		h.logger.Warn().Str("origin", req.Header.Get("Origin")).Msg("rejected tenant channel handshake")
		return errOriginNotAllowed
	}
	return nil
}

func (h *Hub) serve(ws *websocket.Conn) {
	defer ws.Close()

	sess, ok := session.FromContext(ws.Request().Context())
	if !ok {
		_ = websocket.JSON.Send(ws, Message{Event: EventError, Data: "no active session"})
		return
	}

	m := &member{conn: ws, username: sess.Username, tenants: sess.Tenants}
	defer h.leaveAll(m)

	for {
		var msg Message
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			return
		}
		switch msg.Event {
		case EventSubscribe:
			if !slices.Contains(m.tenants, msg.Tenant) {
				_ = m.send(Message{Event: EventError, Tenant: msg.Tenant, Data: "tenant is not available for this session"})
				continue
			}
			h.join(msg.Tenant, m)
		case EventUnsubscribe:
			h.leave(msg.Tenant, m)
		default:
			_ = m.send(Message{Event: EventError, Data: "unknown event"})
		}
	}
}

func (h *Hub) join(tenant string, m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[tenant]
	if !ok {
		room = make(map[*member]struct{})
		h.rooms[tenant] = room
	}
	room[m] = struct{}{}
	h.logger.Debug().Str("tenant", tenant).Str("username", m.username).Msg("joined tenant channel")
}

func (h *Hub) leave(tenant string, m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(tenant, m)
}

func (h *Hub) leaveLocked(tenant string, m *member) {
	room, ok := h.rooms[tenant]
	if !ok {
		return
	}
	delete(room, m)
	if len(room) == 0 {
		delete(h.rooms, tenant)
	}
}

func (h *Hub) leaveAll(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for tenant := range h.rooms {
		h.leaveLocked(tenant, m)
	}
}

// Members はルームの接続数を返します。
func (h *Hub) Members(tenant string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tenant])
}

// Broadcast はルームの全接続にメッセージを送り、送信できた数を返します。
func (h *Hub) Broadcast(tenant string, msg Message) int {
	h.mu.RLock()
	members := make([]*member, 0, len(h.rooms[tenant]))
	for m := range h.rooms[tenant] {
		members = append(members, m)
	}
	h.mu.RUnlock()

	msg.Tenant = tenant
	sent := 0
	for _, m := range members {
		if err := m.send(msg); err != nil {
			h.logger.Warn().Err(err).Str("tenant", tenant).Msg("failed to push tenant message")
			continue
		}
		sent++
	}
	return sent
}
