package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/groundtruth/internal/auth"
	"github.com/yourusername/groundtruth/internal/directory"
	"github.com/yourusername/groundtruth/internal/session"
)

type mapVerifier map[string]directory.User

func (v mapVerifier) Verify(ctx context.Context, username, password string) (*directory.User, error) {
	user, ok := v[username]
	if !ok || password != "pw-"+username {
		return nil, directory.ErrRejected
	}
	return &user, nil
}

type channelEvent struct {
	event       string
	tenant      string
	stateTenant string
}

type recordingChannel struct {
	mu     sync.Mutex
	state  *State
	events []channelEvent
	err    error
}

func (r *recordingChannel) Subscribe(ctx context.Context, tenant string) error {
	return r.add("subscribe", tenant)
}

func (r *recordingChannel) Unsubscribe(ctx context.Context, tenant string) error {
	return r.add("unsubscribe", tenant)
}

func (r *recordingChannel) add(event, tenant string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, channelEvent{event: event, tenant: tenant, stateTenant: r.state.Tenant()})
	return r.err
}

// newAuthServer は実際の認証ハンドラーを載せたテストサーバーを起動し、リクエスト数を数えます。
func newAuthServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier := mapVerifier{
		"alice": {Username: "alice", Tenants: []string{"acme", "globex"}},
		"bob":   {Username: "bob", Tenants: []string{}},
	}
	manager := auth.NewManager(verifier, session.NewMemoryStore(), auth.Options{
		TTL:    time.Hour,
		Logger: zerolog.Nop(),
	})
	store := cookie.NewStore([]byte("client-test-secret"))
	store.Options(auth.CookieOptions(time.Hour, false))

	var requests atomic.Int32
	router := gin.New()
	router.Use(func(c *gin.Context) {
		requests.Add(1)
		c.Next()
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))
	manager.RegisterRoutes(router.Group("/api"))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newTestClient(t *testing.T, baseURL string) (*Client, *recordingChannel) {
	t.Helper()
	state := NewState()
	ch := &recordingChannel{state: state}
	c, err := New(baseURL, state, WithChannel(ch))
	require.NoError(t, err)
	return c, ch
}

func TestLoginSelectsFirstTenantAndSubscribes(t *testing.T) {
	srv, _ := newAuthServer(t)
	c, ch := newTestClient(t, srv.URL)

	require.False(t, c.IsAuthenticated())
	user, err := c.Login(context.Background(), "alice", "pw-alice")
	require.NoError(t, err)
	require.Equal(t, []string{"acme", "globex"}, user.Tenants)

	require.True(t, c.IsAuthenticated())
	require.Equal(t, Snapshot{Username: "alice", Tenant: "acme"}, c.State().Snapshot())
	require.Equal(t, []channelEvent{{event: "subscribe", tenant: "acme", stateTenant: "acme"}}, ch.events)
}

func TestLoginWithoutTenants(t *testing.T) {
	srv, _ := newAuthServer(t)
	c, ch := newTestClient(t, srv.URL)

	user, err := c.Login(context.Background(), "bob", "pw-bob")
	require.NoError(t, err)
	require.Empty(t, user.Tenants)
	require.True(t, c.IsAuthenticated())
	require.Equal(t, "", c.State().Tenant())
	require.Empty(t, ch.events)
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv, _ := newAuthServer(t)
	c, ch := newTestClient(t, srv.URL)

	_, err := c.Login(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.False(t, c.IsAuthenticated())
	require.Empty(t, ch.events)
}

func TestLoginOtherFailureSurfacesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"INTERNAL_ERROR","message":"boom"}`))
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv.URL)

	_, err := c.Login(context.Background(), "alice", "pw-alice")
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, http.StatusInternalServerError, respErr.StatusCode)
	require.JSONEq(t, `{"code":"INTERNAL_ERROR","message":"boom"}`, string(respErr.Body))
	require.NotErrorIs(t, err, ErrInvalidCredentials)
	require.False(t, c.IsAuthenticated())
}

func TestLoginUnauthorizedMapsToInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c, _ := newTestClient(t, srv.URL)

	_, err := c.Login(context.Background(), "alice", "pw-alice")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChannelFailureDoesNotFailLogin(t *testing.T) {
	srv, _ := newAuthServer(t)
	c, ch := newTestClient(t, srv.URL)
	ch.err = errors.New("socket closed")

	_, err := c.Login(context.Background(), "alice", "pw-alice")
	require.NoError(t, err)
	require.True(t, c.IsAuthenticated())
}

func TestCurrentUserShortCircuitsOnceAuthenticated(t *testing.T) {
	srv, requests := newAuthServer(t)
	c, _ := newTestClient(t, srv.URL)

	_, err := c.Login(context.Background(), "alice", "pw-alice")
	require.NoError(t, err)
	before := requests.Load()

	for i := 0; i < 3; i++ {
		username, err := c.CurrentUser(context.Background())
		require.NoError(t, err)
		require.Equal(t, "alice", username)
	}
	require.Equal(t, before, requests.Load())
}

func TestCurrentUserRestoresFromCookie(t *testing.T) {
	srv, requests := newAuthServer(t)
	first, _ := newTestClient(t, srv.URL)
	_, err := first.Login(context.Background(), "alice", "pw-alice")
	require.NoError(t, err)

	// 同じ CookieJar を使う新しいクライアント（再起動後の状態復元）
	restored, err := New(srv.URL, nil, WithHTTPClient(&http.Client{Jar: first.Jar()}))
	require.NoError(t, err)
	require.False(t, restored.IsAuthenticated())

	before := requests.Load()
	username, err := restored.CurrentUser(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alice", username)
	require.Equal(t, before+1, requests.Load())
	require.Equal(t, "acme", restored.State().Tenant())
}

func TestCheckStatusUnauthenticated(t *testing.T) {
	srv, _ := newAuthServer(t)
	c, _ := newTestClient(t, srv.URL)

	_, err := c.CheckStatus(context.Background())
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, http.StatusUnauthorized, respErr.StatusCode)
	require.False(t, c.IsAuthenticated())

	_, err = c.CurrentUser(context.Background())
	require.ErrorAs(t, err, &respErr)
}

func TestCheckStatusServerFaultKeepsState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	state := NewState()
	state.create("alice", "acme")
	c, err := New(srv.URL, state)
	require.NoError(t, err)

	_, err = c.CheckStatus(context.Background())
	require.Error(t, err)
	require.Equal(t, Snapshot{Username: "alice", Tenant: "acme"}, state.Snapshot())
}

func TestLogoutUnsubscribesPreviousTenant(t *testing.T) {
	srv, _ := newAuthServer(t)
	c, ch := newTestClient(t, srv.URL)

	_, err := c.Login(context.Background(), "alice", "pw-alice")
	require.NoError(t, err)
	require.NoError(t, c.Logout(context.Background()))

	require.False(t, c.IsAuthenticated())
	require.Equal(t, Snapshot{}, c.State().Snapshot())
	require.Len(t, ch.events, 2)
	// 購読解除の時点ではまだ State にテナントが残っている
	require.Equal(t, channelEvent{event: "unsubscribe", tenant: "acme", stateTenant: "acme"}, ch.events[1])

	_, err = c.CheckStatus(context.Background())
	require.Error(t, err)
}

func TestLogoutWithoutSession(t *testing.T) {
	srv, _ := newAuthServer(t)
	c, ch := newTestClient(t, srv.URL)

	err := c.Logout(context.Background())
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, http.StatusBadRequest, respErr.StatusCode)
	require.Empty(t, ch.events)
}

func TestStateNotifications(t *testing.T) {
	state := NewState()
	var got []Snapshot
	unsubscribe := state.Subscribe(func(s Snapshot) { got = append(got, s) })

	state.create("alice", "acme")
	state.create("alice", "acme") // 変化なしは通知しない
	state.destroy()
	unsubscribe()
	state.create("bob", "")

	require.Equal(t, []Snapshot{{Username: "alice", Tenant: "acme"}, {}}, got)
}

func TestStateContext(t *testing.T) {
	require.Nil(t, StateFromContext(context.Background()))
	state := NewState()
	require.Same(t, state, StateFromContext(WithState(context.Background(), state)))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("", nil)
	require.Error(t, err)
}

func TestWithHTTPClientLeavesCallerClientUntouched(t *testing.T) {
	srv, _ := newAuthServer(t)
	shared := &http.Client{Timeout: 5 * time.Second}

	c, err := New(srv.URL, nil, WithHTTPClient(shared))
	require.NoError(t, err)
	require.Nil(t, shared.Jar)
	require.NotNil(t, c.Jar())

	_, err = c.Login(context.Background(), "alice", "pw-alice")
	require.NoError(t, err)
	require.Nil(t, shared.Jar)
	require.True(t, c.IsAuthenticated())
}
