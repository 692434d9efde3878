// Package auth は Cookie セッションによるログイン・ログアウト・状態確認を提供します。
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/groundtruth/internal/activity"
	"github.com/yourusername/groundtruth/internal/directory"
	"github.com/yourusername/groundtruth/internal/session"
)

const (
	SessionCookieName = "gt_session"
	sessionKeyID      = "sid"
)

// ContextUserKey は、ハンドラー間でログイン済みユーザー名を共有するためのキーです。
const ContextUserKey = "auth.user"

// ContextSessionKey は、ハンドラー間でセッションを共有するためのキーです。
const ContextSessionKey = "auth.session"

// Verifier はユーザー名/パスワードを検証する外部コンポーネントです。
// 拒否は directory.ErrRejected、それ以外のエラーは内部障害として扱います。
type Verifier interface {
	Verify(ctx context.Context, username, password string) (*directory.User, error)
}

// ActivityRecorder は認証イベントを記録します。
type ActivityRecorder interface {
	Record(ctx context.Context, event activity.Event) error
}

// Options は Manager の任意設定です。
type Options struct {
	TTL      time.Duration
	Secure   bool
	Recorder ActivityRecorder
	Logger   zerolog.Logger
}

// Manager は認証処理とセッションの発行・破棄をまとめた構造体です。
type Manager struct {
	verifier Verifier
	store    session.Store
	ttl      time.Duration
	secure   bool
	recorder ActivityRecorder
	logger   zerolog.Logger
}

// NewManager は認証マネージャーを作成します。
func NewManager(verifier Verifier, store session.Store, opts Options) *Manager {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{
		verifier: verifier,
		store:    store,
		ttl:      ttl,
		secure:   opts.Secure,
		recorder: opts.Recorder,
		logger:   opts.Logger,
	}
}

// CookieOptions はセッションCookieの属性を返します。
func CookieOptions(ttl time.Duration, secure bool) sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// UserRecord はレスポンスで返すユーザーレコードです。
type UserRecord struct {
	Username string   `json:"username"`
	Tenants  []string `json:"tenants"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRoutes は /authenticate 配下のルートを登録し、そのグループを返します。
func (m *Manager) RegisterRoutes(api *gin.RouterGroup) *gin.RouterGroup {
	authRoutes := api.Group("/authenticate")
	{
		authRoutes.GET("", m.Status)
		authRoutes.POST("", m.Authenticate)
		authRoutes.POST("/logout", m.Logout)
	}
	return authRoutes
}

// Status は GET /api/authenticate のハンドラーです。
// 有効なセッションが無ければボディ無しの 401 を返します。
func (m *Manager) Status(c *gin.Context) {
	sess, err := m.currentSession(c)
	if err != nil {
		m.logger.Error().Err(err).Msg("session lookup failed")
		respondWithError(c, internalFault(err))
		return
	}
	if sess == nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.JSON(http.StatusOK, recordFor(sess.Username, sess.Tenants))
}

// Authenticate は POST /api/authenticate のハンドラーです。
func (m *Manager) Authenticate(c *gin.Context) {
	// 資格情報の受け取り口は JSON ボディだけに限定する
	if c.GetHeader("Authorization") != "" {
		respondWithError(c, errCredentialsInHeader)
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, errInvalidInput)
		return
	}

	ctx := c.Request.Context()
	user, err := m.verifier.Verify(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, directory.ErrRejected) {
			m.record(ctx, activity.Event{
				Type:     activity.EventLoginRejected,
				Username: req.Username,
				ClientIP: c.ClientIP(),
			})
			respondWithError(c, errInvalidCredentials)
			return
		}
		m.logger.Error().Err(err).Msg("credential verification failed")
		respondWithError(c, internalFault(err))
		return
	}
	if user == nil || user.Username == "" {
		respondWithError(c, internalFault(errors.New("verifier returned no user")))
		return
	}

	cookie := sessions.Default(c)
	previousID, _ := cookie.Get(sessionKeyID).(string)

	sess := session.New(user.Username, user.Tenants, m.ttl)
	if err := m.store.Save(ctx, sess); err != nil {
		m.logger.Error().Err(err).Msg("failed to save session")
		respondWithError(c, internalFault(err))
		return
	}

	cookie.Clear()
	cookie.Set(sessionKeyID, sess.ID)
	cookie.Options(CookieOptions(m.ttl, m.secure))
	if err := cookie.Save(); err != nil {
		m.logger.Error().Err(err).Msg("failed to write session cookie")
		if _, delErr := m.store.Delete(ctx, sess.ID); delErr != nil {
			m.logger.Warn().Err(delErr).Msg("failed to discard unbound session")
		}
		respondWithError(c, internalFault(err))
		return
	}

	// ログイン前のセッションは引き継がない
	if previousID != "" && previousID != sess.ID {
		if _, err := m.store.Delete(ctx, previousID); err != nil {
			m.logger.Warn().Err(err).Msg("failed to discard previous session")
		}
	}

	m.record(ctx, activity.Event{
		Type:     activity.EventLoginSucceeded,
		Username: sess.Username,
		Tenant:   sess.Tenant,
		ClientIP: c.ClientIP(),
	})
	m.logger.Info().Str("username", sess.Username).Str("tenant", sess.Tenant).Msg("session established")
	c.JSON(http.StatusOK, recordFor(user.Username, user.Tenants))
}

// Logout は POST /api/authenticate/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := m.currentSession(c)
	if err != nil {
		m.logger.Error().Err(err).Msg("session lookup failed")
		respondWithError(c, internalFault(err))
		return
	}
	if sess == nil {
		respondWithError(c, errNoActiveSession)
		return
	}

	existed, err := m.store.Delete(ctx, sess.ID)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to delete session")
		respondWithError(c, internalFault(err))
		return
	}
	if !existed {
		// 同じCookieでの同時ログアウトに負けた側
		respondWithError(c, errNoActiveSession)
		return
	}

	cookie := sessions.Default(c)
	cookie.Clear()
	opts := CookieOptions(m.ttl, m.secure)
	opts.MaxAge = -1
	cookie.Options(opts)
	if err := cookie.Save(); err != nil {
		m.logger.Error().Err(err).Msg("failed to clear session cookie")
		respondWithError(c, internalFault(err))
		return
	}

	m.record(ctx, activity.Event{
		Type:     activity.EventLogout,
		Username: sess.Username,
		Tenant:   sess.Tenant,
		ClientIP: c.ClientIP(),
	})
	m.logger.Info().Str("username", sess.Username).Msg("session destroyed")
	c.Status(http.StatusOK)
}

// currentSession は Cookie のセッションIDからセッションを引きます。
// Cookie が無い・署名が不正・ストアに無い・期限切れはすべて nil です。
func (m *Manager) currentSession(c *gin.Context) (*session.Session, error) {
	id, _ := sessions.Default(c).Get(sessionKeyID).(string)
	if id == "" {
		return nil, nil
	}
	return m.store.Get(c.Request.Context(), id)
}

func (m *Manager) record(ctx context.Context, event activity.Event) {
	if m.recorder == nil || event.Username == "" {
		return
	}
	if err := m.recorder.Record(ctx, event); err != nil {
		m.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to record activity")
	}
}

func recordFor(username string, tenants []string) UserRecord {
	out := UserRecord{Username: username, Tenants: []string{}}
	out.Tenants = append(out.Tenants, tenants...)
	return out
}
