package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/yourusername/groundtruth/internal/session"
)

// RequireLogin はセッションを検証するミドルウェアを返します。
// 後段のハンドラーは gin の ContextSessionKey と request context の両方からセッションを参照できます。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := m.currentSession(c)
		if err != nil {
			m.logger.Error().Err(err).Msg("session lookup failed")
			respondWithError(c, internalFault(err))
			return
		}
		if sess == nil {
			respondWithError(c, errUnauthorized)
			return
		}

		c.Set(ContextUserKey, sess.Username)
		c.Set(ContextSessionKey, sess)
		c.Request = c.Request.WithContext(session.NewContext(c.Request.Context(), sess))
		c.Next()
	}
}

// SessionFrom は RequireLogin が設定したセッションを返します。
func SessionFrom(c *gin.Context) (*session.Session, bool) {
	v, ok := c.Get(ContextSessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*session.Session)
	return sess, ok && sess != nil
}
