package auth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// VerifyOrigin は状態を変えるリクエストと WebSocket のハンドシェイクについて
// Origin（無ければ Referer）を検証するミドルウェアです。
// どちらも無いリクエストはブラウザー以外のクライアントとして通します。
func (m *Manager) VerifyOrigin(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) && !isWebSocketUpgrade(c.Request) {
			c.Next()
			return
		}

		if !OriginAllowed(c.Request, allowed) {
			m.logger.Warn().
				Str("origin", requestOrigin(c.Request)).
				Str("path", c.Request.URL.Path).
				Msg("rejected cross-origin request")
			respondWithError(c, errOriginNotAllowed)
			return
		}

		c.Next()
	}
}

// OriginAllowed はリクエスト元が同一オリジンか allowed に含まれるかを返します。
func OriginAllowed(r *http.Request, allowed []string) bool {
	origin := requestOrigin(r)
	if origin == "" {
		return true
	}
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	for _, candidate := range allowed {
		candidate = strings.TrimRight(candidate, "/")
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}

func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return strings.TrimRight(origin, "/")
	}
	referer := r.Header.Get("Referer")
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		// 解釈できない Referer は同一オリジンとみなさない
		return "invalid"
	}
	return u.Scheme + "://" + u.Host
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
