// Package activity はログイン/ログアウトの履歴を非同期に記録します。
package activity

import "time"

// EventType は記録するイベントの種別です。
type EventType string

const (
	EventLoginSucceeded EventType = "login_succeeded"
	EventLoginRejected  EventType = "login_rejected"
	EventLogout         EventType = "logout"
)

// Event は1件の認証アクティビティです。
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Username   string    `json:"username"`
	Tenant     string    `json:"tenant,omitempty"`
	ClientIP   string    `json:"clientIp,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
