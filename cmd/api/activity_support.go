package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yourusername/groundtruth/internal/activity"
	"github.com/yourusername/groundtruth/internal/auth"
	"github.com/yourusername/groundtruth/internal/channel"
	"github.com/yourusername/groundtruth/internal/config"
)

// hubNotifier は記録済みイベントをテナントのルームへ流します。
type hubNotifier struct {
	hub *channel.Hub
}

// Notify はテナントの全メンバーに届くため、接続元IPは載せない。
func (n *hubNotifier) Notify(tenant string, event *activity.Event) {
	shared := *event
	shared.ClientIP = ""
	n.hub.Broadcast(tenant, channel.Message{
		Event: channel.EventActivity,
		Data:  &shared,
	})
}

func setupActivity(cfg *config.Config, rdb *redis.Client, hub *channel.Hub, logger zerolog.Logger) (*activity.Manager, error) {
	// 履歴はセッションより長く残す
	store := activity.NewStore(rdb, cfg.ActivityHistoryLimit, 7*24*time.Hour)
	var notifier activity.Notifier
	if hub != nil {
		notifier = &hubNotifier{hub: hub}
	}
	return activity.NewManager(cfg.RedisURL, store, notifier, logger)
}

type historyReader interface {
	History(ctx context.Context, username string, n int) ([]activity.Event, error)
}

// activityHistoryHandler は GET /api/authenticate/history のハンドラーです。
func activityHistoryHandler(reader historyReader, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := auth.SessionFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です。",
			})
			return
		}

		n := limit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "limit には正の整数を指定してください。",
				})
				return
			}
			if parsed < n {
				n = parsed
			}
		}

		events, err := reader.History(c.Request.Context(), sess.Username, n)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "履歴の取得に失敗しました。",
			})
			return
		}
		if events == nil {
			events = []activity.Event{}
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}
