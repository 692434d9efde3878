package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	taskTypeRecord = "activity:record"
	queueName      = "activity"
)

// Notifier は記録済みイベントをテナントのチャンネルへ配信します。
type Notifier interface {
	Notify(tenant string, event *Event)
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Manager はイベントのキュー投入と、ワーカーでの保存・配信を担います。
type Manager struct {
	client   enqueuer
	server   *asynq.Server
	mux      *asynq.ServeMux
	store    *Store
	notifier Notifier
	logger   zerolog.Logger
}

// NewManager は Manager を初期化します。notifier は nil でも構いません。
func NewManager(redisURL string, store *Store, notifier Notifier, logger zerolog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger: asynqLogger{logger: logger},
		},
	)

	manager := &Manager{
		client:   asynq.NewClient(opt),
		server:   server,
		mux:      asynq.NewServeMux(),
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
	manager.mux.HandleFunc(taskTypeRecord, manager.handleRecordTask)
	return manager, nil
}

// Run はワーカーを起動し、ctx が終了するまでブロックします。
func (m *Manager) Run(ctx context.Context) error {
	if err := m.server.Start(m.mux); err != nil {
		return fmt.Errorf("starting activity worker: %w", err)
	}
	<-ctx.Done()
	m.server.Shutdown()
	return nil
}

// Close はキュークライアントを閉じます。
func (m *Manager) Close() error {
	return m.client.Close()
}

// Record はイベントをキューに投入します。ID と時刻が空なら補完します。
func (m *Manager) Record(ctx context.Context, event Event) error {
	if event.Username == "" {
		return fmt.Errorf("event.Username is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(&event)
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypeRecord, body, asynq.Queue(queueName))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue activity: %w", err)
	}
	return nil
}

// History はユーザーの履歴を返します。
func (m *Manager) History(ctx context.Context, username string, n int) ([]Event, error) {
	return m.store.List(ctx, username, n)
}

func (m *Manager) handleRecordTask(ctx context.Context, task *asynq.Task) error {
	var event Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		// 壊れたペイロードは再試行しても直らない
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if event.Username == "" {
		return fmt.Errorf("missing username in payload: %w", asynq.SkipRetry)
	}

	if err := m.store.Append(ctx, &event); err != nil {
		return err
	}

	if m.notifier != nil && event.Tenant != "" {
		m.notifier.Notify(event.Tenant, &event)
	}
	m.logger.Debug().
		Str("event", string(event.Type)).
		Str("username", event.Username).
		Msg("activity recorded")
	return nil
}

// asynqLogger は asynq のログを zerolog へ流します。
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
