package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(s.tasks))}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type recordingNotifier struct {
	tenants []string
	events  []*Event
}

func (n *recordingNotifier) Notify(tenant string, event *Event) {
	n.tenants = append(n.tenants, tenant)
	n.events = append(n.events, event)
}

func newTestStore(t *testing.T, limit int) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewStore(rdb, limit, time.Hour), mr
}

func TestStoreAppendTrimsAndOrders(t *testing.T) {
	store, mr := newTestStore(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, &Event{
			ID:       fmt.Sprintf("ev-%d", i),
			Type:     EventLoginSucceeded,
			Username: "alice",
		}))
	}

	events, err := store.List(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "ev-4", events[0].ID)
	require.Equal(t, "ev-2", events[2].ID)

	require.True(t, mr.TTL(activityKey("alice")) > 0)
}

func TestStoreKeysRejectedLoginsByClientIP(t *testing.T) {
	store, mr := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &Event{ID: "ok", Type: EventLoginSucceeded, Username: "alice"}))
	require.NoError(t, store.Append(ctx, &Event{ID: "bad", Type: EventLoginRejected, Username: "alice", ClientIP: "203.0.113.7"}))
	require.NoError(t, store.Append(ctx, &Event{ID: "anon", Type: EventLoginRejected, Username: "no-such-user"}))

	// 拒否はユーザーの履歴に混ざらない
	events, err := store.List(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "ok", events[0].ID)
	require.False(t, mr.Exists(activityKey("no-such-user")))

	rejected, err := mr.List(rejectedKey("203.0.113.7"))
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Contains(t, rejected[0], `"id":"bad"`)

	rejected, err = mr.List(rejectedKey(""))
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Contains(t, rejected[0], `"id":"anon"`)
	require.True(t, mr.TTL(rejectedKey("")) > 0)
}

func TestStoreListUnknownUser(t *testing.T) {
	store, _ := newTestStore(t, 10)
	events, err := store.List(context.Background(), "nobody", 5)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestStoreValidation(t *testing.T) {
	store, _ := newTestStore(t, 10)
	require.Error(t, store.Append(context.Background(), nil))
	require.Error(t, store.Append(context.Background(), &Event{Type: EventLogout}))
	_, err := store.List(context.Background(), "", 5)
	require.Error(t, err)
}

func TestRecordEnqueuesTask(t *testing.T) {
	enq := &stubEnqueuer{}
	m := &Manager{client: enq, logger: zerolog.Nop()}

	err := m.Record(context.Background(), Event{Type: EventLogout, Username: "alice", Tenant: "acme"})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskTypeRecord, enq.tasks[0].Type())

	var event Event
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &event))
	require.NotEmpty(t, event.ID)
	require.False(t, event.OccurredAt.IsZero())
	require.Equal(t, "acme", event.Tenant)
}

func TestRecordErrors(t *testing.T) {
	m := &Manager{client: &stubEnqueuer{err: errors.New("redis down")}, logger: zerolog.Nop()}
	require.Error(t, m.Record(context.Background(), Event{Type: EventLogout, Username: "alice"}))
	require.Error(t, m.Record(context.Background(), Event{Type: EventLogout}))
}

func TestHandleRecordTaskStoresAndNotifies(t *testing.T) {
	store, _ := newTestStore(t, 10)
	notifier := &recordingNotifier{}
	m := &Manager{store: store, notifier: notifier, logger: zerolog.Nop()}

	body, err := json.Marshal(&Event{ID: "ev-1", Type: EventLoginSucceeded, Username: "alice", Tenant: "acme"})
	require.NoError(t, err)
	require.NoError(t, m.handleRecordTask(context.Background(), asynq.NewTask(taskTypeRecord, body)))

	events, err := m.History(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, []string{"acme"}, notifier.tenants)

	// テナント無しのイベントは配信しない
	body, err = json.Marshal(&Event{ID: "ev-2", Type: EventLoginRejected, Username: "alice"})
	require.NoError(t, err)
	require.NoError(t, m.handleRecordTask(context.Background(), asynq.NewTask(taskTypeRecord, body)))
	require.Len(t, notifier.tenants, 1)
}

func TestHandleRecordTaskSkipsRetryOnBadPayload(t *testing.T) {
	store, _ := newTestStore(t, 10)
	m := &Manager{store: store, logger: zerolog.Nop()}

	err := m.handleRecordTask(context.Background(), asynq.NewTask(taskTypeRecord, []byte("not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = m.handleRecordTask(context.Background(), asynq.NewTask(taskTypeRecord, []byte(`{"type":"logout"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
