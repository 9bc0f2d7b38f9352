package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/platform/async"
)

type recordingListener struct {
	mu   sync.Mutex
	seen []*Notification
	err  error
}

func (l *recordingListener) NotificationCreated(_ context.Context, n *Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, n)
	return l.err
}

// deadlineStore rejects writes once the caller's context is done, like pgx.
type deadlineStore struct {
	*mockStore
}

func (s deadlineStore) Create(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mockStore.Create(ctx, n)
}

// slowListener takes delay per row regardless of its context.
type slowListener struct {
	recordingListener
	delay time.Duration
}

func (l *slowListener) NotificationCreated(ctx context.Context, n *Notification) error {
	time.Sleep(l.delay)
	if err := l.recordingListener.NotificationCreated(ctx, n); err != nil {
		return err
	}
	return errors.New("mail relay down")
}

type queuedSubmitter struct {
	mu    sync.Mutex
	names []string
	tasks []async.Task
}

func (q *queuedSubmitter) Go(name string, fn async.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.names = append(q.names, name)
	q.tasks = append(q.tasks, fn)
}

func testMessage() Message {
	return Message{
		Audience: AudienceDoctor,
		Title:    "New Appointment Request",
		Body:     "Jane requested an appointment",
		Type:     TypeInfo,
		Action:   "appointment_requested",
		Entity:   &EntityRef{ID: "appt-1", Type: "appointment"},
	}
}

func TestDispatcher_OneRowPerRecipient(t *testing.T) {
	store := newMockStore()
	d := NewDispatcher(store, zerolog.Nop())
	a, b := uuid.New(), uuid.New()

	written := d.NotifyUsers(context.Background(), testMessage(), a, b)
	if written != 2 {
		t.Fatalf("expected 2 rows written, got %d", written)
	}
	for _, user := range []uuid.UUID{a, b} {
		rows := store.forUser(user)
		if len(rows) != 1 {
			t.Fatalf("expected 1 row for %s, got %d", user, len(rows))
		}
		n := rows[0]
		if n.IsRead {
			t.Error("new notifications must be unread")
		}
		if n.TargetRole == nil || *n.TargetRole != AudienceDoctor {
			t.Errorf("expected target_role doctor, got %v", n.TargetRole)
		}
		if n.ActionType == nil || *n.ActionType != "appointment_requested" {
			t.Errorf("unexpected action_type %v", n.ActionType)
		}
		if n.EntityID == nil || *n.EntityID != "appt-1" || n.EntityType == nil || *n.EntityType != "appointment" {
			t.Errorf("unexpected entity reference %v/%v", n.EntityID, n.EntityType)
		}
	}
}

func TestDispatcher_SkipsUnresolvedRecipients(t *testing.T) {
	store := newMockStore()
	d := NewDispatcher(store, zerolog.Nop())
	user := uuid.New()

	written := d.NotifyUsers(context.Background(), testMessage(), uuid.Nil, user, uuid.Nil)
	if written != 1 {
		t.Fatalf("expected 1 row, got %d", written)
	}
	if len(store.forUser(uuid.Nil)) != 0 {
		t.Error("no row may be written for an unresolved recipient")
	}
}

func TestDispatcher_NoRecipients(t *testing.T) {
	store := newMockStore()
	d := NewDispatcher(store, zerolog.Nop())
	if written := d.NotifyUsers(context.Background(), testMessage()); written != 0 {
		t.Errorf("expected 0 rows, got %d", written)
	}
}

func TestDispatcher_DeduplicatesRecipients(t *testing.T) {
	store := newMockStore()
	d := NewDispatcher(store, zerolog.Nop())
	user := uuid.New()

	d.NotifyUsers(context.Background(), testMessage(), user, user)
	if rows := store.forUser(user); len(rows) != 1 {
		t.Errorf("expected a single row for a repeated recipient, got %d", len(rows))
	}
}

func TestDispatcher_FailureIsolation(t *testing.T) {
	store := newMockStore()
	d := NewDispatcher(store, zerolog.Nop())
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	store.failFor[b] = errors.New("insert failed")

	written := d.NotifyUsers(context.Background(), testMessage(), a, b, c)
	if written != 2 {
		t.Fatalf("expected 2 rows despite one failure, got %d", written)
	}
	if len(store.forUser(a)) != 1 || len(store.forUser(c)) != 1 {
		t.Error("recipients around the failure must still be notified")
	}
	if len(store.forUser(b)) != 0 {
		t.Error("failed recipient must have no row")
	}
}

func TestDispatcher_Listeners(t *testing.T) {
	store := newMockStore()
	failing := &recordingListener{err: errors.New("push failed")}
	ok := &recordingListener{}
	d := NewDispatcher(store, zerolog.Nop(), failing)
	d.AddListener(ok)
	a, b := uuid.New(), uuid.New()

	written := d.NotifyUsers(context.Background(), testMessage(), a, b)
	if written != 2 {
		t.Fatalf("listener errors must not affect writes, got %d rows", written)
	}
	if len(failing.seen) != 2 || len(ok.seen) != 2 {
		t.Fatalf("expected both listeners to see 2 rows, got %d and %d", len(failing.seen), len(ok.seen))
	}
	if ok.seen[0].ID == uuid.Nil {
		t.Error("listeners must receive the stored row with its id")
	}
}

func TestDispatcher_ListenerNotCalledOnStoreFailure(t *testing.T) {
	store := newMockStore()
	l := &recordingListener{}
	d := NewDispatcher(store, zerolog.Nop(), l)
	user := uuid.New()
	store.failFor[user] = errors.New("down")

	d.NotifyUsers(context.Background(), testMessage(), user)
	if len(l.seen) != 0 {
		t.Errorf("expected no listener calls, got %d", len(l.seen))
	}
}

func TestDispatcher_SlowListenerDoesNotStarveWrites(t *testing.T) {
	store := deadlineStore{newMockStore()}
	l := &slowListener{delay: 40 * time.Millisecond}
	d := NewDispatcher(store, zerolog.Nop(), l)
	recipients := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	written := d.NotifyUsers(ctx, testMessage(), recipients...)
	if written != len(recipients) {
		t.Fatalf("expected %d rows with a failing slow listener, got %d", len(recipients), written)
	}
	for _, user := range recipients {
		if len(store.forUser(user)) != 1 {
			t.Errorf("missing row for %s", user)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.seen) != len(recipients) {
		t.Errorf("listener saw %d rows, want %d", len(l.seen), len(recipients))
	}
}

func TestDispatcher_ListenerContextOutlivesCaller(t *testing.T) {
	store := newMockStore()
	var gotErr error
	called := false
	l := listenerFunc(func(ctx context.Context, _ *Notification) error {
		called = true
		gotErr = ctx.Err()
		return nil
	})
	d := NewDispatcher(store, zerolog.Nop(), l).WithListenerTimeout(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	store.onCreate = cancel

	if written := d.NotifyUsers(ctx, testMessage(), uuid.New()); written != 1 {
		t.Fatalf("expected 1 row, got %d", written)
	}
	if !called {
		t.Fatal("listener not called")
	}
	if gotErr != nil {
		t.Errorf("listener context should be detached from the caller, got %v", gotErr)
	}
}

func TestDispatcher_WithRunnerSubmitsEachDelivery(t *testing.T) {
	store := newMockStore()
	push, mail := &recordingListener{}, &recordingListener{}
	runner := &queuedSubmitter{}
	d := NewDispatcher(store, zerolog.Nop(), push, mail).WithRunner(runner)

	written := d.NotifyUsers(context.Background(), testMessage(), uuid.New(), uuid.New())
	if written != 2 {
		t.Fatalf("expected 2 rows, got %d", written)
	}
	if len(push.seen) != 0 || len(mail.seen) != 0 {
		t.Fatal("listeners must not run inline when a runner is configured")
	}
	if len(runner.tasks) != 4 {
		t.Fatalf("expected 4 submitted deliveries, got %d", len(runner.tasks))
	}
	for i, task := range runner.tasks {
		if runner.names[i] != "notification_listener" {
			t.Errorf("task %d named %q", i, runner.names[i])
		}
		if err := task(context.Background()); err != nil {
			t.Errorf("task %d: %v", i, err)
		}
	}
	if len(push.seen) != 2 || len(mail.seen) != 2 {
		t.Errorf("expected each listener to see 2 rows, got %d and %d", len(push.seen), len(mail.seen))
	}
}

type listenerFunc func(ctx context.Context, n *Notification) error

func (f listenerFunc) NotificationCreated(ctx context.Context, n *Notification) error {
	return f(ctx, n)
}

func TestMessageFor_DefaultsType(t *testing.T) {
	n := Message{Title: "t", Body: "b"}.For(uuid.New())
	if n.Type != TypeInfo {
		t.Errorf("expected default type info, got %q", n.Type)
	}
	if n.TargetRole != nil || n.ActionType != nil || n.EntityID != nil {
		t.Error("optional fields must stay nil when the message omits them")
	}
}
