package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/domain/notification"
	"github.com/medbook/medbook/internal/platform/auth"
)

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	user := uuid.New()
	client := NewClient(user)

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(UserTopic(user)) != 1 {
		t.Fatalf("expected client on its user topic")
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel to be closed")
	}

	// second unregister must not panic on a closed channel
	hub.Unregister(client)
}

func TestHub_BroadcastOnlyToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	alice, bob := NewClient(uuid.New()), NewClient(uuid.New())
	hub.Register(alice)
	hub.Register(bob)

	hub.Broadcast(UserTopic(alice.UserID), Event{Type: "ping", Topic: UserTopic(alice.UserID)})

	select {
	case data := <-alice.Send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Type != "ping" {
			t.Errorf("expected ping, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("alice did not receive the event")
	}

	select {
	case <-bob.Send:
		t.Error("bob must not receive alice's events")
	default:
	}
}

func TestHub_MultipleConnectionsPerUser(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	user := uuid.New()
	tab1, tab2 := NewClient(user), NewClient(user)
	hub.Register(tab1)
	hub.Register(tab2)

	if hub.TopicCount(UserTopic(user)) != 2 {
		t.Fatalf("expected 2 connections for the user")
	}
	hub.Broadcast(UserTopic(user), Event{Type: "x"})
	if len(tab1.Send) != 1 || len(tab2.Send) != 1 {
		t.Error("every connection of the user must receive the event")
	}
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", UserID: uuid.New(), Send: make(chan []byte, 1)}
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		hub.Broadcast(UserTopic(client.UserID), Event{Type: "a"})
		hub.Broadcast(UserTopic(client.UserID), Event{Type: "b"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(uuid.New())
			hub.Register(c)
			hub.Broadcast(UserTopic(c.UserID), Event{Type: "x"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestPublisher_NotificationCreated(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	user := uuid.New()
	client := NewClient(user)
	hub.Register(client)

	n := notification.Message{Title: "Appointment Confirmed", Body: "ok"}.For(user)
	n.ID = uuid.New()
	n.CreatedAt = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := NewPublisher(hub).NotificationCreated(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(<-client.Send, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != EventNotificationCreated || ev.ResourceID != n.ID.String() {
		t.Errorf("unexpected event %+v", ev)
	}
	var payload notification.Notification
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Title != "Appointment Confirmed" {
		t.Errorf("expected title in payload, got %q", payload.Title)
	}
}

func TestHandler_RequiresUser(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), zerolog.Nop())
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.HandleConnect(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestSetAllowedOrigins(t *testing.T) {
	defer SetAllowedOrigins(nil)

	SetAllowedOrigins([]string{"http://app.test"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://app.test")
	if !upgrader.CheckOrigin(req) {
		t.Error("expected allowed origin to pass")
	}
	req.Header.Set("Origin", "http://evil.test")
	if upgrader.CheckOrigin(req) {
		t.Error("expected unknown origin to be rejected")
	}
}

func TestHandler_FullUpgradeReceivesNotification(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	user := uuid.New()

	e := echo.New()
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(c.Request().Context(), user, auth.RolePatient)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(hub, zerolog.Nop()).RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount(UserTopic(user)) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(UserTopic(user)) != 1 {
		t.Fatal("expected the connection to be subscribed to its user topic")
	}

	n := notification.Message{Title: "Lab Results Ready", Body: "b"}.For(user)
	n.ID = uuid.New()
	_ = NewPublisher(hub).NotificationCreated(context.Background(), n)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.ResourceID != n.ID.String() {
		t.Errorf("expected resource id %s, got %s", n.ID, received.ResourceID)
	}
}
