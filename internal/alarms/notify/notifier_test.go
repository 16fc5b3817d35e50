package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alarmapp "chrona-engine/internal/alarms/application"
	alarms "chrona-engine/internal/alarms/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingChannel struct {
	mu   sync.Mutex
	sent []string
}

func (c *recordingChannel) Send(_ context.Context, content string) error {
	c.mu.Lock()
	c.sent = append(c.sent, content)
	c.mu.Unlock()
	return nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func testAlarm() alarms.Alarm {
	return alarms.Alarm{
		ID:               7,
		Hour:             6,
		Minute:           30,
		Enabled:          true,
		RepeatDaily:      true,
		Challenge:        alarms.PasswordChallenge(""),
		WakeCheckEnabled: true,
		WakeCheckMinutes: 5,
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: "saved", Alarm: testAlarm()})

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected text msgtype, got %q", payload.MsgType)
		}
		if !strings.Contains(payload.Text.Content, "Alarm: 7") {
			t.Fatalf("expected alarm id in content, got %q", payload.Text.Content)
		}
		if !strings.Contains(payload.Text.Content, "06:30") {
			t.Fatalf("expected alarm time in content, got %q", payload.Text.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no webhook payload received")
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithDedupeWindow(time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	event := alarmapp.AlarmEvent{Type: "saved", Alarm: testAlarm()}
	notifier.Notify(context.Background(), event)
	notifier.Notify(context.Background(), event)
	if channel.count() != 1 {
		t.Fatalf("expected identical event suppressed, got %d sends", channel.count())
	}

	clock.Advance(2 * time.Minute)
	notifier.Notify(context.Background(), event)
	if channel.count() != 2 {
		t.Fatalf("expected send after window, got %d sends", channel.count())
	}
}

func TestNotifierCooldownAppliesPerEvent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithCooldown(time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	alarm := testAlarm()
	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: "saved", Alarm: alarm})
	alarm.Minute = 45
	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: "saved", Alarm: alarm})
	if channel.count() != 1 {
		t.Fatalf("expected cooldown to hold even for changed content, got %d sends", channel.count())
	}

	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: "disabled", Alarm: alarm})
	if channel.count() != 2 {
		t.Fatalf("expected different event type to send, got %d sends", channel.count())
	}
}

func TestMultiNotifierFansOut(t *testing.T) {
	first := &recordingChannel{}
	second := &recordingChannel{}
	n1, err := NewNotifier(first, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	n2, err := NewNotifier(second, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	multi := NewMultiNotifier(n1, nil, n2)
	multi.Notify(context.Background(), alarmapp.AlarmEvent{Type: "saved", Alarm: testAlarm()})
	if first.count() != 1 || second.count() != 1 {
		t.Fatalf("expected both notifiers to send, got %d and %d", first.count(), second.count())
	}
}
