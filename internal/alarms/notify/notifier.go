// Package notify pushes alarm lifecycle updates to an external channel, used
// to mirror configuration changes into a household chat webhook.
package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	alarmapp "chrona-engine/internal/alarms/application"
	alarms "chrona-engine/internal/alarms/domain"
)

// Clock provides time for dedupe decisions.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders and sends alarm lifecycle notifications. Repeated saves
// of the same alarm are collapsed by the cooldown and dedupe windows.
type Notifier struct {
	channel      Channel
	template     *Template
	clock        Clock
	cooldown     time.Duration
	dedupeWindow time.Duration

	mu   sync.Mutex
	sent map[string]sendRecord
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same
// alarm and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs an alarm notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alarm notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements alarmapp.AlarmNotifier. Delivery is best effort; a
// failed send is dropped rather than retried.
func (n *Notifier) Notify(ctx context.Context, event alarmapp.AlarmEvent) {
	if n == nil || n.channel == nil {
		return
	}
	content, err := n.template.Render(buildTemplateData(event.Type, event.Alarm))
	if err != nil {
		return
	}
	if !n.shouldSend(event.Alarm.ID, event.Type, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		return
	}
	n.markSent(event.Alarm.ID, event.Type, content)
}

func buildTemplateData(eventType string, alarm alarms.Alarm) TemplateData {
	return TemplateData{
		AlarmID:    strconv.Itoa(alarm.ID),
		Time:       formatClock(alarm.Hour, alarm.Minute),
		Repeat:     repeatLabel(alarm),
		Challenge:  alarm.Challenge.Normalize().Kind,
		WakeCheck:  wakeCheckLabel(alarm),
		Enabled:    strconv.FormatBool(alarm.Enabled),
		Event:      eventType,
		EventLabel: eventLabel(eventType),
	}
}

func eventLabel(event string) string {
	switch event {
	case "saved":
		return "Saved"
	case "disabled":
		return "Disabled"
	default:
		return event
	}
}

func repeatLabel(alarm alarms.Alarm) string {
	if alarm.RepeatDaily {
		return "daily"
	}
	if len(alarm.RepeatDays) == 0 {
		return "once"
	}
	names := make([]string, 0, len(alarm.RepeatDays))
	for _, day := range alarm.RepeatDays {
		names = append(names, day.String()[:3])
	}
	return strings.Join(names, ",")
}

func wakeCheckLabel(alarm alarms.Alarm) string {
	if !alarm.WakeCheckEnabled {
		return "off"
	}
	return strconv.Itoa(alarm.WakeCheckMinutes) + "m"
}

func formatClock(hour, minute int) string {
	pad := func(v int) string {
		if v < 10 {
			return "0" + strconv.Itoa(v)
		}
		return strconv.Itoa(v)
	}
	return pad(hour) + ":" + pad(minute)
}

func (n *Notifier) shouldSend(alarmID int, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alarmID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alarmID int, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(alarmID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(alarmID int, eventType string) string {
	return strconv.Itoa(alarmID) + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
