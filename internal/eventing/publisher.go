package eventing

import "context"

// Publisher wraps the bus with envelope construction. Alarm signals are
// delivered in process; the OS scheduler is the only at-least-once source,
// so there is no relay or retry queue here.
type Publisher struct {
	bus EventBus
}

// NewPublisher constructs a publisher.
func NewPublisher(bus EventBus) *Publisher {
	return &Publisher{bus: bus}
}

// Publish builds an envelope for the event and delivers it on the bus with
// the envelope attached to the context, so idempotent subscribers can read
// the event id.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.bus == nil {
		return nil
	}
	meta := MetaFromContext(ctx)
	env, err := BuildEnvelope(event, meta)
	if err != nil {
		return err
	}
	return p.bus.Publish(WithEnvelope(ctx, env), event)
}

// Subscribe delegates to the underlying bus.
func (p *Publisher) Subscribe(eventType string, handler EventHandler) {
	if p == nil || p.bus == nil {
		return
	}
	p.bus.Subscribe(eventType, handler)
}
