package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/nugget/torque2mqtt/internal/config"
	"github.com/nugget/torque2mqtt/internal/events"
	"github.com/nugget/torque2mqtt/internal/payload"
	"github.com/nugget/torque2mqtt/internal/session"
)

// Snapshotter provides read-only copies of session records.
type Snapshotter interface {
	Snapshot(id string) (session.Record, bool)
}

// Sender delivers a serialized message without blocking. [*Link]
// implements it.
type Sender interface {
	Send(topic string, payload []byte)
}

// Publisher assembles the current state of a session and delivers it.
// In raw format messages are only logged and the sender is never used.
type Publisher struct {
	store    Snapshotter
	resolver *payload.Resolver
	sender   Sender
	prefix   string
	format   payload.Format
	bus      *events.Bus
	logger   *slog.Logger
}

// NewPublisher creates a Publisher. sender may be nil in raw format.
func NewPublisher(store Snapshotter, resolver *payload.Resolver, sender Sender, cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	format := payload.FormatJSON
	if cfg.Raw() {
		format = payload.FormatRaw
	}
	return &Publisher{
		store:    store,
		resolver: resolver,
		sender:   sender,
		prefix:   cfg.Prefix,
		format:   format,
		logger:   logger,
	}
}

// SetEventBus sets the bus that receives every assembled message.
func (p *Publisher) SetEventBus(b *events.Bus) { p.bus = b }

// Publish assembles the session's message and hands it off. It does not
// wait for the broker.
func (p *Publisher) Publish(ctx context.Context, sessionID string) error {
	rec, ok := p.store.Snapshot(sessionID)
	if !ok {
		return fmt.Errorf("publish %s: %w", sessionID, session.ErrMissingSession)
	}

	msg := p.resolver.Assemble(&rec, p.format)
	topic := payload.Topic(p.prefix, &rec, sessionID)

	p.bus.Emit(events.SourcePublisher, events.KindSnapshot, map[string]any{
		"session": sessionID,
		"topic":   topic,
		"format":  string(p.format),
		"payload": msg,
	})

	if p.format == payload.FormatRaw {
		p.logRaw(ctx, topic, msg)
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", sessionID, err)
	}
	if p.sender == nil {
		return fmt.Errorf("publish %s: no broker link", sessionID)
	}
	p.logger.Log(ctx, config.LevelTrace, "mqtt payload", "topic", topic, "payload", string(data))
	p.sender.Send(topic, data)
	p.logger.Debug("message handed to broker", "session", sessionID, "topic", topic, "bytes", len(data))
	return nil
}

func (p *Publisher) logRaw(ctx context.Context, topic string, msg payload.Message) {
	keys := make([]string, 0, len(msg))
	for k := range msg {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		p.logger.InfoContext(ctx, "raw value", "topic", topic, "key", k, "value", msg[k])
	}
}
