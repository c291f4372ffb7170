package mqtt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/torque2mqtt/internal/events"
	"github.com/nugget/torque2mqtt/internal/metrics"
	"github.com/nugget/torque2mqtt/internal/opstate"
)

// DefaultGrace is how long after connecting a disconnect is treated as
// fatal rather than rebuilt.
const DefaultGrace = 10 * time.Second

// Rebuild reasons.
const (
	ReasonAckDebt    = "ack_debt"
	ReasonDisconnect = "disconnect"
)

// EventKind classifies a broker client notification.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventConnectFailed
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a notification from a broker client. Gen identifies the
// client generation that produced it and is filled in by the Link.
type Event struct {
	Kind EventKind
	Gen  uint64
	Code int
	Err  error
}

// Conn is one broker client generation.
type Conn interface {
	// Publish sends a retained QoS 2 message and returns once the broker
	// has acknowledged it.
	Publish(ctx context.Context, topic string, payload []byte) error
	Close(ctx context.Context) error
}

// Dialer creates broker clients. The client reports connection changes
// through notify, which is safe to call from any goroutine.
type Dialer interface {
	Dial(ctx context.Context, notify func(Event)) (Conn, error)
}

// History records link rebuilds and fatal exits.
type History interface {
	Record(kind, reason string, generation uint64) error
}

// LinkConfig tunes the lifecycle policy. Zero values use the defaults.
type LinkConfig struct {
	Grace        time.Duration
	MaxAckDebt   int64
	CloseTimeout time.Duration
}

// Status is a point-in-time view of the link for diagnostics.
type Status struct {
	Connected   bool      `json:"connected"`
	Generation  uint64    `json:"generation"`
	LastConnect time.Time `json:"last_connect,omitzero"`
	Attempted   int64     `json:"attempted"`
	Acked       int64     `json:"acked"`
	Rebuilds    int       `json:"rebuilds"`
}

// Link owns the broker client across rebuilds. All lifecycle decisions
// happen on the goroutine running [Link.Run]; clients only feed it
// events.
type Link struct {
	dialer   Dialer
	cfg      LinkConfig
	watchdog *Watchdog
	inbox    chan Event
	rebuild  chan string
	done     chan struct{}
	now      func() time.Time

	bus     *events.Bus
	metrics *metrics.Metrics
	history History
	logger  *slog.Logger

	mu          sync.RWMutex
	ctx         context.Context
	conn        Conn
	gen         uint64
	connected   bool
	lastConnect time.Time
	rebuilds    int
}

// NewLink creates a Link. Nothing is dialed until [Link.Run].
func NewLink(dialer Dialer, cfg LinkConfig, logger *slog.Logger) *Link {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{
		dialer:   dialer,
		cfg:      cfg,
		watchdog: NewWatchdog(cfg.MaxAckDebt),
		inbox:    make(chan Event, 256),
		rebuild:  make(chan string, 1),
		done:     make(chan struct{}),
		now:      time.Now,
		logger:   logger,
	}
}

// SetEventBus sets the bus that receives link events.
func (l *Link) SetEventBus(b *events.Bus) { l.bus = b }

// SetMetrics sets the collectors updated by the link.
func (l *Link) SetMetrics(m *metrics.Metrics) { l.metrics = m }

// SetHistory sets where rebuilds and fatal exits are recorded.
func (l *Link) SetHistory(h History) { l.history = h }

// Run dials the broker and processes client events until ctx is
// cancelled, in which case it returns nil. Unrecoverable connection
// failures end it with a [*FatalError].
func (l *Link) Run(ctx context.Context) error {
	defer close(l.done)

	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	if err := l.dial(ctx); err != nil {
		return l.fail(&FatalError{Reason: "dial broker", Err: err})
	}

	for {
		select {
		case <-ctx.Done():
			l.closeCurrent(ctx)
			return nil
		case reason := <-l.rebuild:
			if err := l.rebuildClient(ctx, reason); err != nil {
				return l.fail(err)
			}
		case ev := <-l.inbox:
			if err := l.handle(ctx, ev); err != nil {
				return l.fail(err)
			}
		}
	}
}

// Send publishes payload on topic without waiting for the broker. The
// attempt is charged to the watchdog; crossing its limit schedules a
// client rebuild. The acknowledgement is credited from the publishing
// goroutine, so it counts even while Run is busy rebuilding.
func (l *Link) Send(topic string, payload []byte) {
	l.mu.RLock()
	conn, gen, ctx := l.conn, l.gen, l.ctx
	l.mu.RUnlock()

	if conn == nil {
		l.logger.Warn("mqtt client not ready, dropping message", "topic", topic)
		return
	}

	l.metrics.PublishAttempt()
	tripped := l.watchdog.Attempt()
	l.metrics.SetAckDebt(l.watchdog.Debt())

	start := l.now()
	go func() {
		if err := conn.Publish(ctx, topic, payload); err != nil {
			l.logger.Debug("mqtt publish failed", "topic", topic, "generation", gen, "error", err)
			return
		}
		l.watchdog.Ack()
		l.metrics.PublishAck(l.now().Sub(start))
		l.metrics.SetAckDebt(l.watchdog.Debt())
	}()

	if tripped {
		l.logger.Warn("mqtt publishes unacknowledged, rebuilding client",
			"limit", l.watchdog.limit, "generation", gen)
		l.RequestRebuild(ReasonAckDebt)
	}
}

// RequestRebuild asks the Run loop to replace the client. Requests made
// while one is pending are coalesced.
func (l *Link) RequestRebuild(reason string) {
	select {
	case l.rebuild <- reason:
	default:
	}
}

// Status reports the current link state.
func (l *Link) Status() Status {
	attempted, acked := l.watchdog.Counts()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Status{
		Connected:   l.connected,
		Generation:  l.gen,
		LastConnect: l.lastConnect,
		Attempted:   attempted,
		Acked:       acked,
		Rebuilds:    l.rebuilds,
	}
}

func (l *Link) notify(ev Event) {
	select {
	case l.inbox <- ev:
	case <-l.done:
	}
}

func (l *Link) dial(ctx context.Context) error {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	conn, err := l.dialer.Dial(ctx, func(ev Event) {
		ev.Gen = gen
		l.notify(ev)
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.conn = conn
	l.connected = false
	l.lastConnect = l.now()
	l.mu.Unlock()

	l.logger.Info("mqtt client started", "generation", gen)
	return nil
}

func (l *Link) handle(ctx context.Context, ev Event) *FatalError {
	l.mu.RLock()
	current := l.gen
	l.mu.RUnlock()
	if ev.Gen != current {
		l.logger.Debug("ignoring event from replaced mqtt client",
			"event", ev.Kind, "generation", ev.Gen, "current", current)
		return nil
	}

	switch ev.Kind {
	case EventConnected:
		if ev.Code != 0 {
			return &FatalError{Reason: "connection refused", Code: ev.Code}
		}
		l.mu.Lock()
		l.connected = true
		l.lastConnect = l.now()
		l.mu.Unlock()
		l.logger.Info("mqtt connected", "generation", ev.Gen)
		l.bus.Emit(events.SourceLink, events.KindConnected, map[string]any{"generation": ev.Gen})
		return nil

	case EventConnectFailed:
		return &FatalError{Reason: "connect failed", Code: ev.Code, Err: ev.Err}

	case EventDisconnected:
		l.mu.Lock()
		l.connected = false
		since := l.now().Sub(l.lastConnect)
		l.mu.Unlock()

		l.bus.Emit(events.SourceLink, events.KindDisconnected, map[string]any{
			"generation":    ev.Gen,
			"since_connect": since.String(),
		})
		if since <= l.cfg.Grace {
			return &FatalError{Reason: "disconnected within grace window", Code: ev.Code, Err: ev.Err}
		}
		l.logger.Warn("mqtt disconnected, rebuilding client",
			"generation", ev.Gen, "since_connect", since, "code", ev.Code, "error", ev.Err)
		return l.rebuildClient(ctx, ReasonDisconnect)
	}
	return nil
}

func (l *Link) rebuildClient(ctx context.Context, reason string) *FatalError {
	l.mu.Lock()
	gen := l.gen
	l.rebuilds++
	l.mu.Unlock()

	l.logger.Warn("rebuilding mqtt client", "reason", reason, "generation", gen)
	l.metrics.Rebuild(reason)
	l.record(opstate.KindRebuild, reason, gen)
	l.bus.Emit(events.SourceLink, events.KindRebuild, map[string]any{"reason": reason, "generation": gen})

	l.closeCurrent(ctx)
	if err := l.dial(ctx); err != nil {
		return &FatalError{Reason: "redial broker", Err: err}
	}

	// A request queued against the old client is satisfied by this one.
	select {
	case <-l.rebuild:
	default:
	}
	return nil
}

func (l *Link) closeCurrent(ctx context.Context) {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.connected = false
	l.mu.Unlock()
	if conn == nil {
		return
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.CloseTimeout)
	defer cancel()
	if err := conn.Close(closeCtx); err != nil {
		l.logger.Debug("mqtt client close failed", "error", err)
	}
}

func (l *Link) fail(err *FatalError) error {
	l.mu.RLock()
	gen := l.gen
	ctx := l.ctx
	l.mu.RUnlock()

	l.logger.Error("mqtt link failed", "reason", err.Reason, "code", err.Code, "error", err.Err, "generation", gen)
	l.record(opstate.KindFatal, err.Reason, gen)
	l.bus.Emit(events.SourceLink, events.KindFatal, map[string]any{"reason": err.Reason, "code": err.Code})
	l.closeCurrent(ctx)
	return err
}

func (l *Link) record(kind, reason string, gen uint64) {
	if l.history == nil {
		return
	}
	if err := l.history.Record(kind, reason, gen); err != nil {
		l.logger.Warn("failed to record link history", "kind", kind, "error", err)
	}
}
