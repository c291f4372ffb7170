package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nugget/torque2mqtt/internal/events"
	"github.com/nugget/torque2mqtt/internal/opstate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	mu        sync.Mutex
	ack       bool
	published []string
	closed    bool
}

func (c *fakeConn) Publish(ctx context.Context, topic string, _ []byte) error {
	c.mu.Lock()
	c.published = append(c.published, topic)
	ack := c.ack
	c.mu.Unlock()
	if ack {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu     sync.Mutex
	ack    bool
	err    error
	conns  []*fakeConn
	notify []func(Event)
	dialed chan int
}

func newFakeDialer(ack bool) *fakeDialer {
	return &fakeDialer{ack: ack, dialed: make(chan int, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, notify func(Event)) (Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{ack: d.ack}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.notify = append(d.notify, notify)
	n := len(d.conns) - 1
	d.mu.Unlock()
	d.dialed <- n
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) send(i int, ev Event) {
	d.mu.Lock()
	fn := d.notify[i]
	d.mu.Unlock()
	fn(ev)
}

func waitDial(t *testing.T, d *fakeDialer) int {
	t.Helper()
	select {
	case n := <-d.dialed:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return -1
	}
}

func waitKind(t *testing.T, ch <-chan events.Event, kind string) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return events.Event{}
		}
	}
}

func waitRun(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

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

type recordedHistory struct {
	mu     sync.Mutex
	events []opstate.Event
}

func (h *recordedHistory) Record(kind, reason string, gen uint64) error {
	h.mu.Lock()
	h.events = append(h.events, opstate.Event{Kind: kind, Reason: reason, Generation: gen})
	h.mu.Unlock()
	return nil
}

func (h *recordedHistory) kinds() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.events {
		out = append(out, e.Kind+":"+e.Reason)
	}
	return out
}

type linkHarness struct {
	link    *Link
	dialer  *fakeDialer
	clock   *fakeClock
	bus     <-chan events.Event
	history *recordedHistory
	cancel  context.CancelFunc
	errc    chan error
}

func startLink(t *testing.T, ack bool) *linkHarness {
	t.Helper()
	h := &linkHarness{
		dialer:  newFakeDialer(ack),
		clock:   &fakeClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)},
		history: &recordedHistory{},
		errc:    make(chan error, 1),
	}
	bus := events.New()
	h.bus = bus.Subscribe(64)
	t.Cleanup(func() { bus.Unsubscribe(h.bus) })

	h.link = NewLink(h.dialer, LinkConfig{}, discardLogger())
	h.link.now = h.clock.Now
	h.link.SetEventBus(bus)
	h.link.SetHistory(h.history)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() { h.errc <- h.link.Run(ctx) }()
	return h
}

// connect waits for client i to be dialed and reports it connected.
func (h *linkHarness) connect(t *testing.T, i int) {
	t.Helper()
	if got := waitDial(t, h.dialer); got != i {
		t.Fatalf("dialed client %d, want %d", got, i)
	}
	h.dialer.send(i, Event{Kind: EventConnected})
	waitKind(t, h.bus, events.KindConnected)
}

func TestLinkConnectFailedIsFatal(t *testing.T) {
	h := startLink(t, true)
	waitDial(t, h.dialer)

	cause := errors.New("connection refused")
	h.dialer.send(0, Event{Kind: EventConnectFailed, Err: cause})

	err := waitRun(t, h.errc)
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("Run() = %v, want *FatalError", err)
	}
	if fe.Reason != "connect failed" {
		t.Errorf("Reason = %q, want %q", fe.Reason, "connect failed")
	}
	if !errors.Is(err, cause) {
		t.Errorf("Run() error does not wrap the connect error: %v", err)
	}
	if !h.dialer.conn(0).isClosed() {
		t.Error("client not closed after fatal error")
	}
	if got := h.history.kinds(); len(got) != 1 || got[0] != "fatal:connect failed" {
		t.Errorf("history = %v, want [fatal:connect failed]", got)
	}
}

func TestLinkRefusedConnackIsFatal(t *testing.T) {
	h := startLink(t, true)
	waitDial(t, h.dialer)

	h.dialer.send(0, Event{Kind: EventConnected, Code: 135})

	var fe *FatalError
	if err := waitRun(t, h.errc); !errors.As(err, &fe) {
		t.Fatalf("Run() = %v, want *FatalError", err)
	}
	if fe.Code != 135 {
		t.Errorf("Code = %d, want 135", fe.Code)
	}
}

func TestLinkDialErrorIsFatal(t *testing.T) {
	d := newFakeDialer(true)
	d.err = errors.New("read CA bundle: no such file")
	l := NewLink(d, LinkConfig{}, discardLogger())

	err := l.Run(context.Background())
	var fe *FatalError
	if !errors.As(err, &fe) || fe.Reason != "dial broker" {
		t.Fatalf("Run() = %v, want dial broker FatalError", err)
	}
}

func TestLinkDisconnectWithinGraceIsFatal(t *testing.T) {
	h := startLink(t, true)
	h.connect(t, 0)

	h.clock.Advance(3 * time.Second)
	h.dialer.send(0, Event{Kind: EventDisconnected, Code: 142})

	var fe *FatalError
	if err := waitRun(t, h.errc); !errors.As(err, &fe) {
		t.Fatalf("Run() = %v, want *FatalError", err)
	}
	if fe.Reason != "disconnected within grace window" {
		t.Errorf("Reason = %q", fe.Reason)
	}
	select {
	case n := <-h.dialer.dialed:
		t.Errorf("client %d dialed after fatal disconnect", n)
	default:
	}
}

func TestLinkDisconnectAfterGraceRebuilds(t *testing.T) {
	h := startLink(t, true)
	h.connect(t, 0)

	h.clock.Advance(11 * time.Second)
	h.dialer.send(0, Event{Kind: EventDisconnected})

	ev := waitKind(t, h.bus, events.KindRebuild)
	if ev.Data["reason"] != ReasonDisconnect {
		t.Errorf("rebuild reason = %v, want %q", ev.Data["reason"], ReasonDisconnect)
	}
	h.connect(t, 1)
	if !h.dialer.conn(0).isClosed() {
		t.Error("old client not closed before rebuild")
	}

	st := h.link.Status()
	if st.Generation != 2 || !st.Connected || st.Rebuilds != 1 {
		t.Errorf("Status() = %+v, want generation 2, connected, 1 rebuild", st)
	}

	h.cancel()
	if err := waitRun(t, h.errc); err != nil {
		t.Errorf("Run() after cancel = %v, want nil", err)
	}
	if !h.dialer.conn(1).isClosed() {
		t.Error("client not closed on shutdown")
	}
}

func TestLinkIgnoresReplacedClientEvents(t *testing.T) {
	h := startLink(t, true)
	h.connect(t, 0)

	h.clock.Advance(time.Minute)
	h.link.RequestRebuild("test")
	h.connect(t, 1)

	// Within the new client's grace window; only fatal if attributed to it.
	h.dialer.send(0, Event{Kind: EventDisconnected})
	h.dialer.send(0, Event{Kind: EventConnectFailed, Err: errors.New("late")})
	h.dialer.send(1, Event{Kind: EventConnected})
	waitKind(t, h.bus, events.KindConnected)

	h.cancel()
	if err := waitRun(t, h.errc); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}

func TestLinkAckDebtRebuilds(t *testing.T) {
	h := startLink(t, false)
	h.connect(t, 0)

	for range 10 {
		h.link.Send("torque/car", []byte(`{}`))
	}
	select {
	case n := <-h.dialer.dialed:
		t.Fatalf("client %d dialed with debt of 10", n)
	default:
	}

	h.link.Send("torque/car", []byte(`{}`))
	ev := waitKind(t, h.bus, events.KindRebuild)
	if ev.Data["reason"] != ReasonAckDebt {
		t.Errorf("rebuild reason = %v, want %q", ev.Data["reason"], ReasonAckDebt)
	}
	h.connect(t, 1)

	if a, k := h.link.watchdog.Counts(); a != 0 || k != 0 {
		t.Errorf("watchdog counts after rebuild = %d/%d, want 0/0", a, k)
	}
	if got := h.history.kinds(); len(got) != 1 || got[0] != "rebuild:ack_debt" {
		t.Errorf("history = %v, want [rebuild:ack_debt]", got)
	}
}

func waitAcked(t *testing.T, l *Link, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, acked := l.watchdog.Counts()
		if acked == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("acked = %d, want %d", acked, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLinkAcksBalanceAttempts(t *testing.T) {
	h := startLink(t, true)
	h.connect(t, 0)

	for i := range 25 {
		h.link.Send("torque/car", []byte(`{}`))
		waitAcked(t, h.link, int64(i+1))
	}

	st := h.link.Status()
	if st.Attempted != 25 {
		t.Errorf("Attempted = %d, want 25", st.Attempted)
	}
	if st.Acked != 25 {
		t.Errorf("Acked = %d, want 25", st.Acked)
	}
	if st.Rebuilds != 0 {
		t.Errorf("Rebuilds = %d, want 0", st.Rebuilds)
	}
}

func TestLinkAcksCountedWithoutRunLoop(t *testing.T) {
	d := newFakeDialer(true)
	l := NewLink(d, LinkConfig{}, discardLogger())
	l.ctx = context.Background()
	if err := l.dial(l.ctx); err != nil {
		t.Fatalf("dial: %v", err)
	}

	for range 3 {
		l.Send("torque/car", []byte(`{}`))
	}
	waitAcked(t, l, 3)
	if debt := l.watchdog.Debt(); debt != 0 {
		t.Errorf("Debt() = %d, want 0", debt)
	}
}

func TestLinkSendBeforeRunDrops(t *testing.T) {
	l := NewLink(newFakeDialer(true), LinkConfig{}, discardLogger())
	l.Send("torque/car", []byte(`{}`))
	if a, _ := l.watchdog.Counts(); a != 0 {
		t.Errorf("attempted = %d, want 0", a)
	}
}

func TestFatalErrorMessage(t *testing.T) {
	err := &FatalError{Reason: "connection refused", Code: 5, Err: errors.New("bad auth")}
	if got, want := err.Error(), "mqtt: connection refused (code 5): bad auth"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
