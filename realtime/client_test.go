package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func fastPolicy(maxAttempts int) ReconnectPolicy {
	return ReconnectPolicy{Delay: 10 * time.Millisecond, MaxAttempts: maxAttempts}
}

func newTestClient(t *testing.T, d *fakeDialer, opts ...Option) (*Client, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	base := []Option{WithDialer(d), WithPolicy(fastPolicy(3)), WithLogger(zap.New(core))}
	c := NewClient("matches", Endpoint{Origin: "https://courts.example", Path: "/ws/matches/"}, append(base, opts...)...)
	t.Cleanup(c.Disconnect)
	return c, logs
}

func waitOpen(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == StateOpen }, waitFor, tick)
}

func TestSendBeforeConnectIsDropped(t *testing.T) {
	d := &fakeDialer{}
	c, logs := newTestClient(t, d)

	err := c.Send(map[string]string{"message": "hola"})

	assert.ErrorIs(t, err, ErrNotOpen)
	assert.Equal(t, 0, d.dials())
	assert.Equal(t, 1, logs.FilterMessage("send dropped, channel not open").Len())
}

func TestConnectBuildsURLAndOpens(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d)

	c.Connect("abc.def")
	waitOpen(t, c)

	assert.Equal(t, "wss://courts.example/ws/matches/?token=abc.def", d.lastURL())
}

func TestConnectIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d)

	c.Connect("tok")
	c.Connect("tok")
	waitOpen(t, c)
	c.Connect("tok")

	assert.Equal(t, 1, d.dials())
}

func TestConnectWithoutTokenDoesNothing(t *testing.T) {
	d := &fakeDialer{}
	c, logs := newTestClient(t, d)

	c.Connect("")

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 0, d.dials())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestDispatchMatchCreated(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d)
	rec := &recorder{}
	c.Subscribe(rec)

	c.Connect("tok")
	waitOpen(t, c)
	d.conn(0).push(`{"type":"match_created","match":{"id":7}}`)

	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
	msg := rec.msgs[0]
	assert.Equal(t, "match_created", msg.Kind)
	assert.Equal(t, int64(7), msg.Get("match.id").Int())
	assert.JSONEq(t, `{"type":"match_created","match":{"id":7}}`, string(msg.Payload))
}

func TestDispatchOrderAndSetSemantics(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d)

	var mu sync.Mutex
	var calls []string
	first := Func(func(m Message) {
		mu.Lock()
		calls = append(calls, "first:"+m.Kind)
		mu.Unlock()
	})
	second := Func(func(m Message) {
		mu.Lock()
		calls = append(calls, "second:"+m.Kind)
		mu.Unlock()
	})
	c.Subscribe(first)
	c.Subscribe(second)
	c.Subscribe(first)
	assert.Equal(t, 2, c.Listeners())

	c.Connect("tok")
	waitOpen(t, c)
	d.conn(0).push(`{"type":"booking_created"}`)
	d.conn(0).push(`{"type":"booking_cancelled","booking_id":3}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 4
	}, waitFor, tick)
	assert.Equal(t, []string{
		"first:booking_created", "second:booking_created",
		"first:booking_cancelled", "second:booking_cancelled",
	}, calls)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d)
	rec := &recorder{}

	unsubscribe := c.Subscribe(rec)
	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, c.Listeners())

	other := &recorder{}
	c.Subscribe(other)
	unsubscribe()
	assert.Equal(t, 1, c.Listeners())
}

func TestMalformedMessageIsDropped(t *testing.T) {
	d := &fakeDialer{}
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)
	c, logs := newTestClient(t, d, WithMetrics(metrics))
	rec := &recorder{}
	c.Subscribe(rec)

	c.Connect("tok")
	waitOpen(t, c)
	d.conn(0).push(`not json`)
	d.conn(0).push(`{"type":"user_updated","user":{"id":1}}`)

	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
	assert.Equal(t, []string{"user_updated"}, rec.kinds())
	assert.Equal(t, uint64(1), c.Status().ParseErrors)
	assert.Equal(t, 1, logs.FilterMessage("dropping malformed message").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.parseErrorsTotal.WithLabelValues("matches")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messagesTotal.WithLabelValues("matches")))
	assert.Equal(t, StateOpen, c.State())
}

func TestListenerPanicDoesNotStopDispatch(t *testing.T) {
	d := &fakeDialer{}
	c, logs := newTestClient(t, d)
	c.Subscribe(Func(func(Message) { panic("boom") }))
	rec := &recorder{}
	c.Subscribe(rec)

	c.Connect("tok")
	waitOpen(t, c)
	d.conn(0).push(`{"type":"match_updated"}`)
	d.conn(0).push(`{"type":"match_deleted","match_id":2}`)

	require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, tick)
	assert.Equal(t, 2, logs.FilterMessage("listener panicked").Len())
}

func TestUnknownKindIsStillDispatched(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d)
	rec := &recorder{}
	c.Subscribe(rec)

	c.Connect("tok")
	waitOpen(t, c)
	d.conn(0).push(`{"type":"court_repainted"}`)
	d.conn(0).push(`{"no_type":true}`)

	require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, tick)
	assert.Equal(t, []string{"court_repainted", ""}, rec.kinds())
}

func TestSendWhenOpen(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d)

	c.Connect("tok")
	waitOpen(t, c)

	require.NoError(t, c.Send(map[string]string{"message": "nos vemos a las 8"}))
	require.NoError(t, c.Send(`{"type":"typing","is_typing":true}`))

	written := d.conn(0).written()
	require.Len(t, written, 2)
	assert.JSONEq(t, `{"message":"nos vemos a las 8"}`, string(written[0]))
	assert.JSONEq(t, `{"type":"typing","is_typing":true}`, string(written[1]))
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	for _, code := range []int{websocket.CloseNormalClosure, websocket.CloseGoingAway} {
		d := &fakeDialer{}
		c, _ := newTestClient(t, d)

		c.Connect("tok")
		waitOpen(t, c)
		d.conn(0).drop(code)

		require.Eventually(t, func() bool { return c.State() == StateClosed }, waitFor, tick)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, d.dials(), "code %d", code)
		assert.Equal(t, code, c.Status().LastCloseCode)
		assert.False(t, c.Status().Exhausted)
	}
}

func TestAbnormalCloseReconnects(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d)
	rec := &recorder{}
	c.Subscribe(rec)

	c.Connect("tok")
	waitOpen(t, c)
	d.conn(0).drop(websocket.CloseAbnormalClosure)

	require.Eventually(t, func() bool { return d.dials() == 2 && c.State() == StateOpen }, waitFor, tick)
	assert.Equal(t, 0, c.Status().Attempt)
	assert.True(t, d.conn(0).isClosed())

	d.conn(1).push(`{"type":"participant_joined","match_id":4}`)
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
}

func TestChatErrorCodeReconnectsOnceUnderDefaultPolicy(t *testing.T) {
	d := &fakeDialer{}
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)
	c, _ := newTestClient(t, d, WithMetrics(metrics))

	c.Connect("tok")
	waitOpen(t, c)
	d.conn(0).drop(CloseChatError)

	require.Eventually(t, func() bool { return d.dials() == 2 && c.State() == StateOpen }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, d.dials())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reconnectsTotal.WithLabelValues("matches")))
	assert.False(t, c.Status().Exhausted)
}

func TestReconnectBudgetIsBounded(t *testing.T) {
	d := &fakeDialer{fail: func(n int) error {
		if n == 0 {
			return nil
		}
		return errors.New("connection refused")
	}}
	c, logs := newTestClient(t, d)

	var mu sync.Mutex
	var exhausted []Status
	c.WatchStatus(func(s Status) {
		if s.Exhausted {
			mu.Lock()
			exhausted = append(exhausted, s)
			mu.Unlock()
		}
	})

	c.Connect("tok")
	waitOpen(t, c)
	d.conn(0).drop(1011)

	require.Eventually(t, func() bool { return c.Status().Exhausted }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1+3, d.dials())
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, logs.FilterMessage("reconnect attempts exhausted").Len())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, exhausted)
	assert.Equal(t, 3, exhausted[0].Attempt)
}

func TestConnectAfterExhaustionStartsFresh(t *testing.T) {
	var fail sync.Map
	fail.Store("on", true)
	d := &fakeDialer{fail: func(int) error {
		if v, _ := fail.Load("on"); v.(bool) {
			return errors.New("refused")
		}
		return nil
	}}
	c, _ := newTestClient(t, d, WithPolicy(fastPolicy(1)))

	c.Connect("tok")
	require.Eventually(t, func() bool { return c.Status().Exhausted }, waitFor, tick)
	assert.Equal(t, 2, d.dials())

	fail.Store("on", false)
	c.Connect("tok")
	waitOpen(t, c)
	assert.False(t, c.Status().Exhausted)
}

func TestApplicationCloseCodesAreTerminal(t *testing.T) {
	d := &fakeDialer{}
	policy := fastPolicy(3)
	policy.Terminal = ApplicationClose
	c, _ := newTestClient(t, d, WithPolicy(policy))

	c.Connect("tok")
	waitOpen(t, c)
	d.conn(0).drop(4003)

	require.Eventually(t, func() bool { return c.State() == StateClosed }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.dials())
}

func TestDisconnectClearsStateAndSendsNormalClose(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d)
	c.Subscribe(&recorder{})
	c.Subscribe(&recorder{})

	c.Connect("tok")
	waitOpen(t, c)
	c.Disconnect()

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 0, c.Listeners())
	conn := d.conn(0)
	assert.True(t, conn.isClosed())
	require.Len(t, conn.controlFrames(), 1)
	assert.Equal(t, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Normal Closure"), conn.controlFrames()[0])
	assert.ErrorIs(t, c.Send("late"), ErrNotOpen)
}

func TestDisconnectIgnoresFramesFromOldSocket(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d)
	rec := &recorder{}
	c.Subscribe(rec)

	c.Connect("tok")
	waitOpen(t, c)
	old := d.conn(0)
	c.Disconnect()

	// Subscribed again, so only the session check can keep the frame out.
	c.Subscribe(rec)
	old.push(`{"type":"booking_created","booking":{"id":1}}`)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 1, c.Listeners())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d, WithPolicy(ReconnectPolicy{Delay: 30 * time.Millisecond, MaxAttempts: 5}))

	c.Connect("tok")
	waitOpen(t, c)
	d.conn(0).drop(websocket.CloseAbnormalClosure)
	require.Eventually(t, func() bool { return c.Status().Attempt == 1 }, waitFor, tick)

	c.Disconnect()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, d.dials())
	assert.Equal(t, StateIdle, c.State())
}

func TestDisconnectDuringDialDiscardsConnection(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	c, _ := newTestClient(t, d)

	c.Connect("tok")
	require.Eventually(t, func() bool { return d.dials() == 1 }, waitFor, tick)
	c.Disconnect()
	close(gate)

	require.Eventually(t, func() bool { return d.conn(0) != nil && d.conn(0).isClosed() }, waitFor, tick)
	assert.Equal(t, StateIdle, c.State())
}

func TestNonComparableListener(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d)

	var got []string
	var mu sync.Mutex
	unsubscribe := c.Subscribe(sliceListener{func(m Message) {
		mu.Lock()
		got = append(got, m.Kind)
		mu.Unlock()
	}})

	c.Connect("tok")
	waitOpen(t, c)
	d.conn(0).push(`{"type":"user_deleted","user_id":5}`)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, waitFor, tick)

	unsubscribe()
	assert.Equal(t, 0, c.Listeners())
}

func TestNonComparableListenerIsNotDeduplicated(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestClient(t, d)
	l := sliceListener{func(Message) {}}

	first := c.Subscribe(l)
	second := c.Subscribe(l)
	assert.Equal(t, 2, c.Listeners())

	first()
	assert.Equal(t, 1, c.Listeners())
	second()
	assert.Equal(t, 0, c.Listeners())
}

// sliceListener has a func field, so it cannot be a map key.
type sliceListener struct {
	fn func(Message)
}

func (s sliceListener) OnMessage(m Message) { s.fn(m) }
