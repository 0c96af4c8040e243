package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	data []byte
	err  error
}

// fakeConn is an in-memory Conn driven by the test.
type fakeConn struct {
	inbox     chan frame
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	writes   [][]byte
	controls [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan frame, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.inbox:
		if f.err != nil {
			return 0, nil, f.err
		}
		return websocket.TextMessage, f.data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(_ int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(data string) {
	c.inbox <- frame{data: []byte(data)}
}

func (c *fakeConn) drop(code int) {
	c.inbox <- frame{err: &websocket.CloseError{Code: code}}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *fakeConn) controlFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.controls...)
}

// fakeDialer hands out fakeConns and records every dialed URL.
type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	// fail, when set, decides per dial (0-based) whether to fail.
	fail func(n int) error
	// gate, when set, blocks each dial until it receives.
	gate chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	n := len(d.urls)
	d.urls = append(d.urls, url)
	fail := d.fail
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}

	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) lastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

// recorder is a Listener collecting messages.
type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) OnMessage(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Kind)
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}
