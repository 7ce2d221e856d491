package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/gamebridge/internal/logx"
)

// ErrClosed is returned when posting to a connection that has gone away.
var ErrClosed = errors.New("channel closed")

// maxFrame bounds a single inbound frame; response bodies travel inline.
const maxFrame = 8 << 20

// WSConn carries one context pair over a WebSocket. It is both the Inbox of
// the local context and the Target for the remote one.
type WSConn struct {
	conn     *websocket.Conn
	localID  string
	remoteID string

	out  chan []byte
	ctx  context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	subs    map[uint64]func(Event)
	order   []uint64
	nextSub uint64
	err     error

	closeOnce sync.Once
	done      chan struct{}

	// frames are not read before the first subscriber is in place
	subscribed chan struct{}
	subOnce    sync.Once
}

// NewWSConn starts the read and write loops for an established connection.
func NewWSConn(conn *websocket.Conn, localID, remoteID string) *WSConn {
	conn.SetReadLimit(maxFrame)
	ctx, cancel := context.WithCancel(context.Background())
	w := &WSConn{
		conn:     conn,
		localID:  localID,
		remoteID: remoteID,
		out:      make(chan []byte, 64),
		ctx:      ctx,
		stop:     cancel,
		subs:     map[uint64]func(Event){},
		done:     make(chan struct{}),

		subscribed: make(chan struct{}),
	}
	go w.readLoop()
	go w.writeLoop()
	return w
}

// DialWS connects to a host WebSocket endpoint.
func DialWS(ctx context.Context, url, localID, remoteID string) (*WSConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWSConn(conn, localID, remoteID), nil
}

// ID implements Target.
func (w *WSConn) ID() string { return w.remoteID }

// LocalID returns the id of the local side.
func (w *WSConn) LocalID() string { return w.localID }

// Post implements Target. It queues the frame for the write loop.
func (w *WSConn) Post(ctx context.Context, data []byte) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.out <- data:
		return nil
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe implements Inbox.
func (w *WSConn) Subscribe(fn func(Event)) func() {
	w.mu.Lock()
	w.nextSub++
	id := w.nextSub
	w.subs[id] = fn
	w.order = append(w.order, id)
	w.mu.Unlock()
	w.subOnce.Do(func() { close(w.subscribed) })
	return func() {
		w.mu.Lock()
		if _, ok := w.subs[id]; ok {
			delete(w.subs, id)
			for i, v := range w.order {
				if v == id {
					w.order = append(w.order[:i:i], w.order[i+1:]...)
					break
				}
			}
		}
		w.mu.Unlock()
	}
}

// Done is closed when the connection ends.
func (w *WSConn) Done() <-chan struct{} { return w.done }

// Err returns the error that ended the connection, if any.
func (w *WSConn) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close closes the socket with a normal closure.
func (w *WSConn) Close() error {
	return w.CloseWith(websocket.StatusNormalClosure, "")
}

// CloseWith closes the socket with the given status and reason.
func (w *WSConn) CloseWith(code websocket.StatusCode, reason string) error {
	w.shutdown(nil)
	return w.conn.Close(code, reason)
}

func (w *WSConn) shutdown(err error) {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		w.stop()
		close(w.done)
	})
}

func (w *WSConn) readLoop() {
	select {
	case <-w.subscribed:
	case <-w.done:
		return
	}
	for {
		_, data, err := w.conn.Read(w.ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
				err = nil
			} else if w.ctx.Err() != nil {
				err = nil
			}
			if err != nil {
				logx.Log.Debug().Err(err).Str("local", w.localID).Str("remote", w.remoteID).Msg("websocket read ended")
			}
			w.shutdown(err)
			return
		}
		w.mu.Lock()
		subs := make([]func(Event), 0, len(w.order))
		for _, id := range w.order {
			subs = append(subs, w.subs[id])
		}
		w.mu.Unlock()
		ev := Event{Source: w.remoteID, Data: data}
		for _, s := range subs {
			s(ev)
		}
	}
}

func (w *WSConn) writeLoop() {
	for {
		select {
		case <-w.done:
			return
		case b := <-w.out:
			if err := w.conn.Write(w.ctx, websocket.MessageText, b); err != nil {
				logx.Log.Debug().Err(err).Str("local", w.localID).Str("remote", w.remoteID).Msg("websocket write failed")
				w.shutdown(err)
				_ = w.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}
