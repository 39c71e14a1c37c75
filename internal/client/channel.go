package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"classchat-service/internal/models"
)

var (
	ErrDisconnected = errors.New("connection lost before acknowledgement")
	ErrAckTimeout   = errors.New("acknowledgement timed out")
	ErrNotConnected = errors.New("channel is not connected")
)

// AckFunc resolves exactly one emitted command. err is non-nil only for
// transport-level failures (disconnect, timeout); command-level failures
// arrive as res.Success=false with res.Error set.
type AckFunc func(res models.AckResult, err error)

// Handler receives the raw payload of one pushed event.
type Handler func(data json.RawMessage)

// HandlerID identifies a registered handler for Off.
type HandlerID uint64

// Options configures a Channel.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://host:8083/ws.
	URL   string
	Token string
	// AckTimeout bounds how long Emit waits for its ack. Zero means 10s.
	AckTimeout time.Duration
	// MaxReconnectInterval caps the reconnect backoff. Zero means 30s.
	MaxReconnectInterval time.Duration
	// OnReconnect runs after the transport is re-established, before reads
	// resume. Sessions use it to re-join groups and re-query history.
	OnReconnect func()
	Dialer      *websocket.Dialer
}

type pendingAck struct {
	fn    AckFunc
	timer *time.Timer
}

type registration struct {
	id HandlerID
	fn Handler
}

// Channel is the client half of the event channel: emit commands with
// optional per-command acks, subscribe to pushed events, and survive
// transport drops with exponential-backoff reconnects. One Channel is meant
// to be shared per identity and is reference counted: Connect acquires,
// Disconnect releases, the transport closes when the count reaches zero.
type Channel struct {
	opts Options

	mu       sync.Mutex
	conn     *websocket.Conn
	refs     int
	closed   bool
	seq      uint64
	pending  map[uint64]*pendingAck
	handlers map[string][]registration
	nextID   HandlerID
	done     chan struct{}
	closing  chan struct{}

	writeMu sync.Mutex
}

// NewChannel builds a disconnected Channel.
func NewChannel(opts Options) *Channel {
	if opts.AckTimeout == 0 {
		opts.AckTimeout = 10 * time.Second
	}
	if opts.MaxReconnectInterval == 0 {
		opts.MaxReconnectInterval = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Channel{
		opts:     opts,
		pending:  make(map[uint64]*pendingAck),
		handlers: make(map[string][]registration),
	}
}

// SetOnReconnect replaces the reconnect hook.
func (ch *Channel) SetOnReconnect(fn func()) {
	ch.mu.Lock()
	ch.opts.OnReconnect = fn
	ch.mu.Unlock()
}

// Connect acquires the shared transport, dialing on the first caller.
// Reconnecting an already-connected channel is idempotent.
func (ch *Channel) Connect(ctx context.Context) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.refs > 0 {
		ch.refs++
		return nil
	}

	conn, err := ch.dial(ctx)
	if err != nil {
		return err
	}
	ch.conn = conn
	ch.refs = 1
	ch.closed = false
	ch.done = make(chan struct{})
	ch.closing = make(chan struct{})
	go ch.readLoop(conn)
	return nil
}

// Disconnect releases one reference. The last release closes the transport
// and fails every pending ack with ErrDisconnected.
func (ch *Channel) Disconnect() {
	ch.mu.Lock()
	if ch.refs == 0 {
		ch.mu.Unlock()
		return
	}
	ch.refs--
	if ch.refs > 0 {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	conn := ch.conn
	ch.conn = nil
	done := ch.done
	closing := ch.closing
	ch.mu.Unlock()

	if closing != nil {
		close(closing)
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	ch.failPending(ErrDisconnected)
}

// On registers a handler for a pushed event. Handlers for one connection run
// sequentially in event arrival order.
func (ch *Channel) On(event string, fn Handler) HandlerID {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.nextID++
	id := ch.nextID
	ch.handlers[event] = append(ch.handlers[event], registration{id: id, fn: fn})
	return id
}

// Off removes a previously registered handler.
func (ch *Channel) Off(event string, id HandlerID) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	regs := ch.handlers[event]
	for i, reg := range regs {
		if reg.id == id {
			ch.handlers[event] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// Emit sends a command. With a non-nil ack the callback is invoked exactly
// once: with the server's result, or with a transport error if the
// connection drops or the ack times out first.
func (ch *Channel) Emit(event string, payload any, ack AckFunc) error {
	ch.mu.Lock()
	conn := ch.conn
	if conn == nil {
		ch.mu.Unlock()
		if ack != nil {
			ack(models.AckResult{}, ErrNotConnected)
		}
		return ErrNotConnected
	}

	var seq uint64
	if ack != nil {
		ch.seq++
		seq = ch.seq
		p := &pendingAck{fn: ack}
		p.timer = time.AfterFunc(ch.opts.AckTimeout, func() {
			ch.resolve(seq, models.AckResult{}, ErrAckTimeout)
		})
		ch.pending[seq] = p
	}
	ch.mu.Unlock()

	frame := models.NewFrame(event, seq, payload)
	payloadBytes, _ := json.Marshal(frame)

	ch.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, payloadBytes)
	ch.writeMu.Unlock()
	if err != nil && ack != nil {
		ch.resolve(seq, models.AckResult{}, ErrDisconnected)
	}
	return err
}

// Call is Emit with the ack turned into a blocking result.
func (ch *Channel) Call(ctx context.Context, event string, payload any) (models.AckResult, error) {
	type outcome struct {
		res models.AckResult
		err error
	}
	resCh := make(chan outcome, 1)
	if err := ch.Emit(event, payload, func(res models.AckResult, err error) {
		resCh <- outcome{res: res, err: err}
	}); err != nil {
		return models.AckResult{}, err
	}
	select {
	case out := <-resCh:
		return out.res, out.err
	case <-ctx.Done():
		return models.AckResult{}, ctx.Err()
	}
}

func (ch *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if ch.opts.Token != "" {
		header.Set("Authorization", "Bearer "+ch.opts.Token)
	}
	conn, _, err := ch.opts.Dialer.DialContext(ctx, ch.opts.URL, header)
	return conn, err
}

// readLoop reads frames until the connection dies, then either reconnects
// or exits if the channel was released.
func (ch *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			ch.mu.Lock()
			closed := ch.closed
			done := ch.done
			ch.mu.Unlock()

			// Commands in flight at disconnect time are failed, not retried.
			ch.failPending(ErrDisconnected)

			if closed {
				close(done)
				return
			}
			next, ok := ch.reconnect()
			if !ok {
				close(done)
				return
			}
			conn = next
			continue
		}

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("channel: bad frame: %v", err)
			continue
		}
		ch.dispatch(frame)
	}
}

func (ch *Channel) reconnect() (*websocket.Conn, bool) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = ch.opts.MaxReconnectInterval
	policy.MaxElapsedTime = 0

	for {
		ch.mu.Lock()
		if ch.closed {
			ch.mu.Unlock()
			return nil, false
		}
		closing := ch.closing
		ch.mu.Unlock()

		conn, err := ch.dial(context.Background())
		if err == nil {
			ch.mu.Lock()
			if ch.closed {
				ch.mu.Unlock()
				conn.Close()
				return nil, false
			}
			ch.conn = conn
			onReconnect := ch.opts.OnReconnect
			ch.mu.Unlock()

			if onReconnect != nil {
				onReconnect()
			}
			return conn, true
		}

		wait := policy.NextBackOff()
		log.Printf("channel: reconnect failed, retrying in %s: %v", wait, err)
		// Disconnect must not wait out the backoff window.
		select {
		case <-time.After(wait):
		case <-closing:
			return nil, false
		}
	}
}

func (ch *Channel) dispatch(frame models.Frame) {
	if frame.Event == models.EventAck {
		var res models.AckResult
		if err := json.Unmarshal(frame.Data, &res); err != nil {
			log.Printf("channel: bad ack payload: %v", err)
			return
		}
		ch.resolve(frame.Seq, res, nil)
		return
	}

	ch.mu.Lock()
	regs := make([]registration, len(ch.handlers[frame.Event]))
	copy(regs, ch.handlers[frame.Event])
	ch.mu.Unlock()

	for _, reg := range regs {
		reg.fn(frame.Data)
	}
}

// resolve fires a pending ack exactly once; later calls for the same seq are
// no-ops because the entry is gone.
func (ch *Channel) resolve(seq uint64, res models.AckResult, err error) {
	ch.mu.Lock()
	p, ok := ch.pending[seq]
	if ok {
		delete(ch.pending, seq)
	}
	ch.mu.Unlock()
	if !ok {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.fn(res, err)
}

func (ch *Channel) failPending(err error) {
	ch.mu.Lock()
	pending := ch.pending
	ch.pending = make(map[uint64]*pendingAck)
	ch.mu.Unlock()

	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.fn(models.AckResult{}, err)
	}
}
