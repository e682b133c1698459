package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/store"
	"github.com/udisondev/realmsync/internal/subscription"
)

const defaultRequestTimeout = 5 * time.Second

// ErrDisconnected is returned for requests on a closed connection.
var ErrDisconnected = errors.New("gateway connection closed")

// DialOptions configures Dial.
type DialOptions struct {
	Token   string
	Name    string
	Timeout time.Duration // per request, 0 = 5s
	Header  http.Header
	Logger  *slog.Logger
}

// Remote is a client connection to a gateway Server. It implements
// subscription.Source and the client's avatar Mover. Diffs are delivered
// on the connection's read goroutine; handlers must not block and must
// not call back into the Remote.
type Remote struct {
	ws      *websocket.Conn
	id      model.Identity
	timeout time.Duration
	logger  *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	nextReq  uint64
	pending  map[uint64]chan serverMessage
	handlers map[uint64]store.Handler
	err      error

	// deliverMu is held while a handler runs so closing a subscription
	// can wait out an in-flight delivery.
	deliverMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the gateway at rawURL (ws:// or wss://).
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*Remote, error) {
	if opts.Token == "" {
		return nil, errors.New("dial gateway: token is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	q := u.Query()
	q.Set("token", opts.Token)
	if opts.Name != "" {
		q.Set("name", opts.Name)
	}
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("dial gateway %s: %w (status %d)", u.Host, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial gateway %s: %w", u.Host, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	r := &Remote{
		ws:       ws,
		id:       model.IdentityFromToken([]byte(opts.Token)),
		timeout:  timeout,
		logger:   logger,
		pending:  make(map[uint64]chan serverMessage),
		handlers: make(map[uint64]store.Handler),
		done:     make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

// Identity returns the player identity the server derives from the token.
func (r *Remote) Identity() model.Identity { return r.id }

// Done is closed when the connection ends.
func (r *Remote) Done() <-chan struct{} { return r.done }

// Err returns the reason the connection ended.
func (r *Remote) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Remote) readLoop() {
	for {
		_, payload, err := r.ws.ReadMessage()
		if err != nil {
			r.fail(err)
			return
		}
		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			r.logger.Warn("discarding malformed server message", "error", err)
			continue
		}

		switch msg.Type {
		case TypeDiff:
			r.deliver(msg)
		case TypeAck, TypeError:
			r.mu.Lock()
			ch, ok := r.pending[msg.Req]
			delete(r.pending, msg.Req)
			r.mu.Unlock()
			if ok {
				ch <- msg
			} else if msg.Type == TypeError {
				r.logger.Warn("server error", "code", msg.Code, "message", msg.Message)
			}
		default:
			r.logger.Warn("unknown server message", "type", msg.Type)
		}
	}
}

func (r *Remote) deliver(msg serverMessage) {
	d, err := decodeDiff(msg)
	if err != nil {
		r.logger.Warn("discarding diff", "sub", msg.Sub, "error", err)
		return
	}
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	r.mu.Lock()
	h := r.handlers[msg.Sub]
	r.mu.Unlock()
	if h != nil {
		store.Dispatch(h, d)
	}
}

func (r *Remote) fail(err error) {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			err = ErrDisconnected
		}
		r.err = err
		r.pending = make(map[uint64]chan serverMessage)
		r.mu.Unlock()
		close(r.done)
	})
}

// request sends msg and waits for its ack. prepare runs under the
// registry lock with the assigned req, before the message is written.
func (r *Remote) request(ctx context.Context, msg clientMessage, prepare func(req uint64)) (serverMessage, error) {
	ch := make(chan serverMessage, 1)

	r.mu.Lock()
	if r.err != nil {
		r.mu.Unlock()
		return serverMessage{}, fmt.Errorf("%w: %v", ErrDisconnected, r.err)
	}
	r.nextReq++
	msg.Req = r.nextReq
	r.pending[msg.Req] = ch
	if prepare != nil {
		prepare(msg.Req)
	}
	r.mu.Unlock()

	forget := func() {
		r.mu.Lock()
		delete(r.pending, msg.Req)
		r.mu.Unlock()
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		forget()
		return serverMessage{}, fmt.Errorf("encoding %s: %w", msg.Type, err)
	}
	r.writeMu.Lock()
	_ = r.ws.SetWriteDeadline(time.Now().Add(r.timeout))
	err = r.ws.WriteMessage(websocket.TextMessage, frame)
	r.writeMu.Unlock()
	if err != nil {
		forget()
		return serverMessage{}, fmt.Errorf("sending %s: %w", msg.Type, err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		if reply.Type == TypeError {
			return reply, &RemoteError{Code: reply.Code, Message: reply.Message}
		}
		return reply, nil
	case <-ctx.Done():
		forget()
		return serverMessage{}, ctx.Err()
	case <-timer.C:
		forget()
		return serverMessage{}, fmt.Errorf("%s: no reply after %v", msg.Type, r.timeout)
	case <-r.done:
		return serverMessage{}, fmt.Errorf("%w: %v", ErrDisconnected, r.Err())
	}
}

// Subscribe implements subscription.Source.
func (r *Remote) Subscribe(query string, h store.Handler) (subscription.Handle, error) {
	var id uint64
	_, err := r.request(context.Background(), clientMessage{Type: TypeSubscribe, Query: query}, func(req uint64) {
		id = req
		r.handlers[req] = h
	})
	if err != nil {
		r.mu.Lock()
		delete(r.handlers, id)
		r.mu.Unlock()
		return nil, err
	}
	return &remoteSub{remote: r, id: id}, nil
}

// Move writes the player's own position and facing.
func (r *Remote) Move(ctx context.Context, pos model.Vec2, facing model.Facing) error {
	_, err := r.request(ctx, clientMessage{Type: TypeMove, X: pos.X, Y: pos.Y, Facing: facing}, nil)
	return err
}

// SetState requests a state change of the player's own avatar.
func (r *Remote) SetState(ctx context.Context, state model.EntityState) error {
	_, err := r.request(ctx, clientMessage{Type: TypeState, State: state}, nil)
	return err
}

// Damage hits entity and reports whether it died.
func (r *Remote) Damage(ctx context.Context, entity uint64, amount float64) (bool, error) {
	reply, err := r.request(ctx, clientMessage{Type: TypeDamage, Entity: entity, Amount: amount}, nil)
	return reply.Killed, err
}

// Respawn revives the dead player at the spawn point.
func (r *Remote) Respawn(ctx context.Context) error {
	_, err := r.request(ctx, clientMessage{Type: TypeRespawn}, nil)
	return err
}

// Close ends the connection and waits for the read goroutine.
func (r *Remote) Close() error {
	r.writeMu.Lock()
	_ = r.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	r.writeMu.Unlock()

	select {
	case <-r.done:
	case <-time.After(r.timeout):
	}
	err := r.ws.Close()
	r.fail(ErrDisconnected)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

type remoteSub struct {
	remote *Remote
	id     uint64
	closed atomic.Bool
}

// Replace implements subscription.Handle.
func (s *remoteSub) Replace(query string) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	_, err := s.remote.request(context.Background(), clientMessage{Type: TypeReplace, Sub: s.id, Query: query}, nil)
	return err
}

// Close implements subscription.Handle. No handler call for the
// subscription starts after Close returns.
func (s *remoteSub) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	r := s.remote
	r.mu.Lock()
	delete(r.handlers, s.id)
	r.mu.Unlock()
	r.deliverMu.Lock()
	r.deliverMu.Unlock() //nolint:staticcheck // barrier

	select {
	case <-r.done:
		return nil
	default:
	}
	_, err := r.request(context.Background(), clientMessage{Type: TypeUnsubscribe, Sub: s.id}, nil)
	return err
}
