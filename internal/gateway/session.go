package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/store"
)

// session is one player connection. The read loop runs on the HTTP
// handler goroutine, writes go through sendCh to writePump.
type session struct {
	srv    *Server
	id     model.Identity
	ws     *websocket.Conn
	logger *slog.Logger

	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
	pumpDone  chan struct{}

	mu   sync.Mutex // guards subs and ws assignment
	subs map[uint64]*store.Subscription
}

func newSession(srv *Server, id model.Identity, queue int) *session {
	return &session{
		srv:      srv,
		id:       id,
		logger:   srv.logger.With("player", id.Short()),
		sendCh:   make(chan []byte, queue),
		closeCh:  make(chan struct{}),
		pumpDone: make(chan struct{}),
		subs:     make(map[uint64]*store.Subscription),
	}
}

// send queues a frame without blocking. A full queue disconnects the
// session. Safe to call from store delivery.
func (c *session) send(frame []byte) error {
	select {
	case <-c.closeCh:
		return store.ErrClosed
	default:
	}
	select {
	case c.sendCh <- frame:
		return nil
	default:
		c.logger.Warn("send queue full, disconnecting slow client", "queued", len(c.sendCh))
		c.closeAsync()
		return ErrSlowConsumer
	}
}

func (c *session) sendJSON(msg serverMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("encoding reply", "type", msg.Type, "error", err)
		return
	}
	_ = c.send(frame)
}

// closeAsync signals writePump and unblocks the read loop. Safe to call
// multiple times and from any goroutine.
func (c *session) closeAsync() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			_ = ws.SetReadDeadline(time.Now())
		}
	})
}

func (c *session) attach(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

func (c *session) writePump() {
	defer close(c.pumpDone)

	ping := time.NewTicker(c.srv.cfg.ReadTimeout * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case frame := <-c.sendCh:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.logger.Warn("write failed", "error", err)
				c.closeAsync()
				return
			}
		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("ping failed", "error", err)
				c.closeAsync()
				return
			}
		case <-c.closeCh:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.srv.cfg.WriteTimeout))
			return
		}
	}
}

func (c *session) write(kind int, frame []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, frame)
}

func (c *session) readLoop(ctx context.Context) {
	cfg := c.srv.cfg
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	extend := func() { _ = c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)) }
	extend()
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	select {
	case <-c.closeCh:
		return
	default:
	}

	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Info("connection lost", "error", err)
				}
			}
			return
		}
		extend()
		if kind != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.reply(0, 0, false, fmt.Errorf("%w: %v", ErrBadMessage, err))
			continue
		}
		sub, killed, err := c.handle(ctx, msg)
		c.reply(msg.Req, sub, killed, err)
	}
}

func (c *session) reply(req, sub uint64, killed bool, err error) {
	if err != nil {
		c.logger.Debug("request failed", "req", req, "error", err)
		c.sendJSON(serverMessage{Type: TypeError, Req: req, Code: codeOf(err), Message: err.Error()})
		return
	}
	c.sendJSON(serverMessage{Type: TypeAck, Req: req, Sub: sub, Killed: killed})
}

func (c *session) handle(ctx context.Context, msg clientMessage) (sub uint64, killed bool, err error) {
	actions := c.srv.actions
	switch msg.Type {
	case TypeSubscribe:
		return msg.Req, false, c.subscribe(msg.Req, msg.Query)
	case TypeReplace:
		s, err := c.lookup(msg.Sub)
		if err != nil {
			return 0, false, err
		}
		return msg.Sub, false, s.Replace(msg.Query)
	case TypeUnsubscribe:
		return msg.Sub, false, c.unsubscribe(msg.Sub)
	case TypeMove:
		return 0, false, actions.MovePlayer(ctx, c.id, model.V(msg.X, msg.Y), msg.Facing)
	case TypeState:
		return 0, false, actions.SetPlayerState(ctx, c.id, msg.State)
	case TypeDamage:
		res, err := actions.DamageEntity(ctx, c.id, msg.Entity, msg.Amount)
		return 0, res.Killed, err
	case TypeRespawn:
		_, err := actions.RespawnPlayer(ctx, c.id)
		return 0, false, err
	}
	return 0, false, fmt.Errorf("%w: type %q", ErrBadMessage, msg.Type)
}

func (c *session) subscribe(req uint64, q string) error {
	if req == 0 {
		return fmt.Errorf("%w: subscribe needs a req", ErrBadMessage)
	}
	c.mu.Lock()
	_, dup := c.subs[req]
	c.mu.Unlock()
	if dup {
		return fmt.Errorf("%w: subscription %d exists", ErrBadMessage, req)
	}

	// initial rows are queued before the ack
	sub, err := c.srv.store.Subscribe(q, diffSink{sess: c, sub: req})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[req] = sub
	c.mu.Unlock()
	return nil
}

func (c *session) lookup(id uint64) (*store.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSubscription, id)
	}
	return s, nil
}

func (c *session) unsubscribe(id uint64) error {
	c.mu.Lock()
	s, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSubscription, id)
	}
	return s.Close()
}

// teardown closes every subscription and the connection. Must not run on
// a store delivery goroutine.
func (c *session) teardown() {
	c.closeAsync()

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[uint64]*store.Subscription)
	c.mu.Unlock()

	var errs []error
	for _, s := range subs {
		errs = append(errs, s.Close())
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("closing subscriptions", "error", err)
	}

	<-c.pumpDone
	_ = c.ws.Close()
	c.logger.Info("session closed", "subscriptions", len(subs))
}

// diffSink forwards one subscription's diffs to the session queue.
type diffSink struct {
	sess *session
	sub  uint64
}

func (d diffSink) OnInsert(row model.Row) {
	d.push(store.Diff{Op: store.OpInsert, Table: row.Table(), New: row})
}

func (d diffSink) OnUpdate(oldRow, newRow model.Row) {
	d.push(store.Diff{Op: store.OpUpdate, Table: newRow.Table(), Old: oldRow, New: newRow})
}

func (d diffSink) OnDelete(row model.Row) {
	d.push(store.Diff{Op: store.OpDelete, Table: row.Table(), Old: row})
}

func (d diffSink) push(diff store.Diff) {
	frame, err := encodeDiff(d.sub, diff)
	if err != nil {
		d.sess.logger.Error("encoding diff", "sub", d.sub, "error", err)
		return
	}
	_ = d.sess.send(frame)
}
