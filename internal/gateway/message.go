// Package gateway carries the store and the action entry points over
// websocket connections. Messages are JSON text frames:
//
//	client → server: subscribe, replace, unsubscribe, move, state, damage, respawn
//	server → client: ack, error, diff
//
// Every client request carries a connection-scoped req number answered by
// exactly one ack or error. A subscription is addressed by the req of the
// subscribe that created it.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/udisondev/realmsync/internal/action"
	"github.com/udisondev/realmsync/internal/ai"
	"github.com/udisondev/realmsync/internal/model"
	"github.com/udisondev/realmsync/internal/query"
	"github.com/udisondev/realmsync/internal/store"
)

// Message types.
const (
	TypeSubscribe   = "subscribe"
	TypeReplace     = "replace"
	TypeUnsubscribe = "unsubscribe"
	TypeMove        = "move"
	TypeState       = "state"
	TypeDamage      = "damage"
	TypeRespawn     = "respawn"

	TypeAck   = "ack"
	TypeError = "error"
	TypeDiff  = "diff"
)

type clientMessage struct {
	Type   string            `json:"type"`
	Req    uint64            `json:"req"`
	Sub    uint64            `json:"sub,omitempty"`
	Query  string            `json:"query,omitempty"`
	X      float64           `json:"x,omitempty"`
	Y      float64           `json:"y,omitempty"`
	Facing model.Facing      `json:"facing,omitempty"`
	State  model.EntityState `json:"state,omitempty"`
	Entity uint64            `json:"entity,omitempty"`
	Amount float64           `json:"amount,omitempty"`
}

type serverMessage struct {
	Type    string          `json:"type"`
	Req     uint64          `json:"req,omitempty"`
	Sub     uint64          `json:"sub,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Killed  bool            `json:"killed,omitempty"`
	Op      string          `json:"op,omitempty"`
	Table   string          `json:"table,omitempty"`
	Old     json.RawMessage `json:"old,omitempty"`
	New     json.RawMessage `json:"new,omitempty"`
}

// error codes let the remote side map failures back to sentinel errors.
var errorCodes = []struct {
	code string
	err  error
}{
	{"bad_query", query.ErrSyntax},
	{"not_found", store.ErrNotFound},
	{"stale_version", store.ErrStaleVersion},
	{"closed", store.ErrClosed},
	{"entity_dead", model.ErrEntityDead},
	{"illegal_transition", model.ErrIllegalTransition},
	{"invalid_damage", ai.ErrInvalidDamage},
	{"server_owned_state", action.ErrServerOwnedState},
	{"offline", action.ErrOffline},
	{"not_dead", action.ErrNotDead},
	{"invalid_position", action.ErrInvalidPosition},
	{"unknown_subscription", ErrUnknownSubscription},
	{"bad_message", ErrBadMessage},
}

func codeOf(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

func errorFor(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// RemoteError is a failure reported by the server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Code, e.Message)
}

// Unwrap returns the sentinel error matching Code, if any.
func (e *RemoteError) Unwrap() error {
	return errorFor(e.Code)
}

func encodeDiff(sub uint64, d store.Diff) ([]byte, error) {
	msg := serverMessage{Type: TypeDiff, Sub: sub, Op: d.Op.String(), Table: d.Table.String()}
	var err error
	if d.Old != nil {
		if msg.Old, err = json.Marshal(d.Old); err != nil {
			return nil, fmt.Errorf("encoding old row: %w", err)
		}
	}
	if d.New != nil {
		if msg.New, err = json.Marshal(d.New); err != nil {
			return nil, fmt.Errorf("encoding new row: %w", err)
		}
	}
	return json.Marshal(msg)
}

func decodeDiff(msg serverMessage) (store.Diff, error) {
	table, err := model.ParseTable(msg.Table)
	if err != nil {
		return store.Diff{}, err
	}
	d := store.Diff{Table: table}
	switch msg.Op {
	case "insert":
		d.Op = store.OpInsert
	case "update":
		d.Op = store.OpUpdate
	case "delete":
		d.Op = store.OpDelete
	default:
		return store.Diff{}, fmt.Errorf("%w: op %q", ErrBadMessage, msg.Op)
	}
	if len(msg.Old) > 0 {
		if d.Old, err = decodeRow(table, msg.Old); err != nil {
			return store.Diff{}, err
		}
	}
	if len(msg.New) > 0 {
		if d.New, err = decodeRow(table, msg.New); err != nil {
			return store.Diff{}, err
		}
	}
	if d.Row() == nil {
		return store.Diff{}, fmt.Errorf("%w: diff without row", ErrBadMessage)
	}
	return d, nil
}

func decodeRow(table model.Table, raw json.RawMessage) (model.Row, error) {
	var row model.Row
	switch table {
	case model.TableEntity:
		row = &model.Entity{}
	case model.TablePlayer:
		row = &model.Player{}
	case model.TableRoute:
		row = &model.Route{}
	case model.TableDamage:
		row = &model.DamageEvent{}
	default:
		return nil, fmt.Errorf("%w: table %s", ErrBadMessage, table)
	}
	if err := json.Unmarshal(raw, row); err != nil {
		return nil, fmt.Errorf("decoding %s row: %w", table, err)
	}
	return row, nil
}
