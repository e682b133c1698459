// Package subscription keeps an observer's spatial subscription window
// centered on it, re-issuing the filtered query only after the observer
// has moved a fixed fraction of the window radius.
package subscription

import (
	"github.com/udisondev/realmsync/internal/store"
)

// Handle is a live subscription.
type Handle interface {
	Replace(query string) error
	Close() error
}

// Source opens subscriptions. Implemented by the local store and by the
// websocket gateway client.
type Source interface {
	Subscribe(query string, h store.Handler) (Handle, error)
}

// StoreSource serves subscriptions straight from an in-process store.
type StoreSource struct {
	Store *store.Store
}

// Subscribe implements Source.
func (s StoreSource) Subscribe(query string, h store.Handler) (Handle, error) {
	sub, err := s.Store.Subscribe(query, h)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
