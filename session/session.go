// Package session holds the bearer credential for the current user.
//
// A Holder is owned by the application root and handed to the REST client;
// there is no package-level credential.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-orderbook/orderbook-go/logging"
)

// Holder keeps at most one bearer token in memory and mirrors it into a
// durable Store. It is safe for concurrent use.
type Holder struct {
	store        Store
	storeTimeout time.Duration
	logger       logging.Logger

	// storeMu orders store I/O; mu only guards the fields below and is
	// never held across it.
	storeMu sync.Mutex

	mu    sync.Mutex
	token string
	// version changes on every Set so a slow load cannot resurrect a
	// token that was replaced meanwhile.
	version uint64
}

// HolderOpts configures a Holder.
type HolderOpts struct {
	// Store is the durable medium. Nil keeps the token in memory only.
	Store Store
	// StoreTimeout bounds every store operation (default 2s).
	StoreTimeout time.Duration
	Logger       logging.Logger
}

// NewHolder returns a Holder. The durable copy is read lazily on the first Get.
func NewHolder(opts HolderOpts) *Holder {
	if opts.StoreTimeout == 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	return &Holder{
		store:        opts.Store,
		storeTimeout: opts.StoreTimeout,
		logger:       opts.Logger,
	}
}

// Set replaces the token. An empty token removes it, including the durable copy.
func (h *Holder) Set(token string) {
	h.storeMu.Lock()
	defer h.storeMu.Unlock()

	h.mu.Lock()
	h.token = token
	h.version++
	h.mu.Unlock()

	if h.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()
	var err error
	if token == "" {
		err = h.store.Delete(ctx)
	} else {
		err = h.store.Save(ctx, token)
	}
	if err != nil {
		h.logger.Warnf("session: store unreachable, keeping token in memory only: %v", err)
	}
}

// Get returns the token, loading it from the store if memory is empty.
func (h *Holder) Get() (string, bool) {
	h.mu.Lock()
	token, version := h.token, h.version
	h.mu.Unlock()
	if token != "" {
		return token, true
	}
	if h.store == nil {
		return "", false
	}

	h.storeMu.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	token, err := h.store.Load(ctx)
	cancel()
	h.storeMu.Unlock()
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			h.logger.Warnf("session: failed to load token: %v", err)
		}
		return "", false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.version != version {
		return h.token, h.token != ""
	}
	h.token = token
	return token, token != ""
}

// Clear forgets the token everywhere.
func (h *Holder) Clear() {
	h.Set("")
}
