// Package handlers applies decoded vault events to the materialized entities.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goran-ethernal/StarboardIndexor/internal/abi"
	"github.com/goran-ethernal/StarboardIndexor/internal/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/internal/metrics"
	"github.com/goran-ethernal/StarboardIndexor/internal/state"
)

var (
	// ErrPositionNotFound is returned when an event references a position that was never opened.
	ErrPositionNotFound = errors.New("position not found")

	// ErrPositionClosed is returned when an event references a position in a terminal state.
	ErrPositionClosed = errors.New("position is closed")

	// ErrInvalidEvent is returned when a decoded event lacks a field the handler needs.
	ErrInvalidEvent = errors.New("invalid event")
)

// Handler applies one kind of decoded event by staging every entity it mutates
// into tx. On error the caller discards tx, so partial writes never reach the batch.
type Handler interface {
	Name() string
	Handle(ctx context.Context, log abi.Log, tx *state.Tx) error
}

// Deps are the capabilities handlers are built with.
type Deps struct {
	Resolver *state.Resolver
	Units    Units
	Log      *logger.Logger
}

// Registry is an immutable dispatch table keyed by event name.
type Registry struct {
	handlers map[string]Handler
	log      *logger.Logger
}

// NewRegistry creates a registry with every vault event handler.
func NewRegistry(deps Deps) (*Registry, error) {
	b := &base{resolver: deps.Resolver, units: deps.Units}

	return NewRegistryWith(deps.Log,
		&increasePosition{b},
		&decreasePosition{b},
		&liquidatePosition{b},
		&updateFundingRate{b},
		&setAssetConfig{b},
		&setPricefeedConfig{b},
		&priceUpdate{b},
		&swap{b},
	)
}

// NewRegistryWith creates a registry from explicit handlers. Names must be unique.
func NewRegistryWith(log *logger.Logger, handlers ...Handler) (*Registry, error) {
	r := &Registry{
		handlers: make(map[string]Handler, len(handlers)),
		log:      log.WithComponent(common.ComponentHandlers),
	}

	for _, h := range handlers {
		if _, dup := r.handlers[h.Name()]; dup {
			return nil, fmt.Errorf("duplicate handler for event %s", h.Name())
		}
		r.handlers[h.Name()] = h
	}

	return r, nil
}

// Names returns the registered event names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch routes log to its handler. Events without a handler are a logged no-op
// and report handled == false.
func (r *Registry) Dispatch(ctx context.Context, log abi.Log, tx *state.Tx) (handled bool, err error) {
	h, ok := r.handlers[log.Name]
	if !ok {
		rc := tx.Receipt()
		r.log.Debugw("no handler for event", "event", log.Name, "log_id", log.LogID, "height", rc.Height, "tx", rc.TxID)
		return false, nil
	}

	if err := h.Handle(ctx, log, tx); err != nil {
		return true, fmt.Errorf("%s: %w", log.Name, err)
	}

	metrics.EventHandledInc(log.Name)
	return true, nil
}
