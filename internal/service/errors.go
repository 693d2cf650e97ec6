package service

import (
	"errors"
	"fmt"

	"github.com/omnidesk/backend/internal/store"
)

var (
	ErrInvalidTransition = errors.New("invalid conversation transition")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrInvalidInput      = errors.New("invalid input")
)

// notFound keeps store.ErrNotFound in the chain and names what was missing.
func notFound(kind, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", kind, id, err)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
