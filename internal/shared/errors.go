package shared

import (
	"errors"
	"fmt"

	"github.com/campusledger/campusledger/internal/platform/httpx"
)

var (
	// ErrActorRequired occurs when a mutating request carries no actor.
	ErrActorRequired = fmt.Errorf("actor required: %w", httpx.ErrUnauthorized)
	// ErrLockHeld indicates another holder owns the lock.
	ErrLockHeld = errors.New("lock already held")
)
