// Package nic is the boundary to the adapter hardware layer.
package nic

import (
	"context"
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
)

// ReadyMask bits for WaitReady.
const (
	ReadyCommand uint16 = 0x1000 // command in progress cleared
	ReadyLink    uint16 = 0x0800 // carrier detected
)

// Adapter is the register-level driver for the managed adapters. Calls may be
// slow or hang; the fault engine always invokes them through the guard.
type Adapter interface {
	// ReadStatus takes a snapshot of the status registers.
	ReadStatus(ctx context.Context, id string) (domain.RawStatus, error)

	// Reset performs the physical reset sequence for level.
	Reset(ctx context.Context, id string, level domain.EscalationLevel) error

	// LinkState reports the carrier state.
	LinkState(ctx context.Context, id string) domain.LinkState

	// WaitReady polls until every bit in mask is satisfied or timeout elapses.
	WaitReady(ctx context.Context, id string, mask uint16, timeout time.Duration) error
}
