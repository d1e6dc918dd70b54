// Package repository declares the storage interfaces the services depend on.
// Implementations live in subpackages (sqlite).
package repository

import (
	"context"

	"github.com/sakif/agentcoder/internal/model"
)

// Page size bounds for List.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ListOptions filters and pages a run listing. Zero values mean "any".
type ListOptions struct {
	Limit  int
	Offset int
	Owner  string
	Status model.RunStatus
}

// Normalize clamps Limit to 1..MaxLimit (DefaultLimit when unset) and
// Offset to >= 0.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// RunRepository stores runs and their snapshot history.
type RunRepository interface {
	Create(ctx context.Context, run *model.Run) error
	GetByID(ctx context.Context, id string) (*model.Run, error)
	// List returns runs newest first.
	List(ctx context.Context, opts ListOptions) ([]model.Run, error)
	Update(ctx context.Context, run *model.Run) error
	// AppendEvent stores one snapshot. (RunID, Seq) is unique.
	AppendEvent(ctx context.Context, ev *model.RunEvent) error
	// ListEvents returns a run's snapshots in Seq order.
	ListEvents(ctx context.Context, runID string) ([]model.RunEvent, error)
	// FailInterrupted marks every queued or running run as failed with
	// reason and returns how many there were. It is called at startup, when
	// no run can still be in flight.
	FailInterrupted(ctx context.Context, reason string) (int64, error)
}
