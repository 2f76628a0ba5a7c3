package store

import (
	"context"
	"errors"

	"github.com/clipstack/transcoder/internal/model"
)

// ErrJobNotFound is returned when no job record exists for an id.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists job records. Only the worker currently owning a job
// mutates it; concurrent writers for the same id are prevented by the
// queue's single-delivery guarantee.
type JobStore interface {
	Save(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
}
