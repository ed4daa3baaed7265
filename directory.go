package cortex

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrSubjectNotFound is returned by a Directory for unknown IDs.
var ErrSubjectNotFound = errors.New("subject not found")

// Directory looks up the patient and organization records a run needs.
type Directory interface {
	Patient(ctx context.Context, id uuid.UUID) (*Patient, error)
	Organization(ctx context.Context, id uuid.UUID) (*Organization, error)
}
