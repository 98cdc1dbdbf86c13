package ports

import (
	"context"

	"trialsynth/domain/vitals"
)

// ReferenceSource supplies the reference table a profile is learned from:
// a cached registry-derived table or a user-supplied file.
type ReferenceSource interface {
	LoadReference(ctx context.Context) (vitals.Table, error)
}
