// Package service implements the editor's business logic on top of the
// repository layer: input validation, reference checks against natural keys,
// snapshot lifecycle rules, and the publish/import pipelines.
package service

import (
	"context"
	"fmt"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/model"
	"github.com/transitkit/feedsmith/internal/repository"
)

// Store is the full persistence surface the services need.
type Store interface {
	repository.FeedRepository
	repository.EntityRepository
	repository.PatternRepository
	repository.TripRepository
}

// editableSnapshot loads the snapshot and rejects mutations unless it is in
// the editing state and still its feed source's active snapshot. An evicted
// snapshot is retained but read-only. Returns the snapshot so callers can use
// its ID as the entity namespace.
func editableSnapshot(ctx context.Context, store repository.FeedRepository, snapshotID string) (*model.Snapshot, error) {
	snap, err := store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.Status != model.SnapshotEditing {
		return nil, apperror.ConflictMessage(
			fmt.Sprintf("snapshot %s is %s and cannot be edited", snapshotID, snap.Status))
	}
	fs, err := store.GetFeedSource(ctx, snap.FeedSourceID)
	if err != nil {
		return nil, err
	}
	if fs.ActiveSnapshotID == nil || *fs.ActiveSnapshotID != snapshotID {
		return nil, apperror.ConflictMessage(
			fmt.Sprintf("snapshot %s is no longer the active snapshot of feed source %s", snapshotID, snap.FeedSourceID))
	}
	return snap, nil
}

// requireRef maps a failed existence check to a validation error naming the
// referencing field.
func requireRef(ok bool, err error, field, kind, key string) error {
	if err != nil {
		return err
	}
	if !ok {
		return apperror.ValidationFailed(field, fmt.Sprintf("references unknown %s %s", kind, key))
	}
	return nil
}
