package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/events"
	"github.com/transitkit/feedsmith/internal/gtfs"
	"github.com/transitkit/feedsmith/internal/jobs"
	"github.com/transitkit/feedsmith/internal/metrics"
	"github.com/transitkit/feedsmith/internal/model"
	"github.com/transitkit/feedsmith/internal/repository"
)

// SnapshotService owns the feed-source and snapshot lifecycle: forking
// snapshots, publishing them into immutable versions, discarding them, and
// importing external bundles. Publish and import run as asynchronous jobs.
type SnapshotService struct {
	store   Store
	coord   *jobs.Coordinator
	events  events.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewSnapshotService(store Store, coord *jobs.Coordinator, pub events.Publisher, logger *slog.Logger, m *metrics.Metrics) *SnapshotService {
	return &SnapshotService{store: store, coord: coord, events: pub, logger: logger, metrics: m}
}

func (s *SnapshotService) CreateFeedSource(ctx context.Context, fs *model.FeedSource) error {
	if err := model.Validate(fs); err != nil {
		return err
	}
	return s.store.CreateFeedSource(ctx, fs)
}

func (s *SnapshotService) GetFeedSource(ctx context.Context, id string) (*model.FeedSource, error) {
	return s.store.GetFeedSource(ctx, id)
}

func (s *SnapshotService) ListFeedSources(ctx context.Context, opts repository.ListOptions) ([]model.FeedSource, error) {
	return s.store.ListFeedSources(ctx, opts)
}

func (s *SnapshotService) UpdateFeedSource(ctx context.Context, fs *model.FeedSource) error {
	if err := model.Validate(fs); err != nil {
		return err
	}
	return s.store.UpdateFeedSource(ctx, fs)
}

func (s *SnapshotService) DeleteFeedSource(ctx context.Context, id string) error {
	return s.store.DeleteFeedSource(ctx, id)
}

// CreateFromScratch opens an empty editable snapshot on the feed source. Any
// previously active snapshot is evicted: retained for history, but further
// edits to it fail with a conflict.
func (s *SnapshotService) CreateFromScratch(ctx context.Context, feedSourceID, name string) (*model.Snapshot, error) {
	if _, err := s.store.GetFeedSource(ctx, feedSourceID); err != nil {
		return nil, err
	}
	snap := &model.Snapshot{FeedSourceID: feedSourceID, Name: name}
	if err := s.store.CreateSnapshot(ctx, snap, ""); err != nil {
		return nil, err
	}
	s.events.Publish(events.Event{Type: events.TypeSnapshotCreated, FeedSource: feedSourceID, Snapshot: snap.ID})
	s.logger.Info("snapshot created", "feed_source", feedSourceID, "snapshot", snap.ID)
	return snap, nil
}

// CreateFromVersion forks a published version's frozen entity set into a new
// editable snapshot, evicting any previously active snapshot. The version is
// never touched.
func (s *SnapshotService) CreateFromVersion(ctx context.Context, feedSourceID, versionID, name string) (*model.Snapshot, error) {
	v, err := s.store.GetFeedVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.FeedSourceID != feedSourceID {
		return nil, apperror.ValidationFailed("versionId",
			fmt.Sprintf("version %s belongs to a different feed source", versionID))
	}
	snap := &model.Snapshot{FeedSourceID: feedSourceID, Name: name}
	if err := s.store.CreateSnapshot(ctx, snap, versionID); err != nil {
		return nil, err
	}
	s.events.Publish(events.Event{Type: events.TypeSnapshotCreated, FeedSource: feedSourceID, Snapshot: snap.ID, Version: versionID})
	s.logger.Info("snapshot forked", "feed_source", feedSourceID, "snapshot", snap.ID, "from_version", versionID)
	return snap, nil
}

func (s *SnapshotService) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	return s.store.GetSnapshot(ctx, id)
}

func (s *SnapshotService) ListSnapshots(ctx context.Context, feedSourceID string) ([]model.Snapshot, error) {
	return s.store.ListSnapshots(ctx, feedSourceID)
}

// Discard abandons a snapshot and frees its entity set. Evicted snapshots
// can be discarded too; published or already-discarded ones cannot.
func (s *SnapshotService) Discard(ctx context.Context, id string) error {
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		return err
	}
	if snap.Status != model.SnapshotEditing {
		return apperror.ConflictMessage(
			fmt.Sprintf("snapshot %s is %s and cannot be discarded", id, snap.Status))
	}
	if err := s.store.DiscardSnapshot(ctx, id); err != nil {
		return err
	}
	s.events.Publish(events.Event{Type: events.TypeSnapshotDiscarded, FeedSource: snap.FeedSourceID, Snapshot: id})
	s.logger.Info("snapshot discarded", "snapshot", id)
	return nil
}

// Publish freezes a snapshot into an immutable feed version asynchronously
// and returns the job ID. The snapshot moves to publishing immediately; on
// any failure it returns to editing with its entities intact.
func (s *SnapshotService) Publish(ctx context.Context, snapshotID string) (string, error) {
	snap, err := editableSnapshot(ctx, s.store, snapshotID)
	if err != nil {
		return "", err
	}
	if err := s.store.SetSnapshotStatus(ctx, snapshotID, model.SnapshotPublishing); err != nil {
		return "", err
	}

	jobID := s.coord.Submit("publish", func(jobCtx context.Context) (any, error) {
		s.metrics.JobsRunning.Inc()
		defer s.metrics.JobsRunning.Dec()

		v, err := s.publishSnapshot(jobCtx, snap)
		if err != nil {
			s.metrics.PublishesTotal.WithLabelValues("failure").Inc()
			if revertErr := s.store.SetSnapshotStatus(jobCtx, snapshotID, model.SnapshotEditing); revertErr != nil {
				s.logger.Error("reverting snapshot status", "snapshot", snapshotID, "error", revertErr)
			}
			return nil, err
		}
		s.metrics.PublishesTotal.WithLabelValues("success").Inc()
		s.events.Publish(events.Event{
			Type:       events.TypeVersionPublished,
			FeedSource: v.FeedSourceID,
			Snapshot:   snapshotID,
			Version:    v.ID,
		})
		return v, nil
	})
	return jobID, nil
}

// PublishWait is Publish plus a blocking wait on the job, for callers that
// prefer a synchronous API.
func (s *SnapshotService) PublishWait(ctx context.Context, snapshotID string) (*model.FeedVersion, error) {
	jobID, err := s.Publish(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	job, err := s.coord.Await(ctx, jobID)
	if err != nil {
		return nil, err
	}
	v, ok := job.Result.(*model.FeedVersion)
	if !ok {
		return nil, fmt.Errorf("publish job %s returned unexpected result type", jobID)
	}
	return v, nil
}

func (s *SnapshotService) publishSnapshot(ctx context.Context, snap *model.Snapshot) (*model.FeedVersion, error) {
	set, err := s.store.EntitySet(ctx, snap.ID)
	if err != nil {
		return nil, err
	}
	bundle, err := gtfs.Export(set)
	if err != nil {
		return nil, err
	}

	v := &model.FeedVersion{
		FeedSourceID: snap.FeedSourceID,
		SnapshotID:   snap.ID,
		StartDate:    bundle.StartDate,
		EndDate:      bundle.EndDate,
		ContentHash:  bundle.Hash,
	}
	if err := s.store.PublishSnapshot(ctx, v, bundle.Data); err != nil {
		return nil, err
	}
	s.logger.Info("snapshot published",
		"snapshot", snap.ID, "version", v.ID, "hash", v.ContentHash,
		"window", fmt.Sprintf("%s/%s", v.StartDate, v.EndDate))
	return v, nil
}

// Import ingests an external GTFS bundle as a new feed version
// asynchronously and returns the job ID. The stored bundle is re-exported in
// canonical form so its content hash is comparable with published versions.
func (s *SnapshotService) Import(ctx context.Context, feedSourceID string, data []byte) (string, error) {
	if _, err := s.store.GetFeedSource(ctx, feedSourceID); err != nil {
		return "", err
	}

	jobID := s.coord.Submit("import", func(jobCtx context.Context) (any, error) {
		s.metrics.JobsRunning.Inc()
		defer s.metrics.JobsRunning.Dec()

		set, err := gtfs.Import(data)
		if err != nil {
			return nil, err
		}
		bundle, err := gtfs.Export(set)
		if err != nil {
			return nil, err
		}
		v := &model.FeedVersion{
			FeedSourceID: feedSourceID,
			StartDate:    bundle.StartDate,
			EndDate:      bundle.EndDate,
			ContentHash:  bundle.Hash,
		}
		if err := s.store.CreateImportedVersion(jobCtx, v, bundle.Data, set); err != nil {
			return nil, err
		}
		s.events.Publish(events.Event{Type: events.TypeVersionImported, FeedSource: feedSourceID, Version: v.ID})
		s.logger.Info("version imported", "feed_source", feedSourceID, "version", v.ID, "hash", v.ContentHash)
		return v, nil
	})
	return jobID, nil
}

func (s *SnapshotService) GetFeedVersion(ctx context.Context, id string) (*model.FeedVersion, error) {
	return s.store.GetFeedVersion(ctx, id)
}

func (s *SnapshotService) LatestFeedVersion(ctx context.Context, feedSourceID string) (*model.FeedVersion, error) {
	return s.store.LatestFeedVersion(ctx, feedSourceID)
}

func (s *SnapshotService) ListFeedVersions(ctx context.Context, feedSourceID string) ([]model.FeedVersion, error) {
	return s.store.ListFeedVersions(ctx, feedSourceID)
}

func (s *SnapshotService) DeleteFeedVersion(ctx context.Context, id string) error {
	return s.store.DeleteFeedVersion(ctx, id)
}

// FeedVersionBundle returns the stored GTFS zip for download.
func (s *SnapshotService) FeedVersionBundle(ctx context.Context, id string) ([]byte, error) {
	return s.store.FeedVersionBundle(ctx, id)
}

// Job exposes job polling to the API layer.
func (s *SnapshotService) Job(id string) (*jobs.Job, error) {
	return s.coord.Poll(id)
}
