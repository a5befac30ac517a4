// Package privacy erases customer submissions on request and after the
// retention period.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrPhotoRemains means the submission rows were erased but its photo was not
var ErrPhotoRemains = errors.New("photo could not be deleted")

// Repository is the storage side of an erasure
type Repository interface {
	DeleteSubmission(ctx context.Context, id string) (imageRef string, err error)
	DeleteSubmissionsBefore(ctx context.Context, cutoff time.Time) (int, []string, error)
}

// ImageStore removes stored product photos
type ImageStore interface {
	Delete(ctx context.Context, ref string) error
}

// Service handles data erasure and retention
type Service struct {
	repo      Repository
	images    ImageStore
	retention time.Duration
	now       func() time.Time
}

// NewService creates a privacy service. retention <= 0 keeps submissions forever.
func NewService(repo Repository, images ImageStore, retention time.Duration) *Service {
	return &Service{repo: repo, images: images, retention: retention, now: time.Now}
}

// Retention returns how long submissions are kept, 0 meaning forever
func (ps *Service) Retention() time.Duration {
	return max(ps.retention, 0)
}

// EraseSubmission removes a submission, its answers, its recommendation and its photo.
// The rows are gone even when the photo cannot be removed; that error is returned.
func (ps *Service) EraseSubmission(ctx context.Context, id string) error {
	slog.Info("Erasing submission", "submission_id", id)

	ref, err := ps.repo.DeleteSubmission(ctx, id)
	if err != nil {
		return err
	}
	if ref == "" || ps.images == nil {
		return nil
	}
	if err := ps.images.Delete(ctx, ref); err != nil {
		return fmt.Errorf("%w: submission %s, photo %s: %v", ErrPhotoRemains, id, ref, err)
	}
	return nil
}

// PurgeExpired erases every submission older than the retention period and
// returns how many were removed
func (ps *Service) PurgeExpired(ctx context.Context) (int, error) {
	if ps.retention <= 0 {
		return 0, nil
	}

	cutoff := ps.now().Add(-ps.retention)
	n, refs, err := ps.repo.DeleteSubmissionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge submissions before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	var orphaned int
	if ps.images != nil {
		for _, ref := range refs {
			if err := ps.images.Delete(ctx, ref); err != nil {
				orphaned++
				slog.Warn("Failed to delete expired photo", "ref", ref, "error", err)
			}
		}
	}

	if n > 0 {
		slog.Info("Retention purge completed",
			"submissions_deleted", n,
			"photos_deleted", len(refs)-orphaned,
			"photos_failed", orphaned,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return n, nil
}

// StartRetention purges expired submissions every interval until ctx is done
func (ps *Service) StartRetention(ctx context.Context, interval time.Duration) {
	if ps.retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := ps.PurgeExpired(ctx); err != nil {
			slog.Error("Retention purge failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
