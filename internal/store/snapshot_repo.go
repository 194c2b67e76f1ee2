package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SnapshotRepository reads and writes timeline snapshot revisions.
type SnapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a repository over the store's connection.
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// SavePlaylist records a new playlist revision and marks it active,
// deactivating earlier revisions of any playlist.
func (r *SnapshotRepository) SavePlaylist(ctx context.Context, snap *PlaylistSnapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if snap.Active {
			if err := tx.Model(&PlaylistSnapshot{}).
				Where("active = ?", true).
				Update("active", false).Error; err != nil {
				return fmt.Errorf("deactivating previous playlist revisions: %w", err)
			}
		}
		if err := tx.Create(snap).Error; err != nil {
			return fmt.Errorf("creating playlist snapshot: %w", err)
		}
		return nil
	})
}

// ActivePlaylist returns the active playlist revision, or nil when none
// has been ingested yet.
func (r *SnapshotRepository) ActivePlaylist(ctx context.Context) (*PlaylistSnapshot, error) {
	var snap PlaylistSnapshot
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("revision DESC").
		First(&snap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active playlist snapshot: %w", err)
	}
	return &snap, nil
}

// LatestPlaylist returns the newest revision of one playlist identity.
func (r *SnapshotRepository) LatestPlaylist(ctx context.Context, playlistID int64) (*PlaylistSnapshot, error) {
	var snap PlaylistSnapshot
	err := r.db.WithContext(ctx).
		Where("playlist_id = ?", playlistID).
		Order("revision DESC").
		First(&snap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting playlist snapshot: %w", err)
	}
	return &snap, nil
}

// PlaylistRevisions lists revisions of one playlist, newest first.
func (r *SnapshotRepository) PlaylistRevisions(ctx context.Context, playlistID int64, limit int) ([]PlaylistSnapshot, error) {
	var snaps []PlaylistSnapshot
	q := r.db.WithContext(ctx).
		Where("playlist_id = ?", playlistID).
		Order("revision DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("listing playlist revisions: %w", err)
	}
	return snaps, nil
}

// SaveMontage records a new montage revision.
func (r *SnapshotRepository) SaveMontage(ctx context.Context, snap *MontageSnapshot) error {
	if err := r.db.WithContext(ctx).Create(snap).Error; err != nil {
		return fmt.Errorf("creating montage snapshot: %w", err)
	}
	return nil
}

// LatestMontage returns the newest revision of one montage identity.
func (r *SnapshotRepository) LatestMontage(ctx context.Context, montageID int64) (*MontageSnapshot, error) {
	var snap MontageSnapshot
	err := r.db.WithContext(ctx).
		Where("montage_id = ?", montageID).
		Order("revision DESC").
		First(&snap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting montage snapshot: %w", err)
	}
	return &snap, nil
}

// LatestMontages returns the newest revision of every montage identity.
func (r *SnapshotRepository) LatestMontages(ctx context.Context) ([]MontageSnapshot, error) {
	var snaps []MontageSnapshot
	err := r.db.WithContext(ctx).
		Where("revision IN (?)", r.db.Model(&MontageSnapshot{}).
			Select("MAX(revision)").
			Group("montage_id"),
		).
		Find(&snaps).Error
	if err != nil {
		return nil, fmt.Errorf("listing latest montage snapshots: %w", err)
	}
	return snaps, nil
}

// PruneResult reports what a maintenance pass removed.
type PruneResult struct {
	PlaylistRevisions int64
	MontageRevisions  int64
}

// Prune removes stale revisions: playlist revisions beyond keepRevisions
// per identity (the active revision is always kept), and montage
// revisions older than maxAge that are not the newest for their identity.
func (r *SnapshotRepository) Prune(ctx context.Context, keepRevisions int, maxAge time.Duration) (PruneResult, error) {
	var result PruneResult
	if keepRevisions < 1 {
		keepRevisions = 1
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []int64
		if err := tx.Model(&PlaylistSnapshot{}).
			Distinct("playlist_id").
			Pluck("playlist_id", &ids).Error; err != nil {
			return fmt.Errorf("listing playlist identities: %w", err)
		}

		for _, id := range ids {
			var keep []string
			if err := tx.Model(&PlaylistSnapshot{}).
				Where("playlist_id = ?", id).
				Order("revision DESC").
				Limit(keepRevisions).
				Pluck("revision", &keep).Error; err != nil {
				return fmt.Errorf("selecting revisions to keep: %w", err)
			}

			res := tx.Where("playlist_id = ? AND active = ? AND revision NOT IN (?)", id, false, keep).
				Delete(&PlaylistSnapshot{})
			if res.Error != nil {
				return fmt.Errorf("pruning playlist revisions: %w", res.Error)
			}
			result.PlaylistRevisions += res.RowsAffected
		}

		cutoff := time.Now().Add(-maxAge)
		res := tx.Where("created_at < ? AND revision NOT IN (?)", cutoff,
			tx.Session(&gorm.Session{NewDB: true}).Model(&MontageSnapshot{}).
				Select("MAX(revision)").
				Group("montage_id"),
		).Delete(&MontageSnapshot{})
		if res.Error != nil {
			return fmt.Errorf("pruning montage revisions: %w", res.Error)
		}
		result.MontageRevisions = res.RowsAffected
		return nil
	})
	return result, err
}
