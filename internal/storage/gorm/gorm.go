// Package gormstorage implements storage.Store on top of GORM. It serves both
// the embedded SQLite database and Postgres.
package gormstorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/heidestein/routetrack/internal/database"
	"github.com/heidestein/routetrack/internal/model"
	"github.com/heidestein/routetrack/internal/model/convert"
	"github.com/heidestein/routetrack/internal/storage"
	"github.com/heidestein/routetrack/pkg/core"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// trackIDLayout matches an ISO-8601 UTC timestamp with milliseconds.
const trackIDLayout = "2006-01-02T15:04:05.000Z07:00"

const importBatchSize = 1000

// Dependencies holds the collaborators of a Backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Backend is a GORM-backed track store.
type Backend struct {
	db       *gorm.DB
	log      *slog.Logger
	now      func() time.Time
	validate *validator.Validate
}

var _ storage.Store = (*Backend)(nil)

// New creates a Backend. Init must be called before use.
func New(deps Dependencies) *Backend {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Backend{
		db:       deps.DB,
		log:      log,
		now:      now,
		validate: validator.New(),
	}
}

func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, storage.ErrStorage, err)
}

// Init creates the schema inside a single transaction.
func (b *Backend) Init(ctx context.Context) error {
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(model.DatabaseModels...)
	})
	if err != nil {
		return wrap("migrate schema", err)
	}
	b.log.Debug("Track store schema ready", "driver", database.Driver(b.db))
	return nil
}

// Close closes the underlying connection pool.
func (b *Backend) Close() error {
	if err := database.Close(b.db); err != nil {
		return wrap("close", err)
	}
	return nil
}

// CreateTrack inserts a new active track. An empty id is replaced by the
// current UTC time in ISO-8601 form.
func (b *Backend) CreateTrack(ctx context.Context, id string) (string, error) {
	now := b.now()
	if id == "" {
		id = now.UTC().Format(trackIDLayout)
	}

	track := model.Track{ID: id, Distance: core.Float(0), StartedAt: now.UnixMilli()}
	res := b.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&track)
	if res.Error != nil {
		return "", wrap("create track", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", wrap("create track", fmt.Errorf("%w: %s", storage.ErrTrackExists, id))
	}
	return id, nil
}

// FinalizeTrack stamps ended_at and stores the final distance.
func (b *Backend) FinalizeTrack(ctx context.Context, id string, distance float64) error {
	err := b.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"ended_at": b.now().UnixMilli(),
			"distance": distance,
		}).Error
	if err != nil {
		return wrap("finalize track", err)
	}
	return nil
}

type summaryRow struct {
	ID        string
	Distance  *float64
	StartedAt int64
	EndedAt   *int64
	Label     *string
}

func (r summaryRow) toCore() core.TrackSummary {
	return convert.TrackToSummary(model.Track{
		ID:        r.ID,
		Distance:  r.Distance,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}, r.Label)
}

func (b *Backend) summaries(ctx context.Context) *gorm.DB {
	return b.db.WithContext(ctx).
		Table("tracks").
		Select("tracks.id, tracks.distance, tracks.started_at, tracks.ended_at, track_labels.label").
		Joins("LEFT JOIN track_labels ON track_labels.track_id = tracks.id")
}

// GetTrackMeta returns the track summary or nil when the track does not exist.
func (b *Backend) GetTrackMeta(ctx context.Context, id string) (*core.TrackSummary, error) {
	var rows []summaryRow
	if err := b.summaries(ctx).Where("tracks.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return nil, wrap("get track", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	s := rows[0].toCore()
	return &s, nil
}

// ListTracks returns active tracks first, then the rest by most recent end
// (or start) time.
func (b *Backend) ListTracks(ctx context.Context) ([]core.TrackSummary, error) {
	var rows []summaryRow
	err := b.summaries(ctx).
		Order("CASE WHEN tracks.ended_at IS NULL THEN 0 ELSE 1 END").
		Order("COALESCE(tracks.ended_at, tracks.started_at) DESC").
		Order("tracks.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrap("list tracks", err)
	}

	out := make([]core.TrackSummary, len(rows))
	for i, r := range rows {
		out[i] = r.toCore()
	}
	return out, nil
}

// SetLabel stores a trimmed label of at most core.MaxLabelLength characters.
// Labelling an unknown id fails with storage.ErrTrackNotFound.
// Blank text removes the label.
func (b *Backend) SetLabel(ctx context.Context, id string, text string) error {
	label := core.NormalizeLabel(text)
	op := "set label"
	if label == "" {
		op = "clear label"
	}

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Track{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrTrackNotFound
		}

		if label == "" {
			return tx.Where("track_id = ?", id).Delete(&model.TrackLabel{}).Error
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "track_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"label"}),
		}).Create(&model.TrackLabel{TrackID: id, Label: &label}).Error
	})
	if err != nil {
		return wrap(op, err)
	}
	return nil
}

// DeleteTrack removes the track with its points and label atomically.
// Deleting an unknown id is a no-op.
func (b *Backend) DeleteTrack(ctx context.Context, id string) error {
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("track_id = ?", id).Delete(&model.Point{}).Error; err != nil {
			return err
		}
		if err := tx.Where("track_id = ?", id).Delete(&model.TrackLabel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Track{}).Error
	})
	if err != nil {
		return wrap("delete track", err)
	}
	return nil
}

// NextSegmentIndex returns one past the highest segment index with points, or 0.
func (b *Backend) NextSegmentIndex(ctx context.Context, id string) (int, error) {
	var maxSeg sql.NullInt64
	row := b.db.WithContext(ctx).Model(&model.Point{}).
		Select("MAX(segment_index)").
		Where("track_id = ?", id).
		Row()
	if err := row.Scan(&maxSeg); err != nil {
		return 0, wrap("next segment index", err)
	}
	if !maxSeg.Valid {
		return 0, nil
	}
	return int(maxSeg.Int64) + 1, nil
}

type pointInput struct {
	TrackID      string  `validate:"required"`
	SegmentIndex int     `validate:"gte=0"`
	Latitude     float64 `validate:"latitude"`
	Longitude    float64 `validate:"longitude"`
}

// AppendPoint inserts a point unless (track, segment, ts) already exists,
// in which case the first write wins and no error is returned.
func (b *Backend) AppendPoint(ctx context.Context, id string, segmentIndex int, p core.Point) error {
	in := pointInput{TrackID: id, SegmentIndex: segmentIndex, Latitude: p.Latitude, Longitude: p.Longitude}
	if err := b.validate.Struct(in); err != nil {
		return wrap("append point", errors.Join(storage.ErrInvalidPoint, err))
	}

	row := convert.CoreToPoint(id, segmentIndex, p)
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return wrap("append point", err)
	}
	return nil
}

// LoadPoints returns the track's points grouped by segment, in order.
// It always returns at least one segment.
func (b *Backend) LoadPoints(ctx context.Context, id string) ([]core.Segment, error) {
	var rows []model.Point
	err := b.db.WithContext(ctx).
		Where("track_id = ?", id).
		Order("segment_index ASC").
		Order("ts ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("load points", err)
	}
	return convert.PointsToSegments(rows), nil
}

// Export writes a standalone SQLite snapshot of the whole store to path.
func (b *Backend) Export(ctx context.Context, path string) error {
	if database.Driver(b.db) != database.DriverSQLite {
		return wrap("export", storage.ErrUnsupported)
	}
	if err := database.DumpToDisk(b.db.WithContext(ctx), path); err != nil {
		return wrap("export", err)
	}
	b.log.Info("Exported track store", "path", path)
	return nil
}

// Import merges a snapshot written by Export. Existing tracks and points are
// kept, labels from the snapshot replace existing ones.
func (b *Backend) Import(ctx context.Context, path string) (storage.ImportStats, error) {
	var stats storage.ImportStats

	src, err := database.OpenSQLite(path, zerolog.Nop())
	if err != nil {
		return stats, wrap("import", err)
	}
	defer func() {
		if err := database.Close(src); err != nil {
			b.log.Warn("Failed to close import source", "path", path, "error", err)
		}
	}()
	src = src.WithContext(ctx)

	var tracks []model.Track
	if err := src.Find(&tracks).Error; err != nil {
		return stats, wrap("import: read tracks", err)
	}
	var labels []model.TrackLabel
	if err := src.Find(&labels).Error; err != nil {
		return stats, wrap("import: read labels", err)
	}

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(tracks) > 0 {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&tracks, importBatchSize)
			if res.Error != nil {
				return fmt.Errorf("tracks: %w", res.Error)
			}
			stats.Tracks = res.RowsAffected
		}

		if len(labels) > 0 {
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "track_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"label"}),
			}).CreateInBatches(&labels, importBatchSize)
			if res.Error != nil {
				return fmt.Errorf("labels: %w", res.Error)
			}
			stats.Labels = res.RowsAffected
		}

		for offset := 0; ; offset += importBatchSize {
			var batch []model.Point
			err := src.Order("track_id").Order("segment_index").Order("ts").
				Limit(importBatchSize).Offset(offset).
				Find(&batch).Error
			if err != nil {
				return fmt.Errorf("read points: %w", err)
			}
			if len(batch) == 0 {
				return nil
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch)
			if res.Error != nil {
				return fmt.Errorf("points: %w", res.Error)
			}
			stats.Points += res.RowsAffected
			if len(batch) < importBatchSize {
				return nil
			}
		}
	})
	if err != nil {
		return storage.ImportStats{}, wrap("import", err)
	}

	b.log.Info("Imported track store", "path", path,
		"tracks", stats.Tracks, "labels", stats.Labels, "points", stats.Points)
	return stats, nil
}
