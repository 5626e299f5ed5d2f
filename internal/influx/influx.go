// Package influx mirrors persisted points and finished tracks into
// InfluxDB. When the server cannot be reached at startup, points are
// appended as line protocol to a gzip backup file instead.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/heidestein/routetrack/internal/config"
	"github.com/heidestein/routetrack/pkg/core"
)

// Measurement names.
const (
	MeasurementPoints = "track_points"
	MeasurementTracks = "tracks"
)

// bucket retention when the sink creates it
const retentionSeconds = 60 * 60 * 24 * 365

type pointWriter interface {
	WritePoint(point *influxdb2_write.Point)
	Flush()
}

// Sink is a location.PointObserver and controller.TrackObserver.
type Sink struct {
	log zerolog.Logger

	client influxdb2.Client
	writer pointWriter

	mu         sync.Mutex
	backup     *gzip.Writer
	backupFile io.Closer
}

// Connect creates the client and checks the server. A failed ping is not
// an error: the sink falls back to cfg.BackupFile.
func Connect(ctx context.Context, cfg config.InfluxConfig, log zerolog.Logger) (*Sink, error) {
	s := &Sink{log: log.With().Str("component", "influx").Logger()}

	s.client = influxdb2.NewClientWithOptions(
		cfg.URL(),
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := s.client.Ping(ctx)
	if err != nil || !running {
		s.log.Warn().Err(err).Str("backupPath", cfg.BackupFile).
			Msg("InfluxDB unreachable, writing to backup file")
		s.client.Close()
		s.client = nil
		if err := s.openBackup(cfg.BackupFile); err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := s.ensureBucket(ctx, cfg.Org, cfg.Bucket); err != nil {
		s.client.Close()
		return nil, err
	}

	api := s.client.WriteAPI(cfg.Org, cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			s.log.Error().Err(writeErr).Str("bucket", cfg.Bucket).Msg("Error sending data to InfluxDB")
		}
	}(api.Errors())
	s.writer = api

	s.log.Info().Str("url", cfg.URL()).Str("bucket", cfg.Bucket).Msg("InfluxDB client initialized")
	return s, nil
}

// NewBackupSink writes only to the gzip file at path.
func NewBackupSink(path string, log zerolog.Logger) (*Sink, error) {
	s := &Sink{log: log}
	if err := s.openBackup(path); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) openBackup(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	s.backup = gzip.NewWriter(file)
	s.backupFile = file
	return nil
}

func (s *Sink) ensureBucket(ctx context.Context, orgName, bucket string) error {
	orgs := s.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, orgName)
	if err != nil {
		s.log.Info().Str("org", orgName).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			return fmt.Errorf("creating organization %s: %w", orgName, err)
		}
	}

	if _, err := s.client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
		return nil
	}
	s.log.Info().Str("bucket", bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = s.client.BucketsAPI().CreateBucketWithName(ctx, org, bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: retentionSeconds,
	})
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", bucket, err)
	}
	return nil
}

// PointMeasurement converts a persisted point.
func PointMeasurement(trackID string, segmentIndex int, p core.Point) *influxdb2_write.Point {
	pt := influxdb2_write.NewPoint(
		MeasurementPoints,
		map[string]string{
			"track_id": trackID,
			"segment":  strconv.Itoa(segmentIndex),
		},
		map[string]any{
			"lat": p.Latitude,
			"lon": p.Longitude,
		},
		time.UnixMilli(p.Ts),
	)
	if p.Altitude != nil {
		pt.AddField("alt", *p.Altitude)
	}
	if p.Accuracy != nil {
		pt.AddField("acc", *p.Accuracy)
	}
	if p.Speed != nil {
		pt.AddField("speed", *p.Speed)
	}
	return pt
}

// TrackMeasurement converts a finished track, stamped at its end time.
func TrackMeasurement(t core.TrackSummary) *influxdb2_write.Point {
	end := t.StartedAt
	if t.EndedAt != nil {
		end = *t.EndedAt
	}
	distance := 0.0
	if t.Distance != nil {
		distance = *t.Distance
	}
	pt := influxdb2_write.NewPoint(
		MeasurementTracks,
		map[string]string{"track_id": t.ID},
		map[string]any{
			"distance_m":  distance,
			"duration_ms": end - t.StartedAt,
		},
		time.UnixMilli(end),
	)
	if t.Label != nil {
		pt.AddField("label", *t.Label)
	}
	return pt
}

// ObservePoint implements location.PointObserver.
func (s *Sink) ObservePoint(trackID string, segmentIndex int, p core.Point) {
	if err := s.write(PointMeasurement(trackID, segmentIndex, p)); err != nil {
		s.log.Error().Err(err).Str("trackId", trackID).Msg("Error writing point")
	}
}

// ObserveTrack implements controller.TrackObserver.
func (s *Sink) ObserveTrack(_ context.Context, t core.TrackSummary) {
	if err := s.write(TrackMeasurement(t)); err != nil {
		s.log.Error().Err(err).Str("trackId", t.ID).Msg("Error writing track summary")
	}
}

func (s *Sink) write(pt *influxdb2_write.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		s.writer.WritePoint(pt)
		return nil
	}
	if s.backup == nil {
		return errors.New("influx sink closed")
	}
	line := influxdb2_write.PointToLineProtocol(pt, time.Millisecond)
	if _, err := s.backup.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending writes and releases the client or backup file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.writer != nil {
		s.writer.Flush()
		s.writer = nil
	}
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	if s.backup != nil {
		errs = append(errs, s.backup.Close(), s.backupFile.Close())
		s.backup = nil
	}
	return errors.Join(errs...)
}

var _ pointWriter = influxdb2_api.WriteAPI(nil)
