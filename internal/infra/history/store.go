// Package history provides the SQLite-backed History Store: the log of
// resolved tracks, per-track play counters, the play history used for the
// refill recency window, and the blacklist.
package history

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/osa030/chanson/internal/domain/track"
)

// ErrTrackNotFound is returned when no log row exists for a track.
var ErrTrackNotFound = errors.New("track not found in history")

// DefaultRecencyWindow is the number of most recent plays excluded from refill.
const DefaultRecencyWindow = 100

// Source values recorded with each play.
const (
	SourceManual    = "manual"
	SourceAutomated = "automated"
)

// Play describes one finished play.
type Play struct {
	TrackID     string
	RequestedBy string
	Source      string
	PlayedAt    time.Time
}

// Options configures the store.
type Options struct {
	RecencyWindow int  // plays excluded from RandomEligible
	Debug         bool // log SQL statements
}

// Store is the History Store backed by gorm.
type Store struct {
	db            *gorm.DB
	recencyWindow int
}

// Open opens (creating if needed) the SQLite database at path and migrates the schema.
// path may be ":memory:" for tests.
func Open(path string, opts Options) (*Store, error) {
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	logMode := gormlogger.Silent
	if opts.Debug {
		logMode = gormlogger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database handle")
	}
	// SQLite serializes writers; a single connection also keeps ":memory:" databases shared.
	sqlDB.SetMaxOpenConns(1)

	if !inMemory {
		if err := db.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
			return nil, errors.Wrap(err, "failed to enable WAL")
		}
		if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
			return nil, errors.Wrap(err, "failed to set busy timeout")
		}
	}

	if err := db.AutoMigrate(&TrackLog{}, &TrackStat{}, &PlayHistory{}, &BlacklistedTrack{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	window := opts.RecencyWindow
	if window < 0 {
		window = 0
	}

	return &Store{db: db, recencyWindow: window}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppendLog records a resolved track together with the requester.
func (s *Store) AppendLog(ctx context.Context, t track.Track, requesterID string) error {
	row := newTrackLog(t, requesterID)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrapf(err, "failed to append log: track_id=%s", t.ID)
	}
	return nil
}

// RecordPlay increments the play counter, creating the row if absent.
func (s *Store) RecordPlay(ctx context.Context, t track.Track) error {
	now := time.Now()
	stat := TrackStat{
		TrackID:    t.ID,
		Title:      t.Metadata.Title,
		PlayCount:  1,
		LastPlayed: &now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "track_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"play_count":  gorm.Expr("track_stats.play_count + 1"),
			"last_played": now,
		}),
	}).Create(&stat).Error
	if err != nil {
		return errors.Wrapf(err, "failed to record play: track_id=%s", t.ID)
	}
	return nil
}

// AppendHistory pushes a finished play onto the recency window.
func (s *Store) AppendHistory(ctx context.Context, p Play) error {
	if p.PlayedAt.IsZero() {
		p.PlayedAt = time.Now()
	}
	row := PlayHistory{
		TrackID:     p.TrackID,
		RequestedBy: p.RequestedBy,
		Source:      p.Source,
		PlayedAt:    p.PlayedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrapf(err, "failed to append history: track_id=%s", p.TrackID)
	}
	return nil
}

// IsBlacklisted reports whether the track is blacklisted.
func (s *Store) IsBlacklisted(ctx context.Context, trackID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&BlacklistedTrack{}).
		Where("track_id = ?", trackID).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrapf(err, "failed to check blacklist: track_id=%s", trackID)
	}
	return count > 0, nil
}

// Blacklist adds the track to the blacklist and purges its log rows.
// Blacklisting an already blacklisted track updates the reason.
func (s *Store) Blacklist(ctx context.Context, trackID, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := BlacklistedTrack{TrackID: trackID, Reason: reason}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "track_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason"}),
		}).Create(&row).Error; err != nil {
			return errors.Wrapf(err, "failed to blacklist: track_id=%s", trackID)
		}
		if err := tx.Where("track_id = ?", trackID).Delete(&TrackLog{}).Error; err != nil {
			return errors.Wrapf(err, "failed to purge log: track_id=%s", trackID)
		}
		return nil
	})
}

// RandomEligible returns up to count random logged tracks that are not
// blacklisted, not among the most recent plays, and not in excludeIDs.
// Only tracks with a recorded audio artifact are returned.
func (s *Store) RandomEligible(ctx context.Context, count int, excludeIDs []string) ([]track.Track, error) {
	if count <= 0 {
		return nil, nil
	}

	latest := s.db.Model(&TrackLog{}).Select("MAX(id)").Group("track_id")
	blocked := s.db.Model(&BlacklistedTrack{}).Select("track_id")

	q := s.db.WithContext(ctx).Model(&TrackLog{}).
		Where("id IN (?)", latest).
		Where("track_id NOT IN (?)", blocked).
		Where("audio_location <> ''")

	if s.recencyWindow > 0 {
		recent := s.db.Model(&PlayHistory{}).Select("track_id").Order("id DESC").Limit(s.recencyWindow)
		q = q.Where("track_id NOT IN (?)", recent)
	}
	if len(excludeIDs) > 0 {
		q = q.Where("track_id NOT IN ?", excludeIDs)
	}

	var rows []TrackLog
	if err := q.Order("RANDOM()").Limit(count).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to select eligible tracks")
	}

	tracks := make([]track.Track, len(rows))
	for i, r := range rows {
		tracks[i] = r.toTrack()
	}
	return tracks, nil
}

// FindTrack returns the most recent log row for the track.
func (s *Store) FindTrack(ctx context.Context, trackID string) (track.Track, error) {
	var row TrackLog
	err := s.db.WithContext(ctx).
		Where("track_id = ?", trackID).
		Order("id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return track.Track{}, ErrTrackNotFound
	}
	if err != nil {
		return track.Track{}, errors.Wrapf(err, "failed to find track: track_id=%s", trackID)
	}
	return row.toTrack(), nil
}

// RecentPlays returns the most recent plays, newest first.
func (s *Store) RecentPlays(ctx context.Context, limit int) ([]Play, error) {
	var rows []PlayHistory
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list recent plays")
	}

	plays := make([]Play, len(rows))
	for i, r := range rows {
		plays[i] = Play{
			TrackID:     r.TrackID,
			RequestedBy: r.RequestedBy,
			Source:      r.Source,
			PlayedAt:    r.PlayedAt,
		}
	}
	return plays, nil
}

// PlayCount returns how many times the track has been played.
func (s *Store) PlayCount(ctx context.Context, trackID string) (int64, error) {
	var stat TrackStat
	err := s.db.WithContext(ctx).Where("track_id = ?", trackID).Take(&stat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read play count: track_id=%s", trackID)
	}
	return stat.PlayCount, nil
}
