// Package history keeps a persistent log of every access decision so
// operators can review reads that never made it into the presence ledger
// (denials, unknown cards, noise).
package history

import (
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AccessEvent is one recorded decision.
type AccessEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Direction string    `gorm:"index" json:"direction"`
	Facility  uint8     `json:"facility"`
	Card      uint16    `json:"card"`
	Slot      int       `json:"slot"`
	Name      string    `json:"name"`
	Decision  string    `gorm:"index" json:"decision"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

type Store struct {
	db     *gorm.DB
	log    *zerolog.Logger
	cron   *gocron.Scheduler
	retain time.Duration
}

// Open connects to the sqlite database at dsn and migrates the schema.
func Open(dsn string, log *zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&AccessEvent{}); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

// Record appends one event. Failures are the caller's to log; the control
// loop treats them as non-fatal.
func (s *Store) Record(ev AccessEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	return s.db.Create(&ev).Error
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(limit int) ([]AccessEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var events []AccessEvent
	err := s.db.Order("created_at desc").Limit(limit).Find(&events).Error
	return events, err
}

// Prune deletes events older than the retention window, returning the
// number removed.
func (s *Store) Prune(retain time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retain)
	res := s.db.Where("created_at < ?", cutoff).Delete(&AccessEvent{})
	return res.RowsAffected, res.Error
}

// StartPruner schedules a daily prune of events outside the retention
// window.
func (s *Store) StartPruner(retain time.Duration) error {
	s.retain = retain
	s.cron = gocron.NewScheduler(time.Now().Location())
	_, err := s.cron.Every("24h").Tag("historyprune").Do(func() {
		removed, err := s.Prune(s.retain)
		if err != nil {
			s.log.Error().Err(err).Msg("history prune failed")
			return
		}
		if removed > 0 {
			s.log.Info().Int64("removed", removed).Msg("pruned access history")
		}
	})
	if err != nil {
		return err
	}
	s.cron.StartAsync()
	return nil
}

// StopPruner stops the scheduled prune job.
func (s *Store) StopPruner() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
