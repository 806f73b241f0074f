package punchlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pointage/internal/model"
)

// Source returns every punch in [from, to).
type Source interface {
	Punches(ctx context.Context, from, to time.Time) ([]model.PunchEvent, error)
}

// GormSource reads punches from an external MySQL table through gorm.
type GormSource struct {
	db  *gorm.DB
	cfg SourceConfig
}

// NewGormSource wraps an open gorm handle.
func NewGormSource(db *gorm.DB, cfg SourceConfig) *GormSource {
	cfg.applyDefaults()
	return &GormSource{db: db, cfg: cfg}
}

// OpenMySQL opens the city's punch database. gorm pings on open, so an
// unreachable host fails here.
func OpenMySQL(cfg SourceConfig, timeout time.Duration) (*GormSource, error) {
	cfg.applyDefaults()
	db, err := gorm.Open(mysql.Open(cfg.DSN(timeout)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("open punch db %s: %w", cfg.City, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("punch db handle %s: %w", cfg.City, err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return &GormSource{db: db, cfg: cfg}, nil
}

type punchRow struct {
	Identifier string
	PunchedAt  time.Time
	DeviceID   *string
	DeviceName *string
}

// Punches queries the window ordered by punch time.
func (s *GormSource) Punches(ctx context.Context, from, to time.Time) ([]model.PunchEvent, error) {
	c := s.cfg.Columns
	var rows []punchRow
	err := s.db.WithContext(ctx).
		Table(s.cfg.Table).
		Select(fmt.Sprintf("%s AS identifier, %s AS punched_at, %s AS device_id, %s AS device_name",
			c.Identifier, c.Time, c.DeviceID, c.DeviceName)).
		Where(fmt.Sprintf("%s >= ? AND %s < ?", c.Time, c.Time), from, to).
		Order(c.Time).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.PunchEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.PunchEvent{
			Identifier: strings.TrimSpace(r.Identifier),
			At:         r.PunchedAt.In(from.Location()),
			DeviceID:   deref(r.DeviceID),
			DeviceName: deref(r.DeviceName),
		})
	}
	return out, nil
}

// Close releases the connection pool.
func (s *GormSource) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
