// Package db persists periodic pipeline-health snapshots via GORM/MySQL.
// It is optional: the Supervisor's status loop works with or without a
// configured Recorder, per SPEC_FULL.md §4.10.
//
// Adapted from the teacher's internal/db/transaction_recorder.go
// (MySQLRecorder over an AssetSnapshotRecord) into a PipelineSnapshot
// model describing whale-watch throughput rather than DEX strategy
// phase/asset state.
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PipelineSnapshot is one periodic status-loop observation (§4.10).
type PipelineSnapshot struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp        time.Time `gorm:"index;not null"`
	TokensTracked    int       `gorm:"not null"`
	ChainsConnected  int       `gorm:"not null"`
	WhalesIndexed    int       `gorm:"not null"`
	AlertsEmitted    int64     `gorm:"not null"`
	SinkErrors       int64     `gorm:"not null"`
	DegradedTokens   int       `gorm:"not null;comment:tokens whose primary adapter is sticky-degraded"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (PipelineSnapshot) TableName() string {
	return "pipeline_snapshots"
}

// Recorder persists PipelineSnapshot rows using GORM over MySQL.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder opens a MySQL connection and migrates the schema.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewRecorder(dsn string) (*Recorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to mysql: %w", err)
	}

	if err := db.AutoMigrate(&PipelineSnapshot{}); err != nil {
		return nil, fmt.Errorf("db: migrate schema: %w", err)
	}

	return &Recorder{db: db}, nil
}

// NewRecorderWithDB wraps an existing GORM handle, migrating the schema.
func NewRecorderWithDB(db *gorm.DB) (*Recorder, error) {
	if err := db.AutoMigrate(&PipelineSnapshot{}); err != nil {
		return nil, fmt.Errorf("db: migrate schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Record inserts a new PipelineSnapshot row.
func (r *Recorder) Record(snap PipelineSnapshot) error {
	snap.Timestamp = time.Now()
	if result := r.db.Create(&snap); result.Error != nil {
		return fmt.Errorf("db: record snapshot: %w", result.Error)
	}
	return nil
}

// Latest returns the most recently recorded snapshot.
func (r *Recorder) Latest() (*PipelineSnapshot, error) {
	var snap PipelineSnapshot
	if result := r.db.Order("timestamp DESC").First(&snap); result.Error != nil {
		return nil, fmt.Errorf("db: latest snapshot: %w", result.Error)
	}
	return &snap, nil
}

// Since returns every snapshot recorded at or after t.
func (r *Recorder) Since(t time.Time) ([]PipelineSnapshot, error) {
	var snaps []PipelineSnapshot
	if result := r.db.Where("timestamp >= ?", t).Order("timestamp ASC").Find(&snaps); result.Error != nil {
		return nil, fmt.Errorf("db: snapshots since %s: %w", t, result.Error)
	}
	return snaps, nil
}

// Close releases the underlying connection pool.
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("db: underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
