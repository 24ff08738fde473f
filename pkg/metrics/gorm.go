package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"aevrt/pkg/task"
)

// metricRow is the persisted form of a Record. Features are stored as a JSON
// blob so the schema stays stable as modality features evolve.
type metricRow struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement"`
	TaskType         string    `gorm:"size:16;index:idx_metrics_type_created"`
	Model            string    `gorm:"size:64"`
	NumTiles         int
	TileSize         int
	EstimatedLatency float64
	ActualLatency    float64
	Success          bool
	Quality          float64
	FeaturesJSON     string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"index:idx_metrics_type_created"`
}

func (metricRow) TableName() string { return "aevrt_metrics" }

// GormStore persists records in MySQL via gorm.
type GormStore struct {
	db *gorm.DB
}

// OpenGormStore connects to MySQL and migrates the metrics table.
func OpenGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an existing gorm handle (used by tests with sqlite-like
// drivers and by services that share one pool).
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&metricRow{}); err != nil {
		return nil, fmt.Errorf("migrate metrics: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Append(ctx context.Context, rec Record) error {
	row := toRow(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append metric: %w", err)
	}
	return nil
}

func (s *GormStore) Since(ctx context.Context, typ task.Type, window time.Duration) ([]Record, error) {
	cutoff := time.Now().Add(-window)
	var rows []metricRow
	err := s.db.WithContext(ctx).
		Where("task_type = ? AND created_at >= ?", typ.String(), cutoff).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query metrics since: %w", err)
	}
	return fromRows(rows), nil
}

func (s *GormStore) Recent(ctx context.Context, typ task.Type, n int) ([]Record, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(n)
	if typ != task.TypeUnknown {
		q = q.Where("task_type = ?", typ.String())
	}
	var rows []metricRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query recent metrics: %w", err)
	}
	return fromRows(rows), nil
}

func toRow(rec Record) metricRow {
	row := metricRow{
		TaskType:         rec.TaskType.String(),
		Model:            rec.Model,
		NumTiles:         rec.NumTiles,
		TileSize:         rec.TileSize,
		EstimatedLatency: rec.EstimatedLatency,
		ActualLatency:    rec.ActualLatency,
		Success:          rec.Success,
		Quality:          rec.Quality,
		CreatedAt:        rec.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if len(rec.Features) > 0 {
		b, _ := json.Marshal(rec.Features)
		row.FeaturesJSON = string(b)
	}
	return row
}

func fromRows(rows []metricRow) []Record {
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec := Record{
			TaskType:         task.ParseType(r.TaskType),
			Model:            r.Model,
			NumTiles:         r.NumTiles,
			TileSize:         r.TileSize,
			EstimatedLatency: r.EstimatedLatency,
			ActualLatency:    r.ActualLatency,
			Success:          r.Success,
			Quality:          r.Quality,
			CreatedAt:        r.CreatedAt,
		}
		if r.FeaturesJSON != "" {
			_ = json.Unmarshal([]byte(r.FeaturesJSON), &rec.Features)
		}
		out = append(out, rec)
	}
	return out
}
