package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"moby-monitor/internal/models"

	"go.uber.org/zap"
)

// SensorReadingsRepository 传感器时序读数仓库
// fields 列为 JSONB，字段集合随传感器类型变化
type SensorReadingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSensorReadingsRepository 创建时序读数仓库
func NewSensorReadingsRepository(db *sql.DB, logger *zap.Logger) *SensorReadingsRepository {
	return &SensorReadingsRepository{
		db:     db,
		logger: logger,
	}
}

// InsertReading 写入一条归一化读数
func (r *SensorReadingsRepository) InsertReading(ctx context.Context, reading models.Reading) error {
	if reading.SensorType == "" {
		return fmt.Errorf("sensor_type is required")
	}
	if len(reading.Fields) == 0 {
		return fmt.Errorf("fields cannot be empty")
	}

	fieldsJSON, err := json.Marshal(reading.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
		INSERT INTO sensor_readings (
			sensor_type,
			sensor_model,
			fields,
			reading_time
		) VALUES (
			$1, $2, $3, $4
		)
	`

	_, err = r.db.ExecContext(ctx,
		query,
		reading.SensorType,
		reading.SensorModel,
		fieldsJSON,
		reading.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to insert sensor reading: %w", err)
	}

	return nil
}

// QueryRange 查询某传感器类型在时间区间内的读数，时间升序
func (r *SensorReadingsRepository) QueryRange(ctx context.Context, sensorType string, start, end time.Time) ([]models.Reading, error) {
	if sensorType == "" {
		return nil, fmt.Errorf("sensor_type is required")
	}

	query := `
		SELECT
			sensor_type,
			sensor_model,
			fields,
			reading_time
		FROM sensor_readings
		WHERE sensor_type = $1
		  AND reading_time >= $2
		  AND reading_time <= $3
		ORDER BY reading_time ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sensorType, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor readings: %w", err)
	}
	defer rows.Close()

	readings := []models.Reading{}
	for rows.Next() {
		var reading models.Reading
		var fieldsJSON []byte

		err := rows.Scan(
			&reading.SensorType,
			&reading.SensorModel,
			&fieldsJSON,
			&reading.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor reading: %w", err)
		}

		// 处理 JSONB 字段
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &reading.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		} else {
			reading.Fields = map[string]float64{}
		}

		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sensor readings: %w", err)
	}

	return readings, nil
}

// LatestReading 查询某传感器类型最近一条读数，无数据返回 (nil, nil)
func (r *SensorReadingsRepository) LatestReading(ctx context.Context, sensorType string) (*models.Reading, error) {
	if sensorType == "" {
		return nil, fmt.Errorf("sensor_type is required")
	}

	query := `
		SELECT
			sensor_type,
			sensor_model,
			fields,
			reading_time
		FROM sensor_readings
		WHERE sensor_type = $1
		ORDER BY reading_time DESC
		LIMIT 1
	`

	var reading models.Reading
	var fieldsJSON []byte

	err := r.db.QueryRowContext(ctx, query, sensorType).Scan(
		&reading.SensorType,
		&reading.SensorModel,
		&fieldsJSON,
		&reading.Timestamp,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest sensor reading: %w", err)
	}

	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &reading.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	} else {
		reading.Fields = map[string]float64{}
	}

	return &reading, nil
}
