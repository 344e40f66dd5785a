package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"moby-monitor/internal/models"

	"go.uber.org/zap"
)

// AlertEventsRepository 报警事件仓库
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository 创建报警事件仓库
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAlertEvent 创建报警事件
func (r *AlertEventsRepository) CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.EventID == "" {
		return fmt.Errorf("event_id is required")
	}

	query := `
		INSERT INTO alert_events (
			event_id,
			sensor_type,
			metric,
			severity,
			value,
			threshold,
			triggered_at,
			resolved_at,
			detail,
			analysis
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		event.EventID,
		event.SensorType,
		event.Metric,
		event.Severity.String(),
		event.Value,
		event.Threshold,
		event.TriggeredAt,
		event.ResolvedAt,
		event.Detail,
		event.Analysis,
	)

	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}

	return nil
}

// GetAlertEvent 根据 event_id 获取单个报警事件
func (r *AlertEventsRepository) GetAlertEvent(ctx context.Context, eventID string) (*models.AlertEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := `
		SELECT
			event_id,
			sensor_type,
			metric,
			severity,
			value,
			threshold,
			triggered_at,
			resolved_at,
			detail,
			analysis
		FROM alert_events
		WHERE event_id = $1
	`

	event, err := r.scanAlertEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert event not found: event_id=%s", eventID)
		}
		return nil, fmt.Errorf("failed to get alert event: %w", err)
	}

	return event, nil
}

// ResolveAlertEvent 回写恢复时间（只允许未恢复的事件）
func (r *AlertEventsRepository) ResolveAlertEvent(ctx context.Context, eventID string, resolvedAt time.Time) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}

	query := `
		UPDATE alert_events
		SET resolved_at = $1
		WHERE event_id = $2
		  AND resolved_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, resolvedAt, eventID)
	if err != nil {
		return fmt.Errorf("failed to resolve alert event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert event not found or already resolved: event_id=%s", eventID)
	}

	return nil
}

// AttachAnalysis 补写 LLM 分析文本
func (r *AlertEventsRepository) AttachAnalysis(ctx context.Context, eventID, analysis string) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}

	query := `
		UPDATE alert_events
		SET analysis = $1
		WHERE event_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, analysis, eventID)
	if err != nil {
		return fmt.Errorf("failed to attach analysis: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert event not found: event_id=%s", eventID)
	}

	return nil
}

// ListAlertEvents 按触发时间区间查询，时间升序
func (r *AlertEventsRepository) ListAlertEvents(ctx context.Context, since, until time.Time) ([]*models.AlertEvent, error) {
	query := `
		SELECT
			event_id,
			sensor_type,
			metric,
			severity,
			value,
			threshold,
			triggered_at,
			resolved_at,
			detail,
			analysis
		FROM alert_events
		WHERE triggered_at >= $1
		  AND triggered_at <= $2
		ORDER BY triggered_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert events: %w", err)
	}
	defer rows.Close()

	events := []*models.AlertEvent{}
	for rows.Next() {
		event, err := r.scanAlertEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}

	return events, nil
}

// ListActiveAlertEvents 查询尚未恢复的报警事件，触发时间升序
func (r *AlertEventsRepository) ListActiveAlertEvents(ctx context.Context) ([]*models.AlertEvent, error) {
	query := `
		SELECT
			event_id,
			sensor_type,
			metric,
			severity,
			value,
			threshold,
			triggered_at,
			resolved_at,
			detail,
			analysis
		FROM alert_events
		WHERE resolved_at IS NULL
		ORDER BY triggered_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active alert events: %w", err)
	}
	defer rows.Close()

	events := []*models.AlertEvent{}
	for rows.Next() {
		event, err := r.scanAlertEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active alert events: %w", err)
	}

	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *AlertEventsRepository) scanAlertEvent(row rowScanner) (*models.AlertEvent, error) {
	var event models.AlertEvent
	var severity string
	var resolvedAt sql.NullTime
	var analysis sql.NullString

	err := row.Scan(
		&event.EventID,
		&event.SensorType,
		&event.Metric,
		&severity,
		&event.Value,
		&event.Threshold,
		&event.TriggeredAt,
		&resolvedAt,
		&event.Detail,
		&analysis,
	)
	if err != nil {
		return nil, err
	}

	event.Severity = models.ParseSeverity(severity)

	// 处理可空字段
	if resolvedAt.Valid {
		event.ResolvedAt = &resolvedAt.Time
	}
	if analysis.Valid {
		event.Analysis = &analysis.String
	}

	return &event, nil
}
