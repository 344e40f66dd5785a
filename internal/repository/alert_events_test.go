package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moby-monitor/internal/models"
)

func setupMockAlertEventsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AlertEventsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewAlertEventsRepository(db, logger)

	return db, mock, repo
}

func TestCreateAlertEvent_Success(t *testing.T) {
	db, mock, repo := setupMockAlertEventsDB(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()
	triggeredAt := time.Now()

	event := &models.AlertEvent{
		EventID:     eventID,
		SensorType:  "pressure",
		Metric:      "temperature_c",
		Severity:    models.SeverityCritical,
		Value:       52,
		Threshold:   50,
		TriggeredAt: triggeredAt,
		Detail:      "pressure temperature_c 52.00 exceeded CRITICAL threshold 50.00",
	}

	mock.ExpectExec(`INSERT INTO alert_events`).
		WithArgs(eventID, "pressure", "temperature_c", "CRITICAL", 52.0, 50.0, triggeredAt, nil, event.Detail, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateAlertEvent(ctx, event)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlertEvent_MissingEventID(t *testing.T) {
	db, mock, repo := setupMockAlertEventsDB(t)
	defer db.Close()

	err := repo.CreateAlertEvent(context.Background(), &models.AlertEvent{})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "event_id is required")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAlertEvent_Success(t *testing.T) {
	db, mock, repo := setupMockAlertEventsDB(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()
	triggeredAt := time.Now()
	resolvedAt := triggeredAt.Add(5 * time.Minute)

	rows := sqlmock.NewRows([]string{
		"event_id", "sensor_type", "metric", "severity", "value",
		"threshold", "triggered_at", "resolved_at", "detail", "analysis",
	}).AddRow(
		eventID, "vibration", "vibration_voltage", "WARNING", 2.4,
		2.0, triggeredAt, resolvedAt, "sustained vibration", "Bearing wear suspected.",
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs(eventID).
		WillReturnRows(rows)

	event, err := repo.GetAlertEvent(ctx, eventID)

	require.NoError(t, err)
	assert.Equal(t, eventID, event.EventID)
	assert.Equal(t, "vibration", event.SensorType)
	assert.Equal(t, models.SeverityWarning, event.Severity)
	assert.Equal(t, 2.4, event.Value)
	require.NotNil(t, event.ResolvedAt)
	assert.True(t, event.Resolved())
	require.NotNil(t, event.Analysis)
	assert.Equal(t, "Bearing wear suspected.", *event.Analysis)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAlertEvent_NotFound(t *testing.T) {
	db, mock, repo := setupMockAlertEventsDB(t)
	defer db.Close()

	eventID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).
		WithArgs(eventID).
		WillReturnError(sql.ErrNoRows)

	event, err := repo.GetAlertEvent(context.Background(), eventID)

	assert.Error(t, err)
	assert.Nil(t, event)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlertEvent_Success(t *testing.T) {
	db, mock, repo := setupMockAlertEventsDB(t)
	defer db.Close()

	eventID := uuid.New().String()
	resolvedAt := time.Now()

	mock.ExpectExec(`UPDATE alert_events`).
		WithArgs(resolvedAt, eventID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ResolveAlertEvent(context.Background(), eventID, resolvedAt)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlertEvent_AlreadyResolved(t *testing.T) {
	db, mock, repo := setupMockAlertEventsDB(t)
	defer db.Close()

	eventID := uuid.New().String()
	resolvedAt := time.Now()

	mock.ExpectExec(`UPDATE alert_events`).
		WithArgs(resolvedAt, eventID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ResolveAlertEvent(context.Background(), eventID, resolvedAt)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already resolved")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachAnalysis_Success(t *testing.T) {
	db, mock, repo := setupMockAlertEventsDB(t)
	defer db.Close()

	eventID := uuid.New().String()

	mock.ExpectExec(`UPDATE alert_events`).
		WithArgs("Overheating detected; inspect cooling.", eventID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AttachAnalysis(context.Background(), eventID, "Overheating detected; inspect cooling.")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAlertEvents_OrderedAscending(t *testing.T) {
	db, mock, repo := setupMockAlertEventsDB(t)
	defer db.Close()

	since := time.Now().Add(-24 * time.Hour)
	until := time.Now()
	first := since.Add(time.Hour)
	second := since.Add(2 * time.Hour)

	rows := sqlmock.NewRows([]string{
		"event_id", "sensor_type", "metric", "severity", "value",
		"threshold", "triggered_at", "resolved_at", "detail", "analysis",
	}).AddRow(
		"ev-1", "pressure", "temperature_c", "CRITICAL", 52.0,
		50.0, first, nil, "d1", nil,
	).AddRow(
		"ev-2", "vibration", "vibration_voltage", "WARNING", 2.4,
		2.0, second, nil, "d2", nil,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs(since, until).
		WillReturnRows(rows)

	events, err := repo.ListAlertEvents(context.Background(), since, until)

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-1", events[0].EventID)
	assert.Equal(t, "ev-2", events[1].EventID)
	assert.True(t, events[0].TriggeredAt.Before(events[1].TriggeredAt))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAlertEvents_EmptyRange(t *testing.T) {
	db, mock, repo := setupMockAlertEventsDB(t)
	defer db.Close()

	since := time.Now().Add(-time.Hour)
	until := time.Now()

	rows := sqlmock.NewRows([]string{
		"event_id", "sensor_type", "metric", "severity", "value",
		"threshold", "triggered_at", "resolved_at", "detail", "analysis",
	})

	mock.ExpectQuery(`SELECT`).
		WithArgs(since, until).
		WillReturnRows(rows)

	events, err := repo.ListAlertEvents(context.Background(), since, until)

	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NotNil(t, events)

	require.NoError(t, mock.ExpectationsWereMet())
}
