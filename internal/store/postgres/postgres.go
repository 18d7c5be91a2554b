package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// Ping reports whether the database is reachable.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

var requiredTables = []string{
	"assessments",
	"city_analyses",
	"assessment_events",
	"assessment_event_sequences",
	"city_progress",
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	for _, table := range requiredTables {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) CreateAssessment(ctx context.Context, assessment store.Assessment) error {
	status := strings.TrimSpace(assessment.Status)
	if status == "" {
		status = store.StatusQueued
	}
	cities := assessment.Cities
	if cities == nil {
		cities = []agent.CityRef{}
	}
	citiesBytes, err := json.Marshal(cities)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO assessments (id, status, budget, cities, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		assessment.ID,
		status,
		assessment.Budget,
		citiesBytes,
		nullString(assessment.Error),
		parseTimestampValue(assessment.CreatedAt),
		parseTimestampValue(assessment.UpdatedAt),
	)
	return err
}

const assessmentColumns = `id, status, budget, cities, error, created_at, updated_at`

func (p *PostgresStore) GetAssessment(ctx context.Context, id string) (*store.Assessment, error) {
	row := p.db.QueryRowContext(ctx, "SELECT "+assessmentColumns+" FROM assessments WHERE id = $1", id)
	assessment, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &assessment, nil
}

func (p *PostgresStore) ListAssessments(ctx context.Context) ([]store.Assessment, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT "+assessmentColumns+" FROM assessments ORDER BY created_at DESC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Assessment{}
	for rows.Next() {
		assessment, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, assessment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (store.Assessment, error) {
	var (
		assessment  store.Assessment
		citiesBytes []byte
		errMessage  sql.NullString
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := row.Scan(
		&assessment.ID,
		&assessment.Status,
		&assessment.Budget,
		&citiesBytes,
		&errMessage,
		&createdAt,
		&updatedAt,
	); err != nil {
		return store.Assessment{}, err
	}
	assessment.Cities = []agent.CityRef{}
	if len(citiesBytes) > 0 {
		if err := json.Unmarshal(citiesBytes, &assessment.Cities); err != nil {
			return store.Assessment{}, err
		}
	}
	if errMessage.Valid {
		assessment.Error = errMessage.String
	}
	assessment.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	assessment.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return assessment, nil
}

// A terminal status is only replaced by itself.
const updateStatusQuery = `
	UPDATE assessments
	SET
		status = CASE
			WHEN status IN ('completed', 'partial', 'failed', 'cancelled') AND status <> $2 THEN status
			ELSE $2
		END,
		error = CASE
			WHEN status IN ('completed', 'partial', 'failed', 'cancelled') AND status <> $2 THEN error
			ELSE COALESCE($3, error)
		END,
		updated_at = $4
	WHERE id = $1
`

func (p *PostgresStore) UpdateAssessmentStatus(ctx context.Context, id string, status string, errMessage string) error {
	result, err := p.db.ExecContext(ctx, updateStatusQuery, id, status, nullString(errMessage), time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) SaveCityAnalysis(ctx context.Context, record store.CityAnalysisRecord) error {
	encoded, err := json.Marshal(record.Analysis)
	if err != nil {
		return err
	}
	createdAt := record.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	const query = `
		INSERT INTO city_analyses (assessment_id, city, country, analysis, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (assessment_id, city, country)
		DO UPDATE SET analysis = EXCLUDED.analysis, created_at = EXCLUDED.created_at
	`
	_, err = p.db.ExecContext(ctx, query, record.AssessmentID, record.City, record.Country, encoded, parseTimestampValue(createdAt))
	return err
}

func (p *PostgresStore) ListCityAnalyses(ctx context.Context, assessmentID string) ([]store.CityAnalysisRecord, error) {
	const query = `
		SELECT assessment_id, city, country, analysis, created_at
		FROM city_analyses
		WHERE assessment_id = $1
		ORDER BY created_at ASC, city ASC
	`
	rows, err := p.db.QueryContext(ctx, query, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.CityAnalysisRecord{}
	for rows.Next() {
		var (
			record        store.CityAnalysisRecord
			analysisBytes []byte
			createdAt     time.Time
		)
		if err := rows.Scan(&record.AssessmentID, &record.City, &record.Country, &analysisBytes, &createdAt); err != nil {
			return nil, err
		}
		if len(analysisBytes) > 0 {
			if err := json.Unmarshal(analysisBytes, &record.Analysis); err != nil {
				return nil, err
			}
		}
		record.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event store.Event) error {
	event.Type = store.NormalizeEventType(event.Type)
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	traceID := strings.TrimSpace(event.TraceID)
	var traceIDValue any
	if traceID == "" {
		traceIDValue = nil
	} else if _, err := uuid.Parse(traceID); err != nil {
		traceIDValue = nil
	} else {
		traceIDValue = traceID
	}
	const query = `
		INSERT INTO assessment_events (assessment_id, seq, type, timestamp, source, trace_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, query, event.AssessmentID, event.Seq, event.Type, parseTimestampValue(event.Timestamp), event.Source, traceIDValue, encoded); err != nil {
		return err
	}
	if progress, ok := store.BuildCityProgressFromEvent(event); ok {
		if err = upsertCityProgressTx(ctx, tx, progress); err != nil {
			return err
		}
	}
	if status, errMessage, ok := store.AssessmentStatusFromEvent(event); ok {
		if _, err = tx.ExecContext(ctx, updateStatusQuery, event.AssessmentID, status, nullString(errMessage), parseTimestampValue(event.Timestamp)); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

const progressColumns = `assessment_id, city, country, status, iteration, confidence, completeness, goals_met, seq, started_at, completed_at, error`

func upsertCityProgressTx(ctx context.Context, tx *sql.Tx, incoming store.CityProgress) error {
	row := tx.QueryRowContext(
		ctx,
		"SELECT "+progressColumns+" FROM city_progress WHERE assessment_id = $1 AND city = $2 AND country = $3 FOR UPDATE",
		incoming.AssessmentID,
		incoming.City,
		incoming.Country,
	)
	existing, err := scanCityProgress(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	merged := store.MergeCityProgress(existing, incoming)
	const query = `
		INSERT INTO city_progress (` + progressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (assessment_id, city, country)
		DO UPDATE SET
			status = EXCLUDED.status,
			iteration = EXCLUDED.iteration,
			confidence = EXCLUDED.confidence,
			completeness = EXCLUDED.completeness,
			goals_met = EXCLUDED.goals_met,
			seq = EXCLUDED.seq,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			error = EXCLUDED.error
	`
	_, err = tx.ExecContext(
		ctx,
		query,
		merged.AssessmentID,
		merged.City,
		merged.Country,
		merged.Status,
		merged.Iteration,
		merged.Confidence,
		merged.Completeness,
		merged.GoalsMet,
		merged.Seq,
		parseTimestampNull(merged.StartedAt),
		parseTimestampNull(merged.CompletedAt),
		nullString(merged.Error),
	)
	return err
}

func scanCityProgress(row rowScanner) (store.CityProgress, error) {
	var (
		progress    store.CityProgress
		startedAt   sql.NullTime
		completedAt sql.NullTime
		errMessage  sql.NullString
	)
	if err := row.Scan(
		&progress.AssessmentID,
		&progress.City,
		&progress.Country,
		&progress.Status,
		&progress.Iteration,
		&progress.Confidence,
		&progress.Completeness,
		&progress.GoalsMet,
		&progress.Seq,
		&startedAt,
		&completedAt,
		&errMessage,
	); err != nil {
		return store.CityProgress{}, err
	}
	if startedAt.Valid {
		progress.StartedAt = startedAt.Time.UTC().Format(time.RFC3339Nano)
	}
	if completedAt.Valid {
		progress.CompletedAt = completedAt.Time.UTC().Format(time.RFC3339Nano)
	}
	if errMessage.Valid {
		progress.Error = errMessage.String
	}
	return progress, nil
}

func (p *PostgresStore) ListEvents(ctx context.Context, assessmentID string, afterSeq int64) ([]store.Event, error) {
	const query = `
		SELECT assessment_id, seq, type, timestamp, source, trace_id, payload
		FROM assessment_events
		WHERE assessment_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	rows, err := p.db.QueryContext(ctx, query, assessmentID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Event{}
	for rows.Next() {
		var payloadBytes []byte
		var timestamp time.Time
		var traceID sql.NullString
		var event store.Event
		if err := rows.Scan(&event.AssessmentID, &event.Seq, &event.Type, &timestamp, &event.Source, &traceID, &payloadBytes); err != nil {
			return nil, err
		}
		event.Timestamp = timestamp.UTC().Format(time.RFC3339Nano)
		if traceID.Valid {
			event.TraceID = traceID.String
		}
		event.Payload = decodeJSONMap(payloadBytes)
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) NextSeq(ctx context.Context, assessmentID string) (int64, error) {
	const query = `
		INSERT INTO assessment_event_sequences (assessment_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (assessment_id)
		DO UPDATE SET last_seq = assessment_event_sequences.last_seq + 1
		RETURNING last_seq
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, assessmentID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (p *PostgresStore) ListCityProgress(ctx context.Context, assessmentID string) ([]store.CityProgress, error) {
	rows, err := p.db.QueryContext(
		ctx,
		"SELECT "+progressColumns+" FROM city_progress WHERE assessment_id = $1 ORDER BY city ASC, country ASC",
		assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.CityProgress{}
	for rows.Next() {
		progress, err := scanCityProgress(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, progress)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func parseTimestampValue(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func parseTimestampNull(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	return parsed.UTC()
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}

func decodeJSONMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}
	return payload
}
