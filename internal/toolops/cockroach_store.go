package toolops

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/arcway/toolops/pkg/models"
)

// CockroachStore implements Store against CockroachDB, grounded on the
// sessions package's connection-pooling and prepared-statement conventions.
// Conditional updates use UPDATE ... WHERE state = $expected to realize the
// persistence contract's atomic find-and-update requirement without
// SELECT-then-UPDATE races.
type CockroachStore struct {
	db *sql.DB
}

// CockroachConfig holds connection parameters for CockroachStore.
type CockroachConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultCockroachConfig returns sane local-cluster defaults.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		Host:            "localhost",
		Port:            26257,
		User:            "root",
		Database:        "toolops",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewCockroachStore opens a connection pool and verifies connectivity.
func NewCockroachStore(cfg *CockroachConfig) (*CockroachStore, error) {
	if cfg == nil {
		cfg = DefaultCockroachConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, int(cfg.ConnectTimeout.Seconds()),
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("toolops: opening cockroach connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("toolops: pinging cockroach: %w", err)
	}
	return &CockroachStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *CockroachStore) Close() error {
	return s.db.Close()
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (s *CockroachStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	metadata, err := marshalJSON(msg.Metadata)
	if err != nil {
		return NewError(KindStorageUnavailable, "marshaling message metadata", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO toolops_messages (id, session_id, role, content, interaction_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.SessionID, msg.Role, msg.Content, msg.InteractionType, metadata, msg.CreatedAt)
	if err != nil {
		return NewError(KindStorageUnavailable, "inserting message", err)
	}
	return nil
}

func (s *CockroachStore) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, interaction_type, metadata, created_at
		FROM toolops_messages
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "listing session messages", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var metadata []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.InteractionType, &metadata, &msg.CreatedAt); err != nil {
			return nil, NewError(KindStorageUnavailable, "scanning message", err)
		}
		if len(metadata) > 0 && string(metadata) != "null" {
			json.Unmarshal(metadata, &msg.Metadata)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *CockroachStore) CreateOperation(ctx context.Context, op *models.ToolOperation) error {
	input, err := marshalJSON(op.Input)
	if err != nil {
		return NewError(KindStorageUnavailable, "marshaling operation input", err)
	}
	output, err := marshalJSON(op.Output)
	if err != nil {
		return NewError(KindStorageUnavailable, "marshaling operation output", err)
	}
	metadata, err := marshalJSON(op.Metadata)
	if err != nil {
		return NewError(KindStorageUnavailable, "marshaling operation metadata", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO toolops_operations (operation_id, session_id, tool_type, content_type, state, step, input, output, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, op.OperationID, op.SessionID, op.ToolType, op.ContentType, op.State, op.Step, input, output, metadata, op.CreatedAt, op.UpdatedAt)
	if err != nil {
		return NewError(KindStorageUnavailable, "inserting operation", err)
	}
	return nil
}

func scanOperation(row interface {
	Scan(dest ...any) error
}) (*models.ToolOperation, error) {
	op := &models.ToolOperation{}
	var input, output, metadata []byte
	if err := row.Scan(&op.OperationID, &op.SessionID, &op.ToolType, &op.ContentType, &op.State, &op.Step, &input, &output, &metadata, &op.CreatedAt, &op.UpdatedAt); err != nil {
		return nil, err
	}
	json.Unmarshal(input, &op.Input)
	json.Unmarshal(output, &op.Output)
	json.Unmarshal(metadata, &op.Metadata)
	return op, nil
}

const operationColumns = `operation_id, session_id, tool_type, content_type, state, step, input, output, metadata, created_at, updated_at`

func (s *CockroachStore) GetOperationBySession(ctx context.Context, sessionID string) (*models.ToolOperation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+operationColumns+`
		FROM toolops_operations
		WHERE session_id = $1 AND state NOT IN ($2, $3, $4)
		ORDER BY created_at DESC
		LIMIT 1
	`, sessionID, models.StateCompleted, models.StateCancelled, models.StateError)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "loading operation by session", err)
	}
	return op, nil
}

func (s *CockroachStore) GetOperationByID(ctx context.Context, operationID string) (*models.ToolOperation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM toolops_operations WHERE operation_id = $1`, operationID)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, NewError(KindStorageUnavailable, "operation not found", err)
	}
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "loading operation", err)
	}
	return op, nil
}

// UpdateOperation performs the conditional, atomic find-and-update: the
// WHERE clause guards on expectedState when provided so a concurrent writer
// can never silently clobber a transition it didn't observe.
func (s *CockroachStore) UpdateOperation(ctx context.Context, op *models.ToolOperation, expectedState *models.OperationState) error {
	input, err := marshalJSON(op.Input)
	if err != nil {
		return NewError(KindStorageUnavailable, "marshaling operation input", err)
	}
	output, err := marshalJSON(op.Output)
	if err != nil {
		return NewError(KindStorageUnavailable, "marshaling operation output", err)
	}
	metadata, err := marshalJSON(op.Metadata)
	if err != nil {
		return NewError(KindStorageUnavailable, "marshaling operation metadata", err)
	}

	query := `UPDATE toolops_operations SET state = $1, step = $2, input = $3, output = $4, metadata = $5, updated_at = $6 WHERE operation_id = $7`
	args := []any{op.State, op.Step, input, output, metadata, op.UpdatedAt, op.OperationID}
	if expectedState != nil {
		query += ` AND state = $8`
		args = append(args, *expectedState)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return NewError(KindStorageUnavailable, "updating operation", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return NewError(KindStorageUnavailable, "reading rows affected", err)
	}
	if rows == 0 {
		return NewError(KindIllegalStateTransition, "operation state changed underneath caller", nil)
	}
	return nil
}

func (s *CockroachStore) InsertItems(ctx context.Context, items []*models.ToolItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewError(KindStorageUnavailable, "beginning item insert transaction", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		content, err := marshalJSON(item.Content)
		if err != nil {
			return NewError(KindStorageUnavailable, "marshaling item content", err)
		}
		apiResponse, err := marshalJSON(item.APIResponse)
		if err != nil {
			return NewError(KindStorageUnavailable, "marshaling item api response", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO toolops_items (item_id, operation_id, session_id, content_type, schedule_id, state, status, content, raw_content, scheduled_time, executed_time, posted_time, retry_count, last_error, api_response, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`, item.ItemID, item.OperationID, item.SessionID, item.ContentType, nullString(item.ScheduleID), item.State, item.Status,
			content, item.RawContent, item.ScheduledTime, item.ExecutedTime, item.PostedTime, item.RetryCount, item.LastError,
			apiResponse, item.CreatedAt, item.UpdatedAt)
		if err != nil {
			return NewError(KindStorageUnavailable, "inserting item", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return NewError(KindStorageUnavailable, "committing item insert transaction", err)
	}
	return nil
}

const itemColumns = `item_id, operation_id, session_id, content_type, schedule_id, state, status, content, raw_content, scheduled_time, executed_time, posted_time, retry_count, last_error, api_response, created_at, updated_at`

func scanItem(row interface {
	Scan(dest ...any) error
}) (*models.ToolItem, error) {
	item := &models.ToolItem{}
	var content, apiResponse []byte
	var scheduleID sql.NullString
	if err := row.Scan(&item.ItemID, &item.OperationID, &item.SessionID, &item.ContentType, &scheduleID, &item.State, &item.Status,
		&content, &item.RawContent, &item.ScheduledTime, &item.ExecutedTime, &item.PostedTime, &item.RetryCount, &item.LastError,
		&apiResponse, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.ScheduleID = scheduleID.String
	if len(content) > 0 && string(content) != "null" {
		json.Unmarshal(content, &item.Content)
	}
	if len(apiResponse) > 0 && string(apiResponse) != "null" {
		json.Unmarshal(apiResponse, &item.APIResponse)
	}
	return item, nil
}

func (s *CockroachStore) GetItems(ctx context.Context, operationID string, filter ItemFilter) ([]*models.ToolItem, error) {
	query := `SELECT ` + itemColumns + ` FROM toolops_items WHERE operation_id = $1`
	args := []any{operationID}
	if filter.State != nil {
		args = append(args, *filter.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY item_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "listing items", err)
	}
	defer rows.Close()

	var out []*models.ToolItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, NewError(KindStorageUnavailable, "scanning item", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *CockroachStore) GetItem(ctx context.Context, itemID string) (*models.ToolItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM toolops_items WHERE item_id = $1`, itemID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, NewError(KindStorageUnavailable, "item not found", err)
	}
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "loading item", err)
	}
	return item, nil
}

func (s *CockroachStore) UpdateItemsState(ctx context.Context, itemIDs []string, state models.OperationState, status models.OperationStatus) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE toolops_items SET state = $1, status = $2, updated_at = now()
		WHERE item_id = ANY($3)
	`, state, status, pq.Array(itemIDs))
	if err != nil {
		return NewError(KindStorageUnavailable, "bulk updating item state", err)
	}
	return nil
}

func (s *CockroachStore) UpdateItemExecution(ctx context.Context, item *models.ToolItem) error {
	apiResponse, err := marshalJSON(item.APIResponse)
	if err != nil {
		return NewError(KindStorageUnavailable, "marshaling item api response", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE toolops_items
		SET state = $1, status = $2, scheduled_time = $3, executed_time = $4, posted_time = $5,
		    retry_count = $6, last_error = $7, api_response = $8, updated_at = $9
		WHERE item_id = $10
	`, item.State, item.Status, item.ScheduledTime, item.ExecutedTime, item.PostedTime,
		item.RetryCount, item.LastError, apiResponse, item.UpdatedAt, item.ItemID)
	if err != nil {
		return NewError(KindStorageUnavailable, "updating item execution", err)
	}
	return nil
}

func (s *CockroachStore) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	condition, err := marshalJSON(sched.Condition)
	if err != nil {
		return NewError(KindStorageUnavailable, "marshaling schedule condition", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO toolops_schedules (schedule_id, operation_id, session_id, content_type, state, type, start_time, interval_ns, total_items, check_interval_ns, expiration_timestamp, condition, pending_items, approved_items, rejected_items, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, sched.ScheduleID, sched.OperationID, sched.SessionID, sched.ContentType, sched.State, sched.Type,
		sched.StartTime, int64(sched.Interval), sched.TotalItems, int64(sched.CheckInterval), sched.ExpirationTimestamp, condition,
		pq.Array(sched.PendingItems), pq.Array(sched.ApprovedItems), pq.Array(sched.RejectedItems),
		sched.CreatedAt, sched.UpdatedAt)
	if err != nil {
		return NewError(KindStorageUnavailable, "inserting schedule", err)
	}
	return nil
}

const scheduleColumns = `schedule_id, operation_id, session_id, content_type, state, type, start_time, interval_ns, total_items, check_interval_ns, expiration_timestamp, condition, pending_items, approved_items, rejected_items, created_at, updated_at`

func scanSchedule(row interface {
	Scan(dest ...any) error
}) (*models.Schedule, error) {
	sched := &models.Schedule{}
	var intervalNs, checkIntervalNs int64
	var condition []byte
	var pending, approved, rejected pq.StringArray
	if err := row.Scan(&sched.ScheduleID, &sched.OperationID, &sched.SessionID, &sched.ContentType, &sched.State, &sched.Type,
		&sched.StartTime, &intervalNs, &sched.TotalItems, &checkIntervalNs, &sched.ExpirationTimestamp, &condition,
		&pending, &approved, &rejected, &sched.CreatedAt, &sched.UpdatedAt); err != nil {
		return nil, err
	}
	sched.Interval = time.Duration(intervalNs)
	sched.CheckInterval = time.Duration(checkIntervalNs)
	sched.PendingItems = []string(pending)
	sched.ApprovedItems = []string(approved)
	sched.RejectedItems = []string(rejected)
	if len(condition) > 0 && string(condition) != "null" {
		json.Unmarshal(condition, &sched.Condition)
	}
	return sched, nil
}

func (s *CockroachStore) GetSchedule(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM toolops_schedules WHERE schedule_id = $1`, scheduleID)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, NewError(KindStorageUnavailable, "schedule not found", err)
	}
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "loading schedule", err)
	}
	return sched, nil
}

func (s *CockroachStore) UpdateSchedule(ctx context.Context, sched *models.Schedule) error {
	condition, err := marshalJSON(sched.Condition)
	if err != nil {
		return NewError(KindStorageUnavailable, "marshaling schedule condition", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE toolops_schedules
		SET state = $1, start_time = $2, total_items = $3, expiration_timestamp = $4, condition = $5,
		    pending_items = $6, approved_items = $7, rejected_items = $8, updated_at = $9
		WHERE schedule_id = $10
	`, sched.State, sched.StartTime, sched.TotalItems, sched.ExpirationTimestamp, condition,
		pq.Array(sched.PendingItems), pq.Array(sched.ApprovedItems), pq.Array(sched.RejectedItems),
		sched.UpdatedAt, sched.ScheduleID)
	if err != nil {
		return NewError(KindStorageUnavailable, "updating schedule", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewError(KindStorageUnavailable, "schedule not found", nil)
	}
	return nil
}

// ListDueItems joins against the schedule and an exclusive claim window so a
// SKIP LOCKED-style sweep never hands the same item to two executor ticks.
func (s *CockroachStore) ListDueItems(ctx context.Context, now time.Time, limit int) ([]*models.ToolItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("i", itemColumns)+`
		FROM toolops_items i
		JOIN toolops_schedules sc ON sc.schedule_id = i.schedule_id
		LEFT JOIN toolops_claims c ON c.item_id = i.item_id
		WHERE i.status = $1 AND i.scheduled_time <= $2 AND sc.state = $3
		  AND (c.claimed_until IS NULL OR c.claimed_until <= $2)
		ORDER BY i.scheduled_time ASC, i.item_id ASC
		LIMIT $4
	`, models.StatusScheduled, now, models.ScheduleStateActive, limit)
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "listing due items", err)
	}
	defer rows.Close()

	var out []*models.ToolItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, NewError(KindStorageUnavailable, "scanning due item", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *CockroachStore) ListActiveMonitors(ctx context.Context) ([]*models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM toolops_schedules WHERE type = $1 AND state = $2 ORDER BY schedule_id ASC`,
		models.ScheduleMonitoring, models.ScheduleStateActive)
	if err != nil {
		return nil, NewError(KindStorageUnavailable, "listing active monitors", err)
	}
	defer rows.Close()

	var out []*models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, NewError(KindStorageUnavailable, "scanning monitor schedule", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// ClaimItem inserts an exclusive claim row; the unique index on item_id
// combined with ON CONFLICT DO UPDATE ... WHERE guards ensures only one
// executor wins a given item within the claim window.
func (s *CockroachStore) ClaimItem(ctx context.Context, itemID string, claimedUntil time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO toolops_claims (item_id, claimed_until)
		VALUES ($1, $2)
		ON CONFLICT (item_id) DO UPDATE SET claimed_until = $2
		WHERE toolops_claims.claimed_until <= now()
	`, itemID, claimedUntil)
	if err != nil {
		return false, NewError(KindStorageUnavailable, "claiming item", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, NewError(KindStorageUnavailable, "reading claim rows affected", err)
	}
	return rows > 0, nil
}

func (s *CockroachStore) ReclaimStaleItems(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM toolops_claims WHERE claimed_until < $1`, now)
	if err != nil {
		return 0, NewError(KindStorageUnavailable, "reclaiming stale claims", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, NewError(KindStorageUnavailable, "reading reclaim rows affected", err)
	}
	return int(rows), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// prefixColumns qualifies a flat "a, b, c" column list with a table alias,
// e.g. prefixColumns("i", "a, b") -> "i.a, i.b".
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
