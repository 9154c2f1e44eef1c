// Package sqlitestore implements toolops.Store backed by a single SQLite
// file, the single-node deployment alternative to the CockroachDB store,
// grounded on the storage package's createTables/upsert conventions.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arcway/toolops/internal/toolops"
	"github.com/arcway/toolops/pkg/models"
)

// Store implements toolops.Store against a local SQLite database file.
// Conditional updates rely on SQLite's single-writer semantics: a write
// transaction serializes against every other writer, so a plain
// UPDATE ... WHERE state = ? is as atomic here as a row lock is in Cockroach.
type Store struct {
	db *sql.DB
}

// Config configures Store.
type Config struct {
	Path string
}

// New opens (creating if needed) a SQLite-backed Store at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitestore: path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: creating directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening database: %w", err)
	}
	// SQLite only supports one writer at a time; cap the pool so
	// database/sql doesn't hand out concurrent write connections that
	// would otherwise serialize behind SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: creating tables: %w", err)
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		interaction_type TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS operations (
		operation_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tool_type TEXT NOT NULL,
		content_type TEXT NOT NULL,
		state TEXT NOT NULL,
		step TEXT,
		input TEXT,
		output TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_operations_session ON operations(session_id, created_at);

	CREATE TABLE IF NOT EXISTS items (
		item_id TEXT PRIMARY KEY,
		operation_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		content_type TEXT NOT NULL,
		schedule_id TEXT,
		state TEXT NOT NULL,
		status TEXT NOT NULL,
		content TEXT,
		raw_content TEXT,
		scheduled_time DATETIME,
		executed_time DATETIME,
		posted_time DATETIME,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		api_response TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_operation ON items(operation_id);
	CREATE INDEX IF NOT EXISTS idx_items_due ON items(status, scheduled_time);

	CREATE TABLE IF NOT EXISTS schedules (
		schedule_id TEXT PRIMARY KEY,
		operation_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		content_type TEXT NOT NULL,
		state TEXT NOT NULL,
		type TEXT NOT NULL,
		start_time DATETIME,
		interval_ns INTEGER NOT NULL DEFAULT 0,
		total_items INTEGER NOT NULL DEFAULT 0,
		check_interval_ns INTEGER NOT NULL DEFAULT 0,
		expiration_timestamp DATETIME,
		condition TEXT,
		pending_items TEXT,
		approved_items TEXT,
		rejected_items TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS claims (
		item_id TEXT PRIMARY KEY,
		claimed_until DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) error {
	metadata, err := marshalJSON(msg.Metadata)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "marshaling message metadata", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, interaction_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, msg.Role, msg.Content, msg.InteractionType, metadata, msg.CreatedAt)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "inserting message", err)
	}
	return nil
}

func (s *Store) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, interaction_type, metadata, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, toolops.NewError(toolops.KindStorageUnavailable, "listing session messages", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var metadata string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.InteractionType, &metadata, &msg.CreatedAt); err != nil {
			return nil, toolops.NewError(toolops.KindStorageUnavailable, "scanning message", err)
		}
		if metadata != "" && metadata != "null" {
			json.Unmarshal([]byte(metadata), &msg.Metadata)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *Store) CreateOperation(ctx context.Context, op *models.ToolOperation) error {
	input, err := marshalJSON(op.Input)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "marshaling operation input", err)
	}
	output, err := marshalJSON(op.Output)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "marshaling operation output", err)
	}
	metadata, err := marshalJSON(op.Metadata)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "marshaling operation metadata", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operations (operation_id, session_id, tool_type, content_type, state, step, input, output, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.OperationID, op.SessionID, op.ToolType, op.ContentType, op.State, op.Step, input, output, metadata, op.CreatedAt, op.UpdatedAt)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "inserting operation", err)
	}
	return nil
}

func scanOperation(row interface {
	Scan(dest ...any) error
}) (*models.ToolOperation, error) {
	op := &models.ToolOperation{}
	var input, output, metadata string
	if err := row.Scan(&op.OperationID, &op.SessionID, &op.ToolType, &op.ContentType, &op.State, &op.Step, &input, &output, &metadata, &op.CreatedAt, &op.UpdatedAt); err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(input), &op.Input)
	json.Unmarshal([]byte(output), &op.Output)
	json.Unmarshal([]byte(metadata), &op.Metadata)
	return op, nil
}

const operationColumns = `operation_id, session_id, tool_type, content_type, state, step, input, output, metadata, created_at, updated_at`

func (s *Store) GetOperationBySession(ctx context.Context, sessionID string) (*models.ToolOperation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+operationColumns+`
		FROM operations
		WHERE session_id = ? AND state NOT IN (?, ?, ?)
		ORDER BY created_at DESC LIMIT 1
	`, sessionID, models.StateCompleted, models.StateCancelled, models.StateError)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, toolops.NewError(toolops.KindStorageUnavailable, "loading operation by session", err)
	}
	return op, nil
}

func (s *Store) GetOperationByID(ctx context.Context, operationID string) (*models.ToolOperation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE operation_id = ?`, operationID)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, toolops.NewError(toolops.KindStorageUnavailable, "operation not found", err)
	}
	if err != nil {
		return nil, toolops.NewError(toolops.KindStorageUnavailable, "loading operation", err)
	}
	return op, nil
}

func (s *Store) UpdateOperation(ctx context.Context, op *models.ToolOperation, expectedState *models.OperationState) error {
	input, err := marshalJSON(op.Input)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "marshaling operation input", err)
	}
	output, err := marshalJSON(op.Output)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "marshaling operation output", err)
	}
	metadata, err := marshalJSON(op.Metadata)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "marshaling operation metadata", err)
	}

	query := `UPDATE operations SET state = ?, step = ?, input = ?, output = ?, metadata = ?, updated_at = ? WHERE operation_id = ?`
	args := []any{op.State, op.Step, input, output, metadata, op.UpdatedAt, op.OperationID}
	if expectedState != nil {
		query += ` AND state = ?`
		args = append(args, *expectedState)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "updating operation", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "reading rows affected", err)
	}
	if rows == 0 {
		return toolops.NewError(toolops.KindIllegalStateTransition, "operation state changed underneath caller", nil)
	}
	return nil
}

func (s *Store) InsertItems(ctx context.Context, items []*models.ToolItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "beginning item insert transaction", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		content, err := marshalJSON(item.Content)
		if err != nil {
			return toolops.NewError(toolops.KindStorageUnavailable, "marshaling item content", err)
		}
		apiResponse, err := marshalJSON(item.APIResponse)
		if err != nil {
			return toolops.NewError(toolops.KindStorageUnavailable, "marshaling item api response", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO items (item_id, operation_id, session_id, content_type, schedule_id, state, status, content, raw_content, scheduled_time, executed_time, posted_time, retry_count, last_error, api_response, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ItemID, item.OperationID, item.SessionID, item.ContentType, item.ScheduleID, item.State, item.Status,
			content, item.RawContent, item.ScheduledTime, item.ExecutedTime, item.PostedTime, item.RetryCount, item.LastError,
			apiResponse, item.CreatedAt, item.UpdatedAt)
		if err != nil {
			return toolops.NewError(toolops.KindStorageUnavailable, "inserting item", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "committing item insert transaction", err)
	}
	return nil
}

const itemColumns = `item_id, operation_id, session_id, content_type, schedule_id, state, status, content, raw_content, scheduled_time, executed_time, posted_time, retry_count, last_error, api_response, created_at, updated_at`

func scanItem(row interface {
	Scan(dest ...any) error
}) (*models.ToolItem, error) {
	item := &models.ToolItem{}
	var content, apiResponse string
	var scheduleID sql.NullString
	if err := row.Scan(&item.ItemID, &item.OperationID, &item.SessionID, &item.ContentType, &scheduleID, &item.State, &item.Status,
		&content, &item.RawContent, &item.ScheduledTime, &item.ExecutedTime, &item.PostedTime, &item.RetryCount, &item.LastError,
		&apiResponse, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.ScheduleID = scheduleID.String
	if content != "" && content != "null" {
		json.Unmarshal([]byte(content), &item.Content)
	}
	if apiResponse != "" && apiResponse != "null" {
		json.Unmarshal([]byte(apiResponse), &item.APIResponse)
	}
	return item, nil
}

func (s *Store) GetItems(ctx context.Context, operationID string, filter toolops.ItemFilter) ([]*models.ToolItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE operation_id = ?`
	args := []any{operationID}
	if filter.State != nil {
		args = append(args, *filter.State)
		query += ` AND state = ?`
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += ` AND status = ?`
	}
	query += ` ORDER BY item_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, toolops.NewError(toolops.KindStorageUnavailable, "listing items", err)
	}
	defer rows.Close()

	var out []*models.ToolItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, toolops.NewError(toolops.KindStorageUnavailable, "scanning item", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) GetItem(ctx context.Context, itemID string) (*models.ToolItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE item_id = ?`, itemID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, toolops.NewError(toolops.KindStorageUnavailable, "item not found", err)
	}
	if err != nil {
		return nil, toolops.NewError(toolops.KindStorageUnavailable, "loading item", err)
	}
	return item, nil
}

func (s *Store) UpdateItemsState(ctx context.Context, itemIDs []string, state models.OperationState, status models.OperationStatus) error {
	if len(itemIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(itemIDs)), ",")
	args := make([]any, 0, len(itemIDs)+2)
	args = append(args, state, status)
	for _, id := range itemIDs {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, `UPDATE items SET state = ?, status = ?, updated_at = CURRENT_TIMESTAMP WHERE item_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "bulk updating item state", err)
	}
	return nil
}

func (s *Store) UpdateItemExecution(ctx context.Context, item *models.ToolItem) error {
	apiResponse, err := marshalJSON(item.APIResponse)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "marshaling item api response", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE items
		SET state = ?, status = ?, scheduled_time = ?, executed_time = ?, posted_time = ?,
		    retry_count = ?, last_error = ?, api_response = ?, updated_at = ?
		WHERE item_id = ?
	`, item.State, item.Status, item.ScheduledTime, item.ExecutedTime, item.PostedTime,
		item.RetryCount, item.LastError, apiResponse, item.UpdatedAt, item.ItemID)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "updating item execution", err)
	}
	return nil
}

func (s *Store) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	condition, err := marshalJSON(sched.Condition)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "marshaling schedule condition", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (schedule_id, operation_id, session_id, content_type, state, type, start_time, interval_ns, total_items, check_interval_ns, expiration_timestamp, condition, pending_items, approved_items, rejected_items, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sched.ScheduleID, sched.OperationID, sched.SessionID, sched.ContentType, sched.State, sched.Type,
		sched.StartTime, int64(sched.Interval), sched.TotalItems, int64(sched.CheckInterval), sched.ExpirationTimestamp, condition,
		joinIDs(sched.PendingItems), joinIDs(sched.ApprovedItems), joinIDs(sched.RejectedItems),
		sched.CreatedAt, sched.UpdatedAt)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "inserting schedule", err)
	}
	return nil
}

const scheduleColumns = `schedule_id, operation_id, session_id, content_type, state, type, start_time, interval_ns, total_items, check_interval_ns, expiration_timestamp, condition, pending_items, approved_items, rejected_items, created_at, updated_at`

func scanSchedule(row interface {
	Scan(dest ...any) error
}) (*models.Schedule, error) {
	sched := &models.Schedule{}
	var intervalNs, checkIntervalNs int64
	var condition, pending, approved, rejected string
	if err := row.Scan(&sched.ScheduleID, &sched.OperationID, &sched.SessionID, &sched.ContentType, &sched.State, &sched.Type,
		&sched.StartTime, &intervalNs, &sched.TotalItems, &checkIntervalNs, &sched.ExpirationTimestamp, &condition,
		&pending, &approved, &rejected, &sched.CreatedAt, &sched.UpdatedAt); err != nil {
		return nil, err
	}
	sched.Interval = time.Duration(intervalNs)
	sched.CheckInterval = time.Duration(checkIntervalNs)
	sched.PendingItems = splitIDs(pending)
	sched.ApprovedItems = splitIDs(approved)
	sched.RejectedItems = splitIDs(rejected)
	if condition != "" && condition != "null" {
		json.Unmarshal([]byte(condition), &sched.Condition)
	}
	return sched, nil
}

func (s *Store) GetSchedule(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE schedule_id = ?`, scheduleID)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, toolops.NewError(toolops.KindStorageUnavailable, "schedule not found", err)
	}
	if err != nil {
		return nil, toolops.NewError(toolops.KindStorageUnavailable, "loading schedule", err)
	}
	return sched, nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sched *models.Schedule) error {
	condition, err := marshalJSON(sched.Condition)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "marshaling schedule condition", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET state = ?, start_time = ?, total_items = ?, expiration_timestamp = ?, condition = ?,
		    pending_items = ?, approved_items = ?, rejected_items = ?, updated_at = ?
		WHERE schedule_id = ?
	`, sched.State, sched.StartTime, sched.TotalItems, sched.ExpirationTimestamp, condition,
		joinIDs(sched.PendingItems), joinIDs(sched.ApprovedItems), joinIDs(sched.RejectedItems),
		sched.UpdatedAt, sched.ScheduleID)
	if err != nil {
		return toolops.NewError(toolops.KindStorageUnavailable, "updating schedule", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return toolops.NewError(toolops.KindStorageUnavailable, "schedule not found", nil)
	}
	return nil
}

func (s *Store) ListDueItems(ctx context.Context, now time.Time, limit int) ([]*models.ToolItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("i", itemColumns)+`
		FROM items i
		JOIN schedules sc ON sc.schedule_id = i.schedule_id
		LEFT JOIN claims c ON c.item_id = i.item_id
		WHERE i.status = ? AND i.scheduled_time <= ? AND sc.state = ?
		  AND (c.claimed_until IS NULL OR c.claimed_until <= ?)
		ORDER BY i.scheduled_time ASC, i.item_id ASC
		LIMIT ?
	`, models.StatusScheduled, now, models.ScheduleStateActive, now, limit)
	if err != nil {
		return nil, toolops.NewError(toolops.KindStorageUnavailable, "listing due items", err)
	}
	defer rows.Close()

	var out []*models.ToolItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, toolops.NewError(toolops.KindStorageUnavailable, "scanning due item", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) ListActiveMonitors(ctx context.Context) ([]*models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE type = ? AND state = ? ORDER BY schedule_id ASC`,
		models.ScheduleMonitoring, models.ScheduleStateActive)
	if err != nil {
		return nil, toolops.NewError(toolops.KindStorageUnavailable, "listing active monitors", err)
	}
	defer rows.Close()

	var out []*models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, toolops.NewError(toolops.KindStorageUnavailable, "scanning monitor schedule", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func (s *Store) ClaimItem(ctx context.Context, itemID string, claimedUntil time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (item_id, claimed_until) VALUES (?, ?)
		ON CONFLICT(item_id) DO UPDATE SET claimed_until = excluded.claimed_until
		WHERE claims.claimed_until <= CURRENT_TIMESTAMP
	`, itemID, claimedUntil)
	if err != nil {
		return false, toolops.NewError(toolops.KindStorageUnavailable, "claiming item", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, toolops.NewError(toolops.KindStorageUnavailable, "reading claim rows affected", err)
	}
	return rows > 0, nil
}

func (s *Store) ReclaimStaleItems(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE claimed_until < ?`, now)
	if err != nil {
		return 0, toolops.NewError(toolops.KindStorageUnavailable, "reclaiming stale claims", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, toolops.NewError(toolops.KindStorageUnavailable, "reading reclaim rows affected", err)
	}
	return int(rows), nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

var _ toolops.Store = (*Store)(nil)
