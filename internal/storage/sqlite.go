// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// SaveEvent saves a single event
func (s *SQLiteStorage) SaveEvent(ctx context.Context, event *models.ProgramEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event data", err.Error())
	}

	query := `
		INSERT OR REPLACE INTO events
		(id, signature, slot, log_index, program, event_name, data,
		 block_time, received_at, processed, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.Signature, event.Slot, event.LogIndex, event.Program,
		event.EventName, string(dataJSON), event.BlockTime, event.ReceivedAt,
		event.Processed, event.ProcessedAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save event", err.Error())
	}

	return nil
}

// SaveEvents saves multiple events in a transaction
func (s *SQLiteStorage) SaveEvents(ctx context.Context, events []*models.ProgramEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO events
		(id, signature, slot, log_index, program, event_name, data,
		 block_time, received_at, processed, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err.Error())
	}
	defer stmt.Close()

	for _, event := range events {
		dataJSON, err := json.Marshal(event.Data)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event data", err.Error())
		}

		_, err = stmt.ExecContext(ctx,
			event.ID, event.Signature, event.Slot, event.LogIndex, event.Program,
			event.EventName, string(dataJSON), event.BlockTime, event.ReceivedAt,
			event.Processed, event.ProcessedAt)

		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save event in batch", err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	s.logger.WithField("count", len(events)).Debug("Saved events batch")
	return nil
}

const eventColumns = `id, signature, slot, log_index, program, event_name, data,
       block_time, received_at, processed, processed_at`

func scanEvent(row interface{ Scan(...interface{}) error }) (*models.ProgramEvent, error) {
	var event models.ProgramEvent
	var dataJSON string
	var processedAt sql.NullTime

	err := row.Scan(&event.ID, &event.Signature, &event.Slot, &event.LogIndex,
		&event.Program, &event.EventName, &dataJSON, &event.BlockTime,
		&event.ReceivedAt, &event.Processed, &processedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(dataJSON), &event.Data); err != nil {
		return nil, err
	}

	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}

	return &event, nil
}

// GetEvent retrieves a single event by ID
func (s *SQLiteStorage) GetEvent(ctx context.Context, id string) (*models.ProgramEvent, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE id = ?"

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event", err.Error())
	}

	return event, nil
}

func buildEventFilter(filter models.EventFilter) (string, []interface{}) {
	clause := ""
	args := []interface{}{}
	argIndex := 1

	if filter.Signature != nil {
		clause += fmt.Sprintf(" AND signature = $%d", argIndex)
		args = append(args, *filter.Signature)
		argIndex++
	}

	if filter.EventName != nil {
		clause += fmt.Sprintf(" AND event_name = $%d", argIndex)
		args = append(args, *filter.EventName)
		argIndex++
	}

	if filter.Program != nil {
		clause += fmt.Sprintf(" AND program = $%d", argIndex)
		args = append(args, *filter.Program)
		argIndex++
	}

	if filter.FromSlot != nil {
		clause += fmt.Sprintf(" AND slot >= $%d", argIndex)
		args = append(args, *filter.FromSlot)
		argIndex++
	}

	if filter.ToSlot != nil {
		clause += fmt.Sprintf(" AND slot <= $%d", argIndex)
		args = append(args, *filter.ToSlot)
		argIndex++
	}

	if filter.Processed != nil {
		clause += fmt.Sprintf(" AND processed = $%d", argIndex)
		args = append(args, *filter.Processed)
		argIndex++
	}

	return clause, args
}

// toSQLitePlaceholders converts numbered parameters to ? for SQLite
func toSQLitePlaceholders(query string, argCount int) string {
	for i := argCount; i >= 1; i-- {
		query = strings.Replace(query, fmt.Sprintf("$%d", i), "?", 1)
	}
	return query
}

// GetEvents retrieves events based on filter
func (s *SQLiteStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.ProgramEvent, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE 1=1"
	clause, args := buildEventFilter(filter)
	query += clause
	argIndex := len(args) + 1

	query += " ORDER BY slot DESC, log_index ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
		argIndex++
	}

	query = toSQLitePlaceholders(query, argIndex-1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query events", err.Error())
	}
	defer rows.Close()

	var events []*models.ProgramEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan event", err.Error())
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// GetEventCount returns the count of events matching filter
func (s *SQLiteStorage) GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM events WHERE 1=1"
	clause, args := buildEventFilter(filter)
	query += clause
	query = toSQLitePlaceholders(query, len(args))

	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}

	return count, nil
}

// MarkEventProcessed marks an event as processed
func (s *SQLiteStorage) MarkEventProcessed(ctx context.Context, id string, processedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE events SET processed = TRUE, processed_at = ? WHERE id = ?", processedAt, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark event processed", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}

	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Event not found", id)
	}

	return nil
}

// DeleteEvent deletes an event by ID
func (s *SQLiteStorage) DeleteEvent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete event", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}

	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Event not found", id)
	}

	return nil
}

// InsertRewardTransaction inserts a reward ledger row. Returns false when a
// row with the same event identity already exists, so webhook re-delivery is
// a no-op.
func (s *SQLiteStorage) InsertRewardTransaction(ctx context.Context, tx *models.RewardTransaction) (bool, error) {
	query := `
		INSERT OR IGNORE INTO reward_transactions
		(id, signature, slot, log_index, event_name, tx_type, source_wallet, dest_wallet,
		 asset, amount_lamports, fee_lamports, points, rarity, memo, block_time, mirrored, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.Signature, tx.Slot, tx.LogIndex, tx.EventName, tx.TxType,
		tx.SourceWallet, tx.DestWallet, tx.Asset, tx.AmountLamports, tx.FeeLamports,
		tx.Points, tx.Rarity, tx.Memo, tx.BlockTime, tx.Mirrored, tx.CreatedAt)

	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert reward transaction", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}

	return rowsAffected > 0, nil
}

const rewardColumns = `id, signature, slot, log_index, event_name, tx_type, source_wallet, dest_wallet,
       asset, amount_lamports, fee_lamports, points, rarity, memo, block_time, mirrored, created_at`

func scanReward(row interface{ Scan(...interface{}) error }) (*models.RewardTransaction, error) {
	var tx models.RewardTransaction
	var asset, rarity, memo sql.NullString

	err := row.Scan(&tx.ID, &tx.Signature, &tx.Slot, &tx.LogIndex, &tx.EventName,
		&tx.TxType, &tx.SourceWallet, &tx.DestWallet, &asset, &tx.AmountLamports,
		&tx.FeeLamports, &tx.Points, &rarity, &memo, &tx.BlockTime, &tx.Mirrored,
		&tx.CreatedAt)
	if err != nil {
		return nil, err
	}

	if asset.Valid {
		tx.Asset = &asset.String
	}
	if rarity.Valid {
		tx.Rarity = &rarity.String
	}
	if memo.Valid {
		tx.Memo = &memo.String
	}

	return &tx, nil
}

// GetRewardTransaction retrieves a single reward row by ID
func (s *SQLiteStorage) GetRewardTransaction(ctx context.Context, id string) (*models.RewardTransaction, error) {
	query := "SELECT " + rewardColumns + " FROM reward_transactions WHERE id = ?"

	tx, err := scanReward(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get reward transaction", err.Error())
	}

	return tx, nil
}

func buildRewardFilter(filter models.RewardFilter) (string, []interface{}) {
	clause := ""
	args := []interface{}{}
	argIndex := 1

	if filter.Wallet != nil {
		clause += fmt.Sprintf(" AND (source_wallet = $%d OR dest_wallet = $%d)", argIndex, argIndex+1)
		args = append(args, *filter.Wallet, *filter.Wallet)
		argIndex += 2
	}

	if filter.TxType != nil {
		clause += fmt.Sprintf(" AND tx_type = $%d", argIndex)
		args = append(args, *filter.TxType)
		argIndex++
	}

	if filter.Asset != nil {
		clause += fmt.Sprintf(" AND asset = $%d", argIndex)
		args = append(args, *filter.Asset)
		argIndex++
	}

	if filter.Signature != nil {
		clause += fmt.Sprintf(" AND signature = $%d", argIndex)
		args = append(args, *filter.Signature)
		argIndex++
	}

	if filter.MinAmount != nil {
		clause += fmt.Sprintf(" AND amount_lamports >= $%d", argIndex)
		args = append(args, *filter.MinAmount)
		argIndex++
	}

	if filter.FromTime != nil {
		clause += fmt.Sprintf(" AND block_time >= $%d", argIndex)
		args = append(args, *filter.FromTime)
		argIndex++
	}

	if filter.ToTime != nil {
		clause += fmt.Sprintf(" AND block_time <= $%d", argIndex)
		args = append(args, *filter.ToTime)
		argIndex++
	}

	return clause, args
}

// GetRewardTransactions retrieves reward rows based on filter
func (s *SQLiteStorage) GetRewardTransactions(ctx context.Context, filter models.RewardFilter) ([]*models.RewardTransaction, error) {
	query := "SELECT " + rewardColumns + " FROM reward_transactions WHERE 1=1"
	clause, args := buildRewardFilter(filter)
	query += clause
	argIndex := len(args) + 1

	query += " ORDER BY block_time DESC, log_index ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
		argIndex++
	}

	query = toSQLitePlaceholders(query, argIndex-1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query reward transactions", err.Error())
	}
	defer rows.Close()

	var txs []*models.RewardTransaction
	for rows.Next() {
		tx, err := scanReward(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan reward transaction", err.Error())
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// GetRewardCount returns the count of reward rows matching filter
func (s *SQLiteStorage) GetRewardCount(ctx context.Context, filter models.RewardFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM reward_transactions WHERE 1=1"
	clause, args := buildRewardFilter(filter)
	query += clause
	query = toSQLitePlaceholders(query, len(args))

	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count reward transactions", err.Error())
	}

	return count, nil
}

// GetLastProcessedSlot returns the highest slot seen by the ingest pipeline
func (s *SQLiteStorage) GetLastProcessedSlot() (uint64, error) {
	var slot uint64
	err := s.db.QueryRow("SELECT value FROM system_state WHERE key = 'last_processed_slot'").Scan(&slot)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get last processed slot", err.Error())
	}
	return slot, nil
}

// SetLastProcessedSlot advances the last processed slot. Lower values are
// ignored so out-of-order batches cannot move the high-water mark backwards.
func (s *SQLiteStorage) SetLastProcessedSlot(slot uint64) error {
	_, err := s.db.Exec(
		"UPDATE system_state SET value = ?, updated_at = ? WHERE key = 'last_processed_slot' AND CAST(value AS INTEGER) < ?",
		fmt.Sprintf("%d", slot), time.Now(), slot)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set last processed slot", err.Error())
	}
	return nil
}
