package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxConnections / 2)
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	p.logger.Info("Starting PostgreSQL database migrations")

	for _, migration := range p.migrations {
		p.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := p.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	p.logger.Info("PostgreSQL database migrations completed")
	return nil
}

// SaveEvent saves a single event
func (p *PostgreSQLStorage) SaveEvent(ctx context.Context, event *models.ProgramEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event data", err.Error())
	}

	query := `
		INSERT INTO events
		(id, signature, slot, log_index, program, event_name, data,
		 block_time, received_at, processed, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			signature = EXCLUDED.signature,
			slot = EXCLUDED.slot,
			log_index = EXCLUDED.log_index,
			program = EXCLUDED.program,
			event_name = EXCLUDED.event_name,
			data = EXCLUDED.data,
			block_time = EXCLUDED.block_time,
			received_at = EXCLUDED.received_at,
			processed = EXCLUDED.processed,
			processed_at = EXCLUDED.processed_at
	`

	_, err = p.db.ExecContext(ctx, query,
		event.ID, event.Signature, event.Slot, event.LogIndex, event.Program,
		event.EventName, string(dataJSON), event.BlockTime, event.ReceivedAt,
		event.Processed, event.ProcessedAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save event", err.Error())
	}

	return nil
}

// SaveEvents saves multiple events in a transaction. Existing rows with the
// same IDs are cleared first so the COPY never hits a unique violation on
// webhook re-delivery.
func (p *PostgreSQLStorage) SaveEvents(ctx context.Context, events []*models.ProgramEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	ids := make([]string, len(events))
	for i, event := range events {
		ids[i] = event.ID
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id = ANY($1)", pq.Array(ids)); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to clear existing events", err.Error())
	}

	// Use COPY for better performance with large batches
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("events",
		"id", "signature", "slot", "log_index", "program", "event_name", "data",
		"block_time", "received_at", "processed", "processed_at"))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to prepare COPY statement", err.Error())
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
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to add event to COPY", err.Error())
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to execute COPY", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	p.logger.WithField("count", len(events)).Debug("Saved events batch")
	return nil
}

// GetEvent retrieves a single event by ID
func (p *PostgreSQLStorage) GetEvent(ctx context.Context, id string) (*models.ProgramEvent, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE id = $1"

	event, err := scanEvent(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event", err.Error())
	}

	return event, nil
}

// GetEvents retrieves events based on filter
func (p *PostgreSQLStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.ProgramEvent, error) {
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

	rows, err := p.db.QueryContext(ctx, query, args...)
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
func (p *PostgreSQLStorage) GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM events WHERE 1=1"
	clause, args := buildEventFilter(filter)
	query += clause

	var count int64
	err := p.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}

	return count, nil
}

// MarkEventProcessed marks an event as processed
func (p *PostgreSQLStorage) MarkEventProcessed(ctx context.Context, id string, processedAt time.Time) error {
	result, err := p.db.ExecContext(ctx,
		"UPDATE events SET processed = TRUE, processed_at = $1 WHERE id = $2", processedAt, id)
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
func (p *PostgreSQLStorage) DeleteEvent(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, "DELETE FROM events WHERE id = $1", id)
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
// row with the same event identity already exists.
func (p *PostgreSQLStorage) InsertRewardTransaction(ctx context.Context, tx *models.RewardTransaction) (bool, error) {
	query := `
		INSERT INTO reward_transactions
		(id, signature, slot, log_index, event_name, tx_type, source_wallet, dest_wallet,
		 asset, amount_lamports, fee_lamports, points, rarity, memo, block_time, mirrored, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT DO NOTHING
	`

	result, err := p.db.ExecContext(ctx, query,
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

// GetRewardTransaction retrieves a single reward row by ID
func (p *PostgreSQLStorage) GetRewardTransaction(ctx context.Context, id string) (*models.RewardTransaction, error) {
	query := "SELECT " + rewardColumns + " FROM reward_transactions WHERE id = $1"

	tx, err := scanReward(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get reward transaction", err.Error())
	}

	return tx, nil
}

// GetRewardTransactions retrieves reward rows based on filter
func (p *PostgreSQLStorage) GetRewardTransactions(ctx context.Context, filter models.RewardFilter) ([]*models.RewardTransaction, error) {
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

	rows, err := p.db.QueryContext(ctx, query, args...)
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
func (p *PostgreSQLStorage) GetRewardCount(ctx context.Context, filter models.RewardFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM reward_transactions WHERE 1=1"
	clause, args := buildRewardFilter(filter)
	query += clause

	var count int64
	err := p.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count reward transactions", err.Error())
	}

	return count, nil
}

// GetRewardSummary aggregates reward activity for a wallet over a time window
func (p *PostgreSQLStorage) GetRewardSummary(ctx context.Context, wallet string, from, to time.Time) (*models.RewardSummary, error) {
	summary := &models.RewardSummary{
		Wallet:      wallet,
		WindowStart: from,
		WindowEnd:   to,
		ByType:      make(map[string]uint64),
	}

	var totalLamports, totalFees, totalPoints sql.NullInt64
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(amount_lamports), SUM(fee_lamports), SUM(points)
		FROM reward_transactions
		WHERE (source_wallet = $1 OR dest_wallet = $2) AND block_time BETWEEN $3 AND $4
	`, wallet, wallet, from, to).Scan(&summary.TxCount, &totalLamports, &totalFees, &totalPoints)

	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get reward summary totals", err.Error())
	}

	if totalLamports.Valid {
		summary.TotalLamports = uint64(totalLamports.Int64)
	}
	if totalFees.Valid {
		summary.TotalFees = uint64(totalFees.Int64)
	}
	if totalPoints.Valid {
		summary.TotalPoints = uint64(totalPoints.Int64)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT tx_type, SUM(amount_lamports)
		FROM reward_transactions
		WHERE (source_wallet = $1 OR dest_wallet = $2) AND block_time BETWEEN $3 AND $4
		GROUP BY tx_type
	`, wallet, wallet, from, to)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get reward summary by type", err.Error())
	}
	defer rows.Close()

	for rows.Next() {
		var txType string
		var lamports sql.NullInt64
		if err := rows.Scan(&txType, &lamports); err != nil {
			continue
		}
		if lamports.Valid {
			summary.ByType[txType] = uint64(lamports.Int64)
		}
	}

	return summary, rows.Err()
}

// MarkRewardMirrored marks a reward row as mirrored to the external store
func (p *PostgreSQLStorage) MarkRewardMirrored(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx,
		"UPDATE reward_transactions SET mirrored = TRUE WHERE id = $1", id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark reward mirrored", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}

	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Reward transaction not found", id)
	}

	return nil
}

// GetUnmirroredRewards retrieves reward rows not yet mirrored, oldest first
func (p *PostgreSQLStorage) GetUnmirroredRewards(ctx context.Context, limit int) ([]*models.RewardTransaction, error) {
	query := "SELECT " + rewardColumns + ` FROM reward_transactions
		WHERE mirrored = FALSE
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query unmirrored rewards", err.Error())
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

// UpsertSubscription inserts or updates a subscription keyed by
// (subscriber, creator). created_at is preserved on update.
func (p *PostgreSQLStorage) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions
		(id, subscriber, creator, tier, status, auto_renew, started_at, expires_at,
		 last_signature, last_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (subscriber, creator) DO UPDATE SET
			tier = EXCLUDED.tier,
			status = EXCLUDED.status,
			auto_renew = EXCLUDED.auto_renew,
			started_at = EXCLUDED.started_at,
			expires_at = EXCLUDED.expires_at,
			last_signature = EXCLUDED.last_signature,
			last_amount = EXCLUDED.last_amount,
			updated_at = EXCLUDED.updated_at
	`

	_, err := p.db.ExecContext(ctx, query,
		sub.ID, sub.Subscriber, sub.Creator, sub.Tier, sub.Status, sub.AutoRenew,
		sub.StartedAt, sub.ExpiresAt, sub.LastSignature, sub.LastAmount,
		sub.CreatedAt, sub.UpdatedAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert subscription", err.Error())
	}

	return nil
}

// GetSubscription retrieves a subscription by subscriber and creator wallets.
// Returns nil when no subscription exists.
func (p *PostgreSQLStorage) GetSubscription(ctx context.Context, subscriber, creator string) (*models.Subscription, error) {
	query := "SELECT " + subscriptionColumns + " FROM subscriptions WHERE subscriber = $1 AND creator = $2"

	sub, err := scanSubscription(p.db.QueryRowContext(ctx, query, subscriber, creator))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get subscription", err.Error())
	}

	return sub, nil
}

// GetSubscriptions retrieves subscriptions based on filter
func (p *PostgreSQLStorage) GetSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]*models.Subscription, error) {
	query := "SELECT " + subscriptionColumns + " FROM subscriptions WHERE 1=1"
	args := []interface{}{}
	argIndex := 1

	if filter.Subscriber != nil {
		query += fmt.Sprintf(" AND subscriber = $%d", argIndex)
		args = append(args, *filter.Subscriber)
		argIndex++
	}

	if filter.Creator != nil {
		query += fmt.Sprintf(" AND creator = $%d", argIndex)
		args = append(args, *filter.Creator)
		argIndex++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *filter.Status)
		argIndex++
	}

	if filter.ExpiringBefore != nil {
		query += fmt.Sprintf(" AND expires_at <= $%d", argIndex)
		args = append(args, *filter.ExpiringBefore)
		argIndex++
	}

	query += " ORDER BY updated_at DESC"

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

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query subscriptions", err.Error())
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan subscription", err.Error())
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// MarkExpiredSubscriptions flips non-expired subscriptions whose paid period
// ended before now to expired. Returns the number of rows changed.
func (p *PostgreSQLStorage) MarkExpiredSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = $1, updated_at = $2
		WHERE status != $3 AND expires_at <= $4
	`, models.SubscriptionExpired, now, models.SubscriptionExpired, now)

	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark expired subscriptions", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}

	return rowsAffected, nil
}

// GetLastProcessedSlot returns the highest slot seen by the ingest pipeline
func (p *PostgreSQLStorage) GetLastProcessedSlot() (uint64, error) {
	var slot uint64
	err := p.db.QueryRow("SELECT value::bigint FROM system_state WHERE key = 'last_processed_slot'").Scan(&slot)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get last processed slot", err.Error())
	}
	return slot, nil
}

// SetLastProcessedSlot advances the last processed slot. Lower values are
// ignored so out-of-order batches cannot move the high-water mark backwards.
func (p *PostgreSQLStorage) SetLastProcessedSlot(slot uint64) error {
	_, err := p.db.Exec(`
		UPDATE system_state SET value = $1, updated_at = $2
		WHERE key = 'last_processed_slot' AND value::bigint < $3
	`, fmt.Sprintf("%d", slot), time.Now(), slot)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set last processed slot", err.Error())
	}
	return nil
}

// SaveNotification saves a notification
func (p *PostgreSQLStorage) SaveNotification(ctx context.Context, notification *models.Notification) error {
	dataJSON, err := json.Marshal(notification.Data)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal notification data", err.Error())
	}

	query := `
		INSERT INTO notifications
		(id, type, event_id, title, message, data, target, status, attempts, created_at, sent_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			sent_at = EXCLUDED.sent_at,
			error = EXCLUDED.error
	`

	_, err = p.db.ExecContext(ctx, query,
		notification.ID, notification.Type, notification.EventID, notification.Title,
		notification.Message, string(dataJSON), notification.Target, notification.Status,
		notification.Attempts, notification.CreatedAt, notification.SentAt, notification.Error)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save notification", err.Error())
	}

	return nil
}

// GetPendingNotifications retrieves pending notifications
func (p *PostgreSQLStorage) GetPendingNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, type, event_id, title, message, data, target, status,
		       attempts, created_at, sent_at, error
		FROM notifications
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query pending notifications", err.Error())
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var notification models.Notification
		var dataJSON []byte
		var sentAt sql.NullTime
		var errorStr sql.NullString

		err := rows.Scan(&notification.ID, &notification.Type, &notification.EventID,
			&notification.Title, &notification.Message, &dataJSON, &notification.Target,
			&notification.Status, &notification.Attempts, &notification.CreatedAt,
			&sentAt, &errorStr)

		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan notification", err.Error())
		}

		if err := json.Unmarshal(dataJSON, &notification.Data); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to unmarshal notification data", err.Error())
		}

		if sentAt.Valid {
			notification.SentAt = &sentAt.Time
		}

		if errorStr.Valid {
			notification.Error = &errorStr.String
		}

		notifications = append(notifications, &notification)
	}

	return notifications, nil
}

// UpdateNotificationStatus updates notification status
func (p *PostgreSQLStorage) UpdateNotificationStatus(ctx context.Context, id string, status string, errorMsg *string) error {
	var sentAt *time.Time
	if status == "sent" {
		now := time.Now()
		sentAt = &now
	}

	query := `
		UPDATE notifications
		SET status = $1, sent_at = $2, error = $3, attempts = attempts + 1
		WHERE id = $4
	`

	result, err := p.db.ExecContext(ctx, query, status, sentAt, errorMsg, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update notification status", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}

	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Notification not found", id)
	}

	return nil
}

// GetStorageStats returns storage statistics
func (p *PostgreSQLStorage) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	err := p.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&stats.TotalEvents)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event count", err.Error())
	}

	err = p.db.QueryRow("SELECT COUNT(*) FROM reward_transactions").Scan(&stats.TotalRewards)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get reward count", err.Error())
	}

	err = p.db.QueryRow("SELECT COUNT(*) FROM subscriptions").Scan(&stats.TotalSubscriptions)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get subscription count", err.Error())
	}

	err = p.db.QueryRow("SELECT COUNT(*) FROM subscriptions WHERE status = $1",
		models.SubscriptionActive).Scan(&stats.ActiveSubscriptions)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get active subscription count", err.Error())
	}

	err = p.db.QueryRow("SELECT COUNT(*) FROM reward_transactions WHERE mirrored = FALSE").Scan(&stats.UnmirroredRewards)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get unmirrored reward count", err.Error())
	}

	err = p.db.QueryRow("SELECT COUNT(*) FROM notifications").Scan(&stats.TotalNotifications)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get notification count", err.Error())
	}

	var oldestEvent sql.NullTime
	err = p.db.QueryRow("SELECT MIN(block_time) FROM events").Scan(&oldestEvent)
	if err == nil && oldestEvent.Valid {
		stats.OldestEvent = &oldestEvent.Time
	}

	var latestEvent sql.NullTime
	err = p.db.QueryRow("SELECT MAX(block_time) FROM events").Scan(&latestEvent)
	if err == nil && latestEvent.Valid {
		stats.LatestEvent = &latestEvent.Time
	}

	stats.LastProcessedSlot, _ = p.GetLastProcessedSlot()

	err = p.db.QueryRow("SELECT pg_database_size(current_database())").Scan(&stats.DatabaseSize)
	if err != nil {
		stats.DatabaseSize = 0
	}

	return stats, nil
}

// GetEventStats returns event and reward statistics for a time period
func (p *PostgreSQLStorage) GetEventStats(ctx context.Context, fromTime, toTime time.Time) (*EventStats, error) {
	stats := &EventStats{
		TimeRange:      TimeRange{From: fromTime, To: toTime},
		EventsByName:   make(map[string]int64),
		RewardsByType:  make(map[string]int64),
		LamportsByType: make(map[string]uint64),
	}

	err := p.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE block_time BETWEEN $1 AND $2",
		fromTime, toTime).Scan(&stats.TotalEvents)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get total events", err.Error())
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT event_name, COUNT(*)
		FROM events
		WHERE block_time BETWEEN $1 AND $2
		GROUP BY event_name
	`, fromTime, toTime)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get events by name", err.Error())
	}
	defer rows.Close()

	for rows.Next() {
		var eventName string
		var count int64
		if err := rows.Scan(&eventName, &count); err != nil {
			continue
		}
		stats.EventsByName[eventName] = count
	}

	rows, err = p.db.QueryContext(ctx, `
		SELECT tx_type, COUNT(*), SUM(amount_lamports)
		FROM reward_transactions
		WHERE block_time BETWEEN $1 AND $2
		GROUP BY tx_type
	`, fromTime, toTime)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rewards by type", err.Error())
	}
	defer rows.Close()

	for rows.Next() {
		var txType string
		var count int64
		var lamports sql.NullInt64
		if err := rows.Scan(&txType, &count, &lamports); err != nil {
			continue
		}
		stats.RewardsByType[txType] = count
		if lamports.Valid {
			stats.LamportsByType[txType] = uint64(lamports.Int64)
		}
	}

	return stats, nil
}

// Cleanup removes old data based on retention policy. Reward and subscription
// rows are the ledger of record and are never removed.
func (p *PostgreSQLStorage) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	cutoffTime := time.Now().AddDate(0, 0, -retentionDays)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin cleanup transaction", err.Error())
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"DELETE FROM events WHERE processed = TRUE AND block_time < $1", cutoffTime)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to cleanup old events", err.Error())
	}

	eventsDeleted, _ := result.RowsAffected()

	result, err = tx.ExecContext(ctx, "DELETE FROM notifications WHERE created_at < $1", cutoffTime)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to cleanup old notifications", err.Error())
	}

	notificationsDeleted, _ := result.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO system_state (key, value, updated_at)
		VALUES ('last_cleanup', $1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, time.Now().Format(time.RFC3339), time.Now())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update last cleanup time", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit cleanup transaction", err.Error())
	}

	p.logger.WithFields(logrus.Fields{
		"events_deleted":        eventsDeleted,
		"notifications_deleted": notificationsDeleted,
		"retention_days":        retentionDays,
	}).Info("Database cleanup completed")

	return nil
}

// Vacuum optimizes the database
func (p *PostgreSQLStorage) Vacuum() error {
	p.logger.Info("Starting database vacuum")

	_, err := p.db.Exec("VACUUM ANALYZE")
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to vacuum database", err.Error())
	}

	p.logger.Info("Database vacuum completed")
	return nil
}
