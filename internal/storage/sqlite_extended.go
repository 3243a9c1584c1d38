package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// UpsertSubscription inserts or updates a subscription keyed by
// (subscriber, creator). created_at is preserved on update.
func (s *SQLiteStorage) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions
		(id, subscriber, creator, tier, status, auto_renew, started_at, expires_at,
		 last_signature, last_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subscriber, creator) DO UPDATE SET
			tier = excluded.tier,
			status = excluded.status,
			auto_renew = excluded.auto_renew,
			started_at = excluded.started_at,
			expires_at = excluded.expires_at,
			last_signature = excluded.last_signature,
			last_amount = excluded.last_amount,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		sub.ID, sub.Subscriber, sub.Creator, sub.Tier, sub.Status, sub.AutoRenew,
		sub.StartedAt, sub.ExpiresAt, sub.LastSignature, sub.LastAmount,
		sub.CreatedAt, sub.UpdatedAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert subscription", err.Error())
	}

	return nil
}

const subscriptionColumns = `id, subscriber, creator, tier, status, auto_renew, started_at, expires_at,
       last_signature, last_amount, created_at, updated_at`

func scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(&sub.ID, &sub.Subscriber, &sub.Creator, &sub.Tier, &sub.Status,
		&sub.AutoRenew, &sub.StartedAt, &sub.ExpiresAt, &sub.LastSignature,
		&sub.LastAmount, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscription retrieves a subscription by subscriber and creator wallets.
// Returns nil when no subscription exists.
func (s *SQLiteStorage) GetSubscription(ctx context.Context, subscriber, creator string) (*models.Subscription, error) {
	query := "SELECT " + subscriptionColumns + " FROM subscriptions WHERE subscriber = ? AND creator = ?"

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, subscriber, creator))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get subscription", err.Error())
	}

	return sub, nil
}

// GetSubscriptions retrieves subscriptions based on filter
func (s *SQLiteStorage) GetSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]*models.Subscription, error) {
	query := "SELECT " + subscriptionColumns + " FROM subscriptions WHERE 1=1"
	args := []interface{}{}

	if filter.Subscriber != nil {
		query += " AND subscriber = ?"
		args = append(args, *filter.Subscriber)
	}

	if filter.Creator != nil {
		query += " AND creator = ?"
		args = append(args, *filter.Creator)
	}

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, *filter.Status)
	}

	if filter.ExpiringBefore != nil {
		query += " AND expires_at <= ?"
		args = append(args, *filter.ExpiringBefore)
	}

	query += " ORDER BY updated_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLiteStorage) MarkExpiredSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = ?, updated_at = ?
		WHERE status != ? AND expires_at <= ?
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

// GetRewardSummary aggregates reward activity for a wallet over a time window.
// The wallet matches rows where it is either side of the transfer.
func (s *SQLiteStorage) GetRewardSummary(ctx context.Context, wallet string, from, to time.Time) (*models.RewardSummary, error) {
	summary := &models.RewardSummary{
		Wallet:      wallet,
		WindowStart: from,
		WindowEnd:   to,
		ByType:      make(map[string]uint64),
	}

	var totalLamports, totalFees, totalPoints sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(amount_lamports), SUM(fee_lamports), SUM(points)
		FROM reward_transactions
		WHERE (source_wallet = ? OR dest_wallet = ?) AND block_time BETWEEN ? AND ?
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

	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_type, SUM(amount_lamports)
		FROM reward_transactions
		WHERE (source_wallet = ? OR dest_wallet = ?) AND block_time BETWEEN ? AND ?
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
func (s *SQLiteStorage) MarkRewardMirrored(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE reward_transactions SET mirrored = TRUE WHERE id = ?", id)
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
func (s *SQLiteStorage) GetUnmirroredRewards(ctx context.Context, limit int) ([]*models.RewardTransaction, error) {
	query := "SELECT " + rewardColumns + ` FROM reward_transactions
		WHERE mirrored = FALSE
		ORDER BY created_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
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

// SaveNotification saves a notification
func (s *SQLiteStorage) SaveNotification(ctx context.Context, notification *models.Notification) error {
	dataJSON, err := json.Marshal(notification.Data)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal notification data", err.Error())
	}

	query := `
		INSERT OR REPLACE INTO notifications
		(id, type, event_id, title, message, data, target, status, attempts, created_at, sent_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		notification.ID, notification.Type, notification.EventID, notification.Title,
		notification.Message, string(dataJSON), notification.Target, notification.Status,
		notification.Attempts, notification.CreatedAt, notification.SentAt, notification.Error)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save notification", err.Error())
	}

	return nil
}

// GetPendingNotifications retrieves pending notifications
func (s *SQLiteStorage) GetPendingNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, type, event_id, title, message, data, target, status,
		       attempts, created_at, sent_at, error
		FROM notifications
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query pending notifications", err.Error())
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var notification models.Notification
		var dataJSON string
		var sentAt sql.NullTime
		var errorStr sql.NullString

		err := rows.Scan(&notification.ID, &notification.Type, &notification.EventID,
			&notification.Title, &notification.Message, &dataJSON, &notification.Target,
			&notification.Status, &notification.Attempts, &notification.CreatedAt,
			&sentAt, &errorStr)

		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan notification", err.Error())
		}

		if err := json.Unmarshal([]byte(dataJSON), &notification.Data); err != nil {
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
func (s *SQLiteStorage) UpdateNotificationStatus(ctx context.Context, id string, status string, errorMsg *string) error {
	var sentAt *time.Time
	if status == "sent" {
		now := time.Now()
		sentAt = &now
	}

	query := `
		UPDATE notifications
		SET status = ?, sent_at = ?, error = ?, attempts = attempts + 1
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, sentAt, errorMsg, id)
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
func (s *SQLiteStorage) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&stats.TotalEvents)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event count", err.Error())
	}

	err = s.db.QueryRow("SELECT COUNT(*) FROM reward_transactions").Scan(&stats.TotalRewards)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get reward count", err.Error())
	}

	err = s.db.QueryRow("SELECT COUNT(*) FROM subscriptions").Scan(&stats.TotalSubscriptions)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get subscription count", err.Error())
	}

	err = s.db.QueryRow("SELECT COUNT(*) FROM subscriptions WHERE status = ?",
		models.SubscriptionActive).Scan(&stats.ActiveSubscriptions)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get active subscription count", err.Error())
	}

	err = s.db.QueryRow("SELECT COUNT(*) FROM reward_transactions WHERE mirrored = FALSE").Scan(&stats.UnmirroredRewards)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get unmirrored reward count", err.Error())
	}

	err = s.db.QueryRow("SELECT COUNT(*) FROM notifications").Scan(&stats.TotalNotifications)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get notification count", err.Error())
	}

	var oldestEvent sql.NullTime
	err = s.db.QueryRow("SELECT MIN(block_time) FROM events").Scan(&oldestEvent)
	if err == nil && oldestEvent.Valid {
		stats.OldestEvent = &oldestEvent.Time
	}

	var latestEvent sql.NullTime
	err = s.db.QueryRow("SELECT MAX(block_time) FROM events").Scan(&latestEvent)
	if err == nil && latestEvent.Valid {
		stats.LatestEvent = &latestEvent.Time
	}

	stats.LastProcessedSlot, _ = s.GetLastProcessedSlot()

	// Database size (SQLite specific)
	err = s.db.QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&stats.DatabaseSize)
	if err != nil {
		stats.DatabaseSize = 0
	}

	return stats, nil
}

// GetEventStats returns event and reward statistics for a time period
func (s *SQLiteStorage) GetEventStats(ctx context.Context, fromTime, toTime time.Time) (*EventStats, error) {
	stats := &EventStats{
		TimeRange:      TimeRange{From: fromTime, To: toTime},
		EventsByName:   make(map[string]int64),
		RewardsByType:  make(map[string]int64),
		LamportsByType: make(map[string]uint64),
	}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE block_time BETWEEN ? AND ?",
		fromTime, toTime).Scan(&stats.TotalEvents)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get total events", err.Error())
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_name, COUNT(*)
		FROM events
		WHERE block_time BETWEEN ? AND ?
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

	rows, err = s.db.QueryContext(ctx, `
		SELECT tx_type, COUNT(*), SUM(amount_lamports)
		FROM reward_transactions
		WHERE block_time BETWEEN ? AND ?
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
func (s *SQLiteStorage) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	cutoffTime := time.Now().AddDate(0, 0, -retentionDays)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin cleanup transaction", err.Error())
	}
	defer tx.Rollback()

	// Delete old processed events
	result, err := tx.ExecContext(ctx,
		"DELETE FROM events WHERE processed = TRUE AND block_time < ?", cutoffTime)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to cleanup old events", err.Error())
	}

	eventsDeleted, _ := result.RowsAffected()

	// Delete old notifications
	result, err = tx.ExecContext(ctx, "DELETE FROM notifications WHERE created_at < ?", cutoffTime)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to cleanup old notifications", err.Error())
	}

	notificationsDeleted, _ := result.RowsAffected()

	// Update last cleanup time
	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO system_state (key, value, updated_at) VALUES ('last_cleanup', ?, ?)",
		time.Now().Format(time.RFC3339), time.Now())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update last cleanup time", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit cleanup transaction", err.Error())
	}

	s.logger.WithFields(logrus.Fields{
		"events_deleted":        eventsDeleted,
		"notifications_deleted": notificationsDeleted,
		"retention_days":        retentionDays,
	}).Info("Database cleanup completed")

	return nil
}

// Vacuum optimizes the database
func (s *SQLiteStorage) Vacuum() error {
	s.logger.Info("Starting database vacuum")

	_, err := s.db.Exec("VACUUM")
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to vacuum database", err.Error())
	}

	s.logger.Info("Database vacuum completed")
	return nil
}

// Additional helper methods
func (s *SQLiteStorage) GetUnprocessedEvents(ctx context.Context, limit int) ([]*models.ProgramEvent, error) {
	processed := false
	filter := models.EventFilter{
		Processed: &processed,
		Limit:     limit,
	}
	return s.GetEvents(ctx, filter)
}

func (s *SQLiteStorage) GetDatabaseInfo() (map[string]interface{}, error) {
	info := make(map[string]interface{})

	// SQLite version
	var version string
	s.db.QueryRow("SELECT sqlite_version()").Scan(&version)
	info["sqlite_version"] = version

	// Database file size
	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	info["file_size_bytes"] = pageCount * pageSize
	info["page_count"] = pageCount
	info["page_size"] = pageSize

	// Journal mode
	var journalMode string
	s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	info["journal_mode"] = journalMode

	// Foreign keys enabled
	var foreignKeys bool
	s.db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys)
	info["foreign_keys_enabled"] = foreignKeys

	return info, nil
}
