package storage

import (
	"time"
)

// Migration represents a database migration
type Migration struct {
	ID          int       `db:"id"`
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
	Checksum    string    `db:"checksum"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					signature TEXT NOT NULL,
					slot INTEGER NOT NULL,
					log_index INTEGER NOT NULL,
					program TEXT NOT NULL,
					event_name TEXT NOT NULL,
					data TEXT NOT NULL, -- JSON
					block_time DATETIME NOT NULL,
					received_at DATETIME NOT NULL,
					processed BOOLEAN DEFAULT FALSE,
					processed_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_events_signature ON events(signature);
				CREATE INDEX IF NOT EXISTS idx_events_slot ON events(slot);
				CREATE INDEX IF NOT EXISTS idx_events_event_name ON events(event_name);
				CREATE INDEX IF NOT EXISTS idx_events_block_time ON events(block_time);
				CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_events_unique ON events(signature, log_index);
			`,
		},
		{
			Version:     "002",
			Description: "Create reward_transactions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS reward_transactions (
					id TEXT PRIMARY KEY,
					signature TEXT NOT NULL,
					slot INTEGER NOT NULL,
					log_index INTEGER NOT NULL,
					event_name TEXT NOT NULL,
					tx_type TEXT NOT NULL,
					source_wallet TEXT NOT NULL DEFAULT '',
					dest_wallet TEXT NOT NULL,
					asset TEXT,
					amount_lamports INTEGER NOT NULL DEFAULT 0,
					fee_lamports INTEGER NOT NULL DEFAULT 0,
					points INTEGER NOT NULL DEFAULT 0,
					rarity TEXT,
					memo TEXT,
					block_time DATETIME NOT NULL,
					mirrored BOOLEAN DEFAULT FALSE,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_rewards_unique ON reward_transactions(signature, log_index);
				CREATE INDEX IF NOT EXISTS idx_rewards_source ON reward_transactions(source_wallet);
				CREATE INDEX IF NOT EXISTS idx_rewards_dest ON reward_transactions(dest_wallet);
				CREATE INDEX IF NOT EXISTS idx_rewards_tx_type ON reward_transactions(tx_type);
				CREATE INDEX IF NOT EXISTS idx_rewards_block_time ON reward_transactions(block_time);
				CREATE INDEX IF NOT EXISTS idx_rewards_mirrored ON reward_transactions(mirrored);
			`,
		},
		{
			Version:     "003",
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id TEXT PRIMARY KEY,
					subscriber TEXT NOT NULL,
					creator TEXT NOT NULL,
					tier INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL DEFAULT 'active',
					auto_renew BOOLEAN DEFAULT FALSE,
					started_at DATETIME NOT NULL,
					expires_at DATETIME NOT NULL,
					last_signature TEXT NOT NULL DEFAULT '',
					last_amount INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_pair ON subscriptions(subscriber, creator);
				CREATE INDEX IF NOT EXISTS idx_subscriptions_creator ON subscriptions(creator);
				CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);
				CREATE INDEX IF NOT EXISTS idx_subscriptions_expires_at ON subscriptions(expires_at);
			`,
		},
		{
			Version:     "004",
			Description: "Create notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					event_id TEXT NOT NULL,
					title TEXT NOT NULL,
					message TEXT NOT NULL,
					data TEXT, -- JSON
					target TEXT NOT NULL,
					status TEXT DEFAULT 'pending',
					attempts INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					sent_at DATETIME,
					error TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status);
				CREATE INDEX IF NOT EXISTS idx_notifications_type ON notifications(type);
				CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at);
			`,
		},
		{
			Version:     "005",
			Description: "Create system_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS system_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				-- Insert default last processed slot
				INSERT OR IGNORE INTO system_state (key, value) VALUES ('last_processed_slot', '0');
			`,
		},
		{
			Version:     "006",
			Description: "Create migrations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS migrations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					version TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL,
					checksum TEXT NOT NULL,
					applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					signature TEXT NOT NULL,
					slot BIGINT NOT NULL,
					log_index INTEGER NOT NULL,
					program TEXT NOT NULL,
					event_name TEXT NOT NULL,
					data JSONB NOT NULL,
					block_time TIMESTAMP WITH TIME ZONE NOT NULL,
					received_at TIMESTAMP WITH TIME ZONE NOT NULL,
					processed BOOLEAN DEFAULT FALSE,
					processed_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_events_signature ON events(signature);
				CREATE INDEX IF NOT EXISTS idx_events_slot ON events(slot);
				CREATE INDEX IF NOT EXISTS idx_events_event_name ON events(event_name);
				CREATE INDEX IF NOT EXISTS idx_events_block_time ON events(block_time);
				CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_events_unique ON events(signature, log_index);
				CREATE INDEX IF NOT EXISTS idx_events_data_gin ON events USING GIN(data);
			`,
		},
		{
			Version:     "002",
			Description: "Create reward_transactions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS reward_transactions (
					id TEXT PRIMARY KEY,
					signature TEXT NOT NULL,
					slot BIGINT NOT NULL,
					log_index INTEGER NOT NULL,
					event_name TEXT NOT NULL,
					tx_type TEXT NOT NULL,
					source_wallet TEXT NOT NULL DEFAULT '',
					dest_wallet TEXT NOT NULL,
					asset TEXT,
					amount_lamports BIGINT NOT NULL DEFAULT 0,
					fee_lamports BIGINT NOT NULL DEFAULT 0,
					points BIGINT NOT NULL DEFAULT 0,
					rarity TEXT,
					memo TEXT,
					block_time TIMESTAMP WITH TIME ZONE NOT NULL,
					mirrored BOOLEAN DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_rewards_unique ON reward_transactions(signature, log_index);
				CREATE INDEX IF NOT EXISTS idx_rewards_source ON reward_transactions(source_wallet);
				CREATE INDEX IF NOT EXISTS idx_rewards_dest ON reward_transactions(dest_wallet);
				CREATE INDEX IF NOT EXISTS idx_rewards_tx_type ON reward_transactions(tx_type);
				CREATE INDEX IF NOT EXISTS idx_rewards_block_time ON reward_transactions(block_time);
				CREATE INDEX IF NOT EXISTS idx_rewards_mirrored ON reward_transactions(mirrored);
			`,
		},
		{
			Version:     "003",
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id TEXT PRIMARY KEY,
					subscriber TEXT NOT NULL,
					creator TEXT NOT NULL,
					tier SMALLINT NOT NULL DEFAULT 0,
					status TEXT NOT NULL DEFAULT 'active',
					auto_renew BOOLEAN DEFAULT FALSE,
					started_at TIMESTAMP WITH TIME ZONE NOT NULL,
					expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
					last_signature TEXT NOT NULL DEFAULT '',
					last_amount BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_pair ON subscriptions(subscriber, creator);
				CREATE INDEX IF NOT EXISTS idx_subscriptions_creator ON subscriptions(creator);
				CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);
				CREATE INDEX IF NOT EXISTS idx_subscriptions_expires_at ON subscriptions(expires_at);
			`,
		},
		{
			Version:     "004",
			Description: "Create notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					event_id TEXT NOT NULL,
					title TEXT NOT NULL,
					message TEXT NOT NULL,
					data JSONB,
					target TEXT NOT NULL,
					status TEXT DEFAULT 'pending',
					attempts INTEGER DEFAULT 0,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					sent_at TIMESTAMP WITH TIME ZONE,
					error TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status);
				CREATE INDEX IF NOT EXISTS idx_notifications_type ON notifications(type);
				CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at);
			`,
		},
		{
			Version:     "005",
			Description: "Create system_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS system_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				-- Insert default last processed slot
				INSERT INTO system_state (key, value) VALUES ('last_processed_slot', '0')
				ON CONFLICT (key) DO NOTHING;
			`,
		},
		{
			Version:     "006",
			Description: "Create migrations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS migrations (
					id SERIAL PRIMARY KEY,
					version TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL,
					checksum TEXT NOT NULL,
					applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);
			`,
		},
	}
}
