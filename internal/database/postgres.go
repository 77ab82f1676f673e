package database

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"
)

var PostgresDB *sql.DB

// ConnectPostgres connects to PostgreSQL database
func ConnectPostgres(postgresURI string) error {
	var err error

	PostgresDB, err = sql.Open("postgres", postgresURI)
	if err != nil {
		return err
	}

	// Set connection pool settings
	PostgresDB.SetMaxOpenConns(25)
	PostgresDB.SetMaxIdleConns(5)
	PostgresDB.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err = PostgresDB.Ping(); err != nil {
		return err
	}

	log.Println("✅ Connected to PostgreSQL")

	// Initialize tables
	if err = InitPostgresTables(); err != nil {
		return err
	}

	return nil
}

// InitPostgresTables creates all necessary tables if they don't exist
func InitPostgresTables() error {
	queries := []string{
		// Subscription users table (two-level hierarchy: admin -> sub-user)
		`CREATE TABLE IF NOT EXISTS sub_users (
			id UUID PRIMARY KEY,
			username VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			name VARCHAR(255),
			role VARCHAR(20) NOT NULL DEFAULT 'user',
			parent_id UUID DEFAULT NULL,
			subscription_token VARCHAR(255),
			expires_at TIMESTAMP,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			traffic_limit BIGINT NOT NULL DEFAULT 536870912000,
			traffic_used BIGINT NOT NULL DEFAULT 0,
			traffic_reset_at TIMESTAMP,
			last_login_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,

		// Subscription tokens table. Status, expiry, consumption and access
		// caps are independent columns, not one conflated state enum.
		`CREATE TABLE IF NOT EXISTS sub_tokens (
			id VARCHAR(16) PRIMARY KEY,
			token VARCHAR(255) NOT NULL UNIQUE,
			name VARCHAR(255),
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			expires_at TIMESTAMP,
			max_access INTEGER NOT NULL DEFAULT 0,
			access_count INTEGER NOT NULL DEFAULT 0,
			one_time_use BOOLEAN NOT NULL DEFAULT FALSE,
			is_consumed BOOLEAN NOT NULL DEFAULT FALSE,
			allowed_ips JSONB NOT NULL DEFAULT '[]',
			enabled_nodes JSONB NOT NULL DEFAULT '[]',
			created_by VARCHAR(255),
			user_id UUID DEFAULT NULL,
			last_access_at TIMESTAMP,
			last_access_ip VARCHAR(100),
			last_user_agent TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,

		// Per-day usage rows. user_id is VARCHAR, not a foreign key, because
		// ownerless tokens report under a synthetic "token_<id>" identity.
		`CREATE TABLE IF NOT EXISTS sub_user_stats (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(80) NOT NULL,
			date DATE NOT NULL,
			access_count BIGINT NOT NULL DEFAULT 0,
			download_bytes BIGINT NOT NULL DEFAULT 0,
			upload_bytes BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, date)
		)`,

		// Create indexes for better performance
		`CREATE INDEX IF NOT EXISTS idx_sub_users_username ON sub_users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_users_parent_id ON sub_users(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_users_role ON sub_users(role)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_users_subscription_token ON sub_users(subscription_token)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_tokens_token ON sub_tokens(token)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_tokens_status ON sub_tokens(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_tokens_user_id ON sub_tokens(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_tokens_expires_at ON sub_tokens(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_user_stats_user_id ON sub_user_stats(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sub_user_stats_date ON sub_user_stats(date)`,
	}

	for _, query := range queries {
		if _, err := PostgresDB.Exec(query); err != nil {
			return err
		}
	}

	log.Println("✅ PostgreSQL tables initialized")
	return nil
}

// DisconnectPostgres closes the PostgreSQL connection
func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
